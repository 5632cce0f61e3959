// Package editor holds the property editing session for the focused entity. The form view
// and the JSON text view are both projections of one canonical value; edits flow upstream
// through a single commit callback.
package editor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/msageha/psstudio/internal/debounce"
	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/model"
)

// MetaPrefix marks bookkeeping keys that are never shown in the editor.
const MetaPrefix = "__meta_data"

type Mode string

const (
	ModeForm Mode = "form"
	ModeJSON Mode = "json"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeForm:
		return ModeForm, nil
	case ModeJSON:
		return ModeJSON, nil
	}
	return "", model.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown editor mode %q", s)}
}

type CommitKind string

const (
	CommitImmediate CommitKind = "immediate"
	CommitDebounced CommitKind = "debounced"
	CommitJSON      CommitKind = "json"
	CommitReset     CommitKind = "reset"
)

// CommitFunc receives the entire value mapping of the edited entity. It runs while the
// engine lock is held and must not call back into the Engine.
type CommitFunc func(key model.EntityKey, values model.Values) error

type Options struct {
	// Debounce is the quiescence window for task edits.
	Debounce time.Duration
	Logger   *logging.Logger
	// Observe is notified after every commit attempt.
	Observe func(kind CommitKind, err error)
}

type session struct {
	key       model.EntityKey
	isTask    bool
	identity  model.Values
	original  model.Values
	form      model.Values
	pending   model.Values
	jsonText  string
	jsonError string
	commitErr string
}

// Engine owns at most one EditSession at a time.
type Engine struct {
	mu       sync.Mutex
	commit   CommitFunc
	deferred *debounce.Deferred
	log      *logging.Logger
	observe  func(CommitKind, error)
	mode     Mode
	session  *session
}

func New(commit CommitFunc, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Engine{
		commit:   commit,
		deferred: debounce.New(opts.Debounce),
		log:      opts.Logger,
		observe:  opts.Observe,
		mode:     ModeForm,
	}
}

// Focus starts a new session for entity, discarding the previous one and any commit it
// still had pending. A nil entity leaves the engine idle.
func (e *Engine) Focus(entity *model.Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deferred.Cancel() && e.session != nil {
		e.log.Debug("discarded pending commit key=%s", e.session.key)
	}
	if entity == nil {
		e.session = nil
		return
	}

	values := visible(entity.Properties)
	identity := model.Values{}
	for _, f := range entity.Type.IdentityFields() {
		if v, ok := values[f]; ok {
			identity[f] = model.CloneValue(v)
		}
	}
	e.session = &session{
		key:      entity.Key(),
		isTask:   entity.Type == model.EntityTask,
		identity: identity,
		original: values.Clone(),
		form:     values.Clone(),
		pending:  values,
		jsonText: render(values),
	}
}

// SetFormField sets one top-level field. The fields the entity is keyed by are read-only.
func (e *Engine) SetFormField(key string, value any) error {
	if key == "" {
		return model.ValidationError{Field: "key", Message: "field name is required"}
	}
	return e.edit(key, func(pending model.Values) {
		pending[key] = value
	})
}

// SetNestedField sets parent.child, creating the parent mapping when absent.
func (e *Engine) SetNestedField(parent, child string, value any) error {
	if parent == "" || child == "" {
		return model.ValidationError{Field: "key", Message: "parent and child field names are required"}
	}
	return e.edit(parent, func(pending model.Values) {
		nested, ok := pending.Map(parent)
		if ok {
			nested = nested.Clone()
		} else {
			nested = model.Values{}
		}
		nested[child] = value
		pending[parent] = nested
	})
}

func (e *Engine) edit(field string, apply func(model.Values)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.active()
	if err != nil {
		return err
	}
	if slices.Contains(s.key.Type.IdentityFields(), field) {
		return model.ValidationError{Field: field, Message: fmt.Sprintf("%s identifies the %s and cannot be edited", field, s.key.Type)}
	}
	next := s.pending.Clone()
	if next == nil {
		next = model.Values{}
	}
	apply(next)
	s.pending = next
	s.jsonText = render(next)
	s.jsonError = ""

	if s.isTask {
		e.deferred.Schedule(e.fire)
		return nil
	}
	return e.commitLocked(s, next, CommitImmediate)
}

// fire runs on the debounce timer goroutine.
func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.deferred.Claim(gen) || e.session == nil {
		return
	}
	_ = e.commitLocked(e.session, e.session.pending, CommitDebounced)
}

// SetJSONText replaces the displayed text. Valid JSON objects are committed at once; any
// other text is kept for correction and reported through JSONError.
func (e *Engine) SetJSONText(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.active()
	if err != nil {
		return err
	}
	s.jsonText = text

	values, perr := parseObject(text)
	if perr != nil {
		s.jsonError = perr.Error()
		return model.ValidationError{Field: "json", Message: s.jsonError}
	}
	s.jsonError = ""
	e.deferred.Cancel()
	if pinned := s.pin(values); !sameValues(pinned, values) {
		// Identity edits are undone in the text as well.
		values = pinned
		s.jsonText = render(values)
	}
	s.pending = values
	return e.commitLocked(s, values, CommitJSON)
}

// SetMode switches between form and JSON views. The text is re-rendered from the current
// values, dropping any unparsed text.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mode = mode
	if e.session != nil {
		e.session.jsonText = render(e.session.pending)
		e.session.jsonError = ""
	}
}

// Reset restores the values captured when the session was focused and commits them.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.active()
	if err != nil {
		return err
	}
	e.deferred.Cancel()
	s.pending = s.original.Clone()
	s.jsonText = render(s.pending)
	s.jsonError = ""
	return e.commitLocked(s, s.pending, CommitReset)
}

// Flush commits a pending debounced edit immediately. It is a no-op when nothing is pending.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.deferred.Cancel() || e.session == nil {
		return nil
	}
	return e.commitLocked(e.session, e.session.pending, CommitDebounced)
}

// Close drops the session without committing.
func (e *Engine) Close() {
	e.Focus(nil)
}

// pin restores the session's identity fields in values.
func (s *session) pin(values model.Values) model.Values {
	return model.PinIdentity(s.key.Type, s.identity, values)
}

func (e *Engine) active() (*session, error) {
	if e.session == nil {
		return nil, &model.PreconditionError{Message: "no entity is focused"}
	}
	return e.session, nil
}

func (e *Engine) commitLocked(s *session, values model.Values, kind CommitKind) error {
	err := e.commit(s.key, values.Clone())
	if e.observe != nil {
		e.observe(kind, err)
	}
	if err != nil {
		s.commitErr = err.Error()
		e.log.Warn("commit failed key=%s kind=%s err=%v", s.key, kind, err)
		return fmt.Errorf("commit %s: %w", s.key, err)
	}
	s.form = values.Clone()
	s.commitErr = ""
	e.log.Debug("committed key=%s kind=%s", s.key, kind)
	return nil
}

// Snapshot is a read-only copy of the editor state.
type Snapshot struct {
	Active            bool            `json:"active"`
	Key               model.EntityKey `json:"key"`
	Mode              Mode            `json:"mode"`
	FormValues        model.Values    `json:"form_values"`
	PendingFormValues model.Values    `json:"pending_form_values"`
	JSONText          string          `json:"json_text"`
	JSONError         string          `json:"json_error,omitempty"`
	CommitPending     bool            `json:"commit_pending"`
	HasUnsavedChanges bool            `json:"has_unsaved_changes"`
	CommitError       string          `json:"commit_error,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Mode: e.mode}
	s := e.session
	if s == nil {
		return snap
	}
	snap.Active = true
	snap.Key = s.key
	snap.FormValues = s.form.Clone()
	snap.PendingFormValues = s.pending.Clone()
	snap.JSONText = s.jsonText
	snap.JSONError = s.jsonError
	snap.CommitPending = e.deferred.Pending()
	snap.HasUnsavedChanges = !sameValues(s.pending, s.form)
	snap.CommitError = s.commitErr
	return snap
}

// visible copies props without the bookkeeping keys.
func visible(props model.Values) model.Values {
	out := model.Values{}
	for k, v := range props {
		if strings.HasPrefix(k, MetaPrefix) {
			continue
		}
		out[k] = model.CloneValue(v)
	}
	return out
}

func render(v model.Values) string {
	if v == nil {
		v = model.Values{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func parseObject(text string) (model.Values, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value must be a JSON object")
	}
	return model.NormalizeValues(model.Values(obj)), nil
}

func sameValues(a, b model.Values) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}
