// Package overrides keeps the two-tier configuration: the baseline last fetched from the
// server and the user's local overrides on top of it.
package overrides

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/model"
	yamlutil "github.com/msageha/psstudio/internal/yaml"
)

type Options struct {
	// Path persists overrides; empty keeps them in memory only.
	Path string
	// WorkspaceDir receives quarantined override files.
	WorkspaceDir string
	Logger       *logging.Logger
	// Observe receives the override count after every change.
	Observe func(count int)
}

type document struct {
	yamlutil.SchemaHeader `yaml:",inline"`
	Overrides             map[string]any `yaml:"overrides"`
}

// Manager is safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	server      model.Values
	overrides   map[string]any
	editing     string
	editErr     string
	refreshedAt time.Time

	opts Options
	log  *logging.Logger
	now  func() time.Time
}

// Open creates a Manager and loads persisted overrides. A corrupt file is quarantined and
// the manager starts without overrides.
func Open(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	m := &Manager{
		server:    model.Values{},
		overrides: map[string]any{},
		opts:      opts,
		log:       opts.Logger,
		now:       time.Now,
	}
	if opts.Path == "" {
		return m, nil
	}

	var doc document
	_, err := yamlutil.ReadDocument(opts.Path, yamlutil.FileTypeConfigOverrides, &doc)
	var corrupt *yamlutil.CorruptError
	switch {
	case err == nil:
		for k, v := range doc.Overrides {
			m.overrides[k] = model.Normalize(v)
		}
	case errors.Is(err, os.ErrNotExist):
	case errors.As(err, &corrupt):
		dir := opts.WorkspaceDir
		if dir == "" {
			dir = filepath.Dir(opts.Path)
		}
		dst, qerr := yamlutil.Quarantine(dir, opts.Path)
		if qerr != nil {
			return nil, fmt.Errorf("quarantine overrides: %w", qerr)
		}
		m.log.Warn("quarantined corrupt overrides file=%s dst=%s err=%v", opts.Path, dst, corrupt.Err)
	default:
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	m.notify()
	return m, nil
}

// LoadFromServer replaces the baseline wholesale. Local overrides are kept.
func (m *Manager) LoadFromServer(values model.Values) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.server = model.NormalizeValues(values.Clone())
	if m.server == nil {
		m.server = model.Values{}
	}
	m.refreshedAt = m.now()
	m.log.Info("server config loaded keys=%d overrides=%d", len(Flatten(m.server)), len(m.overrides))
}

// BeginEdit puts key into edit mode. Only one key may be edited at a time.
func (m *Manager) BeginEdit(key string) error {
	if key == "" {
		return model.ValidationError{Field: "key", Message: "config key is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.editing != "" && m.editing != key {
		return fmt.Errorf("%w: %s", model.ErrEditInProgress, m.editing)
	}
	m.editing = key
	m.editErr = ""
	return nil
}

func (m *Manager) CancelEdit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editing = ""
	m.editErr = ""
}

// SetOverride parses rawText and stores it for key. A key other than the one in edit mode
// is rejected; malformed JSON keeps the key in edit mode with the parse error recorded.
func (m *Manager) SetOverride(key, rawText string) error {
	if key == "" {
		return model.ValidationError{Field: "key", Message: "config key is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.editing != "" && m.editing != key {
		return fmt.Errorf("%w: %s", model.ErrEditInProgress, m.editing)
	}
	value, err := ParseValue(rawText)
	if err != nil {
		m.editing = key
		m.editErr = err.Error()
		return model.ValidationError{Field: key, Message: err.Error()}
	}

	prev, had := m.overrides[key]
	m.overrides[key] = value
	if err := m.persistLocked(); err != nil {
		if had {
			m.overrides[key] = prev
		} else {
			delete(m.overrides, key)
		}
		return err
	}
	m.editing = ""
	m.editErr = ""
	m.notify()
	return nil
}

func (m *Manager) ResetKeyToServer(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.overrides[key]
	if !had {
		return nil
	}
	delete(m.overrides, key)
	if err := m.persistLocked(); err != nil {
		m.overrides[key] = prev
		return err
	}
	m.notify()
	return nil
}

func (m *Manager) ResetAllToServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked()
}

// ClearLocal drops every override. It is irreversible, so the caller passes the user's
// confirmation explicitly.
func (m *Manager) ClearLocal(confirmed bool) error {
	if !confirmed {
		return model.ErrConfirmationRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.editing = ""
	m.editErr = ""
	return m.clearLocked()
}

func (m *Manager) clearLocked() error {
	prev := m.overrides
	m.overrides = map[string]any{}
	if err := m.persistLocked(); err != nil {
		m.overrides = prev
		return err
	}
	m.notify()
	return nil
}

// EffectiveValue returns the override for key if present, else the server value. Dotted
// keys address nested server values.
func (m *Manager) EffectiveValue(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.overrides[key]; ok {
		return model.CloneValue(v), true
	}
	v, ok := lookup(m.server, key)
	return model.CloneValue(v), ok
}

func (m *Manager) ServerValue(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := lookup(m.server, key)
	return model.CloneValue(v), ok
}

// ForSubmission is the effective configuration sent with a solve request.
func (m *Manager) ForSubmission() model.Values {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.server.Clone()
	if out == nil {
		out = model.Values{}
	}
	for _, key := range sortedKeys(m.overrides) {
		assign(out, key, model.CloneValue(m.overrides[key]))
	}
	return out
}

// Effective lists every effective value by flattened key.
func (m *Manager) Effective() map[string]any {
	return Flatten(m.ForSubmission())
}

type Status struct {
	HasLocalChanges bool      `json:"has_local_changes"`
	OverriddenKeys  []string  `json:"overridden_keys"`
	DivergentKeys   []string  `json:"divergent_keys"`
	ServerKeys      int       `json:"server_keys"`
	LastRefresh     time.Time `json:"last_refresh,omitempty"`
	Editing         string    `json:"editing,omitempty"`
	EditError       string    `json:"edit_error,omitempty"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		HasLocalChanges: len(m.overrides) > 0,
		OverriddenKeys:  sortedKeys(m.overrides),
		DivergentKeys:   []string{},
		ServerKeys:      len(Flatten(m.server)),
		LastRefresh:     m.refreshedAt,
		Editing:         m.editing,
		EditError:       m.editErr,
	}
	for _, k := range st.OverriddenKeys {
		sv, ok := lookup(m.server, k)
		if !ok || !sameJSON(sv, m.overrides[k]) {
			st.DivergentKeys = append(st.DivergentKeys, k)
		}
	}
	return st
}

func (m *Manager) persistLocked() error {
	if m.opts.Path == "" {
		return nil
	}
	doc := document{
		SchemaHeader: yamlutil.NewHeader(yamlutil.FileTypeConfigOverrides),
		Overrides:    m.overrides,
	}
	if _, err := yamlutil.AtomicWrite(m.opts.Path, doc); err != nil {
		return fmt.Errorf("persist overrides: %w", err)
	}
	return nil
}

func (m *Manager) notify() {
	if m.opts.Observe != nil {
		m.opts.Observe(len(m.overrides))
	}
}

// ParseValue interprets user text. Any complete JSON value is decoded, including quoted
// strings; true, false and null are also accepted in any letter case. Anything else is kept
// as a literal string, except text that opens an object or array but does not parse.
func ParseValue(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw, nil
	}
	v, err := decodeJSON(trimmed)
	if err == nil {
		return model.Normalize(v), nil
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	return raw, nil
}

func decodeJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after value")
	}
	return v, nil
}

// Flatten maps nested objects to dot-notation keys. Arrays are leaves.
func Flatten(values model.Values) map[string]any {
	out := map[string]any{}
	flattenInto(out, "", values)
	return out
}

func flattenInto(out map[string]any, prefix string, values model.Values) {
	for k, v := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := model.AsMap(v); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = model.CloneValue(v)
	}
}

func lookup(values model.Values, key string) (any, bool) {
	if v, ok := values[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	var cur any = values
	for _, p := range parts {
		m, ok := model.AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign writes value at a dotted path, creating intermediate objects. A top-level key
// that literally contains dots is replaced in place.
func assign(values model.Values, key string, value any) {
	if _, ok := values[key]; ok || !strings.Contains(key, ".") {
		values[key] = value
		return
	}
	parts := strings.Split(key, ".")
	cur := values
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur.Map(p)
		if !ok {
			next = model.Values{}
		}
		cur[p] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}
