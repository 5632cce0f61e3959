// Package studio coordinates user intents against the entity store, the property
// editor, the configuration overrides and the remote solver. It owns the single
// selection shared by every view.
package studio

import (
	"context"
	"sync"
	"time"

	"github.com/msageha/psstudio/internal/editor"
	"github.com/msageha/psstudio/internal/events"
	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/metrics"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/overrides"
	"github.com/msageha/psstudio/internal/remote"
	"github.com/msageha/psstudio/internal/store"
	"github.com/msageha/psstudio/internal/view"
)

// EntityStore is the local problem statement the orchestrator mutates.
type EntityStore interface {
	Entities() []model.Entity
	Entity(key model.EntityKey) (model.Entity, error)
	AddEntity(kind model.EntityType, x, y *int, props model.Values, opts ...store.AddOption) (model.Entity, error)
	UpdateEntityProperties(key model.EntityKey, props model.Values) error
	RemoveEntity(key model.EntityKey) error
	MoveEntity(key model.EntityKey, x, y int) error
	AddAssignmentToStation(in store.AssignmentInput, template model.Values) (model.Entity, error)
	RemoveAssignmentFromStation(stationID, assignmentID string) error
	StationAssignments(stationID string) ([]model.Entity, error)
	Warehouse() model.Warehouse
	GridSize() (int, int)
	SetGridSize(width, height int) error
	UpdateProblemStatement(ps model.Values) error
	ClearAll() error
	ReloadIfChanged() (bool, error)
}

// Templates supplies entity templates. Absence of a template is normal.
type Templates interface {
	Template(kind string) (model.Values, bool)
}

// ConfigFetcher loads the server's configuration baseline.
type ConfigFetcher interface {
	FetchDefaultConfig(ctx context.Context) (model.Values, error)
}

type Options struct {
	Store  EntityStore
	Solver remote.Solver
	// Templates and ConfigFetcher are optional.
	Templates     Templates
	Config        *overrides.Manager
	ConfigFetcher ConfigFetcher
	// TaskDebounce is the editor's quiescence window for task edits.
	TaskDebounce time.Duration
	Logger       *logging.Logger
	Bus          *events.Bus
	Metrics      *metrics.Metrics
}

// maxSolveLogs bounds the streamed solver log kept for the last solve.
const maxSolveLogs = 1000

// Orchestrator serializes every mutation behind one mutex. Solve runs outside it so
// the studio stays responsive while the solver works.
type Orchestrator struct {
	mu        sync.Mutex
	store     EntityStore
	solver    remote.Solver
	templates Templates
	config    *overrides.Manager
	fetcher   ConfigFetcher
	editor    *editor.Engine

	selection model.Selection
	tab       model.Tab
	solution  model.Solution

	solving     bool
	cancelSolve context.CancelFunc
	lastSolve   *SolveRecord
	solveLogs   []remote.LogEntry

	log     *logging.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Config == nil {
		opts.Config, _ = overrides.Open(overrides.Options{Logger: opts.Logger})
	}
	o := &Orchestrator{
		store:     opts.Store,
		solver:    opts.Solver,
		templates: opts.Templates,
		config:    opts.Config,
		fetcher:   opts.ConfigFetcher,
		tab:       model.TabProblem,
		log:       opts.Logger,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
	o.editor = editor.New(o.commitProperties, editor.Options{
		Debounce: opts.TaskDebounce,
		Logger:   opts.Logger.With("editor"),
		Observe: func(kind editor.CommitKind, err error) {
			o.metrics.ObserveCommit(string(kind), err)
		},
	})
	return o
}

// commitProperties is the editor's commit target. It runs under the editor lock and
// therefore must not take o.mu.
func (o *Orchestrator) commitProperties(key model.EntityKey, values model.Values) error {
	if err := o.store.UpdateEntityProperties(key, values); err != nil {
		return err
	}
	o.publish(events.EventEntityUpdated, keyData(key))
	return nil
}

// SelectEntity tears down the current edit session, points the shared selection at e
// and focuses the editor on it. A nil e clears the selection.
func (o *Orchestrator) SelectEntity(e *model.Entity) model.Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selectLocked(e)
}

// SelectByKey resolves key through the store before selecting.
func (o *Orchestrator) SelectByKey(key model.EntityKey) (model.Selection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, err := o.store.Entity(key)
	if err != nil {
		return model.Selection{}, err
	}
	return o.selectLocked(&e), nil
}

// SelectByID is SelectByKey for entities outside any station.
func (o *Orchestrator) SelectByID(kind model.EntityType, id string) (model.Selection, error) {
	return o.SelectByKey(model.EntityKey{Type: kind, ID: id})
}

func (o *Orchestrator) selectLocked(e *model.Entity) model.Selection {
	o.editor.Focus(nil)
	o.selection = model.SelectionOf(e)
	if e != nil {
		o.editor.Focus(e)
	}

	data := map[string]any{"kind": string(o.selection.Kind())}
	if key, ok := o.selection.Key(); ok {
		for k, v := range keyData(key) {
			data[k] = v
		}
	}
	o.publish(events.EventSelectionChanged, data)
	return o.selection
}

// Selection returns the current selection with the entity re-read from the store, so
// committed edits are reflected.
func (o *Orchestrator) Selection() model.Selection {
	o.mu.Lock()
	defer o.mu.Unlock()

	key, ok := o.selection.Key()
	if !ok {
		return o.selection
	}
	if e, err := o.store.Entity(key); err == nil {
		return model.SelectionOf(&e)
	}
	return o.selection
}

// deselectIf drops the selection when it points at key.
func (o *Orchestrator) deselectIf(key model.EntityKey) {
	if o.selection.Is(key) {
		o.selectLocked(nil)
	}
}

func (o *Orchestrator) Tab() model.Tab {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tab
}

func (o *Orchestrator) SetTab(tab model.Tab) error {
	switch tab {
	case model.TabProblem, model.TabSolution:
	default:
		return model.ValidationError{Field: "tab", Message: "tab must be problem or solution"}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tab = tab
	return nil
}

// Entities lists the store's entities in display order.
func (o *Orchestrator) Entities() []model.Entity {
	return o.store.Entities()
}

// View partitions the entities for pickers and lists.
func (o *Orchestrator) View() view.Filtered {
	return view.Filter(o.store.Entities())
}

func (o *Orchestrator) Warehouse() model.Warehouse {
	return o.store.Warehouse()
}

func (o *Orchestrator) Editor() *editor.Engine {
	return o.editor
}

func (o *Orchestrator) Overrides() *overrides.Manager {
	return o.config
}

// Close flushes a pending edit and cancels an outstanding solve.
func (o *Orchestrator) Close() error {
	err := o.editor.Flush()
	o.CancelSolve()
	o.editor.Close()
	return err
}

func (o *Orchestrator) publish(t events.EventType, data map[string]any) {
	o.bus.Publish(t, data)
}

func keyData(key model.EntityKey) map[string]any {
	data := map[string]any{"type": string(key.Type), "id": key.ID}
	if key.StationID != "" {
		data["station_id"] = key.StationID
	}
	return data
}
