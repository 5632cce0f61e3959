package studio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/psstudio/internal/editor"
	"github.com/msageha/psstudio/internal/events"
	"github.com/msageha/psstudio/internal/metrics"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/overrides"
	"github.com/msageha/psstudio/internal/remote"
	"github.com/msageha/psstudio/internal/store"
)

type fakeSolver struct {
	mu       sync.Mutex
	calls    int
	gotPS    model.Values
	gotCfg   model.Values
	solution model.Solution
	err      error
	logs     []remote.LogEntry
	block    chan struct{}
}

func (f *fakeSolver) Solve(ctx context.Context, ps, cfg model.Values, sink remote.LogSink) (model.Solution, error) {
	f.mu.Lock()
	f.calls++
	f.gotPS = ps.Clone()
	f.gotCfg = cfg.Clone()
	sol, err, logs, block := f.solution, f.err, f.logs, f.block
	f.mu.Unlock()

	for _, l := range logs {
		sink(l)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, model.NewNetworkError("solve", ctx.Err())
		}
	}
	return sol, err
}

func (f *fakeSolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mapTemplates map[string]model.Values

func (m mapTemplates) Template(kind string) (model.Values, bool) {
	t, ok := m[kind]
	return t.Clone(), ok
}

type fixture struct {
	orch    *Orchestrator
	store   *store.Store
	solver  *fakeSolver
	config  *overrides.Manager
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Options{Width: 10, Height: 8})
	require.NoError(t, err)
	cfg, err := overrides.Open(overrides.Options{})
	require.NoError(t, err)
	cfg.LoadFromServer(model.Values{"solver": map[string]any{"timeout": 10}, "mode": "fast"})

	f := &fixture{
		store:   st,
		solver:  &fakeSolver{solution: model.Solution{"plan": []any{"step"}}},
		config:  cfg,
		metrics: metrics.New(),
	}
	f.orch = New(Options{
		Store:  st,
		Solver: f.solver,
		Templates: mapTemplates{
			"pps":        {"pps_status": "open"},
			"assignment": {"start_time": 0, "end_time": 0},
		},
		Config:       cfg,
		TaskDebounce: 20 * time.Millisecond,
		Metrics:      f.metrics,
	})
	t.Cleanup(func() { _ = f.orch.Close() })
	return f
}

func (f *fixture) addTask(t *testing.T) model.Entity {
	t.Helper()
	task, err := f.orch.AddTask(TaskInput{DestinationID: "12", TransportEntityID: "7"})
	require.NoError(t, err)
	return task
}

func TestAddTask_CoercesIDsAndInjectsLiterals(t *testing.T) {
	f := newFixture(t)

	task := f.addTask(t)

	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, 12, task.Properties["destination_id"])
	assert.Equal(t, 7, task.Properties["transport_entity_id"])
	assert.Equal(t, "rack", task.Properties["transport_entity_type"])
	assert.Equal(t, "picktask", task.Properties["task_type"])
	assert.Equal(t, "storable_to_conveyor", task.Properties["task_subtype"])
}

func TestAddTask_MalformedInputCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.AddTask(TaskInput{DestinationID: "12a", TransportEntityID: "7"})
	var ve model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "destination_id", ve.Field)

	_, err = f.orch.AddTask(TaskInput{TransportEntityID: "7"})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "required")

	assert.Empty(t, f.orch.Entities())
}

func TestAddObjectAt_DefaultsToGridCentre(t *testing.T) {
	f := newFixture(t)

	e, err := f.orch.AddObjectAt(model.EntityPPS, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, e.X)
	assert.Equal(t, 5, *e.X)
	assert.Equal(t, 4, *e.Y)
	assert.Equal(t, "open", e.Properties["pps_status"])

	_, err = f.orch.AddObjectAt(model.EntityTask, nil, nil, nil)
	var ve model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSelect_FocusesEditorAndClears(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t)

	sel, err := f.orch.SelectByID(model.EntityTask, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SelectionTask, sel.Kind())

	snap := f.orch.EditorSnapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, task.Key(), snap.Key)

	f.orch.SelectEntity(nil)
	assert.Equal(t, model.SelectionNone, f.orch.Selection().Kind())
	assert.False(t, f.orch.EditorSnapshot().Active)

	_, err = f.orch.SelectByID(model.EntityTask, "t-99")
	assert.Error(t, err)
}

func TestTaskEdits_DebouncedIntoOneCommit(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t)
	_, err := f.orch.SelectByID(model.EntityTask, task.ID)
	require.NoError(t, err)

	for _, v := range []int{1, 2, 3} {
		require.NoError(t, f.orch.SetField("priority", v))
	}
	assert.True(t, f.orch.EditorSnapshot().CommitPending)

	assert.Eventually(t, func() bool {
		e, err := f.store.Entity(task.Key())
		return err == nil && e.Properties["priority"] == 3
	}, time.Second, 5*time.Millisecond)

	sum, err := f.metrics.Summarize()
	require.NoError(t, err)
	assert.Equal(t, float64(1), sum.Commits[string(editor.CommitDebounced)])

	sel, ok := f.orch.Selection().Entity()
	require.True(t, ok)
	assert.Equal(t, 3, sel.Properties["priority"], "selection reflects the committed edit")
}

func TestTaskEdits_RefocusDiscardsPendingCommit(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t)
	other, err := f.orch.AddObjectAt(model.EntityBot, nil, nil, nil)
	require.NoError(t, err)

	_, err = f.orch.SelectByID(model.EntityTask, task.ID)
	require.NoError(t, err)
	require.NoError(t, f.orch.SetField("priority", 9))
	f.orch.SelectEntity(&other)

	assert.Never(t, func() bool {
		e, err := f.store.Entity(task.Key())
		return err == nil && e.Properties["priority"] != nil
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestObjectEdits_CommitImmediately(t *testing.T) {
	f := newFixture(t)
	bot, err := f.orch.AddObjectAt(model.EntityBot, nil, nil, nil)
	require.NoError(t, err)
	f.orch.SelectEntity(&bot)

	require.NoError(t, f.orch.SetNestedField("coordinate", "x", 2))

	e, err := f.store.Entity(bot.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, *e.X)
}

func TestJSONEdits(t *testing.T) {
	f := newFixture(t)
	bot, err := f.orch.AddObjectAt(model.EntityBot, nil, nil, nil)
	require.NoError(t, err)
	f.orch.SelectEntity(&bot)
	f.orch.SetEditorMode(editor.ModeJSON)

	err = f.orch.SetJSONText(`{"speed": `)
	var ve model.ValidationError
	require.ErrorAs(t, err, &ve)
	snap := f.orch.EditorSnapshot()
	assert.NotEmpty(t, snap.JSONError)
	assert.Nil(t, snap.FormValues["speed"], "form keeps its last good values")

	require.NoError(t, f.orch.SetJSONText(`{"speed": 4, "coordinate": {"x": 1, "y": 1}}`))
	e, err := f.store.Entity(bot.Key())
	require.NoError(t, err)
	assert.Equal(t, 4, e.Properties["speed"])
	assert.Empty(t, f.orch.EditorSnapshot().JSONError)
}

func TestEdits_KeepTheEntityKey(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t)
	_, err := f.orch.SelectByID(model.EntityTask, task.ID)
	require.NoError(t, err)

	require.NoError(t, f.orch.SetJSONText(`{"task_key": "t-9", "destination_id": 5}`))
	require.NoError(t, f.orch.SetField("destination_id", 42))

	assert.Eventually(t, func() bool {
		e, err := f.store.Entity(task.Key())
		return err == nil && e.Properties["destination_id"] == 42
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.orch.EditorSnapshot().CommitError)
	_, err = f.store.Entity(model.EntityKey{Type: model.EntityTask, ID: "t-9"})
	var se *model.StateError
	assert.ErrorAs(t, err, &se)

	pps, err := f.orch.AddObjectAt(model.EntityPPS, nil, nil, nil)
	require.NoError(t, err)
	f.orch.SelectEntity(&pps)
	var ve model.ValidationError
	require.ErrorAs(t, f.orch.SetField("id", 7), &ve)
	require.NoError(t, f.orch.SetField("name", "x"))
	e, err := f.store.Entity(pps.Key())
	require.NoError(t, err)
	assert.Equal(t, "x", e.Properties["name"])
}

func TestAddTask_DuplicateKeyRejected(t *testing.T) {
	f := newFixture(t)
	f.addTask(t)

	_, err := f.orch.AddTask(TaskInput{DestinationID: "1", TransportEntityID: "2", TaskKey: "t-1"})
	var ve model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "task_key", ve.Field)
	assert.Len(t, f.orch.Entities(), 1)
}

func TestRemoveAssignment(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.AddObjectAt(model.EntityPPS, nil, nil, model.Values{"id": 3})
	require.NoError(t, err)
	a, err := f.orch.AddAssignment(store.AssignmentInput{StationID: "3", BotID: "1", MSUID: "2", ID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, 0, a.Properties["start_time"])

	f.orch.SelectEntity(&a)
	require.NoError(t, f.orch.RemoveAssignment("3", "A1"))

	list, err := f.orch.StationAssignments("3")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, model.SelectionNone, f.orch.Selection().Kind())

	var ve model.ValidationError
	assert.ErrorAs(t, f.orch.RemoveAssignment("", "A1"), &ve)
	assert.ErrorAs(t, f.orch.RemoveAssignment("3", " "), &ve)
	assert.Error(t, f.orch.RemoveAssignment("3", "A1"), "already removed")
}

func TestRemoveEntity_ClearsSelection(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t)
	f.orch.SelectEntity(&task)

	require.NoError(t, f.orch.RemoveEntity(task.Key()))
	assert.Equal(t, model.SelectionNone, f.orch.Selection().Kind())
	assert.Empty(t, f.orch.View().Tasks)
}

func TestClearAll_RequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.addTask(t)

	assert.ErrorIs(t, f.orch.ClearAll(false), model.ErrConfirmationRequired)
	assert.Len(t, f.orch.Entities(), 1)

	require.NoError(t, f.orch.ClearAll(true))
	assert.Empty(t, f.orch.Entities())
}

func TestSolve_SubmitsStatementWithDefaultsAndConfig(t *testing.T) {
	f := newFixture(t)
	f.solver.logs = []remote.LogEntry{{Log: "planning", Level: "INFO"}}
	task := f.addTask(t)
	f.orch.SelectEntity(&task)
	require.NoError(t, f.orch.SetField("priority", 5))
	require.NoError(t, f.orch.EditConfig("solver.timeout", "30"))

	sol, err := f.orch.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Solution{"plan": []any{"step"}}, sol)

	f.solver.mu.Lock()
	gotPS, gotCfg := f.solver.gotPS, f.solver.gotCfg
	f.solver.mu.Unlock()
	tasks, _ := gotPS.List("task_list")
	require.Len(t, tasks, 1)
	first, _ := model.AsMap(tasks[0])
	assert.Equal(t, 5, first["priority"], "pending edit is flushed first")
	assert.Equal(t, "PSG", gotPS[model.KeyRequestID])
	solverCfg, _ := gotCfg.Map("solver")
	assert.Equal(t, 30, solverCfg["timeout"])

	assert.Equal(t, model.TabSolution, f.orch.Tab())
	assert.Equal(t, sol, f.orch.Solution())
	require.Len(t, f.orch.SolveLogs(), 1)
	rec, ok := f.orch.LastSolve()
	require.True(t, ok)
	assert.False(t, rec.Running())
	assert.Equal(t, 1, rec.LogCount)
}

func TestSolve_FailureClearsSolution(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Solve(context.Background())
	require.NoError(t, err)

	f.solver.mu.Lock()
	f.solver.err = model.NewServerError("solve", errors.New("infeasible"))
	f.solver.mu.Unlock()

	_, err = f.orch.Solve(context.Background())
	var re *model.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, model.RemoteServer, re.Kind)
	assert.Nil(t, f.orch.Solution())
	assert.False(t, f.orch.Solving())

	rec, _ := f.orch.LastSolve()
	assert.Contains(t, rec.Error, "infeasible")
}

func TestSolveWarehouse_WithoutStatementNeverCallsSolver(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Solve(context.Background())
	require.NoError(t, err)
	prev := f.orch.Solution()

	_, err = f.orch.SolveWarehouse(context.Background(), model.Warehouse{})
	var pe *model.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, f.solver.callCount())
	assert.Equal(t, prev, f.orch.Solution())
}

func TestSolve_RejectsOverlap(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.solver.block = release

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Solve(context.Background())
		done <- err
	}()
	require.Eventually(t, f.orch.Solving, time.Second, 5*time.Millisecond)

	_, err := f.orch.Solve(context.Background())
	assert.ErrorIs(t, err, model.ErrSolveInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.solver.callCount())

	sum, err := f.metrics.Summarize()
	require.NoError(t, err)
	assert.Equal(t, float64(1), sum.Solves[metrics.OutcomeRejected])
	assert.Equal(t, float64(1), sum.Solves[metrics.OutcomeSuccess])
}

func TestCancelSolve(t *testing.T) {
	f := newFixture(t)
	f.solver.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Solve(context.Background())
		done <- err
	}()
	require.Eventually(t, f.orch.Solving, time.Second, 5*time.Millisecond)

	assert.True(t, f.orch.CancelSolve())
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.orch.CancelSolve())
}

func TestSolve_PublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	var mu sync.Mutex
	var seen []events.EventType
	bus.Subscribe(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
	}, events.SolveEvents...)

	f := newFixture(t)
	f.orch.bus = bus
	_, err := f.orch.Solve(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{events.EventSolveStarted, events.EventSolveCompleted}, seen)
}

func TestConfigOverrides(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.EditConfig("mode", `"slow"`))
	v, _ := f.config.EffectiveValue("mode")
	assert.Equal(t, "slow", v)

	require.NoError(t, f.orch.BeginConfigEdit("solver.timeout"))
	assert.ErrorIs(t, f.orch.SetConfigOverride("mode", "1"), model.ErrEditInProgress)
	f.orch.CancelConfigEdit()

	assert.ErrorIs(t, f.orch.ClearLocalConfig(false), model.ErrConfirmationRequired)
	require.NoError(t, f.orch.ClearLocalConfig(true))
	v, _ = f.config.EffectiveValue("mode")
	assert.Equal(t, "fast", v)
	assert.False(t, f.orch.ConfigStatus().HasLocalChanges)

	var pe *model.PreconditionError
	assert.ErrorAs(t, f.orch.RefreshServerConfig(context.Background()), &pe)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t)
	_, err := f.orch.AddObjectAt(model.EntityBot, nil, nil, nil)
	require.NoError(t, err)
	f.orch.SelectEntity(&task)

	st := f.orch.Status()
	assert.Equal(t, 1, st.Counts[model.EntityTask])
	assert.Equal(t, 1, st.Counts[model.EntityBot])
	assert.Equal(t, GridInfo{Width: 10, Height: 8}, st.Grid)
	require.NotNil(t, st.Selection.Key)
	assert.Equal(t, task.Key(), *st.Selection.Key)
	assert.Equal(t, model.TabProblem, st.Tab)
	assert.False(t, st.HasSolution)
}
