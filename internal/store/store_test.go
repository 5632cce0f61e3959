package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/psstudio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Width: 10, Height: 10})
	require.NoError(t, err)
	return s
}

func addStation(t *testing.T, s *Store) model.Entity {
	t.Helper()
	e, err := s.AddEntity(model.EntityPPS, intp(1), intp(2), nil)
	require.NoError(t, err)
	return e
}

func TestAddEntity_ObjectIDsAndCoordinates(t *testing.T) {
	s := newMemStore(t)

	first, err := s.AddEntity(model.EntityPPS, intp(1), intp(2), nil,
		WithTemplate(model.Values{"id": 1, "pps_status": "open"}))
	require.NoError(t, err)
	second, err := s.AddEntity(model.EntityPPS, intp(3), intp(4), model.Values{"queue_length": 2})
	require.NoError(t, err)

	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)
	assert.Equal(t, 3, *second.X)
	assert.Equal(t, 4, *second.Y)
	assert.Equal(t, "open", first.Properties["pps_status"])
	assert.Equal(t, model.Values{"x": 1, "y": 2}, first.Properties["coordinate"])
	assert.Equal(t, 2, second.Properties["queue_length"])

	bot, err := s.AddEntity(model.EntityBot, intp(0), intp(0), nil)
	require.NoError(t, err)
	assert.Equal(t, "1", bot.ID, "ids are per list")

	ps := s.ProblemStatement()
	pps, _ := ps.List("pps_list")
	assert.Len(t, pps, 2)
	rangers, _ := ps.List("ranger_list")
	assert.Len(t, rangers, 1)
}

func TestAddEntity_Validation(t *testing.T) {
	s := newMemStore(t)

	_, err := s.AddEntity(model.EntityPPS, nil, nil, nil)
	var ve model.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = s.AddEntity(model.EntityPPS, intp(10), intp(0), nil)
	assert.ErrorAs(t, err, &ve)

	_, err = s.AddEntity(model.EntityAssignment, nil, nil, nil)
	assert.ErrorAs(t, err, &ve)

	assert.Empty(t, s.Entities())
}

func TestAddEntity_TaskKeys(t *testing.T) {
	s := newMemStore(t)

	t1, err := s.AddEntity(model.EntityTask, nil, nil, model.Values{"destination_id": 12})
	require.NoError(t, err)
	t2, err := s.AddEntity(model.EntityTask, nil, nil, nil)
	require.NoError(t, err)
	custom, err := s.AddEntity(model.EntityTask, nil, nil, model.Values{"task_key": "mine"})
	require.NoError(t, err)

	assert.Equal(t, "t-1", t1.ID)
	assert.Equal(t, "t-2", t2.ID)
	assert.Equal(t, "mine", custom.ID)
	assert.Nil(t, t1.X)
	assert.Equal(t, 12, t1.Properties["destination_id"])
}

func TestUpdateEntityProperties_ReplacesAndKeepsMeta(t *testing.T) {
	s := newMemStore(t)
	e, err := s.AddEntity(model.EntityMSU, intp(1), intp(1), model.Values{"__meta_data_rev": 3, "weight": 1})
	require.NoError(t, err)

	props := model.Values{"id": 1, "coordinate": model.Values{"x": 1, "y": 1}, "height": 2}
	require.NoError(t, s.UpdateEntityProperties(e.Key(), props))

	got, err := s.Entity(e.Key())
	require.NoError(t, err)
	assert.Equal(t, model.Values{
		"id":              1,
		"coordinate":      model.Values{"x": 1, "y": 1},
		"height":          2,
		"__meta_data_rev": 3,
	}, got.Properties)

	err = s.UpdateEntityProperties(model.EntityKey{Type: model.EntityMSU, ID: "99"}, props)
	var se *model.StateError
	assert.ErrorAs(t, err, &se)
}

func TestAddEntity_RejectsDuplicateIdentifiers(t *testing.T) {
	s := newMemStore(t)
	addStation(t, s)
	_, err := s.AddEntity(model.EntityTask, nil, nil, nil)
	require.NoError(t, err)

	var ve model.ValidationError
	_, err = s.AddEntity(model.EntityPPS, intp(2), intp(2), model.Values{"id": 1})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "id", ve.Field)
	_, err = s.AddEntity(model.EntityPPS, intp(2), intp(2), model.Values{"id": "1"})
	assert.ErrorAs(t, err, &ve, "ids compare by their shown form")
	_, err = s.AddEntity(model.EntityTask, nil, nil, model.Values{"task_key": "t-1"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "task_key", ve.Field)

	custom, err := s.AddEntity(model.EntityPPS, intp(2), intp(2), model.Values{"id": 7})
	require.NoError(t, err)
	assert.Equal(t, "7", custom.ID)

	counts := map[model.EntityKey]int{}
	for _, e := range s.Entities() {
		counts[e.Key()]++
	}
	for key, n := range counts {
		assert.Equal(t, 1, n, key.String())
	}
	assert.Len(t, counts, 3)
}

func TestUpdateEntityProperties_KeepsIdentity(t *testing.T) {
	s := newMemStore(t)
	station := addStation(t, s)
	task, err := s.AddEntity(model.EntityTask, nil, nil, model.Values{"destination_id": 1})
	require.NoError(t, err)

	require.NoError(t, s.UpdateEntityProperties(task.Key(), model.Values{"task_key": "t-9", "destination_id": 3}))
	got, err := s.Entity(task.Key())
	require.NoError(t, err)
	assert.Equal(t, model.Values{"task_key": "t-1", "destination_id": 3}, got.Properties)
	require.NoError(t, s.UpdateEntityProperties(task.Key(), model.Values{"destination_id": 4}),
		"later commits still find the task")

	require.NoError(t, s.UpdateEntityProperties(station.Key(), model.Values{"name": "dock"}))
	got, err = s.Entity(station.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Properties["id"])
	assert.Equal(t, "dock", got.Properties["name"])

	a, err := s.AddAssignmentToStation(AssignmentInput{StationID: "1", BotID: "2", MSUID: "3", ID: "A1"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateEntityProperties(a.Key(), model.Values{"id": "A9", "start_time": 5}))
	list, err := s.StationAssignments("1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A1", list[0].ID)
	assert.Equal(t, 5, list[0].Properties["start_time"])
	require.NoError(t, s.RemoveAssignmentFromStation("1", "A1"))
}

func TestMoveAndRemoveEntity(t *testing.T) {
	s := newMemStore(t)
	e := addStation(t, s)

	require.NoError(t, s.MoveEntity(e.Key(), 5, 6))
	got, err := s.Entity(e.Key())
	require.NoError(t, err)
	assert.Equal(t, 5, *got.X)
	assert.Equal(t, 6, *got.Y)

	assert.Error(t, s.MoveEntity(e.Key(), 50, 6))
	assert.Error(t, s.MoveEntity(model.EntityKey{Type: model.EntityTask, ID: "t-1"}, 1, 1))

	require.NoError(t, s.RemoveEntity(e.Key()))
	_, err = s.Entity(e.Key())
	var se *model.StateError
	assert.ErrorAs(t, err, &se)
	assert.ErrorAs(t, s.RemoveEntity(e.Key()), &se)
}

func TestAssignments_AddUpdateRemove(t *testing.T) {
	s := newMemStore(t)
	for i := 0; i < 3; i++ {
		addStation(t, s)
	}

	a1, err := s.AddAssignmentToStation(AssignmentInput{StationID: "3", BotID: "4", MSUID: "5", ID: "A1"}, nil)
	require.NoError(t, err)
	a2, err := s.AddAssignmentToStation(AssignmentInput{StationID: "3", BotID: "6", MSUID: "7"},
		model.Values{"start_time": 0, "end_time": 0, "task_key": "template"})
	require.NoError(t, err)

	assert.Equal(t, "A1", a1.ID)
	assert.Equal(t, "3", a1.StationID)
	assert.Equal(t, "a-1", a1.Properties["task_key"])
	assert.Equal(t, 4, a1.Properties["assigned_ranger_id"])
	assert.Equal(t, 3, a1.Properties["dock_pps_id"])
	assert.Equal(t, 5, a1.Properties["transport_entity_id"])
	assert.Equal(t, "a-2", a2.Properties["task_key"])
	assert.Equal(t, 0, a2.Properties["end_time"])
	assert.NotEmpty(t, a2.ID)

	require.NoError(t, s.UpdateEntityProperties(a2.Key(), model.Values{"id": a2.ID, "start_time": 100}))
	list, err := s.StationAssignments("3")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 100, list[1].Properties["start_time"])

	require.NoError(t, s.RemoveAssignmentFromStation("3", "A1"))
	list, err = s.StationAssignments("3")
	require.NoError(t, err)
	for _, a := range list {
		assert.NotEqual(t, "A1", a.ID)
	}
	assert.Len(t, list, 1)
}

func TestAssignments_Errors(t *testing.T) {
	s := newMemStore(t)
	addStation(t, s)

	_, err := s.AddAssignmentToStation(AssignmentInput{StationID: "9", BotID: "1", MSUID: "1"}, nil)
	var se *model.StateError
	assert.ErrorAs(t, err, &se)

	_, err = s.AddAssignmentToStation(AssignmentInput{StationID: "1", BotID: "x", MSUID: ""}, nil)
	var ves *model.ValidationErrors
	require.ErrorAs(t, err, &ves)
	assert.Len(t, ves.Errors, 2)
	assert.Contains(t, ves.Error(), "bot_id")

	start, end := int64(10), int64(5)
	_, err = s.AddAssignmentToStation(AssignmentInput{StationID: "1", BotID: "1", MSUID: "1", StartTime: &start, EndTime: &end}, nil)
	assert.ErrorAs(t, err, &ves)

	_, err = s.AddAssignmentToStation(AssignmentInput{StationID: "1", BotID: "1", MSUID: "1", ID: "dup"}, nil)
	require.NoError(t, err)
	_, err = s.AddAssignmentToStation(AssignmentInput{StationID: "1", BotID: "1", MSUID: "1", ID: "dup"}, nil)
	var ve model.ValidationError
	assert.ErrorAs(t, err, &ve)

	assert.ErrorAs(t, s.RemoveAssignmentFromStation("1", "missing"), &se)
	assert.ErrorAs(t, s.RemoveAssignmentFromStation("2", "dup"), &se)
	assert.ErrorAs(t, s.RemoveAssignmentFromStation("one", "dup"), &ve)
}

func TestEntities_Order(t *testing.T) {
	s := newMemStore(t)
	_, err := s.AddEntity(model.EntityTask, nil, nil, nil)
	require.NoError(t, err)
	addStation(t, s)
	_, err = s.AddAssignmentToStation(AssignmentInput{StationID: "1", BotID: "1", MSUID: "1", ID: "A"}, nil)
	require.NoError(t, err)
	_, err = s.AddEntity(model.EntityRelay, intp(0), intp(0), nil)
	require.NoError(t, err)

	var types []model.EntityType
	for _, e := range s.Entities() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []model.EntityType{model.EntityPPS, model.EntityRelay, model.EntityTask, model.EntityAssignment}, types)
}

func TestClearAllAndUpdateProblemStatement(t *testing.T) {
	s := newMemStore(t)
	addStation(t, s)

	require.NoError(t, s.ClearAll())
	assert.Empty(t, s.Entities())
	assert.Equal(t, model.DefaultProblemStatement(), s.ProblemStatement())

	require.NoError(t, s.UpdateProblemStatement(model.Values{
		"pps_list":   []any{map[string]any{"id": float64(7), "coordinate": map[string]any{"x": 1.0, "y": 1.0}}},
		"request_id": "X",
	}))
	es := s.Entities()
	require.Len(t, es, 1)
	assert.Equal(t, "7", es[0].ID)
	assert.Equal(t, 1, *es[0].X)
	_, ok := s.ProblemStatement()["task_list"]
	assert.False(t, ok, "a replaced statement is taken as given")

	assert.Error(t, s.UpdateProblemStatement(nil))
}

func TestSetGridSize(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.SetGridSize(20, 15))
	w, h := s.GridSize()
	assert.Equal(t, 20, w)
	assert.Equal(t, 15, h)
	assert.Error(t, s.SetGridSize(0, 5))

	wh := s.Warehouse()
	assert.Equal(t, 20, wh.Width)
	assert.NotNil(t, wh.ProblemStatement)
}

func TestPersistence_RoundTripAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "workspace.yaml")

	var ops []string
	s, err := Open(Options{Path: path, WorkspaceDir: dir, Width: 10, Height: 10, Observe: func(op string) { ops = append(ops, op) }})
	require.NoError(t, err)
	addStation(t, s)
	_, err = s.AddAssignmentToStation(AssignmentInput{StationID: "1", BotID: "2", MSUID: "3", ID: "A1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"add_pps", "add_assignment"}, ops)

	changed, err := s.ReloadIfChanged()
	require.NoError(t, err)
	assert.False(t, changed, "own writes are not reloaded")

	other, err := Open(Options{Path: path, WorkspaceDir: dir})
	require.NoError(t, err)
	list, err := other.StationAssignments("1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A1", list[0].ID)

	_, err = other.AddEntity(model.EntityTask, nil, nil, nil)
	require.NoError(t, err)

	changed, err = s.ReloadIfChanged()
	require.NoError(t, err)
	assert.True(t, changed)
	var tasks int
	for _, e := range s.Entities() {
		if e.Type == model.EntityTask {
			tasks++
		}
	}
	assert.Equal(t, 1, tasks)
}

func TestOpen_RecoversCorruptWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0644))

	s, err := Open(Options{Path: path, WorkspaceDir: dir})
	require.NoError(t, err)
	assert.Empty(t, s.Entities())

	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = os.Stat(path)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}

func TestReloadIfChanged_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workspace.yaml")
	s, err := Open(Options{Path: path, WorkspaceDir: dir})
	require.NoError(t, err)
	addStation(t, s)

	require.NoError(t, os.WriteFile(path, []byte("schema_version: 9\n"), 0644))
	_, err = s.ReloadIfChanged()
	assert.Error(t, err)
	assert.Len(t, s.Entities(), 1, "a bad file never replaces the in-memory statement")
}
