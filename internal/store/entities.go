package store

import (
	"fmt"
	"strconv"

	"github.com/msageha/psstudio/internal/model"
)

// Entities derives the flat entity collection from the statement: placed objects first
// (by kind), then tasks, then assignments grouped by station.
func (s *Store) Entities() []model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entitiesOf(s.ps)
}

// Entity resolves one entity by key.
func (s *Store) Entity(key model.EntityKey) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range entitiesOf(s.ps) {
		if e.Key() == key {
			return e, nil
		}
	}
	return model.Entity{}, &model.StateError{Entity: string(key.Type), ID: key.String()}
}

func entitiesOf(ps model.Values) []model.Entity {
	var out []model.Entity
	for _, kind := range model.ObjectKinds {
		listKey, _ := kind.ListKey()
		items, _ := ps.List(listKey)
		for i, item := range items {
			props, ok := model.AsMap(item)
			if !ok {
				continue
			}
			e := model.Entity{ID: objectID(kind, props, i), Type: kind, Properties: props.Clone()}
			e.X, e.Y = coordinateOf(props)
			out = append(out, e)
		}
	}

	tasks, _ := ps.List("task_list")
	for i, item := range tasks {
		props, ok := model.AsMap(item)
		if !ok {
			continue
		}
		out = append(out, model.Entity{ID: taskID(props, i), Type: model.EntityTask, Properties: props.Clone()})
	}

	stations, _ := ps.List("pps_list")
	for _, item := range stations {
		station, ok := model.AsMap(item)
		if !ok {
			continue
		}
		stationID := model.IDString(station["id"])
		for i, a := range assignmentsOf(station) {
			props, ok := model.AsMap(a)
			if !ok {
				continue
			}
			out = append(out, model.Entity{
				ID:         assignmentID(props, i),
				Type:       model.EntityAssignment,
				StationID:  stationID,
				Properties: props.Clone(),
			})
		}
	}
	return out
}

func objectID(kind model.EntityType, props model.Values, index int) string {
	if id := model.IDString(props["id"]); id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", kind, index)
}

func taskID(props model.Values, index int) string {
	if k, ok := props["task_key"].(string); ok && k != "" {
		return k
	}
	if id := model.IDString(props["id"]); id != "" {
		return id
	}
	return fmt.Sprintf("task-index-%d", index)
}

func assignmentID(props model.Values, index int) string {
	if id := model.IDString(props["id"]); id != "" {
		return id
	}
	return fmt.Sprintf("assignment-index-%d", index)
}

func coordinateOf(props model.Values) (*int, *int) {
	c, ok := props.Map("coordinate")
	if !ok {
		return nil, nil
	}
	x, okX := model.AsInt(c["x"])
	y, okY := model.AsInt(c["y"])
	if !okX || !okY {
		return nil, nil
	}
	return &x, &y
}

type addConfig struct {
	template model.Values
}

type AddOption func(*addConfig)

// WithTemplate seeds the new entity from a schema template. Caller properties win over
// template values.
func WithTemplate(t model.Values) AddOption {
	return func(c *addConfig) { c.template = t }
}

// AddEntity appends a new object or task. Objects get id = max(id)+1 within their list
// and the given cell; tasks get the next "t-N" key. Properties supplied by the caller
// override generated fields, but an id or task key already used in the list is rejected.
func (s *Store) AddEntity(kind model.EntityType, x, y *int, props model.Values, opts ...AddOption) (model.Entity, error) {
	var cfg addConfig
	for _, o := range opts {
		o(&cfg)
	}
	listKey, ok := kind.ListKey()
	if !ok {
		return model.Entity{}, model.ValidationError{Field: "type", Message: fmt.Sprintf("cannot add %s as a standalone entity", kind)}
	}
	if kind.IsObject() && (x == nil || y == nil) {
		return model.Entity{}, model.ValidationError{Field: "coordinate", Message: "objects need a grid cell"}
	}

	var created model.Entity
	err := s.mutate("add_"+string(kind), func(ps model.Values) error {
		if kind.IsObject() && (*x < 0 || *y < 0 || *x >= s.width || *y >= s.height) {
			return model.ValidationError{Field: "coordinate", Message: fmt.Sprintf("cell (%d,%d) is outside the %dx%d grid", *x, *y, s.width, s.height)}
		}
		items, _ := ps.List(listKey)
		item := cfg.template.Clone()
		if item == nil {
			item = model.Values{}
		}
		if kind == model.EntityTask {
			item["task_key"] = model.TaskKey(model.NextKeyNumber(items, "task_key", "t-"))
		} else {
			item["id"] = model.NextNumericID(items, "id")
			item["coordinate"] = model.Values{"x": *x, "y": *y}
		}
		for k, v := range model.NormalizeValues(props) {
			item[k] = model.CloneValue(v)
		}
		if kind.IsObject() {
			// The requested cell wins over any coordinate carried in the properties.
			item["coordinate"] = model.Values{"x": *x, "y": *y}
		}
		if err := checkUnique(kind, item, items); err != nil {
			return err
		}
		ps[listKey] = append(append([]any{}, items...), item)

		all := entitiesOf(ps)
		created = all[indexOfLast(all, kind)]
		return nil
	})
	if err != nil {
		return model.Entity{}, err
	}
	s.log.Debug("entity added key=%s", created.Key())
	return created, nil
}

func checkUnique(kind model.EntityType, item model.Values, items []any) error {
	var id, field string
	if kind == model.EntityTask {
		id, field = taskID(item, len(items)), "task_key"
	} else {
		id, field = objectID(kind, item, len(items)), "id"
	}
	if i, _ := findItem(model.EntityKey{Type: kind, ID: id}, items); i >= 0 {
		return model.ValidationError{Field: field, Message: fmt.Sprintf("%s %q already exists", kind, id)}
	}
	return nil
}

func indexOfLast(all []model.Entity, kind model.EntityType) int {
	idx := -1
	for i, e := range all {
		if e.Type == kind {
			idx = i
		}
	}
	return idx
}

// UpdateEntityProperties replaces the properties of an object, task or assignment with
// props. The identity fields and bookkeeping keys of the old value are preserved, so the
// entity keeps its key.
func (s *Store) UpdateEntityProperties(key model.EntityKey, props model.Values) error {
	if key.Type == model.EntityAssignment {
		return s.UpdateAssignment(key.StationID, key.ID, props)
	}
	listKey, ok := key.Type.ListKey()
	if !ok {
		return model.ValidationError{Field: "type", Message: fmt.Sprintf("unknown entity type %q", key.Type)}
	}
	return s.mutate("update_"+string(key.Type), func(ps model.Values) error {
		items, _ := ps.List(listKey)
		i, existing := findItem(key, items)
		if i < 0 {
			return &model.StateError{Entity: string(key.Type), ID: key.ID}
		}
		next := make([]any, len(items))
		copy(next, items)
		next[i] = mergeMeta(existing, model.PinIdentity(key.Type, existing, model.NormalizeValues(props)))
		ps[listKey] = next
		return nil
	})
}

// RemoveEntity deletes an object, task or assignment.
func (s *Store) RemoveEntity(key model.EntityKey) error {
	if key.Type == model.EntityAssignment {
		return s.RemoveAssignmentFromStation(key.StationID, key.ID)
	}
	listKey, ok := key.Type.ListKey()
	if !ok {
		return model.ValidationError{Field: "type", Message: fmt.Sprintf("unknown entity type %q", key.Type)}
	}
	return s.mutate("remove_"+string(key.Type), func(ps model.Values) error {
		items, _ := ps.List(listKey)
		i, _ := findItem(key, items)
		if i < 0 {
			return &model.StateError{Entity: string(key.Type), ID: key.ID}
		}
		next := make([]any, 0, len(items)-1)
		next = append(next, items[:i]...)
		next = append(next, items[i+1:]...)
		ps[listKey] = next
		return nil
	})
}

// MoveEntity places an object on another cell.
func (s *Store) MoveEntity(key model.EntityKey, x, y int) error {
	if !key.Type.IsObject() {
		return model.ValidationError{Field: "type", Message: fmt.Sprintf("%s has no grid position", key.Type)}
	}
	s.mu.RLock()
	w, h := s.width, s.height
	s.mu.RUnlock()
	if x < 0 || y < 0 || x >= w || y >= h {
		return model.ValidationError{Field: "coordinate", Message: fmt.Sprintf("cell (%d,%d) is outside the %dx%d grid", x, y, w, h)}
	}
	listKey, _ := key.Type.ListKey()
	return s.mutate("move_"+string(key.Type), func(ps model.Values) error {
		items, _ := ps.List(listKey)
		i, existing := findItem(key, items)
		if i < 0 {
			return &model.StateError{Entity: string(key.Type), ID: key.ID}
		}
		moved := existing.Clone()
		moved["coordinate"] = model.Values{"x": x, "y": y}
		next := make([]any, len(items))
		copy(next, items)
		next[i] = moved
		ps[listKey] = next
		return nil
	})
}

func findItem(key model.EntityKey, items []any) (int, model.Values) {
	for i, item := range items {
		props, ok := model.AsMap(item)
		if !ok {
			continue
		}
		var id string
		if key.Type == model.EntityTask {
			id = taskID(props, i)
		} else {
			id = objectID(key.Type, props, i)
		}
		if id == key.ID {
			return i, props
		}
	}
	return -1, nil
}

func parseNumericID(field, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a number", raw)}
	}
	return n, nil
}
