package model

type SelectionKind string

const (
	SelectionNone       SelectionKind = "none"
	SelectionObject     SelectionKind = "object"
	SelectionTask       SelectionKind = "task"
	SelectionAssignment SelectionKind = "assignment"
)

// Selection is the single system-wide focus. Kind is derived from the entity so the two
// can never disagree; the zero value is SelectionNone.
type Selection struct {
	kind   SelectionKind
	entity *Entity
}

func SelectionOf(e *Entity) Selection {
	if e == nil {
		return Selection{kind: SelectionNone}
	}
	c := e.Clone()
	switch c.Type {
	case EntityTask:
		return Selection{kind: SelectionTask, entity: &c}
	case EntityAssignment:
		return Selection{kind: SelectionAssignment, entity: &c}
	default:
		return Selection{kind: SelectionObject, entity: &c}
	}
}

func (s Selection) Kind() SelectionKind {
	if s.kind == "" {
		return SelectionNone
	}
	return s.kind
}

// Entity returns a copy of the selected entity.
func (s Selection) Entity() (Entity, bool) {
	if s.entity == nil {
		return Entity{}, false
	}
	return s.entity.Clone(), true
}

func (s Selection) Key() (EntityKey, bool) {
	if s.entity == nil {
		return EntityKey{}, false
	}
	return s.entity.Key(), true
}

// Is reports whether key is the selected entity.
func (s Selection) Is(key EntityKey) bool {
	k, ok := s.Key()
	return ok && k == key
}
