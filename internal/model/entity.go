package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type EntityType string

const (
	EntityPPS        EntityType = "pps"
	EntityMSU        EntityType = "msu"
	EntityBot        EntityType = "bot"
	EntityRelay      EntityType = "relay"
	EntityTask       EntityType = "task"
	EntityAssignment EntityType = "assignment"
)

// ObjectKinds are the entity types that occupy a grid cell.
var ObjectKinds = []EntityType{EntityPPS, EntityMSU, EntityBot, EntityRelay}

var listKeys = map[EntityType]string{
	EntityPPS:   "pps_list",
	EntityMSU:   "transport_entity_list",
	EntityBot:   "ranger_list",
	EntityRelay: "relay_point_list",
	EntityTask:  "task_list",
}

// ListKey is the problem statement list holding entities of type t.
// Assignments have no top-level list; they live under a station's current_schedule.
func (t EntityType) ListKey() (string, bool) {
	k, ok := listKeys[t]
	return k, ok
}

func (t EntityType) IsObject() bool {
	for _, k := range ObjectKinds {
		if k == t {
			return true
		}
	}
	return false
}

// IdentityFields are the property keys an entity of type t is resolved by. Tasks are keyed
// by task_key and fall back to id; every other type uses id. Edits never change them.
func (t EntityType) IdentityFields() []string {
	if t == EntityTask {
		return []string{"task_key", "id"}
	}
	return []string{"id"}
}

// PinIdentity returns a copy of next whose identity fields match current: present where
// current has them and absent where it does not.
func PinIdentity(t EntityType, current, next Values) Values {
	out := next.Clone()
	if out == nil {
		out = Values{}
	}
	for _, f := range t.IdentityFields() {
		if v, ok := current[f]; ok {
			out[f] = CloneValue(v)
		} else {
			delete(out, f)
		}
	}
	return out
}

func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case EntityPPS, EntityMSU, EntityBot, EntityRelay, EntityTask, EntityAssignment:
		return t, nil
	}
	return "", ValidationError{Field: "type", Message: fmt.Sprintf("unknown entity type %q", s)}
}

// EntityKey identifies an entity across collections.
type EntityKey struct {
	Type      EntityType `json:"type" yaml:"type"`
	ID        string     `json:"id" yaml:"id"`
	StationID string     `json:"station_id,omitempty" yaml:"station_id,omitempty"`
}

func (k EntityKey) String() string {
	if k.StationID != "" {
		return fmt.Sprintf("%s:%s/%s", k.Type, k.StationID, k.ID)
	}
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}

// Entity is a placed object or a logical task/assignment.
type Entity struct {
	ID         string     `json:"id" yaml:"id"`
	Type       EntityType `json:"type" yaml:"type"`
	X          *int       `json:"x,omitempty" yaml:"x,omitempty"`
	Y          *int       `json:"y,omitempty" yaml:"y,omitempty"`
	StationID  string     `json:"station_id,omitempty" yaml:"station_id,omitempty"`
	Properties Values     `json:"properties" yaml:"properties"`
}

func (e Entity) Key() EntityKey {
	return EntityKey{Type: e.Type, ID: e.ID, StationID: e.StationID}
}

func (e Entity) Placed() bool {
	return e.X != nil && e.Y != nil
}

func (e Entity) Clone() Entity {
	c := e
	if e.X != nil {
		x := *e.X
		c.X = &x
	}
	if e.Y != nil {
		y := *e.Y
		c.Y = &y
	}
	c.Properties = e.Properties.Clone()
	return c
}

// Values is an open attribute mapping decoded from JSON or YAML.
type Values map[string]any

func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = CloneValue(val)
	}
	return out
}

// CloneValue deep-copies the map and slice shapes produced by the JSON and YAML decoders.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Values:
		return t.Clone()
	case map[string]any:
		return map[string]any(Values(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Map returns the nested mapping stored at key, if any.
func (v Values) Map(key string) (Values, bool) {
	switch m := v[key].(type) {
	case Values:
		return m, true
	case map[string]any:
		return Values(m), true
	}
	return nil, false
}

// List returns the sequence stored at key, if any.
func (v Values) List(key string) ([]any, bool) {
	l, ok := v[key].([]any)
	return l, ok
}

// AsMap converts a decoded element into Values.
func AsMap(v any) (Values, bool) {
	switch m := v.(type) {
	case Values:
		return m, true
	case map[string]any:
		return Values(m), true
	}
	return nil, false
}

// AsInt normalizes the numeric shapes produced by JSON, YAML and form input.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int(n), true
	case float64:
		// 2^63 is the first float above the int64 range.
		if n != math.Trunc(n) || n < math.MinInt64 || n >= -math.MinInt64 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// IDString renders an identifier value the way it is shown to users.
func IDString(v any) string {
	if i, ok := AsInt(v); ok {
		if _, isStr := v.(string); !isStr {
			return strconv.Itoa(i)
		}
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Normalize rewrites decoded values into the canonical shapes (Values for maps, int for
// integral numbers) so documents compare equal regardless of their source format.
func Normalize(v any) any {
	switch t := v.(type) {
	case Values:
		out := make(Values, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[string]any:
		return Normalize(Values(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case float64, json.Number, int64, int32, uint64:
		if i, ok := AsInt(t); ok {
			return i
		}
		if n, ok := t.(json.Number); ok {
			f, err := n.Float64()
			if err == nil {
				return f
			}
		}
		return t
	default:
		return v
	}
}

// NormalizeValues is Normalize for a whole mapping.
func NormalizeValues(v Values) Values {
	if v == nil {
		return nil
	}
	return Normalize(v).(Values)
}
