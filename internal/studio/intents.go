package studio

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/msageha/psstudio/internal/events"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/store"
)

// Fixed task attributes injected into every task created through AddTask.
const (
	TaskTransportEntityType = "rack"
	TaskType                = "picktask"
	TaskSubtype             = "storable_to_conveyor"
)

// TaskInput is the task creation form. The ids arrive as text and must be integers.
type TaskInput struct {
	DestinationID     string `json:"destination_id" validate:"required,numeric"`
	TransportEntityID string `json:"transport_entity_id" validate:"required,numeric"`
	// TaskKey defaults to the next "t-N" key.
	TaskKey string `json:"task_key,omitempty"`
}

var inputValidate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

func (in TaskInput) Validate() error {
	err := inputValidate.Struct(in)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate task: %w", err)
	}
	var ve model.ValidationErrors
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			ve.Add(fe.Field(), "is required")
			continue
		}
		ve.Add(fe.Field(), fmt.Sprintf("must be an integer (got %q)", fmt.Sprint(fe.Value())))
	}
	return &ve
}

// properties converts the validated form into task attributes.
func (in TaskInput) properties() (model.Values, error) {
	dest, err := strconv.Atoi(strings.TrimSpace(in.DestinationID))
	if err != nil {
		return nil, model.ValidationError{Field: "destination_id", Message: fmt.Sprintf("must be an integer (got %q)", in.DestinationID)}
	}
	transport, err := strconv.Atoi(strings.TrimSpace(in.TransportEntityID))
	if err != nil {
		return nil, model.ValidationError{Field: "transport_entity_id", Message: fmt.Sprintf("must be an integer (got %q)", in.TransportEntityID)}
	}
	props := model.Values{
		"destination_id":        dest,
		"transport_entity_id":   transport,
		"transport_entity_type": TaskTransportEntityType,
		"task_type":             TaskType,
		"task_subtype":          TaskSubtype,
	}
	if in.TaskKey != "" {
		props["task_key"] = in.TaskKey
	}
	return props, nil
}

func (o *Orchestrator) template(kind string) model.Values {
	if o.templates == nil {
		return nil
	}
	t, ok := o.templates.Template(kind)
	if !ok {
		return nil
	}
	return t
}

// AddObjectAt creates an object of kind. A nil coordinate defaults to the grid's centre
// cell; extra properties are merged over the kind's template.
func (o *Orchestrator) AddObjectAt(kind model.EntityType, x, y *int, extra model.Values) (model.Entity, error) {
	if !kind.IsObject() {
		return model.Entity{}, model.ValidationError{Field: "type", Message: fmt.Sprintf("%q is not a grid object", kind)}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	w, h := o.store.GridSize()
	if x == nil {
		cx := w / 2
		x = &cx
	}
	if y == nil {
		cy := h / 2
		y = &cy
	}
	created, err := o.store.AddEntity(kind, x, y, extra, store.WithTemplate(o.template(string(kind))))
	if err != nil {
		return model.Entity{}, err
	}
	o.log.Info("object added key=%s at=(%d,%d)", created.Key(), *x, *y)
	o.publish(events.EventEntityAdded, keyData(created.Key()))
	return created, nil
}

// AddTask validates and coerces the form, then appends the task. Nothing is created
// when any field is malformed.
func (o *Orchestrator) AddTask(in TaskInput) (model.Entity, error) {
	if err := in.Validate(); err != nil {
		return model.Entity{}, err
	}
	props, err := in.properties()
	if err != nil {
		return model.Entity{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	created, err := o.store.AddEntity(model.EntityTask, nil, nil, props, store.WithTemplate(o.template(string(model.EntityTask))))
	if err != nil {
		return model.Entity{}, err
	}
	o.log.Info("task added key=%s", created.Key())
	o.publish(events.EventEntityAdded, keyData(created.Key()))
	return created, nil
}

// AddAssignment appends an assignment to a station's schedule, seeded from the
// assignment template when the server provides one.
func (o *Orchestrator) AddAssignment(in store.AssignmentInput) (model.Entity, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	created, err := o.store.AddAssignmentToStation(in, o.template(string(model.EntityAssignment)))
	if err != nil {
		return model.Entity{}, err
	}
	o.log.Info("assignment added key=%s", created.Key())
	o.publish(events.EventAssignmentAdded, keyData(created.Key()))
	return created, nil
}

// RemoveAssignment deletes one assignment. Both ids are required.
func (o *Orchestrator) RemoveAssignment(stationID, assignmentID string) error {
	if strings.TrimSpace(stationID) == "" {
		return model.ValidationError{Field: "pps_id", Message: "station id is required"}
	}
	if strings.TrimSpace(assignmentID) == "" {
		return model.ValidationError{Field: "assignment_id", Message: "assignment id is required"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.RemoveAssignmentFromStation(stationID, assignmentID); err != nil {
		return err
	}
	key := model.EntityKey{Type: model.EntityAssignment, ID: assignmentID, StationID: stationID}
	o.deselectIf(key)
	o.log.Info("assignment removed key=%s", key)
	o.publish(events.EventAssignmentRemoved, keyData(key))
	return nil
}

// RemoveEntity deletes an object or task, clearing the selection if it pointed there.
func (o *Orchestrator) RemoveEntity(key model.EntityKey) error {
	if key.Type == model.EntityAssignment {
		return o.RemoveAssignment(key.StationID, key.ID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.RemoveEntity(key); err != nil {
		return err
	}
	o.deselectIf(key)
	o.publish(events.EventEntityRemoved, keyData(key))
	return nil
}

// MoveEntity places an object on another cell. The editor is refocused when the moved
// object is selected so its coordinate field is current.
func (o *Orchestrator) MoveEntity(key model.EntityKey, x, y int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.MoveEntity(key, x, y); err != nil {
		return err
	}
	if o.selection.Is(key) {
		if e, err := o.store.Entity(key); err == nil {
			o.selectLocked(&e)
		}
	}
	o.publish(events.EventEntityUpdated, keyData(key))
	return nil
}

// SetGridSize resizes the grid.
func (o *Orchestrator) SetGridSize(width, height int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.SetGridSize(width, height)
}

// ReplaceProblemStatement swaps the whole document, as the JSON view of the statement
// does. The selection is cleared because its entity may no longer exist.
func (o *Orchestrator) ReplaceProblemStatement(ps model.Values) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.UpdateProblemStatement(ps); err != nil {
		return err
	}
	o.selectLocked(nil)
	o.publish(events.EventEntityUpdated, map[string]any{"type": "problem_statement"})
	return nil
}

// ClearAll empties the workspace. It requires confirmation.
func (o *Orchestrator) ClearAll(confirmed bool) error {
	if !confirmed {
		return model.ErrConfirmationRequired
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.selectLocked(nil)
	if err := o.store.ClearAll(); err != nil {
		return err
	}
	o.log.Info("workspace cleared")
	o.publish(events.EventCleared, nil)
	return nil
}

// Reload re-reads the workspace after an external edit. The selection is refreshed,
// or cleared when its entity disappeared.
func (o *Orchestrator) Reload() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	changed, err := o.store.ReloadIfChanged()
	if err != nil || !changed {
		return changed, err
	}
	if key, ok := o.selection.Key(); ok {
		if e, err := o.store.Entity(key); err == nil {
			o.selectLocked(&e)
		} else {
			o.selectLocked(nil)
		}
	}
	o.metrics.WorkspaceReloaded()
	o.publish(events.EventWorkspaceReloaded, nil)
	return true, nil
}

// StationAssignments lists the schedule of one station.
func (o *Orchestrator) StationAssignments(stationID string) ([]model.Entity, error) {
	return o.store.StationAssignments(stationID)
}
