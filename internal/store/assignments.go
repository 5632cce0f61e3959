package store

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/msageha/psstudio/internal/model"
)

// AssignmentInput is the loosely typed form data for a new assignment. Numeric ids arrive
// as strings and are parsed here.
type AssignmentInput struct {
	StationID string `json:"pps_id" validate:"required,numeric"`
	BotID     string `json:"bot_id" validate:"required,numeric"`
	MSUID     string `json:"msu_id" validate:"required,numeric"`
	// ID defaults to a generated UUID.
	ID string `json:"id,omitempty"`
	// TaskKey defaults to the next "a-N" key across all stations.
	TaskKey   string `json:"task_key,omitempty"`
	StartTime *int64 `json:"start_time,omitempty" validate:"omitempty,gte=0"`
	EndTime   *int64 `json:"end_time,omitempty" validate:"omitempty,gte=0"`
}

var inputValidate = newInputValidator()

func newInputValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (in AssignmentInput) Validate() error {
	var ve model.ValidationErrors
	if err := inputValidate.Struct(in); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("validate assignment: %w", err)
		}
		for _, fe := range fieldErrs {
			ve.Add(fe.Field(), fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()))
		}
	}
	if in.StartTime != nil && in.EndTime != nil && *in.EndTime < *in.StartTime {
		ve.Add("end_time", "must not be before start_time")
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// AddAssignmentToStation appends an assignment to the station's current schedule. When
// template is non-nil it seeds the assignment; the input always wins.
func (s *Store) AddAssignmentToStation(in AssignmentInput, template model.Values) (model.Entity, error) {
	if err := in.Validate(); err != nil {
		return model.Entity{}, err
	}
	stationNum, err := parseNumericID("pps_id", in.StationID)
	if err != nil {
		return model.Entity{}, err
	}
	botNum, err := parseNumericID("bot_id", in.BotID)
	if err != nil {
		return model.Entity{}, err
	}
	msuNum, err := parseNumericID("msu_id", in.MSUID)
	if err != nil {
		return model.Entity{}, err
	}

	var created model.Entity
	err = s.mutate("add_assignment", func(ps model.Values) error {
		stations, _ := ps.List("pps_list")
		idx, station := findStation(stations, stationNum)
		if idx < 0 {
			return &model.StateError{Entity: "pps", ID: in.StationID}
		}

		a := template.Clone()
		if a == nil {
			a = model.Values{}
		}
		id := in.ID
		if id == "" {
			id = model.NewAssignmentID()
		}
		taskKey := in.TaskKey
		if taskKey == "" {
			taskKey = model.AssignmentTaskKey(model.NextKeyNumber(allAssignments(stations), "task_key", "a-"))
		}
		a["id"] = id
		a["task_key"] = taskKey
		a["assigned_ranger_id"] = botNum
		a["dock_pps_id"] = stationNum
		a["transport_entity_id"] = msuNum
		if in.StartTime != nil {
			a["start_time"] = int(*in.StartTime)
		}
		if in.EndTime != nil {
			a["end_time"] = int(*in.EndTime)
		}

		existing := assignmentsOf(station)
		for i, cur := range existing {
			if m, ok := model.AsMap(cur); ok && assignmentID(m, i) == id {
				return model.ValidationError{Field: "id", Message: fmt.Sprintf("assignment %q already exists at station %s", id, in.StationID)}
			}
		}
		updated := append(append([]any{}, existing...), a)
		setStation(ps, stations, idx, withAssignments(station, updated))

		created = model.Entity{
			ID:         id,
			Type:       model.EntityAssignment,
			StationID:  model.IDString(station["id"]),
			Properties: a.Clone(),
		}
		return nil
	})
	if err != nil {
		return model.Entity{}, err
	}
	return created, nil
}

// RemoveAssignmentFromStation deletes wantID from stationID's schedule.
func (s *Store) RemoveAssignmentFromStation(stationID, wantID string) error {
	stationNum, err := parseNumericID("pps_id", stationID)
	if err != nil {
		return err
	}
	return s.mutate("remove_assignment", func(ps model.Values) error {
		stations, _ := ps.List("pps_list")
		idx, station := findStation(stations, stationNum)
		if idx < 0 {
			return &model.StateError{Entity: "pps", ID: stationID}
		}
		existing := assignmentsOf(station)
		kept := make([]any, 0, len(existing))
		found := false
		for i, a := range existing {
			if m, ok := model.AsMap(a); ok && assignmentID(m, i) == wantID {
				found = true
				continue
			}
			kept = append(kept, a)
		}
		if !found {
			return &model.StateError{Entity: "assignment", ID: wantID}
		}
		setStation(ps, stations, idx, withAssignments(station, kept))
		return nil
	})
}

// UpdateAssignment replaces the properties of one assignment. Its id and the bookkeeping
// keys are carried over from the stored value.
func (s *Store) UpdateAssignment(stationID, wantID string, props model.Values) error {
	stationNum, err := parseNumericID("pps_id", stationID)
	if err != nil {
		return err
	}
	return s.mutate("update_assignment", func(ps model.Values) error {
		stations, _ := ps.List("pps_list")
		idx, station := findStation(stations, stationNum)
		if idx < 0 {
			return &model.StateError{Entity: "pps", ID: stationID}
		}
		existing := assignmentsOf(station)
		next := make([]any, len(existing))
		copy(next, existing)
		found := false
		for i, a := range existing {
			m, ok := model.AsMap(a)
			if ok && assignmentID(m, i) == wantID {
				next[i] = mergeMeta(m, model.PinIdentity(model.EntityAssignment, m, model.NormalizeValues(props)))
				found = true
				break
			}
		}
		if !found {
			return &model.StateError{Entity: "assignment", ID: wantID}
		}
		setStation(ps, stations, idx, withAssignments(station, next))
		return nil
	})
}

// StationAssignments lists the assignments scheduled at stationID.
func (s *Store) StationAssignments(stationID string) ([]model.Entity, error) {
	stationNum, err := parseNumericID("pps_id", stationID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stations, _ := s.ps.List("pps_list")
	idx, station := findStation(stations, stationNum)
	if idx < 0 {
		return nil, &model.StateError{Entity: "pps", ID: stationID}
	}
	out := []model.Entity{}
	for i, a := range assignmentsOf(station) {
		m, ok := model.AsMap(a)
		if !ok {
			continue
		}
		out = append(out, model.Entity{
			ID:         assignmentID(m, i),
			Type:       model.EntityAssignment,
			StationID:  model.IDString(station["id"]),
			Properties: m.Clone(),
		})
	}
	return out, nil
}

func findStation(stations []any, id int) (int, model.Values) {
	for i, item := range stations {
		station, ok := model.AsMap(item)
		if !ok {
			continue
		}
		if n, ok := model.AsInt(station["id"]); ok && n == id {
			return i, station
		}
	}
	return -1, nil
}

func assignmentsOf(station model.Values) []any {
	schedule, ok := station.Map(model.KeyCurrentSchedule)
	if !ok {
		return nil
	}
	list, _ := schedule.List(model.KeyAssignments)
	return list
}

func allAssignments(stations []any) []any {
	var all []any
	for _, item := range stations {
		if station, ok := model.AsMap(item); ok {
			all = append(all, assignmentsOf(station)...)
		}
	}
	return all
}

func withAssignments(station model.Values, assignments []any) model.Values {
	out := station.Clone()
	schedule, ok := out.Map(model.KeyCurrentSchedule)
	if !ok {
		schedule = model.Values{}
	}
	schedule = schedule.Clone()
	schedule[model.KeyAssignments] = assignments
	out[model.KeyCurrentSchedule] = schedule
	return out
}

func setStation(ps model.Values, stations []any, idx int, station model.Values) {
	next := make([]any, len(stations))
	copy(next, stations)
	next[idx] = station
	ps["pps_list"] = next
}
