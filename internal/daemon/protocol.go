package daemon

import (
	"strings"
	"time"

	"github.com/msageha/psstudio/internal/metrics"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/overrides"
	"github.com/msageha/psstudio/internal/remote"
	"github.com/msageha/psstudio/internal/schema"
	"github.com/msageha/psstudio/internal/studio"
)

// Commands served over the daemon socket.
const (
	CmdPing     = "ping"
	CmdShutdown = "shutdown"
	CmdStatus   = "status"
	CmdReload   = "reload"

	CmdEntities         = "entities"
	CmdSelect           = "select"
	CmdAddObject        = "add_object"
	CmdAddTask          = "add_task"
	CmdAddAssignment    = "add_assignment"
	CmdRemoveAssignment = "remove_assignment"
	CmdRemoveEntity     = "remove_entity"
	CmdMoveEntity       = "move_entity"
	CmdGridSize         = "grid_size"
	CmdReplaceStatement = "replace_statement"
	CmdClear            = "clear"
	CmdTab              = "tab"

	CmdEditShow   = "edit_show"
	CmdEditField  = "edit_field"
	CmdEditNested = "edit_nested"
	CmdEditJSON   = "edit_json"
	CmdEditMode   = "edit_mode"
	CmdEditReset  = "edit_reset"
	CmdEditFlush  = "edit_flush"

	CmdConfigShow    = "config_show"
	CmdConfigEdit    = "config_edit"
	CmdConfigSet     = "config_set"
	CmdConfigCancel  = "config_cancel"
	CmdConfigReset   = "config_reset"
	CmdConfigClear   = "config_clear"
	CmdConfigRefresh = "config_refresh"

	CmdSchemaShow    = "schema_show"
	CmdSchemaSet     = "schema_set"
	CmdSchemaReset   = "schema_reset"
	CmdSchemaRefresh = "schema_refresh"

	CmdSolve         = "solve"
	CmdSolveCancel   = "solve_cancel"
	CmdSolution      = "solution"
	CmdSolveLogs     = "solve_logs"
	CmdClearSolution = "clear_solution"
)

// KeyParams names an entity. StationID is only set for assignments.
type KeyParams struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	StationID string `json:"station_id,omitempty"`
}

func (p KeyParams) Key() (model.EntityKey, error) {
	kind, err := model.ParseEntityType(p.Type)
	if err != nil {
		return model.EntityKey{}, err
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return model.EntityKey{}, model.ValidationError{Field: "id", Message: "entity id is required"}
	}
	key := model.EntityKey{Type: kind, ID: id, StationID: strings.TrimSpace(p.StationID)}
	if kind == model.EntityAssignment && key.StationID == "" {
		return model.EntityKey{}, model.ValidationError{Field: "station_id", Message: "assignments are addressed through their station"}
	}
	return key, nil
}

type EntitiesParams struct {
	// Type restricts the listing to one entity type.
	Type string `json:"type,omitempty"`
	// StationID lists one station's assignments.
	StationID string `json:"station_id,omitempty"`
}

// SelectParams selects Key, or clears the selection when None is set.
type SelectParams struct {
	KeyParams
	None bool `json:"none,omitempty"`
}

type AddObjectParams struct {
	Type       string       `json:"type"`
	X          *int         `json:"x,omitempty"`
	Y          *int         `json:"y,omitempty"`
	Properties model.Values `json:"properties,omitempty"`
}

type RemoveAssignmentParams struct {
	StationID    string `json:"pps_id"`
	AssignmentID string `json:"assignment_id"`
}

type MoveParams struct {
	KeyParams
	X int `json:"x"`
	Y int `json:"y"`
}

type GridSizeParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type StatementParams struct {
	ProblemStatement model.Values `json:"problem_statement"`
}

type ConfirmParams struct {
	Confirm bool `json:"confirm"`
}

type TabParams struct {
	Tab model.Tab `json:"tab"`
}

// FieldParams carries a form field edit. Value is user text; JSON literals are decoded,
// anything else is kept as a string.
type FieldParams struct {
	Key    string `json:"key"`
	Parent string `json:"parent,omitempty"`
	Value  string `json:"value"`
}

type JSONTextParams struct {
	Text string `json:"text"`
}

type ModeParams struct {
	Mode string `json:"mode"`
}

type ConfigKeyParams struct {
	Key string `json:"key"`
	// Value is the raw override text for config_set.
	Value string `json:"value,omitempty"`
	// All resets every key for config_reset.
	All bool `json:"all,omitempty"`
}

type SchemaParams struct {
	Kind     string       `json:"kind"`
	Template model.Values `json:"template,omitempty"`
}

// SchemaView reports one template and where it came from.
type SchemaView struct {
	Kind     string        `json:"kind"`
	Source   schema.Source `json:"source,omitempty"`
	Template model.Values  `json:"template,omitempty"`
	Found    bool          `json:"found"`
}

type ConfigView struct {
	Effective map[string]any   `json:"effective"`
	Status    overrides.Status `json:"status"`
}

type SolveResult struct {
	RequestID string         `json:"request_id"`
	Solution  model.Solution `json:"solution"`
	LogCount  int            `json:"log_count"`
}

type SolutionView struct {
	Solution  model.Solution      `json:"solution,omitempty"`
	LastSolve *studio.SolveRecord `json:"last_solve,omitempty"`
	Logs      []remote.LogEntry   `json:"logs,omitempty"`
}

// StatusView is the daemon's answer to `psstudio status`.
type StatusView struct {
	PID       int               `json:"pid"`
	StartedAt time.Time         `json:"started_at"`
	Studio    studio.Status     `json:"studio"`
	Schemas   schema.CacheStats `json:"schemas"`
	Metrics   metrics.Summary   `json:"metrics"`
}
