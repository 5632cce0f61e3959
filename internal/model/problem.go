package model

// Problem statement keys.
const (
	KeyStartTime               = "start_time"
	KeyRequestID               = "request_id"
	KeyPlanningDurationSeconds = "planning_duration_seconds"
	KeyMaximizingPicks         = "maximizing_picks"
	KeyCurrentSchedule         = "current_schedule"
	KeyAssignments             = "assignments"
	KeyConveyorList            = "conveyor_list"
)

// SolveDefaults are filled into a statement before submission when absent.
var SolveDefaults = Values{
	KeyPlanningDurationSeconds: 5,
	KeyMaximizingPicks:         false,
	KeyStartTime:               0,
	KeyRequestID:               "PSG",
}

// DefaultProblemStatement returns an empty statement with every list present.
func DefaultProblemStatement() Values {
	ps := Values{
		KeyConveyorList: []any{},
	}
	for _, t := range []EntityType{EntityTask, EntityPPS, EntityMSU, EntityBot, EntityRelay} {
		k, _ := t.ListKey()
		ps[k] = []any{}
	}
	for k, v := range SolveDefaults {
		ps[k] = v
	}
	return ps
}

// WithSolveDefaults returns a copy of ps with SolveDefaults applied to keys that are
// absent or null.
func WithSolveDefaults(ps Values) Values {
	out := ps.Clone()
	for k, v := range SolveDefaults {
		if cur, ok := out[k]; !ok || cur == nil {
			out[k] = v
		}
	}
	return out
}

// Warehouse is the solve input: grid dimensions plus the problem statement root.
// A nil ProblemStatement means there is nothing to solve.
type Warehouse struct {
	Width            int    `json:"width" yaml:"width"`
	Height           int    `json:"height" yaml:"height"`
	ProblemStatement Values `json:"problem_statement" yaml:"problem_statement"`
}

// Solution is the opaque solver result.
type Solution Values

type Tab string

const (
	TabProblem  Tab = "problem"
	TabSolution Tab = "solution"
)
