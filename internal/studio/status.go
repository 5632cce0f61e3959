package studio

import (
	"github.com/msageha/psstudio/internal/editor"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/overrides"
)

type SelectionInfo struct {
	Kind model.SelectionKind `json:"kind"`
	Key  *model.EntityKey    `json:"key,omitempty"`
}

type GridInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Status is a point-in-time summary of the studio.
type Status struct {
	Counts      map[model.EntityType]int `json:"counts"`
	Grid        GridInfo                 `json:"grid"`
	Selection   SelectionInfo            `json:"selection"`
	Tab         model.Tab                `json:"tab"`
	Editor      editor.Snapshot          `json:"editor"`
	Config      overrides.Status         `json:"config"`
	Solving     bool                     `json:"solving"`
	HasSolution bool                     `json:"has_solution"`
	LastSolve   *SolveRecord             `json:"last_solve,omitempty"`
}

func (o *Orchestrator) Status() Status {
	entities := o.store.Entities()
	w, h := o.store.GridSize()
	st := Status{
		Counts: make(map[model.EntityType]int),
		Grid:   GridInfo{Width: w, Height: h},
		Editor: o.editor.Snapshot(),
		Config: o.config.Status(),
	}
	for _, e := range entities {
		st.Counts[e.Type]++
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	st.Selection.Kind = o.selection.Kind()
	if key, ok := o.selection.Key(); ok {
		st.Selection.Key = &key
	}
	st.Tab = o.tab
	st.Solving = o.solving
	st.HasSolution = o.solution != nil
	if o.lastSolve != nil {
		rec := *o.lastSolve
		st.LastSolve = &rec
	}
	return st
}
