package daemon

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/msageha/psstudio/internal/editor"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/schema"
	"github.com/msageha/psstudio/internal/store"
	"github.com/msageha/psstudio/internal/studio"
	"github.com/msageha/psstudio/internal/uds"
)

type none struct{}

// handle adapts a typed handler to the socket protocol: params are decoded into P and
// errors are classified into protocol codes.
func handle[P any](fn func(ctx context.Context, p P) (any, error)) uds.HandlerFunc {
	return func(ctx context.Context, req *uds.Request) *uds.Response {
		var p P
		if err := req.DecodeParams(&p); err != nil {
			return uds.ErrorFrom(err)
		}
		out, err := fn(ctx, p)
		if err != nil {
			return uds.ErrorFrom(err)
		}
		return uds.SuccessResponse(out)
	}
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	s := d.server

	s.Handle(CmdPing, handle(func(context.Context, none) (any, error) {
		return map[string]any{"status": "ok", "pid": os.Getpid()}, nil
	}))
	s.Handle(CmdShutdown, handle(func(context.Context, none) (any, error) {
		d.log.Info("shutdown requested via UDS")
		go d.Shutdown()
		return map[string]string{"status": "shutdown_accepted"}, nil
	}))
	s.Handle(CmdStatus, handle(d.handleStatus))
	s.Handle(CmdReload, handle(func(context.Context, none) (any, error) {
		changed, err := d.studio.Reload()
		return map[string]bool{"changed": changed}, err
	}))

	s.Handle(CmdEntities, handle(d.handleEntities))
	s.Handle(CmdSelect, handle(d.handleSelect))
	s.Handle(CmdAddObject, handle(d.handleAddObject))
	s.Handle(CmdAddTask, handle(func(_ context.Context, in studio.TaskInput) (any, error) {
		return d.studio.AddTask(in)
	}))
	s.Handle(CmdAddAssignment, handle(func(_ context.Context, in store.AssignmentInput) (any, error) {
		return d.studio.AddAssignment(in)
	}))
	s.Handle(CmdRemoveAssignment, handle(func(_ context.Context, p RemoveAssignmentParams) (any, error) {
		return nil, d.studio.RemoveAssignment(p.StationID, p.AssignmentID)
	}))
	s.Handle(CmdRemoveEntity, handle(func(_ context.Context, p KeyParams) (any, error) {
		key, err := p.Key()
		if err != nil {
			return nil, err
		}
		return nil, d.studio.RemoveEntity(key)
	}))
	s.Handle(CmdMoveEntity, handle(func(_ context.Context, p MoveParams) (any, error) {
		key, err := p.Key()
		if err != nil {
			return nil, err
		}
		return nil, d.studio.MoveEntity(key, p.X, p.Y)
	}))
	s.Handle(CmdGridSize, handle(func(_ context.Context, p GridSizeParams) (any, error) {
		return nil, d.studio.SetGridSize(p.Width, p.Height)
	}))
	s.Handle(CmdReplaceStatement, handle(func(_ context.Context, p StatementParams) (any, error) {
		if p.ProblemStatement == nil {
			return nil, model.ValidationError{Field: "problem_statement", Message: "problem statement is required"}
		}
		return nil, d.studio.ReplaceProblemStatement(model.NormalizeValues(p.ProblemStatement))
	}))
	s.Handle(CmdClear, handle(func(_ context.Context, p ConfirmParams) (any, error) {
		return nil, d.studio.ClearAll(p.Confirm)
	}))
	s.Handle(CmdTab, handle(func(_ context.Context, p TabParams) (any, error) {
		if p.Tab != "" {
			if err := d.studio.SetTab(p.Tab); err != nil {
				return nil, err
			}
		}
		return map[string]model.Tab{"tab": d.studio.Tab()}, nil
	}))

	d.registerEditHandlers()
	d.registerConfigHandlers()
	d.registerSchemaHandlers()
	d.registerSolveHandlers()
}

func (d *Daemon) handleStatus(context.Context, none) (any, error) {
	sum, err := d.metrics.Summarize()
	if err != nil {
		d.log.Warn("summarize metrics: %v", err)
	}
	return StatusView{
		PID:       os.Getpid(),
		StartedAt: d.startedAt,
		Studio:    d.studio.Status(),
		Schemas:   d.schemas.Stats(),
		Metrics:   sum,
	}, nil
}

func (d *Daemon) handleEntities(_ context.Context, p EntitiesParams) (any, error) {
	if p.StationID != "" {
		return d.studio.StationAssignments(p.StationID)
	}
	all := d.studio.Entities()
	if p.Type == "" {
		return all, nil
	}
	kind, err := model.ParseEntityType(p.Type)
	if err != nil {
		return nil, err
	}
	out := []model.Entity{}
	for _, e := range all {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *Daemon) handleSelect(_ context.Context, p SelectParams) (any, error) {
	if p.None {
		d.studio.SelectEntity(nil)
		return d.studio.Status().Selection, nil
	}
	key, err := p.Key()
	if err != nil {
		return nil, err
	}
	sel, err := d.studio.SelectByKey(key)
	if err != nil {
		return nil, err
	}
	e, _ := sel.Entity()
	return e, nil
}

func (d *Daemon) handleAddObject(_ context.Context, p AddObjectParams) (any, error) {
	kind, err := model.ParseEntityType(p.Type)
	if err != nil {
		return nil, err
	}
	return d.studio.AddObjectAt(kind, p.X, p.Y, model.NormalizeValues(p.Properties))
}

func (d *Daemon) registerEditHandlers() {
	s := d.server
	snapshot := func(err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return d.studio.EditorSnapshot(), nil
	}

	s.Handle(CmdEditShow, handle(func(context.Context, none) (any, error) {
		return d.studio.EditorSnapshot(), nil
	}))
	s.Handle(CmdEditField, handle(func(_ context.Context, p FieldParams) (any, error) {
		return snapshot(d.studio.SetField(p.Key, editor.ParseFieldValue(p.Value)))
	}))
	s.Handle(CmdEditNested, handle(func(_ context.Context, p FieldParams) (any, error) {
		return snapshot(d.studio.SetNestedField(p.Parent, p.Key, editor.ParseFieldValue(p.Value)))
	}))
	s.Handle(CmdEditJSON, handle(func(_ context.Context, p JSONTextParams) (any, error) {
		return snapshot(d.studio.SetJSONText(p.Text))
	}))
	s.Handle(CmdEditMode, handle(func(_ context.Context, p ModeParams) (any, error) {
		mode, err := editor.ParseMode(p.Mode)
		if err != nil {
			return nil, err
		}
		d.studio.SetEditorMode(mode)
		return d.studio.EditorSnapshot(), nil
	}))
	s.Handle(CmdEditReset, handle(func(context.Context, none) (any, error) {
		return snapshot(d.studio.ResetEditor())
	}))
	s.Handle(CmdEditFlush, handle(func(context.Context, none) (any, error) {
		return snapshot(d.studio.FlushEditor())
	}))
}

func (d *Daemon) registerConfigHandlers() {
	s := d.server
	view := func(err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return ConfigView{Effective: d.studio.EffectiveConfig(), Status: d.studio.ConfigStatus()}, nil
	}

	s.Handle(CmdConfigShow, handle(func(context.Context, none) (any, error) {
		return view(nil)
	}))
	s.Handle(CmdConfigEdit, handle(func(_ context.Context, p ConfigKeyParams) (any, error) {
		return view(d.studio.BeginConfigEdit(p.Key))
	}))
	s.Handle(CmdConfigSet, handle(func(_ context.Context, p ConfigKeyParams) (any, error) {
		return view(d.studio.EditConfig(p.Key, p.Value))
	}))
	s.Handle(CmdConfigCancel, handle(func(context.Context, none) (any, error) {
		d.studio.CancelConfigEdit()
		return view(nil)
	}))
	s.Handle(CmdConfigReset, handle(func(_ context.Context, p ConfigKeyParams) (any, error) {
		if p.All {
			return view(d.studio.ResetAllConfig())
		}
		if strings.TrimSpace(p.Key) == "" {
			return nil, model.ValidationError{Field: "key", Message: "config key is required (or reset all)"}
		}
		return view(d.studio.ResetConfigKey(p.Key))
	}))
	s.Handle(CmdConfigClear, handle(func(_ context.Context, p ConfirmParams) (any, error) {
		return view(d.studio.ClearLocalConfig(p.Confirm))
	}))
	s.Handle(CmdConfigRefresh, handle(func(ctx context.Context, _ none) (any, error) {
		return view(d.studio.RefreshServerConfig(ctx))
	}))
}

func (d *Daemon) schemaView(kind string) SchemaView {
	v := SchemaView{Kind: kind}
	v.Template, v.Found = d.schemas.Template(kind)
	v.Source, _ = d.schemas.Source(kind)
	return v
}

func checkKind(kind string) error {
	if !slices.Contains(schema.Kinds, kind) {
		return model.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown template %q (known: %s)", kind, strings.Join(schema.Kinds, ", "))}
	}
	return nil
}

func (d *Daemon) registerSchemaHandlers() {
	s := d.server

	s.Handle(CmdSchemaShow, handle(func(_ context.Context, p SchemaParams) (any, error) {
		if p.Kind == "" {
			out := make([]SchemaView, 0, len(schema.Kinds))
			for _, kind := range schema.Kinds {
				out = append(out, d.schemaView(kind))
			}
			return out, nil
		}
		if err := checkKind(p.Kind); err != nil {
			return nil, err
		}
		return d.schemaView(p.Kind), nil
	}))
	s.Handle(CmdSchemaSet, handle(func(_ context.Context, p SchemaParams) (any, error) {
		if err := checkKind(p.Kind); err != nil {
			return nil, err
		}
		if p.Template == nil {
			return nil, model.ValidationError{Field: "template", Message: "template object is required"}
		}
		d.schemas.Set(p.Kind, p.Template)
		return d.schemaView(p.Kind), nil
	}))
	s.Handle(CmdSchemaReset, handle(func(_ context.Context, p SchemaParams) (any, error) {
		if err := checkKind(p.Kind); err != nil {
			return nil, err
		}
		d.schemas.ResetToDefault(p.Kind)
		return d.schemaView(p.Kind), nil
	}))
	s.Handle(CmdSchemaRefresh, handle(func(ctx context.Context, _ none) (any, error) {
		if err := d.schemas.Refresh(ctx); err != nil {
			return nil, err
		}
		return d.schemas.Stats(), nil
	}))
}

func (d *Daemon) registerSolveHandlers() {
	s := d.server

	s.Handle(CmdSolve, handle(func(ctx context.Context, _ none) (any, error) {
		sol, err := d.studio.Solve(ctx)
		if err != nil {
			return nil, err
		}
		res := SolveResult{Solution: sol}
		if rec, ok := d.studio.LastSolve(); ok {
			res.RequestID = rec.RequestID
			res.LogCount = rec.LogCount
		}
		return res, nil
	}))
	s.Handle(CmdSolveCancel, handle(func(context.Context, none) (any, error) {
		return map[string]bool{"cancelled": d.studio.CancelSolve()}, nil
	}))
	s.Handle(CmdSolution, handle(func(context.Context, none) (any, error) {
		v := SolutionView{Solution: d.studio.Solution()}
		if rec, ok := d.studio.LastSolve(); ok {
			v.LastSolve = &rec
		}
		return v, nil
	}))
	s.Handle(CmdSolveLogs, handle(func(context.Context, none) (any, error) {
		return d.studio.SolveLogs(), nil
	}))
	s.Handle(CmdClearSolution, handle(func(context.Context, none) (any, error) {
		d.studio.ClearSolution()
		return nil, nil
	}))
}
