package studio

import (
	"context"
	"errors"
	"time"

	"github.com/msageha/psstudio/internal/events"
	"github.com/msageha/psstudio/internal/metrics"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/remote"
)

// SolveRecord describes the most recent solve.
type SolveRecord struct {
	RequestID  string    `json:"request_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	LogCount   int       `json:"log_count"`
}

func (r SolveRecord) Running() bool {
	return r.FinishedAt.IsZero()
}

// Solve flushes pending edits and submits the store's current statement.
func (o *Orchestrator) Solve(ctx context.Context) (model.Solution, error) {
	return o.solve(ctx, nil)
}

// SolveWarehouse submits wh. A warehouse without a problem statement is rejected
// before anything is sent and the current solution is left untouched.
func (o *Orchestrator) SolveWarehouse(ctx context.Context, wh model.Warehouse) (model.Solution, error) {
	if wh.ProblemStatement == nil {
		o.metrics.SolveFinished(metrics.OutcomePrecondition, 0)
		return nil, &model.PreconditionError{Message: "no problem statement to solve; add objects and tasks first"}
	}
	return o.solve(ctx, wh.ProblemStatement)
}

func (o *Orchestrator) solve(ctx context.Context, ps model.Values) (model.Solution, error) {
	o.mu.Lock()
	if o.solving {
		o.mu.Unlock()
		o.metrics.SolveFinished(metrics.OutcomeRejected, 0)
		return nil, model.ErrSolveInFlight
	}
	if o.solver == nil {
		o.mu.Unlock()
		return nil, &model.PreconditionError{Message: "no solver configured"}
	}
	if err := o.editor.Flush(); err != nil {
		o.log.Warn("pending edit not saved before solve: %v", err)
	}
	if ps == nil {
		ps = o.store.Warehouse().ProblemStatement
	}
	submit := model.WithSolveDefaults(ps)
	cfg := o.config.ForSubmission()

	requestID := model.NewRequestID()
	solveCtx, cancel := context.WithCancel(remote.ContextWithRequestID(ctx, requestID))
	o.solving = true
	o.cancelSolve = cancel
	o.solution = nil
	o.tab = model.TabSolution
	o.solveLogs = nil
	record := &SolveRecord{RequestID: requestID, StartedAt: o.now()}
	o.lastSolve = record
	o.mu.Unlock()
	defer cancel()

	o.log.Info("solve started request_id=%s config_keys=%d", requestID, len(cfg))
	o.metrics.SolveStarted()
	o.publish(events.EventSolveStarted, map[string]any{"request_id": requestID})

	sol, err := o.solver.Solve(solveCtx, submit, cfg, func(entry remote.LogEntry) {
		o.appendSolveLog(record, entry)
		o.publish(events.EventSolveLog, map[string]any{
			"request_id": requestID,
			"log":        entry.Log,
			"level":      entry.Level,
			"logger":     entry.Logger,
			"timestamp":  entry.Timestamp,
		})
	})

	o.mu.Lock()
	o.solving = false
	o.cancelSolve = nil
	record.FinishedAt = o.now()
	elapsed := record.FinishedAt.Sub(record.StartedAt)
	if err == nil {
		o.solution = model.Solution(model.Values(sol).Clone())
	} else {
		record.Error = err.Error()
	}
	o.mu.Unlock()

	if err != nil {
		var re *model.RemoteError
		if !errors.As(err, &re) {
			err = model.NewNetworkError("solve", err)
		}
		o.log.Error("solve failed request_id=%s elapsed=%s: %v", requestID, elapsed, err)
		o.metrics.SolveFinished(metrics.OutcomeRemoteError, elapsed)
		o.publish(events.EventSolveFailed, map[string]any{"request_id": requestID, "error": err.Error()})
		return nil, err
	}
	o.log.Info("solve completed request_id=%s elapsed=%s", requestID, elapsed)
	o.metrics.SolveFinished(metrics.OutcomeSuccess, elapsed)
	o.publish(events.EventSolveCompleted, map[string]any{
		"request_id":  requestID,
		"duration_ms": elapsed.Milliseconds(),
	})
	return sol, nil
}

func (o *Orchestrator) appendSolveLog(record *SolveRecord, entry remote.LogEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSolve != record {
		return
	}
	record.LogCount++
	if len(o.solveLogs) >= maxSolveLogs {
		o.solveLogs = o.solveLogs[1:]
	}
	o.solveLogs = append(o.solveLogs, entry)
}

// CancelSolve aborts an outstanding solve. It reports whether one was running.
func (o *Orchestrator) CancelSolve() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelSolve == nil {
		return false
	}
	o.cancelSolve()
	return true
}

// Solution returns the last successful solution, or nil.
func (o *Orchestrator) Solution() model.Solution {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.solution == nil {
		return nil
	}
	return model.Solution(model.Values(o.solution).Clone())
}

// SolveLogs returns the log lines streamed during the last solve.
func (o *Orchestrator) SolveLogs() []remote.LogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]remote.LogEntry(nil), o.solveLogs...)
}

// LastSolve returns a copy of the most recent solve record.
func (o *Orchestrator) LastSolve() (SolveRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSolve == nil {
		return SolveRecord{}, false
	}
	return *o.lastSolve, true
}

func (o *Orchestrator) Solving() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.solving
}

// ClearSolution drops the solution and its logs and returns to the problem tab.
func (o *Orchestrator) ClearSolution() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.solution = nil
	o.solveLogs = nil
	if o.tab == model.TabSolution {
		o.tab = model.TabProblem
	}
}
