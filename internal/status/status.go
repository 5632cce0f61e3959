// Package status reports the workspace and daemon state for `psstudio status`.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/msageha/psstudio/internal/daemon"
	"github.com/msageha/psstudio/internal/lock"
	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/metrics"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/setup"
	"github.com/msageha/psstudio/internal/store"
	"github.com/msageha/psstudio/internal/uds"
)

type DaemonState string

const (
	DaemonRunning DaemonState = "running"
	DaemonStopped DaemonState = "stopped"
	// DaemonUnresponsive holds the lock but does not answer on the socket.
	DaemonUnresponsive DaemonState = "unresponsive"
	// DaemonStale left a lock file behind without a live process.
	DaemonStale DaemonState = "stale_lock"
)

type DaemonStatus struct {
	State DaemonState `json:"state"`
	PID   int         `json:"pid,omitempty"`
	// Heartbeat is the last snapshot time written by the daemon.
	Heartbeat *time.Time `json:"heartbeat,omitempty"`
}

type WorkspaceStatus struct {
	Counts map[model.EntityType]int `json:"counts"`
	Width  int                      `json:"width"`
	Height int                      `json:"height"`
}

// Report is the combined status. Live is only set when the daemon answered.
type Report struct {
	Daemon    DaemonStatus       `json:"daemon"`
	Workspace WorkspaceStatus    `json:"workspace"`
	Metrics   metrics.Summary    `json:"metrics"`
	Live      *daemon.StatusView `json:"live,omitempty"`
}

// Collect asks the daemon for its status and falls back to the files under layout
// when it is not reachable.
func Collect(layout setup.Layout) (Report, error) {
	var r Report

	var live daemon.StatusView
	client := uds.NewClient(layout.Socket())
	client.SetTimeout(3 * time.Second)
	if err := client.Call(daemon.CmdStatus, nil, &live); err == nil {
		r.Live = &live
		r.Daemon = DaemonStatus{State: DaemonRunning, PID: live.PID}
		r.Metrics = live.Metrics
		r.Workspace = WorkspaceStatus{
			Counts: live.Studio.Counts,
			Width:  live.Studio.Grid.Width,
			Height: live.Studio.Grid.Height,
		}
		if snap, err := metrics.ReadSnapshot(layout.MetricsFile()); err == nil {
			r.Daemon.Heartbeat = snap.DaemonHeartbeat
		}
		return r, nil
	}

	r.Daemon = probeLock(layout.Lock())
	snap, err := metrics.ReadSnapshot(layout.MetricsFile())
	switch {
	case err == nil:
		r.Metrics = snap.Summary
		r.Daemon.Heartbeat = snap.DaemonHeartbeat
	case !errors.Is(err, os.ErrNotExist):
		return r, fmt.Errorf("read metrics snapshot: %w", err)
	}

	ws, err := readWorkspace(layout)
	if err != nil {
		return r, err
	}
	r.Workspace = ws
	return r, nil
}

func probeLock(path string) DaemonStatus {
	pid, err := lock.ReadPID(path)
	if err != nil {
		return DaemonStatus{State: DaemonStopped}
	}
	if lock.Alive(pid) {
		return DaemonStatus{State: DaemonUnresponsive, PID: pid}
	}
	return DaemonStatus{State: DaemonStale, PID: pid}
}

func readWorkspace(layout setup.Layout) (WorkspaceStatus, error) {
	s, err := store.Open(store.Options{
		Path:         layout.Workspace(),
		WorkspaceDir: layout.Base,
		Logger:       logging.Discard(),
	})
	if err != nil {
		return WorkspaceStatus{}, fmt.Errorf("read workspace: %w", err)
	}
	ws := WorkspaceStatus{Counts: make(map[model.EntityType]int)}
	ws.Width, ws.Height = s.GridSize()
	for _, e := range s.Entities() {
		ws.Counts[e.Type]++
	}
	return ws, nil
}

// Run collects the status and prints it to w.
func Run(layout setup.Layout, w io.Writer, jsonOutput bool) error {
	r, err := Collect(layout)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	Print(w, r)
	return nil
}

func Print(w io.Writer, r Report) {
	switch r.Daemon.State {
	case DaemonRunning:
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", r.Daemon.PID)
	case DaemonUnresponsive:
		fmt.Fprintf(w, "Daemon: unresponsive (pid %d holds the lock)\n", r.Daemon.PID)
	case DaemonStale:
		fmt.Fprintf(w, "Daemon: stopped (stale lock from pid %d)\n", r.Daemon.PID)
	default:
		fmt.Fprintln(w, "Daemon: stopped")
	}
	if r.Daemon.Heartbeat != nil {
		fmt.Fprintf(w, "  last heartbeat: %s\n", r.Daemon.Heartbeat.Format(time.RFC3339))
	}

	fmt.Fprintf(w, "\nWarehouse: %dx%d\n", r.Workspace.Width, r.Workspace.Height)
	kinds := make([]string, 0, len(r.Workspace.Counts))
	for k := range r.Workspace.Counts {
		kinds = append(kinds, string(k))
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-12s %d\n", k, r.Workspace.Counts[model.EntityType(k)])
	}

	if live := r.Live; live != nil {
		st := live.Studio
		fmt.Fprintf(w, "\nTab: %s\n", st.Tab)
		fmt.Fprintf(w, "Selection: %s", st.Selection.Kind)
		if st.Selection.Key != nil {
			fmt.Fprintf(w, " %s", st.Selection.Key.String())
		}
		fmt.Fprintln(w)
		if st.Config.HasLocalChanges {
			fmt.Fprintln(w, "Config: local overrides present")
		}
		switch {
		case st.Solving:
			fmt.Fprintln(w, "Solver: solving")
		case st.LastSolve != nil && st.LastSolve.Error != "":
			fmt.Fprintf(w, "Solver: last solve %s failed: %s\n", st.LastSolve.RequestID, st.LastSolve.Error)
		case st.HasSolution && st.LastSolve != nil:
			fmt.Fprintf(w, "Solver: solution available (%s)\n", st.LastSolve.RequestID)
		}
	}

	if len(r.Metrics.Solves) > 0 {
		fmt.Fprintln(w, "\nSolves:")
		fmt.Fprintf(w, "  %s\n", formatCounts(r.Metrics.Solves))
	}
}

func formatCounts(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, int(m[k])))
	}
	return strings.Join(parts, " ")
}
