// Package metrics holds the studio's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "psstudio"

// Solve outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeRemoteError  = "remote_error"
	OutcomePrecondition = "precondition"
	OutcomeRejected     = "rejected"
)

// Metrics groups the collectors registered on one registry. A nil *Metrics records
// nothing, so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	commits        *prometheus.CounterVec
	commitErrors   *prometheus.CounterVec
	solves         *prometheus.CounterVec
	solveDuration  prometheus.Histogram
	solveInFlight  prometheus.Gauge
	mutations      *prometheus.CounterVec
	overrideCount  prometheus.Gauge
	workspaceLoads prometheus.Counter
}

// New registers every collector on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "editor_commits_total",
			Help:      "Property editor commits by kind",
		}, []string{"kind"}),
		commitErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "editor_commit_errors_total",
			Help:      "Property editor commits rejected by the store, by kind",
		}, []string{"kind"}),
		solves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "Solve requests by outcome",
		}, []string{"outcome"}),
		solveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Round trip time of solve requests that reached the solver",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
		}),
		solveInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solve_in_flight",
			Help:      "1 while a solve is outstanding",
		}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_mutations_total",
			Help:      "Persisted workspace mutations by operation",
		}, []string{"op"}),
		overrideCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_overrides",
			Help:      "Number of local configuration overrides",
		}),
		workspaceLoads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_reloads_total",
			Help:      "Workspace reloads triggered by external edits",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCommit(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.commitErrors.WithLabelValues(kind).Inc()
		return
	}
	m.commits.WithLabelValues(kind).Inc()
}

func (m *Metrics) SolveStarted() {
	if m == nil {
		return
	}
	m.solveInFlight.Set(1)
}

// SolveFinished records the outcome. d is only observed for requests that reached the
// solver.
func (m *Metrics) SolveFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.solves.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeSuccess, OutcomeRemoteError:
		m.solveInFlight.Set(0)
		m.solveDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveMutation(op string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
}

func (m *Metrics) SetOverrideCount(n int) {
	if m == nil {
		return
	}
	m.overrideCount.Set(float64(n))
}

func (m *Metrics) WorkspaceReloaded() {
	if m == nil {
		return
	}
	m.workspaceLoads.Inc()
}

// Summary is a flattened view of the studio counters for status files and CLI output.
type Summary struct {
	Commits        map[string]float64 `json:"commits" yaml:"commits"`
	CommitErrors   map[string]float64 `json:"commit_errors" yaml:"commit_errors"`
	Solves         map[string]float64 `json:"solves" yaml:"solves"`
	Mutations      map[string]float64 `json:"mutations" yaml:"mutations"`
	SolveInFlight  bool               `json:"solve_in_flight" yaml:"solve_in_flight"`
	Overrides      int                `json:"overrides" yaml:"overrides"`
	WorkspaceLoads int                `json:"workspace_reloads" yaml:"workspace_reloads"`
	SolveCount     uint64             `json:"solve_count" yaml:"solve_count"`
	SolveSeconds   float64            `json:"solve_seconds_total" yaml:"solve_seconds_total"`
}

// Summarize gathers the studio collectors from the registry.
func (m *Metrics) Summarize() (Summary, error) {
	s := Summary{
		Commits:      map[string]float64{},
		CommitErrors: map[string]float64{},
		Solves:       map[string]float64{},
		Mutations:    map[string]float64{},
	}
	if m == nil {
		return s, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return s, err
	}
	for _, fam := range families {
		switch fam.GetName() {
		case namespace + "_editor_commits_total":
			collectLabeled(fam, "kind", s.Commits)
		case namespace + "_editor_commit_errors_total":
			collectLabeled(fam, "kind", s.CommitErrors)
		case namespace + "_solves_total":
			collectLabeled(fam, "outcome", s.Solves)
		case namespace + "_store_mutations_total":
			collectLabeled(fam, "op", s.Mutations)
		case namespace + "_solve_in_flight":
			s.SolveInFlight = firstValue(fam) > 0
		case namespace + "_config_overrides":
			s.Overrides = int(firstValue(fam))
		case namespace + "_workspace_reloads_total":
			s.WorkspaceLoads = int(firstValue(fam))
		case namespace + "_solve_duration_seconds":
			for _, metric := range fam.GetMetric() {
				s.SolveCount += metric.GetHistogram().GetSampleCount()
				s.SolveSeconds += metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return s, nil
}

func collectLabeled(fam *dto.MetricFamily, label string, out map[string]float64) {
	for _, metric := range fam.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] += valueOf(metric)
			}
		}
	}
}

func firstValue(fam *dto.MetricFamily) float64 {
	for _, metric := range fam.GetMetric() {
		return valueOf(metric)
	}
	return 0
}

func valueOf(metric *dto.Metric) float64 {
	switch {
	case metric.GetCounter() != nil:
		return metric.GetCounter().GetValue()
	case metric.GetGauge() != nil:
		return metric.GetGauge().GetValue()
	}
	return 0
}
