package metrics

import (
	"fmt"
	"time"

	yamlutil "github.com/msageha/psstudio/internal/yaml"
)

// SnapshotFileName is the metrics document under .psstudio/state/.
const SnapshotFileName = "metrics.yaml"

// Snapshot is the on-disk form of Summary, read by `psstudio status` without talking to
// the daemon.
type Snapshot struct {
	yamlutil.SchemaHeader `yaml:",inline"`
	Summary               Summary    `yaml:"summary"`
	DaemonHeartbeat       *time.Time `yaml:"daemon_heartbeat"`
	UpdatedAt             *time.Time `yaml:"updated_at"`
}

// EmptySnapshot is written by setup before any daemon has run.
func EmptySnapshot() Snapshot {
	return Snapshot{SchemaHeader: yamlutil.NewHeader(yamlutil.FileTypeStateMetrics)}
}

// WriteSnapshot gathers the collectors and writes them atomically to path.
func (m *Metrics) WriteSnapshot(path string, now time.Time) error {
	sum, err := m.Summarize()
	if err != nil {
		return fmt.Errorf("summarize metrics: %w", err)
	}
	snap := EmptySnapshot()
	snap.Summary = sum
	snap.DaemonHeartbeat = &now
	snap.UpdatedAt = &now
	if _, err := yamlutil.AtomicWrite(path, snap); err != nil {
		return fmt.Errorf("write metrics snapshot: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	if _, err := yamlutil.ReadDocument(path, yamlutil.FileTypeStateMetrics, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
