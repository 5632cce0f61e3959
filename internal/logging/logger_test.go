package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLogger_FormatAndFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, "daemon")
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	l.Debug("hidden")
	l.Info("started pid=%d", 42)
	l.With("editor").Warn("commit failed key=%s", "task:task-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"2026-01-02T03:04:05Z INFO daemon: started pid=42",
		"2026-01-02T03:04:05Z WARN editor: commit failed key=task:task-1",
	}, lines)
}

func TestLogger_SetLevelSharedWithChildren(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelError, "root")
	child := l.With("child")

	child.Info("dropped")
	l.SetLevel(LevelDebug)
	child.Debug("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "DEBUG child: kept")
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("nothing") })
}
