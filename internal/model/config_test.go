package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Millisecond, cfg.TaskDebounce())

	x, y := cfg.GridCenter()
	assert.Equal(t, 5, x)
	assert.Equal(t, 5, y)
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "project:\n  name: demo\ngrid:\n  rows: 4\n  cols: 6\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, 4, cfg.Grid.Rows)
	assert.Equal(t, 6, cfg.Grid.Cols)
	assert.Equal(t, 50, cfg.Grid.CellSize)
	assert.Equal(t, 300, cfg.Editor.TaskDebounceMs)
}

func TestLoadConfig_ReportsAllInvalidFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "grid:\n  rows: 0\nsolver:\n  url: \"\"\nlogging:\n  level: loud\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)

	var ve *ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 3)
	assert.Contains(t, ve.FormatStderr(), "Config.Grid.Rows")
	assert.Contains(t, ve.FormatStderr(), "Config.Solver.URL")
	assert.Contains(t, ve.FormatStderr(), "Config.Logging.Level")
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
