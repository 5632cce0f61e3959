// Package setup lays out and initializes a psstudio workspace.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/psstudio/internal/metrics"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/store"
	yamlutil "github.com/msageha/psstudio/internal/yaml"
	"github.com/msageha/psstudio/templates"
)

// DirName is the workspace directory created inside the project.
const DirName = ".psstudio"

// Layout resolves every file of a workspace rooted at Base.
type Layout struct {
	Base string
}

func NewLayout(projectDir string) (Layout, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve project dir: %w", err)
	}
	return Layout{Base: filepath.Join(abs, DirName)}, nil
}

func (l Layout) Config() string        { return filepath.Join(l.Base, "config.yaml") }
func (l Layout) Socket() string        { return filepath.Join(l.Base, "daemon.sock") }
func (l Layout) StateDir() string      { return filepath.Join(l.Base, "state") }
func (l Layout) Workspace() string     { return filepath.Join(l.Base, "state", "workspace.yaml") }
func (l Layout) Overrides() string     { return filepath.Join(l.Base, "state", "config_overrides.yaml") }
func (l Layout) MetricsFile() string   { return filepath.Join(l.Base, "state", metrics.SnapshotFileName) }
func (l Layout) LogsDir() string       { return filepath.Join(l.Base, "logs") }
func (l Layout) DaemonLog() string     { return filepath.Join(l.Base, "logs", "daemon.log") }
func (l Layout) Lock() string          { return filepath.Join(l.Base, "locks", "daemon.lock") }
func (l Layout) QuarantineDir() string { return filepath.Join(l.Base, "quarantine") }

// Exists reports whether the workspace has been initialized.
func (l Layout) Exists() bool {
	info, err := os.Stat(l.Base)
	return err == nil && info.IsDir()
}

// ErrNotFound is returned by Find when no workspace encloses the start directory.
var ErrNotFound = errors.New(DirName + "/ not found; run 'psstudio setup <dir>' first")

// Find walks up from startDir to the nearest directory holding a workspace.
func Find(startDir string) (Layout, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve %s: %w", startDir, err)
	}
	for {
		l := Layout{Base: filepath.Join(dir, DirName)}
		if l.Exists() {
			return l, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Layout{}, ErrNotFound
		}
		dir = parent
	}
}

var layoutDirs = []string{"state", "logs", "locks", "quarantine"}

// Run initializes the workspace in projectDir. projectName overrides the default project
// name (the directory basename). An existing workspace is never overwritten.
func Run(projectDir, projectName string) (Layout, error) {
	layout, err := NewLayout(projectDir)
	if err != nil {
		return Layout{}, err
	}
	if _, err := os.Stat(layout.Base); err == nil {
		return layout, fmt.Errorf("%s already exists", layout.Base)
	}

	for _, d := range layoutDirs {
		if err := os.MkdirAll(filepath.Join(layout.Base, d), 0755); err != nil {
			return layout, fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(filepath.Dir(layout.Base), projectName)
	if err != nil {
		return layout, fmt.Errorf("generate config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return layout, fmt.Errorf("default config: %w", err)
	}
	if _, err := yamlutil.AtomicWrite(layout.Config(), cfg); err != nil {
		return layout, fmt.Errorf("write config.yaml: %w", err)
	}

	// Opening a store on a missing path persists the empty problem statement.
	if _, err := store.Open(store.Options{
		Path:         layout.Workspace(),
		WorkspaceDir: layout.Base,
		Width:        cfg.Grid.Cols,
		Height:       cfg.Grid.Rows,
	}); err != nil {
		return layout, fmt.Errorf("create workspace: %w", err)
	}
	if err := yamlutil.GenerateSkeleton(layout.Overrides(), yamlutil.FileTypeConfigOverrides); err != nil {
		return layout, fmt.Errorf("create config overrides: %w", err)
	}
	if _, err := yamlutil.AtomicWrite(layout.MetricsFile(), metrics.EmptySnapshot()); err != nil {
		return layout, fmt.Errorf("write metrics.yaml: %w", err)
	}
	return layout, nil
}

func generateConfig(projectDir, projectName string) (model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return model.Config{}, fmt.Errorf("read config template: %w", err)
	}

	cfg := model.DefaultConfig()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config template: %w", err)
	}
	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	return cfg, nil
}
