// Package model defines the data structures shared by psstudio: configuration, entities,
// the problem statement document, selection and the error taxonomy.
package model

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Project ProjectConfig `yaml:"project"`
	Grid    GridConfig    `yaml:"grid"`
	Editor  EditorConfig  `yaml:"editor"`
	Server  ServerConfig  `yaml:"server"`
	Solver  SolverConfig  `yaml:"solver"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
}

type GridConfig struct {
	Rows     int `yaml:"rows" validate:"gte=1"`
	Cols     int `yaml:"cols" validate:"gte=1"`
	CellSize int `yaml:"cell_size" validate:"gte=1"`
}

type EditorConfig struct {
	// TaskDebounceMs is the quiescence window for task property edits.
	TaskDebounceMs int `yaml:"task_debounce_ms" validate:"gte=0"`
}

type ServerConfig struct {
	BaseURL    string `yaml:"base_url" validate:"required,url"`
	ConfigPath string `yaml:"config_path" validate:"required,startswith=/"`
	SchemaPath string `yaml:"schema_path" validate:"required,startswith=/"`
	TimeoutSec int    `yaml:"timeout_sec" validate:"gte=0"`
}

type SolverConfig struct {
	URL string `yaml:"url" validate:"required,url"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec" validate:"gte=0"`
	MetricsAddr        string `yaml:"metrics_addr"`
	WatchDebounceMs    int    `yaml:"watch_debounce_ms" validate:"gte=0"`

	// Notify raises a desktop notification when a solve finishes.
	Notify bool `yaml:"notify"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

var configValidate = validator.New()

// DefaultConfig returns the configuration used when config.yaml omits a field.
func DefaultConfig() Config {
	return Config{
		Project: ProjectConfig{Name: "psstudio"},
		Grid:    GridConfig{Rows: 10, Cols: 10, CellSize: 50},
		Editor:  EditorConfig{TaskDebounceMs: 300},
		Server: ServerConfig{
			BaseURL:    "http://localhost:8080",
			ConfigPath: "/mvts/config/all",
			SchemaPath: "/schemas",
			TimeoutSec: 10,
		},
		Solver:  SolverConfig{URL: "ws://localhost:8080/ws"},
		Daemon:  DaemonConfig{ShutdownTimeoutSec: 10, WatchDebounceMs: 200},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads path on top of DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate config: %w", err)
	}
	var ve ValidationErrors
	for _, fe := range fieldErrs {
		ve.Add(fe.Namespace(), fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()))
	}
	return &ve
}

func (c Config) TaskDebounce() time.Duration {
	return time.Duration(c.Editor.TaskDebounceMs) * time.Millisecond
}

// GridCenter is the cell used when an object is added without coordinates.
func (c Config) GridCenter() (int, int) {
	return c.Grid.Cols / 2, c.Grid.Rows / 2
}
