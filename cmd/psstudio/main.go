package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msageha/psstudio/internal/editor"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/setup"
	"github.com/msageha/psstudio/internal/uds"
)

const version = "0.1.0"

var (
	projectDir string
	jsonOutput bool
	timeout    time.Duration

	rootCmd = &cobra.Command{
		Use:           "psstudio",
		Short:         "Warehouse problem-statement studio",
		Long:          "psstudio edits a warehouse problem statement (bots, stations, racks, tasks and\nassignments), keeps solver configuration overrides and submits the problem to a remote solver.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&projectDir, "dir", "C", ".", "project directory (the workspace is found by walking up)")
	pf.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "daemon request timeout")
}

// exitCode maps daemon error codes to distinct exit statuses for scripts.
func exitCode(err error) int {
	var detail *uds.ErrorDetail
	if !errors.As(err, &detail) {
		return 1
	}
	switch detail.Code {
	case uds.ErrCodeValidation:
		return 2
	case uds.ErrCodeNotFound:
		return 3
	case uds.ErrCodeConfirmationRequired, uds.ErrCodeConflict, uds.ErrCodePrecondition:
		return 4
	case uds.ErrCodeRemoteNetwork, uds.ErrCodeRemoteServer:
		return 5
	case uds.ErrCodeCancelled:
		return 6
	default:
		return 1
	}
}

func workspace() (setup.Layout, error) {
	return setup.Find(projectDir)
}

// call sends one command to the workspace daemon and decodes the result into out.
func call(command string, params, out any) error {
	return callWithTimeout(timeout, command, params, out)
}

func callWithTimeout(d time.Duration, command string, params, out any) error {
	layout, err := workspace()
	if err != nil {
		return err
	}
	client := uds.NewClient(layout.Socket())
	client.SetTimeout(d)
	return client.Call(command, params, out)
}

// run is the RunE body shared by the thin commands: call the daemon and print what it
// returned.
func run(cmd *cobra.Command, command string, params any) error {
	var out any
	if err := call(command, params, &out); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), out)
}

// render prints v as JSON with --json and as YAML otherwise.
func render(w io.Writer, v any) error {
	if v == nil {
		return nil
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(normalizeNumbers(v)); err != nil {
		return err
	}
	return enc.Close()
}

// normalizeNumbers converts json.Number into int64 or float64 so YAML prints plain
// scalars instead of quoted strings.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeNumbers(e)
		}
		return out
	default:
		return v
	}
}

// parseAssignments turns repeated key=value flags into properties. Values that parse as
// JSON literals keep their type.
func parseAssignments(pairs []string) (model.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := model.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", p)
		}
		out[k] = editor.ParseFieldValue(v)
	}
	return out, nil
}

// readText reads path, or stdin when path is "-".
func readText(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func readJSONObject(path string, stdin io.Reader) (model.Values, error) {
	text, err := readText(path, stdin)
	if err != nil {
		return nil, err
	}
	var v model.Values
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if v == nil {
		return nil, fmt.Errorf("%s: expected a JSON object", path)
	}
	return model.NormalizeValues(v), nil
}

func parseCoord(name, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", name, s)
	}
	return n, nil
}
