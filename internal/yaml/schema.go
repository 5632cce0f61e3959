package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

const (
	FileTypeWorkspace       = "workspace"
	FileTypeConfigOverrides = "config_overrides"
	FileTypeStateMetrics    = "state_metrics"
)

var validFileTypes = map[string]bool{
	FileTypeWorkspace:       true,
	FileTypeConfigOverrides: true,
	FileTypeStateMetrics:    true,
}

// SchemaHeader is embedded at the top of every state document.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

func NewHeader(fileType string) SchemaHeader {
	return SchemaHeader{SchemaVersion: CurrentSchemaVersion, FileType: fileType}
}

func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if header.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", header.SchemaVersion)
	}
	if header.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", header.SchemaVersion, CurrentSchemaVersion)
	}
	if header.FileType == "" {
		return fmt.Errorf("missing file_type")
	}
	if !validFileTypes[header.FileType] {
		return fmt.Errorf("unknown file_type: %q", header.FileType)
	}
	if expectedFileType != "" && header.FileType != expectedFileType {
		return fmt.Errorf("file_type mismatch: got %q, expected %q", header.FileType, expectedFileType)
	}
	return nil
}

// CorruptError marks a document that exists but cannot be used.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt document %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// ReadDocument validates the header of path and decodes it into out. A missing file is
// returned as an os.ErrNotExist error; unreadable content as *CorruptError.
func ReadDocument(path, fileType string, out any) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return content, &CorruptError{Path: path, Err: err}
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return content, &CorruptError{Path: path, Err: err}
	}
	return content, nil
}
