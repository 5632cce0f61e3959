package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves a corrupt file under <workspaceDir>/quarantine and returns its new path.
func Quarantine(workspaceDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(workspaceDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405.000"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

func RestoreFromBackup(filePath, fileType string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

func GenerateSkeleton(filePath, fileType string) error {
	content, err := yamlv3.Marshal(skeletonFor(fileType))
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if _, err := AtomicWriteRaw(filePath, content); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}

type Recovery string

const (
	RecoveredFromBackup Recovery = "backup"
	RecoveredSkeleton   Recovery = "skeleton"
)

// RecoverCorruptedFile quarantines filePath, then restores the .bak copy or, failing that,
// writes an empty document of fileType.
func RecoverCorruptedFile(workspaceDir, filePath, fileType string) (Recovery, error) {
	if _, err := Quarantine(workspaceDir, filePath); err != nil {
		return "", fmt.Errorf("quarantine failed: %w", err)
	}
	if err := RestoreFromBackup(filePath, fileType); err == nil {
		return RecoveredFromBackup, nil
	}
	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return "", fmt.Errorf("skeleton generation failed: %w", err)
	}
	return RecoveredSkeleton, nil
}

func skeletonFor(fileType string) map[string]any {
	doc := map[string]any{
		"schema_version": CurrentSchemaVersion,
		"file_type":      fileType,
	}
	switch fileType {
	case FileTypeWorkspace:
		doc["width"] = 10
		doc["height"] = 10
		doc["problem_statement"] = map[string]any{}
	case FileTypeConfigOverrides:
		doc["overrides"] = map[string]any{}
	}
	return doc
}
