// Package yaml provides atomic YAML document I/O with backups and corrupt-file recovery.
package yaml

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// Digest identifies the exact bytes of a document. Watchers compare digests to tell the
// daemon's own writes apart from external edits.
type Digest [sha256.Size]byte

// Sum returns the digest of content.
func Sum(content []byte) Digest {
	return sha256.Sum256(content)
}

// AtomicWrite marshals data and replaces path with it. See AtomicWriteRaw.
func AtomicWrite(path string, data any) (Digest, error) {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return Digest{}, fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw replaces path with content through a temp file and rename. The previous
// content is kept in path.bak and the file mode is preserved. Content that does not parse
// as YAML is refused before anything on disk changes. Writing identical bytes is a no-op
// so that file watchers do not see spurious events.
func AtomicWriteRaw(path string, content []byte) (Digest, error) {
	sum := Sum(content)
	var node yamlv3.Node
	if err := yamlv3.Unmarshal(content, &node); err != nil {
		return Digest{}, fmt.Errorf("yaml validation failed: %w", err)
	}

	mode := fs.FileMode(0644)
	prev, err := os.ReadFile(path)
	switch {
	case err == nil:
		if bytes.Equal(prev, content) {
			return sum, nil
		}
		if info, serr := os.Stat(path); serr == nil {
			mode = info.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist):
		prev = nil
	default:
		return Digest{}, fmt.Errorf("read current %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Digest{}, fmt.Errorf("create dir: %w", err)
	}
	if err := writeTemp(dir, path, content, mode); err != nil {
		return Digest{}, err
	}
	if prev != nil {
		// Best effort: the new content is already in place.
		_ = os.WriteFile(path+".bak", prev, mode)
	}
	return sum, nil
}

func writeTemp(dir, path string, content []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(dir, ".psstudio-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	committed = true
	return nil
}
