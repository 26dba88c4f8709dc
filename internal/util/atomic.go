package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic fills a temp file next to path and renames it into place.
// Readers never observe a partially written model or report.
func writeAtomic(path, kind string, fill func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp %s: %w", kind, err)
	}
	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", kind, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("chmod temp %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp %s: %w", kind, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename temp %s: %w", kind, err)
	}
	return nil
}

// WriteFileAtomic writes raw bytes, e.g. a downloaded model bundle or the scores file.
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, "file", func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}
