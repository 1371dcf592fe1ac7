package sync

import (
	"os"
	"path/filepath"
)

// WriteAtomic writes content to absPath via a temp file in the same
// directory followed by a rename, so the filesystem observer's hash-based
// change detection (and a concurrent indexer read) never observes a
// partially written file. The upload handler shares it, keeping every tree
// writer on the same temp+rename discipline.
func WriteAtomic(absPath string, content []byte) error {
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(content)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return writeErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
