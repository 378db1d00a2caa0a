package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data so that a crash at any point leaves
// either the previous file or the new one on disk, never a partial write.
// The data is written to a temporary file in the same directory and synced.
// When backupPath is set, the previous file is hard linked (or copied) there
// first; the live file stays in place until the single rename replaces it.
func WriteFileAtomic(path string, data []byte, backupPath string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if backupPath != "" {
		if err := keepBackup(path, backupPath); err != nil {
			return fmt.Errorf("back up %s: %w", path, err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// keepBackup makes backup a copy of the current contents of path without
// touching path. A missing path is not an error.
func keepBackup(path, backup string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old backup: %w", err)
	}
	if err := os.Link(path, backup); err == nil {
		return nil
	}
	// #nosec G304 -- path is the file being replaced.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read current file: %w", err)
	}
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// syncDir makes the renames durable on filesystems that need it. Failure is
// not reported because some platforms cannot fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
