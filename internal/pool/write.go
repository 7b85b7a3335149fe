package pool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteAtomic writes data to path via a temporary file in the same
// directory followed by a rename, so the destination only ever holds
// either its old content or the complete new content. The temp name
// carries a random suffix so concurrent runs cannot collide.
func WriteAtomic(path string, data []byte) (retErr error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmpPath := filepath.Join(dir, "."+base+"."+uuid.NewString()[:8]+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
