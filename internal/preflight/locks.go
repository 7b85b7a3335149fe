package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockFile is a lock artifact found in one of the configured lock
// directories.
type LockFile struct {
	Path    string
	ModTime time.Time
}

// Stale reports whether the lock's last modification is older than
// threshold as of now.
func (l LockFile) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(l.ModTime) > threshold
}

// findLocks globs each dir for "<name>*.lock" artifacts. Missing
// directories are skipped, not errors; servers create their lock dirs
// lazily.
func findLocks(dirs []string, name string) ([]LockFile, error) {
	var locks []LockFile
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, name+"*.lock"))
		if err != nil {
			return nil, fmt.Errorf("glob lock dir %s: %w", dir, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			locks = append(locks, LockFile{Path: m, ModTime: info.ModTime()})
		}
	}
	return locks, nil
}
