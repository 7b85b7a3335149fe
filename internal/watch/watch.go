// Package watch drives watch mode: the discovery roots are monitored
// recursively and changed files are delivered in debounced batches, so
// a save-all in an editor becomes one formatting pass instead of
// twenty.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the batching window for change events.
const DefaultDebounce = 300 * time.Millisecond

// Watcher monitors directory trees and reports changed files.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	warnf    func(format string, args ...any)
}

// New creates a Watcher over the given roots. Every existing
// subdirectory is registered; directories created later are picked up
// from their create events.
func New(roots []string, debounce time.Duration, warnf func(string, ...any)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{fsw: fsw, debounce: debounce, warnf: warnf}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: %w", err)
		}
		if !info.IsDir() {
			// A file root is watched via its directory.
			root = filepath.Dir(root)
		}
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// addTree registers dir and all its subdirectories, skipping hidden
// ones.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers debounced batches of changed file paths to handle until
// ctx is cancelled. Each batch is sorted and deduplicated. Hidden
// files and ".tmp" artifacts (our own atomic writes among them) are
// ignored.
func (w *Watcher) Run(ctx context.Context, handle func(paths []string)) error {
	pending := make(map[string]struct{})
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if ev.Op&fsnotify.Create != 0 {
					if err := w.addTree(ev.Name); err != nil {
						w.warnf("watch: %v", err)
					}
				}
				continue
			}
			if ignoredFile(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timerC = time.After(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.warnf("watch: %v", err)

		case <-timerC:
			timerC = nil
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})
			handle(batch)
		}
	}
}

// ignoredFile filters out paths no formatting pass should react to.
func ignoredFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp")
}
