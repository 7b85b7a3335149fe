// Package discover produces the file list a formatting run operates
// on: the given roots walked recursively, filtered by include and
// exclude globs, returned as ordered, deduplicated absolute paths.
// Everything downstream treats this list as opaque input.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Options controls a discovery walk.
type Options struct {
	// Include globs are matched against each file's base name. Empty
	// means every regular file matches.
	Include []string

	// Exclude globs are matched against base names and, for
	// directories, prune the whole subtree. Always wins over Include.
	Exclude []string

	// FollowHidden walks into dot-directories. Off by default; build
	// trees live in .cache-style directories far more often than
	// source does.
	FollowHidden bool
}

// Files walks each root and returns the matching files as absolute
// paths, sorted and deduplicated. A root that is itself a regular file
// is accepted directly, bypassing the include filter; naming a file
// explicitly is the strongest include there is.
func Files(roots []string, opts Options) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string

	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		if _, dup := seen[abs]; dup {
			return nil
		}
		seen[abs] = struct{}{}
		files = append(files, abs)
		return nil
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("discover: %w", err)
		}
		if info.Mode().IsRegular() {
			if err := add(root); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path != root && !opts.FollowHidden && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if matchAny(opts.Exclude, name) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if matchAny(opts.Exclude, name) {
				return nil
			}
			if len(opts.Include) > 0 && !matchAny(opts.Include, name) {
				return nil
			}
			return add(path)
		})
		if err != nil {
			return nil, fmt.Errorf("discover: walk %s: %w", root, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Matches applies the include/exclude filter to a single path, the
// same way a walk would: exclude wins, and an empty include list
// accepts everything. Watch mode uses this on event paths that never
// went through a walk.
func Matches(path string, include, exclude []string) bool {
	name := filepath.Base(path)
	if matchAny(exclude, name) {
		return false
	}
	return len(include) == 0 || matchAny(include, name)
}

// matchAny reports whether name matches any of the globs.
func matchAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
	}
	return false
}
