// Package scan classifies files below the install root as managed, ignored or
// untracked and discovers files for manifest generation.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/state"
)

// DefaultExtraRoots are always scanned in addition to the roots derived from state.
var DefaultExtraRoots = []string{"Mods", "Config"}

// Status is the classification of a path below the install root
type Status int

const (
	Untracked Status = iota
	Managed
	Ignored
)

func (s Status) String() string {
	switch s {
	case Managed:
		return "managed"
	case Ignored:
		return "ignored"
	default:
		return "untracked"
	}
}

// Classifier classifies relative paths against a state snapshot
type Classifier struct {
	managed  map[string]bool
	prefixes []string
	ignores  []ignoreRule
}

// NewClassifier compiles the managed set and ignore patterns of st.
func NewClassifier(st *state.LocalState) *Classifier {
	c := &Classifier{managed: make(map[string]bool, len(st.ManagedFiles))}
	for _, m := range st.ManagedFiles {
		key := strings.ToLower(manifest.NormalizePath(m))
		c.managed[key] = true
		c.prefixes = append(c.prefixes, key)
	}
	c.ignores = compileIgnores(st.IgnorePatterns)
	return c
}

// Classify returns the status of rel. A directory is managed when it contains a
// managed file. Managed wins over ignored.
func (c *Classifier) Classify(rel string, isDir bool) Status {
	rel = manifest.NormalizePath(rel)
	key := strings.ToLower(rel)
	if c.managed[key] {
		return Managed
	}
	if isDir {
		for _, p := range c.prefixes {
			if strings.HasPrefix(p, key+"/") {
				return Managed
			}
		}
	}
	if ignored(c.ignores, rel, isDir) {
		return Ignored
	}
	return Untracked
}

// Classify is a convenience wrapper around NewClassifier for a single path.
func Classify(rel string, st *state.LocalState, isDir bool) Status {
	return NewClassifier(st).Classify(rel, isDir)
}

// Roots returns the top-level directories worth scanning: the first segment of
// every managed file and ignore pattern plus extra. Duplicates are removed
// case-insensitively and the first spelling wins.
func Roots(st *state.LocalState, extra []string) []string {
	seen := make(map[string]bool)
	var roots []string
	add := func(p string) {
		root := firstSegment(p)
		if strings.TrimSpace(root) == "" {
			return
		}
		key := strings.ToLower(root)
		if seen[key] {
			return
		}
		seen[key] = true
		roots = append(roots, root)
	}

	for _, m := range st.ManagedFiles {
		add(m)
	}
	for _, p := range st.IgnorePatterns {
		add(p)
	}
	for _, e := range extra {
		add(e)
	}
	return roots
}

func firstSegment(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	p = manifest.NormalizePath(p)
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

// FindUntracked walks every existing root below dir and returns the sorted
// relative paths of files that are neither managed nor ignored.
func FindUntracked(ctx context.Context, dir string, st *state.LocalState, extra []string) ([]string, error) {
	c := NewClassifier(st)
	seen := make(map[string]bool)
	var untracked []string

	for _, root := range Roots(st, extra) {
		err := walkRoot(ctx, dir, root, func(rel string, d fs.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			key := strings.ToLower(rel)
			if seen[key] {
				return nil
			}
			seen[key] = true
			if c.Classify(rel, false) == Untracked {
				untracked = append(untracked, rel)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	slices.SortFunc(untracked, compareFold)
	return untracked, nil
}

// walkRoot calls fn for every entry below dir/root with a slash-separated path
// relative to dir. Missing roots and roots that are plain files are skipped.
func walkRoot(ctx context.Context, dir, root string, fn func(rel string, d fs.DirEntry) error) error {
	full := filepath.Join(dir, filepath.FromSlash(root))
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == full {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path: %w", err)
		}
		return fn(filepath.ToSlash(rel), d)
	})
}

func compareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// DiscoverFiles finds all regular files in dir. Hidden files and directories
// (names starting with ".") are skipped.
func DiscoverFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}
