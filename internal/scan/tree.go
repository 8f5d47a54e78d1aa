package scan

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schaermu/modsync/internal/state"
)

// Node is a file or directory below one of the scanned roots
type Node struct {
	Name     string
	Path     string
	IsDir    bool
	Status   Status
	Children []*Node
}

// Tree builds one node per existing root below dir. A directory whose children
// all share a status takes that status; mixed directories are untracked.
func Tree(ctx context.Context, dir string, st *state.LocalState, extra []string) ([]*Node, error) {
	c := NewClassifier(st)
	var nodes []*Node
	for _, root := range Roots(st, extra) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(root)))
		if err != nil || !info.IsDir() {
			continue
		}
		n, err := buildNode(ctx, c, dir, root, true)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func buildNode(ctx context.Context, c *Classifier, dir, rel string, isDir bool) (*Node, error) {
	n := &Node{
		Name:   path.Base(rel),
		Path:   rel,
		IsDir:  isDir,
		Status: c.Classify(rel, isDir),
	}
	if !isDir {
		return n, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	// Directories first, then files, each ordered case-insensitively.
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return compareFold(a.Name(), b.Name())
	})

	for _, e := range entries {
		child, err := buildNode(ctx, c, dir, rel+"/"+e.Name(), e.IsDir())
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}

	if len(n.Children) > 0 {
		n.Status = aggregate(n.Children)
	}
	return n, nil
}

func aggregate(children []*Node) Status {
	first := children[0].Status
	if first == Untracked {
		return Untracked
	}
	for _, ch := range children[1:] {
		if ch.Status != first {
			return Untracked
		}
	}
	return first
}

// Entry is one line of a flattened tree
type Entry struct {
	Path   string
	Depth  int
	IsDir  bool
	Status Status
}

// Entries flattens Tree in depth-first order.
func Entries(ctx context.Context, dir string, st *state.LocalState, extra []string) ([]Entry, error) {
	nodes, err := Tree(ctx, dir, st, extra)
	if err != nil {
		return nil, err
	}
	var out []Entry
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		out = append(out, Entry{Path: n.Path, Depth: depth, IsDir: n.IsDir, Status: n.Status})
		for _, ch := range n.Children {
			walk(ch, depth+1)
		}
	}
	for _, n := range nodes {
		walk(n, 0)
	}
	return out, nil
}

// String renders the node name with a trailing slash for directories.
func (n *Node) String() string {
	if n.IsDir {
		return strings.TrimSuffix(n.Name, "/") + "/"
	}
	return n.Name
}
