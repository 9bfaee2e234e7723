package repos

import (
	"maps"
	"path"
	"slices"
	"strings"

	svn "github.com/cespedes/svnra"
)

// origin records how a node came to live at its path: added in rev, or
// copied there in rev from copyPath@copyRev.
type origin struct {
	rev      svn.Revnum
	copyPath string
	copyRev  svn.Revnum
}

// node is a file or directory.  Nodes reachable from a committed revision
// are never modified; changes clone the nodes on the way to the root.
type node struct {
	// id is shared by every version of a node; copies get a new one.
	id      int64
	kind    svn.NodeKind
	props   svn.Props
	text    []byte
	entries map[string]*node
	// created is the revision the node last changed in.
	created svn.Revnum
	origin  origin
}

func (n *node) clone() *node {
	c := *n
	c.props = n.props.Clone()
	if n.entries != nil {
		c.entries = maps.Clone(n.entries)
	}
	return &c
}

func (n *node) isDir() bool {
	return n != nil && n.kind == svn.NodeDir
}

func (n *node) names() []string {
	return slices.Sorted(maps.Keys(n.entries))
}

// cleanPath turns p into a relative path without "." or ".." elements,
// "" being the root.
func cleanPath(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func joinPath(elem ...string) string {
	return cleanPath(path.Join(elem...))
}

func splitPath(p string) (dir, name string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// isAncestor reports whether a is p or one of its parent directories.
func isAncestor(a, p string) bool {
	return a == "" || a == p || strings.HasPrefix(p, a+"/")
}

// lookup returns the node at p below n, or nil.
func lookup(n *node, p string) *node {
	if p == "" {
		return n
	}
	for _, name := range strings.Split(p, "/") {
		if !n.isDir() {
			return nil
		}
		n = n.entries[name]
	}
	return n
}

// tree is a mutable copy of a directory tree.  Nodes cloned by the tree
// are owned by it and changed in place; the others are shared.
type tree struct {
	root  *node
	owned map[*node]bool
}

func newTree(root *node) *tree {
	return &tree{root: root, owned: make(map[*node]bool)}
}

func (t *tree) own(n *node) *node {
	if t.owned[n] {
		return n
	}
	c := n.clone()
	t.owned[c] = true
	return c
}

// mutable returns an owned copy of the directory at p, cloning its
// ancestors as needed, or nil if there is no directory there.
func (t *tree) mutable(p string) *node {
	if !t.root.isDir() {
		return nil
	}
	t.root = t.own(t.root)
	n := t.root
	if p == "" {
		return n
	}
	for _, name := range strings.Split(p, "/") {
		child := n.entries[name]
		if child == nil {
			return nil
		}
		child = t.own(child)
		n.entries[name] = child
		n = child
	}
	return n
}

// set puts n at p, replacing what was there.  A nil n removes the entry.
// It reports false if the parent of p is not a directory.
func (t *tree) set(p string, n *node) bool {
	if p == "" {
		t.root = n
		return true
	}
	dir, name := splitPath(p)
	parent := t.mutable(dir)
	if parent == nil {
		return false
	}
	if n == nil {
		delete(parent.entries, name)
	} else {
		parent.entries[name] = n
	}
	return true
}
