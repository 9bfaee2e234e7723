package repos

import (
	"slices"
	"strings"

	"github.com/golang/glog"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/editor"
	"github.com/cespedes/svnra/ra"
)

type reportEntry struct {
	rev        svn.Revnum
	depth      svn.Depth
	startEmpty bool
	// linkPath is the repository path the entry was linked to, if any.
	linkPath string
	deleted  bool
}

// reporter collects the description of the receiver's tree, then drives
// the editor with the differences to the target tree.
type reporter struct {
	a   *Access
	rev svn.Revnum
	// entry is the child of the edit root being updated, "" for the
	// edit root itself.
	entry string
	// srcPath is the repository path of the receiver's entry.
	srcPath string
	// tgtPath is the repository path of the target node.
	tgtPath        string
	depth          svn.Depth
	textDeltas     bool
	ignoreAncestry bool
	sendCopyFrom   bool
	ed             editor.Editor

	paths map[string]*reportEntry
	done  bool
}

func (a *Access) newReporter(rev svn.Revnum, target string, depth svn.Depth, tgtPath string, ed editor.Editor) (*reporter, error) {
	entry := cleanPath(target)
	if strings.Contains(entry, "/") {
		return nil, svn.Errorf(svn.ErrCodeIncorrectParams, "update target %q is not a single path component", target)
	}
	if depth == svn.DepthUnknown {
		depth = svn.DepthInfinity
	}
	return &reporter{
		a:          a,
		rev:        rev,
		entry:      entry,
		srcPath:    a.reposPath(entry),
		tgtPath:    tgtPath,
		depth:      depth,
		textDeltas: true,
		ed:         ed,
		paths:      make(map[string]*reportEntry),
	}, nil
}

func (a *Access) Update(rev svn.Revnum, target string, depth svn.Depth, sendCopyFrom bool, ed editor.Editor) (ra.Reporter, error) {
	r, err := a.newReporter(rev, target, depth, a.reposPath(target), ed)
	if err != nil {
		return nil, err
	}
	r.sendCopyFrom = sendCopyFrom
	return r, nil
}

func (a *Access) Switch(rev svn.Revnum, target string, depth svn.Depth, switchURL string, ed editor.Editor) (ra.Reporter, error) {
	p, err := a.urlPath(switchURL)
	if err != nil {
		return nil, err
	}
	return a.newReporter(rev, target, depth, p, ed)
}

func (a *Access) Diff(rev svn.Revnum, target string, depth svn.Depth, versusURL string, ignoreAncestry, textDeltas bool, ed editor.Editor) (ra.Reporter, error) {
	p, err := a.urlPath(versusURL)
	if err != nil {
		return nil, err
	}
	r, err := a.newReporter(rev, target, depth, p, ed)
	if err != nil {
		return nil, err
	}
	r.ignoreAncestry = ignoreAncestry
	r.textDeltas = textDeltas
	return r, nil
}

func (r *reporter) add(p string, e *reportEntry) error {
	if r.done {
		return svn.Errorf(svn.ErrCodeIncorrectParams, "report already finished")
	}
	p = cleanPath(p)
	if _, ok := r.paths[""]; !ok && p != "" {
		return svn.Errorf(svn.ErrCodeIncorrectParams, "report must start with the target path, not %q", p)
	}
	r.paths[p] = e
	return nil
}

func (r *reporter) SetPath(p string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error {
	return r.add(p, &reportEntry{rev: rev, depth: depth, startEmpty: startEmpty})
}

func (r *reporter) DeletePath(p string) error {
	return r.add(p, &reportEntry{deleted: true})
}

func (r *reporter) LinkPath(p, url string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error {
	lp, err := r.a.urlPath(url)
	if err != nil {
		return err
	}
	return r.add(p, &reportEntry{rev: rev, depth: depth, startEmpty: startEmpty, linkPath: lp})
}

func (r *reporter) AbortReport() error {
	if r.done {
		return svn.Errorf(svn.ErrCodeIncorrectParams, "report already finished")
	}
	r.done = true
	return r.ed.Abort()
}

// prune cuts n down to what a receiver holding it at depth has.
func prune(n *node, depth svn.Depth, startEmpty bool) *node {
	if !n.isDir() {
		return n
	}
	if startEmpty {
		depth = svn.DepthEmpty
	}
	switch depth {
	case svn.DepthEmpty, svn.DepthFiles, svn.DepthImmediates:
	default:
		return n
	}
	c := n.clone()
	for name, child := range c.entries {
		switch {
		case depth == svn.DepthEmpty:
			delete(c.entries, name)
		case child.kind != svn.NodeDir:
		case depth == svn.DepthFiles:
			delete(c.entries, name)
		default:
			c.entries[name] = prune(child, svn.DepthEmpty, false)
		}
	}
	return c
}

// nearest returns the reported path closest to p, p itself included.
func (r *reporter) nearest(p string) (string, *reportEntry) {
	for {
		if e, ok := r.paths[p]; ok && !e.deleted {
			return p, e
		}
		if p == "" {
			return "", r.paths[""]
		}
		p, _ = splitPath(p)
	}
}

// sourcePath returns the repository path the receiver's node at report
// path p comes from.
func (r *reporter) sourcePath(p string) string {
	if e, ok := r.paths[p]; ok && e.linkPath != "" {
		return e.linkPath
	}
	if p == "" {
		return r.srcPath
	}
	dir, name := splitPath(p)
	return joinPath(r.sourcePath(dir), name)
}

// reportPath turns an edit path into a report path.
func (r *reporter) reportPath(p string) string {
	if r.entry == "" {
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, r.entry), "/")
}

// sourceTree builds the receiver's tree from the report.
func (r *reporter) sourceTree(revs []revision) *node {
	youngest := svn.Revnum(len(revs) - 1)
	at := func(rev svn.Revnum, p string) *node {
		if rev < 0 || rev > youngest {
			return nil
		}
		return lookup(revs[rev].root, p)
	}
	base := r.paths[""]
	t := newTree(prune(at(base.rev, r.sourcePath("")), base.depth, base.startEmpty))
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		if p != "" {
			paths = append(paths, p)
		}
	}
	// parents before children
	slices.Sort(paths)
	for _, p := range paths {
		e := r.paths[p]
		if e.deleted {
			t.set(p, nil)
			continue
		}
		t.set(p, prune(at(e.rev, r.sourcePath(p)), e.depth, e.startEmpty))
	}
	return t.root
}

func (r *reporter) FinishReport() error {
	if r.done {
		return svn.Errorf(svn.ErrCodeIncorrectParams, "report already finished")
	}
	r.done = true
	if _, ok := r.paths[""]; !ok {
		r.ed.Abort()
		return svn.Errorf(svn.ErrCodeIncorrectParams, "empty report")
	}

	a := r.a
	a.r.mu.RLock()
	revs := a.r.revs
	a.r.mu.RUnlock()

	tgtRev := r.rev
	if !tgtRev.Valid() {
		tgtRev = svn.Revnum(len(revs) - 1)
	}
	if tgtRev > svn.Revnum(len(revs)-1) {
		r.ed.Abort()
		return svn.Errorf(svn.ErrCodeFSNoSuchRevision, "no such revision %d", tgtRev)
	}
	tgt := lookup(revs[tgtRev].root, r.tgtPath)
	src := r.sourceTree(revs)
	if r.entry == "" {
		if !tgt.isDir() {
			r.ed.Abort()
			return svn.Errorf(svn.ErrCodeFSNotDirectory, "target path '/%s' does not exist or is not a directory in revision %d", r.tgtPath, tgtRev)
		}
		if !src.isDir() {
			src = emptyDir
		}
	}
	if !a.r.readable(a.user, r.tgtPath) {
		r.ed.Abort()
		return svn.Errorf(svn.ErrCodeAuthzUnreadable, "access to '/%s' forbidden", r.tgtPath)
	}
	glog.V(2).Infof("repos: delta of /%s to /%s@%d for %q", r.srcPath, r.tgtPath, tgtRev, a.user)

	d := &differ{
		r:    a.r,
		revs: revs,
		user: a.user,
		target: func(p string) string {
			return joinPath(r.tgtPath, r.reportPath(p))
		},
		baseRev: func(p string) svn.Revnum {
			_, e := r.nearest(r.reportPath(p))
			return e.rev
		},
		textDeltas:     r.textDeltas,
		ignoreAncestry: r.ignoreAncestry,
		sendCopyFrom:   r.sendCopyFrom,
		copiesIn:       svn.InvalidRevnum,
		lowWater:       svn.InvalidRevnum,
	}
	return d.drive(r.ed, tgtRev, src, tgt, r.entry, r.depth)
}

func (a *Access) Replay(rev, lowWater svn.Revnum, sendDeltas bool, ed editor.Editor) error {
	a.r.mu.RLock()
	revs := a.r.revs
	a.r.mu.RUnlock()
	if rev < 0 || rev > svn.Revnum(len(revs)-1) {
		ed.Abort()
		return svn.Errorf(svn.ErrCodeFSNoSuchRevision, "no such revision %d", rev)
	}
	var src, tgt *node
	if rev > 0 {
		src = lookup(revs[rev-1].root, a.path)
	}
	tgt = lookup(revs[rev].root, a.path)
	if !src.isDir() {
		src = emptyDir
	}
	if !tgt.isDir() {
		tgt = emptyDir
	}
	d := &differ{
		r:    a.r,
		revs: revs,
		user: a.user,
		target: func(p string) string {
			return joinPath(a.path, p)
		},
		baseRev: func(string) svn.Revnum {
			return rev - 1
		},
		textDeltas:   sendDeltas,
		sendCopyFrom: true,
		copiesIn:     rev,
		lowWater:     lowWater,
	}
	return d.drive(ed, svn.InvalidRevnum, src, tgt, "", svn.DepthInfinity)
}

func (a *Access) ReplayRange(start, end, lowWater svn.Revnum, sendDeltas bool, startFn ra.ReplayStartFunc, finishFn ra.ReplayFinishFunc) error {
	for rev := start; rev <= end; rev++ {
		props, err := a.r.RevProps(rev)
		if err != nil {
			return err
		}
		ed, err := startFn(rev, props)
		if err != nil {
			return err
		}
		if err := a.Replay(rev, lowWater, sendDeltas, ed); err != nil {
			return err
		}
		if err := finishFn(rev, props, ed); err != nil {
			return err
		}
	}
	return nil
}
