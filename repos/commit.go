package repos

import (
	"bytes"
	"maps"
	"strings"

	"github.com/golang/glog"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
	"github.com/cespedes/svnra/editor"
	"github.com/cespedes/svnra/ra"
)

type changeKind int

const (
	changeDelete changeKind = iota
	changeAddDir
	changeAddFile
	changeOpenDir
	changeOpenFile
)

// change is one step of a transaction, replayed onto the youngest tree
// when the transaction commits.
type change struct {
	kind changeKind
	// repository path
	path     string
	base     svn.Revnum
	copyPath string
	copyRev  svn.Revnum
	// props maps changed properties to their values, nil for deleted ones.
	props map[string][]byte
	text  []byte
	// textSet is true once a text delta completed.
	textSet bool
}

// txn is a commit in progress.  It implements editor.Editor.
type txn struct {
	a          *Access
	revprops   svn.Props
	lockTokens map[string]string
	keepLocks  bool
	onCommit   ra.CommitFunc
	// the youngest revision when the transaction began
	baseRev svn.Revnum
	revs    []revision
	changes []*change
}

func (a *Access) CommitEditor(revprops svn.Props, lockTokens map[string]string, keepLocks bool, onCommit ra.CommitFunc) (editor.Editor, error) {
	a.r.mu.RLock()
	revs := a.r.revs
	a.r.mu.RUnlock()
	t := &txn{
		a:          a,
		revprops:   revprops.Clone(),
		lockTokens: make(map[string]string, len(lockTokens)),
		keepLocks:  keepLocks,
		onCommit:   onCommit,
		baseRev:    svn.Revnum(len(revs) - 1),
		revs:       revs,
	}
	for p, tok := range lockTokens {
		t.lockTokens[a.reposPath(p)] = tok
	}
	return t, nil
}

// sourcePath turns a copy source, a URL or a repository path, into a
// repository path.
func (t *txn) sourcePath(p string) (string, error) {
	if strings.Contains(p, "://") {
		return t.a.urlPath(p)
	}
	return cleanPath(p), nil
}

// at returns the node at repository path p in rev, HEAD of the
// transaction if rev is invalid.
func (t *txn) at(rev svn.Revnum, p string) (*node, error) {
	if !rev.Valid() {
		rev = t.baseRev
	}
	if rev < 0 || rev > t.baseRev {
		return nil, svn.Errorf(svn.ErrCodeFSNoSuchRevision, "no such revision %d", rev)
	}
	return lookup(t.revs[rev].root, p), nil
}

func (t *txn) SetTargetRevision(svn.Revnum) error {
	return nil
}

func (t *txn) OpenRoot(base svn.Revnum) (editor.DirEditor, error) {
	c := &change{kind: changeOpenDir, path: t.a.path, base: base}
	t.changes = append(t.changes, c)
	return &txnDir{t: t, c: c}, nil
}

func (t *txn) Abort() error {
	glog.V(2).Infof("repos: transaction based on r%d aborted", t.baseRev)
	t.changes = nil
	return nil
}

type txnDir struct {
	t *txn
	c *change
}

func (d *txnDir) path(p string) string {
	return d.t.a.reposPath(p)
}

func (d *txnDir) DeleteEntry(p string, rev svn.Revnum) error {
	d.t.changes = append(d.t.changes, &change{kind: changeDelete, path: d.path(p), base: rev})
	return nil
}

func (d *txnDir) add(kind changeKind, p, copyFromPath string, copyFromRev svn.Revnum) (*change, *node, error) {
	c := &change{kind: kind, path: d.path(p), copyRev: svn.InvalidRevnum}
	var src *node
	if copyFromPath != "" {
		cp, err := d.t.sourcePath(copyFromPath)
		if err != nil {
			return nil, nil, err
		}
		if src, err = d.t.at(copyFromRev, cp); err != nil {
			return nil, nil, err
		}
		if src == nil {
			return nil, nil, svn.Errorf(svn.ErrCodeFSNotFound, "copy source '/%s' not found in revision %d", cp, copyFromRev)
		}
		c.copyPath, c.copyRev = cp, copyFromRev
		if !c.copyRev.Valid() {
			c.copyRev = d.t.baseRev
		}
	}
	d.t.changes = append(d.t.changes, c)
	return c, src, nil
}

func (d *txnDir) AddDirectory(p, copyFromPath string, copyFromRev svn.Revnum) (editor.DirEditor, error) {
	c, _, err := d.add(changeAddDir, p, copyFromPath, copyFromRev)
	if err != nil {
		return nil, err
	}
	return &txnDir{t: d.t, c: c}, nil
}

func (d *txnDir) OpenDirectory(p string, base svn.Revnum) (editor.DirEditor, error) {
	c := &change{kind: changeOpenDir, path: d.path(p), base: base}
	d.t.changes = append(d.t.changes, c)
	return &txnDir{t: d.t, c: c}, nil
}

func (d *txnDir) ChangeProp(name string, value []byte) error {
	setProp(d.c, name, value)
	return nil
}

func setProp(c *change, name string, value []byte) {
	if c.props == nil {
		c.props = make(map[string][]byte)
	}
	if value != nil {
		value = bytes.Clone(value)
		if value == nil {
			value = []byte{}
		}
	}
	c.props[name] = value
}

func (d *txnDir) AbsentDirectory(string) error {
	return nil
}

func (d *txnDir) AddFile(p, copyFromPath string, copyFromRev svn.Revnum) (editor.FileEditor, error) {
	c, src, err := d.add(changeAddFile, p, copyFromPath, copyFromRev)
	if err != nil {
		return nil, err
	}
	var base []byte
	if src != nil {
		if src.kind != svn.NodeFile {
			return nil, svn.Errorf(svn.ErrCodeFSNotFile, "copy source '/%s' is not a file", c.copyPath)
		}
		base = src.text
	}
	return &txnFile{c: c, base: base}, nil
}

func (d *txnDir) OpenFile(p string, base svn.Revnum) (editor.FileEditor, error) {
	rp := d.path(p)
	n, err := d.t.at(base, rp)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, svn.Errorf(svn.ErrCodeFSNotFound, "path '/%s' not present in revision %d", rp, base)
	}
	if n.kind != svn.NodeFile {
		return nil, svn.Errorf(svn.ErrCodeFSNotFile, "path '/%s' is not a file", rp)
	}
	c := &change{kind: changeOpenFile, path: rp, base: base}
	d.t.changes = append(d.t.changes, c)
	return &txnFile{c: c, base: n.text}, nil
}

func (d *txnDir) AbsentFile(string) error {
	return nil
}

func (d *txnDir) Close() error {
	return nil
}

type txnFile struct {
	c       *change
	base    []byte
	buf     bytes.Buffer
	applier *delta.Applier
}

func (f *txnFile) ApplyTextDelta(baseChecksum string) (delta.WindowHandler, error) {
	if baseChecksum != "" {
		if got := delta.Checksum(f.base); got != baseChecksum {
			return nil, svn.Errorf(svn.ErrCodeChecksumMismatch, "base checksum mismatch on '/%s': expected %s, actual %s", f.c.path, baseChecksum, got)
		}
	}
	f.applier = delta.NewApplier(f.base, &f.buf)
	return func(w *delta.Window) error {
		if err := f.applier.Handle(w); err != nil {
			return err
		}
		if w == nil {
			f.c.text = f.buf.Bytes()
			f.c.textSet = true
		}
		return nil
	}, nil
}

func (f *txnFile) ChangeProp(name string, value []byte) error {
	setProp(f.c, name, value)
	return nil
}

func (f *txnFile) Close(textChecksum string) error {
	if textChecksum == "" {
		return nil
	}
	text := f.base
	if f.c.textSet {
		text = f.c.text
	}
	if got := delta.Checksum(text); got != textChecksum {
		return svn.Errorf(svn.ErrCodeChecksumMismatch, "checksum mismatch on '/%s': expected %s, actual %s", f.c.path, textChecksum, got)
	}
	return nil
}

// Close commits the transaction.
func (t *txn) Close() error {
	info, err := t.a.r.commit(t)
	if err != nil {
		return err
	}
	if hook := t.a.r.opts.PostCommit; hook != nil {
		if err := svn.Call("post-commit hook", func() error { return hook(info) }); err != nil {
			glog.Warningf("repos: post-commit hook for r%d: %v", info.Revision, err)
			info.PostCommitErr = err.Error()
		}
	}
	if t.onCommit == nil {
		return nil
	}
	return t.onCommit(info)
}

func outOfDate(p string, n *node, base svn.Revnum) error {
	if base.Valid() && n.created > base {
		return svn.Errorf(svn.ErrCodeFSTxnOutOfDate, "'/%s' is out of date: changed in r%d after r%d", p, n.created, base)
	}
	return nil
}

// checkLocks verifies that the committer holds the locks on p and, when
// recursive, below it.
func (r *Repository) checkLocks(t *txn, p string, recursive bool) error {
	for lp, l := range r.locks {
		if lp != p && !(recursive && isAncestor(p, lp)) {
			continue
		}
		switch {
		case t.a.user == "":
			return svn.Errorf(svn.ErrCodeFSNoUser, "cannot verify lock on path '/%s'; no username available", lp)
		case t.lockTokens[lp] != l.Token:
			return svn.Errorf(svn.ErrCodeFSBadLockToken, "cannot verify lock on path '/%s'; no matching lock-token available", lp)
		case l.Owner != t.a.user:
			return svn.Errorf(svn.ErrCodeFSLockOwnerMismatch, "user '%s' does not own lock on path '/%s' (currently locked by %s)", t.a.user, lp, l.Owner)
		}
	}
	return nil
}

// apply replays c onto tr, the tree of revision rev.
func (r *Repository) apply(tr *tree, t *txn, c *change, rev svn.Revnum) error {
	cur := lookup(tr.root, c.path)
	switch c.kind {
	case changeDelete:
		if cur == nil {
			return svn.Errorf(svn.ErrCodeFSNotFound, "path '/%s' not present", c.path)
		}
		if err := outOfDate(c.path, cur, c.base); err != nil {
			return err
		}
		if err := r.checkLocks(t, c.path, true); err != nil {
			return err
		}
		tr.set(c.path, nil)
		return nil

	case changeAddDir, changeAddFile:
		dir, _ := splitPath(c.path)
		if parent := lookup(tr.root, dir); !parent.isDir() {
			return svn.Errorf(svn.ErrCodeFSNotDirectory, "parent '/%s' of '/%s' is not a directory", dir, c.path)
		}
		if cur != nil {
			return svn.Errorf(svn.ErrCodeFSAlreadyExists, "path '/%s' already exists", c.path)
		}
		n := &node{id: r.newID(), kind: svn.NodeDir, entries: map[string]*node{}, origin: origin{rev: rev, copyRev: svn.InvalidRevnum}}
		if c.kind == changeAddFile {
			n.kind, n.entries = svn.NodeFile, nil
		}
		if c.copyPath != "" {
			src := lookup(t.revs[c.copyRev].root, c.copyPath)
			n.props, n.text = src.props.Clone(), src.text
			if src.entries != nil {
				n.entries = maps.Clone(src.entries)
			}
			n.origin.copyPath, n.origin.copyRev = c.copyPath, c.copyRev
		}
		tr.owned[n] = true
		tr.set(c.path, n)
		return applyChange(c, n)

	case changeOpenDir:
		if !cur.isDir() {
			return svn.Errorf(svn.ErrCodeFSNotDirectory, "directory '/%s' not present", c.path)
		}
		if len(c.props) == 0 {
			return nil
		}
		if err := outOfDate(c.path, cur, c.base); err != nil {
			return err
		}
		return applyChange(c, tr.mutable(c.path))

	case changeOpenFile:
		if cur == nil || cur.kind != svn.NodeFile {
			return svn.Errorf(svn.ErrCodeFSNotFound, "file '/%s' not present", c.path)
		}
		if len(c.props) == 0 && !c.textSet {
			return nil
		}
		if err := outOfDate(c.path, cur, c.base); err != nil {
			return err
		}
		if err := r.checkLocks(t, c.path, false); err != nil {
			return err
		}
		dir, name := splitPath(c.path)
		parent := tr.mutable(dir)
		n := tr.own(cur)
		parent.entries[name] = n
		return applyChange(c, n)
	}
	return nil
}

// applyChange sets the text and properties of c on n, which must be
// owned by the transaction's tree.
func applyChange(c *change, n *node) error {
	if c.textSet {
		n.text = c.text
	}
	for name, v := range c.props {
		if v == nil {
			delete(n.props, name)
			continue
		}
		if n.props == nil {
			n.props = make(svn.Props)
		}
		n.props[name] = v
	}
	return nil
}

// commit turns t into a new revision.
func (r *Repository) commit(t *txn) (svn.CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head := r.youngest()
	rev := head + 1
	tr := newTree(r.revs[head].root)
	for _, c := range t.changes {
		if err := r.apply(tr, t, c, rev); err != nil {
			return svn.CommitInfo{}, err
		}
	}
	for n := range tr.owned {
		n.created = rev
	}
	if tr.root == r.revs[head].root {
		// nothing changed, the root still gets a new version
		tr.root = tr.root.clone()
		tr.root.created = rev
	}

	now := r.opts.Now()
	props := t.revprops
	if props == nil {
		props = make(svn.Props)
	}
	props[svn.PropRevisionDate] = []byte(svn.FormatDate(now))
	if t.a.user != "" {
		props[svn.PropRevisionAuthor] = []byte(t.a.user)
	} else {
		delete(props, svn.PropRevisionAuthor)
	}
	r.revs = append(r.revs, revision{root: tr.root, props: props})

	if !t.keepLocks {
		for p, tok := range t.lockTokens {
			if l := r.locks[p]; l != nil && l.Token == tok {
				delete(r.locks, p)
			}
		}
	}
	info := svn.CommitInfo{
		Revision: rev,
		Date:     now,
		Author:   t.a.user,
	}
	glog.V(1).Infof("repos: committed r%d (based on r%d) by %q", rev, t.baseRev, t.a.user)
	return info, nil
}

// Commit runs build on the root directory of a commit by user at the
// repository root, with log message msg, and commits the result.  The
// root is opened at the youngest revision.
func (r *Repository) Commit(user, msg string, build func(root editor.DirEditor) error) (svn.CommitInfo, error) {
	var info svn.CommitInfo
	a, err := r.Access(r.url, user)
	if err != nil {
		return info, err
	}
	revprops := svn.Props{svn.PropRevisionLog: []byte(msg)}
	ed, err := a.CommitEditor(revprops, nil, false, func(ci svn.CommitInfo) error {
		info = ci
		return nil
	})
	if err != nil {
		return info, err
	}
	ed = editor.NewChecked(ed)
	root, err := ed.OpenRoot(r.Youngest())
	if err == nil {
		err = build(root)
	}
	if err == nil {
		err = root.Close()
	}
	if err != nil {
		ed.Abort()
		return info, err
	}
	return info, ed.Close()
}
