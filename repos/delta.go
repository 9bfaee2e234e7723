package repos

import (
	"bytes"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
	"github.com/cespedes/svnra/editor"
)

// differ drives an editor with the changes turning a source tree, the one
// the receiver has, into a target tree.  Paths handed to the editor are
// relative to the edit root.
type differ struct {
	r    *Repository
	revs []revision
	user string
	// target returns the repository path of the target node at edit
	// path p, for read restrictions.
	target func(p string) string
	// baseRev returns the revision the receiver has edit path p at.
	baseRev        func(p string) svn.Revnum
	textDeltas     bool
	ignoreAncestry bool
	sendCopyFrom   bool
	// copiesIn restricts copy information to copies made in that
	// revision, when valid.
	copiesIn svn.Revnum
	// Copies from revisions older than lowWater are sent as plain adds
	// with their full contents.
	lowWater svn.Revnum
}

var emptyDir = &node{kind: svn.NodeDir}

func changeProps(src, tgt svn.Props, set func(name string, value []byte) error) error {
	for _, name := range src.Names() {
		if _, ok := tgt[name]; !ok {
			if err := set(name, nil); err != nil {
				return err
			}
		}
	}
	for _, name := range tgt.Names() {
		v := tgt[name]
		if old, ok := src[name]; ok && bytes.Equal(old, v) {
			continue
		}
		if v == nil {
			v = []byte{}
		}
		if err := set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (d *differ) readable(p string) bool {
	return d.r.readable(d.user, d.target(p))
}

// dirDelta sends the changes between directories src and tgt at edit
// path p to dir.
func (d *differ) dirDelta(dir editor.DirEditor, p string, src, tgt *node, depth svn.Depth) error {
	if src == nil {
		src = emptyDir
	}
	if err := changeProps(src.props, tgt.props, dir.ChangeProp); err != nil {
		return err
	}
	if depth == svn.DepthEmpty {
		return nil
	}
	inScope := func(n *node) bool {
		return depth != svn.DepthFiles || n.kind == svn.NodeFile
	}
	for _, name := range src.names() {
		if _, ok := tgt.entries[name]; ok || !inScope(src.entries[name]) {
			continue
		}
		cp := joinPath(p, name)
		if err := dir.DeleteEntry(cp, d.baseRev(cp)); err != nil {
			return err
		}
	}
	childDepth := depth
	if depth == svn.DepthImmediates {
		childDepth = svn.DepthEmpty
	}
	for _, name := range tgt.names() {
		tn, sn := tgt.entries[name], src.entries[name]
		if !inScope(tn) || sn == tn {
			continue
		}
		cp := joinPath(p, name)
		if !d.readable(cp) {
			var err error
			if tn.kind == svn.NodeDir {
				err = dir.AbsentDirectory(cp)
			} else {
				err = dir.AbsentFile(cp)
			}
			if err != nil {
				return err
			}
			continue
		}
		if sn != nil && (sn.kind != tn.kind || (!d.ignoreAncestry && sn.id != tn.id)) {
			if err := dir.DeleteEntry(cp, d.baseRev(cp)); err != nil {
				return err
			}
			sn = nil
		}
		var err error
		if sn == nil {
			err = d.add(dir, cp, tn, childDepth)
		} else {
			err = d.modify(dir, cp, sn, tn, childDepth)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// copySource returns where n was copied from, if that is to be sent.
func (d *differ) copySource(n *node) (string, svn.Revnum, *node) {
	o := n.origin
	if !d.sendCopyFrom || o.copyPath == "" || (d.copiesIn.Valid() && o.rev != d.copiesIn) || o.copyRev < d.lowWater {
		return "", svn.InvalidRevnum, nil
	}
	src := lookup(d.revs[o.copyRev].root, o.copyPath)
	if src == nil || src.kind != n.kind {
		return "", svn.InvalidRevnum, nil
	}
	return "/" + o.copyPath, o.copyRev, src
}

func (d *differ) add(dir editor.DirEditor, p string, tn *node, depth svn.Depth) error {
	cfPath, cfRev, src := d.copySource(tn)
	if tn.kind == svn.NodeDir {
		child, err := dir.AddDirectory(p, cfPath, cfRev)
		if err != nil {
			return err
		}
		if err := d.dirDelta(child, p, src, tn, depth); err != nil {
			return err
		}
		return child.Close()
	}
	f, err := dir.AddFile(p, cfPath, cfRev)
	if err != nil {
		return err
	}
	return d.fileDelta(f, src, tn)
}

func (d *differ) modify(dir editor.DirEditor, p string, sn, tn *node, depth svn.Depth) error {
	if tn.kind == svn.NodeDir {
		child, err := dir.OpenDirectory(p, d.baseRev(p))
		if err != nil {
			return err
		}
		if err := d.dirDelta(child, p, sn, tn, depth); err != nil {
			return err
		}
		return child.Close()
	}
	f, err := dir.OpenFile(p, d.baseRev(p))
	if err != nil {
		return err
	}
	return d.fileDelta(f, sn, tn)
}

// fileDelta sends the changes between files src (nil for none) and tgt,
// and closes f.
func (d *differ) fileDelta(f editor.FileEditor, src, tgt *node) error {
	var srcProps svn.Props
	var srcText []byte
	if src != nil {
		srcProps, srcText = src.props, src.text
	}
	if err := changeProps(srcProps, tgt.props, f.ChangeProp); err != nil {
		return err
	}
	if src == nil || !bytes.Equal(srcText, tgt.text) {
		base := ""
		if src != nil {
			base = delta.Checksum(srcText)
		}
		h, err := f.ApplyTextDelta(base)
		if err != nil {
			return err
		}
		if d.textDeltas {
			_, err = delta.Send(srcText, tgt.text, h)
		} else {
			err = h(nil)
		}
		if err != nil {
			return err
		}
	}
	checksum := ""
	if d.textDeltas {
		checksum = delta.Checksum(tgt.text)
	}
	return f.Close(checksum)
}

// drive runs a complete edit turning src into tgt, both directories.
// A non-empty entry restricts the edit to that child of the edit root.
func (d *differ) drive(ed editor.Editor, targetRev svn.Revnum, src, tgt *node, entry string, depth svn.Depth) error {
	err := d.driveRoot(ed, targetRev, src, tgt, entry, depth)
	if err != nil {
		ed.Abort()
		return err
	}
	return ed.Close()
}

func (d *differ) driveRoot(ed editor.Editor, targetRev svn.Revnum, src, tgt *node, entry string, depth svn.Depth) error {
	if targetRev.Valid() {
		if err := ed.SetTargetRevision(targetRev); err != nil {
			return err
		}
	}
	root, err := ed.OpenRoot(d.baseRev(""))
	if err != nil {
		return err
	}
	if entry == "" {
		if err := d.dirDelta(root, "", src, tgt, depth); err != nil {
			return err
		}
		return root.Close()
	}

	if err := d.entryDelta(root, entry, src, tgt, depth); err != nil {
		return err
	}
	return root.Close()
}

// entryDelta sends the changes to the single child p of the edit root,
// from src to tgt, either of which may be nil.
func (d *differ) entryDelta(root editor.DirEditor, p string, src, tgt *node, depth svn.Depth) error {
	switch {
	case tgt == nil && src == nil:
		return nil
	case tgt == nil:
		return root.DeleteEntry(p, d.baseRev(p))
	case src == tgt:
		return nil
	case !d.readable(p):
		if tgt.kind == svn.NodeDir {
			return root.AbsentDirectory(p)
		}
		return root.AbsentFile(p)
	}
	if src != nil && (src.kind != tgt.kind || (!d.ignoreAncestry && src.id != tgt.id)) {
		if err := root.DeleteEntry(p, d.baseRev(p)); err != nil {
			return err
		}
		src = nil
	}
	if src == nil {
		return d.add(root, p, tgt, depth)
	}
	return d.modify(root, p, src, tgt, depth)
}
