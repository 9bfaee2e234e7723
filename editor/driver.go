package editor

import (
	"errors"
	"strings"

	"github.com/golang/glog"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
)

var (
	// ErrBadOrder is the cause of every error reporting an operation that
	// breaks the editor ordering rules.
	ErrBadOrder = errors.New("editor: operation out of order")
	// ErrAborted is the cause of errors for operations after an abort.
	ErrAborted = errors.New("editor: edit aborted")
)

type nodeState int

const (
	stateOpen nodeState = iota
	stateClosed
	stateAborted
)

type textState int

const (
	textNone textState = iota
	textStreaming
	textDone
)

type node struct {
	kind   svn.NodeKind
	path   string
	token  string
	parent int
	state  nodeState
	dir    DirEditor
	file   FileEditor
	// open files in a directory
	files   int
	text    textState
	handler delta.WindowHandler
	// child names deleted, and added, opened or reported absent
	deleted map[string]bool
	seen    map[string]bool
}

// Driver feeds a sequence of Ops to an Editor, resolving tokens to the
// nodes they name and refusing operations that break the ordering rules:
//
//   - directory operations apply to the innermost open directory only;
//   - a file may stay open while its siblings are visited, but must be
//     closed before its parent directory;
//   - a path is a direct child of the directory it is added to;
//   - a name may be opened or added once per directory, and a deleted
//     name may be added again but not opened;
//   - a file receives at most one text delta, and is not closed while
//     the delta is streaming.
//
// Any failure, whether an ordering error or an error returned by the
// editor, aborts the edit.  Panics in the editor are returned as errors.
type Driver struct {
	editor    Editor
	nodes     []node
	free      []int
	dirs      []int
	tokens    map[string]int
	targetSet bool
	rootOpen  bool
	rootDone  bool
	closed    bool
	aborted   bool
}

// NewDriver returns a Driver feeding e.
func NewDriver(e Editor) *Driver {
	return &Driver{
		editor: e,
		tokens: make(map[string]int),
	}
}

// Closed reports whether the edit completed.
func (d *Driver) Closed() bool {
	return d.closed
}

// Aborted reports whether the edit was aborted.
func (d *Driver) Aborted() bool {
	return d.aborted
}

// Done reports whether the edit ended, either way.
func (d *Driver) Done() bool {
	return d.closed || d.aborted
}

func orderError(format string, a ...any) error {
	return svn.Wrap(ErrBadOrder, svn.ErrCodeIncorrectParams, format, a...)
}

// Apply performs op.
func (d *Driver) Apply(op Op) error {
	if d.aborted {
		return svn.Wrap(ErrAborted, svn.ErrCodeRASvnEditAborted, "%s after the edit was aborted", op.Kind)
	}
	if d.closed {
		return orderError("%s after close-edit", op.Kind)
	}
	if op.Kind == OpAbortEdit {
		return d.Abort()
	}
	if err := d.apply(op); err != nil {
		if !d.aborted {
			if aerr := d.Abort(); aerr != nil {
				glog.Warningf("editor: abort after failed %s: %v", op.Kind, aerr)
			}
		}
		return err
	}
	if d.aborted {
		// The editor aborted the edit from inside the callback.
		return svn.Wrap(ErrAborted, svn.ErrCodeRASvnEditAborted, "edit aborted during %s", op.Kind)
	}
	return nil
}

// Abort aborts the edit.  It does nothing if the edit already ended.
func (d *Driver) Abort() error {
	if d.aborted || d.closed {
		return nil
	}
	d.aborted = true
	for i := range d.nodes {
		if d.nodes[i].state == stateOpen {
			d.nodes[i].state = stateAborted
		}
	}
	d.dirs = nil
	clear(d.tokens)
	return svn.Call("abort-edit", d.editor.Abort)
}

func (d *Driver) apply(op Op) error {
	switch op.Kind {
	case OpTargetRev:
		if d.rootOpen {
			return orderError("target-rev after open-root")
		}
		if d.targetSet {
			return orderError("target-rev called twice")
		}
		d.targetSet = true
		return svn.Call(op.Kind.String(), func() error {
			return d.editor.SetTargetRevision(op.Revision)
		})

	case OpOpenRoot:
		if d.rootOpen {
			return orderError("open-root called twice")
		}
		if err := d.checkToken(op.Child); err != nil {
			return err
		}
		d.rootOpen = true
		var dir DirEditor
		err := svn.Call(op.Kind.String(), func() (err error) {
			dir, err = d.editor.OpenRoot(op.Revision)
			return err
		})
		if err != nil {
			return err
		}
		d.add(node{kind: svn.NodeDir, token: op.Child, parent: -1, dir: dir})
		return nil

	case OpDeleteEntry:
		pi, name, err := d.child(op)
		if err != nil {
			return err
		}
		if d.nodes[pi].seen[name] {
			return orderError("delete of %q after it was added or opened", op.Path)
		}
		err = svn.Call(op.Kind.String(), func() error {
			return d.nodes[pi].dir.DeleteEntry(op.Path, op.Revision)
		})
		if err != nil {
			return err
		}
		d.nodes[pi].deleted[name] = true
		return nil

	case OpAddDirectory, OpOpenDirectory, OpAddFile, OpOpenFile:
		return d.openChild(op)

	case OpAbsentDirectory, OpAbsentFile:
		pi, name, err := d.child(op)
		if err != nil {
			return err
		}
		if d.nodes[pi].seen[name] {
			return orderError("%q reported absent after it was added or opened", op.Path)
		}
		err = svn.Call(op.Kind.String(), func() error {
			if op.Kind == OpAbsentDirectory {
				return d.nodes[pi].dir.AbsentDirectory(op.Path)
			}
			return d.nodes[pi].dir.AbsentFile(op.Path)
		})
		if err != nil {
			return err
		}
		d.nodes[pi].seen[name] = true
		return nil

	case OpChangeDirProp:
		i, err := d.innermost(op.Token)
		if err != nil {
			return err
		}
		return svn.Call(op.Kind.String(), func() error {
			return d.nodes[i].dir.ChangeProp(op.PropName, op.PropValue)
		})

	case OpCloseDirectory:
		i, err := d.innermost(op.Token)
		if err != nil {
			return err
		}
		if n := d.nodes[i].files; n > 0 {
			return orderError("close of directory %q with %d open files", d.nodes[i].path, n)
		}
		err = svn.Call(op.Kind.String(), d.nodes[i].dir.Close)
		if err != nil {
			return err
		}
		d.dirs = d.dirs[:len(d.dirs)-1]
		if d.nodes[i].parent < 0 {
			d.rootDone = true
		}
		d.release(i)
		return nil

	case OpApplyTextDelta:
		i, err := d.openFile(op.Token)
		if err != nil {
			return err
		}
		if d.nodes[i].text != textNone {
			return orderError("second text delta for %q", d.nodes[i].path)
		}
		var h delta.WindowHandler
		err = svn.Call(op.Kind.String(), func() (err error) {
			h, err = d.nodes[i].file.ApplyTextDelta(op.Checksum)
			return err
		})
		if err != nil {
			return err
		}
		if h == nil {
			h = func(*delta.Window) error { return nil }
		}
		d.nodes[i].handler = h
		d.nodes[i].text = textStreaming
		return nil

	case OpTextDeltaWindow, OpTextDeltaEnd:
		i, err := d.openFile(op.Token)
		if err != nil {
			return err
		}
		if d.nodes[i].text != textStreaming {
			return orderError("%s for %q without apply-textdelta", op.Kind, d.nodes[i].path)
		}
		w := op.Window
		if op.Kind == OpTextDeltaEnd {
			w = nil
		} else if w == nil {
			return orderError("empty window for %q", d.nodes[i].path)
		}
		err = svn.Call(op.Kind.String(), func() error {
			return d.nodes[i].handler(w)
		})
		if err != nil {
			return err
		}
		if w == nil {
			d.nodes[i].text = textDone
			d.nodes[i].handler = nil
		}
		return nil

	case OpChangeFileProp:
		i, err := d.openFile(op.Token)
		if err != nil {
			return err
		}
		return svn.Call(op.Kind.String(), func() error {
			return d.nodes[i].file.ChangeProp(op.PropName, op.PropValue)
		})

	case OpCloseFile:
		i, err := d.openFile(op.Token)
		if err != nil {
			return err
		}
		if d.nodes[i].text == textStreaming {
			return orderError("close of %q while its text delta is streaming", d.nodes[i].path)
		}
		err = svn.Call(op.Kind.String(), func() error {
			return d.nodes[i].file.Close(op.Checksum)
		})
		if err != nil {
			return err
		}
		d.nodes[d.nodes[i].parent].files--
		d.release(i)
		return nil

	case OpCloseEdit:
		if !d.rootOpen {
			return orderError("close-edit before open-root")
		}
		if !d.rootDone {
			return orderError("close-edit with %d open directories", len(d.dirs))
		}
		if err := svn.Call(op.Kind.String(), d.editor.Close); err != nil {
			return err
		}
		d.closed = true
		return nil
	}
	return orderError("unknown editor operation %v", op.Kind)
}

func (d *Driver) openChild(op Op) error {
	pi, name, err := d.child(op)
	if err != nil {
		return err
	}
	adding := op.Kind == OpAddDirectory || op.Kind == OpAddFile
	p := &d.nodes[pi]
	switch {
	case p.seen[name]:
		return orderError("%q added or opened twice", op.Path)
	case !adding && p.deleted[name]:
		return orderError("open of %q after it was deleted", op.Path)
	}
	if err := d.checkToken(op.Child); err != nil {
		return err
	}

	n := node{
		path:   op.Path,
		token:  op.Child,
		parent: pi,
	}
	err = svn.Call(op.Kind.String(), func() (err error) {
		dir := d.nodes[pi].dir
		switch op.Kind {
		case OpAddDirectory:
			n.dir, err = dir.AddDirectory(op.Path, op.CopyFromPath, op.CopyFromRev)
		case OpOpenDirectory:
			n.dir, err = dir.OpenDirectory(op.Path, op.Revision)
		case OpAddFile:
			n.file, err = dir.AddFile(op.Path, op.CopyFromPath, op.CopyFromRev)
		case OpOpenFile:
			n.file, err = dir.OpenFile(op.Path, op.Revision)
		}
		return err
	})
	if err != nil {
		return err
	}
	d.nodes[pi].seen[name] = true
	if op.Kind == OpAddDirectory || op.Kind == OpOpenDirectory {
		n.kind = svn.NodeDir
	} else {
		n.kind = svn.NodeFile
		d.nodes[pi].files++
	}
	d.add(n)
	return nil
}

// child validates an operation on a child of the innermost directory and
// returns that directory's index and the child's name.
func (d *Driver) child(op Op) (int, string, error) {
	pi, err := d.innermost(op.Token)
	if err != nil {
		return 0, "", err
	}
	parent, name := splitPath(op.Path)
	if name == "" || parent != d.nodes[pi].path {
		return 0, "", orderError("%s: %q is not a child of %q", op.Kind, op.Path, d.nodes[pi].path)
	}
	return pi, name, nil
}

// innermost returns the index of the directory named by token, which must
// be the innermost open directory.
func (d *Driver) innermost(token string) (int, error) {
	i, ok := d.tokens[token]
	if !ok || d.nodes[i].kind != svn.NodeDir {
		return 0, orderError("unknown directory token %q", token)
	}
	if len(d.dirs) == 0 || d.dirs[len(d.dirs)-1] != i {
		return 0, orderError("directory %q is not the innermost open directory", d.nodes[i].path)
	}
	return i, nil
}

func (d *Driver) openFile(token string) (int, error) {
	i, ok := d.tokens[token]
	if !ok || d.nodes[i].kind != svn.NodeFile {
		return 0, orderError("unknown file token %q", token)
	}
	return i, nil
}

func (d *Driver) checkToken(token string) error {
	if _, ok := d.tokens[token]; ok {
		return orderError("token %q already in use", token)
	}
	return nil
}

func (d *Driver) add(n node) {
	n.state = stateOpen
	if n.kind == svn.NodeDir {
		n.deleted = make(map[string]bool)
		n.seen = make(map[string]bool)
	}
	var i int
	if k := len(d.free); k > 0 {
		i = d.free[k-1]
		d.free = d.free[:k-1]
		d.nodes[i] = n
	} else {
		i = len(d.nodes)
		d.nodes = append(d.nodes, n)
	}
	d.tokens[n.token] = i
	if n.kind == svn.NodeDir {
		d.dirs = append(d.dirs, i)
	}
}

// release closes node i and recycles its slot.
func (d *Driver) release(i int) {
	delete(d.tokens, d.nodes[i].token)
	d.nodes[i] = node{state: stateClosed}
	d.free = append(d.free, i)
}

// splitPath splits a relative path into its parent and last component.
func splitPath(p string) (parent, name string) {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}
