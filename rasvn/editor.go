package rasvn

import (
	"bytes"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
	"github.com/cespedes/svnra/editor"
)

// wireEditor sends the edit it receives as editor commands.
//
// The receiver answers close-edit and abort-edit only.  A replay ends
// with finish-replay instead of close-edit, and gets no answer.
type wireEditor struct {
	c       *svn.Conn
	version int
	replay  bool
	// started is set once a command was sent; an edit that never
	// started is aborted silently.
	started bool
	done    bool
	// onClose runs after the receiver accepted close-edit.
	onClose func() error
}

func newWireEditor(c *svn.Conn, svndiffVersion int, replay bool) *wireEditor {
	return &wireEditor{c: c, version: svndiffVersion, replay: replay}
}

func newToken() []byte {
	return []byte(ulid.Make().String())
}

func (e *wireEditor) send(name string, params ...any) error {
	if e.done {
		return svn.Errorf(svn.ErrCodeRASvnEditAborted, "%s after the edit ended", name)
	}
	e.started = true
	return e.c.WriteCommand(name, params...)
}

func (e *wireEditor) SetTargetRevision(rev svn.Revnum) error {
	return e.send("target-rev", rev)
}

func (e *wireEditor) OpenRoot(base svn.Revnum) (editor.DirEditor, error) {
	tok := newToken()
	if err := e.send("open-root", base.Opt(), tok); err != nil {
		return nil, err
	}
	return &wireDir{e: e, token: tok}, nil
}

func (e *wireEditor) Close() error {
	if e.replay {
		err := e.send("finish-replay")
		e.done = true
		return err
	}
	if err := e.send("close-edit"); err != nil {
		return err
	}
	e.done = true
	if err := e.c.ReadResponse(nil); err != nil {
		return err
	}
	if e.onClose != nil {
		return e.onClose()
	}
	return nil
}

func (e *wireEditor) Abort() error {
	if !e.started || e.done {
		return nil
	}
	if err := e.send("abort-edit"); err != nil {
		return err
	}
	e.done = true
	return e.c.ReadResponse(nil)
}

type wireDir struct {
	e     *wireEditor
	token []byte
}

func copyFrom(path string, rev svn.Revnum) []any {
	if path == "" {
		return []any{}
	}
	return []any{[]byte(path), rev}
}

func (d *wireDir) DeleteEntry(path string, rev svn.Revnum) error {
	return d.e.send("delete-entry", []byte(path), rev.Opt(), d.token)
}

func (d *wireDir) AddDirectory(path, copyFromPath string, copyFromRev svn.Revnum) (editor.DirEditor, error) {
	tok := newToken()
	if err := d.e.send("add-dir", []byte(path), d.token, tok, copyFrom(copyFromPath, copyFromRev)); err != nil {
		return nil, err
	}
	return &wireDir{e: d.e, token: tok}, nil
}

func (d *wireDir) OpenDirectory(path string, base svn.Revnum) (editor.DirEditor, error) {
	tok := newToken()
	if err := d.e.send("open-dir", []byte(path), d.token, tok, base.Opt()); err != nil {
		return nil, err
	}
	return &wireDir{e: d.e, token: tok}, nil
}

func (d *wireDir) ChangeProp(name string, value []byte) error {
	return d.e.send("change-dir-prop", d.token, []byte(name), optBytes(value))
}

func (d *wireDir) AbsentDirectory(path string) error {
	return d.e.send("absent-dir", []byte(path), d.token)
}

func (d *wireDir) AddFile(path, copyFromPath string, copyFromRev svn.Revnum) (editor.FileEditor, error) {
	tok := newToken()
	if err := d.e.send("add-file", []byte(path), d.token, tok, copyFrom(copyFromPath, copyFromRev)); err != nil {
		return nil, err
	}
	return &wireFile{e: d.e, token: tok}, nil
}

func (d *wireDir) OpenFile(path string, base svn.Revnum) (editor.FileEditor, error) {
	tok := newToken()
	if err := d.e.send("open-file", []byte(path), d.token, tok, base.Opt()); err != nil {
		return nil, err
	}
	return &wireFile{e: d.e, token: tok}, nil
}

func (d *wireDir) AbsentFile(path string) error {
	return d.e.send("absent-file", []byte(path), d.token)
}

func (d *wireDir) Close() error {
	return d.e.send("close-dir", d.token)
}

type wireFile struct {
	e     *wireEditor
	token []byte
}

func (f *wireFile) ApplyTextDelta(baseChecksum string) (delta.WindowHandler, error) {
	if err := f.e.send("apply-textdelta", f.token, svn.OptString(baseChecksum)); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := delta.NewEncoder(&buf, f.e.version)
	return func(w *delta.Window) error {
		if err := enc.Encode(w); err != nil {
			return err
		}
		if buf.Len() > 0 {
			if err := f.e.send("textdelta-chunk", f.token, buf.Bytes()); err != nil {
				return err
			}
			buf.Reset()
		}
		if w == nil {
			return f.e.send("textdelta-end", f.token)
		}
		return nil
	}, nil
}

func (f *wireFile) ChangeProp(name string, value []byte) error {
	return f.e.send("change-file-prop", f.token, []byte(name), optBytes(value))
}

func (f *wireFile) Close(textChecksum string) error {
	return f.e.send("close-file", f.token, svn.OptString(textChecksum))
}

// Parameters of the editor commands.
type (
	openRootArgs struct {
		Rev   []svn.Revnum
		Token string
	}
	deleteEntryArgs struct {
		Path  string
		Rev   []svn.Revnum
		Token string
	}
	copyArgs struct {
		Path string
		Rev  svn.Revnum
	}
	addArgs struct {
		Path  string
		Token string
		Child string
		Copy  copyArgs
	}
	openArgs struct {
		Path  string
		Token string
		Child string
		Rev   []svn.Revnum
	}
	propArgs struct {
		Token string
		Name  string
		Value [][]byte
	}
	absentArgs struct {
		Path  string
		Token string
	}
	tokenArgs struct {
		Token    string
		Checksum []string
	}
	chunkArgs struct {
		Token string
		Chunk []byte
	}
)

// parseOp turns an editor command, other than the text delta chunks,
// into an Op.
func parseOp(cmd svn.Command) (editor.Op, error) {
	kind, ok := editor.ParseOpKind(cmd.Name)
	if !ok || kind == editor.OpTextDeltaWindow {
		return editor.Op{}, svn.Errorf(svn.ErrCodeRASvnUnknownCmd, "unknown editor command %q", cmd.Name)
	}
	op := editor.Op{Kind: kind, Revision: svn.InvalidRevnum, CopyFromRev: svn.InvalidRevnum}
	var err error
	switch kind {
	case editor.OpTargetRev:
		var args struct{ Rev svn.Revnum }
		err = cmd.Args(&args)
		op.Revision = args.Rev
	case editor.OpOpenRoot:
		var args openRootArgs
		err = cmd.Args(&args)
		op.Revision, op.Child = svn.OptRevnum(args.Rev), args.Token
	case editor.OpDeleteEntry:
		var args deleteEntryArgs
		err = cmd.Args(&args)
		op.Path, op.Revision, op.Token = args.Path, svn.OptRevnum(args.Rev), args.Token
	case editor.OpAddDirectory, editor.OpAddFile:
		args := addArgs{Copy: copyArgs{Rev: svn.InvalidRevnum}}
		err = cmd.Args(&args)
		op.Path, op.Token, op.Child = args.Path, args.Token, args.Child
		op.CopyFromPath, op.CopyFromRev = args.Copy.Path, args.Copy.Rev
	case editor.OpOpenDirectory, editor.OpOpenFile:
		var args openArgs
		err = cmd.Args(&args)
		op.Path, op.Token, op.Child, op.Revision = args.Path, args.Token, args.Child, svn.OptRevnum(args.Rev)
	case editor.OpChangeDirProp, editor.OpChangeFileProp:
		var args propArgs
		err = cmd.Args(&args)
		op.Token, op.PropName, op.PropValue = args.Token, args.Name, optValue(args.Value)
	case editor.OpAbsentDirectory, editor.OpAbsentFile:
		var args absentArgs
		err = cmd.Args(&args)
		op.Path, op.Token = args.Path, args.Token
	case editor.OpCloseDirectory, editor.OpApplyTextDelta, editor.OpTextDeltaEnd, editor.OpCloseFile:
		var args tokenArgs
		err = cmd.Args(&args)
		op.Token, op.Checksum = args.Token, firstString(args.Checksum)
	}
	return op, err
}

// feed reads editor commands from c and applies them to ed, until the
// edit is closed or aborted, or a replay finishes.  Once ed fails, the
// remaining commands are read and dropped, and the failure is reported
// when the sender closes or aborts the edit.
//
// A failure response read instead of a command means the sender failed
// before starting the edit; ed is aborted, and the failure is returned
// with answered set, as it is the response to the command that started
// the edit.
func feed(c *svn.Conn, ed editor.Editor, forReplay bool) (answered bool, err error) {
	d := editor.NewDriver(ed)
	decoders := make(map[string]*delta.Decoder)
	var failed error
	fail := func(err error) {
		if failed == nil && err != nil {
			glog.V(2).Infof("rasvn: edit failed: %v", err)
			failed = err
			d.Abort()
		}
	}
	for {
		cmd, err := c.ReadCommand()
		if err != nil {
			d.Abort()
			return false, err
		}
		switch cmd.Name {
		case "failure":
			d.Abort()
			return true, svn.ParseFailure(cmd.Params)
		case "finish-replay":
			if !forReplay {
				fail(svn.Errorf(svn.ErrCodeRASvnUnknownCmd, "finish-replay outside of a replay"))
				continue
			}
			if failed == nil {
				fail(d.Apply(editor.Op{Kind: editor.OpCloseEdit}))
			}
			return false, failed
		case "textdelta-chunk":
			var args chunkArgs
			if err := cmd.Args(&args); err != nil {
				fail(err)
				continue
			}
			if dec := decoders[args.Token]; dec != nil && failed == nil {
				_, err := dec.Write(args.Chunk)
				fail(err)
			}
			continue
		}

		op, err := parseOp(cmd)
		if err != nil {
			fail(err)
		} else if failed == nil {
			switch op.Kind {
			case editor.OpApplyTextDelta:
				tok := op.Token
				decoders[tok] = delta.NewDecoder(func(w *delta.Window) error {
					return d.Apply(editor.Op{Kind: editor.OpTextDeltaWindow, Token: tok, Window: w})
				})
			case editor.OpTextDeltaEnd:
				if dec := decoders[op.Token]; dec != nil {
					delete(decoders, op.Token)
					fail(dec.Close())
				}
			}
			if failed == nil {
				fail(d.Apply(op))
			}
		}
		if op.Kind == editor.OpCloseEdit || op.Kind == editor.OpAbortEdit {
			if err := c.WriteResponse(failed); err != nil {
				return false, err
			}
			return false, failed
		}
	}
}
