package editor

import (
	"strconv"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
)

// NewChecked returns an Editor that validates every call with a Driver
// before passing it on to sink.  Calls that break the ordering rules fail
// with an error wrapping ErrBadOrder and abort the edit.
func NewChecked(sink Editor) Editor {
	return &checked{d: NewDriver(sink)}
}

type checked struct {
	d    *Driver
	next int
}

func (c *checked) token(prefix string) string {
	c.next++
	return prefix + strconv.Itoa(c.next)
}

func (c *checked) SetTargetRevision(rev svn.Revnum) error {
	return c.d.Apply(Op{Kind: OpTargetRev, Revision: rev})
}

func (c *checked) OpenRoot(base svn.Revnum) (DirEditor, error) {
	tok := c.token("d")
	if err := c.d.Apply(Op{Kind: OpOpenRoot, Revision: base, Child: tok}); err != nil {
		return nil, err
	}
	return &checkedDir{c: c, token: tok}, nil
}

func (c *checked) Close() error {
	return c.d.Apply(Op{Kind: OpCloseEdit})
}

func (c *checked) Abort() error {
	return c.d.Abort()
}

type checkedDir struct {
	c     *checked
	token string
}

func (d *checkedDir) DeleteEntry(path string, rev svn.Revnum) error {
	return d.c.d.Apply(Op{Kind: OpDeleteEntry, Token: d.token, Path: path, Revision: rev})
}

func (d *checkedDir) AddDirectory(path, copyFromPath string, copyFromRev svn.Revnum) (DirEditor, error) {
	tok := d.c.token("d")
	err := d.c.d.Apply(Op{Kind: OpAddDirectory, Token: d.token, Child: tok, Path: path,
		CopyFromPath: copyFromPath, CopyFromRev: copyFromRev})
	if err != nil {
		return nil, err
	}
	return &checkedDir{c: d.c, token: tok}, nil
}

func (d *checkedDir) OpenDirectory(path string, base svn.Revnum) (DirEditor, error) {
	tok := d.c.token("d")
	err := d.c.d.Apply(Op{Kind: OpOpenDirectory, Token: d.token, Child: tok, Path: path, Revision: base})
	if err != nil {
		return nil, err
	}
	return &checkedDir{c: d.c, token: tok}, nil
}

func (d *checkedDir) ChangeProp(name string, value []byte) error {
	return d.c.d.Apply(Op{Kind: OpChangeDirProp, Token: d.token, PropName: name, PropValue: value})
}

func (d *checkedDir) AbsentDirectory(path string) error {
	return d.c.d.Apply(Op{Kind: OpAbsentDirectory, Token: d.token, Path: path})
}

func (d *checkedDir) AddFile(path, copyFromPath string, copyFromRev svn.Revnum) (FileEditor, error) {
	tok := d.c.token("f")
	err := d.c.d.Apply(Op{Kind: OpAddFile, Token: d.token, Child: tok, Path: path,
		CopyFromPath: copyFromPath, CopyFromRev: copyFromRev})
	if err != nil {
		return nil, err
	}
	return &checkedFile{c: d.c, token: tok}, nil
}

func (d *checkedDir) OpenFile(path string, base svn.Revnum) (FileEditor, error) {
	tok := d.c.token("f")
	err := d.c.d.Apply(Op{Kind: OpOpenFile, Token: d.token, Child: tok, Path: path, Revision: base})
	if err != nil {
		return nil, err
	}
	return &checkedFile{c: d.c, token: tok}, nil
}

func (d *checkedDir) AbsentFile(path string) error {
	return d.c.d.Apply(Op{Kind: OpAbsentFile, Token: d.token, Path: path})
}

func (d *checkedDir) Close() error {
	return d.c.d.Apply(Op{Kind: OpCloseDirectory, Token: d.token})
}

type checkedFile struct {
	c     *checked
	token string
}

func (f *checkedFile) ApplyTextDelta(baseChecksum string) (delta.WindowHandler, error) {
	err := f.c.d.Apply(Op{Kind: OpApplyTextDelta, Token: f.token, Checksum: baseChecksum})
	if err != nil {
		return nil, err
	}
	return func(w *delta.Window) error {
		if w == nil {
			return f.c.d.Apply(Op{Kind: OpTextDeltaEnd, Token: f.token})
		}
		return f.c.d.Apply(Op{Kind: OpTextDeltaWindow, Token: f.token, Window: w})
	}, nil
}

func (f *checkedFile) ChangeProp(name string, value []byte) error {
	return f.c.d.Apply(Op{Kind: OpChangeFileProp, Token: f.token, PropName: name, PropValue: value})
}

func (f *checkedFile) Close(textChecksum string) error {
	return f.c.d.Apply(Op{Kind: OpCloseFile, Token: f.token, Checksum: textChecksum})
}
