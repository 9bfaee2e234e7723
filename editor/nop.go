package editor

import (
	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
)

// Nop is an Editor that accepts and discards every edit.
type Nop struct{}

func (Nop) SetTargetRevision(svn.Revnum) error {
	return nil
}

func (Nop) OpenRoot(svn.Revnum) (DirEditor, error) {
	return nopDir{}, nil
}

func (Nop) Close() error {
	return nil
}

func (Nop) Abort() error {
	return nil
}

type nopDir struct{}

func (nopDir) DeleteEntry(string, svn.Revnum) error {
	return nil
}

func (nopDir) AddDirectory(string, string, svn.Revnum) (DirEditor, error) {
	return nopDir{}, nil
}

func (nopDir) OpenDirectory(string, svn.Revnum) (DirEditor, error) {
	return nopDir{}, nil
}

func (nopDir) ChangeProp(string, []byte) error {
	return nil
}

func (nopDir) AbsentDirectory(string) error {
	return nil
}

func (nopDir) AddFile(string, string, svn.Revnum) (FileEditor, error) {
	return nopFile{}, nil
}

func (nopDir) OpenFile(string, svn.Revnum) (FileEditor, error) {
	return nopFile{}, nil
}

func (nopDir) AbsentFile(string) error {
	return nil
}

func (nopDir) Close() error {
	return nil
}

type nopFile struct{}

func (nopFile) ApplyTextDelta(string) (delta.WindowHandler, error) {
	return func(*delta.Window) error { return nil }, nil
}

func (nopFile) ChangeProp(string, []byte) error {
	return nil
}

func (nopFile) Close(string) error {
	return nil
}
