// Package editor defines the tree-delta editor protocol and a driver that
// enforces its depth-first ordering rules.
//
// An edit opens the root directory, walks the changed part of the tree
// depth-first and finally closes the edit or aborts it.  Paths passed to
// directory methods are relative to the edit root and name a direct child
// of the directory the method is called on.
package editor

import (
	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
)

// Editor receives a tree delta.
type Editor interface {
	// SetTargetRevision announces the revision the edit brings the tree to.
	// It may only be called before OpenRoot.
	SetTargetRevision(rev svn.Revnum) error
	// OpenRoot opens the edit root, based on baseRevision.
	OpenRoot(baseRevision svn.Revnum) (DirEditor, error)
	// Close completes the edit.  Every node must be closed by then.
	Close() error
	// Abort cancels the edit.  It may be called at any time, even from
	// inside another callback, and invalidates every open node.
	Abort() error
}

// DirEditor edits an open directory.
type DirEditor interface {
	DeleteEntry(path string, rev svn.Revnum) error
	// AddDirectory adds a child directory, optionally copied from
	// copyFromPath@copyFromRev.
	AddDirectory(path, copyFromPath string, copyFromRev svn.Revnum) (DirEditor, error)
	OpenDirectory(path string, baseRevision svn.Revnum) (DirEditor, error)
	// ChangeProp sets a property; a nil value deletes it.
	ChangeProp(name string, value []byte) error
	// AbsentDirectory reports a child directory the receiver may not see.
	AbsentDirectory(path string) error
	AddFile(path, copyFromPath string, copyFromRev svn.Revnum) (FileEditor, error)
	OpenFile(path string, baseRevision svn.Revnum) (FileEditor, error)
	AbsentFile(path string) error
	Close() error
}

// FileEditor edits an open file.
type FileEditor interface {
	// ApplyTextDelta starts the delta against the file's base text, whose
	// checksum is baseChecksum if known.  The returned handler receives the
	// windows and a final nil.
	ApplyTextDelta(baseChecksum string) (delta.WindowHandler, error)
	ChangeProp(name string, value []byte) error
	// Close closes the file.  textChecksum, if not empty, is the MD5 of
	// the resulting text.
	Close(textChecksum string) error
}
