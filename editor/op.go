package editor

import (
	"fmt"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
)

// OpKind is an editor operation.
type OpKind int

const (
	OpTargetRev OpKind = iota + 1
	OpOpenRoot
	OpDeleteEntry
	OpAddDirectory
	OpOpenDirectory
	OpChangeDirProp
	OpCloseDirectory
	OpAbsentDirectory
	OpAddFile
	OpOpenFile
	OpApplyTextDelta
	OpTextDeltaWindow
	OpTextDeltaEnd
	OpChangeFileProp
	OpCloseFile
	OpAbsentFile
	OpCloseEdit
	OpAbortEdit
)

// Wire command names.
var opNames = [...]string{
	OpTargetRev:       "target-rev",
	OpOpenRoot:        "open-root",
	OpDeleteEntry:     "delete-entry",
	OpAddDirectory:    "add-dir",
	OpOpenDirectory:   "open-dir",
	OpChangeDirProp:   "change-dir-prop",
	OpCloseDirectory:  "close-dir",
	OpAbsentDirectory: "absent-dir",
	OpAddFile:         "add-file",
	OpOpenFile:        "open-file",
	OpApplyTextDelta:  "apply-textdelta",
	OpTextDeltaWindow: "textdelta-chunk",
	OpTextDeltaEnd:    "textdelta-end",
	OpChangeFileProp:  "change-file-prop",
	OpCloseFile:       "close-file",
	OpAbsentFile:      "absent-file",
	OpCloseEdit:       "close-edit",
	OpAbortEdit:       "abort-edit",
}

func (k OpKind) String() string {
	if k > 0 && int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// ParseOpKind returns the operation for a wire command name.
func ParseOpKind(name string) (OpKind, bool) {
	for k, n := range opNames {
		if n == name && k > 0 {
			return OpKind(k), true
		}
	}
	return 0, false
}

// Op is one editor operation, as fed to a Driver.
//
// Token names the node the operation applies to (the parent directory for
// add/open/delete/absent operations, the file for file operations), and
// Child is the token given to a node opened by the operation.
type Op struct {
	Kind         OpKind
	Token        string
	Child        string
	Path         string
	Revision     svn.Revnum
	CopyFromPath string
	CopyFromRev  svn.Revnum
	PropName     string
	PropValue    []byte
	Checksum     string
	Window       *delta.Window
}
