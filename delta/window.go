// Package delta implements Subversion text deltas: windows of copy and
// insert instructions, their svndiff wire encoding, and their application.
package delta

import (
	"fmt"
	"slices"

	svn "github.com/cespedes/svnra"
)

// Action is the kind of a delta instruction.
type Action int

const (
	// Source copies bytes from the source view.
	Source Action = iota
	// Target copies bytes already produced in the target view.  The copied
	// range may overlap the bytes being written, which repeats a pattern.
	Target
	// New copies bytes from the window's new data.
	New
)

func (a Action) String() string {
	switch a {
	case Source:
		return "source"
	case Target:
		return "target"
	case New:
		return "new"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Op is a single delta instruction.
type Op struct {
	Action Action
	Offset int
	Length int
}

// WindowSize is the amount of target text described by one window.
const WindowSize = 102400

// Window describes how to build a span of the target text from a span
// of the source text (the source view) and some new data.
type Window struct {
	SourceOffset int64
	SourceLen    int
	TargetLen    int
	Ops          []Op
	NewData      []byte
}

// Clone returns a deep copy of w.  Windows handed to a WindowHandler are
// only valid during the call; handlers that keep them must clone them.
func (w *Window) Clone() *Window {
	if w == nil {
		return nil
	}
	return &Window{
		SourceOffset: w.SourceOffset,
		SourceLen:    w.SourceLen,
		TargetLen:    w.TargetLen,
		Ops:          slices.Clone(w.Ops),
		NewData:      slices.Clone(w.NewData),
	}
}

// WindowHandler consumes a stream of windows.  It is called with nil
// exactly once, after the last window.
type WindowHandler func(w *Window) error

// Apply builds the target view of w from the source view sview.
func (w *Window) Apply(sview []byte) ([]byte, error) {
	if w.SourceLen < 0 || w.TargetLen < 0 {
		return nil, svn.Errorf(svn.ErrCodeSvndiffCorruptWin, "negative view length")
	}
	if len(sview) < w.SourceLen {
		return nil, svn.Errorf(svn.ErrCodeSvndiffCorruptWin, "source view of %d bytes is shorter than %d", len(sview), w.SourceLen)
	}
	tview := make([]byte, 0, w.TargetLen)
	for _, op := range w.Ops {
		if op.Length < 0 || op.Offset < 0 {
			return nil, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "negative instruction %+v", op)
		}
		// Checked before copying, so no instruction writes past TargetLen.
		if op.Length > w.TargetLen-len(tview) {
			return nil, svn.Errorf(svn.ErrCodeSvndiffCorruptWin, "window produces more than %d bytes", w.TargetLen)
		}
		switch op.Action {
		case Source:
			if op.Length > w.SourceLen || op.Offset > w.SourceLen-op.Length {
				return nil, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "source copy of %d bytes at %d beyond view of %d bytes", op.Length, op.Offset, w.SourceLen)
			}
			tview = append(tview, sview[op.Offset:op.Offset+op.Length]...)
		case Target:
			if op.Offset >= len(tview) && op.Length > 0 {
				return nil, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "target copy from %d beyond %d bytes written", op.Offset, len(tview))
			}
			for i := range op.Length {
				tview = append(tview, tview[op.Offset+i])
			}
		case New:
			if op.Length > len(w.NewData) || op.Offset > len(w.NewData)-op.Length {
				return nil, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "new data of %d bytes at %d beyond %d bytes", op.Length, op.Offset, len(w.NewData))
			}
			tview = append(tview, w.NewData[op.Offset:op.Offset+op.Length]...)
		default:
			return nil, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "invalid instruction %v", op.Action)
		}
	}
	if len(tview) != w.TargetLen {
		return nil, svn.Errorf(svn.ErrCodeSvndiffCorruptWin, "window produced %d bytes instead of %d", len(tview), w.TargetLen)
	}
	return tview, nil
}
