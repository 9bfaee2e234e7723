// Package ra implements remote-access sessions to Subversion repositories.
//
// A Session wraps a Transport, which speaks to one repository, and makes
// sure that exchanges on it never overlap: starting an exchange while
// another one is in progress fails with ErrBusy.  It also validates the
// editor drives going both ways and isolates the caller's callbacks from
// the transport.
package ra

import (
	"io"
	"time"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/editor"
)

// Reporter describes the state of the caller's tree to the server ahead
// of an update, switch or diff.  Paths are relative to the target of the
// operation; "" is the target itself.
type Reporter interface {
	SetPath(path string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error
	DeletePath(path string) error
	LinkPath(path, url string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error
	// FinishReport ends the report and runs the editor drive it triggers.
	FinishReport() error
	AbortReport() error
}

// CommitFunc receives the result of a successful commit.
type CommitFunc func(info svn.CommitInfo) error

// LockFunc receives the outcome of locking or unlocking one path.
// stolen reports that an existing lock was stolen or broken; lock is the
// new lock, or the released one when unlocking; err is the failure for
// that path.
type LockFunc func(path string, stolen bool, lock *svn.Lock, err error) error

// SegmentFunc receives one location segment.
type SegmentFunc func(seg svn.LocationSegment) error

// ReplayStartFunc returns the editor to drive with revision rev.
type ReplayStartFunc func(rev svn.Revnum, revprops svn.Props) (editor.Editor, error)

// ReplayFinishFunc is called after revision rev was replayed into ed.
type ReplayFinishFunc func(rev svn.Revnum, revprops svn.Props, ed editor.Editor) error

// Transport is a connection to one repository, as implemented by the
// wire client and by local repositories.
//
// A Transport runs one exchange at a time.  Errors returned by callbacks
// are passed back to the caller, except for LockFunc and SegmentFunc
// whose errors it ignores.
type Transport interface {
	SessionURL() string
	ReposRoot() string
	UUID() string
	HasCapability(capability string) bool
	Reparent(url string) error

	LatestRevnum() (svn.Revnum, error)
	DatedRevnum(t time.Time) (svn.Revnum, error)
	CheckPath(path string, rev svn.Revnum) (svn.NodeKind, error)
	// Stat returns nil if path does not exist.
	Stat(path string, rev svn.Revnum) (*svn.Dirent, error)
	GetFile(path string, rev svn.Revnum, w io.Writer) (svn.Revnum, svn.Props, error)
	GetDir(path string, rev svn.Revnum) (svn.Revnum, []svn.Dirent, svn.Props, error)

	Update(rev svn.Revnum, target string, depth svn.Depth, sendCopyFrom bool, ed editor.Editor) (Reporter, error)
	Switch(rev svn.Revnum, target string, depth svn.Depth, switchURL string, ed editor.Editor) (Reporter, error)
	Diff(rev svn.Revnum, target string, depth svn.Depth, versusURL string, ignoreAncestry, textDeltas bool, ed editor.Editor) (Reporter, error)
	Replay(rev, lowWater svn.Revnum, sendDeltas bool, ed editor.Editor) error
	ReplayRange(start, end, lowWater svn.Revnum, sendDeltas bool, startFn ReplayStartFunc, finishFn ReplayFinishFunc) error

	// CommitEditor returns the editor building the next revision.  Its
	// Close calls onCommit once the revision exists, and returns the
	// callback's error.
	CommitEditor(revprops svn.Props, lockTokens map[string]string, keepLocks bool, onCommit CommitFunc) (editor.Editor, error)
	Lock(pathRevs map[string]svn.Revnum, comment string, steal bool, fn LockFunc) error
	Unlock(pathTokens map[string]string, breakLock bool, fn LockFunc) error

	LocationSegments(path string, peg, start, end svn.Revnum, fn SegmentFunc) error
	Locations(path string, peg svn.Revnum, revs []svn.Revnum) (map[svn.Revnum]string, error)

	Close() error
}
