package ra

import (
	"io"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
	"github.com/cespedes/svnra/editor"
)

var (
	// ErrBusy is returned when an exchange is started on a session while
	// another one is in progress.
	ErrBusy = &svn.Error{AprErr: svn.ErrCodeRASvnConnBusy, Message: "session is busy with another operation"}
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = &svn.Error{AprErr: svn.ErrCodeRASvnConnClosed, Message: "session is closed"}
)

// Option configures a Session.
type Option func(*options)

type options struct {
	dial DialConfig
}

func newOptions(opts []Option) *options {
	o := &options{dial: DialConfig{UserAgent: "svnra"}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithAuth sets the credentials used to authenticate.
func WithAuth(b *auth.Baton) Option {
	return func(o *options) {
		o.dial.Auth = b
	}
}

// WithTunnels sets the commands run for "svn+NAME://" URLs.
func WithTunnels(tunnels map[string]string) Option {
	return func(o *options) {
		o.dial.Tunnels = tunnels
	}
}

// WithUserAgent sets the client name sent to servers.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.dial.UserAgent = ua
	}
}

// Session is a remote-access session.  Its methods may be called from
// several goroutines, but only one exchange runs at a time: the others
// fail with ErrBusy.
type Session struct {
	mu     sync.Mutex
	t      Transport
	auth   *auth.Baton
	closed bool
}

// New returns a Session using t.
func New(t Transport, opts ...Option) *Session {
	return newSession(t, newOptions(opts))
}

func newSession(t Transport, o *options) *Session {
	return &Session{t: t, auth: o.dial.Auth}
}

// acquire takes the guard for one exchange.
func (s *Session) acquire() error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *Session) release() {
	s.mu.Unlock()
}

// run runs fn holding the guard.
func (s *Session) run(fn func() error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	return fn()
}

// Busy reports whether an exchange is in progress.
func (s *Session) Busy() bool {
	if s.mu.TryLock() {
		s.mu.Unlock()
		return false
	}
	return true
}

// Close closes the transport and forgets the credentials which may not
// be saved.
func (s *Session) Close() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	s.closed = true
	if s.auth != nil {
		s.auth.Purge()
	}
	return s.t.Close()
}

// SessionURL returns the URL the session is rooted at.
func (s *Session) SessionURL() string {
	return s.t.SessionURL()
}

// ReposRoot returns the URL of the repository root.
func (s *Session) ReposRoot() string {
	return s.t.ReposRoot()
}

// UUID returns the repository UUID.
func (s *Session) UUID() string {
	return s.t.UUID()
}

// HasCapability reports whether the server advertised capability.
func (s *Session) HasCapability(capability string) bool {
	return s.t.HasCapability(capability)
}

// CorrectedURL returns the URL the server redirected the session to, if
// the transport follows redirections, or "".
func (s *Session) CorrectedURL() string {
	if c, ok := s.t.(interface{ CorrectedURL() string }); ok {
		return c.CorrectedURL()
	}
	return ""
}

// Reparent points the session at another URL in the same repository.
func (s *Session) Reparent(url string) error {
	return s.run(func() error {
		return s.t.Reparent(url)
	})
}

// LatestRevnum returns the youngest revision.
func (s *Session) LatestRevnum() (rev svn.Revnum, err error) {
	err = s.run(func() error {
		rev, err = s.t.LatestRevnum()
		return err
	})
	return rev, err
}

// DatedRevnum returns the youngest revision at time t.
func (s *Session) DatedRevnum(t time.Time) (rev svn.Revnum, err error) {
	err = s.run(func() error {
		rev, err = s.t.DatedRevnum(t)
		return err
	})
	return rev, err
}

// ResolveRevision turns r into a revision number.  Revisions that only
// make sense in a working copy are refused.
func (s *Session) ResolveRevision(r svn.Revision) (svn.Revnum, error) {
	switch r.Kind {
	case svn.RevisionNumber:
		return r.Number, nil
	case svn.RevisionDate:
		return s.DatedRevnum(r.Date)
	case svn.RevisionHead, svn.RevisionUnspecified:
		return s.LatestRevnum()
	}
	return svn.InvalidRevnum, svn.Errorf(svn.ErrCodeClientBadRevision, "revision %s needs a working copy", r)
}

// CheckPath returns the kind of the node at path in rev.
func (s *Session) CheckPath(path string, rev svn.Revnum) (kind svn.NodeKind, err error) {
	err = s.run(func() error {
		kind, err = s.t.CheckPath(path, rev)
		return err
	})
	return kind, err
}

// Stat describes the node at path in rev, or returns nil if there is none.
func (s *Session) Stat(path string, rev svn.Revnum) (d *svn.Dirent, err error) {
	err = s.run(func() error {
		d, err = s.t.Stat(path, rev)
		return err
	})
	return d, err
}

// GetFile writes the contents of the file at path in rev to w, and
// returns the revision read and the file properties.
func (s *Session) GetFile(path string, rev svn.Revnum, w io.Writer) (fetched svn.Revnum, props svn.Props, err error) {
	err = s.run(func() error {
		fetched, props, err = s.t.GetFile(path, rev, w)
		return err
	})
	return fetched, props, err
}

// GetDir lists the directory at path in rev.
func (s *Session) GetDir(path string, rev svn.Revnum) (fetched svn.Revnum, entries []svn.Dirent, props svn.Props, err error) {
	err = s.run(func() error {
		fetched, entries, props, err = s.t.GetDir(path, rev)
		return err
	})
	return fetched, entries, props, err
}

func checkedEditor(ed editor.Editor) editor.Editor {
	if ed == nil {
		ed = editor.Nop{}
	}
	return editor.NewChecked(ed)
}

// startReport runs open holding the guard, which stays held until the
// returned reporter finishes or aborts.
func (s *Session) startReport(open func() (Reporter, error)) (Reporter, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	r, err := open()
	if err != nil {
		s.release()
		return nil, err
	}
	return &guardedReporter{r: r, release: s.release}, nil
}

// DoUpdate prepares an update of target, relative to the session URL, to
// rev (HEAD if invalid).  The report describes the caller's tree, and
// finishing it drives ed with the changes.
func (s *Session) DoUpdate(rev svn.Revnum, target string, depth svn.Depth, sendCopyFrom bool, ed editor.Editor) (Reporter, error) {
	return s.startReport(func() (Reporter, error) {
		return s.t.Update(rev, target, depth, sendCopyFrom, checkedEditor(ed))
	})
}

// DoSwitch is like DoUpdate, but brings target to switchURL.
func (s *Session) DoSwitch(rev svn.Revnum, target string, depth svn.Depth, switchURL string, ed editor.Editor) (Reporter, error) {
	return s.startReport(func() (Reporter, error) {
		return s.t.Switch(rev, target, depth, switchURL, checkedEditor(ed))
	})
}

// DoDiff drives ed with the differences between the reported tree and
// versusURL at rev.
func (s *Session) DoDiff(rev svn.Revnum, target string, depth svn.Depth, ignoreAncestry, textDeltas bool, versusURL string, ed editor.Editor) (Reporter, error) {
	return s.startReport(func() (Reporter, error) {
		return s.t.Diff(rev, target, depth, versusURL, ignoreAncestry, textDeltas, checkedEditor(ed))
	})
}

// Replay drives ed with the changes made in rev, below the session URL.
func (s *Session) Replay(rev, lowWater svn.Revnum, sendDeltas bool, ed editor.Editor) error {
	return s.run(func() error {
		return s.t.Replay(rev, lowWater, sendDeltas, checkedEditor(ed))
	})
}

// ReplayRange replays revisions start to end, asking startFn for the
// editor of each one and calling finishFn after it.  The first callback
// error stops the calls and is returned once the transport is done.
func (s *Session) ReplayRange(start, end, lowWater svn.Revnum, sendDeltas bool, startFn ReplayStartFunc, finishFn ReplayFinishFunc) error {
	return s.run(func() error {
		var cbErr error
		var cur editor.Editor
		wrappedStart := func(rev svn.Revnum, revprops svn.Props) (editor.Editor, error) {
			cur = nil
			if cbErr == nil {
				cbErr = svn.Call("replay start callback", func() (err error) {
					cur, err = startFn(rev, revprops)
					return err
				})
			}
			if cbErr != nil {
				return editor.Nop{}, nil
			}
			return checkedEditor(cur), nil
		}
		wrappedFinish := func(rev svn.Revnum, revprops svn.Props, _ editor.Editor) error {
			if cbErr != nil || finishFn == nil {
				return nil
			}
			cbErr = svn.Call("replay finish callback", func() error {
				return finishFn(rev, revprops, cur)
			})
			return nil
		}
		err := s.t.ReplayRange(start, end, lowWater, sendDeltas, wrappedStart, wrappedFinish)
		if err != nil {
			return err
		}
		return cbErr
	})
}

// CommitEditor returns an editor building a new revision with revprops.
// The session is busy until the editor is closed or aborted.  onCommit,
// if not nil, is called once after the revision is created; its error is
// returned by the editor's Close.  lockTokens maps paths to the tokens of
// the locks held on them; the locks are released unless keepLocks.
func (s *Session) CommitEditor(revprops svn.Props, onCommit CommitFunc, lockTokens map[string]string, keepLocks bool) (editor.Editor, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	called := false
	cb := func(info svn.CommitInfo) error {
		if called {
			glog.Warningf("ra: commit callback already called for r%d", info.Revision)
			return nil
		}
		called = true
		if onCommit == nil {
			return nil
		}
		return svn.Call("commit callback", func() error {
			return onCommit(info)
		})
	}
	ed, err := s.t.CommitEditor(revprops.Clone(), lockTokens, keepLocks, cb)
	if err != nil {
		s.release()
		return nil, err
	}
	return editor.NewChecked(&releasingEditor{Editor: ed, release: s.release}), nil
}

// callbackGuard calls fn for each result until it fails, and keeps the
// first error.
type callbackGuard struct {
	what string
	err  error
}

func (g *callbackGuard) call(fn func() error) error {
	if g.err == nil {
		g.err = svn.Call(g.what, fn)
	}
	return nil
}

// Lock locks the paths in pathRevs, each of which must not have changed
// after its revision, calling fn for every path in order.  Failures to
// lock a path go to fn and do not stop the others.
func (s *Session) Lock(pathRevs map[string]svn.Revnum, comment string, steal bool, fn LockFunc) error {
	return s.run(func() error {
		g := &callbackGuard{what: "lock callback"}
		err := s.t.Lock(pathRevs, comment, steal, func(path string, stolen bool, lock *svn.Lock, err error) error {
			return g.call(func() error {
				return fn(path, stolen, lock, err)
			})
		})
		if err != nil {
			return err
		}
		return g.err
	})
}

// Unlock releases the locks on the paths in pathTokens, calling fn for
// every path in order.
func (s *Session) Unlock(pathTokens map[string]string, breakLock bool, fn LockFunc) error {
	return s.run(func() error {
		g := &callbackGuard{what: "unlock callback"}
		err := s.t.Unlock(pathTokens, breakLock, func(path string, stolen bool, lock *svn.Lock, err error) error {
			return g.call(func() error {
				return fn(path, stolen, lock, err)
			})
		})
		if err != nil {
			return err
		}
		return g.err
	})
}

// LocationSegments calls fn with the segments of the history of path@peg
// between start and end, youngest first.
func (s *Session) LocationSegments(path string, peg, start, end svn.Revnum, fn SegmentFunc) error {
	return s.run(func() error {
		g := &callbackGuard{what: "location segment callback"}
		err := s.t.LocationSegments(path, peg, start, end, func(seg svn.LocationSegment) error {
			return g.call(func() error {
				return fn(seg)
			})
		})
		if err != nil {
			return err
		}
		return g.err
	})
}

// Locations returns where path@peg was in each of revs.  Revisions in
// which the node did not exist are left out.
func (s *Session) Locations(path string, peg svn.Revnum, revs []svn.Revnum) (locs map[svn.Revnum]string, err error) {
	err = s.run(func() error {
		locs, err = s.t.Locations(path, peg, slices.Clone(revs))
		return err
	})
	return locs, err
}
