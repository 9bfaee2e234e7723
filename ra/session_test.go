package ra_test

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
	"github.com/cespedes/svnra/delta"
	"github.com/cespedes/svnra/editor"
	"github.com/cespedes/svnra/ra"
	"github.com/cespedes/svnra/repos"
)

const rootURL = "file:///repos"

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// newRepos returns a repository with /trunk/a.txt in r1 and a change to
// it in r2.
func newRepos(t *testing.T) *repos.Repository {
	t.Helper()
	r := repos.New(repos.Options{})
	texts := []string{"", "one\n", "one\ntwo\n"}
	for rev := 1; rev <= 2; rev++ {
		_, err := r.Commit("harry", "change", func(root editor.DirEditor) error {
			var trunk editor.DirEditor
			var f editor.FileEditor
			var err error
			if rev == 1 {
				trunk, err = root.AddDirectory("trunk", "", svn.InvalidRevnum)
				check(t, err)
				f, err = trunk.AddFile("trunk/a.txt", "", svn.InvalidRevnum)
			} else {
				trunk, err = root.OpenDirectory("trunk", 1)
				check(t, err)
				f, err = trunk.OpenFile("trunk/a.txt", 1)
			}
			check(t, err)
			h, err := f.ApplyTextDelta("")
			check(t, err)
			sum, err := delta.Send([]byte(texts[rev-1]), []byte(texts[rev]), h)
			check(t, err)
			check(t, f.Close(sum))
			return trunk.Close()
		})
		check(t, err)
	}
	return r
}

func newSession(t *testing.T, r *repos.Repository, user string, opts ...ra.Option) *ra.Session {
	t.Helper()
	a, err := r.Access(rootURL, user)
	check(t, err)
	return ra.New(a, opts...)
}

func TestSessionInfo(t *testing.T) {
	r := newRepos(t)
	s := newSession(t, r, "harry")
	assert.Equal(t, s.SessionURL(), rootURL)
	assert.Equal(t, s.ReposRoot(), rootURL)
	assert.Equal(t, s.UUID(), r.UUID())
	assert.Equal(t, s.HasCapability("depth"), true)
	assert.Equal(t, s.HasCapability("mergeinfo"), false)
	assert.Equal(t, s.CorrectedURL(), "")

	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))

	check(t, s.Reparent(rootURL+"/trunk"))
	kind, err := s.CheckPath("a.txt", svn.InvalidRevnum)
	check(t, err)
	assert.Equal(t, kind, svn.NodeFile)
	_, entries, _, err := s.GetDir("", 2)
	check(t, err)
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].Path, "a.txt")
}

func TestResolveRevision(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	tests := []struct {
		rev  svn.Revision
		want svn.Revnum
		code int
	}{
		{svn.Number(1), 1, 0},
		{svn.Head, 2, 0},
		{svn.Revision{}, 2, 0},
		{svn.Revision{Kind: svn.RevisionDate, Date: time.Now().Add(time.Hour)}, 2, 0},
		{svn.Revision{Kind: svn.RevisionBase}, svn.InvalidRevnum, svn.ErrCodeClientBadRevision},
		{svn.Revision{Kind: svn.RevisionWorking}, svn.InvalidRevnum, svn.ErrCodeClientBadRevision},
	}
	for _, tt := range tests {
		got, err := s.ResolveRevision(tt.rev)
		assert.Equal(t, svn.ErrorCode(err), tt.code)
		assert.Equal(t, got, tt.want)
	}
}

func TestAbortReportFreesSession(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	rec := editor.NewRecorder()
	rep, err := s.DoUpdate(svn.InvalidRevnum, "", svn.DepthInfinity, false, rec)
	check(t, err)
	assert.Equal(t, s.Busy(), true)

	_, err = s.LatestRevnum()
	assert.Equal(t, errors.Is(err, ra.ErrBusy), true)
	_, err = s.DoUpdate(svn.InvalidRevnum, "", svn.DepthInfinity, false, nil)
	assert.Equal(t, errors.Is(err, ra.ErrBusy), true)

	check(t, rep.SetPath("", 1, svn.DepthInfinity, false, ""))
	check(t, rep.AbortReport())
	assert.Equal(t, s.Busy(), false)
	assert.Equal(t, rec.Aborted, true)
	assert.Equal(t, svn.ErrorCode(rep.FinishReport()), svn.ErrCodeIncorrectParams)
	assert.Equal(t, svn.ErrorCode(rep.SetPath("", 1, svn.DepthInfinity, false, "")), svn.ErrCodeIncorrectParams)

	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
}

// reentrant calls back into a session while it is being driven.
type reentrant struct {
	editor.Nop
	s   *ra.Session
	err error
}

func (e *reentrant) SetTargetRevision(svn.Revnum) error {
	_, e.err = e.s.LatestRevnum()
	return nil
}

func TestReentrantCallIsBusy(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	ed := &reentrant{s: s}
	rep, err := s.DoUpdate(svn.InvalidRevnum, "", svn.DepthInfinity, false, ed)
	check(t, err)
	check(t, rep.SetPath("", 0, svn.DepthInfinity, true, ""))
	check(t, rep.FinishReport())
	assert.Equal(t, errors.Is(ed.err, ra.ErrBusy), true)
	assert.Equal(t, s.Busy(), false)
}

func TestUpdateThroughSession(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	rec := editor.NewRecorder()
	rep, err := s.DoUpdate(1, "", svn.DepthInfinity, false, rec)
	check(t, err)
	check(t, rep.SetPath("", 0, svn.DepthInfinity, true, ""))
	check(t, rep.FinishReport())
	assert.Equal(t, string(rec.Files["trunk/a.txt"]), "one\n")
	assert.Equal(t, rec.Closed, true)
	assert.Equal(t, s.Busy(), false)
}

func editA(base svn.Revnum, old, text string) func(root editor.DirEditor) error {
	return func(root editor.DirEditor) error {
		trunk, err := root.OpenDirectory("trunk", base)
		if err != nil {
			return err
		}
		f, err := trunk.OpenFile("trunk/a.txt", base)
		if err != nil {
			return err
		}
		h, err := f.ApplyTextDelta(delta.Checksum([]byte(old)))
		if err != nil {
			return err
		}
		sum, err := delta.Send([]byte(old), []byte(text), h)
		if err != nil {
			return err
		}
		if err := f.Close(sum); err != nil {
			return err
		}
		return trunk.Close()
	}
}

func commit(s *ra.Session, onCommit ra.CommitFunc, build func(root editor.DirEditor) error) error {
	ed, err := s.CommitEditor(svn.Props{svn.PropRevisionLog: []byte("msg")}, onCommit, nil, false)
	if err != nil {
		return err
	}
	root, err := ed.OpenRoot(svn.InvalidRevnum)
	if err == nil {
		err = build(root)
	}
	if err == nil {
		err = root.Close()
	}
	if err != nil {
		ed.Abort()
		return err
	}
	return ed.Close()
}

func TestCommitCallback(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	var infos []svn.CommitInfo
	onCommit := func(info svn.CommitInfo) error {
		infos = append(infos, info)
		return nil
	}

	err := commit(s, onCommit, editA(1, "one\n", "stale\n"))
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeFSTxnOutOfDate)
	assert.Equal(t, len(infos), 0)
	assert.Equal(t, s.Busy(), false)

	check(t, commit(s, onCommit, editA(2, "one\ntwo\n", "one\ntwo\nthree\n")))
	assert.Equal(t, len(infos), 1)
	assert.Equal(t, infos[0].Revision, svn.Revnum(3))
	assert.Equal(t, infos[0].Author, "harry")
	assert.Equal(t, s.Busy(), false)

	err = commit(s, func(svn.CommitInfo) error {
		return errors.New("callback failed")
	}, func(editor.DirEditor) error { return nil })
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeCallbackFailed)
	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(4))

	err = commit(s, func(svn.CommitInfo) error {
		panic("boom")
	}, func(editor.DirEditor) error { return nil })
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeCallbackFailed)
	assert.Equal(t, s.Busy(), false)
}

func TestCommitEditorHoldsSession(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	ed, err := s.CommitEditor(nil, nil, nil, false)
	check(t, err)
	_, err = s.CommitEditor(nil, nil, nil, false)
	assert.Equal(t, errors.Is(err, ra.ErrBusy), true)

	root, err := ed.OpenRoot(svn.InvalidRevnum)
	check(t, err)
	// Closing the edit with the root still open breaks the rules.
	assert.NotEqual(t, ed.Close(), nil)
	assert.Equal(t, s.Busy(), false)
	assert.NotEqual(t, root.Close(), nil)
}

func TestLockCallbackError(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	calls := 0
	err := s.Lock(map[string]svn.Revnum{
		"trunk/a.txt":  svn.InvalidRevnum,
		"trunk/no.txt": svn.InvalidRevnum,
	}, "", false, func(path string, _ bool, lock *svn.Lock, err error) error {
		calls++
		return errors.New("stop")
	})
	assert.Equal(t, calls, 1)
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeCallbackFailed)
	assert.Equal(t, s.Busy(), false)

	results := make(map[string]int)
	broken := make(map[string]bool)
	check(t, s.Unlock(map[string]string{"trunk/a.txt": "", "trunk/no.txt": ""}, true, func(path string, b bool, _ *svn.Lock, err error) error {
		results[path] = svn.ErrorCode(err)
		broken[path] = b
		return nil
	}))
	assert.Equal(t, broken["trunk/a.txt"], true)
	assert.Equal(t, results, map[string]int{
		"trunk/a.txt":  0,
		"trunk/no.txt": svn.ErrCodeFSNoSuchLock,
	})
}

func TestHistoryThroughSession(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	var segs []svn.LocationSegment
	check(t, s.LocationSegments("trunk/a.txt", svn.InvalidRevnum, svn.InvalidRevnum, svn.InvalidRevnum, func(seg svn.LocationSegment) error {
		segs = append(segs, seg)
		return nil
	}))
	assert.Equal(t, segs, []svn.LocationSegment{{Start: 1, End: 2, Path: "trunk/a.txt"}})

	revs := []svn.Revnum{0, 2, 1}
	locs, err := s.Locations("trunk/a.txt", 2, revs)
	check(t, err)
	assert.Equal(t, locs, map[svn.Revnum]string{1: "/trunk/a.txt", 2: "/trunk/a.txt"})
	assert.Equal(t, revs, []svn.Revnum{0, 2, 1})
}

func TestReplayRangeCallbackError(t *testing.T) {
	s := newSession(t, newRepos(t), "harry")
	var started []svn.Revnum
	err := s.ReplayRange(1, 2, 0, true, func(rev svn.Revnum, _ svn.Props) (editor.Editor, error) {
		started = append(started, rev)
		return nil, errors.New("no editor")
	}, nil)
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeCallbackFailed)
	assert.Equal(t, started, []svn.Revnum{1})

	var finished []svn.Revnum
	rec := editor.NewRecorder()
	check(t, s.ReplayRange(2, 2, 0, true, func(svn.Revnum, svn.Props) (editor.Editor, error) {
		return rec, nil
	}, func(rev svn.Revnum, _ svn.Props, ed editor.Editor) error {
		finished = append(finished, rev)
		assert.Equal(t, ed, editor.Editor(rec))
		return nil
	}))
	assert.Equal(t, finished, []svn.Revnum{2})
	assert.Equal(t, rec.Log[0], "open_root 1")
}

func TestCloseForgetsUnsavedCredentials(t *testing.T) {
	prompts := 0
	baton := auth.Open([]auth.Provider{
		auth.SimplePromptProvider(func(realm, user string, maySave bool) (*auth.SimpleCredentials, error) {
			prompts++
			return &auth.SimpleCredentials{Username: "harry", Password: "secret"}, nil
		}, 1),
	})
	accept := func(auth.Credentials) (auth.Verdict, error) {
		return auth.Accepted, nil
	}
	s := newSession(t, newRepos(t), "harry", ra.WithAuth(baton))

	_, err := baton.Negotiate(auth.KindSimple, "realm", accept)
	check(t, err)
	_, err = baton.Negotiate(auth.KindSimple, "realm", accept)
	check(t, err)
	assert.Equal(t, prompts, 1)

	check(t, s.Close())
	_, err = s.LatestRevnum()
	assert.Equal(t, errors.Is(err, ra.ErrClosed), true)

	_, err = baton.Negotiate(auth.KindSimple, "realm", accept)
	check(t, err)
	assert.Equal(t, prompts, 2)
}

func TestRegistry(t *testing.T) {
	r := newRepos(t)
	ra.Register("memtest", func(url string, cfg ra.DialConfig) (ra.Transport, error) {
		a, err := r.AccessAt("memtest:///repos", url, "")
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	ra.Register("memtest+", func(url string, cfg ra.DialConfig) (ra.Transport, error) {
		return nil, svn.Errorf(svn.ErrCodeRANotImplemented, "tunnel %s", url)
	})

	s, err := ra.Open("memtest:///repos/trunk")
	check(t, err)
	assert.Equal(t, s.SessionURL(), "memtest:///repos/trunk")

	_, err = ra.Open("memtest+ssh://host/repos")
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeRANotImplemented)
	_, err = ra.Open("nosuchscheme://host/repos")
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeRAIllegalURL)
}
