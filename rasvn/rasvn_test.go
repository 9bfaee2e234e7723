package rasvn_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"golang.org/x/crypto/bcrypt"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
	"github.com/cespedes/svnra/delta"
	"github.com/cespedes/svnra/editor"
	"github.com/cespedes/svnra/ra"
	"github.com/cespedes/svnra/rasvn"
	"github.com/cespedes/svnra/repos"
)

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

// serve serves r with srv on a loopback port, and returns the URL of
// the repository.
func serve(t *testing.T, r *repos.Repository, srv *rasvn.Server, l net.Listener) string {
	t.Helper()
	if l == nil {
		var err error
		l, err = net.Listen("tcp", "127.0.0.1:0")
		check(t, err)
	}
	root := "svn://" + l.Addr().String() + "/repos"
	srv.Open = func(url, user string) (ra.Transport, error) {
		a, err := r.AccessAt(root, url, user)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	go srv.Serve(l)
	t.Cleanup(func() { l.Close() })
	return root
}

func dial(t *testing.T, url string, cfg ra.DialConfig) *rasvn.Client {
	t.Helper()
	c, err := rasvn.Dial(url, cfg)
	check(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func credentials(user, password string) *auth.Baton {
	b := auth.Open([]auth.Provider{auth.ParameterProvider(auth.KindSimple)})
	b.SetParameter(auth.ParamDefaultUsername, user)
	b.SetParameter(auth.ParamDefaultPassword, password)
	return b
}

func TestClientInfo(t *testing.T) {
	r := newRepos(t)
	root := serve(t, r, &rasvn.Server{Anonymous: true, Realm: "test"}, nil)
	c := dial(t, root, ra.DialConfig{})

	assert.Equal(t, c.SessionURL(), root)
	assert.Equal(t, c.ReposRoot(), root)
	assert.Equal(t, c.UUID(), r.UUID())
	assert.Equal(t, c.HasCapability("depth"), true)
	assert.Equal(t, c.HasCapability("svndiff1"), true)
	assert.Equal(t, c.HasCapability("mergeinfo"), false)

	rev, err := c.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
	rev, err = c.DatedRevnum(time.Now().Add(time.Hour))
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))

	kind, err := c.CheckPath("trunk/a.txt", svn.InvalidRevnum)
	check(t, err)
	assert.Equal(t, kind, svn.NodeFile)
	kind, err = c.CheckPath("nope", 1)
	check(t, err)
	assert.Equal(t, kind, svn.NodeNone)

	d, err := c.Stat("trunk/a.txt", 1)
	check(t, err)
	assert.Equal(t, d.Kind, svn.NodeFile)
	assert.Equal(t, d.Size, uint64(4))
	assert.Equal(t, d.CreatedRev, svn.Revnum(1))
	assert.Equal(t, d.LastAuthor, "harry")
	d, err = c.Stat("nope", svn.InvalidRevnum)
	check(t, err)
	assert.Equal(t, d, (*svn.Dirent)(nil))

	var buf bytes.Buffer
	rev, props, err := c.GetFile("trunk/a.txt", svn.InvalidRevnum, &buf)
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
	assert.Equal(t, buf.String(), "one\ntwo\n")
	assert.Equal(t, len(props), 0)
	_, _, err = c.GetFile("trunk/nope", svn.InvalidRevnum, &buf)
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeFSNotFound)

	check(t, c.Reparent(root+"/trunk"))
	assert.Equal(t, c.SessionURL(), root+"/trunk")
	rev, entries, _, err := c.GetDir("", 1)
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(1))
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].Path, "a.txt")
	assert.Equal(t, entries[0].Size, uint64(4))

	err = c.Reparent("svn://elsewhere/repos")
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeRAIllegalURL)
}

func TestOpenRegisteredScheme(t *testing.T) {
	root := serve(t, newRepos(t), &rasvn.Server{Anonymous: true}, nil)
	s, err := ra.Open(root)
	check(t, err)
	defer s.Close()
	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
}

func TestUpdateOverWire(t *testing.T) {
	root := serve(t, newRepos(t), &rasvn.Server{Anonymous: true}, nil)
	s := ra.New(dial(t, root, ra.DialConfig{}))

	rec := editor.NewRecorder()
	rep, err := s.DoUpdate(svn.InvalidRevnum, "", svn.DepthInfinity, false, rec)
	check(t, err)
	check(t, rep.SetPath("", 0, svn.DepthInfinity, true, ""))
	check(t, rep.FinishReport())
	assert.Equal(t, rec.Target, svn.Revnum(2))
	assert.Equal(t, rec.Closed, true)
	assert.Equal(t, string(rec.Files["trunk/a.txt"]), "one\ntwo\n")
	assert.Equal(t, s.Busy(), false)

	rec = editor.NewRecorder()
	rec.Base = func(string) []byte { return []byte("one\n") }
	rep, err = s.DoUpdate(2, "", svn.DepthInfinity, false, rec)
	check(t, err)
	check(t, rep.SetPath("", 1, svn.DepthInfinity, false, ""))
	check(t, rep.FinishReport())
	assert.Equal(t, rec.Log, []string{
		"set_target_revision 2",
		"open_root 1",
		"open_directory trunk 1",
		"open_file trunk/a.txt 1",
		"apply_textdelta trunk/a.txt",
		"close_file trunk/a.txt",
		"close_directory trunk",
		"close_directory /",
		"close_edit",
	})
	assert.Equal(t, string(rec.Files["trunk/a.txt"]), "one\ntwo\n")
}

func TestAbortReportOverWire(t *testing.T) {
	root := serve(t, newRepos(t), &rasvn.Server{Anonymous: true}, nil)
	s := ra.New(dial(t, root, ra.DialConfig{}))

	rec := editor.NewRecorder()
	rep, err := s.DoUpdate(svn.InvalidRevnum, "", svn.DepthInfinity, false, rec)
	check(t, err)
	check(t, rep.SetPath("", 1, svn.DepthInfinity, false, ""))
	check(t, rep.AbortReport())
	assert.Equal(t, rec.Aborted, true)

	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
}

var errRefused = errors.New("refused")

// refusing fails to open files.
type refusing struct {
	editor.Nop
}

func (refusing) OpenRoot(svn.Revnum) (editor.DirEditor, error) {
	return refusingDir{}, nil
}

type refusingDir struct {
	editor.DirEditor
}

func (refusingDir) OpenDirectory(string, svn.Revnum) (editor.DirEditor, error) {
	return refusingDir{}, nil
}

func (refusingDir) AddDirectory(string, string, svn.Revnum) (editor.DirEditor, error) {
	return refusingDir{}, nil
}

func (refusingDir) AddFile(string, string, svn.Revnum) (editor.FileEditor, error) {
	return nil, errRefused
}

func TestConsumerFailureOverWire(t *testing.T) {
	root := serve(t, newRepos(t), &rasvn.Server{Anonymous: true}, nil)
	s := ra.New(dial(t, root, ra.DialConfig{}))

	rep, err := s.DoUpdate(svn.InvalidRevnum, "", svn.DepthInfinity, false, refusing{})
	check(t, err)
	check(t, rep.SetPath("", 0, svn.DepthInfinity, true, ""))
	err = rep.FinishReport()
	assert.Equal(t, errors.Is(err, errRefused), true)

	// The connection is still in step.
	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
}

func TestServerFailureOverWire(t *testing.T) {
	root := serve(t, newRepos(t), &rasvn.Server{Anonymous: true}, nil)
	s := ra.New(dial(t, root, ra.DialConfig{}))

	rec := editor.NewRecorder()
	rep, err := s.DoSwitch(svn.InvalidRevnum, "", svn.DepthInfinity, "svn://elsewhere/repos/trunk", rec)
	check(t, err)
	check(t, rep.SetPath("", 1, svn.DepthInfinity, false, ""))
	err = rep.FinishReport()
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeRAIllegalURL)
	assert.Equal(t, rec.Closed, false)

	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
}

func addFile(t *testing.T, ed editor.Editor, base svn.Revnum, name, text string) error {
	t.Helper()
	root, err := ed.OpenRoot(base)
	check(t, err)
	trunk, err := root.OpenDirectory("trunk", base)
	check(t, err)
	f, err := trunk.AddFile("trunk/"+name, "", svn.InvalidRevnum)
	check(t, err)
	h, err := f.ApplyTextDelta("")
	check(t, err)
	sum, err := delta.Send(nil, []byte(text), h)
	check(t, err)
	check(t, f.Close(sum))
	check(t, trunk.Close())
	check(t, root.Close())
	return ed.Close()
}

func TestCommitOverWire(t *testing.T) {
	r := newRepos(t)
	root := serve(t, r, &rasvn.Server{Passwords: map[string]string{"sally": "secret"}, Realm: "test"}, nil)
	s := ra.New(dial(t, root, ra.DialConfig{Auth: credentials("sally", "secret")}))

	var infos []svn.CommitInfo
	onCommit := func(info svn.CommitInfo) error {
		infos = append(infos, info)
		return nil
	}
	ed, err := s.CommitEditor(svn.Props{svn.PropRevisionLog: []byte("add b")}, onCommit, nil, false)
	check(t, err)
	check(t, addFile(t, ed, 2, "b.txt", "bee\n"))
	assert.Equal(t, len(infos), 1)
	assert.Equal(t, infos[0].Revision, svn.Revnum(3))
	assert.Equal(t, infos[0].Author, "sally")

	props, err := r.RevProps(3)
	check(t, err)
	assert.Equal(t, string(props[svn.PropRevisionLog]), "add b")

	var buf bytes.Buffer
	_, _, err = s.GetFile("trunk/b.txt", 3, &buf)
	check(t, err)
	assert.Equal(t, buf.String(), "bee\n")

	// The same file again: the server fails the edit, and the client
	// hears of it when closing.
	ed, err = s.CommitEditor(svn.Props{svn.PropRevisionLog: []byte("again")}, onCommit, nil, false)
	check(t, err)
	err = addFile(t, ed, 3, "b.txt", "bee\n")
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeFSAlreadyExists)
	assert.Equal(t, len(infos), 1)
	assert.Equal(t, s.Busy(), false)

	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(3))
}

func TestCommitAbortOverWire(t *testing.T) {
	r := newRepos(t)
	root := serve(t, r, &rasvn.Server{Anonymous: true}, nil)
	s := ra.New(dial(t, root, ra.DialConfig{}))

	ed, err := s.CommitEditor(svn.Props{svn.PropRevisionLog: []byte("never")}, nil, nil, false)
	check(t, err)
	dir, err := ed.OpenRoot(2)
	check(t, err)
	_, err = dir.AddDirectory("tags", "", svn.InvalidRevnum)
	check(t, err)
	check(t, ed.Abort())
	assert.Equal(t, r.Youngest(), svn.Revnum(2))

	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
}

func TestAuthentication(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	check(t, err)
	srv := &rasvn.Server{
		Realm:     "test",
		Passwords: map[string]string{"harry": "secret"},
	}
	root := serve(t, newRepos(t), srv, nil)

	_, err = rasvn.Dial(root, ra.DialConfig{})
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeAuthnNoProvider)
	_, err = rasvn.Dial(root, ra.DialConfig{Auth: credentials("harry", "wrong")})
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeAuthnCredsUnavail)

	// A rejected password is asked for again.
	var prompts []string
	prompt := func(realm, user string, maySave bool) (*auth.SimpleCredentials, error) {
		prompts = append(prompts, realm)
		if len(prompts) == 1 {
			return &auth.SimpleCredentials{Username: "harry", Password: "wrong"}, nil
		}
		return &auth.SimpleCredentials{Username: "harry", Password: "secret"}, nil
	}
	b := auth.Open([]auth.Provider{auth.SimplePromptProvider(prompt, 3)})
	c := dial(t, root, ra.DialConfig{Auth: b})
	assert.Equal(t, len(prompts), 2)
	assert.Equal(t, prompts[0], "<"+root[:len(root)-len("/repos")]+"> test")
	_, err = c.LatestRevnum()
	check(t, err)

	// The server hangs up after three failures, so the fourth try finds
	// the connection closed instead of prompting until the limit.
	prompts = nil
	wrong := func(realm, user string, maySave bool) (*auth.SimpleCredentials, error) {
		prompts = append(prompts, realm)
		return &auth.SimpleCredentials{Username: "harry", Password: "wrong"}, nil
	}
	_, err = rasvn.Dial(root, ra.DialConfig{Auth: auth.Open([]auth.Provider{auth.SimplePromptProvider(wrong, 10)})})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, len(prompts), 4)

	plain := serve(t, newRepos(t), &rasvn.Server{Hashes: map[string][]byte{"sally": hash}}, nil)
	dial(t, plain, ra.DialConfig{Auth: credentials("sally", "pw")})
	_, err = rasvn.Dial(plain, ra.DialConfig{Auth: credentials("sally", "nope")})
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeAuthnCredsUnavail)
}

func TestLocksOverWire(t *testing.T) {
	r := newRepos(t)
	root := serve(t, r, &rasvn.Server{Passwords: map[string]string{"harry": "secret"}}, nil)
	c := dial(t, root, ra.DialConfig{Auth: credentials("harry", "secret")})

	type result struct {
		lock   *svn.Lock
		stolen bool
		code   int
	}
	got := make(map[string]result)
	var order []string
	lock := func(p string, stolen bool, l *svn.Lock, err error) error {
		order = append(order, p)
		got[p] = result{l, stolen, svn.ErrorCode(err)}
		return nil
	}
	err := c.Lock(map[string]svn.Revnum{"trunk/a.txt": 2, "trunk/nope": svn.InvalidRevnum}, "mine", false, lock)
	check(t, err)
	assert.Equal(t, order, []string{"trunk/a.txt", "trunk/nope"})
	assert.Equal(t, got["trunk/nope"].code, svn.ErrCodeFSNotFound)
	l := got["trunk/a.txt"].lock
	assert.Equal(t, l.Path, "/trunk/a.txt")
	assert.Equal(t, l.Owner, "harry")
	assert.Equal(t, l.Comment, "mine")
	a, err := r.AccessAt(root, root, "harry")
	check(t, err)
	assert.Equal(t, a.GetLock("trunk/a.txt").Token, l.Token)
	assert.Equal(t, got["trunk/a.txt"].stolen, false)

	check(t, c.Lock(map[string]svn.Revnum{"trunk/a.txt": 2}, "again", true, lock))
	assert.Equal(t, got["trunk/a.txt"].stolen, true)
	l = got["trunk/a.txt"].lock
	assert.Equal(t, l.Comment, "again")

	released := make(map[string]result)
	unlock := func(p string, broken bool, l *svn.Lock, err error) error {
		released[p] = result{l, broken, svn.ErrorCode(err)}
		return nil
	}
	check(t, c.Unlock(map[string]string{"trunk/a.txt": "bogus"}, false, unlock))
	assert.Equal(t, released["trunk/a.txt"].code, svn.ErrCodeFSBadLockToken)
	check(t, c.Unlock(map[string]string{"trunk/a.txt": l.Token}, false, unlock))
	assert.Equal(t, released["trunk/a.txt"].code, 0)
	assert.Equal(t, released["trunk/a.txt"].stolen, false)
	assert.Equal(t, released["trunk/a.txt"].lock.Token, l.Token)
}

func TestHistoryOverWire(t *testing.T) {
	r := newRepos(t)
	root := serve(t, r, &rasvn.Server{Anonymous: true}, nil)
	c := dial(t, root, ra.DialConfig{})
	a, err := r.AccessAt(root, root, "")
	check(t, err)

	var want, got []svn.LocationSegment
	check(t, a.LocationSegments("trunk/a.txt", 2, 2, 0, func(seg svn.LocationSegment) error {
		want = append(want, seg)
		return nil
	}))
	check(t, c.LocationSegments("trunk/a.txt", 2, 2, 0, func(seg svn.LocationSegment) error {
		got = append(got, seg)
		return nil
	}))
	assert.Equal(t, got, want)
	assert.Equal(t, len(got) > 0, true)

	wantLocs, err := a.Locations("trunk/a.txt", 2, []svn.Revnum{1, 2})
	check(t, err)
	locs, err := c.Locations("trunk/a.txt", 2, []svn.Revnum{1, 2})
	check(t, err)
	assert.Equal(t, locs, wantLocs)
	assert.Equal(t, locs[1], "/trunk/a.txt")

	got = nil
	check(t, c.LocationSegments("", 2, 2, 0, func(seg svn.LocationSegment) error {
		got = append(got, seg)
		return nil
	}))
	assert.Equal(t, got, []svn.LocationSegment{{Start: 0, End: 2, Path: ""}})
	locs, err = c.Locations("", 2, []svn.Revnum{0, 2})
	check(t, err)
	assert.Equal(t, locs, map[svn.Revnum]string{0: "/", 2: "/"})
}

func TestReplayOverWire(t *testing.T) {
	root := serve(t, newRepos(t), &rasvn.Server{Anonymous: true}, nil)
	s := ra.New(dial(t, root, ra.DialConfig{}))

	rec := editor.NewRecorder()
	rec.Base = func(string) []byte { return []byte("one\n") }
	check(t, s.Replay(2, 0, true, rec))
	assert.Equal(t, rec.Closed, true)
	assert.Equal(t, string(rec.Files["trunk/a.txt"]), "one\ntwo\n")

	var revs []svn.Revnum
	var logs []string
	recs := make(map[svn.Revnum]*editor.Recorder)
	err := s.ReplayRange(1, 2, 0, true,
		func(rev svn.Revnum, props svn.Props) (editor.Editor, error) {
			rec := editor.NewRecorder()
			if rev == 2 {
				rec.Base = func(string) []byte { return []byte("one\n") }
			}
			recs[rev] = rec
			return rec, nil
		},
		func(rev svn.Revnum, props svn.Props, ed editor.Editor) error {
			revs = append(revs, rev)
			logs = append(logs, string(props[svn.PropRevisionLog]))
			return nil
		})
	check(t, err)
	assert.Equal(t, revs, []svn.Revnum{1, 2})
	assert.Equal(t, logs, []string{"change", "change"})
	assert.Equal(t, string(recs[1].Files["trunk/a.txt"]), "one\n")
	assert.Equal(t, string(recs[2].Files["trunk/a.txt"]), "one\ntwo\n")

	err = s.Replay(9, 0, true, editor.NewRecorder())
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeFSNoSuchRevision)
	rev, err := s.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))
}

func selfSigned(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	check(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	check(t, err)
	cert, err := x509.ParseCertificate(der)
	check(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}, pool
}

func TestTLS(t *testing.T) {
	cert, pool := selfSigned(t)
	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	check(t, err)
	root := serve(t, newRepos(t), &rasvn.Server{Anonymous: true}, l)

	c, err := rasvn.DialTLS(root, ra.DialConfig{}, pool)
	check(t, err)
	defer c.Close()
	rev, err := c.LatestRevnum()
	check(t, err)
	assert.Equal(t, rev, svn.Revnum(2))

	// Unknown issuer, and nobody to accept it.
	_, err = rasvn.DialTLS(root, ra.DialConfig{}, x509.NewCertPool())
	assert.NotEqual(t, err, nil)
}
