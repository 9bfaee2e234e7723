package rasvn

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
	"github.com/cespedes/svnra/editor"
	"github.com/cespedes/svnra/ra"
)

// A Server serves repositories to svn:// clients.
type Server struct {
	// Open returns the transport for the session URL sent by the client,
	// on behalf of user ("" for anonymous access).
	Open func(url, user string) (ra.Transport, error)
	// Realm is announced to clients in auth-requests.
	Realm string
	// Passwords are the plain text passwords checked by CRAM-MD5.
	Passwords map[string]string
	// Hashes are the bcrypt password hashes checked by PLAIN.
	Hashes map[string][]byte
	// Anonymous offers ANONYMOUS authentication.
	Anonymous bool
	// TunnelUser, if set, offers EXTERNAL authentication as this user,
	// for connections through a tunnel.
	TunnelUser string
}

// maxAuthAttempts is how many failed authentications a connection gets
// before the server hangs up.
const maxAuthAttempts = 3

// fileChunk is the size of the strings get-file sends file contents in.
const fileChunk = 8192

// Serve accepts connections on l and serves each of them in its own
// goroutine.  It returns when l is closed, after every connection ended.
func (s *Server) Serve(l net.Listener) error {
	var g errgroup.Group
	for {
		nc, err := l.Accept()
		if err != nil {
			werr := g.Wait()
			if errors.Is(err, net.ErrClosed) {
				return werr
			}
			return err
		}
		g.Go(func() error {
			if err := s.ServeConn(nc); err != nil {
				glog.Errorf("rasvn: %s: %v", nc.RemoteAddr(), err)
			}
			return nil
		})
	}
}

// session is one connection being served.
type session struct {
	s       *Server
	conn    *svn.Conn
	t       ra.Transport
	user    string
	svndiff int
}

// ServeConn runs the protocol on rw until the client goes away.
func (s *Server) ServeConn(rw io.ReadWriteCloser) error {
	conn := svn.NewConn(rw, rw)
	conn.Name = "server "
	if nc, ok := rw.(net.Conn); ok {
		conn.Name = nc.RemoteAddr().String() + " "
	}
	defer conn.Close()

	if err := conn.WriteSuccess(Version, Version, []any{}, serverCaps); err != nil {
		return err
	}
	var greet struct {
		Version  int
		Caps     []string
		URL      string
		RAClient string
	}
	if err := conn.Read(&greet); err != nil {
		return fmt.Errorf("reading client greeting: %w", err)
	}
	if greet.Version != Version {
		return conn.WriteFailure(svn.Errorf(svn.ErrCodeRASvnBadVersion, "unsupported protocol version %d", greet.Version))
	}
	glog.V(1).Infof("rasvn: %sclient %q for %s", conn.Name, greet.RAClient, greet.URL)

	user, err := s.authenticate(conn)
	if err != nil {
		return err
	}
	t, err := s.Open(greet.URL, user)
	if err != nil {
		glog.V(1).Infof("rasvn: %scannot open %s: %v", conn.Name, greet.URL, err)
		return conn.WriteFailure(err)
	}
	defer t.Close()
	var caps []string
	for _, c := range serverCaps {
		if t.HasCapability(c) {
			caps = append(caps, c)
		}
	}
	if err := conn.WriteSuccess([]byte(t.UUID()), []byte(t.ReposRoot()), caps); err != nil {
		return err
	}

	sess := &session{s: s, conn: conn, t: t, user: user}
	if slices.Contains(greet.Caps, "svndiff1") {
		sess.svndiff = 1
	}
	for {
		cmd, err := conn.ReadCommand()
		if err != nil {
			if svn.ErrorCode(err) == svn.ErrCodeRASvnConnClosed {
				glog.V(2).Infof("rasvn: %sconnection closed", conn.Name)
				return nil
			}
			return err
		}
		h, ok := handlers[cmd.Name]
		if !ok {
			err = sess.respond(svn.Errorf(svn.ErrCodeRASvnUnknownCmd, "unknown command %q", cmd.Name))
		} else {
			err = h(sess, cmd)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) mechs() []string {
	var mechs []string
	if s.TunnelUser != "" {
		mechs = append(mechs, "EXTERNAL")
	}
	if s.Anonymous {
		mechs = append(mechs, "ANONYMOUS")
	}
	if len(s.Passwords) > 0 {
		mechs = append(mechs, "CRAM-MD5")
	}
	if len(s.Hashes) > 0 {
		mechs = append(mechs, "PLAIN")
	}
	return mechs
}

// authenticate runs the authentication exchange and returns the user.
// A failed attempt lets the client try again, up to maxAuthAttempts times.
func (s *Server) authenticate(conn *svn.Conn) (string, error) {
	mechs := s.mechs()
	if len(mechs) == 0 {
		err := svn.Errorf(svn.ErrCodeRASvnNoMechanisms, "no authentication mechanism configured")
		conn.WriteFailure(err)
		return "", err
	}
	if err := conn.WriteSuccess(mechs, []byte(s.Realm)); err != nil {
		return "", err
	}
	for failures := 0; ; {
		var req struct {
			Mech  string
			Token [][]byte
		}
		if err := conn.Read(&req); err != nil {
			return "", err
		}
		if !slices.Contains(mechs, req.Mech) {
			if failures++; failures >= maxAuthAttempts {
				return "", s.authGiveUp(conn)
			}
			if err := conn.WriteCommand("failure", []byte("unknown authentication mechanism")); err != nil {
				return "", err
			}
			continue
		}
		var user string
		var ok bool
		switch req.Mech {
		case "EXTERNAL":
			user, ok = s.TunnelUser, true
		case "ANONYMOUS":
			ok = true
		case "CRAM-MD5":
			var err error
			if user, ok, err = s.cramMD5(conn); err != nil {
				return "", err
			}
		case "PLAIN":
			user, ok = s.plain(req.Token)
		}
		if !ok {
			glog.V(1).Infof("rasvn: %s%s authentication failed for %q", conn.Name, req.Mech, user)
			if failures++; failures >= maxAuthAttempts {
				return "", s.authGiveUp(conn)
			}
			if err := conn.WriteCommand("failure", []byte("incorrect credentials")); err != nil {
				return "", err
			}
			continue
		}
		glog.V(1).Infof("rasvn: %sauthenticated %q with %s", conn.Name, user, req.Mech)
		return user, conn.WriteSuccess()
	}
}

// authGiveUp tells the client the last attempt failed and ends the
// connection.
func (s *Server) authGiveUp(conn *svn.Conn) error {
	glog.Warningf("rasvn: %sgiving up after %d failed authentication attempts", conn.Name, maxAuthAttempts)
	conn.WriteCommand("failure", []byte("too many failed authentication attempts"))
	return svn.Errorf(svn.ErrCodeAuthnFailed, "%d failed authentication attempts", maxAuthAttempts)
}

func (s *Server) cramMD5(conn *svn.Conn) (string, bool, error) {
	nonce := make([]byte, 8)
	rand.Read(nonce)
	host, _ := os.Hostname()
	challenge := fmt.Sprintf("<%s.%d@%s>", hex.EncodeToString(nonce), time.Now().UnixNano(), host)
	if err := conn.WriteCommand("step", []byte(challenge)); err != nil {
		return "", false, err
	}
	var reply string
	if err := conn.Read(&reply); err != nil {
		return "", false, err
	}
	i := strings.LastIndexByte(reply, ' ')
	if i < 0 {
		return "", false, nil
	}
	user, digest := reply[:i], reply[i+1:]
	password, known := s.Passwords[user]
	if !known {
		return user, false, nil
	}
	want := cramResponse(password, []byte(challenge))
	return user, hmac.Equal([]byte(want), []byte(digest)), nil
}

func (s *Server) plain(token [][]byte) (string, bool) {
	if len(token) == 0 {
		return "", false
	}
	// authzid NUL authcid NUL password
	parts := bytes.SplitN(token[0], []byte{0}, 3)
	if len(parts) != 3 {
		return "", false
	}
	user := string(parts[1])
	hash, known := s.Hashes[user]
	if !known {
		return user, false
	}
	return user, bcrypt.CompareHashAndPassword(hash, parts[2]) == nil
}

// authRequest sends the empty auth-request answering each command of an
// authenticated connection.
func (s *session) authRequest() error {
	return s.conn.WriteSuccess([]any{}, []byte{})
}

// respond sends the auth-request and the response to a command.
func (s *session) respond(err error, params ...any) error {
	if err := s.authRequest(); err != nil {
		return err
	}
	if err != nil {
		glog.V(2).Infof("rasvn: %s%v", s.conn.Name, err)
	}
	return s.conn.WriteResponse(err, params...)
}

// fatal reports whether err broke the connection.
func fatal(err error) bool {
	code := svn.ErrorCode(err)
	return code == svn.ErrCodeRASvnConnClosed || code == svn.ErrCodeRASvnIOError
}

var handlers = map[string]func(*session, svn.Command) error{
	"reparent":              (*session).reparent,
	"get-latest-rev":        (*session).getLatestRev,
	"get-dated-rev":         (*session).getDatedRev,
	"check-path":            (*session).checkPath,
	"stat":                  (*session).stat,
	"get-file":              (*session).getFile,
	"get-dir":               (*session).getDir,
	"update":                (*session).update,
	"switch":                (*session).doSwitch,
	"diff":                  (*session).diff,
	"replay":                (*session).replay,
	"replay-range":          (*session).replayRange,
	"commit":                (*session).commit,
	"lock-many":             (*session).lockMany,
	"unlock-many":           (*session).unlockMany,
	"get-locations":         (*session).getLocations,
	"get-location-segments": (*session).getLocationSegments,
}

func (s *session) reparent(cmd svn.Command) error {
	var args struct{ URL string }
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	return s.respond(s.t.Reparent(args.URL))
}

func (s *session) getLatestRev(svn.Command) error {
	rev, err := s.t.LatestRevnum()
	return s.respond(err, rev)
}

func (s *session) getDatedRev(cmd svn.Command) error {
	var args struct{ Date time.Time }
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	rev, err := s.t.DatedRevnum(args.Date)
	return s.respond(err, rev)
}

type pathRevArgs struct {
	Path string
	Rev  []svn.Revnum
}

func (s *session) checkPath(cmd svn.Command) error {
	var args pathRevArgs
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	kind, err := s.t.CheckPath(args.Path, svn.OptRevnum(args.Rev))
	return s.respond(err, kind.String())
}

func (s *session) stat(cmd svn.Command) error {
	var args pathRevArgs
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	d, err := s.t.Stat(args.Path, svn.OptRevnum(args.Rev))
	if err != nil || d == nil {
		return s.respond(err, []any{})
	}
	return s.respond(nil, []any{direntTuple(*d)})
}

func (s *session) getFile(cmd svn.Command) error {
	var args struct {
		Path     string
		Rev      []svn.Revnum
		Props    bool
		Contents bool
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	var buf bytes.Buffer
	var w io.Writer
	if args.Contents {
		w = &buf
	}
	rev, props, err := s.t.GetFile(args.Path, svn.OptRevnum(args.Rev), w)
	if err != nil {
		return s.respond(err)
	}
	var checksum string
	if args.Contents {
		checksum = delta.Checksum(buf.Bytes())
	}
	if !args.Props {
		props = nil
	}
	if err := s.respond(nil, svn.OptString(checksum), rev, props); err != nil || !args.Contents {
		return err
	}
	for data := buf.Bytes(); len(data) > 0; {
		n := min(len(data), fileChunk)
		if err := s.conn.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	if err := s.conn.Write([]byte{}); err != nil {
		return err
	}
	return s.conn.WriteSuccess()
}

func (s *session) getDir(cmd svn.Command) error {
	var args struct {
		Path     string
		Rev      []svn.Revnum
		Props    bool
		Contents bool
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	rev, entries, props, err := s.t.GetDir(args.Path, svn.OptRevnum(args.Rev))
	if err != nil {
		return s.respond(err)
	}
	if !args.Props {
		props = nil
	}
	list := []any{}
	if args.Contents {
		for _, d := range entries {
			list = append(list, append([]any{[]byte(d.Path)}, direntTuple(d)...))
		}
	}
	return s.respond(nil, rev, props, list)
}

// depthArg returns the depth sent by the client, or the one implied by
// the older recurse flag.
func depthArg(word string, recurse bool) (svn.Depth, error) {
	if word == "" {
		return svn.DepthFromRecurse(recurse), nil
	}
	return svn.ParseDepth(word)
}

func (s *session) update(cmd svn.Command) error {
	var args struct {
		Rev          []svn.Revnum
		Target       string
		Recurse      bool
		Depth        string
		SendCopyFrom bool
	}
	ed := newWireEditor(s.conn, s.svndiff, false)
	if err := cmd.Args(&args); err != nil {
		return s.report(nil, err)
	}
	depth, err := depthArg(args.Depth, args.Recurse)
	if err != nil {
		return s.report(nil, err)
	}
	rep, err := s.t.Update(svn.OptRevnum(args.Rev), args.Target, depth, args.SendCopyFrom, ed)
	return s.report(rep, err)
}

func (s *session) doSwitch(cmd svn.Command) error {
	var args struct {
		Rev     []svn.Revnum
		Target  string
		Recurse bool
		URL     string
		Depth   string
	}
	ed := newWireEditor(s.conn, s.svndiff, false)
	if err := cmd.Args(&args); err != nil {
		return s.report(nil, err)
	}
	depth, err := depthArg(args.Depth, args.Recurse)
	if err != nil {
		return s.report(nil, err)
	}
	rep, err := s.t.Switch(svn.OptRevnum(args.Rev), args.Target, depth, args.URL, ed)
	return s.report(rep, err)
}

func (s *session) diff(cmd svn.Command) error {
	args := struct {
		Rev            []svn.Revnum
		Target         string
		Recurse        bool
		IgnoreAncestry bool
		URL            string
		TextDeltas     bool
		Depth          string
	}{TextDeltas: true}
	ed := newWireEditor(s.conn, s.svndiff, false)
	if err := cmd.Args(&args); err != nil {
		return s.report(nil, err)
	}
	depth, err := depthArg(args.Depth, args.Recurse)
	if err != nil {
		return s.report(nil, err)
	}
	rep, err := s.t.Diff(svn.OptRevnum(args.Rev), args.Target, depth, args.URL, args.IgnoreAncestry, args.TextDeltas, ed)
	return s.report(rep, err)
}

type reportArgs struct {
	Path       string
	URL        string
	Rev        svn.Revnum
	StartEmpty bool
	Lock       []string
	Depth      string
}

// report reads the report commands into rep, which is nil if the
// report could not start because of failed.  The report is read in any
// case, and the failure sent once it is finished.
func (s *session) report(rep ra.Reporter, failed error) error {
	for {
		cmd, err := s.conn.ReadCommand()
		if err != nil {
			if rep != nil {
				rep.AbortReport()
			}
			return err
		}
		args := reportArgs{Depth: svn.DepthInfinity.String()}
		switch cmd.Name {
		case "set-path":
			var a struct {
				Path       string
				Rev        svn.Revnum
				StartEmpty bool
				Lock       []string
				Depth      string
			}
			a.Depth = args.Depth
			err = cmd.Args(&a)
			args.Path, args.Rev, args.StartEmpty, args.Lock, args.Depth = a.Path, a.Rev, a.StartEmpty, a.Lock, a.Depth
		case "link-path":
			err = cmd.Args(&args)
		case "delete-path":
			var a struct{ Path string }
			err = cmd.Args(&a)
			args.Path = a.Path
		case "finish-report":
			if err := s.authRequest(); err != nil {
				return err
			}
			if failed == nil {
				failed = rep.FinishReport()
				if fatal(failed) {
					return failed
				}
			} else if rep != nil {
				rep.AbortReport()
			}
			if failed != nil {
				glog.V(2).Infof("rasvn: %sreport: %v", s.conn.Name, failed)
			}
			return s.conn.WriteResponse(failed)
		case "abort-report":
			if rep != nil {
				rep.AbortReport()
			}
			return nil
		default:
			if rep != nil {
				rep.AbortReport()
			}
			return svn.Errorf(svn.ErrCodeRASvnUnknownCmd, "unexpected %q in a report", cmd.Name)
		}
		if failed != nil {
			continue
		}
		if err != nil {
			failed = err
			continue
		}
		depth, err := svn.ParseDepth(args.Depth)
		if err != nil {
			failed = err
			continue
		}
		switch cmd.Name {
		case "set-path":
			failed = rep.SetPath(args.Path, args.Rev, depth, args.StartEmpty, firstString(args.Lock))
		case "link-path":
			failed = rep.LinkPath(args.Path, args.URL, args.Rev, depth, args.StartEmpty, firstString(args.Lock))
		case "delete-path":
			failed = rep.DeletePath(args.Path)
		}
	}
}

func (s *session) replay(cmd svn.Command) error {
	var args struct {
		Rev        svn.Revnum
		LowWater   svn.Revnum
		SendDeltas bool
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	if err := s.authRequest(); err != nil {
		return err
	}
	err := s.t.Replay(args.Rev, args.LowWater, args.SendDeltas, newWireEditor(s.conn, s.svndiff, true))
	if fatal(err) {
		return err
	}
	return s.conn.WriteResponse(err)
}

func (s *session) replayRange(cmd svn.Command) error {
	var args struct {
		Start      svn.Revnum
		End        svn.Revnum
		LowWater   svn.Revnum
		SendDeltas bool
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	if err := s.authRequest(); err != nil {
		return err
	}
	start := func(rev svn.Revnum, props svn.Props) (editor.Editor, error) {
		if err := s.conn.Write([]any{svn.Word("revprops"), props}); err != nil {
			return nil, err
		}
		return newWireEditor(s.conn, s.svndiff, true), nil
	}
	finish := func(svn.Revnum, svn.Props, editor.Editor) error {
		return nil
	}
	err := s.t.ReplayRange(args.Start, args.End, args.LowWater, args.SendDeltas, start, finish)
	if fatal(err) {
		return err
	}
	return s.conn.WriteResponse(err)
}

func (s *session) commit(cmd svn.Command) error {
	var args struct {
		Log       []byte
		Locks     map[string]string
		KeepLocks bool
		RevProps  svn.Props
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	revprops := args.RevProps
	if revprops == nil {
		revprops = svn.Props{}
	}
	if _, ok := revprops[svn.PropRevisionLog]; !ok {
		revprops[svn.PropRevisionLog] = args.Log
	}
	var info *svn.CommitInfo
	ed, err := s.t.CommitEditor(revprops, args.Locks, args.KeepLocks, func(ci svn.CommitInfo) error {
		info = &ci
		return nil
	})
	if err := s.respond(err); err != nil || ed == nil {
		return err
	}
	_, err = feed(s.conn, ed, false)
	if fatal(err) {
		return err
	}
	if err != nil || info == nil {
		glog.V(2).Infof("rasvn: %scommit not done: %v", s.conn.Name, err)
		return nil
	}
	glog.V(1).Infof("rasvn: %s%q committed r%d", s.conn.Name, s.user, info.Revision)
	if err := s.authRequest(); err != nil {
		return err
	}
	return s.conn.Write(commitInfoTuple(*info))
}

func (s *session) lockMany(cmd svn.Command) error {
	var args struct {
		Comment []string
		Steal   bool
		Targets []pathRevArgs
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	if err := s.authRequest(); err != nil {
		return err
	}
	pathRevs := make(map[string]svn.Revnum, len(args.Targets))
	for _, t := range args.Targets {
		pathRevs[t.Path] = svn.OptRevnum(t.Rev)
	}
	var werr error
	err := s.t.Lock(pathRevs, firstString(args.Comment), args.Steal, func(path string, stolen bool, l *svn.Lock, err error) error {
		if werr == nil {
			if err != nil {
				werr = s.conn.WriteFailure(err)
			} else {
				werr = s.conn.WriteSuccess(lockTuple(l), stolen)
			}
		}
		return werr
	})
	return s.finishItems(werr, err)
}

func (s *session) unlockMany(cmd svn.Command) error {
	var args struct {
		Break   bool
		Targets []struct {
			Path  string
			Token []string
		}
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	if err := s.authRequest(); err != nil {
		return err
	}
	pathTokens := make(map[string]string, len(args.Targets))
	for _, t := range args.Targets {
		pathTokens[t.Path] = firstString(t.Token)
	}
	var werr error
	err := s.t.Unlock(pathTokens, args.Break, func(path string, broken bool, l *svn.Lock, err error) error {
		if werr == nil {
			released := []any{}
			if l != nil {
				released = []any{lockTuple(l)}
			}
			werr = s.conn.WriteResponse(err, []byte(path), broken, released)
		}
		return werr
	})
	return s.finishItems(werr, err)
}

// finishItems ends a list of items with "done" and the response.
func (s *session) finishItems(werr, err error) error {
	if werr != nil {
		return werr
	}
	if err := s.conn.Write(svn.Word("done")); err != nil {
		return err
	}
	return s.conn.WriteResponse(err)
}

func (s *session) getLocations(cmd svn.Command) error {
	var args struct {
		Path string
		Peg  svn.Revnum
		Revs []svn.Revnum
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	if err := s.authRequest(); err != nil {
		return err
	}
	locs, err := s.t.Locations(args.Path, args.Peg, args.Revs)
	for _, rev := range slices.Sorted(maps.Keys(locs)) {
		if err := s.conn.Write([]any{rev, []byte(locs[rev])}); err != nil {
			return err
		}
	}
	return s.finishItems(nil, err)
}

func (s *session) getLocationSegments(cmd svn.Command) error {
	var args struct {
		Path  string
		Peg   []svn.Revnum
		Start []svn.Revnum
		End   []svn.Revnum
	}
	if err := cmd.Args(&args); err != nil {
		return s.respond(err)
	}
	if err := s.authRequest(); err != nil {
		return err
	}
	var werr error
	err := s.t.LocationSegments(args.Path, svn.OptRevnum(args.Peg), svn.OptRevnum(args.Start), svn.OptRevnum(args.End), func(seg svn.LocationSegment) error {
		if werr == nil {
			path := []any{}
			if !seg.Gap {
				path = []any{[]byte(seg.Path)}
			}
			werr = s.conn.Write([]any{seg.Start, seg.End, path})
		}
		return werr
	})
	return s.finishItems(werr, err)
}
