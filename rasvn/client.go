package rasvn

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"net"
	"net/url"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/afero"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
	"github.com/cespedes/svnra/editor"
	"github.com/cespedes/svnra/ra"
)

// A Client is a connection to a svnserve-style server.  It implements
// ra.Transport; like every Transport, it runs one exchange at a time.
type Client struct {
	conn *svn.Conn
	cmd  *exec.Cmd
	cfg  ra.DialConfig
	// realm prefix, "<svn://host:port>"
	realm    string
	tunneled bool

	url     string
	root    string
	uuid    string
	caps    map[string]bool
	svndiff int
}

var _ ra.Transport = (*Client)(nil)

func init() {
	dial := func(url string, cfg ra.DialConfig) (ra.Transport, error) {
		return Dial(url, cfg)
	}
	ra.Register("svn", dial)
	ra.Register("svn+", dial)
	ra.Register("file", dial)
	ra.Register("svns", func(url string, cfg ra.DialConfig) (ra.Transport, error) {
		return DialTLS(url, cfg, nil)
	})
}

func hostPort(u *url.URL) string {
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), DefaultPort)
	}
	return u.Host
}

// Dial connects to the repository at rawURL: over TCP for "svn" URLs, and
// through a tunnel for "svn+NAME" and "file" URLs.
func Dial(rawURL string, cfg ra.DialConfig) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeRAIllegalURL, "illegal repository URL %q", rawURL)
	}
	if u.Scheme == "svn" {
		nc, err := net.Dial("tcp", hostPort(u))
		if err != nil {
			return nil, svn.Wrap(err, svn.ErrCodeRASvnIOError, "can't connect to host %q", u.Host)
		}
		return newClient(nc, nc, rawURL, cfg, false)
	}
	return dialTunnel(u, cfg)
}

// DialTLS is like Dial for "svn" URLs, with the connection wrapped in
// TLS.  Server certificates are verified against roots, or the system
// pool if nil, and untrusted ones are accepted or not through the
// credentials of cfg.Auth, which also provide client certificates.
func DialTLS(rawURL string, cfg ra.DialConfig, roots *x509.CertPool) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeRAIllegalURL, "illegal repository URL %q", rawURL)
	}
	b := cfg.Auth
	if b == nil {
		b = auth.Open(nil)
	}
	tcfg := auth.TLSConfig(b, afero.NewOsFs(), fmt.Sprintf("<svns://%s>", hostPort(u)), u.Hostname())
	tcfg.RootCAs = roots
	nc, err := tls.Dial("tcp", hostPort(u), tcfg)
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeRASvnIOError, "can't connect to host %q", u.Host)
	}
	return newClient(nc, nc, rawURL, cfg, false)
}

// NewClient runs the protocol over rw, which is already connected to a
// server, for the repository at rawURL.
func NewClient(rw io.ReadWriteCloser, rawURL string, cfg ra.DialConfig) (*Client, error) {
	return newClient(rw, rw, rawURL, cfg, false)
}

func newClient(r io.Reader, w io.Writer, rawURL string, cfg ra.DialConfig, tunneled bool) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeRAIllegalURL, "illegal repository URL %q", rawURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "svnra"
	}
	c := &Client{
		conn:     svn.NewConn(r, w),
		cfg:      cfg,
		realm:    fmt.Sprintf("<%s://%s>", u.Scheme, hostPort(u)),
		tunneled: tunneled,
		url:      rawURL,
		caps:     make(map[string]bool),
	}
	c.conn.Name = "client"
	if err := c.handshake(); err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("svn connect %s: %w", rawURL, err)
	}
	return c, nil
}

func (c *Client) handshake() error {
	var greet struct {
		MinVer int
		MaxVer int
		Mechs  []string
		Caps   []string
	}
	if err := c.conn.ReadResponse(&greet); err != nil {
		return fmt.Errorf("reading greeting: %w", err)
	}
	glog.V(2).Infof("rasvn: greeting: %+v", greet)
	if greet.MinVer > Version || greet.MaxVer < Version {
		return svn.Errorf(svn.ErrCodeRASvnBadVersion, "server only supports versions %d to %d", greet.MinVer, greet.MaxVer)
	}
	for _, name := range greet.Caps {
		c.caps[name] = true
	}
	if c.caps["svndiff1"] {
		c.svndiff = 1
	}
	err := c.conn.Write([]any{
		Version,
		clientCaps,
		[]byte(c.url),
		[]byte(c.cfg.UserAgent),
		[]any{},
	})
	if err != nil {
		return fmt.Errorf("sending greeting response: %w", err)
	}
	if err := c.readAuthRequest(); err != nil {
		return err
	}
	var info struct {
		UUID string
		URL  string
		Caps []string
	}
	if err := c.conn.ReadResponse(&info); err != nil {
		return fmt.Errorf("reading repos-info: %w", err)
	}
	glog.V(2).Infof("rasvn: repos-info: %+v", info)
	c.uuid, c.root = info.UUID, info.URL
	for _, name := range info.Caps {
		c.caps[name] = true
	}
	return nil
}

// readAuthRequest reads an auth-request and authenticates if it offers
// mechanisms.
func (c *Client) readAuthRequest() error {
	var req authRequest
	if err := c.conn.ReadResponse(&req); err != nil {
		return err
	}
	if len(req.Mechs) == 0 {
		return nil
	}
	return c.authenticate(req)
}

func (c *Client) authenticate(req authRequest) error {
	glog.V(1).Infof("rasvn: auth-request: mechanisms %v, realm %q", req.Mechs, req.Realm)
	switch {
	case c.tunneled && slices.Contains(req.Mechs, "EXTERNAL"):
		ok, msg, err := c.tryMech("EXTERNAL", []byte{})
		if err == nil && !ok {
			err = svn.Errorf(svn.ErrCodeAuthnFailed, "EXTERNAL authentication failed: %s", msg)
		}
		return err
	case slices.Contains(req.Mechs, "ANONYMOUS"):
		ok, msg, err := c.tryMech("ANONYMOUS", []byte{})
		if err == nil && !ok {
			err = svn.Errorf(svn.ErrCodeAuthnFailed, "ANONYMOUS authentication failed: %s", msg)
		}
		return err
	}
	var try func(auth.SimpleCredentials) (bool, string, error)
	switch {
	case slices.Contains(req.Mechs, "CRAM-MD5"):
		try = c.cramMD5
	case slices.Contains(req.Mechs, "PLAIN"):
		try = func(creds auth.SimpleCredentials) (bool, string, error) {
			return c.tryMech("PLAIN", []byte("\x00"+creds.Username+"\x00"+creds.Password))
		}
	default:
		return svn.Errorf(svn.ErrCodeRASvnNoMechanisms, "cannot negotiate authentication mechanism among %v", req.Mechs)
	}
	if c.cfg.Auth == nil {
		return svn.Errorf(svn.ErrCodeAuthnNoProvider, "no credentials to authenticate to %s", c.realm)
	}
	realm := c.realm + " " + req.Realm
	_, err := c.cfg.Auth.Negotiate(auth.KindSimple, realm, func(cr auth.Credentials) (auth.Verdict, error) {
		creds, ok := cr.(auth.SimpleCredentials)
		if !ok {
			return auth.Rejected, nil
		}
		ok, msg, err := try(creds)
		switch {
		case err != nil:
			return auth.Fatal, err
		case !ok:
			glog.V(1).Infof("rasvn: authentication as %q failed: %s", creds.Username, msg)
			return auth.Rejected, nil
		}
		return auth.Accepted, nil
	})
	return err
}

// tryMech sends an authentication with mech and reads the outcome.
func (c *Client) tryMech(mech string, token []byte) (ok bool, msg string, err error) {
	if err := c.conn.Write([]any{svn.Word(mech), optBytes(token)}); err != nil {
		return false, "", err
	}
	return c.readAuthOutcome()
}

func (c *Client) readAuthOutcome() (bool, string, error) {
	cmd, err := c.conn.ReadCommand()
	if err != nil {
		return false, "", err
	}
	switch cmd.Name {
	case "success":
		return true, "", nil
	case "failure":
		var msg []string
		if err := cmd.Args(&msg); err != nil {
			return false, "", err
		}
		return false, firstString(msg), nil
	}
	return false, "", svn.Errorf(svn.ErrCodeRASvnMalformedData, "unexpected %q during authentication", cmd.Name)
}

func (c *Client) cramMD5(creds auth.SimpleCredentials) (bool, string, error) {
	if err := c.conn.Write([]any{svn.Word("CRAM-MD5"), []any{}}); err != nil {
		return false, "", err
	}
	cmd, err := c.conn.ReadCommand()
	if err != nil {
		return false, "", err
	}
	if cmd.Name != "step" {
		return false, "", svn.Errorf(svn.ErrCodeRASvnMalformedData, "unexpected %q in CRAM-MD5 exchange", cmd.Name)
	}
	var step struct{ Challenge []byte }
	if err := cmd.Args(&step); err != nil {
		return false, "", err
	}
	if err := c.conn.Write([]byte(creds.Username + " " + cramResponse(creds.Password, step.Challenge))); err != nil {
		return false, "", err
	}
	return c.readAuthOutcome()
}

func cramResponse(password string, challenge []byte) string {
	h := hmac.New(md5.New, []byte(password))
	h.Write(challenge)
	return hex.EncodeToString(h.Sum(nil))
}

// call sends a command and reads its auth-request and response.
func (c *Client) call(name string, resp any, params ...any) error {
	if err := c.conn.WriteCommand(name, params...); err != nil {
		return err
	}
	if err := c.readAuthRequest(); err != nil {
		return err
	}
	return c.conn.ReadResponse(resp)
}

// start sends a command and reads its auth-request, leaving the
// response, and whatever comes before it, to the caller.
func (c *Client) start(name string, params ...any) error {
	if err := c.conn.WriteCommand(name, params...); err != nil {
		return err
	}
	return c.readAuthRequest()
}

func (c *Client) SessionURL() string {
	return c.url
}

func (c *Client) ReposRoot() string {
	return c.root
}

func (c *Client) UUID() string {
	return c.uuid
}

func (c *Client) HasCapability(capability string) bool {
	return c.caps[capability]
}

func (c *Client) Reparent(url string) error {
	if err := c.call("reparent", nil, []byte(url)); err != nil {
		return err
	}
	c.url = url
	return nil
}

func (c *Client) LatestRevnum() (svn.Revnum, error) {
	var resp struct{ Rev svn.Revnum }
	err := c.call("get-latest-rev", &resp)
	return resp.Rev, err
}

func (c *Client) DatedRevnum(t time.Time) (svn.Revnum, error) {
	var resp struct{ Rev svn.Revnum }
	err := c.call("get-dated-rev", &resp, t)
	return resp.Rev, err
}

func (c *Client) CheckPath(path string, rev svn.Revnum) (svn.NodeKind, error) {
	var resp struct{ Kind string }
	if err := c.call("check-path", &resp, []byte(path), rev.Opt()); err != nil {
		return svn.NodeNone, err
	}
	return svn.ParseNodeKind(resp.Kind)
}

func (c *Client) Stat(path string, rev svn.Revnum) (*svn.Dirent, error) {
	var resp struct{ Dirent []wireDirent }
	if err := c.call("stat", &resp, []byte(path), rev.Opt()); err != nil {
		return nil, err
	}
	if len(resp.Dirent) == 0 {
		return nil, nil
	}
	d, err := resp.Dirent[0].dirent(path)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) GetFile(path string, rev svn.Revnum, w io.Writer) (svn.Revnum, svn.Props, error) {
	if err := c.start("get-file", []byte(path), rev.Opt(), true, w != nil); err != nil {
		return rev, nil, err
	}
	var resp struct {
		Checksum []string
		Rev      svn.Revnum
		Props    svn.Props
	}
	if err := c.conn.ReadResponse(&resp); err != nil {
		return rev, nil, err
	}
	if w == nil {
		return resp.Rev, resp.Props, nil
	}
	// The contents are sent whole even if w fails.
	sum := md5.New()
	var werr error
	for {
		var chunk []byte
		if err := c.conn.Read(&chunk); err != nil {
			return resp.Rev, nil, err
		}
		if len(chunk) == 0 {
			break
		}
		sum.Write(chunk)
		if werr == nil {
			_, werr = w.Write(chunk)
		}
	}
	if err := c.conn.ReadResponse(nil); err != nil {
		return resp.Rev, nil, err
	}
	if werr != nil {
		return resp.Rev, nil, werr
	}
	if want := firstString(resp.Checksum); want != "" {
		if got := hex.EncodeToString(sum.Sum(nil)); got != want {
			return resp.Rev, nil, svn.Errorf(svn.ErrCodeChecksumMismatch, "checksum mismatch for %q: expected %s, actual %s", path, want, got)
		}
	}
	return resp.Rev, resp.Props, nil
}

// direntFields are the dirent fields asked for in get-dir.
var direntFields = []string{"kind", "size", "has-props", "created-rev", "time", "last-author"}

type wireEntry struct {
	Name       string
	Kind       string
	Size       uint64
	HasProps   bool
	CreatedRev svn.Revnum
	Date       []string
	Author     []string
}

func (c *Client) GetDir(path string, rev svn.Revnum) (svn.Revnum, []svn.Dirent, svn.Props, error) {
	var resp struct {
		Rev     svn.Revnum
		Props   svn.Props
		Entries []wireEntry
	}
	if err := c.call("get-dir", &resp, []byte(path), rev.Opt(), true, true, direntFields); err != nil {
		return rev, nil, nil, err
	}
	entries := make([]svn.Dirent, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		d, err := wireDirent{e.Kind, e.Size, e.HasProps, e.CreatedRev, e.Date, e.Author}.dirent(e.Name)
		if err != nil {
			return resp.Rev, nil, nil, err
		}
		entries = append(entries, d)
	}
	return resp.Rev, entries, resp.Props, nil
}

func recurse(depth svn.Depth) bool {
	return depth != svn.DepthEmpty && depth != svn.DepthFiles
}

func (c *Client) Update(rev svn.Revnum, target string, depth svn.Depth, sendCopyFrom bool, ed editor.Editor) (ra.Reporter, error) {
	err := c.conn.WriteCommand("update", rev.Opt(), []byte(target), recurse(depth), depth.String(), sendCopyFrom)
	if err != nil {
		return nil, err
	}
	return &reporter{c: c, ed: ed}, nil
}

func (c *Client) Switch(rev svn.Revnum, target string, depth svn.Depth, switchURL string, ed editor.Editor) (ra.Reporter, error) {
	err := c.conn.WriteCommand("switch", rev.Opt(), []byte(target), recurse(depth), []byte(switchURL), depth.String())
	if err != nil {
		return nil, err
	}
	return &reporter{c: c, ed: ed}, nil
}

func (c *Client) Diff(rev svn.Revnum, target string, depth svn.Depth, versusURL string, ignoreAncestry, textDeltas bool, ed editor.Editor) (ra.Reporter, error) {
	err := c.conn.WriteCommand("diff", rev.Opt(), []byte(target), recurse(depth), ignoreAncestry, []byte(versusURL), textDeltas, depth.String())
	if err != nil {
		return nil, err
	}
	return &reporter{c: c, ed: ed}, nil
}

// receive feeds an edit to ed and reads the response of the command
// that started it.  A failure of ed wins over the server's.
func (c *Client) receive(ed editor.Editor, forReplay bool) error {
	answered, err := feed(c.conn, ed, forReplay)
	if answered {
		return err
	}
	if rerr := c.conn.ReadResponse(nil); err == nil {
		err = rerr
	}
	return err
}

func (c *Client) Replay(rev, lowWater svn.Revnum, sendDeltas bool, ed editor.Editor) error {
	if err := c.start("replay", rev, max(lowWater, 0), sendDeltas); err != nil {
		ed.Abort()
		return err
	}
	return c.receive(ed, true)
}

func (c *Client) ReplayRange(start, end, lowWater svn.Revnum, sendDeltas bool, startFn ra.ReplayStartFunc, finishFn ra.ReplayFinishFunc) error {
	if err := c.start("replay-range", start, end, max(lowWater, 0), sendDeltas); err != nil {
		return err
	}
	// After a failure, the remaining revisions are read and dropped.
	var failed error
	for rev := start; rev <= end; rev++ {
		item, err := c.conn.ReadItem()
		if err != nil {
			return err
		}
		cmd, err := svn.ParseCommand(item)
		if err != nil {
			return err
		}
		switch cmd.Name {
		case "failure":
			if failed != nil {
				return failed
			}
			return svn.ParseFailure(cmd.Params)
		case "revprops":
		default:
			return svn.Errorf(svn.ErrCodeRASvnMalformedData, "expected revprops, got %q", cmd.Name)
		}
		var props svn.Props
		if err := svn.Unmarshal(svn.List(cmd.Params...), &props); err != nil {
			return svn.Wrap(err, svn.ErrCodeRASvnMalformedData, "malformed revprops")
		}
		var ed editor.Editor = editor.Nop{}
		if failed == nil {
			if ed, failed = startFn(rev, props); failed != nil {
				ed = editor.Nop{}
			}
		}
		answered, err := feed(c.conn, ed, true)
		if answered {
			if failed != nil {
				return failed
			}
			return err
		}
		if failed == nil && err == nil {
			failed = finishFn(rev, props, ed)
		} else if failed == nil {
			failed = err
		}
	}
	if err := c.conn.ReadResponse(nil); failed == nil {
		failed = err
	}
	return failed
}

func (c *Client) CommitEditor(revprops svn.Props, lockTokens map[string]string, keepLocks bool, onCommit ra.CommitFunc) (editor.Editor, error) {
	err := c.call("commit", nil,
		revprops[svn.PropRevisionLog],
		lockTokens,
		keepLocks,
		revprops,
	)
	if err != nil {
		return nil, err
	}
	e := newWireEditor(c.conn, c.svndiff, false)
	e.onClose = func() error {
		if err := c.readAuthRequest(); err != nil {
			return err
		}
		var ci commitInfo
		if err := c.conn.Read(&ci); err != nil {
			return err
		}
		info := svn.CommitInfo{
			Revision:      ci.Revision,
			Date:          firstDate(ci.Date),
			Author:        firstString(ci.Author),
			PostCommitErr: firstString(ci.PostCommitErr),
		}
		glog.V(2).Infof("rasvn: committed r%d", info.Revision)
		if onCommit == nil {
			return nil
		}
		return onCommit(info)
	}
	return e, nil
}

// readItems reads the items sent ahead of "done", then the response.
func (c *Client) readItems(fn func(item svn.Item) error) error {
	for {
		item, err := c.conn.ReadItem()
		if err != nil {
			return err
		}
		if item.IsWord("done") {
			break
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return c.conn.ReadResponse(nil)
}

func (c *Client) Lock(pathRevs map[string]svn.Revnum, comment string, steal bool, fn ra.LockFunc) error {
	paths := slices.Sorted(maps.Keys(pathRevs))
	targets := make([]any, len(paths))
	for i, p := range paths {
		targets[i] = []any{[]byte(p), pathRevs[p].Opt()}
	}
	if err := c.start("lock-many", svn.OptString(comment), steal, targets); err != nil {
		return err
	}
	i := 0
	return c.readItems(func(item svn.Item) error {
		if i >= len(paths) {
			return svn.Errorf(svn.ErrCodeRASvnMalformedData, "more lock responses than paths")
		}
		p := paths[i]
		i++
		params, err := svn.ParseResponse(item)
		if err != nil {
			fn(p, false, nil, err)
			return nil
		}
		// svnserve sends only the lock; our server adds whether it was stolen.
		var resp struct {
			Lock   wireLock
			Stolen bool
		}
		if err := svn.Unmarshal(svn.List(params...), &resp); err != nil {
			return svn.Wrap(err, svn.ErrCodeRASvnMalformedData, "malformed lock")
		}
		fn(p, resp.Stolen, resp.Lock.lock(), nil)
		return nil
	})
}

func (c *Client) Unlock(pathTokens map[string]string, breakLock bool, fn ra.LockFunc) error {
	paths := slices.Sorted(maps.Keys(pathTokens))
	targets := make([]any, len(paths))
	for i, p := range paths {
		targets[i] = []any{[]byte(p), svn.OptString(pathTokens[p])}
	}
	if err := c.start("unlock-many", breakLock, targets); err != nil {
		return err
	}
	i := 0
	return c.readItems(func(item svn.Item) error {
		if i >= len(paths) {
			return svn.Errorf(svn.ErrCodeRASvnMalformedData, "more unlock responses than paths")
		}
		p := paths[i]
		i++
		params, err := svn.ParseResponse(item)
		if err != nil {
			fn(p, false, nil, err)
			return nil
		}
		// After the path, our server adds whether the lock was broken
		// and the lock released.
		var resp struct {
			Path   string
			Broken bool
			Lock   []wireLock
		}
		if err := svn.Unmarshal(svn.List(params...), &resp); err != nil {
			return svn.Wrap(err, svn.ErrCodeRASvnMalformedData, "malformed unlock response")
		}
		var l *svn.Lock
		if len(resp.Lock) > 0 {
			l = resp.Lock[0].lock()
		}
		fn(p, resp.Broken, l, nil)
		return nil
	})
}

func (c *Client) LocationSegments(path string, peg, start, end svn.Revnum, fn ra.SegmentFunc) error {
	if err := c.start("get-location-segments", []byte(path), peg.Opt(), start.Opt(), end.Opt()); err != nil {
		return err
	}
	return c.readItems(func(item svn.Item) error {
		var seg struct {
			Start svn.Revnum
			End   svn.Revnum
			Path  []string
		}
		if err := svn.Unmarshal(item, &seg); err != nil {
			return svn.Wrap(err, svn.ErrCodeRASvnMalformedData, "malformed location segment")
		}
		fn(svn.LocationSegment{Start: seg.Start, End: seg.End, Path: strings.TrimPrefix(firstString(seg.Path), "/"), Gap: len(seg.Path) == 0})
		return nil
	})
}

func (c *Client) Locations(path string, peg svn.Revnum, revs []svn.Revnum) (map[svn.Revnum]string, error) {
	if err := c.start("get-locations", []byte(path), peg, revs); err != nil {
		return nil, err
	}
	locs := make(map[svn.Revnum]string)
	err := c.readItems(func(item svn.Item) error {
		var loc struct {
			Rev  svn.Revnum
			Path string
		}
		if err := svn.Unmarshal(item, &loc); err != nil {
			return svn.Wrap(err, svn.ErrCodeRASvnMalformedData, "malformed location")
		}
		locs[loc.Rev] = loc.Path
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locs, nil
}

// Close closes the connection, and waits for the tunnel, if any.
func (c *Client) Close() error {
	err := c.conn.Close()
	if c.cmd != nil {
		if werr := c.cmd.Wait(); werr != nil {
			glog.V(2).Infof("rasvn: tunnel: %v", werr)
		}
	}
	return err
}
