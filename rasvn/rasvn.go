// Package rasvn implements the svn:// protocol spoken by svnserve: a
// Client, which is an ra.Transport, and a Server, which serves any
// ra.Transport.
//
// The client is registered for "svn", "svn+NAME" (tunnels) and "file"
// URLs, the latter running a local "svnserve -t".
package rasvn

import (
	"time"

	svn "github.com/cespedes/svnra"
)

const (
	// Version is the protocol version spoken.
	Version = 2
	// DefaultPort is the port of svn:// URLs without one.
	DefaultPort = "3690"
)

// clientCaps are the capabilities sent in the client greeting.
var clientCaps = []string{"edit-pipeline", "svndiff1", "absent-entries", "depth", "mergeinfo", "log-revprops"}

// serverCaps are the capabilities a Server advertises.
var serverCaps = []string{"edit-pipeline", "svndiff1", "absent-entries", "commit-revprops", "depth", "log-revprops", "partial-replay"}

func optBytes(v []byte) []any {
	if v == nil {
		return []any{}
	}
	return []any{v}
}

func optDate(t time.Time) []any {
	if t.IsZero() {
		return []any{}
	}
	return []any{t}
}

// firstString returns the value of an optional string read into a slice.
func firstString(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func firstDate(v []string) time.Time {
	if len(v) == 0 {
		return time.Time{}
	}
	t, _ := svn.ParseDate(v[0])
	return t
}

// optValue turns an optional property value into a value for
// ChangeProp, nil meaning a deletion.
func optValue(v [][]byte) []byte {
	if len(v) == 0 {
		return nil
	}
	if v[0] == nil {
		return []byte{}
	}
	return v[0]
}

// authRequest is sent before answering each command; it is empty once
// the connection is authenticated.
type authRequest struct {
	Mechs []string
	Realm string
}

// wireDirent is a dirent as sent by "stat" and "get-dir", the latter
// preceded by the name.
type wireDirent struct {
	Kind       string
	Size       uint64
	HasProps   bool
	CreatedRev svn.Revnum
	Date       []string
	Author     []string
}

func (w wireDirent) dirent(name string) (svn.Dirent, error) {
	kind, err := svn.ParseNodeKind(w.Kind)
	if err != nil {
		return svn.Dirent{}, err
	}
	return svn.Dirent{
		Path:        name,
		Kind:        kind,
		Size:        w.Size,
		HasProps:    w.HasProps,
		CreatedRev:  w.CreatedRev,
		CreatedDate: firstDate(w.Date),
		LastAuthor:  firstString(w.Author),
	}, nil
}

func direntTuple(d svn.Dirent) []any {
	return []any{
		svn.Word(d.Kind.String()),
		d.Size,
		d.HasProps,
		max(d.CreatedRev, 0),
		optDate(d.CreatedDate),
		svn.OptString(d.LastAuthor),
	}
}

type wireLock struct {
	Path    string
	Token   string
	Owner   string
	Comment []string
	Created string
	Expires []string
}

func (w wireLock) lock() *svn.Lock {
	created, _ := svn.ParseDate(w.Created)
	return &svn.Lock{
		Path:    w.Path,
		Token:   w.Token,
		Owner:   w.Owner,
		Comment: firstString(w.Comment),
		Created: created,
		Expires: firstDate(w.Expires),
	}
}

func lockTuple(l *svn.Lock) []any {
	return []any{
		[]byte(l.Path),
		[]byte(l.Token),
		[]byte(l.Owner),
		svn.OptString(l.Comment),
		l.Created,
		optDate(l.Expires),
	}
}

// commitInfo is sent after a successful commit.
type commitInfo struct {
	Revision      svn.Revnum
	Date          []string
	Author        []string
	PostCommitErr []string
}

func commitInfoTuple(info svn.CommitInfo) []any {
	return []any{
		info.Revision,
		optDate(info.Date),
		svn.OptString(info.Author),
		svn.OptString(info.PostCommitErr),
	}
}
