package repos

import (
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/ra"
)

// Capabilities advertised by every Access.
var Capabilities = []string{"edit-pipeline", "svndiff1", "absent-entries", "depth", "commit-revprops", "log-revprops", "partial-replay"}

// Access is a user's view of a repository from a session URL.
type Access struct {
	r    *Repository
	root string
	url  string
	// path of the session URL, relative to the repository root
	path string
	user string
}

var _ ra.Transport = (*Access)(nil)

// Access returns a view of the repository at url, which must be below the
// repository URL, for user ("" is anonymous).
func (r *Repository) Access(url, user string) (*Access, error) {
	return r.AccessAt(r.url, url, user)
}

// AccessAt is like Access, with the repository reached at root.
func (r *Repository) AccessAt(root, url, user string) (*Access, error) {
	a := &Access{r: r, root: strings.TrimSuffix(root, "/"), user: user}
	if err := a.Reparent(url); err != nil {
		return nil, err
	}
	return a, nil
}

// urlPath returns the path of u relative to the repository root.
func (a *Access) urlPath(u string) (string, error) {
	u = strings.TrimSuffix(u, "/")
	if u != a.root && !strings.HasPrefix(u, a.root+"/") {
		return "", svn.Errorf(svn.ErrCodeRAIllegalURL, "URL %q is not a child of repository root URL %q", u, a.root)
	}
	p, err := url.PathUnescape(u[len(a.root):])
	if err != nil {
		return "", svn.Wrap(err, svn.ErrCodeRAIllegalURL, "illegal URL %q", u)
	}
	return cleanPath(p), nil
}

func (a *Access) reposPath(p string) string {
	return joinPath(a.path, p)
}

func (a *Access) SessionURL() string {
	if a.path == "" {
		return a.root
	}
	return a.root + "/" + (&url.URL{Path: a.path}).EscapedPath()
}

func (a *Access) ReposRoot() string {
	return a.root
}

func (a *Access) UUID() string {
	return a.r.uuid
}

func (a *Access) HasCapability(capability string) bool {
	for _, c := range Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (a *Access) Reparent(u string) error {
	p, err := a.urlPath(u)
	if err != nil {
		return err
	}
	a.url = u
	a.path = p
	glog.V(2).Infof("repos: session for %q at /%s", a.user, p)
	return nil
}

func (a *Access) LatestRevnum() (svn.Revnum, error) {
	return a.r.Youngest(), nil
}

func (a *Access) DatedRevnum(t time.Time) (svn.Revnum, error) {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	return a.r.dated(t), nil
}

// node returns the node at the session-relative path p in rev.
func (a *Access) node(p string, rev svn.Revnum) (*node, svn.Revnum, error) {
	rev, revision, err := a.r.rev(rev)
	if err != nil {
		return nil, rev, err
	}
	rp := a.reposPath(p)
	if !a.r.readable(a.user, rp) {
		return nil, rev, svn.Errorf(svn.ErrCodeAuthzUnreadable, "access to /%s forbidden", rp)
	}
	return lookup(revision.root, rp), rev, nil
}

func (a *Access) CheckPath(p string, rev svn.Revnum) (svn.NodeKind, error) {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	n, _, err := a.node(p, rev)
	if err != nil {
		return svn.NodeNone, err
	}
	if n == nil {
		return svn.NodeNone, nil
	}
	return n.kind, nil
}

func (a *Access) dirent(name string, n *node) svn.Dirent {
	props := a.r.revs[n.created].props
	return svn.Dirent{
		Path:        name,
		Kind:        n.kind,
		Size:        uint64(len(n.text)),
		HasProps:    len(n.props) > 0,
		CreatedRev:  n.created,
		CreatedDate: a.r.revDate(n.created),
		LastAuthor:  string(props[svn.PropRevisionAuthor]),
	}
}

func (a *Access) Stat(p string, rev svn.Revnum) (*svn.Dirent, error) {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	n, _, err := a.node(p, rev)
	if err != nil || n == nil {
		return nil, err
	}
	_, name := splitPath(a.reposPath(p))
	d := a.dirent(name, n)
	return &d, nil
}

func (a *Access) GetFile(p string, rev svn.Revnum, w io.Writer) (svn.Revnum, svn.Props, error) {
	a.r.mu.RLock()
	n, rev, err := a.node(p, rev)
	a.r.mu.RUnlock()
	if err != nil {
		return rev, nil, err
	}
	switch {
	case n == nil:
		return rev, nil, svn.Errorf(svn.ErrCodeFSNotFound, "path '/%s' not found in revision %d", a.reposPath(p), rev)
	case n.kind != svn.NodeFile:
		return rev, nil, svn.Errorf(svn.ErrCodeFSNotFile, "path '/%s' is not a file", a.reposPath(p))
	}
	if w != nil {
		if _, err := w.Write(n.text); err != nil {
			return rev, nil, err
		}
	}
	return rev, n.props.Clone(), nil
}

func (a *Access) GetDir(p string, rev svn.Revnum) (svn.Revnum, []svn.Dirent, svn.Props, error) {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	n, rev, err := a.node(p, rev)
	if err != nil {
		return rev, nil, nil, err
	}
	switch {
	case n == nil:
		return rev, nil, nil, svn.Errorf(svn.ErrCodeFSNotFound, "path '/%s' not found in revision %d", a.reposPath(p), rev)
	case n.kind != svn.NodeDir:
		return rev, nil, nil, svn.Errorf(svn.ErrCodeFSNotDirectory, "path '/%s' is not a directory", a.reposPath(p))
	}
	var entries []svn.Dirent
	for _, name := range n.names() {
		if !a.r.readable(a.user, joinPath(a.reposPath(p), name)) {
			continue
		}
		entries = append(entries, a.dirent(name, n.entries[name]))
	}
	return rev, entries, n.props.Clone(), nil
}

func (a *Access) Close() error {
	return nil
}
