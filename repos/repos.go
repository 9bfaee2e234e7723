// Package repos implements an in-memory Subversion repository.
//
// Revisions are immutable trees sharing unchanged nodes.  An Access
// gives a user a view of the repository from one URL and implements
// ra.Transport, so a repository can back a session directly or be served
// over the wire.
package repos

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	svn "github.com/cespedes/svnra"
)

// Options configures a Repository.
type Options struct {
	// UUID defaults to a random one.
	UUID string
	// URL is the root URL given to Access.  It defaults to
	// "file:///repos".
	URL string
	// Now returns the time recorded in new revisions.
	Now func() time.Time
	// PostCommit runs after each commit.  Its error does not undo the
	// commit; it is reported in CommitInfo.PostCommitErr.
	PostCommit func(info svn.CommitInfo) error
	// Readable reports whether user may read the repository path p
	// ("/" being the root).  Nil allows everything.
	Readable func(user, p string) bool
}

type revision struct {
	root  *node
	props svn.Props
}

// Repository is an in-memory repository.  It is safe for concurrent use.
type Repository struct {
	mu     sync.RWMutex
	opts   Options
	uuid   string
	url    string
	revs   []revision
	locks  map[string]*svn.Lock
	nextID int64
}

// New returns a repository holding an empty revision 0.
func New(opts Options) *Repository {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Repository{
		opts:  opts,
		uuid:  opts.UUID,
		url:   strings.TrimSuffix(opts.URL, "/"),
		locks: make(map[string]*svn.Lock),
	}
	if r.uuid == "" {
		r.uuid = uuid.NewString()
	}
	if r.url == "" {
		r.url = "file:///repos"
	}
	root := &node{id: r.newID(), kind: svn.NodeDir, entries: map[string]*node{}}
	r.revs = append(r.revs, revision{
		root:  root,
		props: svn.Props{svn.PropRevisionDate: []byte(svn.FormatDate(opts.Now()))},
	})
	glog.V(2).Infof("repos: created repository %s", r.uuid)
	return r
}

// UUID returns the repository UUID.
func (r *Repository) UUID() string {
	return r.uuid
}

func (r *Repository) newID() int64 {
	r.nextID++
	return r.nextID
}

// Youngest returns the latest revision.
func (r *Repository) Youngest() svn.Revnum {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.youngest()
}

func (r *Repository) youngest() svn.Revnum {
	return svn.Revnum(len(r.revs) - 1)
}

// rev returns revision n, HEAD if n is invalid.
func (r *Repository) rev(n svn.Revnum) (svn.Revnum, *revision, error) {
	if !n.Valid() {
		n = r.youngest()
	}
	if n < 0 || n > r.youngest() {
		return n, nil, svn.Errorf(svn.ErrCodeFSNoSuchRevision, "no such revision %d", n)
	}
	return n, &r.revs[n], nil
}

// RevProps returns the properties of revision n.
func (r *Repository) RevProps(n svn.Revnum) (svn.Props, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, rev, err := r.rev(n)
	if err != nil {
		return nil, err
	}
	return rev.props.Clone(), nil
}

func (r *Repository) revDate(n svn.Revnum) time.Time {
	if n < 0 || n > r.youngest() {
		return time.Time{}
	}
	t, _ := svn.ParseDate(string(r.revs[n].props[svn.PropRevisionDate]))
	return t
}

// dated returns the youngest revision created at or before t.
func (r *Repository) dated(t time.Time) svn.Revnum {
	n := sort.Search(len(r.revs), func(i int) bool {
		return r.revDate(svn.Revnum(i)).After(t)
	})
	return svn.Revnum(n - 1)
}

func (r *Repository) readable(user, p string) bool {
	if r.opts.Readable == nil {
		return true
	}
	return r.opts.Readable(user, "/"+p)
}
