package repos

import (
	"maps"
	"slices"

	"github.com/golang/glog"
	"github.com/google/uuid"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/ra"
)

// GetLock returns the lock on the session-relative path p, or nil.
func (a *Access) GetLock(p string) *svn.Lock {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	if l := a.r.locks[a.reposPath(p)]; l != nil {
		c := *l
		return &c
	}
	return nil
}

// lock locks p, and reports whether it replaced an existing lock.
func (a *Access) lock(p string, rev svn.Revnum, comment string, steal bool) (*svn.Lock, bool, error) {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()
	rp := a.reposPath(p)
	n := lookup(r.revs[r.youngest()].root, rp)
	switch {
	case a.user == "":
		return nil, false, svn.Errorf(svn.ErrCodeFSNoUser, "cannot lock path '/%s', no authenticated username available", rp)
	case n == nil:
		return nil, false, svn.Errorf(svn.ErrCodeFSNotFound, "path '/%s' doesn't exist in HEAD revision", rp)
	case n.kind != svn.NodeFile:
		return nil, false, svn.Errorf(svn.ErrCodeFSNotFile, "'/%s' is not a file", rp)
	case rev.Valid() && rev > r.youngest():
		return nil, false, svn.Errorf(svn.ErrCodeFSNoSuchRevision, "no such revision %d", rev)
	case rev.Valid() && n.created > rev:
		return nil, false, svn.Errorf(svn.ErrCodeFSOutOfDate, "path '/%s' doesn't exist in HEAD revision or is out of date", rp)
	}
	old := r.locks[rp]
	if old != nil && !steal {
		return nil, false, svn.Errorf(svn.ErrCodeFSPathAlreadyLocked, "path '/%s' is already locked by user '%s'", rp, old.Owner)
	}
	l := &svn.Lock{
		Path:    "/" + rp,
		Token:   "opaquelocktoken:" + uuid.NewString(),
		Owner:   a.user,
		Comment: comment,
		Created: r.opts.Now(),
	}
	r.locks[rp] = l
	c := *l
	return &c, old != nil, nil
}

// unlock releases the lock on p, and reports whether it was broken
// rather than released by its owner.
func (a *Access) unlock(p, token string, breakLock bool) (*svn.Lock, bool, error) {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()
	rp := a.reposPath(p)
	l := r.locks[rp]
	switch {
	case l == nil:
		return nil, false, svn.Errorf(svn.ErrCodeFSNoSuchLock, "no lock on path '/%s'", rp)
	case breakLock:
	case a.user == "":
		return nil, false, svn.Errorf(svn.ErrCodeFSNoUser, "cannot unlock path '/%s', no authenticated username available", rp)
	case token != l.Token:
		return nil, false, svn.Errorf(svn.ErrCodeFSBadLockToken, "lock token '%s' does not match the lock on '/%s'", token, rp)
	case l.Owner != a.user:
		return nil, false, svn.Errorf(svn.ErrCodeFSLockOwnerMismatch, "user '%s' is trying to use a lock owned by '%s'", a.user, l.Owner)
	}
	delete(r.locks, rp)
	c := *l
	return &c, breakLock && (token != l.Token || l.Owner != a.user), nil
}

func (a *Access) Lock(pathRevs map[string]svn.Revnum, comment string, steal bool, fn ra.LockFunc) error {
	for _, p := range slices.Sorted(maps.Keys(pathRevs)) {
		l, stolen, err := a.lock(p, pathRevs[p], comment, steal)
		if err != nil {
			glog.V(2).Infof("repos: lock %s: %v", p, err)
		}
		fn(p, stolen, l, err)
	}
	return nil
}

func (a *Access) Unlock(pathTokens map[string]string, breakLock bool, fn ra.LockFunc) error {
	for _, p := range slices.Sorted(maps.Keys(pathTokens)) {
		l, broken, err := a.unlock(p, pathTokens[p], breakLock)
		if err != nil {
			glog.V(2).Infof("repos: unlock %s: %v", p, err)
		}
		fn(p, broken, l, err)
	}
	return nil
}
