package repos

import (
	"strings"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/ra"
)

// history returns the segments of the history of the node at p in rev
// peg, youngest first, with gaps for revisions in which it did not exist.
func history(revs []revision, p string, peg svn.Revnum) []svn.LocationSegment {
	var segs []svn.LocationSegment
	cur, upper := p, peg
	for upper >= 0 {
		root := revs[upper].root
		if lookup(root, cur) == nil {
			break
		}
		// The node arrived at cur with the youngest of its own origin and
		// those of its parents; the deepest wins ties.
		born := svn.InvalidRevnum
		var bornAt string
		var bornOrigin origin
		for q := cur; ; {
			if o := lookup(root, q).origin; o.rev > born {
				born, bornAt, bornOrigin = o.rev, q, o
			}
			if q == "" {
				break
			}
			q, _ = splitPath(q)
		}
		segs = append(segs, svn.LocationSegment{Start: born, End: upper, Path: cur})
		if bornOrigin.copyPath == "" {
			break
		}
		next := joinPath(bornOrigin.copyPath, strings.TrimPrefix(cur[len(bornAt):], "/"))
		if bornOrigin.copyRev < born-1 {
			segs = append(segs, svn.LocationSegment{Start: bornOrigin.copyRev + 1, End: born - 1, Gap: true})
		}
		cur, upper = next, bornOrigin.copyRev
	}
	return segs
}

func (a *Access) revisions() []revision {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	return a.r.revs
}

func (a *Access) LocationSegments(p string, peg, start, end svn.Revnum, fn ra.SegmentFunc) error {
	revs := a.revisions()
	youngest := svn.Revnum(len(revs) - 1)
	if !peg.Valid() {
		peg = youngest
	}
	if !start.Valid() {
		start = peg
	}
	if !end.Valid() {
		end = 0
	}
	switch {
	case peg > youngest:
		return svn.Errorf(svn.ErrCodeFSNoSuchRevision, "no such revision %d", peg)
	case start > peg || end > start:
		return svn.Errorf(svn.ErrCodeIncorrectParams, "revisions must satisfy end (%d) <= start (%d) <= peg (%d)", end, start, peg)
	}
	for _, seg := range history(revs, a.reposPath(p), peg) {
		if seg.End < end || seg.Start > start {
			continue
		}
		if !seg.Gap && !a.r.readable(a.user, seg.Path) {
			break
		}
		seg.Start, seg.End = max(seg.Start, end), min(seg.End, start)
		fn(seg)
	}
	return nil
}

func (a *Access) Locations(p string, peg svn.Revnum, revs []svn.Revnum) (map[svn.Revnum]string, error) {
	all := a.revisions()
	youngest := svn.Revnum(len(all) - 1)
	if !peg.Valid() {
		peg = youngest
	}
	if peg > youngest {
		return nil, svn.Errorf(svn.ErrCodeFSNoSuchRevision, "no such revision %d", peg)
	}
	rp := a.reposPath(p)
	hist := history(all, rp, peg)
	locs := make(map[svn.Revnum]string)
	for _, rev := range revs {
		if rev < 0 || rev > youngest {
			continue
		}
		if rev > peg {
			// The node must still be at the same place.
			for _, seg := range history(all, rp, rev) {
				if !seg.Gap && seg.Path == rp && seg.Start <= peg && peg <= seg.End {
					locs[rev] = "/" + rp
				}
			}
			continue
		}
		for _, seg := range hist {
			if !seg.Gap && seg.Start <= rev && rev <= seg.End && a.r.readable(a.user, seg.Path) {
				locs[rev] = "/" + seg.Path
			}
		}
	}
	return locs, nil
}
