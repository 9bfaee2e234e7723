package svn

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Revnum is a revision number.  Valid revisions are non-negative;
// InvalidRevnum stands for "no revision" and is sent on the wire as an
// empty optional tuple.
type Revnum int64

const InvalidRevnum Revnum = -1

// Valid reports whether r is a real revision number.
func (r Revnum) Valid() bool {
	return r >= 0
}

func (r Revnum) String() string {
	if !r.Valid() {
		return "(invalid)"
	}
	return strconv.FormatInt(int64(r), 10)
}

// Opt returns the optional-tuple form of r: ( ) or ( r ).
func (r Revnum) Opt() []any {
	if !r.Valid() {
		return []any{}
	}
	return []any{int64(r)}
}

// OptRevnum returns the revision held in an optional tuple read as a slice.
func OptRevnum(v []Revnum) Revnum {
	if len(v) == 0 {
		return InvalidRevnum
	}
	return v[0]
}

// OptString returns the optional-tuple form of s: ( ) when s is empty.
func OptString(s string) []any {
	if s == "" {
		return []any{}
	}
	return []any{[]byte(s)}
}

// ReposInfo contains the general information in a repo.
// It is filled after the initial connection.
type ReposInfo struct {
	UUID         string
	URL          string
	Capabilities []string
}

// RevisionKind says how a Revision designates a revision number.
type RevisionKind int

const (
	RevisionUnspecified RevisionKind = iota
	RevisionNumber
	RevisionDate
	RevisionHead
	// The following refer to a working copy.
	RevisionCommitted
	RevisionPrevious
	RevisionBase
	RevisionWorking
)

var revisionWords = map[string]RevisionKind{
	"HEAD":      RevisionHead,
	"BASE":      RevisionBase,
	"COMMITTED": RevisionCommitted,
	"PREV":      RevisionPrevious,
}

// Revision is a user-level revision specifier, as accepted by commands.
type Revision struct {
	Kind   RevisionKind
	Number Revnum
	Date   time.Time
}

// Head designates the youngest revision.
var Head = Revision{Kind: RevisionHead}

// Number returns a Revision for n.
func Number(n Revnum) Revision {
	return Revision{Kind: RevisionNumber, Number: n}
}

// ParseRevision parses "HEAD", a number or "{date}".
func ParseRevision(s string) (Revision, error) {
	switch {
	case s == "":
		return Revision{}, nil
	case revisionWords[strings.ToUpper(s)] != RevisionUnspecified:
		return Revision{Kind: revisionWords[strings.ToUpper(s)]}, nil
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		d := s[1 : len(s)-1]
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
			if t, err := time.ParseInLocation(layout, d, time.UTC); err == nil {
				return Revision{Kind: RevisionDate, Date: t}, nil
			}
		}
		return Revision{}, Errorf(ErrCodeClientBadRevision, "syntax error in revision date %q", d)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return Revision{}, Errorf(ErrCodeClientBadRevision, "syntax error in revision argument %q", s)
	}
	return Number(Revnum(n)), nil
}

func (r Revision) String() string {
	switch r.Kind {
	case RevisionNumber:
		return r.Number.String()
	case RevisionDate:
		return "{" + r.Date.Format(time.RFC3339) + "}"
	case RevisionHead:
		return "HEAD"
	case RevisionCommitted:
		return "COMMITTED"
	case RevisionPrevious:
		return "PREV"
	case RevisionBase:
		return "BASE"
	case RevisionWorking:
		return "WORKING"
	}
	return "unspecified"
}

// Depth limits how far an operation recurses into a tree.
type Depth int

const (
	DepthUnknown    Depth = -2
	DepthExclude    Depth = -1
	DepthEmpty      Depth = 0
	DepthFiles      Depth = 1
	DepthImmediates Depth = 2
	DepthInfinity   Depth = 3
)

var depthWords = map[Depth]string{
	DepthUnknown:    "unknown",
	DepthExclude:    "exclude",
	DepthEmpty:      "empty",
	DepthFiles:      "files",
	DepthImmediates: "immediates",
	DepthInfinity:   "infinity",
}

func (d Depth) String() string {
	if w, ok := depthWords[d]; ok {
		return w
	}
	return fmt.Sprintf("depth(%d)", int(d))
}

// ParseDepth converts a wire word into a Depth.
func ParseDepth(word string) (Depth, error) {
	for d, w := range depthWords {
		if w == word {
			return d, nil
		}
	}
	return DepthUnknown, Errorf(ErrCodeIncorrectParams, "unknown depth %q", word)
}

// DepthFromRecurse returns the depth implied by the old "recurse" flag.
func DepthFromRecurse(recurse bool) Depth {
	if recurse {
		return DepthInfinity
	}
	return DepthFiles
}

// NodeKind is the kind of a node in the repository.
type NodeKind int

const (
	NodeNone NodeKind = iota
	NodeFile
	NodeDir
	NodeUnknown
	NodeSymlink
)

var nodeKindWords = []string{"none", "file", "dir", "unknown", "symlink"}

func (k NodeKind) String() string {
	if k >= 0 && int(k) < len(nodeKindWords) {
		return nodeKindWords[k]
	}
	return "unknown"
}

// ParseNodeKind converts a wire word into a NodeKind.
func ParseNodeKind(word string) (NodeKind, error) {
	i := slices.Index(nodeKindWords, word)
	if i < 0 {
		return NodeUnknown, Errorf(ErrCodeRASvnMalformedData, "unknown node kind %q", word)
	}
	return NodeKind(i), nil
}

// Dirent describes a directory entry.
type Dirent struct {
	Path        string
	Kind        NodeKind
	Size        uint64
	HasProps    bool
	CreatedRev  Revnum
	CreatedDate time.Time
	LastAuthor  string
}

// Lock is a lock held on a path.  Expires is zero for locks that never expire.
type Lock struct {
	Path    string
	Token   string
	Owner   string
	Comment string
	Created time.Time
	Expires time.Time
}

// CommitInfo describes a revision created by a commit.
type CommitInfo struct {
	Revision Revnum
	Date     time.Time
	Author   string
	// PostCommitErr holds the post-commit hook failure, if any.
	// The commit itself succeeded.
	PostCommitErr string
}

// LocationSegment is a range of revisions during which a node lived at
// Path, relative to the repository root ("" is the root itself).  Gap
// segments cover revisions in which the node did not exist, and have no
// Path.
type LocationSegment struct {
	Start Revnum
	End   Revnum
	Path  string
	Gap   bool
}

// Props maps property names to values.
type Props map[string][]byte

// Clone returns a deep copy of p.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	c := make(Props, len(p))
	for k, v := range p {
		c[k] = slices.Clone(v)
	}
	return c
}

// Names returns the property names, sorted.
func (p Props) Names() []string {
	return slices.Sorted(maps.Keys(p))
}

// Revision property names.
const (
	PropRevisionAuthor = "svn:author"
	PropRevisionDate   = "svn:date"
	PropRevisionLog    = "svn:log"
)

// NativeEOL is the line ending used for svn:eol-style=native files.
type NativeEOL int

const (
	EOLStandard NativeEOL = iota
	EOLLF
	EOLCR
	EOLCRLF
)

// ParseNativeEOL accepts the configuration values "", "LF", "CR" and "CRLF".
func ParseNativeEOL(s string) (NativeEOL, error) {
	switch strings.ToUpper(s) {
	case "":
		return EOLStandard, nil
	case "LF":
		return EOLLF, nil
	case "CR":
		return EOLCR, nil
	case "CRLF":
		return EOLCRLF, nil
	}
	return EOLStandard, Errorf(ErrCodeIncorrectParams, "unrecognized native EOL style %q", s)
}

// Bytes returns the line ending itself.
func (e NativeEOL) Bytes() []byte {
	switch e {
	case EOLCR:
		return []byte("\r")
	case EOLCRLF:
		return []byte("\r\n")
	}
	return []byte("\n")
}

const dateLayout = "2006-01-02T15:04:05.000000Z"

// FormatDate formats t the way Subversion sends dates.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ParseDate parses a date sent by Subversion.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, Errorf(ErrCodeRASvnMalformedData, "malformed date %q", s)
	}
	return t, nil
}
