package delta

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"

	svn "github.com/cespedes/svnra"
)

// Checksum returns the hex MD5 digest Subversion uses for file texts.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Applier rebuilds a target text from a source text and a window stream.
type Applier struct {
	source  []byte
	target  io.Writer
	hash    hash.Hash
	lastEnd int64
	done    bool
}

// NewApplier returns an Applier reading views from source and writing
// the rebuilt text to target.
func NewApplier(source []byte, target io.Writer) *Applier {
	return &Applier{
		source: source,
		target: target,
		hash:   md5.New(),
	}
}

// Handle is a WindowHandler.
func (a *Applier) Handle(w *Window) error {
	if a.done {
		return svn.Errorf(svn.ErrCodeIncorrectParams, "window after the end of the delta stream")
	}
	if w == nil {
		a.done = true
		return nil
	}
	end := w.SourceOffset + int64(w.SourceLen)
	if w.SourceOffset < 0 || end > int64(len(a.source)) {
		return svn.Errorf(svn.ErrCodeSvndiffCorruptWin, "source view [%d,%d) beyond source of %d bytes", w.SourceOffset, end, len(a.source))
	}
	if w.SourceLen > 0 && (w.SourceOffset < 0 || end < a.lastEnd) {
		return svn.Errorf(svn.ErrCodeSvndiffBackwardView, "source view slides backwards")
	}
	if w.SourceLen > 0 {
		a.lastEnd = end
	}
	tview, err := w.Apply(a.source[w.SourceOffset:end])
	if err != nil {
		return err
	}
	a.hash.Write(tview)
	if _, err := a.target.Write(tview); err != nil {
		return svn.Wrap(err, svn.ErrCodeIncorrectParams, "writing delta target")
	}
	return nil
}

// Done reports whether the terminating nil window was handled.
func (a *Applier) Done() bool {
	return a.done
}

// Checksum returns the hex MD5 digest of the text written so far.
func (a *Applier) Checksum() string {
	return hex.EncodeToString(a.hash.Sum(nil))
}

// Verify compares the rebuilt text with an expected checksum.
// An empty expected checksum always matches.
func (a *Applier) Verify(expected string) error {
	if expected == "" {
		return nil
	}
	if got := a.Checksum(); got != expected {
		return svn.Errorf(svn.ErrCodeChecksumMismatch, "checksum mismatch: expected %s, actual %s", expected, got)
	}
	return nil
}
