package delta

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
)

// SendStream reads r to the end and sends it to h as windows of new data,
// followed by the terminating nil.  It returns the hex MD5 of the text.
func SendStream(r io.Reader, h WindowHandler) (string, error) {
	sum := md5.New()
	buf := make([]byte, WindowSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum.Write(buf[:n])
			w := &Window{
				TargetLen: n,
				Ops:       []Op{{Action: New, Length: n}},
				NewData:   buf[:n],
			}
			if herr := h(w); herr != nil {
				return "", herr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	if err := h(nil); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Send sends the windows turning source into target to h, followed by
// the terminating nil, and returns the hex MD5 of target.
func Send(source, target []byte, h WindowHandler) (string, error) {
	for _, w := range Diff(source, target) {
		if err := h(w); err != nil {
			return "", err
		}
	}
	if err := h(nil); err != nil {
		return "", err
	}
	return Checksum(target), nil
}

// Diff returns windows that turn source into target.  Each window reuses
// the common prefix and suffix of the matching source span and carries
// the rest as new data.
func Diff(source, target []byte) []*Window {
	var windows []*Window
	for off := 0; off < len(target); off += WindowSize {
		tgt := target[off:min(off+WindowSize, len(target))]
		var src []byte
		if off < len(source) {
			src = source[off:min(off+WindowSize, len(source))]
		}
		windows = append(windows, diffWindow(int64(off), src, tgt))
	}
	return windows
}

func diffWindow(srcOffset int64, src, tgt []byte) *Window {
	prefix := 0
	for prefix < len(src) && prefix < len(tgt) && src[prefix] == tgt[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(src)-prefix && suffix < len(tgt)-prefix &&
		src[len(src)-1-suffix] == tgt[len(tgt)-1-suffix] {
		suffix++
	}
	w := &Window{
		SourceOffset: srcOffset,
		SourceLen:    len(src),
		TargetLen:    len(tgt),
	}
	if prefix > 0 {
		w.Ops = append(w.Ops, Op{Action: Source, Offset: 0, Length: prefix})
	}
	if middle := tgt[prefix : len(tgt)-suffix]; len(middle) > 0 {
		w.NewData = bytes.Clone(middle)
		w.Ops = append(w.Ops, Op{Action: New, Offset: 0, Length: len(middle)})
	}
	if suffix > 0 {
		w.Ops = append(w.Ops, Op{Action: Source, Offset: len(src) - suffix, Length: suffix})
	}
	if len(src) == 0 {
		w.SourceOffset = 0
	}
	return w
}
