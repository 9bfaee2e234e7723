package delta

import (
	"bytes"
	"compress/zlib"
	"io"

	svn "github.com/cespedes/svnra"
)

const maxEncodedIntLen = 10

// minCompressSize is the smallest section worth compressing in svndiff1.
const minCompressSize = 512

// Header returns the svndiff header for version 0 or 1.
func Header(version int) []byte {
	return []byte{'S', 'V', 'N', byte(version)}
}

func appendInt(b []byte, n uint64) []byte {
	var tmp [maxEncodedIntLen]byte
	i := len(tmp) - 1
	tmp[i] = byte(n & 0x7f)
	for n >>= 7; n > 0; n >>= 7 {
		i--
		tmp[i] = byte(n&0x7f) | 0x80
	}
	return append(b, tmp[i:]...)
}

// readInt decodes a variable-length integer from b, returning the value
// and the number of bytes used, or n == 0 if b holds an incomplete integer.
func readInt(b []byte) (v uint64, n int, err error) {
	for n < len(b) {
		if n == maxEncodedIntLen {
			return 0, 0, svn.Errorf(svn.ErrCodeSvndiffCorruptWin, "integer too long")
		}
		c := b[n]
		n++
		v = v<<7 | uint64(c&0x7f)
		if c&0x80 == 0 {
			return v, n, nil
		}
	}
	return 0, 0, nil
}

func appendOp(b []byte, op Op) []byte {
	if op.Length > 0 && op.Length < 0x40 {
		b = append(b, byte(op.Action)<<6|byte(op.Length))
	} else {
		b = append(b, byte(op.Action)<<6)
		b = appendInt(b, uint64(op.Length))
	}
	if op.Action != New {
		b = appendInt(b, uint64(op.Offset))
	}
	return b
}

// compress encodes a section for svndiff1: its original length followed by
// the zlib stream, or by the raw bytes when compression does not help.
func compress(data []byte) []byte {
	out := appendInt(nil, uint64(len(data)))
	if len(data) >= minCompressSize {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		zw.Write(data)
		zw.Close()
		if buf.Len() < len(data) {
			return append(out, buf.Bytes()...)
		}
	}
	return append(out, data...)
}

func decompress(section []byte) ([]byte, error) {
	orig, n, err := readInt(section)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, svn.Errorf(svn.ErrCodeSvndiffCompressed, "truncated section length")
	}
	rest := section[n:]
	if uint64(len(rest)) == orig {
		return rest, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeSvndiffCompressed, "invalid compressed section")
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, int64(orig)+1))
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeSvndiffCompressed, "invalid compressed section")
	}
	if uint64(len(data)) != orig {
		return nil, svn.Errorf(svn.ErrCodeSvndiffCompressed, "section decompressed to %d bytes instead of %d", len(data), orig)
	}
	return data, nil
}

// MarshalWindow encodes w in svndiff version 0 or 1, without the header.
func MarshalWindow(w *Window, version int) []byte {
	var instr []byte
	for _, op := range w.Ops {
		instr = appendOp(instr, op)
	}
	newData := w.NewData
	if version == 1 {
		instr = compress(instr)
		newData = compress(newData)
	}
	b := appendInt(nil, uint64(w.SourceOffset))
	b = appendInt(b, uint64(w.SourceLen))
	b = appendInt(b, uint64(w.TargetLen))
	b = appendInt(b, uint64(len(instr)))
	b = appendInt(b, uint64(len(newData)))
	b = append(b, instr...)
	return append(b, newData...)
}

// Encoder writes windows as an svndiff stream.
type Encoder struct {
	w           io.Writer
	version     int
	wroteHeader bool
}

// NewEncoder returns an Encoder writing svndiff version 0 or 1 to w.
func NewEncoder(w io.Writer, version int) *Encoder {
	return &Encoder{w: w, version: version}
}

// Encode writes w, preceded by the header on the first call.
// A nil window only makes sure the header has been written.
func (e *Encoder) Encode(w *Window) error {
	if !e.wroteHeader {
		if _, err := e.w.Write(Header(e.version)); err != nil {
			return err
		}
		e.wroteHeader = true
	}
	if w == nil {
		return nil
	}
	_, err := e.w.Write(MarshalWindow(w, e.version))
	return err
}

// Decoder parses an svndiff stream written to it in arbitrary chunks,
// calling a WindowHandler for every complete window.
type Decoder struct {
	handler WindowHandler
	buf     []byte
	version int
	started bool
}

// NewDecoder returns a Decoder delivering windows to h.
// It never calls h with nil; that is left to the caller.
func NewDecoder(h WindowHandler) *Decoder {
	return &Decoder{handler: h, version: -1}
}

// Write consumes p and delivers every window completed by it.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	if !d.started {
		if len(d.buf) < 4 {
			return len(p), nil
		}
		if !bytes.Equal(d.buf[:3], []byte("SVN")) || d.buf[3] > 1 {
			return 0, svn.Errorf(svn.ErrCodeSvndiffInvalidHead, "svndiff has invalid header")
		}
		d.version = int(d.buf[3])
		d.buf = d.buf[4:]
		d.started = true
	}
	for {
		w, n, err := d.parseWindow(d.buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
		d.buf = d.buf[n:]
		if err := d.handler(w); err != nil {
			return 0, err
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(p), nil
}

// Close reports an error if the stream ended in the middle of a window.
func (d *Decoder) Close() error {
	if len(d.buf) > 0 {
		return svn.Errorf(svn.ErrCodeSvndiffUnexpectEnd, "unexpected end of svndiff input")
	}
	return nil
}

// parseWindow decodes one window from b.  It returns n == 0 if b does not
// hold a complete window yet.
func (d *Decoder) parseWindow(b []byte) (*Window, int, error) {
	var header [5]uint64
	pos := 0
	for i := range header {
		v, n, err := readInt(b[pos:])
		if err != nil || n == 0 {
			return nil, 0, err
		}
		header[i] = v
		pos += n
	}
	sviewOffset, sviewLen, tviewLen, instrLen, newLen := header[0], header[1], header[2], header[3], header[4]
	if tviewLen > 64*WindowSize || instrLen > 64*WindowSize || newLen > 64*WindowSize || sviewLen > 1<<40 {
		return nil, 0, svn.Errorf(svn.ErrCodeSvndiffCorruptWin, "window sizes out of range")
	}
	if uint64(len(b)-pos) < instrLen+newLen {
		return nil, 0, nil
	}
	instr := b[pos : pos+int(instrLen)]
	pos += int(instrLen)
	newData := b[pos : pos+int(newLen)]
	pos += int(newLen)

	if d.version == 1 {
		var err error
		if instr, err = decompress(instr); err != nil {
			return nil, 0, err
		}
		if newData, err = decompress(newData); err != nil {
			return nil, 0, err
		}
	}

	w := &Window{
		SourceOffset: int64(sviewOffset),
		SourceLen:    int(sviewLen),
		TargetLen:    int(tviewLen),
		NewData:      newData,
	}
	newOffset := 0
	for len(instr) > 0 {
		action := Action(instr[0] >> 6)
		length := uint64(instr[0] & 0x3f)
		instr = instr[1:]
		if action > New {
			return nil, 0, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "invalid instruction code")
		}
		if length == 0 {
			v, n, err := readInt(instr)
			if err != nil {
				return nil, 0, err
			}
			if n == 0 {
				return nil, 0, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "truncated instruction")
			}
			length, instr = v, instr[n:]
		}
		op := Op{Action: action, Length: int(length)}
		if action == New {
			op.Offset = newOffset
			newOffset += op.Length
		} else {
			v, n, err := readInt(instr)
			if err != nil {
				return nil, 0, err
			}
			if n == 0 {
				return nil, 0, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "truncated instruction")
			}
			op.Offset, instr = int(v), instr[n:]
		}
		w.Ops = append(w.Ops, op)
	}
	if newOffset > len(newData) {
		return nil, 0, svn.Errorf(svn.ErrCodeSvndiffInvalidOps, "instructions use %d bytes of %d new data", newOffset, len(newData))
	}
	return w, pos, nil
}
