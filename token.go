package svn

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

type TokenType int

const (
	// ErrorToken means that an error occurred during tokenization.
	ErrorToken TokenType = iota
	WordToken
	NumberToken
	StringToken
	LeftParenToken
	RightParenToken
)

// MaxStringLength limits the size of a single string token.
// Longer strings are treated as a protocol error instead of being allocated.
const MaxStringLength = 1 << 30

// stringChunk is how much of a string is allocated ahead of reading it,
// so that a bogus length costs no more than what the peer really sends.
const stringChunk = 64 << 10

// Byte classes of the protocol syntax.
const (
	classSpace uint8 = 1 << iota
	classLetter
	classDigit
)

var byteClass = func() (c [256]uint8) {
	for _, b := range []byte(" \t\n\v\f\r") {
		c[b] = classSpace
	}
	for b := 'a'; b <= 'z'; b++ {
		c[b] = classLetter
		c[b-'a'+'A'] = classLetter
	}
	for b := '0'; b <= '9'; b++ {
		c[b] = classDigit
	}
	return c
}()

func isspace(b byte) bool { return byteClass[b] == classSpace }
func isalpha(b byte) bool { return byteClass[b] == classLetter }
func isnum(b byte) bool   { return byteClass[b] == classDigit }

// isword reports whether b may follow the first letter of a word.
func isword(b byte) bool {
	return byteClass[b]&(classLetter|classDigit) != 0 || b == '-'
}

// A Tokenizer splits a protocol stream into tokens.  Every token must be
// followed by white space.
type Tokenizer struct {
	r      *bufio.Reader
	token  Token
	err    error
	offset int64
}

type Token struct {
	Type   TokenType
	Word   string
	Number uint64
	Octets []byte
}

// NewTokenizer returns a new SVN Tokenizer for the given Reader.
func NewTokenizer(r io.Reader) *Tokenizer {
	return &Tokenizer{r: bufio.NewReader(r)}
}

// next returns the next byte, or 0 once the stream failed.
func (t *Tokenizer) next() byte {
	if t.err != nil {
		return 0
	}
	b, err := t.r.ReadByte()
	if err != nil {
		t.err = err
		return 0
	}
	t.offset++
	return b
}

// syntaxError stops the tokenizer with a malformed data error.
func (t *Tokenizer) syntaxError(format string, a ...any) bool {
	t.token.Type = ErrorToken
	t.err = Errorf(ErrCodeRASvnMalformedData, "syntax error at byte %d: "+format, append([]any{t.offset}, a...)...)
	return false
}

// Scan advances to the next token.  It returns false at the end of the
// stream or on error; Err tells them apart.
func (t *Tokenizer) Scan() bool {
	if t.err != nil {
		return false
	}
	t.token = Token{Type: ErrorToken}
	b := t.next()
	for t.err == nil && isspace(b) {
		b = t.next()
	}
	if t.err != nil {
		return false
	}

	switch {
	case isnum(b):
		b = t.scanNumber(b)
	case b == '(':
		t.token.Type = LeftParenToken
		b = t.next()
	case b == ')':
		t.token.Type = RightParenToken
		b = t.next()
	case isalpha(b):
		b = t.scanWord(b)
	default:
		return t.syntaxError("unexpected %q", b)
	}

	if t.token.Type == ErrorToken {
		return false
	}
	if t.err != nil {
		if t.err == io.EOF {
			t.err = io.ErrUnexpectedEOF
		}
		t.token.Type = ErrorToken
		return false
	}
	if !isspace(b) {
		return t.syntaxError("expected space after %q", t.token)
	}
	return true
}

// scanNumber reads a number, or a string if the number is followed by a
// colon, and returns the byte after it.
func (t *Tokenizer) scanNumber(b byte) byte {
	var n uint64
	for ; t.err == nil && isnum(b); b = t.next() {
		d := uint64(b - '0')
		if n > (1<<64-1-d)/10 {
			t.syntaxError("number too large")
			return 0
		}
		n = n*10 + d
	}
	if b != ':' {
		t.token.Type = NumberToken
		t.token.Number = n
		return b
	}
	if n > MaxStringLength {
		t.syntaxError("string of %d bytes is too long", n)
		return 0
	}
	octets, err := t.readString(int64(n))
	if err != nil {
		t.err = err
		return 0
	}
	t.token.Type = StringToken
	t.token.Octets = octets
	return t.next()
}

// readString reads n bytes, allocating them as they arrive.
func (t *Tokenizer) readString(n int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(n, stringChunk)))
	m, err := io.CopyN(&buf, t.r, n)
	t.offset += m
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return buf.Bytes(), err
}

func (t *Tokenizer) scanWord(b byte) byte {
	word := []byte{b}
	for b = t.next(); t.err == nil && isword(b); b = t.next() {
		word = append(word, b)
	}
	t.token.Type = WordToken
	t.token.Word = string(word)
	return b
}

func (t *Tokenizer) Token() Token {
	return t.token
}

// Err returns the error that stopped the tokenizer: io.EOF at the end of
// the stream, io.ErrUnexpectedEOF inside a token, or a malformed data error.
func (t *Tokenizer) Err() error {
	return t.err
}

func (t Token) String() string {
	switch t.Type {
	case WordToken:
		return t.Word
	case NumberToken:
		return strconv.FormatUint(t.Number, 10)
	case StringToken:
		return strconv.Itoa(len(t.Octets)) + ":" + string(t.Octets)
	case LeftParenToken:
		return "("
	case RightParenToken:
		return ")"
	}
	return "**ERROR**"
}
