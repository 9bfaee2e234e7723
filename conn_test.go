package svn

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func stringReader(s string) io.Reader {
	return strings.NewReader(s)
}

func TestConnWriteCommand(t *testing.T) {
	var out bytes.Buffer
	c := NewConn(stringReader(""), &out)
	err := c.WriteCommand("check-path", []byte("trunk/a"), Revnum(3).Opt())
	assert.Equal(t, err, nil)
	err = c.WriteSuccess()
	assert.Equal(t, err, nil)
	assert.Equal(t, out.String(), "( check-path ( 7:trunk/a ( 3 ) ) ) ( success ( ) ) ")
}

func TestConnReadCommand(t *testing.T) {
	c := NewConn(stringReader("( get-latest-rev ( ) ) ( open-root ( ( 4 ) 2:d1 ) ) "), io.Discard)
	cmd, err := c.ReadCommand()
	assert.Equal(t, err, nil)
	assert.Equal(t, cmd.Name, "get-latest-rev")
	assert.Equal(t, len(cmd.Params), 0)

	cmd, err = c.ReadCommand()
	assert.Equal(t, err, nil)
	var args struct {
		Rev   []Revnum
		Token string
	}
	assert.Equal(t, cmd.Args(&args), nil)
	assert.Equal(t, OptRevnum(args.Rev), Revnum(4))
	assert.Equal(t, args.Token, "d1")

	_, err = c.ReadCommand()
	assert.Equal(t, ErrorCode(err), ErrCodeRASvnConnClosed)
}

func TestConnFailureRoundTrip(t *testing.T) {
	inner := Errorf(ErrCodeFSNotFound, "path %q not found", "trunk/x")
	outer := Wrap(inner, ErrCodeRASvnCmdErr, "check-path failed")

	var buf bytes.Buffer
	w := NewConn(stringReader(""), &buf)
	assert.Equal(t, w.WriteFailure(outer), nil)

	r := NewConn(&buf, io.Discard)
	err := r.ReadResponse(nil)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, ErrorCode(err), ErrCodeRASvnCmdErr)
	assert.Equal(t, errors.Is(err, &Error{AprErr: ErrCodeFSNotFound}), true)

	var e *Error
	assert.Equal(t, errors.As(err, &e), true)
	assert.Equal(t, e.Message, "check-path failed")
	assert.Equal(t, e.File, "conn_test.go")
	cause, ok := e.Cause.(*Error)
	assert.Equal(t, ok, true)
	assert.Equal(t, cause.Message, `path "trunk/x" not found`)
}

func TestConnReadResponse(t *testing.T) {
	c := NewConn(stringReader("( success ( 36:7d2a6b4e-1b1f-4c6a-9a51-f1e3a1c8d4b2 ( 12 ) ) ) ( bogus ( ) ) "), io.Discard)
	var resp struct {
		UUID string
		Rev  []Revnum
	}
	assert.Equal(t, c.ReadResponse(&resp), nil)
	assert.Equal(t, resp.UUID, "7d2a6b4e-1b1f-4c6a-9a51-f1e3a1c8d4b2")
	assert.Equal(t, OptRevnum(resp.Rev), Revnum(12))

	err := c.ReadResponse(nil)
	assert.Equal(t, ErrorCode(err), ErrCodeRASvnMalformedData)
}

func TestCallRecoversPanic(t *testing.T) {
	err := Call("editor callback", func() error {
		panic("boom")
	})
	assert.Equal(t, ErrorCode(err), ErrCodeCallbackFailed)

	plain := errors.New("plain")
	err = Call("cb", func() error { return plain })
	assert.Equal(t, errors.Is(err, plain), true)
	assert.Equal(t, ErrorCode(err), ErrCodeCallbackFailed)

	coded := Errorf(ErrCodeCancelled, "stop")
	err = Call("cb", func() error { return coded })
	assert.Equal(t, err, error(coded))
}
