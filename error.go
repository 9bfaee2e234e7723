package svn

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Error codes, as used by Subversion on the wire.
const (
	ErrCodeIncorrectParams     = 200004
	ErrCodeUnsupportedFeature  = 200007
	ErrCodeCallbackFailed      = 200013
	ErrCodeChecksumMismatch    = 200014
	ErrCodeCancelled           = 200015
	ErrCodeMalformedFile       = 200002
	ErrCodeSvndiffInvalidHead  = 185000
	ErrCodeSvndiffCorruptWin   = 185001
	ErrCodeSvndiffBackwardView = 185002
	ErrCodeSvndiffInvalidOps   = 185003
	ErrCodeSvndiffUnexpectEnd  = 185004
	ErrCodeSvndiffCompressed   = 185005

	ErrCodeRAIllegalURL     = 170000
	ErrCodeRANotAuthorized  = 170001
	ErrCodeRANotImplemented = 170003
	ErrCodeRAOutOfDate      = 170004

	ErrCodeFSNoSuchRevision     = 160006
	ErrCodeFSNotFound           = 160013
	ErrCodeFSNotDirectory       = 160016
	ErrCodeFSNotFile            = 160017
	ErrCodeFSAlreadyExists      = 160020
	ErrCodeFSConflict           = 160024
	ErrCodeFSTxnOutOfDate       = 160028
	ErrCodeFSNoUser             = 160034
	ErrCodeFSPathAlreadyLocked  = 160035
	ErrCodeFSPathNotLocked      = 160036
	ErrCodeFSBadLockToken       = 160037
	ErrCodeFSLockOwnerMismatch  = 160039
	ErrCodeFSNoSuchLock         = 160040
	ErrCodeFSOutOfDate          = 160042
	ErrCodeReposPostCommitHook  = 165007
	ErrCodeClientBadRevision    = 195002
	ErrCodeAuthnCredsUnavail    = 215000
	ErrCodeAuthnNoProvider      = 215001
	ErrCodeAuthnFailed          = 215004
	ErrCodeAuthzUnreadable      = 220001
	ErrCodeRASvnCmdErr          = 210000
	ErrCodeRASvnUnknownCmd      = 210001
	ErrCodeRASvnConnClosed      = 210002
	ErrCodeRASvnIOError         = 210003
	ErrCodeRASvnMalformedData   = 210004
	ErrCodeRASvnReposNotFound   = 210005
	ErrCodeRASvnBadVersion      = 210006
	ErrCodeRASvnNoMechanisms    = 210007
	ErrCodeRASvnEditAborted     = 210008
	ErrCodeRASvnConnBusy        = 210011
)

// Error is a Subversion error.  Errors form a chain through Cause,
// outermost first, the same way they travel in a "failure" response.
type Error struct {
	AprErr  int
	Message string
	File    string
	Line    int
	Cause   error `svn:"-"`
}

func (e *Error) Error() string {
	msg := ""
	if e.AprErr != 0 {
		msg = fmt.Sprintf("%d ", e.AprErr)
	}
	msg += e.Message
	if e.File != "" {
		msg += fmt.Sprintf(" (%s line %d)", e.File, e.Line)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same non-zero code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.AprErr != 0 && t.AprErr == e.AprErr
}

// Errorf returns a new Error with the given code, recording the caller's
// position.
func Errorf(code int, format string, a ...any) *Error {
	e := &Error{
		AprErr:  code,
		Message: fmt.Sprintf(format, a...),
	}
	e.File, e.Line = caller(2)
	return e
}

// Wrap returns a new Error with the given code and message whose cause is err.
// It returns nil if err is nil.
func Wrap(err error, code int, format string, a ...any) error {
	if err == nil {
		return nil
	}
	e := &Error{
		AprErr:  code,
		Message: fmt.Sprintf(format, a...),
		Cause:   err,
	}
	e.File, e.Line = caller(2)
	return e
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", 0
	}
	return filepath.Base(file), line
}

// ErrorCode returns the code of the outermost Error in err's chain
// that has one, or 0.
func ErrorCode(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.AprErr != 0 {
			return e.AprErr
		}
		err = e.Cause
	}
	return 0
}

// Chain flattens err into the list of links sent in a "failure" response.
// A link that is not an *Error ends the list, keeping its full text.
func Chain(err error) []Error {
	var chain []Error
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			chain = append(chain, Error{AprErr: ErrorCode(err), Message: err.Error()})
			return chain
		}
		link := *e
		link.Cause = nil
		chain = append(chain, link)
		err = e.Cause
	}
	return chain
}

// Call invokes fn, converting a panic into an error so that a failing
// callback cannot unwind through protocol state.  Errors that are not
// already an *Error are wrapped with ErrCodeCallbackFailed.
func Call(what string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &Error{
				AprErr:  ErrCodeCallbackFailed,
				Message: fmt.Sprintf("%s: panic: %v", what, p),
			}
		}
	}()
	err = fn()
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{
		AprErr:  ErrCodeCallbackFailed,
		Message: what,
		Cause:   err,
	}
}
