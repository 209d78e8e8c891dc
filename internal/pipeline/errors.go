package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Every stage failure wraps exactly one of these, so callers can classify a
// failed conversion with errors.Is.
var (
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrReadFailure         = errors.New("read failure")
	ErrEmptyGeometry       = errors.New("empty geometry")
	ErrInvalidParameters   = errors.New("invalid parameters")
	ErrTessellationFailure = errors.New("tessellation failure")
	ErrWriteFailure        = errors.New("write failure")
)

// Error describes a failed pipeline stage.
type Error struct {
	Kind error  // one of the Err* kinds above
	Op   string // stage that failed, e.g. "load shape"
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error() + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the error kind wrapped by err, or nil if err is not a pipeline error.
func KindOf(err error) error {
	for _, k := range []error{ErrUnsupportedFormat, ErrReadFailure, ErrEmptyGeometry, ErrInvalidParameters, ErrTessellationFailure, ErrWriteFailure} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func errorf(kind error, op, path, format string, args ...any) *Error {
	return newError(kind, op, path, fmt.Errorf(format, args...))
}
