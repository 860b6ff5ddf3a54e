package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel errors surfaced by request construction and payload handling.
var (
	// ErrInvalidURL is returned when a router's scheme, host and path do not form an absolute URL.
	ErrInvalidURL = stdErrors.New("invalid request URL")
	// ErrUnsupportedMIMEType is returned when a file extension is not in the MIME table.
	ErrUnsupportedMIMEType = stdErrors.New("unsupported MIME type")
	// ErrNoFileData is returned when a file has neither in-memory bytes nor a readable path.
	ErrNoFileData = stdErrors.New("file has no readable data")
	// ErrTLSRejected is the cause of transport errors raised by the trust evaluator.
	ErrTLSRejected = stdErrors.New("TLS trust evaluation failed")
)

// Error wraps an error with a message and stack trace.
type Error struct {
	msg   string
	err   error
	stack string
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) StackTrace() string {
	return e.stack
}

// Wrap wraps err with msg and stack trace.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{
		msg:   msg,
		err:   err,
		stack: callers(),
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{
		msg:   fmt.Sprintf(format, args...),
		err:   err,
		stack: callers(),
	}
}

// New creates a new error with stack trace.
func New(msg string) error {
	return &Error{
		msg:   msg,
		stack: callers(),
	}
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool     { return stdErrors.Is(err, target) }
func As(err error, target any) bool { return stdErrors.As(err, target) }

// callers returns a formatted stack trace.
func callers() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
