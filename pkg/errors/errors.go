// Package errors implements the store's typed error kinds and error-chain
// mechanism. Operations return a plain Go error satisfying this package's
// Error type, and a context-carried Chain accumulates the errors raised
// during an operation sequence for callers that want the full trail.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies the error categories the store distinguishes.
type Kind string

const (
	NotFound        Kind = "not_found"
	TypeMismatch    Kind = "type_mismatch"
	InvalidState    Kind = "invalid_state"
	Conflict        Kind = "conflict"
	InvalidArgument Kind = "invalid_argument"
	Internal        Kind = "internal"
	BackendError    Kind = "backend_error"
)

// Error is the typed error every public operation in this module returns.
// It carries a Kind, a message, an originating file/line, an optional
// originator tag naming the mount whose boundary the error crossed, and a
// wrapped cause.
type Error struct {
	Kind       Kind
	Message    string
	File       string
	Line       int
	Originator string
	Cause      error
}

func (e *Error) Error() string {
	if e.Originator != "" {
		return fmt.Sprintf("%s: %s [%s] (%s:%d)", e.Kind, e.Message, e.Originator, e.File, e.Line)
	}
	return fmt.Sprintf("%s: %s (%s:%d)", e.Kind, e.Message, e.File, e.Line)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Kind sentinel produced by
// New/Newf with no cause, and against other *Error values by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a new *Error of the given kind with caller location info.
func New(kind Kind, file string, line int, message string) *Error {
	return &Error{Kind: kind, Message: message, File: file, Line: line}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, file string, line int, format string, args ...interface{}) *Error {
	return New(kind, file, line, fmt.Sprintf(format, args...))
}

// Wrap annotates cause with a kind and message, preserving it for Unwrap.
func Wrap(kind Kind, file string, line int, cause error, message string) *Error {
	e := New(kind, file, line, message)
	e.Cause = cause
	return e
}

// WithOriginator tags an error with the mount identity that produced it, so
// user code crossing a dispatcher boundary can identify the failing mount.
func (e *Error) WithOriginator(originator string) *Error {
	e2 := *e
	e2.Originator = originator
	return &e2
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is of the given kind, looking through wrapped
// causes.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ---------------------------------------------------------------------------
// Chain — the "last error" accumulator
// ---------------------------------------------------------------------------

// Chain accumulates errors raised during an operation sequence. It is
// threaded the same way pkg/runtime threads scope/owner state: via
// context.Context, or directly when a caller doesn't have one in hand.
type Chain struct {
	errs []*Error
}

// NewChain creates an empty error chain.
func NewChain() *Chain { return &Chain{} }

// Raise appends err to the chain and returns it unchanged, so call sites can
// write `return nil, chain.Raise(err)`.
func (c *Chain) Raise(err *Error) *Error {
	c.errs = append(c.errs, err)
	return err
}

// Last returns the most recently raised error, or nil.
func (c *Chain) Last() *Error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs[len(c.errs)-1]
}

// All returns every error raised on this chain, oldest first.
func (c *Chain) All() []*Error { return append([]*Error(nil), c.errs...) }

// Clear empties the chain.
func (c *Chain) Clear() { c.errs = nil }

// Ok logs (via the caller-supplied sink) and swallows err if non-nil, the
// log-and-continue escalation policy. Returns whether an error was
// present.
func Ok(sink func(*Error), err *Error) bool {
	if err == nil {
		return true
	}
	if sink != nil {
		sink(err)
	}
	return false
}

// Trace is an alias of Ok kept distinct for call-site clarity where the
// intent is "log at trace level and continue" rather than "treat as ok".
func Trace(sink func(*Error), err *Error) bool { return Ok(sink, err) }
