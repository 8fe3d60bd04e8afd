// Package errs defines the error kinds shared across the engine. Components
// attach a Kind to errors they originate; callers branch on KindOf instead of
// matching message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers (HTTP layer, tool dispatch, CLI).
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindAlreadyExists  Kind = "already_exists"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidState   Kind = "invalid_state"
	KindScope          Kind = "scope"
	KindRateLimited    Kind = "rate_limited"
	KindTimeout        Kind = "timeout"
	KindExecutorFailed Kind = "executor_failed"
	KindChainFailed    Kind = "chain_failed"
	KindConflict       Kind = "conflict"
	KindUnauthorized   Kind = "unauthorized"
	KindInternal       Kind = "internal"
)

// Error carries a kind plus a human-readable message. The wrapped cause (if
// any) is reachable through errors.Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err. Errors without a kind report
// KindInternal; a nil err reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// NotFound reports whether err is a not_found error.
func NotFound(err error) bool { return IsKind(err, KindNotFound) }

// Conflict reports whether err is a conflict or already_exists error.
func Conflict(err error) bool {
	k := KindOf(err)
	return k == KindConflict || k == KindAlreadyExists
}
