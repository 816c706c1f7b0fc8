// Package apperr defines the closed set of error kinds that cross component
// boundaries, and the propagation rule for which ones are retryable.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the error handling design.
type Kind string

const (
	KindAuth       Kind = "auth"       // bad signature, bad JWT — 401/403, never retried
	KindValidation Kind = "validation" // unparsable payload, missing tenant — 400
	KindNotFound   Kind = "not_found"  // unknown tenant/channel/rule — 404
	KindConflict   Kind = "conflict"   // idempotency collision with different payload — 409
	KindTransient  Kind = "transient"  // timeouts, 5xx, connection reset — retried, then 503
	KindPermanent  Kind = "permanent"  // quota exhausted, unsupported format — terminal
	KindDegraded   Kind = "degraded"   // embedding failed, retrieval empty — logged, continues
)

// Error is the single error type used across component boundaries.
type Error struct {
	Kind          Kind
	Code          string
	Message       string
	CorrelationID string
	Retryable     bool
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on Kind so callers can do
// errors.Is(err, &apperr.Error{Kind: apperr.KindTransient}).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, retryable bool, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

func Auth(code, format string, args ...any) *Error       { return newErr(KindAuth, false, code, format, args...) }
func Validation(code, format string, args ...any) *Error { return newErr(KindValidation, false, code, format, args...) }
func NotFound(code, format string, args ...any) *Error   { return newErr(KindNotFound, false, code, format, args...) }
func Conflict(code, format string, args ...any) *Error   { return newErr(KindConflict, false, code, format, args...) }
func Transient(code, format string, args ...any) *Error  { return newErr(KindTransient, true, code, format, args...) }
func Permanent(code, format string, args ...any) *Error  { return newErr(KindPermanent, false, code, format, args...) }
func Degraded(code, format string, args ...any) *Error   { return newErr(KindDegraded, false, code, format, args...) }

// Wrap attaches a kind/code to an underlying error, preserving it for errors.Unwrap.
func Wrap(kind Kind, retryable bool, code string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: cause.Error(), Retryable: retryable, cause: cause}
}

// OfKind reports whether err carries the given Kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether err crosses a component boundary as retryable.
// Only KindTransient is retryable per the propagation rule; everything else
// is terminal to the immediate caller.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CorrelationID extracts the correlation id carried by err, if any.
func CorrelationID(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.CorrelationID
	}
	return ""
}

// WithCorrelationID returns a copy of e carrying the given correlation id.
func (e *Error) WithCorrelationID(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}
