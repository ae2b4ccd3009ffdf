// Package ferrors defines the fabric's typed error taxonomy (spec §7).
//
// Every error the core surfaces across a component boundary is a *Error
// carrying a Kind, so callers can branch on kind with errors.As instead of
// string-matching messages — except Contract8A, whose message must still
// carry the literal "Platform contract §8A" substring because external
// probes match on it directly.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from spec §7.
type Kind string

const (
	// Validation covers a missing required field, unknown intent type, or
	// malformed identifier. Surfaced synchronously; no execution record is
	// created.
	Validation Kind = "validation"
	// Contract8A covers a required dependency (state surface, artifact
	// storage, data steward, file storage) that was never wired. There is
	// no fallback.
	Contract8A Kind = "contract_8a"
	// Authorization covers a boundary contract refusal.
	Authorization Kind = "authorization"
	// HandlerFailed covers a realm handler raising an error. The execution
	// transitions to failed; the error string is recorded; the outbox still
	// drains.
	HandlerFailed Kind = "handler_failed"
	// BackendUnavailable covers a hot or durable backend timeout after
	// bounded retries are exhausted.
	BackendUnavailable Kind = "backend_unavailable"
	// IdempotencyReplay is not a failure: it marks that a prior completion
	// was found for the same idempotency key and is being returned as-is.
	IdempotencyReplay Kind = "idempotency_replay"
	// LifecycleViolation covers an illegal artifact lifecycle transition or
	// version conflict. Rejected synchronously; no state change.
	LifecycleViolation Kind = "lifecycle_violation"
)

// contract8AMarker is the literal substring automated probes match on.
const contract8AMarker = "Platform contract §8A"

// Error is the fabric's structured error type. It implements error and
// Unwrap so errors.Is/errors.As keep working through wrapping, mirroring
// the teacher's ToolError chain shape.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that chains to cause via Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Contract8A constructs the typed "dependency not wired" error. component
// names the missing collaborator (e.g. "state surface", "data steward").
func Contract8A(component string) *Error {
	return &Error{
		Kind:    Contract8A,
		Message: fmt.Sprintf("%s: %s is not wired", contract8AMarker, component),
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, ferrors.New(ferrors.Validation, "")) style checks, or
// more commonly use KindOf below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err, returning ok=false if err is not (or
// does not wrap) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
