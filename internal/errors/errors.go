// Package errors defines the error taxonomy shared by all orchestration
// services. Every error crossing a service boundary carries one of four
// kinds so the transport layer can map it to a response without inspecting
// messages.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a service error.
type Kind string

const (
	// KindInvalidPolicy marks a request whose flags or operation counts
	// violate the orchestration policy rules. Never retried.
	KindInvalidPolicy Kind = "INVALID_POLICY"

	// KindConflict marks a uniqueness violation in the priority store.
	KindConflict Kind = "CONFLICT"

	// KindResolutionFailed marks a request for which no provider could be
	// found. A non-fatal "no match", not a system error.
	KindResolutionFailed Kind = "RESOLUTION_FAILED"

	// KindInternal marks an unexpected persistence or collaborator failure.
	// Detail stays in the logs; callers see a generic message.
	KindInternal Kind = "INTERNAL"
)

// Error is the concrete type behind every taxonomy error.
type Error struct {
	ErrKind Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// InvalidPolicy creates a policy violation error with the given reason.
func InvalidPolicy(reason string) error {
	return &Error{ErrKind: KindInvalidPolicy, Message: reason}
}

// Conflict creates a uniqueness conflict error naming the offending fields.
func Conflict(format string, args ...any) error {
	return &Error{ErrKind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// ResolutionFailed creates a no-match error.
func ResolutionFailed(reason string) error {
	return &Error{ErrKind: KindResolutionFailed, Message: reason}
}

// Internal wraps an unexpected failure. The caller-visible message is
// generic; the cause is preserved for logging and unwrapping.
func Internal(cause error) error {
	return &Error{ErrKind: KindInternal, Message: "internal server error", cause: cause}
}

// KindOf extracts the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrKind
	}
	return KindInternal
}

// IsInvalidPolicy reports whether err is a policy violation.
func IsInvalidPolicy(err error) bool { return hasKind(err, KindInvalidPolicy) }

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool { return hasKind(err, KindConflict) }

// IsResolutionFailed reports whether err is a no-match result.
func IsResolutionFailed(err error) bool { return hasKind(err, KindResolutionFailed) }

// IsInternal reports whether err is an unexpected failure.
func IsInternal(err error) bool { return hasKind(err, KindInternal) }

func hasKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.ErrKind == kind
}
