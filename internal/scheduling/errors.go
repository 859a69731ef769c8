package scheduling

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error taxonomy. Every error that leaves the
// engine carries exactly one Kind; raw storage errors are wrapped as
// KindInternal before crossing the boundary.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindForbidden           Kind = "FORBIDDEN"
	KindConflict            Kind = "CONFLICT"
	KindSlotUnavailable     Kind = "SLOT_UNAVAILABLE"
	KindOutsideAvailability Kind = "OUTSIDE_AVAILABILITY"
	KindInvalidState        Kind = "INVALID_STATE"
	KindInternal            Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
	// Policy is set on override-required failures so callers can render an
	// actionable message rather than a generic one.
	Policy    *PolicyDecision
	Conflicts []ConflictDescriptor
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets callers match on kind with errors.Is(err, &Error{Kind: KindConflict}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts a lower-layer failure into an engine error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: err}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PolicyOf returns the attached policy decision, if any.
func PolicyOf(err error) *PolicyDecision {
	var e *Error
	if errors.As(err, &e) {
		return e.Policy
	}
	return nil
}
