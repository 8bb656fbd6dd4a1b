// Package apperr defines the closed set of error kinds that cross component
// boundaries in nhkrec, mirroring the reason-code pattern the rest of this
// codebase uses for worker failures.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error categories. ApiSurface maps each to an HTTP
// status; Scheduler and CaptureWorker branch on Kind to decide retry policy.
type Kind string

const (
	BadRequest          Kind = "bad_request"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	UpstreamUnavailable Kind = "upstream_unavailable"
	UpstreamMalformed   Kind = "upstream_malformed"
	CaptureFailed       Kind = "capture_failed"
	StorageIO           Kind = "storage_io"
	Canceled            Kind = "canceled"
	Internal            Kind = "internal"
)

// Error is the typed error carried across component boundaries. Field is
// populated only for BadRequest, naming the offending input field.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is report a match between two *Error values whose Kinds
// are equal, whatever their messages. To test an error against a bare Kind,
// use the package-level Is function.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithField returns a copy of the error annotated with the offending field
// name, used for BadRequest validation errors.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
