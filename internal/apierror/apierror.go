// Package apierror defines the typed error kinds that cross the HTTP
// boundary. Handlers never leak underlying causes to clients; they map an
// *Error's Kind and Message onto a status code and a {typ, message, details}
// JSON envelope.
package apierror

import "fmt"

// Kind is a stable, machine-readable error classification independent of the
// HTTP status code it happens to map to.
type Kind string

const (
	KindBadRequest         Kind = "BadRequest"
	KindUnauthorized       Kind = "Unauthorized"
	KindInvalidToken       Kind = "InvalidToken"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindTooManyRequests    Kind = "TooManyRequests"
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindConnection         Kind = "Connection"
	KindDatabase           Kind = "Database"
	KindDatabaseIo         Kind = "DatabaseIo"
	KindInternal           Kind = "Internal"
)

// Error is the typed error returned by every domain operation. Message is
// safe to show to an API caller; cause is logged but never serialized.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetails attaches machine-readable detail, e.g. the list of client ids
// blocking a group deletion.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches an internal cause to a client-safe message without leaking
// the cause's text to the eventual HTTP response.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func BadRequest(format string, args ...interface{}) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func TooManyRequests(message string) *Error { return New(KindTooManyRequests, message) }

func ServiceUnavailable(message string) *Error { return New(KindServiceUnavailable, message) }

// Internal collapses an underlying error into a generic message, as required
// for cryptographic authentication failures and any other internal fault
// that must never leak its cause text to a client.
func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal error", cause)
}

// Database classifies a storage-layer failure.
func Database(cause error) *Error {
	return Wrap(KindDatabase, "database error", cause)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf extracts the Kind of err, defaulting to KindInternal for
// unclassified errors so the HTTP boundary always has something to map.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
