// Package apierr maps the error taxonomy of spec.md §7 to HTTP status
// codes, so every handler in internal/api produces the same
// {"error": "..."} envelope through one helper instead of scattering
// gin.H{"error": ...} calls across handlers.
package apierr

import "net/http"

// Kind classifies an error the way spec.md §7 does.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindMethodNotAllowed
	KindUnhealthy
)

// Error is a typed error carrying its HTTP status kind and a
// client-safe message. The underlying cause (if any) is logged by the
// caller, never serialized into the response.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation builds a 400-class error.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// NotFound builds a 404-class error.
func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

// MethodNotAllowed builds a 405-class error.
func MethodNotAllowed(msg string) *Error { return &Error{Kind: KindMethodNotAllowed, Message: msg} }

// Internal builds a 500-class error; cause is logged by the caller but
// never echoed to the client — the response message is always generic.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Cause: cause}
}

// Unhealthy builds a 503-class error for an unhealthy server.
func Unhealthy(msg string) *Error { return &Error{Kind: KindUnhealthy, Message: msg} }

// Status returns the HTTP status code for k.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire shape of every error response: {"error": "..."}.
type Envelope struct {
	Error string `json:"error"`
}

// Status and Body extract what a transport adapter needs to write a
// response for err. If err is not an *Error, it's treated as an
// unexpected internal error.
func Status(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Kind.Status()
	}
	return http.StatusInternalServerError
}

// Body returns the public-safe envelope for err: internal causes are
// never included.
func Body(err error) Envelope {
	if e, ok := err.(*Error); ok {
		return Envelope{Error: e.Message}
	}
	return Envelope{Error: "internal error"}
}
