package ptz

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags a domain error
type Kind int

const (
	KindValidation Kind = iota + 1
	KindBusy
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindServerError
	KindTransport
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusy:
		return "busy"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindTransport:
		return "transport"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified failure of a PTZ operation.
// Status is the HTTP status reported to the caller; for device errors it is
// the status the camera answered with.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Validationf builds a 400 error for caller input that breaks a command invariant
func Validationf(format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// Busy is returned when another session holds the camera
func Busy() *Error {
	return &Error{
		Kind:    KindBusy,
		Status:  http.StatusForbidden,
		Message: "PTZ is already in use",
	}
}

// Transport wraps a network level failure reaching the camera
func Transport(cause error) *Error {
	return &Error{
		Kind:    KindTransport,
		Status:  http.StatusInternalServerError,
		Message: cause.Error(),
	}
}

// UnknownCamera is returned for a camera id that is not configured
func UnknownCamera(id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("Unknown camera %s", id),
	}
}

// IsKind reports whether err carries a domain error of the given kind
func IsKind(err error, kind Kind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == kind
}

// StatusOf maps any error to the status and message returned to HTTP callers.
// Errors that are not domain errors become a bare 500.
func StatusOf(err error) (int, string) {
	var perr *Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError, "Internal Server Error"
	}
	status := perr.Status
	// A camera answering 1xx/3xx is still a failed move for our caller
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	return status, perr.Message
}
