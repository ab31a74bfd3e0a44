package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels wrapped by the stores and the model catalog so From can
// classify them.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

const internalMessage = "Internal error encountered."

// Error is the API-facing failure. Cause is logged but never sent to
// clients.
type Error struct {
	Code    int
	Message string
	Details []any
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("%d %s: %s", e.Code, Status(e.Code), e.Message)
	}
	return fmt.Sprintf("%d %s: %s: %v", e.Code, Status(e.Code), e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *Error) StatusCode() int {
	return e.Code
}

func New(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return New(http.StatusUnauthorized, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

func AlreadyExists(format string, args ...any) *Error {
	return New(http.StatusConflict, format, args...)
}

func ResourceExhausted(format string, args ...any) *Error {
	return New(http.StatusTooManyRequests, format, args...)
}

func Internal(cause error) *Error {
	return &Error{Code: http.StatusInternalServerError, Message: internalMessage, Cause: cause}
}

// Status maps an HTTP code to its canonical status string.
func Status(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ALREADY_EXISTS"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	case http.StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

type statusCoder interface {
	StatusCode() int
}

// From classifies any error. Anything it does not recognise becomes a
// generic internal error that keeps err as its cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code < 500 {
			return &Error{Code: code, Message: sc.(error).Error(), Cause: err}
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return &Error{Code: http.StatusNotFound, Message: err.Error(), Cause: err}
	case errors.Is(err, ErrAlreadyExists):
		return &Error{Code: http.StatusConflict, Message: err.Error(), Cause: err}
	}
	return Internal(err)
}

// Envelope is the JSON error body shared by both API surfaces.
type Envelope struct {
	Error Body `json:"error"`
}

type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Details []any  `json:"details,omitempty"`
}

func (e *Error) Envelope() Envelope {
	return Envelope{Error: Body{
		Code:    e.Code,
		Message: e.Message,
		Status:  Status(e.Code),
		Details: e.Details,
	}}
}
