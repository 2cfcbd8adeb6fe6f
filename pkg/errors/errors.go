package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels classify failures independently of where they happened. Domain
// errors wrap one of these so transport code can map them without importing
// the domain.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
)

// Kind is the public face of a sentinel: its status, code and the message
// shown when the error carries nothing more specific.
type Kind struct {
	Sentinel error
	Status   int
	Code     string
	Message  string
}

var kinds = []Kind{
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND", "resource not found"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", "invalid input"},
	{ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"},
	{ErrForbidden, http.StatusForbidden, "FORBIDDEN", "access denied"},
	{ErrConflict, http.StatusConflict, "CONFLICT", "request conflicts with current state"},
	{ErrServiceUnavail, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "a dependency is unavailable, retry later"},
}

var internalKind = Kind{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "an internal error occurred"}

// KindOf returns the first kind whose sentinel err wraps, or the internal
// kind when none match.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.Sentinel) {
			return k
		}
	}
	return internalKind
}

// AppError is an error with a stable machine-readable code and the HTTP
// status it should be reported with.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError of the given kind with a custom code. cause, when
// non-nil, is kept in the chain next to the kind's sentinel.
func New(sentinel error, code, message string, cause error) *AppError {
	k := KindOf(sentinel)
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	if code == "" {
		code = k.Code
	}
	return &AppError{Code: code, Message: message, Status: k.Status, Err: err}
}

func NotFound(resource, id string) *AppError {
	return New(ErrNotFound, "", fmt.Sprintf("%s with id %s not found", resource, id), nil)
}

func InvalidInput(message string) *AppError {
	return New(ErrInvalidInput, "", message, nil)
}

func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, "", message, nil)
}

func Forbidden(message string) *AppError {
	return New(ErrForbidden, "", message, nil)
}

func Conflict(message string) *AppError {
	return New(ErrConflict, "", message, nil)
}

// Unavailable keeps cause in the unwrap chain alongside ErrServiceUnavail.
func Unavailable(message string, cause error) *AppError {
	return New(ErrServiceUnavail, "", message, cause)
}

// HTTPStatus returns the status err should be reported with.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return KindOf(err).Status
}
