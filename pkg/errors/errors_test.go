package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorString(t *testing.T) {
	withCause := &AppError{Code: "PERSISTENCE_ERROR", Message: "write failed", Err: fmt.Errorf("db lost")}
	assert.Equal(t, "PERSISTENCE_ERROR: write failed: db lost", withCause.Error())

	bare := &AppError{Code: "CONFLICT", Message: "busy"}
	assert.Equal(t, "CONFLICT: busy", bare.Error())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("campaign", "c-1"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"invalid input", InvalidInput("bad"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", Unauthorized("no token"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("admin only"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
		{"conflict", Conflict("busy"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"unavailable", Unavailable("down", nil), "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrServiceUnavail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestNew_CustomCode(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(ErrServiceUnavail, "PERSISTENCE_ERROR", "could not save campaign", cause)

	assert.Equal(t, "PERSISTENCE_ERROR", err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.ErrorIs(t, err, ErrServiceUnavail)
	assert.ErrorIs(t, err, cause)
}

func TestNotFound_Message(t *testing.T) {
	assert.Equal(t, "campaign with id c-1 not found", NotFound("campaign", "c-1").Message)
}

func TestKindOf(t *testing.T) {
	k := KindOf(fmt.Errorf("lock: %w", ErrConflict))
	assert.Equal(t, "CONFLICT", k.Code)
	assert.Equal(t, http.StatusConflict, k.Status)

	unknown := KindOf(errors.New("plain"))
	assert.Equal(t, "INTERNAL_ERROR", unknown.Code)
	assert.Nil(t, unknown.Sentinel)
}

func TestHTTPStatus_Sentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", ErrConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("x: %w", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("x: %w", ErrServiceUnavail), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestHTTPStatus_WrappedAppError(t *testing.T) {
	err := fmt.Errorf("handler: %w", Conflict("campaign busy"))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}
