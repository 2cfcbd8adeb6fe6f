package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
)

// downstreamError is the error half of the platform's JSON envelope.
type downstreamError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError drains and closes a non-2xx response. Enveloped errors
// become AppErrors; other bodies are quoted into a plain error.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var downstream downstreamError
	if json.Unmarshal(body, &downstream) == nil && downstream.Error != nil {
		return mapDownstreamError(resp.StatusCode, downstream.Error.Code, downstream.Error.Message, serviceName)
	}
	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, body)
}

// statusKinds maps downstream statuses onto local sentinels. The downstream
// code is kept so callers can still tell, say, two 409s apart.
var statusKinds = map[int]error{
	http.StatusNotFound:           apperrors.ErrNotFound,
	http.StatusBadRequest:         apperrors.ErrInvalidInput,
	http.StatusConflict:           apperrors.ErrConflict,
	http.StatusUnauthorized:       apperrors.ErrUnauthorized,
	http.StatusForbidden:          apperrors.ErrForbidden,
	http.StatusServiceUnavailable: apperrors.ErrServiceUnavail,
}

func mapDownstreamError(status int, code, message, serviceName string) error {
	qualified := serviceName + ": " + message
	if sentinel, ok := statusKinds[status]; ok {
		return apperrors.New(sentinel, code, qualified, nil)
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	}
	return &apperrors.AppError{Code: code, Message: qualified, Status: status}
}
