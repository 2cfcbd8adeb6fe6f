package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
	"github.com/utafrali/pricing-engine/pkg/logger"
	"github.com/utafrali/pricing-engine/pkg/validator"
)

// Response is the JSON envelope of every API reply. Exactly one of Data and
// Error is set.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON encodes v with status. Encoding errors are dropped since the
// header is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	if r != nil {
		body.RequestID = logger.CorrelationIDFromContext(r.Context())
	}
	WriteJSON(w, status, Response{Error: &body})
}

// WriteError writes the error envelope for err. AppErrors keep their own code
// and status; anything else is classified by the sentinel it wraps. 5xx
// replies are logged through the request logger, or fallback when the request
// carries none.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	body := ErrorResponse{}
	var status int

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status, body.Code, body.Message = appErr.Status, appErr.Code, appErr.Message
	} else {
		k := apperrors.KindOf(err)
		status, body.Code, body.Message = k.Status, k.Code, k.Message
		if k.Sentinel == apperrors.ErrInvalidInput {
			body.Message = err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() {
			l = fallback
		}
		l.ErrorContext(r.Context(), "request failed",
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	writeErr(w, r, status, body)
}

// PaginatedResponse is one page of a listing plus the counts a client needs
// to fetch the rest.
type PaginatedResponse[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

func NewPaginatedResponse[T any](data []T, totalCount, page, perPage int) PaginatedResponse[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := (totalCount + perPage - 1) / perPage
	return PaginatedResponse[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// WriteValidationError answers 400. Struct validation failures list the
// offending fields; any other err (typically a decode error) becomes
// INVALID_INPUT.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		writeErr(w, nil, http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		})
		return
	}
	writeErr(w, nil, http.StatusBadRequest, ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()})
}

// ParseUUID parses param, answering 400 INVALID_PARAMETER and returning false
// when it is not a UUID.
func ParseUUID(w http.ResponseWriter, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		writeErr(w, nil, http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMETER",
			Message: "invalid UUID: " + param,
		})
		return uuid.Nil, false
	}
	return id, true
}
