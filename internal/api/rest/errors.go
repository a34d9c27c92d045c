package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// ErrorResponse is the error body every failed request returns
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Retryable tells clients whether backing off and retrying can help
	Retryable bool `json:"retryable,omitempty"`
}

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *ErrorResponse `json:"error,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ResponseEnvelope{
		Success:   status < 400,
		Data:      data,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		status = appErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		resp = &ErrorResponse{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ResponseEnvelope{
		Success:   false,
		Error:     resp,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
