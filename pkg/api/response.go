package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/validator"
)

// Response is the envelope of every JSON answer.
type Response struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed request. Details maps field names to
// messages for validation failures.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Data: data})
}

// writeError maps err to a status code and error envelope. Server side
// failures are logged; their message is not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, detail := errorDetail(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			logger.Error(err))
	}
	writeJSON(w, status, Response{Error: detail})
}

func errorDetail(err error) (int, *ErrorDetail) {
	if fields := validator.ExtractValidationErrors(err); fields != nil {
		details := make(map[string][]string, len(fields))
		for _, f := range fields {
			details[f.Field] = append(details[f.Field], f.Message)
		}
		return http.StatusUnprocessableEntity, &ErrorDetail{
			Code:    "validation_error",
			Message: "validation failed",
			Details: details,
		}
	}

	switch {
	case errors.Is(err, queue.ErrInvalidPriority):
		return http.StatusUnprocessableEntity, &ErrorDetail{
			Code:    "validation_error",
			Message: "validation failed",
			Details: map[string][]string{"priority": {queue.ErrInvalidPriority.Error()}},
		}
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, &ErrorDetail{Code: "unsupported_media_type", Message: err.Error()}
	case errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrInvalidParam):
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "not_found", Message: "job not found"}
	case errors.Is(err, queue.ErrUnknownJobType):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "unknown_job_type", Message: err.Error()}
	case errors.Is(err, queue.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "store_unavailable", Message: "job store is unavailable, try again later"}
	}
	return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: "internal server error"}
}
