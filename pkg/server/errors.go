package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/rs/zerolog/log"
)

const (
	CodeBadRequest       = "bad_request"
	CodeValidation       = "validation_failed"
	CodeNotFound         = "not_found"
	CodeInvalidOperation = "invalid_operation"
	CodeConflict         = "conflict"
	CodeUnavailable      = "store_unavailable"
	CodeInternal         = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps an error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, conversation.ErrInvalidOperation):
		return http.StatusUnprocessableEntity, CodeInvalidOperation
	case errors.Is(err, conversation.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, conversation.ErrPersistence):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	l := log.Debug()
	if status >= http.StatusInternalServerError {
		l = log.Error()
	}
	l.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("request failed")

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeBadRequest(w http.ResponseWriter, code string, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: code})
}
