package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shortlinkhq/shortlink/internal/apperr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// RespondError writes a JSON error response with an explicit status and
// code, independent of the apperr taxonomy (used by request-decoding
// helpers that fail before any domain error exists).
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondAppError maps err (expected to be, or wrap, an *apperr.Error) to
// its HTTP status once at the edge, per §7's edge-mapping table. Errors
// from the login closed set (§4.5) use apperr.LoginHTTPStatus instead.
func RespondAppError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		slog.Error("unclassified error reached the HTTP edge", "error", err)
		RespondError(w, http.StatusInternalServerError, string(apperr.CodeInternal), "internal error")
		return
	}

	status := apperr.HTTPStatus(e.Code)
	switch e.Code {
	case apperr.LoginUserNotFound, apperr.LoginAccountDeactivated, apperr.LoginOAuthUserNoPassword, apperr.LoginInvalidPassword:
		status = apperr.LoginHTTPStatus(e.Code)
	}

	Respond(w, status, ErrorResponse{
		Error:      string(e.Code),
		Message:    e.Message,
		RetryAfter: e.RetryAfter,
		Fallback:   e.Fallback,
	})
}
