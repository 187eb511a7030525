package web

// errors.go maps service errors to HTTP responses.
//
// The technical error is logged with the request id; the client gets the
// user message from core.MapError and a status derived from the error kind.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
	"github.com/JonMunkholm/BridgeIntake/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request error", "path", r.URL.Path, "method", r.Method, "status", status, "code", msg.Code, "error", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "method", r.Method, "status", status, "code", msg.Code, "error", err)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateToken),
		errors.Is(err, core.ErrIllegalTransition),
		errors.Is(err, core.ErrUploadAborted),
		errors.Is(err, core.ErrIncompleteUpload):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyPipelines),
		errors.Is(err, core.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
