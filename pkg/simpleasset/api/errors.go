package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failure
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps service errors to HTTP status codes. Backend failures are
// checked first because a storage error may also wrap ErrNotFound.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, simpleasset.ErrBackend):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, simpleasset.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, simpleasset.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, simpleasset.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simpleasset.ErrIntegrityMismatch):
		return http.StatusConflict, "integrity_mismatch"
	case errors.Is(err, simpleasset.ErrMissingContent):
		return http.StatusUnprocessableEntity, "missing_content"
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented, "not_implemented"
	case errors.Is(err, simpleasset.ErrInvalidHash),
		errors.Is(err, simpleasset.ErrInvalidVersion),
		errors.Is(err, simpleasset.ErrInvalidManifest),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

var (
	errBadRequest = errors.New("bad request")
	errPanic      = errors.New("panic while handling request")
)

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "An internal server error occurred"
	} else {
		logger.DebugContext(r.Context(), "request rejected", "status", status, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
		Retryable: simpleasset.IsRetryable(err),
	}})
}
