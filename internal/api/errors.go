package api

import (
	"context"
	"errors"
	"net/http"

	"boqmatch/internal/catalog"
	"boqmatch/internal/feedback"
	"boqmatch/internal/kb"
	"boqmatch/internal/resolve"
	"boqmatch/internal/scheduler"
)

// Stable error codes.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeNoActiveCatalog   = "NO_ACTIVE_CATALOG"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

// ErrBadRequest marks malformed request bodies.
var ErrBadRequest = errors.New("bad request")

// ErrorStatus classifies err into an HTTP status and a stable code.
func ErrorStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, resolve.ErrInvalidInput),
		errors.Is(err, feedback.ErrInvalidFeedback):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, catalog.ErrNoActiveCatalog):
		return http.StatusServiceUnavailable, CodeNoActiveCatalog
	case errors.Is(err, catalog.ErrVersionNotFound),
		errors.Is(err, kb.ErrNotFound),
		errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, catalog.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, catalog.ErrValidationFailed):
		return http.StatusUnprocessableEntity, CodeValidationFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
