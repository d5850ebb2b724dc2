// Package httputil centralizes JSON response writing and the mapping from
// internal error codes to HTTP status codes.
package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/minglr/match-relay/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error   string                `json:"error"`
	Code    apperrors.ErrorCode   `json:"code"`
	Details any                   `json:"details,omitempty"`
}

// WriteError writes err as a JSON error response at the status its code
// maps to. Non-AppErrors are treated as Fatal.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Fatal("an unexpected error occurred", err)
	}

	WriteJSON(w, statusFromCode(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

func statusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.ErrCodeAuthFailure:
		return http.StatusUnauthorized
	case apperrors.ErrCodeNotAuthorized:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeStoreUnavailable, apperrors.ErrCodeTransient:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
