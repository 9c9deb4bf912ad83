// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/passport/internal/shared"
)

// ErrBadRequest marks an undecodable request body.
var ErrBadRequest = errors.New("bad request")

// Status returns the HTTP status a domain error maps to.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidCredentials), errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Server-side failures, configuration errors included, never echo err.Error().
func RespondError(w http.ResponseWriter, err error) {
	status := Status(err)
	switch status {
	case http.StatusInternalServerError:
		Problem(w, status, "Internal Error", "")
	case http.StatusUnauthorized:
		Problem(w, status, "Unauthorized", shared.UserSafeMessage(err))
	default:
		Problem(w, status, http.StatusText(status), err.Error())
	}
}

// Forbidden writes the structured refusal used by authorization gates.
func Forbidden(w http.ResponseWriter, reason string) {
	writeProblem(w, ProblemDetail{
		Type:   "about:blank#forbidden",
		Title:  "Forbidden",
		Status: http.StatusForbidden,
		Detail: reason,
	})
}
