package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a unique key collision.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks malformed client input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when no valid principal is attached to a request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is an authorization deny.
	ErrForbidden = errors.New("forbidden")
	// ErrConfiguration signals an operational misconfiguration, never bad input.
	ErrConfiguration = errors.New("configuration error")
)

// UserSafeMessage returns a message that can be shown to API clients.
// Anything outside the known taxonomy collapses to a generic text.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrConflict):
		return "resource already exists"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, ErrUnauthorized):
		return "authentication required"
	case errors.Is(err, ErrForbidden):
		return "access denied"
	default:
		return "internal server error"
	}
}
