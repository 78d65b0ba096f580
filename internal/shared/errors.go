package shared

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates a missing or invalid credential.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// UserSafeMessage returns a message that can be shown to API clients without
// leaking internals.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found."
	case errors.Is(err, ErrUnauthenticated):
		return "Authentication required."
	case errors.Is(err, ErrIdempotencyConflict):
		return "This request has already been processed."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The request timed out, please retry."
	default:
		return "An unexpected error occurred."
	}
}
