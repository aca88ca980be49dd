package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotAuthenticated is the backend's signal that the platform user has no
// linked account. The message text is part of the wire contract.
var ErrNotAuthenticated = errors.New("not_authenticated")

// Sentinel errors for the domain layer.
var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrBackendUnready  = errors.New("backend unavailable")
	ErrStreamClosed    = errors.New("stream already closed")
	ErrPlatformUnknown = errors.New("unknown platform")
	ErrSessionNotFound = errors.New("session not found")
	ErrConfigLoad      = errors.New("failed to load configuration")
)

// StatusError is a backend HTTP failure carrying the response status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// WrapOp adds operation context to an error.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotAuthenticated reports whether err is the backend's auth sentinel,
// matching both the wrapped sentinel and the bare wire-level message text.
func IsNotAuthenticated(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotAuthenticated) || err.Error() == ErrNotAuthenticated.Error()
}

// Fixed user-facing messages shared across streaming and command handlers.
const (
	// AuthLinkFailedText is shown when auth-link generation itself fails.
	AuthLinkFailedText = "I couldn't generate a sign-in link right now. Please try /login again in a moment."

	// AlreadyLinkedText answers /login for a user whose account is connected.
	AlreadyLinkedText = "✅ Your account is already connected. Just send me a message."

	authRequiredText = "Your account isn't connected yet. Use /login to link it and try again."
	notFoundText     = "I couldn't find what you asked for. Please try again."
	rateLimitedText  = "You're sending messages too quickly. Give it a few seconds and try again."
)

// UserFacingError maps err to the text shown to the end user. Streaming and
// non-streaming handlers both route through it, so identical failures always
// produce identical messages.
func UserFacingError(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case IsNotAuthenticated(err):
		return authRequiredText
	case errors.Is(err, ErrRateLimited):
		return rateLimitedText
	case errors.As(err, &se) && se.Status == http.StatusUnauthorized:
		return authRequiredText
	case errors.As(err, &se) && se.Status == http.StatusNotFound:
		return notFoundText
	default:
		return "Sorry, something went wrong while answering: " + err.Error()
	}
}
