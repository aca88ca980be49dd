package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusErrorFormat(t *testing.T) {
	err := &StatusError{Status: 502, Body: "bad gateway"}
	assert.Equal(t, "backend returned 502: bad gateway", err.Error())

	err = &StatusError{Status: 502}
	assert.Equal(t, "backend returned 502", err.Error())
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("open stream", nil))
}

func TestWrapOpPreservesIs(t *testing.T) {
	err := WrapOp("check session", ErrSessionNotFound)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, "check session: session not found", err.Error())
}

func TestIsNotAuthenticated(t *testing.T) {
	assert.False(t, IsNotAuthenticated(nil))
	assert.True(t, IsNotAuthenticated(ErrNotAuthenticated))
	assert.True(t, IsNotAuthenticated(fmt.Errorf("stream: %w", ErrNotAuthenticated)))
	// The bare wire-level message text matches too.
	assert.True(t, IsNotAuthenticated(errors.New("not_authenticated")))
	assert.False(t, IsNotAuthenticated(errors.New("boom")))
}

func TestUserFacingError(t *testing.T) {
	assert.Empty(t, UserFacingError(nil))
	assert.Equal(t, authRequiredText, UserFacingError(ErrNotAuthenticated))
	assert.Equal(t, rateLimitedText, UserFacingError(fmt.Errorf("gate: %w", ErrRateLimited)))
	assert.Equal(t, authRequiredText, UserFacingError(&StatusError{Status: 401}))
	assert.Equal(t, notFoundText, UserFacingError(&StatusError{Status: 404}))
	assert.Contains(t, UserFacingError(errors.New("boom")), "boom")
}

// Streaming and non-streaming turns must show the same text for the same
// failure.
func TestUserFacingErrorStableAcrossWrapping(t *testing.T) {
	bare := UserFacingError(ErrRateLimited)
	wrapped := UserFacingError(WrapOp("handle message", ErrRateLimited))
	assert.Equal(t, bare, wrapped)
}
