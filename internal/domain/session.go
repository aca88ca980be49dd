package domain

import (
	"context"
	"time"
)

// Session tracks the backend conversation bound to one platform user in one
// channel. DMs use an empty ChannelID.
type Session struct {
	Platform       Platform
	PlatformUserID string
	ChannelID      string
	ConversationID string
	Linked         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionStore persists sessions across restarts so conversations survive a
// redeploy.
type SessionStore interface {
	// Get returns the session for the given key, or ErrSessionNotFound.
	Get(ctx context.Context, platform Platform, platformUserID, channelID string) (*Session, error)
	// SetConversation upserts the session and records its conversation ID.
	SetConversation(ctx context.Context, platform Platform, platformUserID, channelID, conversationID string) error
	// SetLinked updates the cached account-link state for every session of
	// the platform user.
	SetLinked(ctx context.Context, platform Platform, platformUserID string, linked bool) error
	Close() error
}
