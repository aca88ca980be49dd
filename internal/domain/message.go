package domain

import "context"

// InboundMessage is a user message received from a channel.
type InboundMessage struct {
	Platform   Platform
	SenderID   string // user's ID on the platform
	SenderName string
	ChannelID  string // channel/group ID; empty for DMs
	ThreadID   string
	Content    string
	IsMention  bool // triggered by an @mention in a group
}

// MessageHandler processes one inbound message, rendering the reply through
// the supplied display. Channels invoke it for every accepted message.
type MessageHandler func(ctx context.Context, msg InboundMessage, d Display) error

// Channel is the interface for platform I/O adapters.
type Channel interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
	Name() string
}
