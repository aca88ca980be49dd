package domain

import "context"

// MessageEditor updates the platform message it is bound to with new text.
// It must be safe to call repeatedly with growing text. Failures are treated
// as non-fatal by callers: a rejected edit never aborts a stream.
type MessageEditor func(ctx context.Context, text string) error

// NewMessageSender opens a new platform message seeded with initialText and
// returns an editor bound to that message. Channels that cannot start new
// messages mid-stream leave this nil.
type NewMessageSender func(ctx context.Context, initialText string) (MessageEditor, error)

// StreamCallbacks receives the chunk/done/error protocol from a StreamFn.
// A well-behaved stream invokes OnChunk zero or more times, then exactly one
// of OnDone or OnError.
type StreamCallbacks struct {
	// OnChunk delivers an incremental fragment of the response text.
	OnChunk func(text string)
	// OnDone delivers the complete response and the backend conversation ID.
	OnDone func(fullText, conversationID string)
	// OnError reports a terminal stream failure.
	OnError func(err error)
}

// StreamFn produces a response stream, invoking the callbacks as text arrives.
// The returned error covers failures to start or sustain the stream itself;
// errors already reported via OnError are not returned again.
type StreamFn func(ctx context.Context, cb StreamCallbacks) error

// ChatRequest is one user turn relayed to the assistant backend.
type ChatRequest struct {
	Message        string
	Platform       Platform
	PlatformUserID string
	ChannelID      string // empty for DMs
	Mention        bool   // true for unauthenticated @mention turns
}

// StreamSource opens response streams against the assistant backend.
type StreamSource interface {
	ChatStream(req ChatRequest) StreamFn
}

// AuthLinker creates account-linking URLs for platform users.
type AuthLinker interface {
	CreateLink(ctx context.Context, platform Platform, platformUserID string) (authURL string, err error)
}

// AuthChecker reports whether a platform user is linked to a backend account.
type AuthChecker interface {
	CheckAuth(ctx context.Context, platform Platform, platformUserID string) (bool, error)
}

// Display is the rendering surface a channel offers for one reply.
type Display struct {
	// Editor updates the reply message shown to the user.
	Editor MessageEditor
	// NewMessage opens an additional reply message; nil when unsupported.
	NewMessage NewMessageSender
	// ShowAuthPrompt presents an account-linking URL to the user.
	ShowAuthPrompt func(ctx context.Context, authURL string) error
	// ShowError presents a terminal error message to the user.
	ShowError func(ctx context.Context, text string) error
}
