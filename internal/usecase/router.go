package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"botbridge/internal/domain"
	"botbridge/internal/infra/tracer"
	"botbridge/internal/usecase/stream"
)

// storeTimeout bounds session persistence writes, which run detached from the
// (possibly already cancelled) turn context.
const storeTimeout = 5 * time.Second

// Bot dispatches inbound messages from any channel: it answers commands,
// applies per-user rate limiting and drives one streaming display session per
// chat turn. It is safe to use from every channel concurrently.
type Bot struct {
	source  domain.StreamSource
	linker  domain.AuthLinker
	checker domain.AuthChecker  // nil = no link-state verification
	store   domain.SessionStore // nil = no persistence
	gate    *RateGate           // nil = no rate limiting
	display map[domain.Platform]stream.Options
	logger  *slog.Logger
}

// NewBot creates the message dispatcher. Store and rate gate are optional and
// can be set after construction via SetStore / SetRateGate.
func NewBot(source domain.StreamSource, linker domain.AuthLinker, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		source:  source,
		linker:  linker,
		display: make(map[domain.Platform]stream.Options),
		logger:  logger,
	}
}

// SetStore enables session persistence.
func (b *Bot) SetStore(store domain.SessionStore) { b.store = store }

// SetRateGate enables per-user rate limiting.
func (b *Bot) SetRateGate(gate *RateGate) { b.gate = gate }

// SetAuthChecker enables backend link-state verification, used to answer
// /login for already-linked users and to short-circuit turns from users the
// store remembers as unlinked.
func (b *Bot) SetAuthChecker(checker domain.AuthChecker) { b.checker = checker }

// SetDisplayOptions overrides the display tuning for one platform.
func (b *Bot) SetDisplayOptions(p domain.Platform, opts stream.Options) {
	b.display[p] = opts
}

// Handler adapts the Bot to the channel callback type.
func (b *Bot) Handler() domain.MessageHandler { return b.Handle }

// Handle processes one inbound message end-to-end. Display failures and
// stream errors are rendered to the user; the returned error covers only
// infrastructure failures a channel may want to log.
func (b *Bot) Handle(ctx context.Context, msg domain.InboundMessage, d domain.Display) error {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	if strings.HasPrefix(content, "/") {
		return b.handleCommand(ctx, msg, content, d)
	}

	if b.gate != nil && !b.gate.Allow(msg.Platform, msg.SenderID) {
		b.logger.Info("rate limited",
			"platform", string(msg.Platform), "user", msg.SenderID)
		b.show(ctx, d.ShowError, domain.UserFacingError(domain.ErrRateLimited))
		return nil
	}

	if !msg.IsMention && !b.ensureLinked(ctx, msg, d) {
		return nil
	}

	streamID := ulid.Make().String()
	ctx, span := tracer.StartSession(ctx, string(msg.Platform), msg.SenderID, streamID)
	defer span.End()

	req := domain.ChatRequest{
		Message:        content,
		Platform:       msg.Platform,
		PlatformUserID: msg.SenderID,
		ChannelID:      msg.ChannelID,
		Mention:        msg.IsMention,
	}

	logger := b.logger.With("stream_id", streamID, "platform", string(msg.Platform))
	cfg := stream.ControllerConfig{
		Options:    b.options(msg.Platform),
		Editor:     d.Editor,
		NewMessage: d.NewMessage,
		UserID:     msg.SenderID,
		OnError: func(ctx context.Context, text string) {
			b.show(ctx, d.ShowError, text)
		},
		OnFinished: func(conversationID string) {
			b.persist(msg, conversationID)
		},
		Logger: logger,
	}
	// Mention turns run unauthenticated; the backend never asks them to link
	// an account, so the sign-in path stays disabled.
	if !req.Mention {
		cfg.AuthLinker = b.linker
		cfg.OnAuthError = func(ctx context.Context, authURL string) {
			b.markLinked(msg.Platform, msg.SenderID, false)
			b.show(ctx, d.ShowAuthPrompt, authURL)
		}
	}

	stream.NewController(cfg).Run(ctx, b.source.ChatStream(req))
	tracer.SetOK(span)
	return nil
}

// handleCommand answers the built-in slash commands. Unknown commands get the
// help text rather than a silent drop.
func (b *Bot) handleCommand(ctx context.Context, msg domain.InboundMessage, content string, d domain.Display) error {
	cmd := strings.ToLower(strings.Fields(content)[0])
	switch cmd {
	case "/help", "/start":
		return domain.WrapOp("show help", d.Editor(ctx, HelpText(msg.Platform)))
	case "/privacy":
		return domain.WrapOp("show privacy", d.Editor(ctx, PrivacyText()))
	case "/login":
		return b.handleLogin(ctx, msg, d)
	default:
		return domain.WrapOp("show help", d.Editor(ctx, HelpText(msg.Platform)))
	}
}

func (b *Bot) handleLogin(ctx context.Context, msg domain.InboundMessage, d domain.Display) error {
	if b.checker != nil {
		linked, err := b.checker.CheckAuth(ctx, msg.Platform, msg.SenderID)
		if err != nil {
			b.logger.Warn("auth status check failed",
				"platform", string(msg.Platform), "error", err)
		} else if linked {
			b.markLinked(msg.Platform, msg.SenderID, true)
			return domain.WrapOp("show login", d.Editor(ctx, domain.AlreadyLinkedText))
		}
	}
	if b.linker == nil {
		b.show(ctx, d.ShowError, domain.AuthLinkFailedText)
		return nil
	}
	authURL, err := b.linker.CreateLink(ctx, msg.Platform, msg.SenderID)
	if err != nil {
		b.logger.Warn("login link creation failed",
			"platform", string(msg.Platform), "error", err)
		b.show(ctx, d.ShowError, domain.AuthLinkFailedText)
		return nil
	}
	b.show(ctx, d.ShowAuthPrompt, authURL)
	return nil
}

// options returns the display tuning for a platform, falling back to a
// conservative non-streaming default for unconfigured platforms.
func (b *Bot) options(p domain.Platform) stream.Options {
	if opts, ok := b.display[p]; ok {
		return opts
	}
	return stream.Options{Platform: p, Limits: stream.DefaultLimits()}
}

// ensureLinked gates an authenticated turn on the stored link state. A user
// the store remembers as unlinked is re-verified against the backend; if
// still unlinked the auth prompt is repeated without opening a doomed stream.
// Unknown users pass through: the backend is authoritative and reports
// not_authenticated in-stream.
func (b *Bot) ensureLinked(ctx context.Context, msg domain.InboundMessage, d domain.Display) bool {
	if b.store == nil || b.checker == nil {
		return true
	}
	sess, err := b.store.Get(ctx, msg.Platform, msg.SenderID, msg.ChannelID)
	if err != nil || sess.Linked {
		return true
	}

	linked, err := b.checker.CheckAuth(ctx, msg.Platform, msg.SenderID)
	if err != nil {
		// Fail open: let the stream surface the real auth state.
		b.logger.Warn("auth status check failed",
			"platform", string(msg.Platform), "error", err)
		return true
	}
	if linked {
		b.markLinked(msg.Platform, msg.SenderID, true)
		return true
	}

	if b.linker == nil {
		b.show(ctx, d.ShowError, domain.AuthLinkFailedText)
		return false
	}
	authURL, err := b.linker.CreateLink(ctx, msg.Platform, msg.SenderID)
	if err != nil {
		b.show(ctx, d.ShowError, domain.AuthLinkFailedText)
		return false
	}
	b.show(ctx, d.ShowAuthPrompt, authURL)
	return false
}

// markLinked records the link state for every session of the platform user.
// Runs detached from the turn context, like persist.
func (b *Bot) markLinked(platform domain.Platform, userID string, linked bool) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := b.store.SetLinked(ctx, platform, userID, linked); err != nil {
		b.logger.Warn("persist link state failed",
			"platform", string(platform), "error", err)
	}
}

// persist records the conversation ID after a completed turn.
func (b *Bot) persist(msg domain.InboundMessage, conversationID string) {
	if b.store == nil || conversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := b.store.SetConversation(ctx, msg.Platform, msg.SenderID, msg.ChannelID, conversationID); err != nil {
		b.logger.Warn("persist session failed",
			"platform", string(msg.Platform), "error", err)
	}
}

// show runs one display callback, logging failures. Rendering problems never
// fail the handler.
func (b *Bot) show(ctx context.Context, fn func(context.Context, string) error, text string) {
	if fn == nil {
		return
	}
	if err := fn(ctx, text); err != nil {
		b.logger.Warn("display callback failed", "error", err)
	}
}
