package channel

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"botbridge/internal/domain"
)

// DiscordOption configures the Discord channel.
type DiscordOption func(*DiscordChannel)

// WithDiscordGuild limits the bot to a specific guild.
func WithDiscordGuild(guildID string) DiscordOption {
	return func(d *DiscordChannel) { d.guildID = guildID }
}

// WithDiscordMentionOnly enables mention-only filtering in guild channels.
func WithDiscordMentionOnly(v bool) DiscordOption {
	return func(d *DiscordChannel) { d.mentionOnly = v }
}

// DiscordChannel implements domain.Channel via discordgo. Replies open with a
// placeholder message that the streaming display edits in place.
type DiscordChannel struct {
	token       string
	session     *discordgo.Session
	handler     domain.MessageHandler
	logger      *slog.Logger
	guildID     string
	mentionOnly bool
	botUserID   string
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewDiscordChannel creates a Discord bot channel.
func NewDiscordChannel(token string, logger *slog.Logger, opts ...DiscordOption) *DiscordChannel {
	d := &DiscordChannel{
		token:  token,
		logger: logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Start(ctx context.Context, handler domain.MessageHandler) error {
	d.handler = handler
	d.ctx, d.cancel = context.WithCancel(ctx)

	dg, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return err
	}
	d.session = dg
	d.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	d.session.AddHandler(d.onMessageCreate)

	if err := d.session.Open(); err != nil {
		return err
	}

	d.botUserID = d.session.State.User.ID
	d.logger.Info("discord channel started", "user_id", d.botUserID)
	return nil
}

func (d *DiscordChannel) Stop(_ context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore own messages.
	if m.Author == nil || m.Author.ID == d.botUserID || m.Author.Bot {
		return
	}

	// Guild filter.
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}

	isMention := false
	for _, u := range m.Mentions {
		if u.ID == d.botUserID {
			isMention = true
			break
		}
	}
	if d.mentionOnly && m.GuildID != "" && !isMention {
		return
	}

	content := m.Content
	if isMention {
		content = strings.ReplaceAll(content, "<@"+d.botUserID+">", "")
		content = strings.ReplaceAll(content, "<@!"+d.botUserID+">", "")
		content = strings.TrimSpace(content)
	}
	if content == "" {
		return
	}

	msg := domain.InboundMessage{
		Platform:   domain.PlatformDiscord,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Content:    content,
		IsMention:  m.GuildID != "" && isMention,
	}
	if m.GuildID != "" {
		msg.ChannelID = m.ChannelID
	}

	channelID := m.ChannelID
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("discord handler panicked", "panic", r, "channel", channelID)
			}
		}()
		if err := d.handleMessage(d.ctx, channelID, msg); err != nil {
			d.logger.Error("discord handler error", "error", err, "channel", channelID)
		}
	}()
}

func (d *DiscordChannel) handleMessage(ctx context.Context, channelID string, msg domain.InboundMessage) error {
	placeholder, err := d.session.ChannelMessageSend(channelID, typingPlaceholder)
	if err != nil {
		return err
	}

	editor := d.editorFor(channelID, placeholder.ID)
	display := domain.Display{
		Editor: editor,
		NewMessage: func(ctx context.Context, initialText string) (domain.MessageEditor, error) {
			sent, err := d.session.ChannelMessageSend(channelID, initialText)
			if err != nil {
				return nil, err
			}
			return d.editorFor(channelID, sent.ID), nil
		},
		ShowAuthPrompt: func(ctx context.Context, authURL string) error {
			return editor(ctx, AuthPromptText(authURL))
		},
		ShowError: editor,
	}
	return d.handler(ctx, msg, display)
}

func (d *DiscordChannel) editorFor(channelID, messageID string) domain.MessageEditor {
	return func(_ context.Context, text string) error {
		_, err := d.session.ChannelMessageEdit(channelID, messageID, text)
		return err
	}
}

var _ domain.Channel = (*DiscordChannel)(nil)
