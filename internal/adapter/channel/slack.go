package channel

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"botbridge/internal/domain"
)

// SlackOption configures the Slack channel.
type SlackOption func(*SlackChannel)

// WithSlackMentionOnly enables mention-only filtering in channels.
func WithSlackMentionOnly(v bool) SlackOption {
	return func(s *SlackChannel) { s.mentionOnly = v }
}

// SlackChannel implements domain.Channel via Socket Mode. Replies open with a
// placeholder message whose timestamp backs the streaming display's editor
// (chat.update keyed by channel + ts).
type SlackChannel struct {
	botToken    string
	appToken    string
	api         *slack.Client
	socketCli   *socketmode.Client
	handler     domain.MessageHandler
	logger      *slog.Logger
	mentionOnly bool
	botUserID   string
	userNames   sync.Map // cache: userID -> display name
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(botToken, appToken string, logger *slog.Logger, opts ...SlackOption) *SlackChannel {
	s := &SlackChannel{
		botToken: botToken,
		appToken: appToken,
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Start(ctx context.Context, handler domain.MessageHandler) error {
	s.handler = handler
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.api = slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.socketCli = socketmode.New(s.api)

	// Fetch bot user ID for mention detection.
	authResp, err := s.api.AuthTest()
	if err != nil {
		return err
	}
	s.botUserID = authResp.UserID
	s.logger.Info("slack channel started", "bot_user_id", s.botUserID)

	go s.eventLoop()
	go func() {
		if err := s.socketCli.RunContext(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Error("slack socket mode error", "error", err)
		}
	}()

	return nil
}

func (s *SlackChannel) Stop(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *SlackChannel) eventLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.socketCli.Events:
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			s.socketCli.Ack(*evt.Request)

			if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				s.handleEvent(ev)
			}
		}
	}
}

// resolveUserName returns a display name for a Slack user ID, using a cache
// to avoid repeated API calls.
func (s *SlackChannel) resolveUserName(userID string) string {
	if v, ok := s.userNames.Load(userID); ok {
		return v.(string)
	}
	info, err := s.api.GetUserInfo(userID)
	if err != nil {
		s.logger.Warn("slack: failed to resolve user name", "user_id", userID, "error", err)
		return userID // fallback to ID
	}
	name := info.RealName
	if name == "" {
		name = info.Name
	}
	s.userNames.Store(userID, name)
	return name
}

func (s *SlackChannel) handleEvent(ev *slackevents.MessageEvent) {
	// Ignore bot messages and edits.
	if ev.User == "" || ev.User == s.botUserID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	isDM := strings.HasPrefix(ev.Channel, "D")
	isMention := strings.Contains(ev.Text, "<@"+s.botUserID+">")
	if s.mentionOnly && !isDM && !isMention {
		return
	}

	content := ev.Text
	if isMention {
		content = strings.TrimSpace(strings.ReplaceAll(content, "<@"+s.botUserID+">", ""))
	}
	if content == "" {
		return
	}

	msg := domain.InboundMessage{
		Platform:   domain.PlatformSlack,
		SenderID:   ev.User,
		SenderName: s.resolveUserName(ev.User),
		Content:    content,
		IsMention:  !isDM && isMention,
	}
	if !isDM {
		msg.ChannelID = ev.Channel
	}
	threadTS := ev.ThreadTimeStamp
	if threadTS != "" {
		msg.ThreadID = threadTS
	}

	channel := ev.Channel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("slack handler panicked", "panic", r, "channel", channel)
			}
		}()
		if err := s.handleMessage(s.ctx, channel, threadTS, msg); err != nil {
			s.logger.Error("slack handler error", "error", err, "channel", channel)
		}
	}()
}

func (s *SlackChannel) handleMessage(ctx context.Context, channel, threadTS string, msg domain.InboundMessage) error {
	_, ts, err := s.postMessage(channel, threadTS, typingPlaceholder)
	if err != nil {
		return err
	}

	editor := s.editorFor(channel, ts)
	display := domain.Display{
		Editor: editor,
		NewMessage: func(ctx context.Context, initialText string) (domain.MessageEditor, error) {
			_, newTS, err := s.postMessage(channel, threadTS, initialText)
			if err != nil {
				return nil, err
			}
			return s.editorFor(channel, newTS), nil
		},
		ShowAuthPrompt: func(ctx context.Context, authURL string) error {
			return editor(ctx, AuthPromptText(authURL))
		},
		ShowError: editor,
	}
	return s.handler(ctx, msg, display)
}

func (s *SlackChannel) postMessage(channel, threadTS, text string) (string, string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	return s.api.PostMessage(channel, opts...)
}

func (s *SlackChannel) editorFor(channel, ts string) domain.MessageEditor {
	return func(ctx context.Context, text string) error {
		_, _, _, err := s.api.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(text, false))
		return err
	}
}

var _ domain.Channel = (*SlackChannel)(nil)
