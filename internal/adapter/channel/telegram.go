package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"botbridge/internal/domain"
)

// TelegramOption configures the Telegram channel.
type TelegramOption func(*TelegramChannel)

// WithTelegramMentionOnly enables mention-only filtering in groups.
func WithTelegramMentionOnly(v bool) TelegramOption {
	return func(t *TelegramChannel) { t.mentionOnly = v }
}

// WithTelegramBaseURL overrides the Bot API endpoint. Used in tests.
func WithTelegramBaseURL(u string) TelegramOption {
	return func(t *TelegramChannel) { t.baseURL = u }
}

// TelegramChannel implements domain.Channel for the Telegram Bot API via
// long-polling. Each accepted message gets a placeholder reply whose editor
// backs the live streaming display.
type TelegramChannel struct {
	token       string
	handler     domain.MessageHandler
	logger      *slog.Logger
	client      *http.Client
	baseURL     string
	offset      int64
	done        chan struct{}
	wg          sync.WaitGroup
	botUsername string
	mentionOnly bool
}

// NewTelegramChannel creates a Telegram bot channel.
func NewTelegramChannel(token string, logger *slog.Logger, opts ...TelegramOption) *TelegramChannel {
	t := &TelegramChannel{
		token:   token,
		logger:  logger,
		baseURL: "https://api.telegram.org",
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start begins long-polling for updates. Non-blocking (starts in goroutine).
func (t *TelegramChannel) Start(ctx context.Context, handler domain.MessageHandler) error {
	t.handler = handler

	// Fetch bot username for mention detection.
	if me, err := t.getMe(ctx); err == nil {
		t.botUsername = me
		t.logger.Info("telegram bot identified", "username", me)
	} else {
		t.logger.Warn("telegram getMe failed, mention detection disabled", "error", err)
	}

	go t.pollLoop(ctx)
	t.logger.Info("telegram channel started")
	return nil
}

// Stop signals the polling loop to stop and waits for in-flight handlers.
func (t *TelegramChannel) Stop(_ context.Context) error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.wg.Wait()
	return nil
}

// Name implements domain.Channel.
func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
			updates, err := t.getUpdates(ctx)
			if err != nil {
				t.logger.Warn("telegram getUpdates failed", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}

			for _, u := range updates {
				if u.UpdateID >= t.offset {
					t.offset = u.UpdateID + 1
				}
				t.dispatch(ctx, u)
			}
		}
	}
}

// dispatch filters one update and hands it to the message handler on its own
// goroutine, so a slow stream never stalls polling.
func (t *TelegramChannel) dispatch(ctx context.Context, u telegramUpdate) {
	if u.Message == nil {
		return
	}
	content := u.Message.Text
	if content == "" {
		content = u.Message.Caption
	}
	if content == "" {
		return
	}

	isMention := t.hasBotMention(u.Message)
	isGroup := u.Message.Chat.Type != "" && u.Message.Chat.Type != "private"
	if t.mentionOnly && isGroup && !isMention {
		return
	}
	if isMention {
		content = strings.TrimSpace(strings.ReplaceAll(content, "@"+t.botUsername, ""))
	}

	chatID := u.Message.Chat.ID
	msg := domain.InboundMessage{
		Platform:  domain.PlatformTelegram,
		Content:   content,
		IsMention: isGroup && isMention,
	}
	if isGroup {
		msg.ChannelID = strconv.FormatInt(chatID, 10)
	}
	if u.Message.From != nil {
		msg.SenderID = strconv.FormatInt(u.Message.From.ID, 10)
		name := u.Message.From.FirstName
		if u.Message.From.LastName != "" {
			name += " " + u.Message.From.LastName
		}
		msg.SenderName = name
	}
	if u.Message.MessageThreadID != 0 {
		msg.ThreadID = strconv.FormatInt(u.Message.MessageThreadID, 10)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("telegram handler panicked", "panic", r, "chat_id", chatID)
			}
		}()
		if err := t.handleMessage(ctx, chatID, u.Message.MessageThreadID, msg); err != nil {
			t.logger.Error("telegram handler error", "error", err, "chat_id", chatID)
		}
	}()
}

// handleMessage opens the placeholder reply and runs the handler against a
// display bound to it.
func (t *TelegramChannel) handleMessage(ctx context.Context, chatID, threadID int64, msg domain.InboundMessage) error {
	placeholderID, err := t.sendMessage(ctx, chatID, typingPlaceholder, threadID)
	if err != nil {
		return fmt.Errorf("send placeholder: %w", err)
	}

	editor := t.editorFor(chatID, placeholderID)
	d := domain.Display{
		Editor: editor,
		NewMessage: func(ctx context.Context, initialText string) (domain.MessageEditor, error) {
			id, err := t.sendMessage(ctx, chatID, initialText, threadID)
			if err != nil {
				return nil, err
			}
			return t.editorFor(chatID, id), nil
		},
		ShowAuthPrompt: func(ctx context.Context, authURL string) error {
			return editor(ctx, AuthPromptText(authURL))
		},
		ShowError: editor,
	}
	return t.handler(ctx, msg, d)
}

func (t *TelegramChannel) editorFor(chatID, messageID int64) domain.MessageEditor {
	return func(ctx context.Context, text string) error {
		return t.editMessageText(ctx, chatID, messageID, text)
	}
}

// hasBotMention checks if any entity in the message mentions the bot.
func (t *TelegramChannel) hasBotMention(msg *telegramMessage) bool {
	if t.botUsername == "" {
		return false
	}
	for _, e := range msg.Entities {
		if e.Type == "mention" {
			end := e.Offset + e.Length
			if end <= int64(len(msg.Text)) {
				mention := msg.Text[e.Offset:end]
				if strings.EqualFold(mention, "@"+t.botUsername) {
					return true
				}
			}
		}
	}
	return false
}

// --- Telegram Bot API types ---

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type telegramEntity struct {
	Type   string `json:"type"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID       int64            `json:"message_id"`
	From            *telegramUser    `json:"from,omitempty"`
	Chat            telegramChat     `json:"chat"`
	Text            string           `json:"text"`
	Caption         string           `json:"caption"`
	MessageThreadID int64            `json:"message_thread_id,omitempty"`
	Entities        []telegramEntity `json:"entities,omitempty"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type telegramUpdateResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

type telegramSendRequest struct {
	ChatID          int64  `json:"chat_id"`
	Text            string `json:"text"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
}

type telegramEditRequest struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type telegramSendResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

type telegramGetMeResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Username string `json:"username"`
	} `json:"result"`
}

func (t *TelegramChannel) getMe(ctx context.Context) (string, error) {
	var result telegramGetMeResponse
	if err := t.call(ctx, http.MethodGet, "getMe", nil, &result); err != nil {
		return "", err
	}
	if !result.OK || result.Result.Username == "" {
		return "", fmt.Errorf("getMe returned ok=%v username=%q", result.OK, result.Result.Username)
	}
	return result.Result.Username, nil
}

func (t *TelegramChannel) getUpdates(ctx context.Context) ([]telegramUpdate, error) {
	path := fmt.Sprintf("getUpdates?offset=%d&timeout=30", t.offset)
	var result telegramUpdateResponse
	if err := t.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram API returned ok=false")
	}
	return result.Result, nil
}

func (t *TelegramChannel) sendMessage(ctx context.Context, chatID int64, text string, threadID int64) (int64, error) {
	var result telegramSendResponse
	err := t.call(ctx, http.MethodPost, "sendMessage", telegramSendRequest{
		ChatID:          chatID,
		Text:            text,
		MessageThreadID: threadID,
	}, &result)
	if err != nil {
		return 0, err
	}
	if !result.OK {
		return 0, fmt.Errorf("telegram sendMessage returned ok=false")
	}
	return result.Result.MessageID, nil
}

func (t *TelegramChannel) editMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	var result telegramSendResponse
	err := t.call(ctx, http.MethodPost, "editMessageText", telegramEditRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}, &result)
	if err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("telegram editMessageText returned ok=false")
	}
	return nil
}

// call performs one Bot API request and decodes the reply into out.
func (t *TelegramChannel) call(ctx context.Context, method, path string, payload, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, path)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

var _ domain.Channel = (*TelegramChannel)(nil)
