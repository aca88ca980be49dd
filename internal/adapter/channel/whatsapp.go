package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"botbridge/internal/domain"
)

// WhatsAppChannel implements domain.Channel for the WhatsApp Cloud API.
// It runs a webhook server for receiving messages and uses the Graph API for
// sending. WhatsApp has no message editing, so the display's editor sends a
// fresh message per call; the channel is meant to run with streaming progress
// disabled.
type WhatsAppChannel struct {
	token         string // Graph API access token
	phoneNumberID string // sender phone number ID
	verifyToken   string // webhook verification token
	appSecret     string // for X-Hub-Signature-256 verification
	handler       domain.MessageHandler
	logger        *slog.Logger
	client        *http.Client // outbound API calls
	baseURL       string       // Graph API base (overridable for tests)
	server        *http.Server // webhook server
	webhookAddr   string       // ":3335"
	boundAddr     string       // actual bound address
	wg            sync.WaitGroup
}

// WhatsAppOption configures the WhatsApp channel.
type WhatsAppOption func(*WhatsAppChannel)

// WithWhatsAppBaseURL overrides the Graph API endpoint. Used in tests.
func WithWhatsAppBaseURL(u string) WhatsAppOption {
	return func(w *WhatsAppChannel) { w.baseURL = u }
}

// NewWhatsAppChannel creates a WhatsApp channel.
func NewWhatsAppChannel(token, phoneNumberID, verifyToken, appSecret, webhookAddr string, logger *slog.Logger, opts ...WhatsAppOption) *WhatsAppChannel {
	w := &WhatsAppChannel{
		token:         token,
		phoneNumberID: phoneNumberID,
		verifyToken:   verifyToken,
		appSecret:     appSecret,
		webhookAddr:   webhookAddr,
		logger:        logger,
		baseURL:       "https://graph.facebook.com",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start begins the webhook server. Non-blocking (starts in goroutine).
func (w *WhatsAppChannel) Start(ctx context.Context, handler domain.MessageHandler) error {
	w.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", w.handleWebhook)

	w.server = &http.Server{
		Addr:              w.webhookAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", w.webhookAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.webhookAddr, err)
	}
	w.boundAddr = ln.Addr().String()

	go func() {
		w.logger.Info("whatsapp webhook started", "addr", w.boundAddr)
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.logger.Error("whatsapp webhook server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the webhook server and waits for in-flight
// handlers.
func (w *WhatsAppChannel) Stop(ctx context.Context) error {
	if w.server != nil {
		if err := w.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	w.wg.Wait()
	return nil
}

// Name implements domain.Channel.
func (w *WhatsAppChannel) Name() string { return "whatsapp" }

// BoundAddr returns the actual bound address of the webhook server.
func (w *WhatsAppChannel) BoundAddr() string { return w.boundAddr }

func (w *WhatsAppChannel) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.handleVerification(rw, r)
	case http.MethodPost:
		w.handleIncoming(rw, r)
	default:
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification handles the Meta webhook verification challenge.
func (w *WhatsAppChannel) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.verifyToken {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte(challenge))
		return
	}

	http.Error(rw, "forbidden", http.StatusForbidden)
}

// handleIncoming processes incoming WhatsApp webhook payloads.
// Always returns 200 to prevent Meta from retrying.
func (w *WhatsAppChannel) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		w.logger.Warn("whatsapp read body error", "error", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	// Validate signature if app secret is configured.
	if w.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.validateSignature(body, sig) {
			w.logger.Warn("whatsapp invalid webhook signature")
			rw.WriteHeader(http.StatusOK)
			return
		}
	}

	var payload whatsappWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp unmarshal error", "error", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	w.processPayload(payload)

	rw.WriteHeader(http.StatusOK)
}

func (w *WhatsAppChannel) validateSignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(w.appSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return hmac.Equal(sig, expected)
}

func (w *WhatsAppChannel) processPayload(payload whatsappWebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				w.dispatch(msg, change.Value.Contacts)
			}
		}
	}
}

// dispatch hands one text message to the handler on its own goroutine. The
// webhook request must return 200 immediately; the stream runs detached.
func (w *WhatsAppChannel) dispatch(msg whatsappMessage, contacts []whatsappContact) {
	if msg.Type != "text" || msg.Text == nil || msg.Text.Body == "" {
		return
	}

	inbound := domain.InboundMessage{
		Platform: domain.PlatformWhatsApp,
		SenderID: msg.From,
		Content:  msg.Text.Body,
	}
	for _, c := range contacts {
		if c.WaID == msg.From && c.Profile.Name != "" {
			inbound.SenderName = c.Profile.Name
			break
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("whatsapp handler panicked", "panic", r, "from", msg.From)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if err := w.handler(ctx, inbound, w.displayFor(msg.From)); err != nil {
			w.logger.Error("whatsapp handler error", "error", err, "from", msg.From)
		}
	}()
}

// displayFor builds the rendering surface for one recipient. Every editor
// call sends a fresh message since WhatsApp cannot edit.
func (w *WhatsAppChannel) displayFor(to string) domain.Display {
	send := func(ctx context.Context, text string) error {
		return w.sendMessage(ctx, to, text)
	}
	return domain.Display{
		Editor: send,
		NewMessage: func(ctx context.Context, initialText string) (domain.MessageEditor, error) {
			if err := send(ctx, initialText); err != nil {
				return nil, err
			}
			return send, nil
		},
		ShowAuthPrompt: func(ctx context.Context, authURL string) error {
			return send(ctx, AuthPromptText(authURL))
		},
		ShowError: send,
	}
}

func (w *WhatsAppChannel) sendMessage(ctx context.Context, to, text string) error {
	url := fmt.Sprintf("%s/v21.0/%s/messages", w.baseURL, w.phoneNumberID)

	payload := whatsappSendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text: &whatsappSendText{
			Body: text,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("whatsapp API error %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// --- WhatsApp Cloud API types ---

type whatsappWebhookPayload struct {
	Object string          `json:"object"`
	Entry  []whatsappEntry `json:"entry"`
}

type whatsappEntry struct {
	ID      string           `json:"id"`
	Changes []whatsappChange `json:"changes"`
}

type whatsappChange struct {
	Field string              `json:"field"`
	Value whatsappChangeValue `json:"value"`
}

type whatsappChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         whatsappMetadata  `json:"metadata"`
	Contacts         []whatsappContact `json:"contacts"`
	Messages         []whatsappMessage `json:"messages"`
}

type whatsappMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type whatsappContact struct {
	WaID    string          `json:"wa_id"`
	Profile whatsappProfile `json:"profile"`
}

type whatsappProfile struct {
	Name string `json:"name"`
}

type whatsappMessage struct {
	From      string        `json:"from"`
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	Text      *whatsappText `json:"text,omitempty"`
}

type whatsappText struct {
	Body string `json:"body"`
}

type whatsappSendRequest struct {
	MessagingProduct string            `json:"messaging_product"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *whatsappSendText `json:"text,omitempty"`
}

type whatsappSendText struct {
	Body string `json:"body"`
}

var _ domain.Channel = (*WhatsAppChannel)(nil)
