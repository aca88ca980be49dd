package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"botbridge/internal/domain"
	"botbridge/internal/infra/config"
)

// apiKeyHeader authenticates the bot itself (not the end user) to the backend.
const apiKeyHeader = "X-Bot-Api-Key"

const (
	chatStreamPath  = "/api/v1/bot/chat-stream"
	chatMentionPath = "/api/v1/bot/chat-mention"
	linkTokenPath   = "/api/v1/bot/create-link-token"
	authStatusPath  = "/api/v1/bot/auth-status"
)

// Client talks to the assistant backend over HTTP. Streaming calls have no
// overall deadline (responses can take minutes); short calls like link-token
// creation use the configured timeout.
type Client struct {
	baseURL   string
	apiKey    string
	streaming *http.Client
	calls     *http.Client
	logger    *slog.Logger
}

// New builds a backend client from configuration.
func New(cfg config.BackendConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("backend timeout: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		streaming: &http.Client{Transport: transport},
		calls:     &http.Client{Transport: transport, Timeout: timeout},
		logger:    logger,
	}, nil
}

// chatPayload is the request body for both chat endpoints.
type chatPayload struct {
	Message        string `json:"message"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
	ChannelID      string `json:"channel_id,omitempty"`
}

// streamEvent is one SSE data payload. The backend sends a session_token
// event first, then text chunks, then exactly one terminal event with either
// done or error set. The bot endpoints translate their internal "response"
// chunks to "text" on the wire; "response" is kept as a tolerated alias.
type streamEvent struct {
	SessionToken   string `json:"session_token,omitempty"`
	Text           string `json:"text,omitempty"`
	Response       string `json:"response,omitempty"`
	Done           bool   `json:"done,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// chunk returns the incremental text carried by a chunk event, if any.
func (ev streamEvent) chunk() string {
	if ev.Text != "" {
		return ev.Text
	}
	return ev.Response
}

// ChatStream implements domain.StreamSource. Mention turns go to the
// unauthenticated mention endpoint; everything else to the session endpoint.
func (c *Client) ChatStream(req domain.ChatRequest) domain.StreamFn {
	path := chatStreamPath
	if req.Mention {
		path = chatMentionPath
	}
	return func(ctx context.Context, cb domain.StreamCallbacks) error {
		return c.stream(ctx, path, req, cb)
	}
}

func (c *Client) stream(ctx context.Context, path string, req domain.ChatRequest, cb domain.StreamCallbacks) error {
	body, err := json.Marshal(chatPayload{
		Message:        req.Message,
		Platform:       string(req.Platform),
		PlatformUserID: req.PlatformUserID,
		ChannelID:      req.ChannelID,
	})
	if err != nil {
		return domain.WrapOp("encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.WrapOp("build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.streaming.Do(httpReq)
	if err != nil {
		return domain.WrapOp("open chat stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var full strings.Builder
	terminal := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := bytes.TrimPrefix(line, []byte("data: "))

		// Guard line some SSE stacks append after the JSON terminal event.
		if bytes.Equal(data, []byte("[DONE]")) {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}

		switch {
		case ev.Error != "":
			terminal = true
			cb.OnError(wireError(ev.Error))
		case ev.Done:
			terminal = true
			cb.OnDone(full.String(), ev.ConversationID)
		case ev.SessionToken != "":
			c.logger.Debug("stream session opened")
		case ev.chunk() != "":
			text := ev.chunk()
			full.WriteString(text)
			cb.OnChunk(text)
		}
		if terminal {
			break
		}
	}

	if err := scanner.Err(); err != nil && !terminal {
		return domain.WrapOp("read chat stream", err)
	}
	if !terminal {
		// Connection ended cleanly without a terminal event. Surface what we
		// have rather than dropping the partial answer.
		cb.OnDone(full.String(), "")
	}
	return nil
}

// wireError maps the backend's error string to a domain error.
func wireError(msg string) error {
	if msg == domain.ErrNotAuthenticated.Error() {
		return domain.ErrNotAuthenticated
	}
	return fmt.Errorf("backend stream: %s", msg)
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

var _ domain.StreamSource = (*Client)(nil)
