package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	"botbridge/internal/domain"
)

// linkTokenResponse is the backend's create-link-token reply.
type linkTokenResponse struct {
	Token   string `json:"token"`
	AuthURL string `json:"auth_url"`
}

// CreateLink implements domain.AuthLinker.
func (c *Client) CreateLink(ctx context.Context, platform domain.Platform, platformUserID string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"platform":         string(platform),
		"platform_user_id": platformUserID,
	})
	if err != nil {
		return "", domain.WrapOp("encode link request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+linkTokenPath, bytes.NewReader(body))
	if err != nil {
		return "", domain.WrapOp("build link request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.calls.Do(req)
	if err != nil {
		return "", domain.WrapOp("create link token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var lt linkTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lt); err != nil {
		return "", domain.WrapOp("decode link token", err)
	}
	if lt.AuthURL == "" {
		return "", errors.New("backend returned empty auth URL")
	}
	return lt.AuthURL, nil
}

// authStatusResponse is the backend's auth-status reply.
type authStatusResponse struct {
	Authenticated bool `json:"authenticated"`
}

// CheckAuth implements domain.AuthChecker.
func (c *Client) CheckAuth(ctx context.Context, platform domain.Platform, platformUserID string) (bool, error) {
	u := fmt.Sprintf("%s%s/%s/%s", c.baseURL, authStatusPath,
		url.PathEscape(string(platform)), url.PathEscape(platformUserID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, domain.WrapOp("build auth-status request", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.calls.Do(req)
	if err != nil {
		return false, domain.WrapOp("check auth status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}

	var st authStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return false, domain.WrapOp("decode auth status", err)
	}
	return st.Authenticated, nil
}

// LinkBreaker wraps an AuthLinker with a circuit breaker so a dead backend
// fails link generation fast instead of stalling every bot handler on a
// timing-out HTTP call.
type LinkBreaker struct {
	inner   domain.AuthLinker
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewLinkBreaker wraps inner with circuit breaker protection.
func NewLinkBreaker(inner domain.AuthLinker, logger *slog.Logger) *LinkBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "backend:auth-link",
		MaxRequests: 1, // one trial request in half-open
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &LinkBreaker{inner: inner, breaker: cb, logger: logger}
}

// CreateLink implements domain.AuthLinker through the breaker.
func (b *LinkBreaker) CreateLink(ctx context.Context, platform domain.Platform, platformUserID string) (string, error) {
	u, err := b.breaker.Execute(func() (string, error) {
		return b.inner.CreateLink(ctx, platform, platformUserID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %w", domain.ErrBackendUnready, err)
		}
		return "", err
	}
	return u, nil
}

// State exposes the breaker state for monitoring.
func (b *LinkBreaker) State() gobreaker.State { return b.breaker.State() }

var (
	_ domain.AuthLinker  = (*Client)(nil)
	_ domain.AuthChecker = (*Client)(nil)
	_ domain.AuthLinker  = (*LinkBreaker)(nil)
)
