package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/logger"
)

// Client is the HTTP implementation of Gateway against the provider's REST
// API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates an HTTP gateway client.
func NewClient(cfg config.ProviderConfig, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.WithComponent("provider-gateway"),
	}, nil
}

// VisitProfile opens a profile page and returns the observed snapshot.
func (c *Client) VisitProfile(ctx context.Context, req VisitProfileRequest) (*ProfileSnapshot, error) {
	var snapshot ProfileSnapshot
	if err := c.post(ctx, "/v1/profiles/visit", req, &snapshot); err != nil {
		return nil, err
	}
	snapshot.FetchedAt = time.Now().UTC()
	return &snapshot, nil
}

// SendConnectionRequest sends a connection invite.
func (c *Client) SendConnectionRequest(ctx context.Context, req ConnectionRequest) (*ActionResult, error) {
	return c.action(ctx, "/v1/invitations", req)
}

// CheckInvitationStatus checks whether a sent invite was accepted.
func (c *Client) CheckInvitationStatus(ctx context.Context, req InvitationStatusRequest) (*InvitationStatus, error) {
	var status InvitationStatus
	if err := c.post(ctx, "/v1/invitations/status", req, &status); err != nil {
		return nil, err
	}
	status.CheckedAt = time.Now().UTC()
	return &status, nil
}

// SendFollowUp sends a direct message.
func (c *Client) SendFollowUp(ctx context.Context, req FollowUpRequest) (*ActionResult, error) {
	return c.action(ctx, "/v1/messages", req)
}

// WithdrawRequest withdraws a pending invite.
func (c *Client) WithdrawRequest(ctx context.Context, req WithdrawInput) (*ActionResult, error) {
	return c.action(ctx, "/v1/invitations/withdraw", req)
}

// LikePost likes a post.
func (c *Client) LikePost(ctx context.Context, req PostActionRequest) (*ActionResult, error) {
	return c.action(ctx, "/v1/posts/like", req)
}

// CommentPost comments on a post.
func (c *Client) CommentPost(ctx context.Context, req CommentRequest) (*ActionResult, error) {
	return c.action(ctx, "/v1/posts/comment", req)
}

// GetOwnProfile fetches the sending account's own profile. Used as a cheap
// liveness probe for the account session.
func (c *Client) GetOwnProfile(ctx context.Context, req AccountRef) (*ProfileSnapshot, error) {
	var snapshot ProfileSnapshot
	if err := c.post(ctx, "/v1/me", req, &snapshot); err != nil {
		return nil, err
	}
	snapshot.FetchedAt = time.Now().UTC()
	return &snapshot, nil
}

func (c *Client) action(ctx context.Context, path string, payload any) (*ActionResult, error) {
	var result ActionResult
	if err := c.post(ctx, path, payload, &result); err != nil {
		return nil, err
	}
	if result.PerformedAt.IsZero() {
		result.PerformedAt = time.Now().UTC()
	}
	return &result, nil
}

// providerError is the provider's wire error envelope.
type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewError(ErrCodeUnknown, "request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(ErrCodeUnknown, "failed to decode response from %s: %v", path, err)
		}
		return nil
	}

	var provErr providerError
	_ = json.NewDecoder(resp.Body).Decode(&provErr)

	gwErr := c.classify(resp, provErr)
	c.log.Debug("provider call failed",
		"path", path,
		"status", resp.StatusCode,
		"code", gwErr.Code,
	)
	return gwErr
}

// classify maps an HTTP failure onto the gateway error taxonomy. The
// provider's own error code wins over the status code when present.
func (c *Client) classify(resp *http.Response, provErr providerError) *Error {
	switch provErr.Code {
	case string(ErrCodeDisconnectedAccount):
		return NewError(ErrCodeDisconnectedAccount, "%s", provErr.Message)
	case string(ErrCodeNotFound):
		return NewError(ErrCodeNotFound, "%s", provErr.Message)
	case string(ErrCodeRateLimited):
		return rateLimitedError(resp, provErr.Message)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(ErrCodeDisconnectedAccount, "provider rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return NewError(ErrCodeNotFound, "target not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimitedError(resp, "provider throttled request")
	default:
		return NewError(ErrCodeUnknown, "provider returned status %d: %s", resp.StatusCode, provErr.Message)
	}
}

func rateLimitedError(resp *http.Response, msg string) *Error {
	err := NewError(ErrCodeRateLimited, "%s", msg)
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, parseErr := strconv.Atoi(v); parseErr == nil {
			err.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return err
}
