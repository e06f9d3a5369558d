package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultAPIURL is the base of the Slack Web API
	DefaultAPIURL = "https://slack.com/api"

	_profileGet     = "users.profile.get"
	_profileSet     = "users.profile.set"
	_maxResponse    = 1 << 20
	_defaultTimeout = 10 * time.Second
)

// ErrRateLimited is returned when Slack answers 429.
// Use errors.As with *RateLimitError to read the Retry-After hint.
var ErrRateLimited = errors.New("slack rate limited")

// RateLimitError carries the Retry-After hint of a 429 response
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// APIError is returned when Slack answers ok:false
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed: %s", e.Method, e.Code)
}

type profile struct {
	StatusText       string `json:"status_text"`
	StatusEmoji      string `json:"status_emoji"`
	StatusExpiration int64  `json:"status_expiration"`
}

type profileResponse struct {
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
	Profile profile `json:"profile"`
}

type profileRequest struct {
	Profile profile `json:"profile"`
}

// Client reads and writes the user's Slack status through users.profile.get/set
type Client struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
	userID  string
}

// NewClient creates a client authenticated with a user OAuth token.
// An empty baseURL means DefaultAPIURL.
func NewClient(logger *zap.Logger, token, userID, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = _defaultTimeout
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	// A hung request must not block the publisher forever
	httpClient.Timeout = timeout

	return &Client{
		logger:  logger,
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
	}
}

// Read returns the user's current status
func (c *Client) Read(ctx context.Context) (domain.RemoteStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(_profileGet), nil)
	if err != nil {
		return domain.RemoteStatus{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, _profileGet)
	if err != nil {
		return domain.RemoteStatus{}, err
	}

	return toRemote(resp.Profile), nil
}

// Write replaces the user's status; a zero update clears it
func (c *Client) Write(ctx context.Context, update domain.StatusUpdate) error {
	body, err := json.Marshal(profileRequest{Profile: profile{
		StatusText:       update.Text,
		StatusEmoji:      update.Emoji,
		StatusExpiration: epoch(update.Expiration),
	}})
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(_profileSet), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	if _, err := c.do(req, _profileSet); err != nil {
		return err
	}

	c.logger.Debug("Slack status written",
		zap.String("text", update.Text),
		zap.String("emoji", update.Emoji))
	return nil
}

func (c *Client) endpoint(method string) string {
	q := url.Values{}
	q.Set("user", c.userID)
	return c.baseURL + "/" + method + "?" + q.Encode()
}

func (c *Client) do(req *http.Request, method string) (*profileResponse, error) {
	req.Header.Set("User-Agent", "slobbler/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code from %s: %d", method, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	var out profileResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !out.OK {
		return nil, &APIError{Method: method, Code: out.Error}
	}
	return &out, nil
}

func toRemote(p profile) domain.RemoteStatus {
	r := domain.RemoteStatus{Text: p.StatusText, Emoji: p.StatusEmoji}
	if p.StatusExpiration > 0 {
		r.Expiration = time.Unix(p.StatusExpiration, 0)
	}
	return r
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
