// Package apiclient checks that a downstream API accepts the session's access token.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	RouteHealth      = "/health"
	RouteUserProfile = "/api/user/profile"

	// DefaultSuitePause is the wait between suite checks.
	DefaultSuitePause = 500 * time.Millisecond

	// DefaultRetryMax is how many times a check is retried after a connection error or a
	// 5xx/429 response.
	DefaultRetryMax = 2
)

// TokenSource hands out bearer tokens. The session coordinator satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Result is the outcome of one check.
type Result struct {
	Name    string         `json:"name"`
	Success bool           `json:"success"`
	Status  int            `json:"status"` // 0 when no response was received
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Client calls the API with the session's bearer token.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *retryablehttp.Client
	logger     zerolog.Logger
	pause      time.Duration
}

type Option func(*Client)

// WithHTTPClient sets the client the retrying transport sends through.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient = hc
	}
}

// WithRetry sets the retry count and backoff bounds. max 0 disables retries.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = max
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithSuitePause sets the wait between suite checks.
func WithSuitePause(d time.Duration) Option {
	return func(c *Client) {
		c.pause = d
	}
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.RetryMax = DefaultRetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	// Hand the last response back so a failing status can be reported
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: rc,
		logger:     log.Logger,
		pause:      DefaultSuitePause,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Logger = retryLogger{c.logger}
	return c
}

// retryLogger routes retryablehttp's logging into zerolog. Its chatter goes to debug.
type retryLogger struct {
	logger zerolog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// TestConnection calls the health endpoint.
func (c *Client) TestConnection(ctx context.Context) Result {
	return c.check(ctx, "Connection Test", RouteHealth, "API connection successful", "API connection failed")
}

// TestUserProfile fetches the signed-in user's profile.
func (c *Client) TestUserProfile(ctx context.Context) Result {
	return c.check(ctx, "User Profile Test", RouteUserProfile, "User profile retrieved successfully", "Failed to retrieve user profile")
}

// RunSuite runs every check in order, pausing between them. It stops early if ctx ends.
func (c *Client) RunSuite(ctx context.Context) []Result {
	checks := []func(context.Context) Result{c.TestConnection, c.TestUserProfile}

	results := make([]Result, 0, len(checks))
	for i, check := range checks {
		res := check(ctx)
		c.logger.Info().Str("check", res.Name).Bool("success", res.Success).Int("status", res.Status).Msg(res.Message)
		results = append(results, res)

		if i == len(checks)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return results
		case <-time.After(c.pause):
		}
	}
	return results
}

func (c *Client) check(ctx context.Context, name, route, okMessage, failMessage string) Result {
	res := Result{Name: name}

	accessToken, ok := c.tokens.AccessToken(ctx)
	if !ok {
		res.Message = "Not signed in"
		res.Error = "no access token available"
		return res
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+route, nil)
	if err != nil {
		res.Message = failMessage
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("route", route).Msg("API request failed")
		res.Message = "Network error"
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		res.Message = failMessage
		res.Error = fmt.Sprintf("read response: %v", err)
		return res
	}

	var data map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			data = nil
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Success = true
		res.Message = okMessage
		res.Data = data
		return res
	}

	res.Message = failMessage
	res.Error = "Unknown error"
	if msg, ok := data["message"].(string); ok && msg != "" {
		res.Error = msg
	}
	return res
}
