package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cadenza-player/cadenza/internal/config"
)

// TokenSource is the session artifact storage the client reads and writes.
// The client never caches tokens beyond a single request's lifetime.
type TokenSource interface {
	AccessToken() string
	RefreshToken() string
	StoreTokens(accessToken, refreshToken string) error
	ClearSession()
}

// Client is the single choke-point for every backend call: it attaches the
// bearer token, unwraps envelope responses, normalizes failures, and runs
// the single-flight token refresh protocol.
type Client struct {
	baseURL         string
	httpClient      *retryablehttp.Client
	limiter         *rate.Limiter
	tokens          TokenSource
	userAgent       string
	debug           bool
	devRefreshToken string

	refreshGroup singleflight.Group

	mu               sync.Mutex
	onSessionExpired func()

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

type requestOptions struct {
	// authExempt marks login/register style calls: a 401 is surfaced
	// directly and never triggers refresh or redirect.
	authExempt bool
	// noAuth skips the Authorization header entirely.
	noAuth bool
	// retried is set on the single post-refresh retry to prevent loops.
	retried bool
}

func NewClient(cfg *config.Config, tokens TokenSource) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.API.Retries
	retryClient.HTTPClient.Timeout = time.Duration(cfg.API.Timeout) * time.Second
	retryClient.Logger = nil

	if cfg.Debug {
		retryClient.Logger = &debugLogger{}
	}

	limiter := rate.NewLimiter(
		rate.Limit(cfg.API.RateLimit.RequestsPerSecond),
		cfg.API.RateLimit.BurstSize,
	)

	client := &Client{
		baseURL:         cfg.API.BaseURL,
		httpClient:      retryClient,
		limiter:         limiter,
		tokens:          tokens,
		userAgent:       cfg.API.UserAgent,
		debug:           cfg.Debug,
		devRefreshToken: cfg.Auth.DevRefreshToken,
	}

	client.debugLog("API client initialized - Base URL: %s, Debug: %v",
		cfg.API.BaseURL, cfg.Debug)

	return client
}

type debugLogger struct{}

func (d *debugLogger) Printf(format string, args ...interface{}) {
	log.Printf("[HTTP] "+format, args...)
}

func (c *Client) debugLog(format string, args ...interface{}) {
	if !c.debug {
		return
	}
	log.Printf("[API] "+format, args...)
}

// OnSessionExpired registers the redirect-to-login side effect invoked when
// the session is irrecoverably gone. Set once by the session provider.
func (c *Client) OnSessionExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionExpired = fn
}

func (c *Client) signalSessionExpired() {
	c.mu.Lock()
	fn := c.onSessionExpired
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Request performs an authenticated call and returns the unwrapped payload.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	return c.do(ctx, method, path, params, body, requestOptions{})
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}, opt requestOptions) ([]byte, error) {
	responseBody, status, err := c.execute(ctx, method, path, params, body, opt)
	if err != nil {
		return nil, err
	}

	if status < 400 {
		return unwrapEnvelope(responseBody), nil
	}

	c.errorCount.Add(1)
	message, fieldErrors := normalizeBody(responseBody, fmt.Sprintf("HTTP %d", status))

	switch status {
	case 401:
		if opt.authExempt {
			return nil, &Error{
				Kind:        KindAuthInvalid,
				Status:      status,
				Message:     message,
				FieldErrors: fieldErrors,
			}
		}
		return c.handleUnauthorized(ctx, method, path, params, body, opt, message)
	case 403:
		log.Printf("[API] access forbidden: %s %s: %s", method, path, message)
		return nil, &Error{Kind: KindForbidden, Status: status, Message: message}
	default:
		return nil, &Error{
			Kind:        KindHTTP,
			Status:      status,
			Message:     message,
			FieldErrors: fieldErrors,
		}
	}
}

// execute runs a single HTTP exchange with no refresh logic. It returns the
// raw body and status, or a normalized network error when no usable
// response was received.
func (c *Client) execute(ctx context.Context, method, path string, params url.Values, body interface{}, opt requestOptions) ([]byte, int, error) {
	startTime := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limit wait: %w", err)
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	c.requestCount.Add(1)

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if !opt.noAuth {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		log.Printf("[API] connectivity failure: %s %s after %v: %v",
			method, fullURL, time.Since(startTime), err)
		return nil, 0, &Error{
			Kind:    KindNetwork,
			Message: "no response received from server",
			cause:   err,
		}
	}

	responseBody, readErr := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.debugLog("Failed to close response body: %v", closeErr)
	}
	if readErr != nil {
		c.errorCount.Add(1)
		return nil, 0, &Error{
			Kind:    KindNetwork,
			Status:  resp.StatusCode,
			Message: "failed to read response body",
			cause:   readErr,
		}
	}

	c.debugLog("%s %s -> %d in %v", method, fullURL, resp.StatusCode, time.Since(startTime))

	return responseBody, resp.StatusCode, nil
}

// handleUnauthorized drives the refresh protocol for a 401 outside the auth
// endpoints. At most one refresh is in flight per client; concurrent callers
// suspend on the same flight and observe one uniform outcome. On success the
// triggering request is replayed exactly once with the new token.
func (c *Client) handleUnauthorized(ctx context.Context, method, path string, params url.Values, body interface{}, opt requestOptions, message string) ([]byte, error) {
	if opt.retried {
		c.debugLog("401 after refresh retry on %s %s, giving up", method, path)
		return nil, &Error{Kind: KindAuthExpired, Status: 401, Message: message}
	}

	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		c.debugLog("401 with no refresh token on %s %s", method, path)
		c.tokens.ClearSession()
		c.signalSessionExpired()
		return nil, &Error{Kind: KindAuthExpired, Status: 401, Message: message}
	}

	// Development sentinel: surface the 401 without destroying session
	// state or redirecting.
	if c.devRefreshToken != "" && refreshToken == c.devRefreshToken {
		c.debugLog("401 with dev refresh token on %s %s, skipping refresh", method, path)
		return nil, &Error{Kind: KindAuthExpired, Status: 401, Message: message}
	}

	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return c.doRefresh(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}

	opt.retried = true
	return c.do(ctx, method, path, params, body, opt)
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// doRefresh exchanges the refresh token for a new access token. Any failure
// here is fatal for the session: the store is cleared and the redirect hook
// fires before the error is shared with every suspended caller.
func (c *Client) doRefresh(ctx context.Context, refreshToken string) (string, error) {
	c.debugLog("Refreshing access token...")

	payload, err := c.do(ctx, "POST", "/auth/refresh",
		nil,
		map[string]string{"refreshToken": refreshToken},
		requestOptions{noAuth: true, authExempt: true, retried: true})
	if err != nil {
		c.debugLog("Token refresh failed: %v", err)
		return "", c.failRefresh("session refresh failed", err)
	}

	var refreshed refreshResponse
	if err := json.Unmarshal(payload, &refreshed); err != nil {
		return "", c.failRefresh("decode refresh response", err)
	}
	if refreshed.AccessToken == "" {
		return "", c.failRefresh("refresh response missing access token", nil)
	}

	if err := c.tokens.StoreTokens(refreshed.AccessToken, refreshed.RefreshToken); err != nil {
		return "", c.failRefresh("persist refreshed tokens", err)
	}

	c.debugLog("Token refresh succeeded")
	return refreshed.AccessToken, nil
}

func (c *Client) failRefresh(message string, cause error) error {
	c.tokens.ClearSession()
	c.signalSessionExpired()
	return &Error{Kind: KindRefreshFailed, Message: message, cause: cause}
}

// unwrapEnvelope strips the standard `{data, message, success}` wrapper and
// returns the inner payload; bodies without the wrapper pass through
// unchanged, so the operation is idempotent on already-unwrapped shapes.
func unwrapEnvelope(body []byte) []byte {
	var env struct {
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
		Success *bool           `json:"success"`
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return body
	}
	return env.Data
}

func (c *Client) Stats() map[string]interface{} {
	requests := c.requestCount.Load()
	errors := c.errorCount.Load()

	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	return map[string]interface{}{
		"total_requests": requests,
		"total_errors":   errors,
		"error_rate":     errorRate,
		"base_url":       c.baseURL,
	}
}
