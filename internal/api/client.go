// Package api is the HTTP JSON client for the finance backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finboard/internal/log"
)

const maxBodyBytes = 10 << 20

// Config holds client settings.
type Config struct {
	// BaseURL is the backend root, e.g. http://localhost:8000/api.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds each attempt (default: 10s).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// transient failures (default: 2).
	MaxRetries int

	// RetryBaseDelay is the first backoff delay, doubled per retry (default: 200ms).
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff (default: 5s).
	RetryMaxDelay time.Duration

	// HTTPClient overrides the pooled default client.
	HTTPClient *http.Client
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// Client talks to the backend REST API.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	cfg    Config
	logger *log.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = newHTTPClientWithPooling()
	}
	if logger == nil {
		logger = log.Discard()
	}

	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   hc,
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentAPI),
	}, nil
}

// newHTTPClientWithPooling keeps connections to the backend alive between
// dashboard refreshes. Per-request deadlines come from Config.Timeout.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Transport: transport}
}

// getJSON issues GET path?query and decodes the body into out, retrying
// transient failures with exponential backoff.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.attempt(ctx, path, query, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !Retryable(err) || attempt >= c.cfg.MaxRetries {
			return err
		}

		delay := backoff(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, attempt)
		c.logger.WarnContext(ctx, "Retrying backend request",
			log.FieldPath, path,
			log.FieldAttempt, attempt+1,
			log.FieldErrorType, Kind(err),
			log.FieldError, err,
			"delay", delay)
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (c *Client) attempt(ctx context.Context, path string, query url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := log.RequestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
			return fmt.Errorf("%w: GET %s after %s", ErrTimeout, path, c.cfg.Timeout)
		default:
			return fmt.Errorf("%w: GET %s: %w", ErrTransport, path, err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || isTimeout(err)) {
			return fmt.Errorf("%w: GET %s body after %s", ErrTimeout, path, c.cfg.Timeout)
		}
		return fmt.Errorf("%w: read GET %s body: %w", ErrTransport, path, err)
	}

	c.logger.DebugContext(ctx, "Backend request completed",
		log.FieldPath, path,
		log.FieldQuery, u.RawQuery,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrMalformedResponse, path, err)
	}
	return nil
}

// errorDetail extracts FastAPI style {"detail": ...} or envelope {"error": ...}.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(truncate(body, 200)))
	}
	if payload.Error != "" {
		return payload.Error
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(truncate(payload.Detail, 200)))
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
