// File: internal/network/client.go
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// retryStatuses are the gateway statuses that Get retries.
var retryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RequestOption decorates an outgoing request.
type RequestOption func(*http.Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// WithCookies attaches cookies, typically exported from the browser profile.
func WithCookies(cookies []*http.Cookie) RequestOption {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

// Client performs the small JSON exchanges with the term providers and the
// rewards endpoint. It is safe for concurrent use.
type Client struct {
	http         *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	retryBackoff time.Duration
	userAgent    string
	logger       *zap.Logger
}

// NewClient creates a Client using the configured transport.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http: &http.Client{
			Transport: NewHTTPTransport(cfg),
			Timeout:   cfg.RequestTimeout,
		},
		limiter:      rate.NewLimiter(limit, burst),
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		userAgent:    cfg.UserAgent,
		logger:       logger.Named("httpclient"),
	}
}

// newBackOff returns the retry schedule of Get: RetryBackoff doubling per
// retry, without jitter, for at most maxRetries retries.
func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0)))
}

// Get fetches url and returns the decoded body and the status code. Transport
// errors and 500/502/503/504 responses are retried with exponential backoff.
// Other statuses are returned to the caller as-is.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) ([]byte, int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil, opts)
	if err != nil {
		return nil, 0, err
	}

	var (
		body   []byte
		status int
	)
	operation := func() error {
		data, code, err := c.send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if retryStatuses[code] {
			return fmt.Errorf("server returned %d", code)
		}
		body, status = data, code
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Debug("Retrying request",
			zap.String("url", url),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("GET %s failed after %d retries: %w", url, c.maxRetries, err)
	}
	return body, status, nil
}

// PostJSON posts payload encoded as JSON. It is not retried.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, opts ...RequestOption) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode payload: %w", err)
	}
	opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	req, err := c.newRequest(ctx, http.MethodPost, url, data, opts)
	if err != nil {
		return nil, 0, err
	}
	return c.send(ctx, req)
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload []byte, opts []RequestOption) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for _, opt := range opts {
		opt(req)
	}
	return req, nil
}

// send waits for the rate limiter and performs req. Only bodyless requests
// may be sent more than once.
func (c *Client) send(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := decodeBody(resp.Body, resp.Header.Values("Content-Encoding"))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
