// Package httpx is the outbound HTTP layer used to reach tool processes.
// Only failures to establish a connection are retried; any response the
// server produces, including error statuses, is returned to the caller as is.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/cenkalti/backoff/v4"
)

// maxBodySize caps how much of a tool response is read.
const maxBodySize = 10 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, string(e.Body))
}

// Client performs requests against tool processes.
type Client struct {
	http            *http.Client
	connectRetries  int
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *common.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout of the underlying http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithConnectRetries sets how many times a failed connection attempt is retried.
func WithConnectRetries(n int) Option {
	return func(c *Client) { c.connectRetries = n }
}

// WithBackoff sets the initial and maximum wait between connection attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initialInterval = initial
		c.maxInterval = max
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client. Defaults: 10 connect retries, 1s initial backoff capped at 10s.
func New(logger *common.Logger, opts ...Option) *Client {
	c := &Client{
		http:            &http.Client{Timeout: 300 * time.Second},
		connectRetries:  10,
		initialInterval: time.Second,
		maxInterval:     10 * time.Second,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnectError reports whether err happened while establishing the connection.
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Do sends the request produced by build. build is called once per attempt
// so request bodies are fresh on every retry.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval
	bo.MaxElapsedTime = 0

	var (
		resp    *http.Response
		attempt int
		start   = time.Now()
	)
	op := func() error {
		attempt++
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.http.Do(req)
		if err != nil {
			if IsConnectError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug().
			Int("attempt", attempt).
			Dur("wait", wait).
			Str("error", err.Error()).
			Msg("connection failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.connectRetries, 0))), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("method", resp.Request.Method).
		Str("url", resp.Request.URL.String()).
		Int("status", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("tool request")
	return resp, nil
}

// Fetch runs Do and returns the body of a 2xx response. Other statuses become *StatusError.
func (c *Client) Fetch(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	resp, err := c.Do(ctx, build)
	if err != nil {
		return nil, err
	}
	body, err := ReadBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: body}
	}
	return body, nil
}

// GetJSON fetches url with GET and returns the 2xx body.
func (c *Client) GetJSON(ctx context.Context, url string) ([]byte, error) {
	return c.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

// ReadBody reads and closes a response body, bounded by maxBodySize.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
