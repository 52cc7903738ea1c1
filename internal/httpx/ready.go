package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNotReady is returned when the endpoint never answered 200 within the timeout.
	ErrNotReady = errors.New("endpoint not ready")
	// ErrAborted is returned when the abort channel closed while waiting.
	ErrAborted = errors.New("readiness wait aborted")
)

// WaitReady polls url with GET until it answers 200, the timeout elapses, or
// abort is closed (typically when the process behind url has exited).
// It returns the body of the first successful response.
func (c *Client) WaitReady(ctx context.Context, url string, timeout time.Duration, abort <-chan struct{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	aborted := make(chan struct{})
	go func() {
		select {
		case <-abort:
			close(aborted)
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	var (
		body     []byte
		lastErr  error
		attempts int
	)
	op := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		b, err := ReadBody(resp)
		if err != nil {
			lastErr = err
			return err
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = &StatusError{Status: resp.StatusCode, Body: b}
			return lastErr
		}
		body = b
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err == nil {
		c.logger.Debug().Str("url", url).Int("attempts", attempts).Msg("endpoint ready")
		return body, nil
	}

	select {
	case <-aborted:
		return nil, ErrAborted
	default:
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s after %s (%d attempts): %v", ErrNotReady, url, timeout, attempts, lastErr)
}
