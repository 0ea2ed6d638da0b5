package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, e.Body)
}

// EmptyContentError is a 2xx response without usable content.
type EmptyContentError struct {
	FinishReason string
	Snippet      string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("llm request: empty content (finish_reason=%q): %s", e.FinishReason, e.Snippet)
}

func (c *Client) backoff(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= c.retryAttempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *StatusError
	var emptyErr *EmptyContentError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		retryable := statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
		if !retryable {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return min(statusErr.RetryAfter, c.retryMax), true
		}
		return c.delayFor(attempt), true
	case errors.As(err, &emptyErr):
		return c.delayFor(attempt), true
	case errors.As(err, &netErr) && netErr.Timeout():
		return c.delayFor(attempt), true
	}
	return 0, false
}

// delayFor doubles the base delay per attempt up to retryMax.
func (c *Client) delayFor(attempt int) time.Duration {
	if c.retryBase <= 0 {
		return 0
	}
	delay := c.retryBase
	for i := 1; i < attempt && delay < c.retryMax; i++ {
		delay *= 2
	}
	if c.retryMax > 0 && delay > c.retryMax {
		delay = c.retryMax
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}
