// Package providers implements llmadapter.Provider for Anthropic, OpenAI,
// and a local Ollama-compatible HTTP server.
package providers

import (
	"context"
	"errors"
	"time"
)

// ErrMissingAPIKey is returned by a remote provider constructed without a
// credential; the stream fails immediately rather than at the first
// request.
var ErrMissingAPIKey = errors.New("providers: api key is not configured")

// firstRetryDelay is the wait before the first retry; each subsequent
// retry multiplies it by retryBackoffFactor (200ms, then 1s).
const (
	firstRetryDelay    = 200 * time.Millisecond
	retryBackoffFactor = 5
	defaultMaxRetries  = 1
)

// Base holds the retry policy embedded by every concrete provider. The
// Anthropic and OpenAI providers run their requests through Retry, so
// transient failures (rate limits, 5xx) are retried with an exponential
// backoff starting at firstRetryDelay. The Ollama provider does not call
// Retry: it makes a single attempt and returns any failure as is.
type Base struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBase returns a Base with the given name and retry policy. maxRetries
// < 0 disables retrying; 0 uses the default of one retry.
func NewBase(name string, maxRetries int, retryDelay time.Duration) Base {
	if retryDelay <= 0 {
		retryDelay = firstRetryDelay
	}
	switch {
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	return Base{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

func (b Base) Name() string { return b.name }

// Retry calls op up to maxRetries+1 times with exponential backoff,
// stopping early if isRetryable returns false for the error op returned.
func (b Base) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	delay := b.retryDelay
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= retryBackoffFactor
		}
		lastErr = op()
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// cancelled reports whether a stream error is a cooperative cancellation
// rather than a fault, so providers close with finish_reason=cancelled
// instead of error.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
