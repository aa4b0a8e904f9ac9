package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"basegraph.app/parley/common/clock"
	"basegraph.app/parley/common/llm"
)

const (
	maxModelAttempts     = 3
	retryInitialInterval = time.Second
	retryMaxInterval     = 10 * time.Second
)

// ErrRetriesExhausted wraps the last transient error once every attempt failed.
var ErrRetriesExhausted = errors.New("model retries exhausted")

// retryingClient retries transient model failures in a bounded loop.
type retryingClient struct {
	inner llm.AgentClient
	clock clock.Clock
}

// NewRetryingClient wraps inner so transient failures (overload, 5xx, network)
// are retried up to three attempts with 1s, 2s delays.
func NewRetryingClient(inner llm.AgentClient, clk clock.Clock) llm.AgentClient {
	return &retryingClient{inner: inner, clock: clk}
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     retryInitialInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         retryMaxInterval,
	}
	b.Reset()
	return b
}

func (c *retryingClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	schedule := newRetryBackOff()

	for attempt := 1; ; attempt++ {
		resp, err := c.inner.ChatWithTools(ctx, req)
		if err == nil {
			if attempt > 1 {
				slog.InfoContext(ctx, "model call succeeded after retry", "attempt", attempt)
			}
			return resp, nil
		}

		if !llm.IsRetryable(ctx, err) {
			return nil, err
		}
		if attempt >= maxModelAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		delay := schedule.NextBackOff()
		slog.WarnContext(ctx, "retrying model call",
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err)

		if err := c.clock.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("waiting to retry model call: %w", err)
		}
	}
}

func (c *retryingClient) Model() string {
	return c.inner.Model()
}
