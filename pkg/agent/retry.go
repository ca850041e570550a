package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryingAgent wraps an agent in bounded exponential backoff. The graph
// engine performs no implicit retries of its own; a node that wants retry
// semantics wraps its agent with this decorator.
type RetryingAgent struct {
	inner      Agent
	maxRetries uint64
	interval   time.Duration
	logger     *slog.Logger
}

func NewRetryingAgent(inner Agent, maxRetries uint64, initialInterval time.Duration, logger *slog.Logger) *RetryingAgent {
	if initialInterval <= 0 {
		initialInterval = 500 * time.Millisecond
	}

	return &RetryingAgent{
		inner:      inner,
		maxRetries: maxRetries,
		interval:   initialInterval,
		logger:     logger,
	}
}

func (a *RetryingAgent) Call(ctx context.Context, req Request) (*Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.interval

	var resp *Response

	attempt := 0

	operation := func() error {
		attempt++

		var err error

		resp, err = a.inner.Call(ctx, req)
		if err != nil {
			a.logger.WarnContext(ctx, "Agent call failed, retrying",
				"attempt", attempt,
				"error", err,
			)
		}

		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, a.maxRetries), ctx))
	if err != nil {
		return nil, err
	}

	return resp, nil
}
