package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryingInvoker retries transient failures with exponential backoff.
// Permanent failures and caller cancellation surface immediately.
type retryingInvoker struct {
	inner          Invoker
	maxAttempts    int
	initialBackoff time.Duration
}

func (r *retryingInvoker) Invoke(ctx context.Context, systemPrompt string, useAuxiliaryTool bool) (string, error) {
	backoff := r.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		text, err := r.inner.Invoke(ctx, systemPrompt, useAuxiliaryTool)
		if err == nil {
			return text, nil
		}

		var invErr *InvocationError
		if !errors.As(err, &invErr) || !invErr.Transient() {
			return "", err
		}
		lastErr = err

		if attempt == r.maxAttempts {
			break
		}

		slog.WarnContext(ctx, "transient invocation failure, retrying",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", lastErr
}
