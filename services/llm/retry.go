package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

const (
	// retryAttempts is the number of additional attempts after the first
	// failure. Provider calls get exactly one retry.
	retryAttempts = 1

	// retryDelay is the pause before the retry attempt.
	retryDelay = 1 * time.Second
)

// RetryingClient wraps an LLMClient and retries transient provider
// failures once after a short delay. Non-retryable errors (auth,
// malformed request, context overflow) pass through immediately.
type RetryingClient struct {
	inner LLMClient
}

// WithRetry wraps a backend client with the standard retry policy.
func WithRetry(inner LLMClient) *RetryingClient {
	return &RetryingClient{inner: inner}
}

// Generate implements the LLMClient interface.
func (r *RetryingClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying LLM generate after transient failure",
				"attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay):
			}
		}
		out, err := r.inner.Generate(ctx, prompt, params)
		if err == nil {
			return out, nil
		}
		if !datatypes.IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// Chat implements the LLMClient interface.
func (r *RetryingClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error) {
	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying LLM chat after transient failure",
				"attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
		out, err := r.inner.Chat(ctx, messages, params)
		if err == nil {
			return out, nil
		}
		if !datatypes.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
