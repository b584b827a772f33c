package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llmerrors"
	"github.com/d-lowl/cblit/pkg/logx"
)

// Middleware returns a middleware function that wraps an LLM client with retry logic.
// Retryable failures are retried with exponential backoff; once attempts run out
// the last error is reported as ErrorTypeServiceUnavailable.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			var lastErr error

			for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
				if delay := policy.CalculateDelay(attempt); delay > 0 {
					timer := time.NewTimer(delay)
					select {
					case <-ctx.Done():
						timer.Stop()
						return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
					case <-timer.C:
					}
				}

				resp, err := next.Complete(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if !policy.ShouldRetry(err) {
					return llm.CompletionResponse{}, err //nolint:wrapcheck // Non-retryable errors pass through unchanged
				}
				if logger != nil && attempt < policy.Config.MaxAttempts {
					logger.Warn("attempt %d/%d failed (%s), retrying", attempt, policy.Config.MaxAttempts, llmerrors.TypeOf(err))
				}
			}

			return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
		}, next)
	}
}
