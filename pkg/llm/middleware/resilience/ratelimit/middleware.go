package ratelimit

import (
	"context"
	"time"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/metrics"
)

// Middleware returns a middleware function that wraps an LLM client with rate limiting.
// It reserves the estimated prompt plus the requested reply budget before each call.
func Middleware(limiterMap *ProviderLimiterMap, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			model := next.GetModelName()

			limiter, err := limiterMap.GetLimiter(model)
			if err != nil {
				recorder.IncThrottle(model, "no_limiter")
				return llm.CompletionResponse{}, err
			}

			tokens := estimator.EstimatePrompt(req) + req.MaxTokens

			start := time.Now()
			release, err := limiter.Acquire(ctx, tokens)
			recorder.ObserveQueueWait(model, time.Since(start))
			if err != nil {
				recorder.IncThrottle(model, "acquire_failed")
				return llm.CompletionResponse{}, err
			}
			defer release()

			return next.Complete(ctx, req)
		}, next)
	}
}
