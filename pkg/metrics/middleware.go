package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/d-lowl/cblit/pkg/config"
	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llmerrors"
	"github.com/d-lowl/cblit/pkg/logx"
	"github.com/d-lowl/cblit/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor returns token usage for a finished request.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// EstimatingUsageExtractor prefers the provider's own accounting and falls back to
// a tiktoken estimate when the provider reported nothing.
func EstimatingUsageExtractor(counter *utils.TokenCounter) UsageExtractor {
	return func(req llm.CompletionRequest, resp llm.CompletionResponse) (int, int) {
		if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
			return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		prompt := 0
		for i := range req.Messages {
			prompt += counter.CountMessage(string(req.Messages[i].Role), req.Messages[i].Content)
		}
		return prompt, counter.CountTokens(resp.Content)
	}
}

// Middleware returns a middleware function that records metrics for remote completions.
// It tracks request latency, token usage, cost, and error types. The session label
// comes from logx.WithSessionID on the request context.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			start := time.Now()
			model := next.GetModelName()

			resp, err := next.Complete(ctx, req)
			duration := time.Since(start)

			var promptTokens, completionTokens int
			if err == nil && usageExtractor != nil {
				promptTokens, completionTokens = usageExtractor(req, resp)
			}

			errorType := ""
			if err != nil {
				errorType = ErrorLabel(err)
			}

			sessionID := logx.SessionID(ctx)
			cost := config.CalculateCost(model, promptTokens, completionTokens)
			recorder.ObserveRequest(model, sessionID, promptTokens, completionTokens, cost, err == nil, errorType, duration)

			if logger != nil {
				status := statusSuccess
				if err != nil {
					status = statusError
				}
				logger.Debug("request: model=%s session=%s tokens=%d+%d status=%s duration=%dms",
					model, sessionID, promptTokens, completionTokens, status, duration.Milliseconds())
			}

			return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
		}, next)
	}
}

// ErrorLabel classifies errors for metrics labeling.
func ErrorLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}
	return "unknown"
}
