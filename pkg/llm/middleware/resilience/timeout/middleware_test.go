package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lowl/cblit/pkg/llm"
)

func TestMiddlewareAppliesDeadline(t *testing.T) {
	base := llm.NewMockClient("m")
	base.Handler = func(llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "late"}, nil
	}

	var sawDeadline bool
	probe := func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			_, sawDeadline = ctx.Deadline()
			return next.Complete(ctx, req)
		}, next)
	}

	client := llm.Chain(base, Middleware(time.Minute), probe)
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")}))
	require.NoError(t, err)
	assert.Equal(t, "late", resp.Content)
	assert.True(t, sawDeadline)
}

func TestMiddlewareDisabled(t *testing.T) {
	base := llm.NewMockClient("m")
	assert.Same(t, llm.LLMClient(base), Middleware(0)(base))
}
