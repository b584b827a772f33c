package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingMiddleware(name string, trace *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			*trace = append(*trace, name)
			return next.Complete(ctx, req)
		}, next)
	}
}

func TestWrapClientDelegatesModelName(t *testing.T) {
	base := NewMockClient("base-model", Reply("hi", Usage{}))

	client := WrapClient(func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		resp, err := base.Complete(ctx, req)
		resp.Content = "wrapped " + resp.Content
		return resp, err
	}, base)

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	require.NoError(t, err)
	assert.Equal(t, "wrapped hi", resp.Content)
	assert.Equal(t, "base-model", client.GetModelName())
}

func TestChainOrder(t *testing.T) {
	var trace []string
	base := NewMockClient("m", Reply("ok", Usage{}))

	client := Chain(base,
		recordingMiddleware("outer", &trace),
		recordingMiddleware("middle", &trace),
		recordingMiddleware("inner", &trace),
	)

	_, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "middle", "inner"}, trace)
}

func TestChainNoMiddleware(t *testing.T) {
	base := NewMockClient("m")
	assert.Same(t, base, Chain(base))
}

func TestMockClientScript(t *testing.T) {
	boom := errors.New("boom")
	mock := NewMockClient("m", Reply("first", Usage{TotalTokens: 3}), Fail(boom))
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("x")})

	resp, err := mock.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)
	assert.Equal(t, 3, resp.Usage.TotalTokens)

	_, err = mock.Complete(context.Background(), req)
	assert.ErrorIs(t, err, boom)

	_, err = mock.Complete(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, 3, mock.Calls())
	assert.Zero(t, mock.Remaining())
}

func TestMockClientHandlerAfterScript(t *testing.T) {
	mock := NewMockClient("m")
	mock.Handler = func(req CompletionRequest) (CompletionResponse, error) {
		return CompletionResponse{Content: req.Messages[len(req.Messages)-1].Content}, nil
	}

	resp, err := mock.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("echo")}))
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Content)
}

func TestMockClientRecordsCopies(t *testing.T) {
	mock := NewMockClient("m", Reply("a", Usage{}))
	msgs := []CompletionMessage{NewUserMessage("original")}

	_, err := mock.Complete(context.Background(), NewCompletionRequest(msgs))
	require.NoError(t, err)
	msgs[0].Content = "mutated"

	assert.Equal(t, "original", mock.Requests()[0].Messages[0].Content)
}

func TestMockClientHonoursCancelledContext(t *testing.T) {
	mock := NewMockClient("m", Reply("unused", Usage{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Complete(ctx, NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.Remaining())
}
