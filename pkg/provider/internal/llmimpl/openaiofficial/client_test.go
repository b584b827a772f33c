package openaiofficial

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llmerrors"
)

func TestConvertMessages(t *testing.T) {
	_, err := convertMessages(nil)
	require.Error(t, err)

	out, err := convertMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("You are a border officer."),
		llm.NewUserMessage("Papers, please."),
		llm.NewAssistantMessage("Here."),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.NotNil(t, out[0].OfSystem)
	assert.NotNil(t, out[1].OfUser)
	assert.NotNil(t, out[2].OfAssistant)

	_, err = convertMessages([]llm.CompletionMessage{{Role: "tool", Content: "x"}})
	require.Error(t, err)
}

func TestStopReason(t *testing.T) {
	assert.Equal(t, llm.StopReasonMaxTokens, stopReason("length"))
	assert.Equal(t, llm.StopReasonEndTurn, stopReason("stop"))
	assert.Equal(t, llm.StopReasonEndTurn, stopReason(""))
	assert.Equal(t, "content_filter", stopReason("content_filter"))
}

func TestCompleteAgainstServer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "finish_reason": "length",
				"message": {"role": "assistant", "content": "The stamp is"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	client := NewOfficialClientWithModel("test-key", "gpt-3.5-turbo", srv.URL)
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewUserMessage("Stamp it.")},
		MaxTokens:   3,
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "The stamp is", resp.Content)
	assert.True(t, resp.LengthLimited())
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, resp.Usage)
	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.EqualValues(t, 3, got["max_completion_tokens"])
}

func TestCompleteClassifiesOverflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "This model's maximum context length is 4097 tokens.",
			"type": "invalid_request_error", "param": "messages", "code": "context_length_exceeded"}}`))
	}))
	defer srv.Close()

	client := NewOfficialClientWithModel("test-key", "gpt-3.5-turbo", srv.URL)
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeContextOverflow), "got %v", err)
}

func TestCompleteClassifiesAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`))
	}))
	defer srv.Close()

	client := NewOfficialClientWithModel("bad", "gpt-3.5-turbo", srv.URL)
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth), "got %v", err)
}
