package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llmerrors"
)

func TestNewOllamaClientWithModel(t *testing.T) {
	tests := []struct {
		name    string
		hostURL string
		model   string
	}{
		{"valid host and model", "http://localhost:11434", "phi4:latest"},
		{"custom host", "http://192.168.1.100:11434", "llama3.1:8b"},
		{"invalid URL falls back to default", "not-a-valid-url", "mistral:7b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOllamaClientWithModel(tt.hostURL, tt.model)
			require.NotNil(t, client)
			assert.Equal(t, tt.model, client.GetModelName())
		})
	}

	fallback, ok := NewOllamaClientWithModel("not-a-valid-url", "m").(*Client)
	require.True(t, ok)
	assert.Equal(t, defaultHost, fallback.hostURL)
}

func TestConvertMessagesToOllama(t *testing.T) {
	_, err := convertMessagesToOllama(nil)
	require.Error(t, err)

	out, err := convertMessagesToOllama([]llm.CompletionMessage{
		llm.NewSystemMessage("rules"),
		llm.NewUserMessage("hello"),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "hello", out[1].Content)
}

func TestGetStopReason(t *testing.T) {
	tests := []struct {
		resp api.ChatResponse
		want string
	}{
		{api.ChatResponse{Done: true, DoneReason: "stop"}, llm.StopReasonEndTurn},
		{api.ChatResponse{Done: true, DoneReason: "length"}, llm.StopReasonMaxTokens},
		{api.ChatResponse{Done: true}, llm.StopReasonEndTurn},
		{api.ChatResponse{Done: false}, "incomplete"},
		{api.ChatResponse{Done: true, DoneReason: "load"}, "load"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getStopReason(&tt.resp))
	}
}

func TestClassifyError(t *testing.T) {
	overflow := classifyError(api.StatusError{StatusCode: 400, ErrorMessage: "input length exceeds the context length"})
	assert.True(t, llmerrors.Is(overflow, llmerrors.ErrorTypeContextOverflow))

	missing := classifyError(api.StatusError{StatusCode: 404, ErrorMessage: `model "nope" not found`})
	assert.True(t, llmerrors.Is(missing, llmerrors.ErrorTypeBadPrompt))

	refused := classifyError(errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"))
	assert.True(t, llmerrors.Is(refused, llmerrors.ErrorTypeTransient))

	assert.ErrorIs(t, classifyError(context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestCompleteAgainstServer(t *testing.T) {
	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		// Chat responses are newline-delimited JSON, one object per line.
		_, _ = w.Write([]byte(`{"model":"phi4","created_at":"2024-01-01T00:00:00Z",` +
			`"message":{"role":"assistant","content":"Entry granted."},` +
			`"done":true,"done_reason":"stop","prompt_eval_count":14,"eval_count":3}` + "\n"))
	}))
	defer srv.Close()

	client := NewOllamaClientWithModel(srv.URL, "phi4")
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewUserMessage("May I enter?")},
		MaxTokens:   64,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "Entry granted.", resp.Content)
	assert.Equal(t, llm.StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 14, CompletionTokens: 3, TotalTokens: 17}, resp.Usage)
	assert.Equal(t, "phi4", got.Model)
	assert.EqualValues(t, 64, got.Options["num_predict"])
}
