package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockStep is one scripted outcome of a MockClient call.
type MockStep struct {
	Response CompletionResponse
	Err      error
}

// MockClient is a scripted LLMClient for tests. Steps are consumed in order;
// when a Handler is set it is consulted once the script runs out.
type MockClient struct {
	Handler func(req CompletionRequest) (CompletionResponse, error)

	model    string
	steps    []MockStep
	requests []CompletionRequest
	mu       sync.Mutex
}

// NewMockClient creates a mock client that replays steps.
func NewMockClient(model string, steps ...MockStep) *MockClient {
	return &MockClient{model: model, steps: steps}
}

// Reply is a convenience step for a complete reply.
func Reply(content string, usage Usage) MockStep {
	return MockStep{Response: CompletionResponse{Content: content, StopReason: StopReasonEndTurn, Usage: usage}}
}

// Fail is a convenience step for an error outcome.
func Fail(err error) MockStep {
	return MockStep{Err: err}
}

// Push appends more steps to the script.
func (m *MockClient) Push(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Complete returns the next scripted step, recording the request.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	recorded := req
	recorded.Messages = append([]CompletionMessage(nil), req.Messages...)
	m.requests = append(m.requests, recorded)

	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return CompletionResponse{}, err
	}

	if len(m.steps) > 0 {
		step := m.steps[0]
		m.steps = m.steps[1:]
		m.mu.Unlock()
		return step.Response, step.Err
	}
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return CompletionResponse{}, fmt.Errorf("mock client: no more responses")
}

// GetModelName returns the configured model name.
func (m *MockClient) GetModelName() string {
	return m.model
}

// Requests returns copies of every request received so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of Complete invocations.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Remaining returns the number of unconsumed scripted steps.
func (m *MockClient) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}
