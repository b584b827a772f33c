package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llmerrors"
)

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}, nil)
}

func request() llm.CompletionRequest {
	return llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"rate limit", llmerrors.NewError(llmerrors.ErrorTypeRateLimit, ""), true},
		{"transient", llmerrors.NewError(llmerrors.ErrorTypeTransient, ""), true},
		{"empty", llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, ""), true},
		{"auth", llmerrors.NewError(llmerrors.ErrorTypeAuth, ""), false},
		{"overflow", llmerrors.NewError(llmerrors.ErrorTypeContextOverflow, ""), false},
		{"unclassified", errors.New("odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)

	assert.Zero(t, p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4))
}

func TestCalculateDelayJitterBounded(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2, Jitter: true}, nil)
	for i := 0; i < 50; i++ {
		d := p.CalculateDelay(2)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestMiddlewareRetriesTransient(t *testing.T) {
	base := llm.NewMockClient("m",
		llm.Fail(llmerrors.NewError(llmerrors.ErrorTypeTransient, "502")),
		llm.Reply("ok", llm.Usage{}),
	)
	client := llm.Chain(base, Middleware(fastPolicy(3), nil))

	resp, err := client.Complete(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, base.Calls())
}

func TestMiddlewarePassesOverflowThrough(t *testing.T) {
	overflow := llmerrors.NewError(llmerrors.ErrorTypeContextOverflow, "too long")
	base := llm.NewMockClient("m", llm.Fail(overflow), llm.Reply("unused", llm.Usage{}))
	client := llm.Chain(base, Middleware(fastPolicy(3), nil))

	_, err := client.Complete(context.Background(), request())
	assert.Same(t, overflow, err)
	assert.Equal(t, 1, base.Calls())
}

func TestMiddlewareExhaustionBecomesServiceUnavailable(t *testing.T) {
	transient := llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")
	base := llm.NewMockClient("m", llm.Fail(transient), llm.Fail(transient))
	client := llm.Chain(base, Middleware(fastPolicy(2), nil))

	_, err := client.Complete(context.Background(), request())
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 2, base.Calls())
}

func TestMiddlewareStopsOnCancel(t *testing.T) {
	base := llm.NewMockClient("m", llm.Fail(llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "")))
	policy := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}, nil)
	client := llm.Chain(base, Middleware(policy, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, base.Calls())
}

func TestNewPolicyClampsAttempts(t *testing.T) {
	assert.Equal(t, 1, NewPolicy(Config{}, nil).Config.MaxAttempts)
}
