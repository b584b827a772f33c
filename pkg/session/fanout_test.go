package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llmerrors"
)

func TestSendAllKeepsJobOrder(t *testing.T) {
	var jobs []Job
	for i := 0; i < 5; i++ {
		mock := llm.NewMockClient(testModel, llm.Reply(fmt.Sprintf("reply %d", i), usage(2, 1)))
		jobs = append(jobs, Job{Session: New(mock), Content: fmt.Sprintf("applicant %d", i), Priority: i})
	}

	results := SendAll(context.Background(), jobs, 2)
	require.Len(t, results, len(jobs))
	for i, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, fmt.Sprintf("reply %d", i), res.Reply)
		assert.Equal(t, 2, jobs[i].Session.Conversation().Len())
	}
}

func TestSendAllFailuresAreIndependent(t *testing.T) {
	ok := New(llm.NewMockClient(testModel, llm.Reply("stamped", usage(3, 1))))
	failing := New(llm.NewMockClient(testModel, llm.Fail(llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"))))

	results := SendAll(context.Background(), []Job{
		{Session: failing, Content: "first"},
		{Session: ok, Content: "second"},
	}, 0)

	require.ErrorIs(t, results[0].Err, ErrRemoteFailure)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "stamped", results[1].Reply)
	assert.Equal(t, NewUsage(3, 1), ok.Usage())
	assert.True(t, failing.Usage().IsZero())
}

func TestSendAllRejectsSharedSession(t *testing.T) {
	mock := llm.NewMockClient(testModel, llm.Reply("once", usage(1, 1)), llm.Reply("twice", usage(1, 1)))
	s := New(mock)

	results := SendAll(context.Background(), []Job{
		{Session: s, Content: "a"},
		{Session: s, Content: "b"},
	}, 0)

	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, ErrSessionShared)
	assert.Equal(t, 1, mock.Calls())
}

func TestSendAllReportsMissingSession(t *testing.T) {
	mock := llm.NewMockClient(testModel, llm.Reply("stamped", usage(2, 1)))

	results := SendAll(context.Background(), []Job{
		{Content: "orphan"},
		{Session: New(mock), Content: "papers"},
	}, 0)

	require.ErrorIs(t, results[0].Err, ErrNoSession)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "stamped", results[1].Reply)
}

func TestSendAllRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	handler := func(llm.CompletionRequest) (llm.CompletionResponse, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		defer inFlight.Add(-1)
		return llm.CompletionResponse{Content: "ok", StopReason: llm.StopReasonEndTurn, Usage: usage(1, 1)}, nil
	}

	jobs := make([]Job, 8)
	for i := range jobs {
		mock := llm.NewMockClient(testModel)
		mock.Handler = handler
		jobs[i] = Job{Session: New(mock), Content: "hello"}
	}

	for _, res := range SendAll(context.Background(), jobs, 3) {
		require.NoError(t, res.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
