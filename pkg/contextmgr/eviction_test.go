package contextmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchanges builds alternating user/assistant turns, one pair per priority.
func exchanges(priorities ...int) []Turn {
	c := NewConversation()
	for _, p := range priorities {
		c.Append(RoleUser, "q", p).Append(RoleAssistant, "a", p)
	}
	return c.Active()
}

func TestFindEvictionSpan(t *testing.T) {
	tests := []struct {
		name  string
		turns []Turn
		want  Span
	}{
		{"single exchange", exchanges(3), Span{0, 2}},
		{"lowest in the middle", exchanges(5, 1, 9), Span{2, 4}},
		{"tie goes to the later span", exchanges(5, 1, 9, 1), Span{6, 8}},
		{"adjacent tie restarts span", exchanges(1, 1), Span{2, 4}},
		{"span closes at next user turn at or above it", exchanges(4, 6, 2, 3, 7), Span{4, 6}},
		{"open span runs to end", exchanges(9, 2), Span{2, 4}},
		{"forget priority goes first", exchanges(0, PriorityForget, 0), Span{2, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := FindEvictionSpan(tt.turns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, span)
		})
	}
}

func TestFindEvictionSpanSkipsSystemTurns(t *testing.T) {
	c := NewConversationWithSystem("rules")
	c.Append(RoleUser, "q", 4).Append(RoleAssistant, "a", 4)

	span, err := FindEvictionSpan(c.Active())
	require.NoError(t, err)
	assert.Equal(t, Span{1, 3}, span)
	assert.Equal(t, 2, span.Len())
}

func TestFindEvictionSpanCriticalOnlyWhenAllCritical(t *testing.T) {
	c := NewConversation()
	c.Append(RoleUser, "pinned", PriorityCritical).Append(RoleAssistant, "ok", PriorityCritical)
	c.Append(RoleUser, "chatter", 0).Append(RoleAssistant, "ok", 0)

	span, err := FindEvictionSpan(c.Active())
	require.NoError(t, err)
	assert.Equal(t, Span{2, 4}, span)

	span, err = FindEvictionSpan(exchanges(PriorityCritical, PriorityCritical))
	require.NoError(t, err)
	assert.Equal(t, Span{2, 4}, span)
}

func TestFindEvictionSpanWithoutUserTurns(t *testing.T) {
	_, err := FindEvictionSpan(nil)
	require.ErrorIs(t, err, ErrWindowExhausted)

	_, err = FindEvictionSpan(NewConversationWithSystem("rules").Active())
	require.ErrorIs(t, err, ErrWindowExhausted)
}

func TestFindEvictionSpanDoesNotMutateInput(t *testing.T) {
	turns := exchanges(5, 1, 9, 1)
	before := append([]Turn(nil), turns...)

	_, err := FindEvictionSpan(turns)
	require.NoError(t, err)
	assert.Equal(t, before, turns)
}

func TestEvictRemovesSpanFromActiveOnly(t *testing.T) {
	c := NewConversation()
	for _, p := range []int{5, 1, 9, 1} {
		c.Append(RoleUser, "q", p).Append(RoleAssistant, "a", p)
	}

	span, err := c.Evict(-1)
	require.NoError(t, err)
	assert.Equal(t, Span{6, 8}, span)
	assert.Equal(t, 6, c.Len())
	assert.Equal(t, 8, c.HistoryLen())

	// The earlier priority-1 exchange is next.
	span, err = c.Evict(-1)
	require.NoError(t, err)
	assert.Equal(t, Span{2, 4}, span)
}

func TestEvictHonoursPinnedTail(t *testing.T) {
	c := NewConversation()
	c.Append(RoleUser, "old", 3).Append(RoleAssistant, "a", 3)
	c.Append(RoleUser, "in flight", 0)

	span, err := c.Evict(c.Len() - 1)
	require.NoError(t, err)
	assert.Equal(t, Span{0, 2}, span)

	last, err := c.Last()
	require.NoError(t, err)
	assert.Equal(t, "in flight", last.Content)

	_, err = c.Evict(c.Len() - 1)
	require.ErrorIs(t, err, ErrWindowExhausted)
}

func TestEvictUntilExhausted(t *testing.T) {
	c := NewConversationWithSystem("rules")
	c.Append(RoleUser, "q1", 2).Append(RoleAssistant, "a1", 2).Append(RoleUser, "q2", 3).Append(RoleAssistant, "a2", 3)

	for c.Len() > 1 {
		_, err := c.Evict(-1)
		require.NoError(t, err)
	}

	_, err := c.Evict(-1)
	require.ErrorIs(t, err, ErrWindowExhausted)
	_, err = c.Evict(-1)
	require.ErrorIs(t, err, ErrWindowExhausted)

	empty := NewConversation()
	_, err = empty.Evict(-1)
	require.ErrorIs(t, err, ErrWindowExhausted)
	_, err = empty.Evict(-1)
	require.ErrorIs(t, err, ErrWindowExhausted)
}
