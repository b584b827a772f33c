// Package contextmgr keeps the dialogue with a remote text-generation service:
// an append-only audit log of every turn plus the active window that is actually
// transmitted, and the priority policy that trims that window under capacity pressure.
package contextmgr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/utils"
)

// ErrEmptyHistory is returned when no turn matches a query.
var ErrEmptyHistory = errors.New("empty history")

// Conversation holds the full history and the active window of a dialogue.
// full_history only grows; active is an order-preserving sub-selection of it.
// A Conversation is not safe for concurrent mutation.
type Conversation struct {
	active      []Turn
	fullHistory []Turn
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		active:      make([]Turn, 0),
		fullHistory: make([]Turn, 0),
	}
}

// NewConversationWithSystem creates a conversation seeded with a critical system turn.
// An empty prompt seeds nothing.
func NewConversationWithSystem(systemPrompt string) *Conversation {
	c := NewConversation()
	if systemPrompt != "" {
		c.Append(RoleSystem, systemPrompt, PriorityCritical)
	}
	return c
}

// Append adds a turn to both the active window and the full history.
func (c *Conversation) Append(role Role, content string, priority int) *Conversation {
	turn := newTurn(len(c.fullHistory), role, content, priority)
	c.fullHistory = append(c.fullHistory, turn)
	c.active = append(c.active, turn)
	return c
}

// Record adds a turn to the full history only.
func (c *Conversation) Record(role Role, content string, priority int) Turn {
	turn := newTurn(len(c.fullHistory), role, content, priority)
	c.fullHistory = append(c.fullHistory, turn)
	return turn
}

// Last returns the most recent active turn, restricted to roles when any are given.
func (c *Conversation) Last(roles ...Role) (Turn, error) {
	return last(c.active, roles)
}

// LastInHistory is Last over the full history.
func (c *Conversation) LastInHistory(roles ...Role) (Turn, error) {
	return last(c.fullHistory, roles)
}

func last(turns []Turn, roles []Role) (Turn, error) {
	for i := len(turns) - 1; i >= 0; i-- {
		if matchesRole(turns[i].Role, roles) {
			return turns[i], nil
		}
	}
	if len(roles) == 0 {
		return Turn{}, ErrEmptyHistory
	}
	return Turn{}, fmt.Errorf("no %s turn: %w", roles[0], ErrEmptyHistory)
}

func matchesRole(role Role, roles []Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RemoveLastN drops the last n turns from the active window. The full history is untouched.
// Removing more turns than the window holds clears it.
func (c *Conversation) RemoveLastN(n int) error {
	if n < 0 {
		return fmt.Errorf("cannot remove %d turns", n)
	}
	if n > len(c.active) {
		n = len(c.active)
	}
	c.active = c.active[:len(c.active)-n]
	return nil
}

// RemoveSpan drops active[start:end].
func (c *Conversation) RemoveSpan(start, end int) error {
	if start < 0 || end > len(c.active) || start > end {
		return fmt.Errorf("span [%d,%d) out of range for window of %d turns", start, end, len(c.active))
	}
	c.active = append(c.active[:start], c.active[end:]...)
	return nil
}

// RewindTo drops every active turn whose Seq is at or after seq and reports how many were dropped.
func (c *Conversation) RewindTo(seq int) int {
	idx := len(c.active)
	for idx > 0 && c.active[idx-1].Seq >= seq {
		idx--
	}
	removed := len(c.active) - idx
	c.active = c.active[:idx]
	return removed
}

// RemoveSeq drops the active turn with the given Seq, reporting whether it was present.
func (c *Conversation) RemoveSeq(seq int) bool {
	idx := c.IndexOfSeq(seq)
	if idx < 0 {
		return false
	}
	c.active = append(c.active[:idx], c.active[idx+1:]...)
	return true
}

// IndexOfSeq returns the position of the turn with Seq in the active window, or -1.
func (c *Conversation) IndexOfSeq(seq int) int {
	for i := range c.active {
		if c.active[i].Seq == seq {
			return i
		}
	}
	return -1
}

// Serialize renders the active window as the role/content pairs the remote service expects.
func (c *Conversation) Serialize() []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, len(c.active))
	for i := range c.active {
		out[i] = c.active[i].Message()
	}
	return out
}

// Active returns a copy of the active window.
func (c *Conversation) Active() []Turn {
	out := make([]Turn, len(c.active))
	copy(out, c.active)
	return out
}

// FullHistory returns a copy of the full history.
func (c *Conversation) FullHistory() []Turn {
	out := make([]Turn, len(c.fullHistory))
	copy(out, c.fullHistory)
	return out
}

// Len is the number of turns in the active window.
func (c *Conversation) Len() int {
	return len(c.active)
}

// HistoryLen is the number of turns ever appended or recorded.
func (c *Conversation) HistoryLen() int {
	return len(c.fullHistory)
}

// EstimateTokens estimates the prompt size of the active window.
func (c *Conversation) EstimateTokens(counter *utils.TokenCounter) int {
	total := 0
	for i := range c.active {
		total += counter.CountMessage(c.active[i].Role.String(), c.active[i].Content)
	}
	return total
}

// Clone returns an independent copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{active: c.Active(), fullHistory: c.FullHistory()}
}

// Summary returns a brief summary of the conversation state.
func (c *Conversation) Summary() string {
	if len(c.active) == 0 {
		return fmt.Sprintf("Empty window (%d turns in history)", len(c.fullHistory))
	}

	var counts [RoleAssistant + 1]int
	for i := range c.active {
		counts[c.active[i].Role]++
	}
	breakdown := make([]string, 0, len(counts))
	for role := RoleSystem; role <= RoleAssistant; role++ {
		if counts[role] > 0 {
			breakdown = append(breakdown, fmt.Sprintf("%s: %d", role, counts[role]))
		}
	}

	return fmt.Sprintf("%d of %d turns active - %s",
		len(c.active), len(c.fullHistory), strings.Join(breakdown, ", "))
}
