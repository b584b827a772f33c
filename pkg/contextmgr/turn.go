package contextmgr

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/d-lowl/cblit/pkg/llm"
)

// Role identifies the author of a turn.
type Role int8

const (
	RoleSystem Role = iota
	RoleUser
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return fmt.Sprintf("role(%d)", int8(r))
	}
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	return r >= RoleSystem && r <= RoleAssistant
}

// ParseRole converts a wire name into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	default:
		return 0, fmt.Errorf("%q is not a valid chat role", s)
	}
}

// MarshalText renders the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText parses a role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// CompletionRole maps the role onto the remote wire role.
func (r Role) CompletionRole() llm.CompletionRole {
	switch r {
	case RoleSystem:
		return llm.RoleSystem
	case RoleAssistant:
		return llm.RoleAssistant
	default:
		return llm.RoleUser
	}
}

// Priority sentinels. Larger priorities are more important.
const (
	// PriorityCritical marks turns that ordinary eviction never selects, such as system instructions.
	PriorityCritical = math.MaxInt32
	// PriorityDefault is the priority of an ordinary exchange.
	PriorityDefault = 0
	// PriorityForget marks an exchange that leaves the active window as soon as its reply is read.
	PriorityForget = -1
)

// Turn is a single message in a conversation.
type Turn struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"` // index in full_history
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

func newTurn(seq int, role Role, content string, priority int) Turn {
	return Turn{
		ID:        ulid.Make().String(),
		Seq:       seq,
		Role:      role,
		Content:   content,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// Message strips the turn down to what the remote service sees.
func (t *Turn) Message() llm.CompletionMessage {
	return llm.CompletionMessage{Role: t.Role.CompletionRole(), Content: t.Content}
}
