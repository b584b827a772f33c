package contextmgr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDocument is returned when a document breaks the conversation invariants.
var ErrInvalidDocument = errors.New("invalid conversation document")

// Document is the plain structured form of a Conversation used for save and restore.
type Document struct {
	Active      []Turn `json:"active"`
	FullHistory []Turn `json:"full_history"`
}

// ToDocument renders the conversation without loss of history.
func (c *Conversation) ToDocument() Document {
	return Document{Active: c.Active(), FullHistory: c.FullHistory()}
}

// FromDocument rebuilds a conversation, checking that active is an
// order-preserving sub-selection of full_history.
func FromDocument(doc Document) (*Conversation, error) {
	for i := range doc.FullHistory {
		t := &doc.FullHistory[i]
		if t.Seq != i {
			return nil, fmt.Errorf("%w: full_history[%d] has seq %d", ErrInvalidDocument, i, t.Seq)
		}
		if !t.Role.Valid() {
			return nil, fmt.Errorf("%w: full_history[%d] has invalid role", ErrInvalidDocument, i)
		}
	}

	prev := -1
	for i := range doc.Active {
		t := &doc.Active[i]
		if t.Seq <= prev || t.Seq >= len(doc.FullHistory) {
			return nil, fmt.Errorf("%w: active[%d] seq %d out of order", ErrInvalidDocument, i, t.Seq)
		}
		h := &doc.FullHistory[t.Seq]
		if h.Role != t.Role || h.Content != t.Content {
			return nil, fmt.Errorf("%w: active[%d] differs from full_history[%d]", ErrInvalidDocument, i, t.Seq)
		}
		prev = t.Seq
	}

	c := NewConversation()
	c.active = append(c.active, doc.Active...)
	c.fullHistory = append(c.fullHistory, doc.FullHistory...)
	return c, nil
}

// MarshalJSON encodes the conversation as its Document.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToDocument())
}

// UnmarshalJSON decodes and validates a Document.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	restored, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*c = *restored
	return nil
}
