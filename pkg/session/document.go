package session

import (
	"encoding/json"
	"fmt"

	"github.com/d-lowl/cblit/pkg/contextmgr"
	"github.com/d-lowl/cblit/pkg/llm"
)

// Document is the plain structured form of a Session.
type Document struct {
	ID           string              `json:"id"`
	Model        string              `json:"model"`
	Conversation contextmgr.Document `json:"conversation"`
	Usage        Usage               `json:"usage"`
}

// Snapshot renders the session as a Document.
func (s *Session) Snapshot() Document {
	return Document{
		ID:           s.id,
		Model:        s.Model(),
		Conversation: s.conv.ToDocument(),
		Usage:        s.usage,
	}
}

// MarshalJSON encodes the session snapshot.
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// Validate checks the usage totals and the conversation invariants.
func (d *Document) Validate() error {
	_, err := d.conversation()
	return err
}

func (d *Document) conversation() (*contextmgr.Conversation, error) {
	if !d.Usage.Consistent() {
		return nil, fmt.Errorf("%w: usage total %d does not match %d+%d", ErrInvalidDocument,
			d.Usage.TotalUnits, d.Usage.PromptUnits, d.Usage.CompletionUnits)
	}
	conv, err := contextmgr.FromDocument(d.Conversation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return conv, nil
}

// Restore rebuilds a session from doc on top of client. The document's ID is
// kept unless an option overrides it.
func Restore(client llm.LLMClient, doc Document, opts ...Option) (*Session, error) {
	conv, err := doc.conversation()
	if err != nil {
		return nil, err
	}

	if doc.ID != "" {
		opts = append([]Option{WithID(doc.ID)}, opts...)
	}
	return newSession(client, conv, doc.Usage, opts), nil
}
