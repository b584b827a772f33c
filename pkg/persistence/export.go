package persistence

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/d-lowl/cblit/pkg/session"
)

// ExportJSON writes doc in its plain structured form.
func ExportJSON(w io.Writer, doc *session.Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to export session %s: %w", doc.ID, err)
	}
	return nil
}

// ImportJSON reads and validates a document written by ExportJSON.
func ImportJSON(r io.Reader) (session.Document, error) {
	var doc session.Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return session.Document{}, fmt.Errorf("%w: %w", session.ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return session.Document{}, err
	}
	return doc, nil
}
