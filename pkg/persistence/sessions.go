package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/session"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo is the listing metadata of a stored session.
type SessionInfo struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Label        string    `json:"label,omitempty"`
	ActiveTurns  int       `json:"active_turns"`
	HistoryTurns int       `json:"history_turns"`
	TotalUnits   int       `json:"total_units"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SaveSession snapshots s and stores it under its ID.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session, label string) error {
	doc := sess.Snapshot()
	return s.SaveDocument(ctx, &doc, label)
}

// SaveDocument inserts or replaces the stored document with doc.ID. The creation
// time of an existing row is kept.
func (s *Store) SaveDocument(ctx context.Context, doc *session.Document, label string) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: missing id", session.ErrInvalidDocument)
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	blob, digest, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, model, label, active_turns, history_turns, total_units, digest, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			label = excluded.label,
			active_turns = excluded.active_turns,
			history_turns = excluded.history_turns,
			total_units = excluded.total_units,
			digest = excluded.digest,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Model, label, len(doc.Conversation.Active), len(doc.Conversation.FullHistory),
		doc.Usage.TotalUnits, digest, blob, now, now)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", doc.ID, err)
	}

	s.logger.Debug("saved session %s (%d bytes, %d turns)", doc.ID, len(blob), len(doc.Conversation.FullHistory))
	return nil
}

// LoadDocument returns the stored document with id.
func (s *Store) LoadDocument(ctx context.Context, id string) (session.Document, error) {
	var (
		blob   []byte
		digest string
	)
	err := s.db.QueryRowContext(ctx, "SELECT document, digest FROM sessions WHERE id = ?", id).Scan(&blob, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Document{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return session.Document{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	doc, err := decodeDocument(blob, digest)
	if err != nil {
		return session.Document{}, fmt.Errorf("session %s: %w", id, err)
	}
	return doc, nil
}

// LoadSession restores the stored session with id on top of client.
func (s *Store) LoadSession(ctx context.Context, client llm.LLMClient, id string, opts ...session.Option) (*session.Session, error) {
	doc, err := s.LoadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Model != "" && doc.Model != client.GetModelName() {
		s.logger.Warn("session %s was saved with model %s, resuming with %s", id, doc.Model, client.GetModelName())
	}
	return session.Restore(client, doc, opts...)
}

// ListSessions returns stored sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model, label, active_turns, history_turns, total_units, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []SessionInfo
	for rows.Next() {
		var (
			info             SessionInfo
			created, updated string
		)
		if err := rows.Scan(&info.ID, &info.Model, &info.Label, &info.ActiveTurns, &info.HistoryTurns,
			&info.TotalUnits, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.CreatedAt = parseTime(created)
		info.UpdatedAt = parseTime(updated)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return infos, nil
}

// DeleteSession removes the stored session with id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
