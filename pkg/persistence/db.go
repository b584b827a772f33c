// Package persistence stores session documents in SQLite.
//
// Each saved session is one row: metadata columns for listing, and a blob
// holding the zstd-compressed CBOR encoding of the session document. A blake3
// digest of the uncompressed CBOR is stored beside the blob and checked on load.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/d-lowl/cblit/pkg/logx"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a session store backed by one SQLite database.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the database at path and brings its schema up to date.
func Open(path string) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer, and an in-memory database lives on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.logger.Debug("database opened: %s", path)
	return store, nil
}

// NewStore wraps an open database and migrates its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if err := initializeSchemaWithMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, logger: logx.NewLogger("persistence")}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
