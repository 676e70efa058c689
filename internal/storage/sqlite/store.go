// Package sqlite provides a SQLite-backed operation store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/scrawl-dev/scrawl/internal/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
    position   INTEGER PRIMARY KEY,
    id         TEXT NOT NULL UNIQUE,
    kind       TEXT NOT NULL,
    author_id  TEXT NOT NULL,
    payload    BLOB,
    created_at INTEGER NOT NULL
);
`

// Store persists the operation log in SQLite. History is retained in full,
// clear markers included, so an operator can audit everything ever drawn.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the SQLite store at path and bootstraps the
// schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveOperation inserts one accepted operation. Re-saving an id that is
// already present is a no-op, matching the log's idempotent append.
func (s *Store) SaveOperation(ctx context.Context, op protocol.Operation, position int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO operations (position, id, kind, author_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		position,
		op.ID,
		string(op.Kind),
		op.AuthorID,
		[]byte(op.Payload),
		op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation %s: %w", op.ID, err)
	}
	return nil
}

// LoadOperations returns every persisted operation in position order.
func (s *Store) LoadOperations(ctx context.Context) ([]protocol.Operation, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, kind, author_id, payload, created_at
		 FROM operations ORDER BY position ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []protocol.Operation
	for rows.Next() {
		var (
			op      protocol.Operation
			kind    string
			payload []byte
		)
		if err := rows.Scan(&op.ID, &kind, &op.AuthorID, &payload, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		op.Kind = protocol.Kind(kind)
		if len(payload) > 0 {
			op.Payload = payload
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation rows: %w", err)
	}
	return ops, nil
}
