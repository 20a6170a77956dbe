package mapping

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_mapping (
	canonical_id TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL
);`

// SQLiteStore keeps the mapping table in SQLite. Save swaps the table
// contents inside one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mapping: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("mapping: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mapping: connect database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schemaSQL,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mapping: init database: %w", err)
		}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) LockKey() string {
	if abs, err := filepath.Abs(s.path); err == nil {
		return "sqlite:" + abs
	}
	return "sqlite:" + s.path
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT canonical_id, event_id FROM sync_mapping")
	if err != nil {
		return nil, fmt.Errorf("mapping: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, eventID string
		if err := rows.Scan(&id, &eventID); err != nil {
			return nil, fmt.Errorf("mapping: scan: %w", err)
		}
		out[id] = eventID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mapping: rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Save(ctx context.Context, m map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mapping: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_mapping"); err != nil {
		return fmt.Errorf("mapping: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO sync_mapping (canonical_id, event_id) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("mapping: prepare: %w", err)
	}
	defer stmt.Close()

	for id, eventID := range m {
		if _, err := stmt.ExecContext(ctx, id, eventID); err != nil {
			return fmt.Errorf("mapping: insert %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mapping: commit: %w", err)
	}
	return nil
}
