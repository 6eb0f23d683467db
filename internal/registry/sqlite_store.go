package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists voice registrations in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS voices (
    name TEXT PRIMARY KEY,
    locators TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init voice schema: %w", err)
	}
	return nil
}

// Save inserts or replaces a voice.
func (s *SQLiteStore) Save(ctx context.Context, name string, locators []string) error {
	encoded, err := json.Marshal(locators)
	if err != nil {
		return fmt.Errorf("encode locators: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO voices (name, locators, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET locators = excluded.locators, updated_at = excluded.updated_at`,
		name, string(encoded), s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("save voice %q: %w", name, err)
	}
	return nil
}

// LoadAll returns every stored voice.
func (s *SQLiteStore) LoadAll(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, locators FROM voices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query voices: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var name, encoded string
		if err := rows.Scan(&name, &encoded); err != nil {
			return nil, fmt.Errorf("scan voice: %w", err)
		}
		var locators []string
		if err := json.Unmarshal([]byte(encoded), &locators); err != nil {
			return nil, fmt.Errorf("decode locators of %q: %w", name, err)
		}
		out[name] = locators
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
