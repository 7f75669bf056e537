// Package history keeps an on-disk audit trail of dispatched alerts.
//
// This is an operator convenience, not recovery state: the watcher never
// reads it back to rebuild windows, pool state, or cooldowns after a
// restart.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xodeeq/poolwatch/internal/alert"
)

const schema = `
CREATE TABLE IF NOT EXISTS alert_history (
	id         TEXT PRIMARY KEY,
	alert_type TEXT NOT NULL,
	message    TEXT NOT NULL,
	details    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_history_created_at ON alert_history(created_at);
`

// Entry is one recorded alert.
type Entry struct {
	ID        string
	AlertType string
	Message   string
	Details   map[string]string
	CreatedAt time.Time
}

// Store persists alerts to a sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts one dispatched alert.
func (s *Store) Record(a alert.Alert) error {
	details := make(map[string]string, len(a.Fields))
	for _, f := range a.Fields {
		details[f.Title] = f.Value
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding alert details: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO alert_history (id, alert_type, message, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.Text, string(raw), a.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording alert %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns the most recent n alerts, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, alert_type, message, details, created_at FROM alert_history ORDER BY created_at DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alert history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var raw string
		if err := rows.Scan(&e.ID, &e.AlertType, &e.Message, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert history row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Details); err != nil {
			return nil, fmt.Errorf("decoding alert details: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
