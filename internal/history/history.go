// Package history keeps a persistent log of terminal events in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/mobakitch/jema-terminal/internal/logger"
	"github.com/mobakitch/jema-terminal/internal/logic"
)

// DefaultLimit is the number of events Recent returns for a non-positive limit.
const DefaultLimit = 50

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    event_type TEXT NOT NULL,
    state TEXT NOT NULL
);`

const timeLayout = time.RFC3339Nano

// Store appends events to a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	logger.InfoKV(ctx, "history opened", "path", path)
	return &Store{db: db}, nil
}

// Record appends event.
func (s *Store) Record(ctx context.Context, event logic.Event) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events(timestamp, event_type, state) VALUES(?, ?, ?)",
		event.Timestamp.UTC().Format(timeLayout), string(event.Type), string(event.State))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]logic.Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT timestamp, event_type, state FROM events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []logic.Event
	for rows.Next() {
		var ts, typ, state string
		if err := rows.Scan(&ts, &typ, &state); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		t, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		events = append(events, logic.Event{
			Timestamp: t,
			Type:      logic.EventType(typ),
			State:     logic.State(state),
		})
	}
	return events, rows.Err()
}

// Counts returns the number of stored ON and OFF events.
func (s *Store) Counts(ctx context.Context) (logic.EventCounts, error) {
	var counts logic.EventCounts
	row := s.db.QueryRowContext(ctx, `
SELECT
    COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0)
FROM events`, string(logic.EventOn), string(logic.EventOff))
	if err := row.Scan(&counts.On, &counts.Off); err != nil {
		return counts, fmt.Errorf("count events: %w", err)
	}
	return counts, nil
}

// Close closes the database. Further calls fail.
func (s *Store) Close() error {
	return s.db.Close()
}
