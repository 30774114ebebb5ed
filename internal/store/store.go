// Package store persists TrainingSessions to SQLite and model artifacts +
// metrics to the filesystem. The SQLite half runs a const schema string at
// Open, wraps failures with fmt.Errorf("...: %w", err), and translates
// sql.ErrNoRows to a nil result rather than an error.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"profilerd/internal/logging"
	"profilerd/internal/model"
	"profilerd/internal/profilerrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS training_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	raw_data_json TEXT NOT NULL,
	platform TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_training_sessions_user_id ON training_sessions(user_id);
`

// Store wraps the SQLite connection backing TrainingSession persistence.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the parent directory and opens the SQLite
// database at path, applying the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertSession persists a TrainingSession. The userId (session.Label) and
// platform columns are length-capped at 100 and 50 characters.
func (s *Store) InsertSession(session model.TrainingSession) error {
	raw, err := json.Marshal(session.RawEvents)
	if err != nil {
		return fmt.Errorf("store: marshal raw events: %w", err)
	}

	userID := truncate(session.Label, 100)
	platform := truncate(session.Platform, 50)

	_, err = s.db.Exec(
		`INSERT INTO training_sessions (id, user_id, raw_data_json, platform, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, userID, string(raw), platform, session.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w: %w", profilerrors.ErrPersistenceFailure, err)
	}
	return nil
}

// GetSession returns the session with the given id, or (nil, nil) if it
// does not exist.
func (s *Store) GetSession(id string) (*model.TrainingSession, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, raw_data_json, platform, created_at FROM training_sessions WHERE id = ?`, id,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return session, nil
}

// AllLabeledSessions returns every persisted session whose label is neither
// empty nor "Unknown". A session whose raw_data_json fails to deserialize
// is logged and skipped rather than aborting the whole query, so one
// corrupt row cannot block training.
func (s *Store) AllLabeledSessions() ([]model.TrainingSession, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, raw_data_json, platform, created_at FROM training_sessions WHERE user_id != '' AND user_id != ? ORDER BY created_at ASC`,
		model.UnknownLabel,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query labeled sessions: %w", err)
	}
	defer rows.Close()

	var out []model.TrainingSession
	for rows.Next() {
		session, err := scanSessionRows(rows)
		if err != nil {
			if errors.Is(err, profilerrors.ErrInternalComputationFailure) {
				logging.Warn("store: skipping session with malformed raw_data_json", "error", err)
				continue
			}
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, *session)
	}
	return out, rows.Err()
}

// Count returns the total number of persisted sessions (used for the
// every-Nth-submission auto-train trigger).
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM training_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count sessions: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.TrainingSession, error) {
	return scanSessionRows(row)
}

func scanSessionRows(row scanner) (*model.TrainingSession, error) {
	var (
		id, userID, rawJSON, platform string
		createdAtMillis               int64
	)
	if err := row.Scan(&id, &userID, &rawJSON, &platform, &createdAtMillis); err != nil {
		return nil, err
	}

	var events []model.KeystrokeEvent
	if err := json.Unmarshal([]byte(rawJSON), &events); err != nil {
		return nil, fmt.Errorf("%w: %w", profilerrors.ErrInternalComputationFailure, err)
	}

	return &model.TrainingSession{
		ID:        id,
		Label:     userID,
		Platform:  platform,
		CreatedAt: time.UnixMilli(createdAtMillis),
		RawEvents: events,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
