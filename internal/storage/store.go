// Package storage persists local client state in SQLite: the history of
// created session ids, the last ended session and the keyword list registered
// for each session.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stationear/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_history (
	id TEXT PRIMARY KEY,
	createdAt REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS session_keywords (
	sessionId TEXT NOT NULL,
	position INTEGER NOT NULL,
	keywordId INTEGER,
	word TEXT NOT NULL,
	createdAt REAL NOT NULL,
	PRIMARY KEY (sessionId, position)
);

CREATE TABLE IF NOT EXISTS session_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const lastEndedKey = "last_ended"

// Store implements ports.SessionHistory and ports.KeywordCache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendSession records a created session id. Duplicates are ignored.
func (s *Store) AppendSession(ctx context.Context, id domain.SessionID) error {
	if id.IsZero() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_history (id, createdAt) VALUES (?, ?)`,
		id.String(), unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("append session history: %w", err)
	}
	return nil
}

// SessionHistory returns recorded session ids, oldest first.
func (s *Store) SessionHistory(ctx context.Context) ([]domain.SessionID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM session_history
		ORDER BY createdAt ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	var ids []domain.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session history: %w", err)
		}
		ids = append(ids, domain.SessionID(id))
	}
	return ids, rows.Err()
}

// ClearSessionHistory forgets every recorded session id together with the
// keyword lists cached for them and the last ended id.
func (s *Store) ClearSessionHistory(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history clear: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM session_keywords
		WHERE sessionId IN (SELECT id FROM session_history)
	`); err != nil {
		return fmt.Errorf("clear cached keywords: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_history`); err != nil {
		return fmt.Errorf("clear session history: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_state WHERE key = ?`, lastEndedKey); err != nil {
		return fmt.Errorf("clear last ended session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history clear: %w", err)
	}
	return nil
}

// SetLastEnded records id as the most recently ended session.
func (s *Store) SetLastEnded(ctx context.Context, id domain.SessionID) error {
	if id.IsZero() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastEndedKey, id.String())
	if err != nil {
		return fmt.Errorf("save last ended session: %w", err)
	}
	return nil
}

// LastEnded returns the most recently ended session, or "" when none is recorded.
func (s *Store) LastEnded(ctx context.Context) (domain.SessionID, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_state WHERE key = ?`, lastEndedKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last ended session: %w", err)
	}
	return domain.SessionID(value), nil
}

// SaveKeywords replaces the cached keyword list for a session.
func (s *Store) SaveKeywords(ctx context.Context, id domain.SessionID, keywords []domain.Keyword) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin keyword save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM session_keywords WHERE sessionId = ?`, id.String()); err != nil {
		return fmt.Errorf("clear keywords: %w", err)
	}
	for position, keyword := range keywords {
		var keywordID sql.NullInt64
		if keyword.ID != nil {
			keywordID = sql.NullInt64{Int64: *keyword.ID, Valid: true}
		}
		createdAt := keyword.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO session_keywords (sessionId, position, keywordId, word, createdAt)
			VALUES (?, ?, ?, ?, ?)
		`, id.String(), position, keywordID, keyword.Text, unixFromTime(createdAt)); err != nil {
			return fmt.Errorf("insert keyword: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit keywords: %w", err)
	}
	return nil
}

// LoadKeywords returns the cached keyword list for a session in saved order.
func (s *Store) LoadKeywords(ctx context.Context, id domain.SessionID) ([]domain.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT keywordId, word, createdAt
		FROM session_keywords
		WHERE sessionId = ?
		ORDER BY position ASC
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	var keywords []domain.Keyword
	for rows.Next() {
		var (
			keywordID sql.NullInt64
			word      string
			createdAt float64
		)
		if err := rows.Scan(&keywordID, &word, &createdAt); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		keyword := domain.Keyword{Text: word, SessionID: id, CreatedAt: timeFromUnix(createdAt)}
		if keywordID.Valid {
			value := keywordID.Int64
			keyword.ID = &value
		}
		keywords = append(keywords, keyword)
	}
	return keywords, rows.Err()
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
