package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the SQLite journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store: closed")
	}
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertSession records the start of a session.
func (s *Store) InsertSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, started_at)
		VALUES (?, ?, ?)`,
		sess.ID, sess.Title, sess.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession records how a session ended.
func (s *Store) EndSession(ctx context.Context, id, outcome string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, outcome = ?
		WHERE id = ? AND ended_at IS NULL`,
		at.UnixNano(), outcome, id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, started_at, ended_at, outcome
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, started_at, ended_at, outcome
		FROM sessions ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
		outcome sql.NullString
	)
	if err := sc.Scan(&sess.ID, &sess.Title, &started, &ended, &outcome); err != nil {
		return nil, err
	}
	sess.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		sess.EndedAt = &t
	}
	sess.Outcome = outcome.String
	return &sess, nil
}

// InsertTransition appends an attachment transition and returns its ID.
func (s *Store) InsertTransition(ctx context.Context, t *Transition) (int64, error) {
	var sessionID sql.NullString
	if t.SessionID != "" {
		sessionID = sql.NullString{String: t.SessionID, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO attachment_transitions (session_id, attachment_id, kind, from_state, to_state, source_ref, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, t.AttachmentID, t.Kind, t.From, t.To, t.SourceRef, t.At.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transition: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// TransitionsForSession returns a session's transitions in recording order.
func (s *Store) TransitionsForSession(ctx context.Context, sessionID string) ([]Transition, error) {
	return s.queryTransitions(ctx, `
		SELECT id, session_id, attachment_id, kind, from_state, to_state, source_ref, at_ns
		FROM attachment_transitions WHERE session_id = ? ORDER BY id`, sessionID)
}

// TransitionsForAttachment returns one attachment's history in recording order.
func (s *Store) TransitionsForAttachment(ctx context.Context, attachmentID string) ([]Transition, error) {
	return s.queryTransitions(ctx, `
		SELECT id, session_id, attachment_id, kind, from_state, to_state, source_ref, at_ns
		FROM attachment_transitions WHERE attachment_id = ? ORDER BY id`, attachmentID)
}

// CountByState returns how many transitions ended in each state.
func (s *Store) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_state, COUNT(*) FROM attachment_transitions GROUP BY to_state`)
	if err != nil {
		return nil, fmt.Errorf("count transitions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}

func (s *Store) queryTransitions(ctx context.Context, query string, arg any) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t         Transition
			sessionID sql.NullString
			at        int64
		)
		if err := rows.Scan(&t.ID, &sessionID, &t.AttachmentID, &t.Kind, &t.From, &t.To, &t.SourceRef, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.SessionID = sessionID.String
		t.At = time.Unix(0, at)
		out = append(out, t)
	}
	return out, rows.Err()
}
