// Package store keeps the attachment lifecycle journal in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// migration is one schema step. The schema version is kept in SQLite's
// user_version pragma; migrations[i] moves it from i to i+1.
type migration struct {
	name string
	up   string
	down string
}

var migrations = []migration{
	{
		name: "sessions",
		up: `
CREATE TABLE sessions (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    outcome     TEXT
);
CREATE INDEX idx_sessions_started ON sessions(started_at);`,
		down: `DROP TABLE sessions;`,
	},
	{
		name: "attachment transitions",
		up: `
CREATE TABLE attachment_transitions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id     TEXT REFERENCES sessions(id),
    attachment_id  TEXT NOT NULL,
    kind           TEXT NOT NULL,
    from_state     TEXT NOT NULL,
    to_state       TEXT NOT NULL,
    source_ref     TEXT NOT NULL DEFAULT '',
    at_ns          INTEGER NOT NULL
);
CREATE INDEX idx_transitions_session ON attachment_transitions(session_id, id);
CREATE INDEX idx_transitions_attachment ON attachment_transitions(attachment_id, id);`,
		down: `DROP TABLE attachment_transitions;`,
	},
}

// LatestVersion is the schema version Migrate brings a database to.
var LatestVersion = len(migrations)

// SchemaVersion reads the applied schema version.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// step runs one migration body and records the resulting version in the
// same transaction.
func step(db *sql.DB, body string, version int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(body); err != nil {
		return err
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, version)); err != nil {
		return err
	}
	return tx.Commit()
}

// Migrate applies every pending migration.
func Migrate(db *sql.DB) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current > LatestVersion {
		return fmt.Errorf("journal schema version %d is newer than this build (%d)", current, LatestVersion)
	}
	for v := current; v < LatestVersion; v++ {
		m := migrations[v]
		if err := step(db, m.up, v+1); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", v+1, m.name, err)
		}
	}
	return nil
}

// Rollback reverts the most recent migration.
func Rollback(db *sql.DB) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return errors.New("no migrations to roll back")
	}
	if current > LatestVersion {
		return fmt.Errorf("unknown schema version %d", current)
	}
	m := migrations[current-1]
	if err := step(db, m.down, current-1); err != nil {
		return fmt.Errorf("roll back migration %d (%s): %w", current, m.name, err)
	}
	return nil
}

// ValidateSchema checks that every journal table exists.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"sessions", "attachment_transitions"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("missing table %s", table)
		}
	}
	return nil
}
