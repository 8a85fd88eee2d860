package store

import "time"

// Session is one launch of the editor.
type Session struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
}

// Transition is one recorded attachment state change.
type Transition struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	AttachmentID string    `json:"attachment_id"`
	Kind         string    `json:"kind"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	SourceRef    string    `json:"source_ref,omitempty"`
	At           time.Time `json:"at"`
}
