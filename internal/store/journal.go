package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"inkbridge/internal/attachment"
)

// Journal writes session and attachment history off the editing goroutine.
// Records are applied in the order they were submitted.
type Journal struct {
	store  *Store
	logger *slog.Logger
	ops    chan func(context.Context) error

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// journalQueue bounds the records waiting to be written.
const journalQueue = 256

// NewJournal starts the writer goroutine.
func NewJournal(s *Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		store:  s,
		logger: logger.With(slog.String("component", "journal")),
		ops:    make(chan func(context.Context) error, journalQueue),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) run() {
	defer close(j.done)
	for op := range j.ops {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := op(ctx); err != nil {
			j.logger.Warn("journal write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
}

func (j *Journal) submit(op func(context.Context) error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ops <- op:
	default:
		j.logger.Warn("journal queue full, record dropped")
	}
}

// SessionStarted records a new session.
func (j *Journal) SessionStarted(id, title string, at time.Time) {
	j.submit(func(ctx context.Context) error {
		return j.store.InsertSession(ctx, &Session{ID: id, Title: title, StartedAt: at})
	})
}

// SessionEnded records a session's outcome.
func (j *Journal) SessionEnded(id, outcome string, at time.Time) {
	j.submit(func(ctx context.Context) error {
		return j.store.EndSession(ctx, id, outcome, at)
	})
}

// Transition records one attachment state change.
func (j *Journal) Transition(sessionID string, ev attachment.Event) {
	from := ev.From.String()
	if ev.Created {
		from = ""
	}
	t := &Transition{
		SessionID:    sessionID,
		AttachmentID: ev.ID,
		Kind:         string(ev.Kind),
		From:         from,
		To:           ev.To.String(),
		SourceRef:    ev.SourceRef,
		At:           ev.At,
	}
	j.submit(func(ctx context.Context) error {
		_, err := j.store.InsertTransition(ctx, t)
		return err
	})
}

// Close flushes queued records and stops the writer. The store stays open.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		<-j.done
		return
	}
	j.closed = true
	close(j.ops)
	j.mu.Unlock()
	<-j.done
}
