// Package notify surfaces transient user feedback: a busy affordance while
// an upload is outstanding and a toast when something fails.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
)

// Notifier shows user-visible feedback.
type Notifier interface {
	// ShowBusy displays a busy affordance and returns the function that
	// dismisses it. Dismiss is safe to call more than once.
	ShowBusy(label string) (dismiss func())
	// Toast shows a short-lived message.
	Toast(message string)
}

// Log writes feedback to a logger. It is the headless default.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With(slog.String("component", "notify"))}
}

// ShowBusy logs the start and end of the busy period.
func (l *Log) ShowBusy(label string) func() {
	l.logger.Info("busy", slog.String("label", label))
	var once sync.Once
	return func() {
		once.Do(func() { l.logger.Info("idle", slog.String("label", label)) })
	}
}

// Toast logs message at warn level.
func (l *Log) Toast(message string) {
	l.logger.Warn("toast", slog.String("message", message))
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu     sync.Mutex
	busy   map[string]int
	toasts []string
	shown  int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{busy: make(map[string]int)}
}

// ShowBusy records an active busy affordance.
func (r *Recorder) ShowBusy(label string) func() {
	r.mu.Lock()
	r.busy[label]++
	r.shown++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.busy[label]--; r.busy[label] <= 0 {
				delete(r.busy, label)
			}
		})
	}
}

// Toast records message.
func (r *Recorder) Toast(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, message)
}

// Busy returns the number of affordances still showing.
func (r *Recorder) Busy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.busy {
		n += c
	}
	return n
}

// BusyShown returns how many affordances were ever shown.
func (r *Recorder) BusyShown() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown
}

// Toasts returns a copy of the recorded messages.
func (r *Recorder) Toasts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.toasts...)
}

// Backend names accepted by New.
const (
	BackendLog  = "log"
	BackendDBus = "dbus"
)

// New returns the notifier for backend. The dbus backend falls back to log
// output when the session bus is unavailable.
func New(backend, appName string, logger *slog.Logger) (Notifier, error) {
	switch backend {
	case "", BackendLog:
		return NewLog(logger), nil
	case BackendDBus:
		d, err := NewDBus(appName, logger)
		if err != nil {
			if logger != nil {
				logger.Warn("desktop notifications unavailable, using log",
					slog.String("error", err.Error()))
			}
			return NewLog(logger), nil
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", backend)
	}
}
