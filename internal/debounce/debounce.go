// Package debounce coalesces bursts of local edits into a single outbound
// "content changed" notification per quiet window.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"inkbridge/internal/metrics"
	"inkbridge/internal/normalize"
)

// DefaultDelay is the quiet window used when none is configured.
const DefaultDelay = 300 * time.Millisecond

// Sender delivers a content snapshot to the host. It is invoked off the
// editing goroutine.
type Sender interface {
	ContentChanged(ctx context.Context, content string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, content string) error

// ContentChanged calls f.
func (f SenderFunc) ContentChanged(ctx context.Context, content string) error {
	return f(ctx, content)
}

// Options configures a Debouncer.
type Options struct {
	Delay       time.Duration
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Debouncer holds at most one pending change. Each Notify cancels the pending
// change and schedules the new one, so only the latest snapshot is sent.
type Debouncer struct {
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	gen     uint64
	pending *pendingChange
	closed  bool

	// sendMu orders deliveries; lastSent drops a slow older send that
	// loses the race to a newer one.
	sendMu   sync.Mutex
	lastSent uint64
}

type pendingChange struct {
	gen     uint64
	content string
}

// New creates a Debouncer that delivers through s.
func New(s Sender, opts Options) *Debouncer {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		sender:  s,
		logger:  logger.With(slog.String("component", "debounce")),
		metrics: opts.Metrics,
		timeout: opts.SendTimeout,
		delay:   opts.Delay,
	}
}

// Notify records a local mutation. raw is the serialized document; it is
// normalized immediately so the pending change is a stable snapshot.
func (d *Debouncer) Notify(raw string) {
	content, rep := normalize.NormalizeWithReport(raw)
	if rep.Changed() {
		d.metrics.NormalizeRepairs(rep.Lists, rep.Embeds)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.pending != nil {
		d.metrics.DebounceSuperseded()
	}

	d.gen++
	gen := d.gen
	d.pending = &pendingChange{gen: gen, content: content}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Pending reports whether a change is waiting for its window to elapse.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// SetDelay changes the quiet window for subsequent edits.
func (d *Debouncer) SetDelay(delay time.Duration) {
	if delay <= 0 {
		return
	}
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// Delay returns the current quiet window.
func (d *Debouncer) Delay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delay
}

// Flush sends the pending change now, if there is one.
func (d *Debouncer) Flush(ctx context.Context) error {
	p := d.take(0)
	if p == nil {
		return nil
	}
	return d.send(ctx, p)
}

// Stop discards the pending change. Later Notify calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cancelLocked()
}

// Reset discards the pending change but keeps the debouncer usable.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// take removes and returns the pending change. A non-zero gen only matches
// that generation, which keeps a superseded timer from sending.
func (d *Debouncer) take(gen uint64) *pendingChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.pending
	if p == nil || (gen != 0 && p.gen != gen) {
		return nil
	}
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return p
}

func (d *Debouncer) fire(gen uint64) {
	p := d.take(gen)
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_ = d.send(ctx, p)
}

func (d *Debouncer) send(ctx context.Context, p *pendingChange) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if p.gen < d.lastSent {
		return nil
	}
	d.lastSent = p.gen

	err := d.sender.ContentChanged(ctx, p.content)
	d.metrics.ContentSent(err)
	if err != nil {
		// No retry: the next edit produces a fresh snapshot anyway.
		d.logger.Warn("content changed notification failed",
			slog.Int("bytes", len(p.content)),
			slog.String("error", err.Error()))
		return err
	}
	d.logger.Debug("content changed sent", slog.Int("bytes", len(p.content)))
	return nil
}
