// Package session owns one editing turn: the surface, the attachment
// registry and the launch that opened them. All document and registry
// mutation happens on the goroutine running Session.Run; everything else
// reaches it through Post.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"inkbridge/internal/attachment"
	"inkbridge/internal/bridge"
	"inkbridge/internal/debounce"
	"inkbridge/internal/editor"
	"inkbridge/internal/hostapi"
	"inkbridge/internal/launch"
	"inkbridge/internal/logging"
	"inkbridge/internal/media"
	"inkbridge/internal/metrics"
	"inkbridge/internal/normalize"
	"inkbridge/internal/notify"
	"inkbridge/internal/upload"
)

var (
	// ErrBusy is returned when a launch arrives while another is active.
	ErrBusy = errors.New("session: an editing session is already active")
	// ErrNotActive is returned by operations that need an active launch.
	ErrNotActive = errors.New("session: no active editing session")
	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("session: closed")
	// ErrUploadsInFlight is returned by Finish while uploads are outstanding.
	ErrUploadsInFlight = errors.New("session: uploads still in progress")
	// ErrMediaDisabled is returned when the toolbar does not offer the
	// inserted media kind.
	ErrMediaDisabled = errors.New("session: media kind not enabled")
)

// Launch outcomes recorded in the journal.
const (
	OutcomeFinished  = "finished"
	OutcomeCancelled = "cancelled"
	OutcomeAbandoned = "abandoned"
	OutcomeClosed    = "closed"
)

// ImportFailedMessage is shown when a picked file cannot be copied in.
const ImportFailedMessage = "Could not add media."

// BusyDetails rides on a busy launch refusal.
type BusyDetails struct {
	Session string `json:"session"`
}

// Journal records launches and attachment transitions.
type Journal interface {
	SessionStarted(id, title string, at time.Time)
	SessionEnded(id, outcome string, at time.Time)
	Transition(sessionID string, ev attachment.Event)
}

// Options configure a Session.
type Options struct {
	Debounce      time.Duration
	UploadTimeout time.Duration
	// AcceptedExtensions apply when a launch does not name its own.
	AcceptedExtensions []string
	Journal            Journal
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
}

type activeLaunch struct {
	id      string
	config  launch.Config
	reply   func(launch.Result, error)
	started time.Time
}

// Session is the editor side of the bridge.
type Session struct {
	surface  editor.Surface
	registry *attachment.Registry
	host     *hostapi.HostClient
	intake   *media.Intake
	notifier notify.Notifier
	debounce *debounce.Debouncer
	coord    *upload.Coordinator
	journal  Journal
	logger   *slog.Logger
	metrics  *metrics.Metrics
	exts     []string

	mailbox chan func()
	outbox  chan func(context.Context)
	done    chan struct{}
	running atomic.Bool
	stop    sync.Once
	wg      sync.WaitGroup

	// Owned by the Run goroutine.
	ctx       context.Context
	active    *activeLaunch
	selection []launch.ToolbarOption

	launchID atomic.Value
}

// New builds a session around surface. host carries editor -> host traffic.
// intake may be nil, in which case picked files are referenced in place.
func New(surface editor.Surface, host bridge.Caller, intake *media.Intake, n notify.Notifier, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = notify.NewLog(logger)
	}
	s := &Session{
		surface:  surface,
		registry: attachment.NewRegistry(),
		host:     hostapi.NewHostClient(host),
		intake:   intake,
		notifier: n,
		journal:  opts.Journal,
		logger:   logger.With(slog.String("component", "session")),
		metrics:  opts.Metrics,
		exts:     opts.AcceptedExtensions,
		mailbox:  make(chan func(), 64),
		outbox:   make(chan func(context.Context), 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	s.launchID.Store("")
	s.debounce = debounce.New(s.host, debounce.Options{
		Delay:   opts.Debounce,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	s.coord = upload.NewCoordinator(s.registry, surface, s.host, n, s.Post, upload.Options{
		Timeout: opts.UploadTimeout,
		Changed: s.contentChanged,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	s.registry.Observe(s.observe)
	return s
}

// Registry exposes the attachment registry for inspection.
func (s *Session) Registry() *attachment.Registry {
	return s.registry
}

// Register installs the launch handler on mux.
func (s *Session) Register(mux *bridge.Mux) {
	mux.HandleAsync(hostapi.Launch, s.handleLaunch)
}

func (s *Session) handleLaunch(ctx context.Context, args []json.RawMessage, reply bridge.Reply) {
	if len(args) != 1 {
		reply(nil, bridge.Errorf(bridge.CodeBadRequest, "launch takes one argument, got %d", len(args)))
		return
	}
	req, err := launch.DecodeRequest(args[0])
	if err != nil {
		reply(nil, bridge.Errorf(bridge.CodeBadRequest, "%v", err))
		return
	}

	respond := func(res launch.Result, err error) {
		switch {
		case err == nil:
			reply(res, nil)
		case errors.Is(err, ErrBusy):
			reply(nil, bridge.Errorf(bridge.CodeBusy, "%v", err).
				WithDetails(BusyDetails{Session: s.launchID.Load().(string)}))
		default:
			reply(nil, err)
		}
	}
	posted := s.Post(func() {
		id, err := s.beginLaunch(req, respond)
		if err != nil {
			respond(launch.Result{}, err)
			return
		}
		// A host that goes away cannot receive the result.
		context.AfterFunc(ctx, func() {
			s.Post(func() { s.abandon(id) })
		})
	})
	if !posted {
		reply(nil, bridge.Errorf(bridge.CodeInternal, "editor is shutting down"))
	}
}

// Post schedules fn on the editing goroutine. It reports false once the
// session has stopped.
func (s *Session) Post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.mailbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the editing goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !s.Post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Run is the editing goroutine. It returns when ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session: already running")
	}
	s.ctx = ctx

	s.wg.Add(1)
	go s.sendLoop(ctx)

	events := s.surface.Events()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.mailbox:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) shutdown() {
	if s.active != nil {
		s.active.reply(launch.Result{Cancelled: true}, nil)
		s.endLaunch(OutcomeClosed)
	}
	s.debounce.Stop()
	s.stop.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Done is closed when Run has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// sendLoop delivers one-way host events in order without holding up the
// editing goroutine.
func (s *Session) sendLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case send := <-s.outbox:
			send(ctx)
		}
	}
}

func (s *Session) enqueue(send func(context.Context)) {
	select {
	case s.outbox <- send:
	default:
		s.logger.Warn("outbound queue full, event dropped")
	}
}

// SetDebounce changes the quiet window for later edits.
func (s *Session) SetDebounce(d time.Duration) {
	prev := s.debounce.Delay()
	s.debounce.SetDelay(d)
	if cur := s.debounce.Delay(); cur != prev {
		s.logger.Info("debounce window changed",
			slog.Duration("from", prev), slog.Duration("to", cur))
	}
}

// SetUploadTimeout changes the host call bound for later uploads.
func (s *Session) SetUploadTimeout(d time.Duration) {
	s.Post(func() { s.coord.SetTimeout(d) })
}

// Launch opens the editor in-process, without a bridge. It blocks until the
// user finishes or cancels.
func (s *Session) Launch(ctx context.Context, req launch.Request) (launch.Result, error) {
	if err := req.Config.Validate(); err != nil {
		return launch.Result{}, err
	}
	req.Config = req.Config.WithDefaults()

	type outcome struct {
		res launch.Result
		err error
	}
	resc := make(chan outcome, 1)
	var once sync.Once
	respond := func(res launch.Result, err error) {
		once.Do(func() { resc <- outcome{res, err} })
	}
	if err := s.do(ctx, func() error {
		_, err := s.beginLaunch(req, respond)
		return err
	}); err != nil {
		return launch.Result{}, err
	}

	select {
	case out := <-resc:
		return out.res, out.err
	case <-ctx.Done():
		return launch.Result{}, ctx.Err()
	}
}

func (s *Session) beginLaunch(req launch.Request, reply func(launch.Result, error)) (string, error) {
	if s.active != nil {
		return "", ErrBusy
	}
	if err := s.surface.Configure(editor.SettingsFromConfig(req.Config)); err != nil {
		return "", fmt.Errorf("configure surface: %w", err)
	}
	if err := s.surface.Parse(req.Content); err != nil {
		return "", fmt.Errorf("load content: %w", err)
	}
	s.surface.Refresh()

	a := &activeLaunch{
		id:      uuid.NewString(),
		config:  req.Config,
		reply:   reply,
		started: time.Now(),
	}
	s.active = a
	s.launchID.Store(a.id)
	s.debounce.Reset()
	if s.journal != nil {
		s.journal.SessionStarted(a.id, req.Config.Title, a.started)
	}
	s.logger.Info("editing session started",
		slog.String("session", a.id),
		slog.String("title", req.Config.Title),
		slog.Int("content_bytes", len(req.Content)))
	if len(req.Config.AuthHeaders) > 0 {
		s.logger.Debug("launch carries media auth headers",
			slog.String("session", a.id),
			logging.Headers(req.Config.AuthHeaders))
	}
	return a.id, nil
}

// Active reports whether a launch is in progress.
func (s *Session) Active(ctx context.Context) (bool, error) {
	var active bool
	err := s.do(ctx, func() error {
		active = s.active != nil
		return nil
	})
	return active, err
}

// Content returns the normalized document.
func (s *Session) Content(ctx context.Context) (string, error) {
	var content string
	err := s.do(ctx, func() error {
		content = normalize.Normalize(s.surface.Serialize())
		return nil
	})
	return content, err
}

// Selection returns the formatting active at the caret.
func (s *Session) Selection(ctx context.Context) ([]launch.ToolbarOption, error) {
	var sel []launch.ToolbarOption
	err := s.do(ctx, func() error {
		sel = append(sel, s.selection...)
		return nil
	})
	return sel, err
}

// InsertMedia copies the file at path into working storage, inserts a
// placeholder element for it and starts its upload.
func (s *Session) InsertMedia(ctx context.Context, path string) (attachment.Attachment, error) {
	var out attachment.Attachment
	err := s.do(ctx, func() error {
		a, err := s.insertMedia(ctx, path)
		out = a
		return err
	})
	return out, err
}

func (s *Session) insertMedia(ctx context.Context, path string) (attachment.Attachment, error) {
	if s.active == nil {
		return attachment.Attachment{}, ErrNotActive
	}
	cfg := s.active.config
	exts := cfg.AcceptedExtensions
	if len(exts) == 0 {
		exts = s.exts
	}

	kind, err := media.KindOf(path)
	if err != nil {
		s.notifier.Toast(ImportFailedMessage)
		return attachment.Attachment{}, err
	}
	tool := launch.ToolImage
	if kind == attachment.KindVideo {
		tool = launch.ToolVideo
	}
	if !cfg.Allows(tool) {
		return attachment.Attachment{}, fmt.Errorf("%w: %s", ErrMediaDisabled, kind)
	}

	localRef := path
	if s.intake != nil {
		item, err := s.intake.Import(ctx, path, exts)
		if err != nil {
			s.notifier.Toast(ImportFailedMessage)
			s.logger.Warn("media import failed", slog.String("path", path), slog.String("error", err.Error()))
			return attachment.Attachment{}, err
		}
		localRef = item.Path
	}

	a, err := s.registry.Create(kind, localRef)
	if err != nil {
		return attachment.Attachment{}, err
	}
	attrs := editor.Attrs{
		editor.AttrID:        a.ID,
		editor.AttrUploading: "true",
		editor.AttrSource:    localRef,
	}
	if kind == attachment.KindVideo {
		attrs[editor.AttrIsVideo] = "true"
	}
	if _, err := s.surface.InsertMedia(editor.Placeholder{Kind: kind, Thumbnail: localRef}, attrs); err != nil {
		_, _ = s.registry.Remove(a.ID)
		s.notifier.Toast(ImportFailedMessage)
		return attachment.Attachment{}, fmt.Errorf("insert placeholder: %w", err)
	}
	match := editor.ByID(a.ID)
	for _, d := range a.Decorations {
		anchor := editor.AnchorFill
		if d.Overlay == attachment.OverlayProgress {
			anchor = editor.AnchorCenter
		}
		if err := s.surface.SetOverlay(match, d.Layer, d.Overlay, anchor); err != nil {
			s.logger.Debug("placeholder overlay not shown", slog.String("error", err.Error()))
		}
	}
	s.surface.Refresh()
	s.debounce.Notify(s.surface.Serialize())

	if err := s.coord.Start(s.ctx, a.ID); err != nil {
		return a, err
	}
	cur, _ := s.registry.Get(a.ID)
	return cur, nil
}

// contentChanged schedules a debounced snapshot of the surface. It runs on
// the editing goroutine for typed edits and for upload outcomes.
func (s *Session) contentChanged() {
	if s.active != nil {
		s.debounce.Notify(s.surface.Serialize())
	}
}

func (s *Session) handleEvent(ev editor.Event) {
	switch ev.Type {
	case editor.EventTextChanged:
		s.contentChanged()

	case editor.EventDeleted:
		id := ev.Attrs[editor.AttrID]
		if id == "" {
			return
		}
		a, err := s.registry.Remove(id)
		if err != nil {
			s.logger.Debug("deletion of untracked element", slog.String("id", id), slog.String("error", err.Error()))
			return
		}
		ref := a.SourceRef
		if ref == "" {
			ref = a.LocalRef
		}
		s.enqueue(func(ctx context.Context) {
			if err := s.host.FileDeleted(ctx, ref); err != nil {
				s.logger.Warn("file deleted notification failed", slog.String("error", err.Error()))
			}
		})

	case editor.EventSelectionChanged:
		s.selection = append(s.selection[:0], ev.Selection...)
	}
}

// Finish ends the launch and replies with the normalized document.
func (s *Session) Finish(ctx context.Context) (string, error) {
	var content string
	err := s.do(ctx, func() error {
		if s.active == nil {
			return ErrNotActive
		}
		if n := s.registry.InFlight(); n > 0 {
			return fmt.Errorf("%w: %d remaining", ErrUploadsInFlight, n)
		}
		raw := s.surface.Serialize()
		var rep normalize.Report
		content, rep = normalize.NormalizeWithReport(raw)
		if rep.Changed() {
			s.metrics.NormalizeRepairs(rep.Lists, rep.Embeds)
		}
		// The host's last content change must match the result.
		if s.debounce.Pending() {
			if err := s.debounce.Flush(ctx); err != nil {
				s.logger.Warn("final content change not sent", slog.String("error", err.Error()))
			}
		}
		s.active.reply(launch.Result{Content: content}, nil)
		s.endLaunch(OutcomeFinished)
		return nil
	})
	return content, err
}

// Cancel ends the launch without content.
func (s *Session) Cancel(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.active == nil {
			return ErrNotActive
		}
		s.active.reply(launch.Result{Cancelled: true}, nil)
		s.endLaunch(OutcomeCancelled)
		return nil
	})
}

// Discard throws the document away and destroys its attachments while the
// launch stays open.
func (s *Session) Discard(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.active == nil {
			return ErrNotActive
		}
		s.discardDocument()
		s.surface.Refresh()
		s.debounce.Notify("")
		return nil
	})
}

func (s *Session) abandon(id string) {
	if s.active == nil || s.active.id != id {
		return
	}
	s.logger.Warn("host went away, editing session abandoned", slog.String("session", id))
	s.endLaunch(OutcomeAbandoned)
}

func (s *Session) endLaunch(outcome string) {
	a := s.active
	s.debounce.Reset()
	s.discardDocument()
	s.selection = nil
	s.active = nil
	s.launchID.Store("")
	if s.journal != nil {
		s.journal.SessionEnded(a.id, outcome, time.Now())
	}
	s.logger.Info("editing session ended",
		slog.String("session", a.id),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(a.started)))
}

func (s *Session) discardDocument() {
	for _, a := range s.registry.Discard() {
		s.metrics.AttachmentMoved(a.State.String(), "")
		if s.intake != nil && a.LocalRef != "" {
			if err := s.intake.Remove(a.LocalRef); err != nil {
				s.logger.Debug("local copy not removed", slog.String("error", err.Error()))
			}
		}
	}
	if err := s.surface.Parse(""); err != nil {
		s.logger.Warn("surface not cleared", slog.String("error", err.Error()))
	}
}

func (s *Session) observe(ev attachment.Event) {
	if ev.Created {
		s.metrics.AttachmentMoved("", ev.To.String())
	} else {
		s.metrics.AttachmentMoved(ev.From.String(), ev.To.String())
	}
	if s.journal != nil {
		s.journal.Transition(s.launchID.Load().(string), ev)
	}
}
