// Package upload drives an inserted attachment from its placeholder to a
// remote reference by asking the host to upload the local file.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"inkbridge/internal/attachment"
	"inkbridge/internal/bridge"
	"inkbridge/internal/editor"
	"inkbridge/internal/metrics"
	"inkbridge/internal/notify"
)

// ErrEmptyReference is the outcome of a host reply that carried no remote
// reference.
var ErrEmptyReference = errors.New("upload: host returned no reference")

// FailureMessage is shown to the user for every failed upload, whatever the
// cause.
const FailureMessage = "Upload failed. Please try again."

// BusyLabel labels the busy affordance shown while the host uploads.
const BusyLabel = "Uploading media"

// Uploader asks the host to upload a local file.
type Uploader interface {
	FileSelected(ctx context.Context, localRef string, isVideo bool) (string, error)
}

// PostFunc schedules fn on the editing goroutine. It returns false when the
// editing goroutine has gone away and fn will never run.
type PostFunc func(fn func()) bool

// Options tune a Coordinator.
type Options struct {
	// Timeout bounds one host call. Zero waits for the reply or a disconnect.
	Timeout time.Duration
	// Changed runs on the editing goroutine after an upload outcome has
	// rewritten or removed its element.
	Changed func()
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Coordinator runs uploads. Start and everything it posts back run on the
// editing goroutine; only the host call itself runs in the background.
type Coordinator struct {
	registry *attachment.Registry
	surface  editor.Surface
	uploader Uploader
	notifier notify.Notifier
	post     PostFunc
	changed  func()
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

// NewCoordinator wires a coordinator.
func NewCoordinator(reg *attachment.Registry, surface editor.Surface, up Uploader, n notify.Notifier, post PostFunc, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry: reg,
		surface:  surface,
		uploader: up,
		notifier: n,
		post:     post,
		changed:  opts.Changed,
		timeout:  opts.Timeout,
		logger:   logger.With(slog.String("component", "upload")),
		metrics:  opts.Metrics,
	}
}

// SetTimeout changes the bound applied to later uploads. Call it on the
// editing goroutine.
func (c *Coordinator) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Start dispatches the upload of a Pending attachment. The attachment is
// Uploading when Start returns; its terminal state is applied later on the
// editing goroutine.
func (c *Coordinator) Start(ctx context.Context, id string) error {
	a, err := c.registry.BeginUpload(id)
	if err != nil {
		return fmt.Errorf("start upload: %w", err)
	}
	match := editor.ByID(id)
	for _, d := range a.Decorations {
		if d.Overlay != attachment.OverlayProgress {
			continue
		}
		if err := c.surface.SetOverlay(match, d.Layer, d.Overlay, editor.AnchorCenter); err != nil {
			c.logger.Debug("progress overlay not shown", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	dismiss := c.notifier.ShowBusy(BusyLabel)
	started := time.Now()
	timeout := c.timeout

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		ref, err := c.uploader.FileSelected(callCtx, a.LocalRef, a.Kind == attachment.KindVideo)
		cancel()
		if err == nil && ref == "" {
			err = ErrEmptyReference
		}

		if !c.post(func() { c.finish(a, ref, err, dismiss, started) }) {
			dismiss()
		}
	}()
	return nil
}

// Wait blocks until every outstanding host call has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) finish(a attachment.Attachment, ref string, callErr error, dismiss func(), started time.Time) {
	dismiss()
	defer c.surface.Refresh()

	logger := c.logger.With(slog.String("id", a.ID), slog.String("kind", string(a.Kind)))
	cur, ok := c.registry.Get(a.ID)
	if !ok || cur.State != attachment.StateUploading {
		// Deleted or discarded while the host was busy.
		logger.Debug("late upload reply ignored")
		return
	}

	if callErr != nil {
		c.fail(a, callErr, logger)
		c.metrics.UploadFinished(string(a.Kind), Outcome(callErr), time.Since(started))
	} else {
		c.succeed(a, ref, logger)
		c.metrics.UploadFinished(string(a.Kind), metrics.OutcomeOK, time.Since(started))
	}
	if c.changed != nil {
		c.changed()
	}
}

func (c *Coordinator) succeed(a attachment.Attachment, ref string, logger *slog.Logger) {
	match := editor.ByID(a.ID)
	if err := c.surface.UpdateAttributes(match,
		editor.Attrs{editor.AttrSource: ref},
		editor.AttrUploading, editor.AttrIsVideo,
	); err != nil {
		logger.Warn("element not updated", slog.String("error", err.Error()))
	}
	if err := c.surface.ClearOverlays(match); err != nil {
		logger.Debug("overlays not cleared", slog.String("error", err.Error()))
	}
	done, err := c.registry.Succeed(a.ID, ref)
	if err != nil {
		logger.Warn("success not recorded", slog.String("error", err.Error()))
		return
	}
	for _, d := range done.Decorations {
		if err := c.surface.SetOverlay(match, d.Layer, d.Overlay, editor.AnchorCenter); err != nil {
			logger.Debug("overlay not shown", slog.String("error", err.Error()))
		}
	}
	logger.Info("upload succeeded", slog.String("ref", ref))
}

func (c *Coordinator) fail(a attachment.Attachment, cause error, logger *slog.Logger) {
	if _, err := c.registry.Fail(a.ID); err != nil {
		logger.Warn("failure not recorded", slog.String("error", err.Error()))
		return
	}
	match := editor.ByID(a.ID)
	if err := c.surface.ClearOverlays(match); err != nil {
		logger.Debug("overlays not cleared", slog.String("error", err.Error()))
	}
	if err := c.surface.RemoveElement(match); err != nil {
		logger.Debug("element not removed", slog.String("error", err.Error()))
	}
	c.notifier.Toast(FailureMessage)
	logger.Warn("upload failed",
		slog.String("outcome", Outcome(cause)),
		slog.String("error", cause.Error()))
}

// Outcome classifies an upload error for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrEmptyReference):
		return metrics.OutcomeEmpty
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case errors.Is(err, bridge.ErrDisconnected), errors.Is(err, bridge.ErrNoHandler):
		return metrics.OutcomeDisconnected
	default:
		return metrics.OutcomeError
	}
}
