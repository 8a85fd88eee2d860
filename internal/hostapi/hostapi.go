// Package hostapi names the channels exchanged between the editor and its
// host and wraps them in typed clients.
package hostapi

import (
	"context"
	"encoding/json"
	"fmt"

	"inkbridge/internal/bridge"
	"inkbridge/internal/launch"
)

// Channels.
var (
	// Launch opens the editor (host -> editor). Argument: launch.Request.
	// Reply: launch.Result.
	Launch = bridge.Channel("launch")
	// FileSelected asks the host to upload a local file (editor -> host).
	// Arguments: local path, is-video. Reply: remote reference or null.
	FileSelected = bridge.Channel("fileSelected")
	// FileDeleted tells the host an uploaded element was deleted. Argument:
	// last known reference.
	FileDeleted = bridge.Channel("fileDeleted")
	// ContentChanged carries normalized content after a quiet window.
	ContentChanged = bridge.Channel("contentChanged")
)

// HostClient is the editor's view of the host.
type HostClient struct {
	c bridge.Caller
}

// NewHostClient wraps c.
func NewHostClient(c bridge.Caller) *HostClient {
	return &HostClient{c: c}
}

// FileSelected asks the host to upload localRef. An empty string means the
// host declined or its upload failed.
func (h *HostClient) FileSelected(ctx context.Context, localRef string, isVideo bool) (string, error) {
	var ref *string
	if err := h.c.Call(ctx, FileSelected, &ref, localRef, isVideo); err != nil {
		return "", err
	}
	if ref == nil {
		return "", nil
	}
	return *ref, nil
}

// FileDeleted reports a deleted element.
func (h *HostClient) FileDeleted(ctx context.Context, ref string) error {
	return h.c.Notify(ctx, FileDeleted, ref)
}

// ContentChanged sends a content snapshot. It satisfies debounce.Sender.
func (h *HostClient) ContentChanged(ctx context.Context, content string) error {
	return h.c.Notify(ctx, ContentChanged, content)
}

// EditorClient is the host's view of the editor.
type EditorClient struct {
	c bridge.Caller
}

// NewEditorClient wraps c.
func NewEditorClient(c bridge.Caller) *EditorClient {
	return &EditorClient{c: c}
}

// Launch opens the editor and blocks until the user finishes or cancels.
func (e *EditorClient) Launch(ctx context.Context, req launch.Request) (launch.Result, error) {
	var res launch.Result
	if err := e.c.Call(ctx, Launch, &res, req); err != nil {
		return launch.Result{}, err
	}
	return res, nil
}

// HostHandlers are the host-side callbacks for editor traffic.
type HostHandlers struct {
	FileSelected   func(ctx context.Context, localRef string, isVideo bool) (string, error)
	FileDeleted    func(ctx context.Context, ref string)
	ContentChanged func(ctx context.Context, content string)
}

// Register installs the non-nil handlers on mux.
func (h HostHandlers) Register(mux *bridge.Mux) {
	if h.FileSelected != nil {
		mux.Handle(FileSelected, func(ctx context.Context, args []json.RawMessage) (any, error) {
			var (
				path    string
				isVideo bool
			)
			if err := bridge.DecodeArgs(args, &path, &isVideo); err != nil {
				return nil, err
			}
			if path == "" {
				return nil, fmt.Errorf("%w: empty local reference", bridge.ErrBadRequest)
			}
			ref, err := h.FileSelected(ctx, path, isVideo)
			if err != nil {
				return nil, err
			}
			if ref == "" {
				return nil, nil
			}
			return ref, nil
		})
	}
	if h.FileDeleted != nil {
		mux.HandleEvent(FileDeleted, func(ctx context.Context, args []json.RawMessage) {
			var ref string
			if bridge.DecodeArgs(args, &ref) == nil {
				h.FileDeleted(ctx, ref)
			}
		})
	}
	if h.ContentChanged != nil {
		mux.HandleEvent(ContentChanged, func(ctx context.Context, args []json.RawMessage) {
			var content string
			if bridge.DecodeArgs(args, &content) == nil {
				h.ContentChanged(ctx, content)
			}
		})
	}
}
