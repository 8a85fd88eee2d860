// inkhost is a reference host for the inkbridge editor endpoint. It connects
// to a running `inkbridge serve`, launches an editing session, stores
// uploaded media in a local directory and prints what the editor reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"inkbridge/internal/bridge"
	"inkbridge/internal/hostapi"
	"inkbridge/internal/launch"
	"inkbridge/internal/logging"
)

type options struct {
	url         string
	socket      string
	token       string
	configFile  string
	title       string
	content     string
	uploadDir   string
	failUploads bool
	uploadDelay time.Duration
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "inkhost",
		Short:         "Reference host for the inkbridge editor",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://127.0.0.1:7420/bridge", "websocket endpoint of the editor")
	f.StringVar(&opts.socket, "socket", "", "unix socket of the editor (overrides --url)")
	f.StringVar(&opts.token, "token", os.Getenv("INKBRIDGE_TOKEN"), "bridge token")
	f.StringVar(&opts.configFile, "launch-config", "", "JSON file holding the launch configuration")
	f.StringVar(&opts.title, "title", "Untitled", "editor title when no launch config is given")
	f.StringVar(&opts.content, "content", "", "initial document markup")
	f.StringVar(&opts.uploadDir, "upload-dir", filepath.Join(os.TempDir(), "inkhost-uploads"), "where uploaded media is stored")
	f.BoolVar(&opts.failUploads, "fail-uploads", false, "answer every upload with an empty reference")
	f.DurationVar(&opts.uploadDelay, "upload-delay", 0, "artificial delay before answering an upload")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "inkhost: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func loadRequest(opts *options) (launch.Request, error) {
	req := launch.Request{
		Content: opts.content,
		Config:  launch.Config{Title: opts.title},
	}
	if opts.configFile == "" {
		return req, nil
	}
	raw, err := os.ReadFile(opts.configFile)
	if err != nil {
		return req, fmt.Errorf("read launch config: %w", err)
	}
	var cfg launch.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return req, fmt.Errorf("decode launch config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return req, err
	}
	req.Config = cfg
	return req, nil
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	level := logging.LevelInfo
	if opts.verbose {
		level = logging.LevelDebug
	}
	logs, err := logging.New(&logging.Config{
		Level:     level,
		Format:    logging.FormatText,
		Output:    "stderr",
		Component: "inkhost",
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Logger

	req, err := loadRequest(opts)
	if err != nil {
		return err
	}

	up := &uploads{dir: opts.uploadDir, fail: opts.failUploads, delay: opts.uploadDelay, logger: logger}
	if !opts.failUploads {
		if err := os.MkdirAll(up.dir, 0700); err != nil {
			return fmt.Errorf("create upload dir: %w", err)
		}
	}

	var printMu sync.Mutex
	printf := func(format string, args ...any) {
		printMu.Lock()
		defer printMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	mux := bridge.NewMux()
	hostapi.HostHandlers{
		FileSelected: up.store,
		FileDeleted: func(_ context.Context, ref string) {
			printf("fileDeleted %s\n", ref)
		},
		ContentChanged: func(_ context.Context, content string) {
			printf("contentChanged %s\n", content)
		},
	}.Register(mux)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var link bridge.Link
	if opts.socket != "" {
		link, err = bridge.DialUnix(dialCtx, opts.socket, "inkhost", opts.token)
	} else {
		link, err = bridge.DialWebsocket(dialCtx, opts.url, "inkhost", opts.token)
	}
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	peer := bridge.NewPeer(link, mux, bridge.WithLogger(logger), bridge.WithName("editor"))
	peer.Start()
	defer peer.Close()
	logger.Info("connected to editor", slog.String("title", req.Config.Title))

	res, err := hostapi.NewEditorClient(peer).Launch(ctx, req)
	if err != nil {
		var re *bridge.RemoteError
		if errors.As(err, &re) {
			return fmt.Errorf("launch rejected (%s): %s", re.Code, re.Message)
		}
		return fmt.Errorf("launch: %w", err)
	}
	if res.Cancelled {
		printf("cancelled\n")
		return nil
	}
	printf("finished %s\n", res.Content)
	return nil
}

// uploads answers fileSelected by copying the file into dir.
type uploads struct {
	dir    string
	fail   bool
	delay  time.Duration
	logger *slog.Logger
}

func (u *uploads) store(ctx context.Context, localRef string, isVideo bool) (string, error) {
	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if u.fail {
		u.logger.Info("upload refused", slog.String("path", localRef))
		return "", nil
	}

	src, err := os.Open(localRef)
	if err != nil {
		u.logger.Warn("upload source unreadable", slog.String("error", err.Error()))
		return "", nil
	}
	defer src.Close()

	name := uuid.NewString() + filepath.Ext(localRef)
	dst := filepath.Join(u.dir, name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	ref := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	u.logger.Info("upload stored",
		slog.String("path", localRef),
		slog.Bool("video", isVideo),
		slog.String("ref", ref))
	return ref, nil
}
