package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"inkbridge/internal/bridge"
	"inkbridge/internal/config"
	"inkbridge/internal/editor"
	"inkbridge/internal/health"
	"inkbridge/internal/logging"
	"inkbridge/internal/media"
	"inkbridge/internal/metrics"
	"inkbridge/internal/notify"
	"inkbridge/internal/session"
	"inkbridge/internal/store"
)

func newServeCmd(app *App) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editor endpoint and wait for a host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader
			if interactive {
				in = cmd.InOrStdin()
			}
			return serve(cmd.Context(), app.ConfigPath, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", true, "drive the editor from stdin")
	return cmd
}

// loggingConfig maps the file configuration onto the logging package.
func loggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    int64(c.MaxSizeMB),
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
		Component:  "inkbridge",
	}, nil
}

// serve wires the endpoint together and blocks until ctx is done or a
// component fails. in may be nil for a non-interactive run.
func serve(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	defer loader.Close()
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg, err := loggingConfig(cfg.Logging)
	if err != nil {
		return err
	}
	logs, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logs.Close()
	logging.SetDefault(logs)
	logger := logs.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	checker := health.NewChecker()

	var journal session.Journal
	if cfg.Journal.Enabled {
		st, err := store.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		j := store.NewJournal(st, logger)
		// Closed before the store so queued records are written.
		defer j.Close()
		journal = j
		checker.RegisterFunc("journal", true, health.DatabaseCheck(st.Ping))
	}

	notifier, err := notify.New(cfg.Notify.Backend, "inkbridge", logger)
	if err != nil {
		return err
	}
	if c, ok := notifier.(io.Closer); ok {
		defer c.Close()
	}

	intake, err := media.NewIntake(cfg.Editor.WorkDir, cfg.Editor.MaxMediaBytes)
	if err != nil {
		return err
	}

	mux := bridge.NewMux()
	srv := bridge.NewServer(bridge.ServerConfig{
		Token:          cfg.Bridge.Token,
		VerifyPeer:     true,
		AllowedOrigins: cfg.Bridge.AllowedOrigins,
		Logger:         logger,
		Metrics:        m,
	}, mux)
	defer srv.Close()
	checker.RegisterFunc("bridge", false, health.BridgeCheck(srv.Connected))

	surface := editor.NewMemory(64)
	defer surface.Close()

	sess := session.New(surface, srv, intake, notifier, session.Options{
		Debounce:           cfg.Debounce(),
		UploadTimeout:      cfg.RequestTimeout(),
		AcceptedExtensions: cfg.Editor.AcceptedExtensions,
		Journal:            journal,
		Logger:             logger,
		Metrics:            m,
	})
	sess.Register(mux)

	loader.OnChange(func(old, updated *config.Config) {
		sess.SetDebounce(updated.Debounce())
		sess.SetUploadTimeout(updated.RequestTimeout())
		logger.Info("configuration reloaded",
			slog.Int("debounce_ms", updated.Editor.DebounceMs),
			slog.Int("request_timeout_sec", updated.Bridge.RequestTimeoutSec))
		if !old.Bridge.Equal(updated.Bridge) {
			logger.Warn("bridge settings change on restart only")
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("configuration hot reload disabled", slog.String("error", err.Error()))
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/healthz", checker.HealthHandler())
	httpMux.Handle("/readyz", checker.ReadinessHandler())
	httpMux.Handle("/livez", checker.LivenessHandler())
	if cfg.Metrics.Enabled {
		httpMux.Handle(cfg.Metrics.Path, m.Handler())
	}

	var unixListener net.Listener
	switch cfg.Bridge.Transport {
	case config.TransportUnix:
		l, err := bridge.ListenUnix(cfg.Bridge.SocketPath)
		if err != nil {
			return err
		}
		defer l.Close()
		unixListener = l
		logger.Info("bridge listening", slog.String("socket", cfg.Bridge.SocketPath))
	default:
		httpMux.Handle(cfg.Bridge.Path, srv)
		logger.Info("bridge listening",
			slog.String("addr", cfg.Bridge.ListenAddr),
			slog.String("path", cfg.Bridge.Path))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sess.Run(gctx) })

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-loader.Errors():
				logger.Warn("configuration reload rejected", slog.String("error", err.Error()))
			}
		}
	})

	if unixListener != nil {
		g.Go(func() error { return srv.Serve(gctx, unixListener) })
	}

	// The websocket bridge shares the HTTP listener; a unix bridge keeps
	// it only for health and metrics.
	httpServer := &http.Server{
		Addr:              cfg.Bridge.ListenAddr,
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Let the session reply to an open launch before the peer goes.
		<-sess.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	if in != nil {
		r := newREPL(sess, surface, out)
		lines := readLines(in)
		g.Go(func() error { return r.run(gctx, lines) })
	}

	checker.SetReady(true)
	logger.Info("inkbridge ready")

	err = g.Wait()
	checker.SetReady(false)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("inkbridge stopped")
	return err
}
