// Command aquawatch runs the live monitoring session: it reads sensor data
// from the configured source, persists it for the selected tank, raises
// threshold alerts and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aquawatch/internal/api"
	"aquawatch/internal/app"
	"aquawatch/internal/config"
	"aquawatch/internal/core"
	"aquawatch/internal/source"
	"aquawatch/internal/timeline"
)

var exitFunc = os.Exit

const shutdownTimeout = 10 * time.Second

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("aquawatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to aquawatch.yaml (default: ./aquawatch.yaml when present)")
	login := fs.String("login", "", "user id to sign in as on startup")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "aquawatch: %v\n", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, *login, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "aquawatch: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, login string, logOut io.Writer) error {
	c, err := app.Build(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	logger := c.Logger

	exec := timeline.New(timeline.WithPanicHandler(func(r any) {
		logger.Error("timeline_task_panic", "panic", r)
	}))
	defer exec.Close()
	hub := source.NewHub(exec, source.WithLogger(logger))

	session := core.NewSession(exec, hub, c.Store, c.Dispatcher,
		core.WithLogger(logger),
		core.WithMetricsRecorder(c.Metrics),
		core.WithStoreTimeout(cfg.Storage.Timeout),
		core.WithBufferCapacity(cfg.Buffer.Capacity),
	)
	session.Start()
	defer session.Close()
	if login != "" {
		if err := session.Login(ctx, login); err != nil {
			return err
		}
	}

	feed, err := c.StartFeed(ctx, hub)
	if err != nil {
		return fmt.Errorf("start %s source: %w", cfg.Source.Driver, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := feed.Stop(stopCtx); err != nil {
			logger.Warn("source_stop_failed", "error", err)
		}
	}()

	srv := api.New(session,
		api.WithArchive(c.Archiver),
		api.WithMetricsHandler(c.MetricsHandler),
		api.WithLogger(logger),
		api.WithAccessLog(logOut),
		api.WithLocation(c.Location),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	logger.Info("aquawatch_started",
		"http_addr", cfg.HTTP.Addr,
		"source", cfg.Source.Driver,
		"storage", cfg.Storage.Driver,
		"notify", cfg.Notify.Driver,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("aquawatch_stopped")
	return nil
}
