// Command aquawatch-recheck checks the latest persisted reading of every tank
// an owner has against the owner's threshold profile and delivers any
// alerts. It is meant to be started by an external scheduler; with
// recheck.every set it keeps running on its own ticker instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"aquawatch/internal/app"
	"aquawatch/internal/archive"
	"aquawatch/internal/config"
	"aquawatch/internal/recheck"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("aquawatch-recheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to aquawatch.yaml (default: ./aquawatch.yaml when present)")
	owner := fs.String("owner", "", "user id to check (overrides recheck.owner)")
	once := fs.Bool("once", false, "run a single check even when recheck.every is set")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "aquawatch-recheck: %v\n", err)
		return 1
	}
	if *owner != "" {
		cfg.Recheck.Owner = *owner
	}
	if *once {
		cfg.Recheck.Every = 0
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, stdout, stderr); err != nil {
		_, _ = fmt.Fprintf(stderr, "aquawatch-recheck: %v\n", err)
		return 1
	}
	return 0
}

// run writes the report of a single check to stdout as JSON, or loops until
// ctx is done when recheck.every is positive. Every check opens its own
// store handle so it sees what the daemon persisted since the last one.
func run(ctx context.Context, cfg config.Config, stdout, logOut io.Writer) error {
	c, err := app.Build(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if cfg.Recheck.Every > 0 {
		err := recheck.Loop(ctx, cfg.Recheck.Every, c.Logger, func(ctx context.Context) error {
			_, err := check(ctx, c)
			return err
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	report, err := check(ctx, c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// check runs one recheck against a fresh store handle.
func check(ctx context.Context, c *app.Components) (recheck.Report, error) {
	store, release, err := c.FreshStore(ctx)
	if err != nil {
		return recheck.Report{}, err
	}
	defer func() { _ = release() }()

	cfg := c.Config
	opts := []recheck.Option{
		recheck.WithLogger(c.Logger),
		recheck.WithMetricsRecorder(c.Metrics),
	}
	if cfg.Recheck.Archive {
		opts = append(opts, recheck.WithArchiver(archive.New(store, c.Blobs,
			archive.WithLocation(c.Location),
			archive.WithLogger(c.Logger),
		)))
	}
	return recheck.New(store, c.Dispatcher, cfg.Recheck.Owner, opts...).Run(ctx)
}
