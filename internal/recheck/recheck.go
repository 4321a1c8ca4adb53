// Package recheck evaluates the latest persisted reading of every tank an
// owner has against the owner's threshold profile. It runs out of process on
// a periodic trigger and shares nothing with the live session but the
// durable store.
package recheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aquawatch/internal/alerting"
	"aquawatch/internal/observability"
	"aquawatch/pkg/domain"
)

// Skip reasons reported when a run does nothing.
const (
	SkipNotAuthenticated = "not_authenticated"
	SkipNoProfile        = "no_profile"
)

// Store is the durable store access a run needs.
type Store interface {
	LoadProfile(ctx context.Context, userID string) (domain.ThresholdProfile, error)
	ListTanks(ctx context.Context, userID string) ([]domain.TankProfile, error)
	LatestReading(ctx context.Context, userID, tankID string) (domain.Reading, bool, error)
}

// Dispatcher delivers alerts; *alerting.Dispatcher satisfies it.
type Dispatcher interface {
	DispatchAll(ctx context.Context, events []domain.AlertEvent, profile domain.ThresholdProfile) int
}

// Archiver exports one tank day; *archive.Archiver satisfies it.
type Archiver interface {
	ExportDay(ctx context.Context, owner string, tank domain.TankProfile, day time.Time) (bool, error)
}

// Report summarises one run.
type Report struct {
	Skipped   string `json:"skipped,omitempty"`
	Tanks     int    `json:"tanks"`
	Checked   int    `json:"checked"`
	Failed    int    `json:"failed"`
	Alerts    int    `json:"alerts"`
	Delivered int    `json:"delivered"`
	Archived  int    `json:"archived"`
}

// Rechecker runs threshold checks for a single owner.
type Rechecker struct {
	store      Store
	dispatcher Dispatcher
	archiver   Archiver
	owner      string
	logger     observability.Logger
	metrics    observability.MetricsRecorder
	now        func() time.Time
}

// Option configures a Rechecker.
type Option func(*Rechecker)

// WithArchiver enables exporting the previous day of each tank.
func WithArchiver(a Archiver) Option {
	return func(r *Rechecker) { r.archiver = a }
}

// WithLogger sets the structured logger.
func WithLogger(l observability.Logger) Option {
	return func(r *Rechecker) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(r *Rechecker) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides the clock used to pick the archive day.
func WithClock(now func() time.Time) Option {
	return func(r *Rechecker) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a rechecker for owner. An empty owner makes every run a no-op.
func New(store Store, dispatcher Dispatcher, owner string, opts ...Option) *Rechecker {
	r := &Rechecker{
		store:      store,
		dispatcher: dispatcher,
		owner:      owner,
		logger:     observability.NopLogger(),
		metrics:    observability.NopMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one check. A missing owner or profile is a soft no-op; a
// failing profile fetch is returned so the trigger can retry. Per-tank
// failures are counted and the remaining tanks still run.
func (r *Rechecker) Run(ctx context.Context) (report Report, err error) {
	start := time.Now()
	defer func() { r.metrics.Observe(ctx, "recheck.run", err == nil, time.Since(start)) }()

	if r.owner == "" {
		r.logger.Info("recheck_skipped", "reason", SkipNotAuthenticated)
		return Report{Skipped: SkipNotAuthenticated}, nil
	}
	profile, err := r.store.LoadProfile(ctx, r.owner)
	if errors.Is(err, domain.ErrProfileNotFound) {
		r.logger.Info("recheck_skipped", "reason", SkipNoProfile, "owner", r.owner)
		return Report{Skipped: SkipNoProfile}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("load profile for %s: %w", r.owner, err)
	}
	tanks, err := r.store.ListTanks(ctx, r.owner)
	if err != nil {
		return Report{}, fmt.Errorf("list tanks for %s: %w", r.owner, err)
	}

	report.Tanks = len(tanks)
	for _, tank := range tanks {
		latest, ok, err := r.store.LatestReading(ctx, r.owner, tank.ID)
		if err != nil {
			report.Failed++
			r.logger.Error("recheck_tank_failed", "owner", r.owner, "tank_id", tank.ID, "error", err)
			continue
		}
		if ok {
			report.Checked++
			events := alerting.ForTank(alerting.Evaluate(latest, profile), tank)
			report.Alerts += len(events)
			report.Delivered += r.dispatcher.DispatchAll(ctx, events, profile)
		}
		if r.archiver != nil {
			r.archive(ctx, tank, &report)
		}
	}
	r.logger.Info("recheck_completed",
		"owner", r.owner,
		"tanks", report.Tanks,
		"checked", report.Checked,
		"failed", report.Failed,
		"alerts", report.Alerts,
		"delivered", report.Delivered,
		"archived", report.Archived,
	)
	return report, nil
}

func (r *Rechecker) archive(ctx context.Context, tank domain.TankProfile, report *Report) {
	day := r.now().AddDate(0, 0, -1)
	created, err := r.archiver.ExportDay(ctx, r.owner, tank, day)
	if err != nil {
		r.logger.Warn("recheck_archive_failed", "owner", r.owner, "tank_id", tank.ID, "error", err)
		return
	}
	if created {
		report.Archived++
	}
}

// RunEvery runs immediately and then on every tick until ctx is done. Run
// errors are logged and retried on the next tick. The store is reused
// across runs; callers whose store caches what it loaded at open should use
// Loop with a tick that opens a fresh handle.
func (r *Rechecker) RunEvery(ctx context.Context, every time.Duration) error {
	return Loop(ctx, every, r.logger, func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	})
}

// Loop calls tick immediately and then every interval until ctx is done.
// Tick errors are logged and do not stop the loop.
func Loop(ctx context.Context, every time.Duration, logger observability.Logger, tick func(context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("recheck interval must be positive, got %s", every)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := tick(ctx); err != nil && ctx.Err() == nil {
			logger.Error("recheck_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
