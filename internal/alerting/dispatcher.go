package alerting

import (
	"context"
	"sync"
	"time"

	"aquawatch/internal/observability"
	"aquawatch/pkg/domain"
)

// AlertRecorder is implemented by metrics exporters that count alerts by
// metric and outcome, such as observability.PrometheusRecorder.
type AlertRecorder interface {
	ObserveAlert(metric, severity string, delivered bool)
}

// Dispatcher logs every alert and forwards those outside the profile's quiet
// hours to the sink.
type Dispatcher struct {
	sink     domain.NotificationSink
	location *time.Location
	logger   observability.Logger
	metrics  observability.MetricsRecorder
	now      func() time.Time

	mu     sync.Mutex
	lastID int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLocation sets the zone quiet hours are evaluated in (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l observability.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics recorder. Recorders that also
// implement AlertRecorder receive per-alert counts.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithClock overrides the clock that seeds notification ids.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher returns a dispatcher delivering to sink.
func NewDispatcher(sink domain.NotificationSink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:     sink,
		location: time.Local,
		logger:   observability.NopLogger(),
		metrics:  observability.NopMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers event unless its observation hour falls in the quiet
// window of profile. It reports whether the sink was called.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.AlertEvent, profile domain.ThresholdProfile) bool {
	start := time.Now()
	hour := event.ObservedAt.In(d.location).Hour()
	quiet := profile.InQuietHours(hour)
	d.logger.Warn("alert",
		"metric", string(event.Metric),
		"severity", string(event.Severity),
		"tank_id", event.TankID,
		"value", event.Value,
		"bound", event.Bound,
		"message", event.Message,
		"suppressed", quiet,
	)
	delivered := false
	if !quiet {
		d.sink.Send(event.Title(), body(event), d.nextID())
		delivered = true
	}
	d.metrics.Observe(ctx, "alert.dispatch", true, time.Since(start))
	if rec, ok := d.metrics.(AlertRecorder); ok {
		rec.ObserveAlert(string(event.Metric), string(event.Severity), delivered)
	}
	return delivered
}

// DispatchAll dispatches events in order and returns how many were delivered.
func (d *Dispatcher) DispatchAll(ctx context.Context, events []domain.AlertEvent, profile domain.ThresholdProfile) int {
	n := 0
	for _, e := range events {
		if d.Dispatch(ctx, e, profile) {
			n++
		}
	}
	return n
}

// nextID seeds ids from the wall clock in milliseconds and keeps them
// strictly increasing within the process.
func (d *Dispatcher) nextID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.now().UnixMilli()
	if id <= d.lastID {
		id = d.lastID + 1
	}
	d.lastID = id
	return id
}

func body(e domain.AlertEvent) string {
	if e.TankName != "" {
		return e.TankName + ": " + e.Message
	}
	return e.Message
}
