// Package observability defines the logging, metrics and tracing hooks that
// aquawatch components accept through functional options, plus the exporters
// the binaries wire in.
package observability

import (
	"context"
	"time"
)

// Logger is the structured logger accepted by components. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes the outcome of an operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

// NopMetrics returns a MetricsRecorder that discards observations.
func NopMetrics() MetricsRecorder { return noopMetrics{} }

// NopTracer returns a Tracer whose spans do nothing.
func NopTracer() Tracer { return noopTracer{} }

// Instruments bundles the hooks a component reports through. Nil fields fall
// back to no-op implementations.
type Instruments struct {
	Logger  Logger
	Metrics MetricsRecorder
	Tracer  Tracer
}

// Normalize returns a copy with nil hooks replaced by no-ops.
func (i Instruments) Normalize() Instruments {
	if i.Logger == nil {
		i.Logger = noopLogger{}
	}
	if i.Metrics == nil {
		i.Metrics = noopMetrics{}
	}
	if i.Tracer == nil {
		i.Tracer = noopTracer{}
	}
	return i
}

// Run wraps fn in a span and records its duration and outcome under operation.
func (i Instruments) Run(ctx context.Context, operation string, fn func(context.Context) error) error {
	i = i.Normalize()
	start := time.Now()
	ctx, span := i.Tracer.Start(ctx, operation)
	err := fn(ctx)
	span.End(err)
	i.Metrics.Observe(ctx, operation, err == nil, time.Since(start))
	return err
}
