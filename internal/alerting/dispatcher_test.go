package alerting

import (
	"context"
	"testing"
	"time"

	"aquawatch/pkg/domain"
)

type sent struct {
	title, body string
	id          int64
}

type captureSink struct{ sent []sent }

func (c *captureSink) Send(title, body string, id int64) {
	c.sent = append(c.sent, sent{title, body, id})
}

type captureMetrics struct {
	ops    []string
	alerts []bool
}

func (c *captureMetrics) Observe(_ context.Context, op string, _ bool, _ time.Duration) {
	c.ops = append(c.ops, op)
}

func (c *captureMetrics) ObserveAlert(_, _ string, delivered bool) {
	c.alerts = append(c.alerts, delivered)
}

type captureLogger struct{ warns int }

func (c *captureLogger) Debug(string, ...any) {}
func (c *captureLogger) Info(string, ...any)  {}
func (c *captureLogger) Warn(string, ...any)  { c.warns++ }
func (c *captureLogger) Error(string, ...any) {}

func eventAt(hour int) domain.AlertEvent {
	return domain.AlertEvent{
		Metric:     domain.MetricTemperature,
		Severity:   domain.SeverityHigh,
		Message:    "Temperature 30 is above the maximum of 28",
		Value:      30,
		Bound:      28,
		ObservedAt: time.Date(2026, 3, 1, hour, 15, 0, 0, time.UTC),
	}
}

func TestQuietHoursSuppressDelivery(t *testing.T) {
	sink := &captureSink{}
	metrics := &captureMetrics{}
	logger := &captureLogger{}
	d := NewDispatcher(sink, WithLocation(time.UTC), WithMetricsRecorder(metrics), WithLogger(logger))
	profile := domain.DefaultThresholdProfile()

	if d.Dispatch(context.Background(), eventAt(23), profile) {
		t.Fatalf("hour 23 delivered")
	}
	if !d.Dispatch(context.Background(), eventAt(10), profile) {
		t.Fatalf("hour 10 suppressed")
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sent = %+v", sink.sent)
	}
	if sink.sent[0].title != "High Temperature Alert!" {
		t.Fatalf("title = %q", sink.sent[0].title)
	}
	if logger.warns != 2 || len(metrics.ops) != 2 {
		t.Fatalf("every alert must be logged and measured: warns=%d ops=%v", logger.warns, metrics.ops)
	}
	if len(metrics.alerts) != 2 || metrics.alerts[0] || !metrics.alerts[1] {
		t.Fatalf("alert outcomes = %v", metrics.alerts)
	}
}

func TestQuietHoursUseDispatcherLocation(t *testing.T) {
	sink := &captureSink{}
	zone := time.FixedZone("UTC+3", 3*60*60)
	d := NewDispatcher(sink, WithLocation(zone))
	// 20:15 UTC is 23:15 local.
	if d.Dispatch(context.Background(), eventAt(20), domain.DefaultThresholdProfile()) {
		t.Fatalf("expected suppression in local quiet hours")
	}
}

func TestEmptyQuietWindowAlwaysDelivers(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, WithLocation(time.UTC))
	profile := domain.DefaultThresholdProfile()
	profile.QuietHoursStart, profile.QuietHoursEnd = 5, 5
	for h := 0; h < 24; h++ {
		if !d.Dispatch(context.Background(), eventAt(h), profile) {
			t.Fatalf("hour %d suppressed", h)
		}
	}
}

func TestNotificationIDsStrictlyIncrease(t *testing.T) {
	sink := &captureSink{}
	fixed := time.UnixMilli(1_700_000_000_000)
	d := NewDispatcher(sink, WithLocation(time.UTC), WithClock(func() time.Time { return fixed }))
	events := []domain.AlertEvent{eventAt(10), eventAt(11), eventAt(12)}
	if n := d.DispatchAll(context.Background(), events, domain.DefaultThresholdProfile()); n != 3 {
		t.Fatalf("delivered = %d", n)
	}
	if sink.sent[0].id != fixed.UnixMilli() {
		t.Fatalf("first id = %d", sink.sent[0].id)
	}
	for i := 1; i < len(sink.sent); i++ {
		if sink.sent[i].id <= sink.sent[i-1].id {
			t.Fatalf("ids not increasing: %+v", sink.sent)
		}
	}
}

func TestBodyPrefixedWithTankName(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, WithLocation(time.UTC))
	e := eventAt(10)
	e.TankName = "Reef"
	d.Dispatch(context.Background(), e, domain.DefaultThresholdProfile())
	if sink.sent[0].body != "Reef: Temperature 30 is above the maximum of 28" {
		t.Fatalf("body = %q", sink.sent[0].body)
	}
}
