package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aquawatch/internal/config"
	"aquawatch/internal/infra/notify/logsink"
	"aquawatch/internal/observability"
	"aquawatch/internal/source"
	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Storage.Driver = "memory"
	cfg.Blob.Driver = "memory"
	cfg.Timezone = "UTC"
	cfg.Source.Interval = 10 * time.Millisecond
	return cfg
}

func TestBuildDefaults(t *testing.T) {
	var logs bytes.Buffer
	c, err := Build(context.Background(), testConfig(t), &logs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = c.Close() }()

	if c.Location != time.UTC {
		t.Fatalf("location = %v", c.Location)
	}
	if _, ok := c.Metrics.(*observability.PrometheusRecorder); !ok {
		t.Fatalf("metrics = %T", c.Metrics)
	}
	if _, ok := c.Sink.(*logsink.Sink); !ok {
		t.Fatalf("sink = %T", c.Sink)
	}
	event := domain.AlertEvent{Metric: domain.MetricTemperature, Severity: domain.SeverityHigh, Message: "Temperature 30 is above the maximum of 28", ObservedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	if !c.Dispatcher.Dispatch(context.Background(), event, domain.DefaultThresholdProfile()) {
		t.Fatalf("expected delivery outside quiet hours")
	}
	if !strings.Contains(logs.String(), "High Temperature Alert!") {
		t.Fatalf("log sink output missing alert: %q", logs.String())
	}

	rec := httptest.NewRecorder()
	c.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `aquawatch_alerts_total{delivered="true",metric="temperature",severity="high"} 1`) {
		t.Fatalf("metrics output missing alert counter")
	}
}

func TestBuildExpvarMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Exporter = "expvar"
	c, err := Build(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = c.Close() }()
	if _, ok := c.Metrics.(*observability.ExpvarMetricsRecorder); !ok {
		t.Fatalf("metrics = %T", c.Metrics)
	}
}

func TestBuildFailsOnMisconfiguredBlob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blob.Driver = "s3"
	cfg.Blob.S3.Bucket = ""
	if _, err := Build(context.Background(), cfg, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
}

func TestStartFeedSimulator(t *testing.T) {
	cfg := testConfig(t)
	c, err := Build(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = c.Close() }()

	exec := timeline.New()
	defer exec.Close()
	hub := source.NewHub(exec)
	got := make(chan domain.Reading, 1)
	sub := hub.Subscribe(source.ListenerFuncs{Reading: func(r domain.Reading) {
		select {
		case got <- r:
		default:
		}
	}})
	defer sub.Cancel()

	feed, err := c.StartFeed(context.Background(), hub)
	if err != nil {
		t.Fatalf("start feed: %v", err)
	}
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("no reading from simulator")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := feed.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartFeedRejectsBadDriverConfig(t *testing.T) {
	cfg := testConfig(t)
	c, err := Build(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = c.Close() }()
	exec := timeline.New()
	defer exec.Close()
	hub := source.NewHub(exec)

	c.Config.Source.Driver = "mqtt"
	c.Config.MQTT.Broker = ""
	if _, err := c.StartFeed(context.Background(), hub); err == nil {
		t.Fatalf("expected mqtt config error")
	}
	c.Config.Source.Driver = "kafka"
	c.Config.Kafka.Topic = ""
	if _, err := c.StartFeed(context.Background(), hub); err == nil {
		t.Fatalf("expected kafka config error")
	}
}

func TestFreshStoreSeesWritesFromAnotherHandle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "aquawatch.db")
	ctx := context.Background()
	c, err := Build(ctx, cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = c.Close() }()

	tank, err := c.Store.CreateTank(ctx, "u1", "Reef")
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}
	want := domain.Reading{Temperature: 16, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	if err := c.Store.AppendReading(ctx, domain.Target{UserID: "u1", TankID: tank.ID}, want); err != nil {
		t.Fatalf("append: %v", err)
	}

	fresh, release, err := c.FreshStore(ctx)
	if err != nil {
		t.Fatalf("fresh store: %v", err)
	}
	defer func() { _ = release() }()
	if fresh == c.Store {
		t.Fatalf("sqlite driver returned the shared handle")
	}
	got, ok, err := fresh.LatestReading(ctx, "u1", tank.ID)
	if err != nil || !ok || got.Temperature != 16 {
		t.Fatalf("latest = %+v ok=%v err=%v", got, ok, err)
	}
}

func TestFreshStoreReusesMemoryStore(t *testing.T) {
	c, err := Build(context.Background(), testConfig(t), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = c.Close() }()
	fresh, release, err := c.FreshStore(context.Background())
	if err != nil || fresh != c.Store {
		t.Fatalf("fresh = %v err = %v", fresh, err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}
