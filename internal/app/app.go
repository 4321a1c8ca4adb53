// Package app builds the process components named by a config.Config. Both
// binaries wire through it so the daemon and the rechecker see the same
// store, blob, sink and metrics choices.
package app

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"aquawatch/internal/alerting"
	"aquawatch/internal/archive"
	"aquawatch/internal/blob"
	"aquawatch/internal/config"
	"aquawatch/internal/infra/cache/redis"
	"aquawatch/internal/infra/feed/kafka"
	"aquawatch/internal/infra/feed/mqtt"
	"aquawatch/internal/infra/notify/logsink"
	"aquawatch/internal/infra/notify/pulsar"
	"aquawatch/internal/observability"
	"aquawatch/internal/persistence"
	"aquawatch/internal/source"
	"aquawatch/pkg/domain"
)

// Components are the shared, process-wide dependencies.
type Components struct {
	Config         config.Config
	Logger         *slog.Logger
	Metrics        observability.MetricsRecorder
	MetricsHandler http.Handler
	Location       *time.Location
	Store          domain.DurableStore
	Blobs          blob.Store
	Archiver       *archive.Archiver
	Sink           domain.NotificationSink
	Dispatcher     *alerting.Dispatcher

	closers []func() error
}

// Build opens every configured dependency. On error anything already opened
// is closed.
func Build(ctx context.Context, cfg config.Config, logOut io.Writer) (_ *Components, err error) {
	c := &Components{Config: cfg, Logger: observability.NewSlogLogger(logOut, cfg.Log.Level, cfg.Log.Format)}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.Location, err = cfg.Location(); err != nil {
		return nil, err
	}
	c.Metrics, c.MetricsHandler = newMetrics(cfg.Metrics.Exporter)

	if c.Store, err = openStore(ctx, cfg, c.Logger); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Store.Close)

	if c.Blobs, err = blob.Open(ctx, blob.Config{
		Driver: cfg.Blob.Driver,
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          cfg.Blob.S3.Region,
			Bucket:          cfg.Blob.S3.Bucket,
			Endpoint:        cfg.Blob.S3.Endpoint,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
			SessionToken:    cfg.Blob.S3.SessionToken,
			PathStyle:       cfg.Blob.S3.PathStyle,
		},
	}); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	c.Archiver = archive.New(c.Store, c.Blobs, archive.WithLocation(c.Location), archive.WithLogger(c.Logger))

	if c.Sink, err = c.openSink(cfg); err != nil {
		return nil, err
	}
	c.Dispatcher = alerting.NewDispatcher(c.Sink,
		alerting.WithLocation(c.Location),
		alerting.WithLogger(c.Logger),
		alerting.WithMetricsRecorder(c.Metrics),
	)
	return c, nil
}

func newMetrics(exporter string) (observability.MetricsRecorder, http.Handler) {
	if exporter == "expvar" {
		return observability.NewExpvarMetricsRecorder(""), expvar.Handler()
	}
	rec := observability.NewPrometheusRecorder()
	return rec, rec.Handler()
}

// openStore opens the durable store and, when redis.addr is set, puts the
// profile cache in front of it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (domain.DurableStore, error) {
	store, err := persistence.Open(ctx, persistence.Config{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		Timeout:     cfg.Storage.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Redis.Addr == "" {
		return store, nil
	}
	client, err := redis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("dial redis: %w", err)
	}
	logger.Info("profile_cache_enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	return redis.New(store, client,
		redis.WithTTL(cfg.Redis.TTL),
		redis.WithLogger(logger),
		redis.WithClientCloser(client.Close),
	), nil
}

// FreshStore returns a store handle that sees everything persisted so far,
// with a release func. The SQL drivers load their state at open, so a long
// running reader gets a new handle per call; the memory driver has no state
// outside the process and is returned as is.
func (c *Components) FreshStore(ctx context.Context) (domain.DurableStore, func() error, error) {
	if persistence.Driver(c.Config.Storage.Driver) == persistence.DriverMemory {
		return c.Store, func() error { return nil }, nil
	}
	store, err := openStore(ctx, c.Config, c.Logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (c *Components) openSink(cfg config.Config) (domain.NotificationSink, error) {
	if cfg.Notify.Driver != "pulsar" {
		return logsink.New(c.Logger), nil
	}
	sink, err := pulsar.Dial(cfg.Pulsar.URL, cfg.Pulsar.Topic, pulsar.WithLogger(c.Logger))
	if err != nil {
		return nil, fmt.Errorf("dial pulsar: %w", err)
	}
	c.closers = append(c.closers, sink.Close)
	return sink, nil
}

// Close releases everything Build opened, newest first.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Feed is a running reading source driver.
type Feed interface {
	Stop(ctx context.Context) error
}

type kafkaFeed struct {
	feed *kafka.Feed
	done chan error
}

func (k *kafkaFeed) Stop(ctx context.Context) error {
	err := k.feed.Close()
	select {
	case runErr := <-k.done:
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
		return errors.Join(err, runErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartFeed starts the configured driver publishing into pub.
func (c *Components) StartFeed(ctx context.Context, pub source.Publisher) (Feed, error) {
	cfg := c.Config
	switch cfg.Source.Driver {
	case "mqtt":
		feed, err := mqtt.New(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, pub, mqtt.WithLogger(c.Logger))
		if err != nil {
			return nil, err
		}
		if err := feed.Start(ctx); err != nil {
			return nil, err
		}
		return feed, nil
	case "kafka":
		feed, err := kafka.New(kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			GroupID:     cfg.Kafka.GroupID,
			PollTimeout: cfg.Kafka.PollTimeout,
			Backoff:     cfg.Kafka.Backoff,
		}, pub, kafka.WithLogger(c.Logger))
		if err != nil {
			return nil, err
		}
		k := &kafkaFeed{feed: feed, done: make(chan error, 1)}
		go func() { k.done <- feed.Run(ctx) }()
		return k, nil
	default:
		sim := source.NewSimulator(pub, source.SimulatorConfig{
			Interval: cfg.Source.Interval,
			Seed:     cfg.Source.Seed,
		}, source.WithSimulatorLogger(c.Logger))
		sim.Start()
		return sim, nil
	}
}
