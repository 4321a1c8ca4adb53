// Package kafka feeds readings from a Kafka topic into a source.Publisher.
package kafka

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"aquawatch/internal/observability"
	"aquawatch/internal/source"
	"aquawatch/pkg/domain"
)

// Config captures the reader tunables.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
	Backoff     time.Duration
}

// messageFetcher is the read capability used by the loop; *kafka.Reader
// satisfies it.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Feed consumes reading messages. Status is Connected after a successful
// fetch, Reconnecting while retrying after errors and Disconnected once
// closed.
type Feed struct {
	cfg     Config
	fetcher messageFetcher
	pub     source.Publisher
	logger  observability.Logger
	now     func() time.Time
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the feed logger.
func WithLogger(l observability.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

func withFetcher(m messageFetcher) Option {
	return func(f *Feed) { f.fetcher = m }
}

// New validates cfg and builds the reader.
func New(cfg Config, pub source.Publisher, opts ...Option) (*Feed, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		cfg.GroupID = "aquawatch"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	f := &Feed{cfg: cfg, pub: pub, logger: observability.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	if f.fetcher == nil {
		f.fetcher = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       cfg.Topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
	}
	return f, nil
}

// Run consumes until ctx is cancelled or the reader is closed.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("kafka_feed_started", "topic", f.cfg.Topic, "group", f.cfg.GroupID, "brokers", strings.Join(f.cfg.Brokers, ","))
	defer f.logger.Info("kafka_feed_stopped", "topic", f.cfg.Topic)
	defer f.pub.SetStatus(domain.StatusDisconnected)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.PollTimeout)
		msg, err := f.fetcher.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled) && ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			}
			f.logger.Error("kafka_feed_fetch_error", "error", err)
			f.pub.SetStatus(domain.StatusReconnecting)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.cfg.Backoff):
			}
			continue
		}
		f.pub.SetStatus(domain.StatusConnected)
		f.handle(msg)
		if err := f.fetcher.CommitMessages(ctx, msg); err != nil {
			f.logger.Warn("kafka_feed_commit_failed", "offset", msg.Offset, "error", err)
		}
	}
}

func (f *Feed) handle(msg kafka.Message) {
	received := msg.Time
	if received.IsZero() {
		received = f.now()
	}
	reading, err := source.DecodeReading(msg.Value, received)
	if err != nil {
		f.logger.Warn("kafka_feed_decode_error", "offset", msg.Offset, "error", err)
		return
	}
	f.pub.Publish(reading)
}

// Close shuts down the underlying reader.
func (f *Feed) Close() error {
	if f == nil || f.fetcher == nil {
		return nil
	}
	return f.fetcher.Close()
}
