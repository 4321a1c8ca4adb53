// Package pulsar publishes alert notifications to an Apache Pulsar topic as
// JSON messages keyed by notification id.
package pulsar

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pulsarclient "github.com/apache/pulsar-client-go/pulsar"

	"aquawatch/pkg/domain"
)

var _ domain.NotificationSink = (*Sink)(nil)

// DefaultTopic receives alert notifications when no topic is configured.
const DefaultTopic = "persistent://public/default/aquawatch-alerts"

// Message is the payload published for every notification.
type Message struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	SentAt int64  `json:"sent_at"`
}

// Producer is the subset of pulsar.Producer the sink uses.
type Producer interface {
	SendAsync(ctx context.Context, msg *pulsarclient.ProducerMessage, callback func(pulsarclient.MessageID, *pulsarclient.ProducerMessage, error))
	Flush() error
	Close()
}

// Logger receives publish failures.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Sink publishes notifications without waiting for broker acknowledgement.
type Sink struct {
	producer Producer
	client   pulsarclient.Client // owned when created by Dial
	logger   Logger
	now      func() time.Time
}

// Option configures the sink.
type Option func(*Sink)

// WithLogger sets the logger used for publish failures.
func WithLogger(l Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps an existing producer.
func New(producer Producer, opts ...Option) *Sink {
	s := &Sink{producer: producer, logger: noopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial creates a client and producer for topic at url.
func Dial(url, topic string, opts ...Option) (*Sink, error) {
	if url == "" {
		url = "pulsar://localhost:6650"
	}
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := pulsarclient.NewClient(pulsarclient.ClientOptions{
		URL:               url,
		OperationTimeout:  30 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("pulsar client: %w", err)
	}
	producer, err := client.CreateProducer(pulsarclient.ProducerOptions{Topic: topic, Name: "aquawatch-alerts"})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulsar producer: %w", err)
	}
	s := New(producer, opts...)
	s.client = client
	return s, nil
}

// Send implements domain.NotificationSink.
func (s *Sink) Send(title, body string, id int64) {
	payload, err := json.Marshal(Message{ID: id, Title: title, Body: body, SentAt: s.now().UnixMilli()})
	if err != nil {
		s.logger.Warn("pulsar_encode_failed", "id", id, "error", err)
		return
	}
	msg := &pulsarclient.ProducerMessage{
		Payload:    payload,
		Key:        strconv.FormatInt(id, 10),
		Properties: map[string]string{"title": title},
	}
	s.producer.SendAsync(context.Background(), msg, func(_ pulsarclient.MessageID, _ *pulsarclient.ProducerMessage, err error) {
		if err != nil {
			s.logger.Warn("pulsar_publish_failed", "id", id, "error", err)
		}
	})
}

// Close flushes pending messages and releases the producer and owned client.
func (s *Sink) Close() error {
	err := s.producer.Flush()
	s.producer.Close()
	if s.client != nil {
		s.client.Close()
	}
	return err
}
