package kafka

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"aquawatch/pkg/domain"
)

type capturePublisher struct {
	readings []domain.Reading
	statuses []domain.ConnectionStatus
}

func (c *capturePublisher) Publish(r domain.Reading) { c.readings = append(c.readings, r) }
func (c *capturePublisher) SetStatus(s domain.ConnectionStatus) {
	c.statuses = append(c.statuses, s)
}

type fetchResult struct {
	msg kafka.Message
	err error
}

type scriptedFetcher struct {
	results   []fetchResult
	committed []int64
	closed    bool
}

func (s *scriptedFetcher) FetchMessage(context.Context) (kafka.Message, error) {
	if len(s.results) == 0 {
		return kafka.Message{}, io.EOF
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.msg, next.err
}

func (s *scriptedFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *scriptedFetcher) Close() error {
	s.closed = true
	return nil
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Topic: "readings"}, &capturePublisher{}); err == nil {
		t.Fatalf("expected broker validation error")
	}
	if _, err := New(Config{Brokers: []string{"localhost:9092"}}, &capturePublisher{}); err == nil {
		t.Fatalf("expected topic validation error")
	}
}

func TestRunPublishesDecodedMessagesAndTracksStatus(t *testing.T) {
	at := time.Date(2024, 4, 4, 4, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{results: []fetchResult{
		{msg: kafka.Message{Offset: 1, Time: at, Value: []byte(`{"temperature":26,"ph":7,"oxygen":6,"water_level":95}`)}},
		{err: errors.New("broker unavailable")},
		{msg: kafka.Message{Offset: 2, Value: []byte(`garbage`)}},
		{msg: kafka.Message{Offset: 3, Value: []byte(`{"temperature":27,"ph":7,"oxygen":6,"water_level":95,"observed_at":"2024-04-04T05:00:00Z"}`)}},
	}}
	pub := &capturePublisher{}
	feed, err := New(Config{Brokers: []string{"b:9092"}, Topic: "readings", Backoff: time.Millisecond}, pub, withFetcher(fetcher))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := feed.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(pub.readings) != 2 {
		t.Fatalf("expected two readings, got %d", len(pub.readings))
	}
	if !pub.readings[0].ObservedAt.Equal(at) {
		t.Fatalf("expected message time stamp, got %v", pub.readings[0].ObservedAt)
	}
	if pub.readings[1].Temperature != 27 {
		t.Fatalf("unexpected second reading %+v", pub.readings[1])
	}
	want := []domain.ConnectionStatus{
		domain.StatusConnected, domain.StatusReconnecting, domain.StatusConnected,
		domain.StatusConnected, domain.StatusDisconnected,
	}
	if len(pub.statuses) != len(want) {
		t.Fatalf("unexpected statuses %v", pub.statuses)
	}
	for i := range want {
		if pub.statuses[i] != want[i] {
			t.Fatalf("status %d: want %s got %s", i, want[i], pub.statuses[i])
		}
	}
	if len(fetcher.committed) != 3 {
		t.Fatalf("expected three commits, got %v", fetcher.committed)
	}
	if err := feed.Close(); err != nil || !fetcher.closed {
		t.Fatalf("expected reader closed")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed, _ := New(Config{Brokers: []string{"b:9092"}, Topic: "readings"}, &capturePublisher{}, withFetcher(&scriptedFetcher{}))
	if err := feed.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
