package pulsar

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pulsarclient "github.com/apache/pulsar-client-go/pulsar"
)

type fakeProducer struct {
	sent    []*pulsarclient.ProducerMessage
	failErr error
	flushed bool
	closed  bool
}

func (f *fakeProducer) SendAsync(_ context.Context, msg *pulsarclient.ProducerMessage, cb func(pulsarclient.MessageID, *pulsarclient.ProducerMessage, error)) {
	f.sent = append(f.sent, msg)
	cb(nil, msg, f.failErr)
}

func (f *fakeProducer) Flush() error {
	f.flushed = true
	return nil
}

func (f *fakeProducer) Close() { f.closed = true }

type captureLogger struct{ events []string }

func (c *captureLogger) Warn(msg string, _ ...any) { c.events = append(c.events, msg) }

func TestSendPublishesJSON(t *testing.T) {
	producer := &fakeProducer{}
	sink := New(producer)
	sink.now = func() time.Time { return time.UnixMilli(1700000000000) }

	sink.Send("Low Oxygen Alert!", "oxygen 3 below min 5", 7)

	if len(producer.sent) != 1 {
		t.Fatalf("sent = %d", len(producer.sent))
	}
	msg := producer.sent[0]
	if msg.Key != "7" || msg.Properties["title"] != "Low Oxygen Alert!" {
		t.Fatalf("message meta = key %q props %v", msg.Key, msg.Properties)
	}
	var got Message
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	want := Message{ID: 7, Title: "Low Oxygen Alert!", Body: "oxygen 3 below min 5", SentAt: 1700000000000}
	if got != want {
		t.Fatalf("payload = %+v, want %+v", got, want)
	}
}

func TestSendFailureIsLogged(t *testing.T) {
	producer := &fakeProducer{failErr: errors.New("broker down")}
	logger := &captureLogger{}
	New(producer, WithLogger(logger)).Send("t", "b", 1)
	if len(logger.events) != 1 || logger.events[0] != "pulsar_publish_failed" {
		t.Fatalf("events = %v", logger.events)
	}
}

func TestCloseFlushesProducer(t *testing.T) {
	producer := &fakeProducer{}
	if err := New(producer).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !producer.flushed || !producer.closed {
		t.Fatalf("flushed=%v closed=%v", producer.flushed, producer.closed)
	}
}
