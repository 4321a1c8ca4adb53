package mqtt

import (
	"errors"
	"testing"
	"time"

	"aquawatch/pkg/domain"
)

type capturePublisher struct {
	readings []domain.Reading
	statuses []domain.ConnectionStatus
}

func (c *capturePublisher) Publish(r domain.Reading)            { c.readings = append(c.readings, r) }
func (c *capturePublisher) SetStatus(s domain.ConnectionStatus) { c.statuses = append(c.statuses, s) }
func (c *capturePublisher) last() domain.ConnectionStatus       { return c.statuses[len(c.statuses)-1] }

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Topic: "tanks"}, &capturePublisher{}); err == nil {
		t.Fatalf("expected broker validation error")
	}
	if _, err := New(Config{Broker: "tcp://localhost:1883"}, &capturePublisher{}); err == nil {
		t.Fatalf("expected topic validation error")
	}
	f, err := New(Config{Broker: "tcp://localhost:1883", Topic: "tanks/+/readings"}, &capturePublisher{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.cfg.ClientID != "aquawatch" {
		t.Fatalf("expected default client id, got %q", f.cfg.ClientID)
	}
	opts := f.clientOptions()
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "localhost:1883" {
		t.Fatalf("unexpected broker servers %+v", opts.Servers)
	}
	if !opts.AutoReconnect {
		t.Fatalf("expected auto reconnect")
	}
}

func TestHandlePayloadPublishesAndDropsMalformed(t *testing.T) {
	pub := &capturePublisher{}
	f, _ := New(Config{Broker: "tcp://b:1883", Topic: "t"}, pub)
	stamp := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return stamp }

	f.handlePayload([]byte(`{"temperature":24,"ph":7.1,"oxygen":7,"water_level":88}`))
	f.handlePayload([]byte(`not json`))

	if len(pub.readings) != 1 {
		t.Fatalf("expected one reading, got %d", len(pub.readings))
	}
	if !pub.readings[0].ObservedAt.Equal(stamp) || pub.readings[0].PH != 7.1 {
		t.Fatalf("unexpected reading %+v", pub.readings[0])
	}
}

func TestConnectionHandlersDriveStatusOnly(t *testing.T) {
	pub := &capturePublisher{}
	f, _ := New(Config{Broker: "tcp://b:1883", Topic: "t"}, pub)

	f.onConnectionLost(nil, errors.New("eof"))
	if pub.last() != domain.StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", pub.last())
	}
	f.onReconnecting()
	if pub.last() != domain.StatusReconnecting {
		t.Fatalf("expected reconnecting, got %s", pub.last())
	}
	if len(pub.readings) != 0 {
		t.Fatalf("connectivity changes must not emit readings")
	}
}
