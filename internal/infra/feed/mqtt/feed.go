// Package mqtt feeds readings published by tank controllers over MQTT into a
// source.Publisher.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"aquawatch/internal/observability"
	"aquawatch/internal/source"
	"aquawatch/pkg/domain"
)

// Config configures the broker connection.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// Feed subscribes to Topic and publishes every decoded payload. Connectivity
// loss only changes status; readings stop until the client reconnects.
type Feed struct {
	cfg    Config
	pub    source.Publisher
	logger observability.Logger
	now    func() time.Time
	client paho.Client
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

// New validates cfg and prepares an unconnected feed.
func New(cfg Config, pub source.Publisher, opts ...Option) (*Feed, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker must not be empty")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("mqtt topic must not be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "aquawatch"
	}
	f := &Feed{cfg: cfg, pub: pub, logger: observability.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Feed) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(f.cfg.Broker).
		SetClientID(f.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(f.onConnect).
		SetConnectionLostHandler(f.onConnectionLost).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) { f.onReconnecting() })
	if f.cfg.Username != "" {
		opts.SetUsername(f.cfg.Username)
		opts.SetPassword(f.cfg.Password)
	}
	return opts
}

// Start connects to the broker. The subscription is (re)established by the
// connect handler, so it survives reconnects.
func (f *Feed) Start(ctx context.Context) error {
	f.client = paho.NewClient(f.clientOptions())
	token := f.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", f.cfg.Broker, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop disconnects and reports Disconnected.
func (f *Feed) Stop(_ context.Context) error {
	if f.client != nil {
		f.client.Disconnect(250)
	}
	f.pub.SetStatus(domain.StatusDisconnected)
	return nil
}

func (f *Feed) onConnect(c paho.Client) {
	f.pub.SetStatus(domain.StatusConnected)
	token := c.Subscribe(f.cfg.Topic, f.cfg.QoS, func(_ paho.Client, m paho.Message) {
		f.handlePayload(m.Payload())
	})
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			f.logger.Error("mqtt_subscribe_failed", "topic", f.cfg.Topic, "error", token.Error())
		}
	}()
	f.logger.Info("mqtt_connected", "broker", f.cfg.Broker, "topic", f.cfg.Topic)
}

func (f *Feed) onConnectionLost(_ paho.Client, err error) {
	f.logger.Warn("mqtt_connection_lost", "broker", f.cfg.Broker, "error", err)
	f.pub.SetStatus(domain.StatusDisconnected)
}

func (f *Feed) onReconnecting() {
	f.pub.SetStatus(domain.StatusReconnecting)
}

func (f *Feed) handlePayload(payload []byte) {
	reading, err := source.DecodeReading(payload, f.now())
	if err != nil {
		f.logger.Warn("mqtt_payload_dropped", "topic", f.cfg.Topic, "error", err)
		return
	}
	f.pub.Publish(reading)
}
