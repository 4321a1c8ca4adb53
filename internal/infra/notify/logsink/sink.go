// Package logsink is a notification sink that writes alerts to the log. It is
// the default sink for local runs and the rechecker.
package logsink

import "aquawatch/pkg/domain"

var _ domain.NotificationSink = (*Sink)(nil)

// Logger is the structured logger the sink writes to.
type Logger interface {
	Info(msg string, args ...any)
}

// Sink logs every notification at info level.
type Sink struct {
	logger Logger
}

// New returns a sink writing to logger.
func New(logger Logger) *Sink { return &Sink{logger: logger} }

// Send implements domain.NotificationSink.
func (s *Sink) Send(title, body string, id int64) {
	s.logger.Info("notification", "id", id, "title", title, "body", body)
}
