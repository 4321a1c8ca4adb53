package logsink

import "testing"

type captureLogger struct {
	msgs []string
	args [][]any
}

func (c *captureLogger) Info(msg string, args ...any) {
	c.msgs = append(c.msgs, msg)
	c.args = append(c.args, args)
}

func TestSendLogsNotification(t *testing.T) {
	logger := &captureLogger{}
	New(logger).Send("High Temperature Alert!", "Reef: temperature 30 above max 28", 42)
	if len(logger.msgs) != 1 || logger.msgs[0] != "notification" {
		t.Fatalf("msgs = %v", logger.msgs)
	}
	args := logger.args[0]
	want := []any{"id", int64(42), "title", "High Temperature Alert!", "body", "Reef: temperature 30 above max 28"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d = %v, want %v", i, args[i], want[i])
		}
	}
}
