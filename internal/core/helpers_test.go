package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aquawatch/internal/alerting"
	"aquawatch/internal/infra/persistence/memory"
	"aquawatch/internal/source"
	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

// at returns a fixed mid-morning UTC timestamp so alerts fall outside the
// default quiet hours.
func at(minutes int) time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

func reading(temp float64, minutes int) domain.Reading {
	return domain.Reading{Temperature: temp, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: at(minutes)}
}

func temps(rs []domain.Reading) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.Temperature
	}
	return out
}

func equalTemps(got []domain.Reading, want ...float64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].Temperature != want[i] {
			return false
		}
	}
	return true
}

type notification struct {
	title, body string
	id          int64
}

type captureSink struct {
	mu   sync.Mutex
	sent []notification
}

func (c *captureSink) Send(title, body string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, notification{title, body, id})
}

func (c *captureSink) all() []notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notification(nil), c.sent...)
}

// recordingStore records append order and can fail chosen appends.
type recordingStore struct {
	domain.DurableStore
	mu       sync.Mutex
	appended []domain.Reading
	calls    int
	failOn   map[int]bool // 1-based call index
	gate     chan struct{}
	entered  chan struct{}
}

func (r *recordingStore) AppendReading(ctx context.Context, target domain.Target, reading domain.Reading) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	fail := r.failOn[call]
	gate, entered := r.gate, r.entered
	r.mu.Unlock()
	if gate != nil && call == 1 {
		entered <- struct{}{}
		<-gate
	}
	if fail {
		return domain.PersistenceError{Op: "append_reading", Err: errors.New("store unreachable")}
	}
	if err := r.DurableStore.AppendReading(ctx, target, reading); err != nil {
		return err
	}
	r.mu.Lock()
	r.appended = append(r.appended, reading)
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) order() []domain.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Reading(nil), r.appended...)
}

type harness struct {
	exec    *timeline.Executor
	hub     *source.Hub
	mem     *memory.Store
	store   *recordingStore
	sink    *captureSink
	session *Session
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	exec := timeline.New()
	hub := source.NewHub(exec)
	mem := memory.NewStore()
	store := &recordingStore{DurableStore: mem, failOn: map[int]bool{}}
	sink := &captureSink{}
	dispatcher := alerting.NewDispatcher(sink, alerting.WithLocation(time.UTC))
	session := NewSession(exec, hub, store, dispatcher, opts...)
	session.Start()
	t.Cleanup(func() {
		session.Close()
		exec.Close()
	})
	return &harness{exec: exec, hub: hub, mem: mem, store: store, sink: sink, session: session}
}

func (h *harness) publish(rs ...domain.Reading) {
	for _, r := range rs {
		h.hub.Publish(r)
	}
	h.session.Sync()
}

func (h *harness) tank(t *testing.T, user, name string) domain.TankProfile {
	t.Helper()
	tank, err := h.mem.CreateTank(context.Background(), user, name)
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}
	return tank
}
