// Package source publishes live readings and connectivity status to
// listeners on the delivery timeline. Producers (the simulator and the MQTT
// and Kafka feeds) push into a Hub from their own goroutines.
package source

import (
	"slices"
	"sync"

	"aquawatch/internal/observability"
	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

// Listener receives readings and status changes. Both callbacks run on the
// delivery timeline, never concurrently and in production order.
type Listener interface {
	OnReading(domain.Reading)
	OnStatus(domain.ConnectionStatus)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Reading func(domain.Reading)
	Status  func(domain.ConnectionStatus)
}

func (f ListenerFuncs) OnReading(r domain.Reading) {
	if f.Reading != nil {
		f.Reading(r)
	}
}

func (f ListenerFuncs) OnStatus(s domain.ConnectionStatus) {
	if f.Status != nil {
		f.Status(s)
	}
}

// Source is the read side consumed by the live session.
type Source interface {
	Subscribe(Listener) domain.Subscription
	CurrentStatus() domain.ConnectionStatus
}

// Publisher is the write side used by producers.
type Publisher interface {
	Publish(domain.Reading)
	SetStatus(domain.ConnectionStatus)
}

// Hub is the listener registry behind every producer.
type Hub struct {
	exec   *timeline.Executor
	logger observability.Logger

	mu        sync.Mutex
	status    domain.ConnectionStatus
	listeners map[uint64]Listener
	next      uint64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l observability.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub returns a hub delivering on exec. The initial status is Disconnected.
func NewHub(exec *timeline.Executor, opts ...HubOption) *Hub {
	h := &Hub{
		exec:      exec,
		logger:    observability.NopLogger(),
		status:    domain.StatusDisconnected,
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers l. It is safe to call from any goroutine.
func (h *Hub) Subscribe(l Listener) domain.Subscription {
	h.mu.Lock()
	h.next++
	id := h.next
	h.listeners[id] = l
	h.mu.Unlock()
	return domain.NewSubscription(func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	})
}

// CurrentStatus returns the latest status.
func (h *Hub) CurrentStatus() domain.ConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Publish delivers r to every listener registered when the delivery runs.
func (h *Hub) Publish(r domain.Reading) {
	if !h.exec.Post(func() { h.each(func(l Listener) { l.OnReading(r) }) }) {
		h.logger.Debug("reading_dropped_timeline_closed", "observed_at", r.ObservedAt)
	}
}

// SetStatus records s and notifies listeners when it differs from the
// current status.
func (h *Hub) SetStatus(s domain.ConnectionStatus) {
	h.mu.Lock()
	if h.status == s {
		h.mu.Unlock()
		return
	}
	prev := h.status
	h.status = s
	// posted under mu so deliveries follow the order of status changes
	h.exec.Post(func() { h.each(func(l Listener) { l.OnStatus(s) }) })
	h.mu.Unlock()
	h.logger.Info("source_status_changed", "from", string(prev), "to", string(s))
}

// each calls fn for every listener still registered at the moment of the call.
func (h *Hub) each(fn func(Listener)) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	slices.Sort(ids)
	for _, id := range ids {
		h.mu.Lock()
		l, ok := h.listeners[id]
		h.mu.Unlock()
		if ok {
			fn(l)
		}
	}
}
