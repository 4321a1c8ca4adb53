// Package core implements the live session: identity gate, tank registry,
// offline buffer and history aggregator, composed by Session on a single
// delivery timeline.
package core

import (
	"slices"
	"sync"

	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

// Stream holds the latest value of a live view and replays it to new
// subscribers. Every delivery runs on the timeline; a subscriber sees each
// value at most once and never an older value after a newer one.
type Stream[T any] struct {
	exec *timeline.Executor

	mu      sync.Mutex
	value   T
	version uint64
	subs    map[uint64]*streamSub[T]
	next    uint64
}

type streamSub[T any] struct {
	fn   func(T)
	seen uint64 // touched only on the timeline
}

// NewStream returns an empty stream delivering on exec.
func NewStream[T any](exec *timeline.Executor) *Stream[T] {
	return &Stream[T]{exec: exec, subs: make(map[uint64]*streamSub[T])}
}

// Current returns the latest value and whether one was emitted.
func (s *Stream[T]) Current() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.version > 0
}

// Subscribe registers fn and replays the current value, if any.
func (s *Stream[T]) Subscribe(fn func(T)) domain.Subscription {
	s.mu.Lock()
	s.next++
	id := s.next
	sub := &streamSub[T]{fn: fn}
	s.subs[id] = sub
	value, version := s.value, s.version
	s.mu.Unlock()
	if version > 0 {
		s.exec.Post(func() { s.deliver(id, sub, version, value) })
	}
	return domain.NewSubscription(func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	})
}

// Emit replaces the current value and schedules delivery.
func (s *Stream[T]) Emit(v T) {
	s.mu.Lock()
	s.version++
	s.value = v
	version := s.version
	s.mu.Unlock()
	s.exec.Post(func() { s.broadcast(version, v) })
}

func (s *Stream[T]) broadcast(version uint64, v T) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	for _, id := range ids {
		s.mu.Lock()
		sub, ok := s.subs[id]
		s.mu.Unlock()
		if ok {
			s.deliver(id, sub, version, v)
		}
	}
}

func (s *Stream[T]) deliver(id uint64, sub *streamSub[T], version uint64, v T) {
	s.mu.Lock()
	_, live := s.subs[id]
	s.mu.Unlock()
	if !live || version <= sub.seen {
		return
	}
	sub.seen = version
	sub.fn(v)
}
