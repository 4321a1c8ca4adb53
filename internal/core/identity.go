package core

import (
	"slices"
	"sync"

	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

// Transition is one identity change observed by the gate.
type Transition struct {
	From domain.Identity
	To   domain.Identity
}

// IdentityGate tracks the session identity. A switch between two users is
// reported as a logout followed by a login.
type IdentityGate struct {
	exec *timeline.Executor

	mu        sync.Mutex
	current   domain.Identity
	callbacks map[uint64]func(Transition)
	next      uint64
}

// NewIdentityGate starts anonymous.
func NewIdentityGate(exec *timeline.Executor) *IdentityGate {
	return &IdentityGate{exec: exec, callbacks: make(map[uint64]func(Transition))}
}

// Current returns the identity as of the last Signal.
func (g *IdentityGate) Current() domain.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// OnTransition registers fn for every subsequent transition. Callbacks run
// on the delivery timeline.
func (g *IdentityGate) OnTransition(fn func(Transition)) domain.Subscription {
	g.mu.Lock()
	g.next++
	id := g.next
	g.callbacks[id] = fn
	g.mu.Unlock()
	return domain.NewSubscription(func() {
		g.mu.Lock()
		delete(g.callbacks, id)
		g.mu.Unlock()
	})
}

// Signal records the identity for userID (empty means logged out) and
// returns the transitions it caused, in order. Repeating the current
// identity causes none.
func (g *IdentityGate) Signal(userID string) []Transition {
	next := domain.Authenticated(userID)
	g.mu.Lock()
	prev := g.current
	if prev == next {
		g.mu.Unlock()
		return nil
	}
	var steps []Transition
	if prev.IsAuthenticated() && next.IsAuthenticated() {
		steps = append(steps, Transition{From: prev, To: domain.Anonymous()}, Transition{From: domain.Anonymous(), To: next})
	} else {
		steps = append(steps, Transition{From: prev, To: next})
	}
	g.current = next
	g.mu.Unlock()

	for _, step := range steps {
		g.exec.Post(func() { g.notify(step) })
	}
	return steps
}

func (g *IdentityGate) notify(t Transition) {
	g.mu.Lock()
	ids := make([]uint64, 0, len(g.callbacks))
	for id := range g.callbacks {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	slices.Sort(ids)
	for _, id := range ids {
		g.mu.Lock()
		fn, ok := g.callbacks[id]
		g.mu.Unlock()
		if ok {
			fn(t)
		}
	}
}
