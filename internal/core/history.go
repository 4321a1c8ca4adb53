package core

import (
	"context"
	"slices"
	"sync"

	"aquawatch/internal/observability"
	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

// HistoryView is one emission of the history aggregator: the persisted
// history of the target followed by live readings not yet persisted.
type HistoryView struct {
	Target   domain.Target
	Readings []domain.Reading
}

// HistoryAggregator merges the persisted history of the selected tank with
// the live readings tagged for it.
type HistoryAggregator struct {
	store  domain.ReadingStore
	logger observability.Logger
	out    *Stream[HistoryView]

	mu        sync.Mutex
	gen       uint64
	target    domain.Target
	sub       domain.Subscription
	persisted []domain.Reading
	keys      map[domain.ReadingKey]struct{}
	pending   []domain.Reading
}

// NewHistoryAggregator returns an aggregator with no target.
func NewHistoryAggregator(store domain.ReadingStore, exec *timeline.Executor, logger observability.Logger) *HistoryAggregator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &HistoryAggregator{store: store, logger: logger, out: NewStream[HistoryView](exec)}
}

// Views is the stream of every emission regardless of target.
func (a *HistoryAggregator) Views() *Stream[HistoryView] { return a.out }

// HistoryFor delivers the merged history of tankID while it is the target.
func (a *HistoryAggregator) HistoryFor(tankID string, fn func([]domain.Reading)) domain.Subscription {
	return a.out.Subscribe(func(v HistoryView) {
		if v.Target.TankID == tankID {
			fn(v.Readings)
		}
	})
}

// Current returns the latest view.
func (a *HistoryAggregator) Current() HistoryView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

// Target returns the target being followed.
func (a *HistoryAggregator) Target() domain.Target {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// Switch stops following the previous target before following target. An
// invalid target leaves the aggregator idle with an empty view.
func (a *HistoryAggregator) Switch(ctx context.Context, target domain.Target) error {
	a.mu.Lock()
	prev := a.sub
	a.sub = nil
	a.gen++
	gen := a.gen
	a.target = target
	a.persisted, a.keys, a.pending = nil, nil, nil
	a.out.Emit(a.viewLocked())
	a.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	if !target.Valid() {
		return nil
	}
	sub, err := a.store.WatchHistory(ctx, target.UserID, target.TankID, func(rs []domain.Reading) {
		a.applySnapshot(gen, rs)
	})
	if err != nil {
		a.logger.Warn("history_watch_failed", "user_id", target.UserID, "tank_id", target.TankID, "error", err)
		return err
	}
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		sub.Cancel()
		return nil
	}
	a.sub = sub
	a.mu.Unlock()
	return nil
}

// AddLive appends a live reading tagged with tankID. Readings for any other
// tank than the current target are discarded. It reports whether the view
// changed.
func (a *HistoryAggregator) AddLive(tankID string, r domain.Reading) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.target.Valid() || tankID != a.target.TankID {
		return false
	}
	if _, ok := a.keys[r.Key()]; ok {
		return false
	}
	a.pending = append(a.pending, r)
	a.out.Emit(a.viewLocked())
	return true
}

// applySnapshot replaces the persisted part and drops pending entries the
// snapshot now contains. Replaying a snapshot yields the same view.
func (a *HistoryAggregator) applySnapshot(gen uint64, rs []domain.Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return
	}
	a.persisted = slices.Clone(rs)
	a.keys = make(map[domain.ReadingKey]struct{}, len(rs))
	for _, r := range rs {
		a.keys[r.Key()] = struct{}{}
	}
	a.pending = slices.DeleteFunc(a.pending, func(r domain.Reading) bool {
		_, ok := a.keys[r.Key()]
		return ok
	})
	a.out.Emit(a.viewLocked())
}

func (a *HistoryAggregator) viewLocked() HistoryView {
	readings := make([]domain.Reading, 0, len(a.persisted)+len(a.pending))
	readings = append(readings, a.persisted...)
	readings = append(readings, a.pending...)
	return HistoryView{Target: a.target, Readings: readings}
}
