package domain

import (
	"context"
	"sync"
)

// Subscription is a handle to an active stream or listener registration.
// Cancel is idempotent and may be called from any goroutine; once it returns
// no further deliveries reach the callback.
type Subscription interface {
	Cancel()
}

type onceSubscription struct {
	once   sync.Once
	cancel func()
}

func (s *onceSubscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// NewSubscription wraps cancel so that it runs at most once.
func NewSubscription(cancel func()) Subscription {
	return &onceSubscription{cancel: cancel}
}

// ReadingStore persists the append-only reading history of a tank.
// History is ordered ascending by ObservedAt, ties broken by insertion order.
type ReadingStore interface {
	AppendReading(ctx context.Context, target Target, reading Reading) error
	History(ctx context.Context, userID, tankID string) ([]Reading, error)
	LatestReading(ctx context.Context, userID, tankID string) (Reading, bool, error)
	// WatchHistory calls fn with the current history before returning and again
	// after every append to the tank. Calls for one subscription never overlap.
	WatchHistory(ctx context.Context, userID, tankID string, fn func([]Reading)) (Subscription, error)
}

// TankStore persists the tanks owned by each user.
type TankStore interface {
	ListTanks(ctx context.Context, userID string) ([]TankProfile, error)
	// WatchTanks follows the same delivery contract as WatchHistory.
	WatchTanks(ctx context.Context, userID string, fn func([]TankProfile)) (Subscription, error)
	CreateTank(ctx context.Context, userID, displayName string) (TankProfile, error)
}

// ProfileStore persists one ThresholdProfile per user. LoadProfile returns
// ErrProfileNotFound when the user has none on record.
type ProfileStore interface {
	LoadProfile(ctx context.Context, userID string) (ThresholdProfile, error)
	SaveProfile(ctx context.Context, userID string, profile ThresholdProfile) error
}

// DurableStore is the full durable backend used by the live session and the
// background rechecker.
type DurableStore interface {
	ReadingStore
	TankStore
	ProfileStore
	Close() error
}

// NotificationSink delivers alert notifications. Send is fire-and-forget.
type NotificationSink interface {
	Send(title, body string, id int64)
}
