// Package storetest holds the behavioural contract every domain.DurableStore
// driver must satisfy. Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aquawatch/pkg/domain"
)

// Opener returns a fresh, empty store. The contract closes it.
type Opener func(t *testing.T) domain.DurableStore

// Run executes the contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	t.Run("history ordered by observation then insertion", func(t *testing.T) { historyOrdering(t, open) })
	t.Run("latest reading", func(t *testing.T) { latestReading(t, open) })
	t.Run("history scoped by owner and tank", func(t *testing.T) { historyScoping(t, open) })
	t.Run("watch history", func(t *testing.T) { watchHistory(t, open) })
	t.Run("tanks", func(t *testing.T) { tanks(t, open) })
	t.Run("profiles", func(t *testing.T) { profiles(t, open) })
}

func openStore(t *testing.T, open Opener) domain.DurableStore {
	store := open(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// At returns a fixed timestamp offset by minutes, for readable fixtures.
func At(minutes int) time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

func historyOrdering(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)
	target := domain.Target{UserID: "u1", TankID: "t1"}
	inputs := []domain.Reading{
		{Temperature: 3, ObservedAt: At(3)},
		{Temperature: 1, ObservedAt: At(1)},
		{Temperature: 2, ObservedAt: At(2)},
		{Temperature: 2.5, ObservedAt: At(2)},
	}
	for _, r := range inputs {
		if err := store.AppendReading(ctx, target, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := store.History(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []float64{1, 2, 2.5, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d readings, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Temperature != want[i] {
			t.Fatalf("position %d: want %v got %v", i, want[i], got[i].Temperature)
		}
		if got[i].Key() != findInput(inputs, want[i]).Key() {
			t.Fatalf("position %d: reading did not round trip: %+v", i, got[i])
		}
	}
	if err := store.AppendReading(ctx, domain.Target{UserID: "u1"}, domain.Reading{}); err == nil {
		t.Fatalf("expected append without tank to fail")
	}
}

func findInput(inputs []domain.Reading, temp float64) domain.Reading {
	for _, r := range inputs {
		if r.Temperature == temp {
			return r
		}
	}
	return domain.Reading{}
}

func latestReading(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)
	if _, ok, err := store.LatestReading(ctx, "u1", "t1"); err != nil || ok {
		t.Fatalf("expected no latest reading, got ok=%v err=%v", ok, err)
	}
	target := domain.Target{UserID: "u1", TankID: "t1"}
	for _, r := range []domain.Reading{{Temperature: 30, ObservedAt: At(5)}, {Temperature: 16, ObservedAt: At(6)}, {Temperature: 20, ObservedAt: At(4)}} {
		if err := store.AppendReading(ctx, target, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	latest, ok, err := store.LatestReading(ctx, "u1", "t1")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.Temperature != 16 {
		t.Fatalf("expected latest by observation time, got %+v", latest)
	}
}

func historyScoping(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)
	_ = store.AppendReading(ctx, domain.Target{UserID: "u1", TankID: "t1"}, domain.Reading{Temperature: 1, ObservedAt: At(1)})
	_ = store.AppendReading(ctx, domain.Target{UserID: "u1", TankID: "t2"}, domain.Reading{Temperature: 2, ObservedAt: At(1)})
	_ = store.AppendReading(ctx, domain.Target{UserID: "u2", TankID: "t1"}, domain.Reading{Temperature: 3, ObservedAt: At(1)})
	got, err := store.History(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 || got[0].Temperature != 1 {
		t.Fatalf("unexpected scoped history %+v", got)
	}
}

type snapshots[T any] struct {
	mu   sync.Mutex
	seen []T
}

func (s *snapshots[T]) add(v T) {
	s.mu.Lock()
	s.seen = append(s.seen, v)
	s.mu.Unlock()
}

func (s *snapshots[T]) all() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.seen...)
}

func watchHistory(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)
	target := domain.Target{UserID: "u1", TankID: "t1"}
	_ = store.AppendReading(ctx, target, domain.Reading{Temperature: 1, ObservedAt: At(1)})

	var got snapshots[[]domain.Reading]
	sub, err := store.WatchHistory(ctx, "u1", "t1", got.add)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if seen := got.all(); len(seen) != 1 || len(seen[0]) != 1 {
		t.Fatalf("expected initial snapshot before return, got %+v", seen)
	}
	_ = store.AppendReading(ctx, target, domain.Reading{Temperature: 2, ObservedAt: At(2)})
	_ = store.AppendReading(ctx, domain.Target{UserID: "u1", TankID: "other"}, domain.Reading{Temperature: 9, ObservedAt: At(2)})
	seen := got.all()
	if len(seen) != 2 || len(seen[1]) != 2 || seen[1][1].Temperature != 2 {
		t.Fatalf("expected snapshot after append, got %+v", seen)
	}
	sub.Cancel()
	_ = store.AppendReading(ctx, target, domain.Reading{Temperature: 3, ObservedAt: At(3)})
	if len(got.all()) != 2 {
		t.Fatalf("expected no delivery after cancel")
	}
}

func tanks(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	var got snapshots[[]domain.TankProfile]
	sub, err := store.WatchTanks(ctx, "u1", got.add)
	if err != nil {
		t.Fatalf("watch tanks: %v", err)
	}
	defer sub.Cancel()

	a, err := store.CreateTank(ctx, "u1", "  Reef  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" || a.DisplayName != "Reef" {
		t.Fatalf("unexpected tank %+v", a)
	}
	b, _ := store.CreateTank(ctx, "u1", "Planted")
	if _, err := store.CreateTank(ctx, "u2", "Other"); err != nil {
		t.Fatalf("create other owner: %v", err)
	}
	var verr domain.ValidationError
	if _, err := store.CreateTank(ctx, "u1", "   "); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	list, err := store.ListTanks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0] != a || list[1] != b {
		t.Fatalf("unexpected list %+v", list)
	}
	seen := got.all()
	if len(seen) != 3 || len(seen[0]) != 0 || len(seen[2]) != 2 {
		t.Fatalf("unexpected tank snapshots %+v", seen)
	}
}

func profiles(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)
	if _, err := store.LoadProfile(ctx, "u1"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	p := domain.DefaultThresholdProfile()
	p.MaxTemperature = 26.5
	p.QuietHoursStart, p.QuietHoursEnd = 23, 6
	if err := store.SaveProfile(ctx, "u1", p); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.MinPH = 6.8
	if err := store.SaveProfile(ctx, "u1", p); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.LoadProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != p {
		t.Fatalf("profile mismatch: want %+v got %+v", p, got)
	}
	bad := p
	bad.MinOxygen, bad.MaxOxygen = 10, 5
	if err := store.SaveProfile(ctx, "u1", bad); err == nil {
		t.Fatalf("expected invalid profile to be rejected")
	}
}
