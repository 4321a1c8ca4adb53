package recheck

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aquawatch/internal/alerting"
	"aquawatch/internal/infra/persistence/memory"
	"aquawatch/pkg/domain"
)

func at(minutes int) time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

type captureSink struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (c *captureSink) Send(title, body string, _ int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, body)
}

func (c *captureSink) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...)
}

type fixture struct {
	store *memory.Store
	sink  *captureSink
	disp  *alerting.Dispatcher
	reef  domain.TankProfile
	pond  domain.TankProfile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.NewStore(), sink: &captureSink{}}
	f.disp = alerting.NewDispatcher(f.sink, alerting.WithLocation(time.UTC))
	var err error
	if f.reef, err = f.store.CreateTank(ctx, "u1", "Reef"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.pond, err = f.store.CreateTank(ctx, "u1", "Pond"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.store.SaveProfile(ctx, "u1", domain.DefaultThresholdProfile()); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	return f
}

func (f *fixture) append(t *testing.T, tank domain.TankProfile, r domain.Reading) {
	t.Helper()
	if err := f.store.AppendReading(context.Background(), domain.Target{UserID: "u1", TankID: tank.ID}, r); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRunChecksOnlyLatestReadingPerTank(t *testing.T) {
	f := newFixture(t)
	f.append(t, f.reef, domain.Reading{Temperature: 35, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: at(0)})
	f.append(t, f.reef, domain.Reading{Temperature: 25, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: at(1)})
	f.append(t, f.pond, domain.Reading{Temperature: 25, PH: 5, Oxygen: 15, WaterLevel: 90, ObservedAt: at(1)})

	report, err := New(f.store, f.disp, "u1").Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := Report{Tanks: 2, Checked: 2, Alerts: 2, Delivered: 2}
	if report != want {
		t.Fatalf("report = %+v, want %+v", report, want)
	}
	got := f.sink.sent()
	if len(got) != 2 || got[0] != "Low pH Alert!" || got[1] != "High Oxygen Alert!" {
		t.Fatalf("titles = %v", got)
	}
	if f.sink.bodies[0] != "Pond: pH 5 is below the minimum of 6.5" {
		t.Fatalf("body = %q", f.sink.bodies[0])
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.append(t, f.reef, domain.Reading{Temperature: 16, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: at(0)})
	r := New(f.store, f.disp, "u1")

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first != second {
		t.Fatalf("runs differ: %+v vs %+v", first, second)
	}
	got := f.sink.sent()
	if len(got) != 2 || got[0] != got[1] || got[0] != "Low Temperature Alert!" {
		t.Fatalf("titles = %v", got)
	}
	history, _ := f.store.History(context.Background(), "u1", f.reef.ID)
	if len(history) != 1 {
		t.Fatalf("run must not write history, got %d readings", len(history))
	}
}

func TestRunSoftNoOps(t *testing.T) {
	f := newFixture(t)
	f.append(t, f.reef, domain.Reading{Temperature: 40, ObservedAt: at(0)})

	report, err := New(f.store, f.disp, "").Run(context.Background())
	if err != nil || report.Skipped != SkipNotAuthenticated {
		t.Fatalf("anonymous run = %+v, %v", report, err)
	}
	report, err = New(f.store, f.disp, "u2").Run(context.Background())
	if err != nil || report.Skipped != SkipNoProfile {
		t.Fatalf("no profile run = %+v, %v", report, err)
	}
	if len(f.sink.sent()) != 0 {
		t.Fatalf("expected no notifications, got %v", f.sink.sent())
	}
}

func TestRunRespectsQuietHours(t *testing.T) {
	f := newFixture(t)
	f.append(t, f.reef, domain.Reading{Temperature: 40, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)})
	report, err := New(f.store, f.disp, "u1").Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Alerts != 1 || report.Delivered != 0 || len(f.sink.sent()) != 0 {
		t.Fatalf("report = %+v sent = %v", report, f.sink.sent())
	}
}

type faultyStore struct {
	Store
	profileErr error
	failTank   string
}

func (s faultyStore) LoadProfile(ctx context.Context, userID string) (domain.ThresholdProfile, error) {
	if s.profileErr != nil {
		return domain.ThresholdProfile{}, s.profileErr
	}
	return s.Store.LoadProfile(ctx, userID)
}

func (s faultyStore) LatestReading(ctx context.Context, userID, tankID string) (domain.Reading, bool, error) {
	if tankID == s.failTank {
		return domain.Reading{}, false, errors.New("timeout")
	}
	return s.Store.LatestReading(ctx, userID, tankID)
}

func TestRunProfileFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("unavailable")
	_, err := New(faultyStore{Store: f.store, profileErr: boom}, f.disp, "u1").Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected profile error, got %v", err)
	}
}

func TestRunCountsTankFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	f.append(t, f.reef, domain.Reading{Temperature: 40, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: at(0)})
	f.append(t, f.pond, domain.Reading{Temperature: 40, PH: 7, Oxygen: 8, WaterLevel: 90, ObservedAt: at(0)})
	report, err := New(faultyStore{Store: f.store, failTank: f.reef.ID}, f.disp, "u1").Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 || report.Checked != 1 || report.Delivered != 1 {
		t.Fatalf("report = %+v", report)
	}
}

type fakeArchiver struct {
	mu   sync.Mutex
	days map[string]time.Time
	err  error
}

func (a *fakeArchiver) ExportDay(_ context.Context, owner string, tank domain.TankProfile, day time.Time) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return false, a.err
	}
	key := owner + "/" + tank.ID
	if _, done := a.days[key]; done {
		return false, nil
	}
	a.days[key] = day
	return true, nil
}

func TestRunArchivesPreviousDay(t *testing.T) {
	f := newFixture(t)
	arch := &fakeArchiver{days: map[string]time.Time{}}
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	r := New(f.store, f.disp, "u1", WithArchiver(arch), WithClock(func() time.Time { return now }))

	report, err := r.Run(context.Background())
	if err != nil || report.Archived != 2 {
		t.Fatalf("first run = %+v, %v", report, err)
	}
	if day := arch.days["u1/"+f.reef.ID]; day.Day() != 1 {
		t.Fatalf("archived day = %s", day)
	}
	report, err = r.Run(context.Background())
	if err != nil || report.Archived != 0 {
		t.Fatalf("second run = %+v, %v", report, err)
	}

	arch.err = errors.New("bucket gone")
	if report, err = r.Run(context.Background()); err != nil || report.Archived != 0 {
		t.Fatalf("archive failure must not fail the run: %+v, %v", report, err)
	}
}

func TestRunEvery(t *testing.T) {
	f := newFixture(t)
	r := New(f.store, f.disp, "u1")
	if err := r.RunEvery(context.Background(), 0); err == nil {
		t.Fatalf("expected interval error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.RunEvery(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestLoopKeepsTickingAfterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := 0
	err := Loop(ctx, time.Millisecond, nil, func(context.Context) error {
		ticks++
		if ticks == 3 {
			cancel()
		}
		return errors.New("store unreachable")
	})
	if !errors.Is(err, context.Canceled) || ticks != 3 {
		t.Fatalf("err = %v ticks = %d", err, ticks)
	}
}
