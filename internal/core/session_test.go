package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquawatch/pkg/domain"
)

func TestOfflineReadingsFlushInOrderAfterLoginAndSelect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(reading(25, 3), reading(24, 1), reading(26, 2))
	if n := h.session.Buffer().Len(); n != 3 {
		t.Fatalf("buffered = %d, want 3", n)
	}

	tank := h.tank(t, "u1", "Reef")
	if err := h.session.Login(ctx, "u1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := h.session.SelectTank(ctx, tank.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	h.session.Sync()

	if !equalTemps(h.store.order(), 25, 24, 26) {
		t.Fatalf("append order = %v, want arrival order", temps(h.store.order()))
	}
	if n := h.session.Buffer().Len(); n != 0 {
		t.Fatalf("buffer not empty after flush: %d", n)
	}
	got, _ := h.mem.History(ctx, "u1", tank.ID)
	if !equalTemps(got, 24, 26, 25) {
		t.Fatalf("history = %v, want ordered by observation", temps(got))
	}
}

func TestLiveReadingsPersistWhileTargetResolvable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tank := h.tank(t, "u1", "Reef")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, tank.ID)
	h.publish(reading(25, 1), reading(25.5, 2))

	if h.session.Buffer().Len() != 0 {
		t.Fatalf("expected direct writes")
	}
	target, view := h.session.History(domain.WindowAll, at(10))
	if target.TankID != tank.ID || !equalTemps(view, 25, 25.5) {
		t.Fatalf("view = %v for %+v", temps(view), target)
	}
	latest, ok := h.session.Latest()
	if !ok || latest.Temperature != 25.5 {
		t.Fatalf("latest = %+v ok=%v", latest, ok)
	}
}

func TestFailedLiveWriteIsRetriedBeforeNextWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tank := h.tank(t, "u1", "Reef")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, tank.ID)
	h.store.failOn[1] = true
	h.publish(reading(25, 1))
	if h.session.PendingWrites() != 1 || h.session.Buffer().Len() != 0 {
		t.Fatalf("pending = %d buffered = %d", h.session.PendingWrites(), h.session.Buffer().Len())
	}
	h.publish(reading(26, 2))
	if h.session.PendingWrites() != 0 {
		t.Fatalf("pending write not retried")
	}
	if !equalTemps(h.store.order(), 25, 26) {
		t.Fatalf("order = %v", temps(h.store.order()))
	}
}

func TestFailedWriteStaysWithItsTank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.tank(t, "u1", "Reef")
	b := h.tank(t, "u1", "Nano")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, a.ID)
	h.store.failOn[1] = true
	h.publish(reading(25, 1))

	if err := h.session.SelectTank(ctx, b.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	h.publish(reading(26, 2))

	histA, _ := h.mem.History(ctx, "u1", a.ID)
	histB, _ := h.mem.History(ctx, "u1", b.ID)
	if !equalTemps(histA, 25) || !equalTemps(histB, 26) {
		t.Fatalf("A = %v B = %v", temps(histA), temps(histB))
	}
	if h.session.PendingWrites() != 0 {
		t.Fatalf("pending = %d", h.session.PendingWrites())
	}
}

func TestFailedWriteStaysWithItsUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reef := h.tank(t, "u1", "Reef")
	pond := h.tank(t, "u2", "Pond")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, reef.ID)
	h.store.failOn[1] = true
	h.publish(reading(25, 1))

	_ = h.session.Login(ctx, "u2")
	h.session.Sync()
	if err := h.session.SelectTank(ctx, pond.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	h.publish(reading(26, 2))

	histReef, _ := h.mem.History(ctx, "u1", reef.ID)
	histPond, _ := h.mem.History(ctx, "u2", pond.ID)
	if !equalTemps(histReef, 25) || !equalTemps(histPond, 26) {
		t.Fatalf("u1 = %v u2 = %v", temps(histReef), temps(histPond))
	}
}

func TestAnonymousReadingNotWrittenForLoggedOutUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tank := h.tank(t, "u1", "Reef")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, tank.ID)
	h.session.Sync()

	h.store.mu.Lock()
	h.store.gate = make(chan struct{})
	h.store.entered = make(chan struct{}, 1)
	h.store.mu.Unlock()

	// The first append holds the I/O executor while the user logs out.
	h.hub.Publish(reading(25, 1))
	h.exec.Sync()
	<-h.store.entered
	h.hub.Publish(reading(26, 2))
	h.exec.Sync()
	if err := h.session.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	h.hub.Publish(reading(99, 3))
	h.exec.Sync()
	close(h.store.gate)
	h.session.Sync()

	hist, _ := h.mem.History(ctx, "u1", tank.ID)
	if !equalTemps(hist, 25, 26) {
		t.Fatalf("u1 history = %v", temps(hist))
	}
	if got := h.session.Buffer().Snapshot(); !equalTemps(got, 99) {
		t.Fatalf("buffer = %v", temps(got))
	}
}

func TestAnonymousAlertsUseDefaultProfile(t *testing.T) {
	h := newHarness(t)
	h.publish(reading(30, 1))
	sent := h.sink.all()
	if len(sent) != 1 || sent[0].title != "High Temperature Alert!" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestAlertBodyNamesSelectedTank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tank := h.tank(t, "u1", "Reef")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, tank.ID)
	h.publish(domain.Reading{Temperature: 25, PH: 7, Oxygen: 2, WaterLevel: 90, ObservedAt: at(1)})
	sent := h.sink.all()
	if len(sent) != 1 || sent[0].title != "Low Oxygen Alert!" || sent[0].body[:6] != "Reef: " {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestProfileLoadedAtLoginAndResetAtLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	custom := domain.DefaultThresholdProfile()
	custom.MaxTemperature = 31
	if err := h.mem.SaveProfile(ctx, "u1", custom); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = h.session.Login(ctx, "u1")
	if h.session.Profile() != custom {
		t.Fatalf("profile = %+v", h.session.Profile())
	}
	h.publish(reading(30, 1))
	if len(h.sink.all()) != 0 {
		t.Fatalf("custom profile not applied")
	}
	_ = h.session.Logout(ctx)
	if h.session.Profile() != domain.DefaultThresholdProfile() {
		t.Fatalf("profile not reset at logout")
	}
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.session.UpdateProfile(ctx, domain.DefaultThresholdProfile()); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("want ErrNotAuthenticated, got %v", err)
	}
	_ = h.session.Login(ctx, "u1")
	bad := domain.DefaultThresholdProfile()
	bad.MinPH = 9
	var verr domain.ValidationError
	if err := h.session.UpdateProfile(ctx, bad); !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	good := domain.DefaultThresholdProfile()
	good.QuietHoursStart, good.QuietHoursEnd = 0, 0
	if err := h.session.UpdateProfile(ctx, good); err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, err := h.mem.LoadProfile(ctx, "u1")
	if err != nil || stored != good {
		t.Fatalf("stored = %+v err=%v", stored, err)
	}
	if h.session.Profile() != good {
		t.Fatalf("profile not applied")
	}
}

func TestCreateAndSelectTank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.session.CreateTank(ctx, "Reef"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("anonymous create: %v", err)
	}
	_ = h.session.Login(ctx, "u1")
	tank, err := h.session.CreateTank(ctx, "Reef")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.session.SelectTank(ctx, tank.ID); err != nil {
		t.Fatalf("select created tank: %v", err)
	}
	err = h.session.SelectTank(ctx, "missing")
	var serr domain.SelectionError
	if !errors.As(err, &serr) || !errors.Is(err, domain.ErrInvalidSelection) || serr.TankID != "missing" {
		t.Fatalf("select missing: %v", err)
	}
	if h.session.Target().TankID != tank.ID {
		t.Fatalf("invalid selection changed state")
	}
}

func TestTankSwitchIsolatesHistoryStreams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.tank(t, "u1", "A")
	b := h.tank(t, "u1", "B")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, a.ID)

	var onB [][]domain.Reading
	sub := h.session.Aggregator().HistoryFor(b.ID, func(rs []domain.Reading) { onB = append(onB, rs) })
	defer sub.Cancel()

	h.publish(reading(25, 1))
	_ = h.session.SelectTank(ctx, b.ID)
	if h.session.Aggregator().AddLive(a.ID, reading(99, 2)) {
		t.Fatalf("reading tagged A accepted after switching to B")
	}
	h.publish(reading(26, 3))

	for _, view := range onB {
		for _, r := range view {
			if r.Temperature == 25 || r.Temperature == 99 {
				t.Fatalf("tank A reading reached B: %v", temps(view))
			}
		}
	}
	last := onB[len(onB)-1]
	if !equalTemps(last, 26) {
		t.Fatalf("B view = %v", temps(last))
	}
	histA, _ := h.mem.History(ctx, "u1", a.ID)
	if !equalTemps(histA, 25) {
		t.Fatalf("A history = %v", temps(histA))
	}
}

func TestIdentitySwitchResetsRegistryAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	t1 := h.tank(t, "u1", "Reef")
	h.tank(t, "u2", "Pond")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, t1.ID)

	var transitions []Transition
	h.session.Gate().OnTransition(func(tr Transition) { transitions = append(transitions, tr) })
	_ = h.session.Login(ctx, "u2")
	h.session.Sync()

	if len(transitions) != 2 || transitions[0].To.IsAuthenticated() || transitions[1].To != domain.Authenticated("u2") {
		t.Fatalf("transitions = %+v", transitions)
	}
	tanks := h.session.Registry().Tanks()
	if len(tanks) != 1 || tanks[0].DisplayName != "Pond" {
		t.Fatalf("tanks = %+v", tanks)
	}
	if _, ok := h.session.Registry().SelectedTank(); ok {
		t.Fatalf("selection survived identity change")
	}
	if view := h.session.Aggregator().Current(); view.Target.Valid() || len(view.Readings) != 0 {
		t.Fatalf("history survived identity change: %+v", view)
	}
	h.publish(reading(25, 1))
	if h.session.Buffer().Len() != 1 {
		t.Fatalf("reading without tank not buffered")
	}
}

func TestStatusFollowsSource(t *testing.T) {
	h := newHarness(t)
	var seen []domain.ConnectionStatus
	h.session.StatusStream().Subscribe(func(s domain.ConnectionStatus) { seen = append(seen, s) })
	h.hub.SetStatus(domain.StatusConnected)
	h.hub.SetStatus(domain.StatusReconnecting)
	h.session.Sync()
	if h.session.Status() != domain.StatusReconnecting {
		t.Fatalf("status = %s", h.session.Status())
	}
	if len(seen) == 0 || seen[len(seen)-1] != domain.StatusReconnecting {
		t.Fatalf("seen = %v", seen)
	}
}

func TestHistoryWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tank := h.tank(t, "u1", "Reef")
	_ = h.session.Login(ctx, "u1")
	_ = h.session.SelectTank(ctx, tank.ID)
	old := reading(24, 0)
	old.ObservedAt = at(0).Add(-48 * time.Hour)
	h.publish(old, reading(25, 1))
	_, day := h.session.History(domain.Window24h, at(2))
	if !equalTemps(day, 25) {
		t.Fatalf("24h = %v", temps(day))
	}
	_, all := h.session.History(domain.WindowAll, at(2))
	if !equalTemps(all, 24, 25) {
		t.Fatalf("all = %v", temps(all))
	}
}
