package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"aquawatch/internal/alerting"
	"aquawatch/internal/observability"
	"aquawatch/internal/source"
	"aquawatch/internal/timeline"
	"aquawatch/pkg/domain"
)

var errSessionClosed = errors.New("session closed")

// AlertDispatcher delivers alert events; *alerting.Dispatcher satisfies it.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, event domain.AlertEvent, profile domain.ThresholdProfile) bool
}

// Session is the live session. It reacts to readings from the source on the
// delivery timeline, persists them (or buffers them while no owner and tank
// are known) on a separate I/O goroutine, and raises alerts against the
// current threshold profile.
type Session struct {
	exec       *timeline.Executor
	io         *timeline.Executor
	src        source.Source
	store      domain.DurableStore
	dispatcher AlertDispatcher
	obs        observability.Instruments
	timeout    time.Duration

	gate     *IdentityGate
	registry *TankRegistry
	buffer   *OfflineBuffer
	retries  *retryQueue
	history  *HistoryAggregator
	latest   *Stream[domain.Reading]
	status   *Stream[domain.ConnectionStatus]

	bufferOpts []BufferOption
	capacity   int

	transMu sync.Mutex // serializes identity and tank transitions

	mu      sync.Mutex // guards the fields below
	target  domain.Target
	tank    domain.TankProfile
	profile domain.ThresholdProfile
	srcSub  domain.Subscription
	// targetCtx is cancelled whenever target changes; flushes of the
	// offline buffer run under it.
	targetCtx    context.Context
	targetCancel context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the structured logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Session) { s.obs.Logger = l }
}

// WithMetricsRecorder sets the metrics recorder. A recorder implementing
// DepthRecorder also receives the offline buffer depth.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(s *Session) { s.obs.Metrics = m }
}

// WithTracer sets the tracer wrapped around store operations.
func WithTracer(t observability.Tracer) Option {
	return func(s *Session) { s.obs.Tracer = t }
}

// WithStoreTimeout bounds every store call made by the session.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithBufferCapacity bounds the offline buffer and, separately, the queue
// of failed live writes.
func WithBufferCapacity(n int) Option {
	return func(s *Session) {
		s.bufferOpts = append(s.bufferOpts, WithCapacity(n))
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewSession wires the live session components. exec is the delivery
// timeline shared with the source; the session owns its I/O executor.
func NewSession(exec *timeline.Executor, src source.Source, store domain.DurableStore, dispatcher AlertDispatcher, opts ...Option) *Session {
	s := &Session{
		exec:       exec,
		src:        src,
		store:      store,
		dispatcher: dispatcher,
		profile:    domain.DefaultThresholdProfile(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.obs = s.obs.Normalize()
	s.io = timeline.New(timeline.WithPanicHandler(func(r any) {
		s.obs.Logger.Error("io_task_panic", "panic", r)
	}))
	bufOpts := append([]BufferOption{WithBufferLogger(s.obs.Logger)}, s.bufferOpts...)
	if d, ok := s.obs.Metrics.(DepthRecorder); ok {
		bufOpts = append(bufOpts, WithDepthRecorder(d))
	}
	s.gate = NewIdentityGate(exec)
	s.registry = NewTankRegistry(store, exec, s.obs.Logger)
	s.buffer = NewOfflineBuffer(store, bufOpts...)
	s.retries = newRetryQueue(s.capacity, s.obs.Logger)
	s.targetCtx, s.targetCancel = context.WithCancel(context.Background())
	s.history = NewHistoryAggregator(store, exec, s.obs.Logger)
	s.latest = NewStream[domain.Reading](exec)
	s.status = NewStream[domain.ConnectionStatus](exec)
	return s
}

// Start subscribes to the reading source.
func (s *Session) Start() {
	sub := s.src.Subscribe(source.ListenerFuncs{Reading: s.onReading, Status: s.onStatus})
	s.mu.Lock()
	s.srcSub = sub
	s.mu.Unlock()
	s.status.Emit(s.src.CurrentStatus())
}

// Close detaches from the source, stops following the store and drains
// pending writes.
func (s *Session) Close() {
	s.mu.Lock()
	sub := s.srcSub
	s.srcSub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	s.mu.Lock()
	s.targetCancel()
	s.mu.Unlock()
	ctx := context.Background()
	_ = s.history.Switch(ctx, domain.Target{})
	_ = s.registry.Reset(ctx, domain.Anonymous())
	s.io.Close()
}

// Sync waits until every delivery and write scheduled so far has run.
func (s *Session) Sync() {
	s.exec.Sync()
	s.io.Sync()
	s.exec.Sync()
}

// Gate returns the identity gate.
func (s *Session) Gate() *IdentityGate { return s.gate }

// Registry returns the tank registry.
func (s *Session) Registry() *TankRegistry { return s.registry }

// Buffer returns the offline buffer.
func (s *Session) Buffer() *OfflineBuffer { return s.buffer }

// PendingWrites counts live readings whose append failed and that wait to
// be retried under their own owner and tank.
func (s *Session) PendingWrites() int { return s.retries.len() }

// Aggregator returns the history aggregator.
func (s *Session) Aggregator() *HistoryAggregator { return s.history }

// LatestStream emits every live reading.
func (s *Session) LatestStream() *Stream[domain.Reading] { return s.latest }

// StatusStream emits source connectivity changes.
func (s *Session) StatusStream() *Stream[domain.ConnectionStatus] { return s.status }

// Identity returns the current identity.
func (s *Session) Identity() domain.Identity { return s.gate.Current() }

// Target returns the owner and tank readings are persisted under.
func (s *Session) Target() domain.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Profile returns the threshold profile in effect.
func (s *Session) Profile() domain.ThresholdProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Latest returns the most recent live reading.
func (s *Session) Latest() (domain.Reading, bool) { return s.latest.Current() }

// Status returns the source connectivity.
func (s *Session) Status() domain.ConnectionStatus { return s.src.CurrentStatus() }

// History returns the merged history of the selected tank restricted to w.
func (s *Session) History(w domain.Window, now time.Time) (domain.Target, []domain.Reading) {
	view := s.history.Current()
	return view.Target, w.Filter(view.Readings, now)
}

// Login is Signal with a user id.
func (s *Session) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	return s.Signal(ctx, userID)
}

// Logout is Signal with no user.
func (s *Session) Logout(ctx context.Context) error { return s.Signal(ctx, "") }

// Signal applies an identity change. The previous identity's history and
// tank subscriptions are cancelled before the new identity's start.
// Store failures are logged and absorbed.
func (s *Session) Signal(ctx context.Context, userID string) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	for _, step := range s.gate.Signal(userID) {
		s.enter(ctx, step.To)
	}
	return nil
}

func (s *Session) enter(ctx context.Context, id domain.Identity) {
	user, authenticated := id.UserID()
	s.mu.Lock()
	s.setTargetLocked(domain.Target{UserID: user})
	s.tank = domain.TankProfile{}
	s.profile = domain.DefaultThresholdProfile()
	s.mu.Unlock()

	_ = s.history.Switch(ctx, domain.Target{})
	_ = s.registry.Reset(ctx, id)
	s.obs.Logger.Info("identity_changed", "identity", id.String())
	if !authenticated {
		return
	}
	profile := s.loadProfile(ctx, user)
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
	s.scheduleFlush()
}

func (s *Session) loadProfile(ctx context.Context, user string) domain.ThresholdProfile {
	var profile domain.ThresholdProfile
	err := s.run(ctx, "store.load_profile", func(ctx context.Context) error {
		var err error
		profile, err = s.store.LoadProfile(ctx, user)
		return err
	})
	switch {
	case err == nil:
		return profile
	case errors.Is(err, domain.ErrProfileNotFound):
		s.obs.Logger.Debug("profile_defaulted", "user_id", user)
	default:
		s.obs.Logger.Warn("profile_load_failed", "user_id", user, "error", err)
	}
	return domain.DefaultThresholdProfile()
}

// SelectTank selects tankID and starts following its history. Selecting
// the current tank is a no-op.
func (s *Session) SelectTank(ctx context.Context, tankID string) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	changed, err := s.registry.Select(tankID)
	if err != nil || !changed {
		return err
	}
	tank, _ := s.registry.SelectedTank()
	s.mu.Lock()
	s.tank = tank
	s.setTargetLocked(domain.Target{UserID: s.target.UserID, TankID: tank.ID})
	target := s.target
	s.mu.Unlock()

	_ = s.history.Switch(ctx, target)
	s.obs.Logger.Info("tank_selected", "user_id", target.UserID, "tank_id", tank.ID)
	s.scheduleFlush()
	return nil
}

// CreateTank registers a tank for the current user.
func (s *Session) CreateTank(ctx context.Context, name string) (domain.TankProfile, error) {
	var tank domain.TankProfile
	err := s.run(ctx, "store.create_tank", func(ctx context.Context) error {
		var err error
		tank, err = s.registry.Create(ctx, name)
		return err
	})
	return tank, err
}

// UpdateProfile validates, persists and applies profile for the current user.
func (s *Session) UpdateProfile(ctx context.Context, profile domain.ThresholdProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	user, ok := s.gate.Current().UserID()
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if err := s.run(ctx, "store.save_profile", func(ctx context.Context) error {
		return s.store.SaveProfile(ctx, user, profile)
	}); err != nil {
		return err
	}
	s.mu.Lock()
	if s.target.UserID == user {
		s.profile = profile
	}
	s.mu.Unlock()
	return nil
}

// FlushNow retries failed live writes, drains the offline buffer into the
// current target and waits for the result.
func (s *Session) FlushNow(ctx context.Context) (int, error) {
	if !s.Target().Valid() {
		return 0, domain.ErrNotAuthenticated
	}
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	if !s.io.Post(func() {
		n, err := s.drain(ctx)
		done <- result{n, err}
	}) {
		return 0, errSessionClosed
	}
	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Session) scheduleFlush() {
	s.io.Post(func() { _, _ = s.drain(context.Background()) })
}

// setTargetLocked replaces the target and cancels flushes still running
// for the previous one. s.mu must be held.
func (s *Session) setTargetLocked(t domain.Target) {
	s.targetCancel()
	s.target = t
	s.targetCtx, s.targetCancel = context.WithCancel(context.Background())
}

func (s *Session) currentTarget() (domain.Target, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.targetCtx
}

// drain runs on the I/O executor.
func (s *Session) drain(ctx context.Context) (int, error) {
	retried, err := s.retryPending(ctx)
	if err != nil {
		return retried, err
	}
	target, tctx := s.currentTarget()
	if !target.Valid() || s.buffer.Len() == 0 {
		return retried, nil
	}
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(tctx, cancel)
	defer stop()
	n, err := s.flush(fctx, target)
	return retried + n, err
}

func (s *Session) retryPending(ctx context.Context) (int, error) {
	if s.retries.len() == 0 {
		return 0, nil
	}
	n, err := s.retries.retry(func(w pendingWrite) error {
		return s.run(ctx, "store.append_reading", func(ctx context.Context) error {
			return s.store.AppendReading(ctx, w.target, w.reading)
		})
	})
	if n > 0 || err != nil {
		s.obs.Logger.Info("pending_writes_retried", "written", n, "remaining", s.retries.len(), "error", err)
	}
	return n, err
}

func (s *Session) flush(ctx context.Context, target domain.Target) (int, error) {
	var n int
	err := s.run(ctx, "buffer.flush", func(ctx context.Context) error {
		var err error
		n, err = s.buffer.Flush(ctx, target)
		return err
	})
	if n > 0 || err != nil {
		s.obs.Logger.Info("offline_buffer_flushed", "user_id", target.UserID, "tank_id", target.TankID, "flushed", n, "remaining", s.buffer.Len())
	}
	return n, err
}

func (s *Session) onStatus(st domain.ConnectionStatus) { s.status.Emit(st) }

// onReading runs on the delivery timeline.
func (s *Session) onReading(r domain.Reading) {
	s.latest.Emit(r)

	s.mu.Lock()
	target, tctx, tank, profile := s.target, s.targetCtx, s.tank, s.profile
	s.mu.Unlock()

	if target.Valid() {
		s.history.AddLive(target.TankID, r)
	}
	events := alerting.Evaluate(r, profile)
	if target.Valid() {
		events = alerting.ForTank(events, tank)
	}
	for _, e := range events {
		s.dispatcher.Dispatch(context.Background(), e, profile)
	}

	if !target.Valid() {
		s.buffer.Enqueue(r)
		return
	}
	s.io.Post(func() { s.persist(tctx, target, r) })
}

// persist runs on the I/O executor. Earlier failed writes and, while target
// is still current, buffered readings go first so the store sees readings
// in arrival order. A reading that cannot be written is queued for retry
// under target, never moved into the offline buffer.
func (s *Session) persist(tctx context.Context, target domain.Target, r domain.Reading) {
	ctx := context.Background()
	if _, err := s.retryPending(ctx); err != nil {
		s.retries.push(pendingWrite{target: target, reading: r})
		return
	}
	if s.buffer.Len() > 0 && tctx.Err() == nil {
		if _, err := s.flush(tctx, target); err != nil && tctx.Err() == nil {
			s.retries.push(pendingWrite{target: target, reading: r})
			return
		}
	}
	err := s.run(ctx, "store.append_reading", func(ctx context.Context) error {
		return s.store.AppendReading(ctx, target, r)
	})
	if err != nil {
		s.obs.Logger.Warn("reading_queued_for_retry", "user_id", target.UserID, "tank_id", target.TankID, "error", err)
		s.retries.push(pendingWrite{target: target, reading: r})
	}
}

func (s *Session) run(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.obs.Run(ctx, op, fn)
}
