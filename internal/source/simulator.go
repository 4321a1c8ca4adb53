package source

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"aquawatch/internal/observability"
	"aquawatch/pkg/domain"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SimulatorConfig controls the synthetic feed.
type SimulatorConfig struct {
	Interval time.Duration
	Seed     uint64
}

// Simulator synthesizes readings on a ticker. Readings keep flowing while
// the reported status is Disconnected; status is driven by SetStatus only.
type Simulator struct {
	pub      Publisher
	interval time.Duration
	clock    Clock
	logger   observability.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithClock overrides the reading timestamp source.
func WithClock(c Clock) SimulatorOption {
	return func(s *Simulator) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSimulatorLogger sets the simulator logger.
func WithSimulatorLogger(l observability.Logger) SimulatorOption {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSimulator builds a simulator publishing to pub. A zero interval defaults
// to five seconds.
func NewSimulator(pub Publisher, cfg SimulatorConfig, opts ...SimulatorOption) *Simulator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulator{
		pub:      pub,
		interval: interval,
		clock:    systemClock{},
		logger:   observability.NopLogger(),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the generation goroutine and reports Connected.
func (s *Simulator) Start() {
	s.pub.SetStatus(domain.StatusConnected)
	s.wg.Add(1)
	go s.loop()
}

// Stop halts generation and reports Disconnected.
func (s *Simulator) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.pub.SetStatus(domain.StatusDisconnected)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetStatus forwards a simulated connectivity change.
func (s *Simulator) SetStatus(status domain.ConnectionStatus) {
	s.pub.SetStatus(status)
}

// Emit publishes one synthetic reading immediately.
func (s *Simulator) Emit() domain.Reading {
	r := s.Next()
	s.pub.Publish(r)
	return r
}

// Next synthesizes a reading without publishing it.
func (s *Simulator) Next() domain.Reading {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return domain.Reading{
		Temperature: float64(15 + s.rng.IntN(30)),
		PH:          round1(5.0 + s.rng.Float64()*4.0),
		Oxygen:      round1(s.rng.Float64() * 15),
		WaterLevel:  float64(60 + s.rng.IntN(41)),
		ObservedAt:  s.clock.Now(),
	}
}

func (s *Simulator) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			r := s.Emit()
			s.logger.Debug("simulated_reading", "temperature", r.Temperature, "ph", r.PH)
		}
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
