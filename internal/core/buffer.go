package core

import (
	"context"
	"slices"
	"sync"

	"aquawatch/internal/observability"
	"aquawatch/pkg/domain"
)

// DepthRecorder is implemented by metrics exporters that track the offline
// buffer depth, such as observability.PrometheusRecorder.
type DepthRecorder interface {
	SetBufferDepth(n int)
}

// OfflineBuffer queues readings that have no owner and tank to be persisted
// under. Flush drains it in arrival order, one append per reading, and stops
// at the first failure keeping the rest queued.
type OfflineBuffer struct {
	store    domain.ReadingStore
	capacity int
	logger   observability.Logger
	depth    DepthRecorder

	mu       sync.Mutex // queue and inflight
	queue    []domain.Reading
	inflight int

	flushMu sync.Mutex
}

// BufferOption configures an OfflineBuffer.
type BufferOption func(*OfflineBuffer)

// WithCapacity bounds the queued (not in-flight) readings; the oldest is
// dropped when an enqueue exceeds it. Zero means unbounded.
func WithCapacity(n int) BufferOption {
	return func(b *OfflineBuffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithBufferLogger sets the buffer logger.
func WithBufferLogger(l observability.Logger) BufferOption {
	return func(b *OfflineBuffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithDepthRecorder reports the depth after every change.
func WithDepthRecorder(d DepthRecorder) BufferOption {
	return func(b *OfflineBuffer) { b.depth = d }
}

// NewOfflineBuffer returns an empty buffer flushing into store.
func NewOfflineBuffer(store domain.ReadingStore, opts ...BufferOption) *OfflineBuffer {
	b := &OfflineBuffer{store: store, logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue appends r. Readings enqueued during a flush land after the
// in-flight batch.
func (b *OfflineBuffer) Enqueue(r domain.Reading) {
	b.mu.Lock()
	b.queue = append(b.queue, r)
	var dropped *domain.Reading
	if b.capacity > 0 && len(b.queue) > b.capacity {
		d := b.queue[0]
		dropped = &d
		b.queue = slices.Delete(b.queue, 0, 1)
	}
	n := len(b.queue) + b.inflight
	b.mu.Unlock()
	if dropped != nil {
		b.logger.Warn("offline_buffer_overflow", "dropped_observed_at", dropped.ObservedAt, "capacity", b.capacity)
	}
	b.report(n)
}

// Len counts queued and in-flight readings.
func (b *OfflineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + b.inflight
}

// Snapshot returns the queued readings in flush order. In-flight readings
// are not included.
func (b *OfflineBuffer) Snapshot() []domain.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.queue)
}

// Flush persists every buffered reading to target in FIFO order and returns
// how many were written. Only one flush runs at a time; a second caller
// waits and then drains whatever is left. On failure the failed reading and
// everything after it stay queued, ahead of readings enqueued meanwhile.
// ctx is checked before every append, so cancelling it stops the flush
// before any reading queued after the cancellation is written.
func (b *OfflineBuffer) Flush(ctx context.Context, target domain.Target) (int, error) {
	if !target.Valid() {
		return 0, domain.ErrNotAuthenticated
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	flushed := 0
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		b.inflight = len(batch)
		b.mu.Unlock()
		if len(batch) == 0 {
			return flushed, nil
		}
		for i, r := range batch {
			err := ctx.Err()
			if err == nil {
				err = b.store.AppendReading(ctx, target, r)
			}
			if err != nil {
				b.mu.Lock()
				b.queue = append(slices.Clone(batch[i:]), b.queue...)
				b.inflight = 0
				n := len(b.queue)
				b.mu.Unlock()
				b.report(n)
				b.logger.Warn("offline_buffer_flush_failed",
					"user_id", target.UserID, "tank_id", target.TankID,
					"flushed", flushed, "remaining", n, "error", err)
				return flushed, err
			}
			flushed++
			b.mu.Lock()
			b.inflight--
			n := len(b.queue) + b.inflight
			b.mu.Unlock()
			b.report(n)
		}
	}
}

func (b *OfflineBuffer) report(n int) {
	if b.depth != nil {
		b.depth.SetBufferDepth(n)
	}
}
