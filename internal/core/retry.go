package core

import (
	"slices"
	"sync"

	"aquawatch/internal/observability"
	"aquawatch/pkg/domain"
)

// pendingWrite is a live reading whose append failed. It is retried under
// the target it was observed for, whatever the session has moved on to.
type pendingWrite struct {
	target  domain.Target
	reading domain.Reading
}

// retryQueue holds failed live writes in arrival order. Only the session's
// I/O executor pushes and retries; mu covers readers on other goroutines.
type retryQueue struct {
	capacity int
	logger   observability.Logger

	mu    sync.Mutex
	queue []pendingWrite
}

func newRetryQueue(capacity int, logger observability.Logger) *retryQueue {
	return &retryQueue{capacity: capacity, logger: logger}
}

func (q *retryQueue) push(w pendingWrite) {
	q.mu.Lock()
	q.queue = append(q.queue, w)
	var dropped *pendingWrite
	if q.capacity > 0 && len(q.queue) > q.capacity {
		d := q.queue[0]
		dropped = &d
		q.queue = slices.Delete(q.queue, 0, 1)
	}
	q.mu.Unlock()
	if dropped != nil {
		q.logger.Warn("pending_writes_overflow",
			"user_id", dropped.target.UserID, "tank_id", dropped.target.TankID,
			"dropped_observed_at", dropped.reading.ObservedAt, "capacity", q.capacity)
	}
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// retry writes queued entries front to back and stops at the first failure,
// leaving it at the head.
func (q *retryQueue) retry(write func(pendingWrite) error) (int, error) {
	n := 0
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return n, nil
		}
		w := q.queue[0]
		q.mu.Unlock()
		if err := write(w); err != nil {
			return n, err
		}
		q.mu.Lock()
		q.queue = slices.Delete(q.queue, 0, 1)
		q.mu.Unlock()
		n++
	}
}
