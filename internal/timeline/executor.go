// Package timeline provides the single delivery timeline of the live session.
//
// An Executor runs posted tasks one at a time on a dedicated goroutine in the
// order they were posted. Post never blocks, so tasks may post further tasks
// and callers holding locks may post without risking deadlock.
package timeline

import "sync"

// Executor is a single-goroutine FIFO task runner.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	done    chan struct{}
	onPanic func(any)
}

// Option configures an Executor.
type Option func(*Executor)

// WithPanicHandler installs a handler invoked when a task panics. Without a
// handler a panicking task is recovered and ignored so later tasks still run.
func WithPanicHandler(fn func(any)) Option {
	return func(e *Executor) { e.onPanic = fn }
}

// New starts an executor.
func New(opts ...Option) *Executor {
	e := &Executor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	return e
}

// Post enqueues fn. It returns false when the executor is closed.
func (e *Executor) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return true
}

// Sync blocks until every task posted before the call has run. It must not be
// called from a task.
func (e *Executor) Sync() {
	ch := make(chan struct{})
	if !e.Post(func() { close(ch) }) {
		<-e.done
		return
	}
	<-ch
}

// Close stops accepting tasks, runs the ones already queued and waits for the
// loop to exit. Close is idempotent.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.done
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()
		e.run(task)
	}
}

func (e *Executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(r)
		}
	}()
	task()
}
