package loop

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when work is queued on a closed loop.
var ErrClosed = errors.New("loop: closed")

// Option configures a Loop.
type Option func(*Loop)

// WithMaxWorkers bounds how many work functions may run at once.
// Zero or negative means unbounded.
func WithMaxWorkers(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// Loop is a single-consumer callback queue fed by worker goroutines.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	active int // queued work not yet completed on the loop
	closed bool

	wake    chan struct{}
	workers sync.WaitGroup
	sem     *semaphore.Weighted
}

// New creates a loop. Nothing runs until Run or RunUntilIdle is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post schedules fn to run on the loop. It may be called from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// QueueWork runs work on a worker goroutine and then runs after on the loop.
// work must not touch loop-owned state.
func (l *Loop) QueueWork(work, after func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.active++
	l.mu.Unlock()

	l.workers.Go(func() {
		if l.sem != nil {
			// Acquire only fails on context cancellation.
			_ = l.sem.Acquire(context.Background(), 1)
		}
		work()
		if l.sem != nil {
			l.sem.Release(1)
		}

		l.Post(func() {
			l.mu.Lock()
			l.active--
			l.mu.Unlock()
			after()
		})
	})
	return nil
}

// Pending returns the number of queued works whose after callback has not
// yet run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Run processes callbacks on the calling goroutine until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	return l.run(ctx, false)
}

// RunUntilIdle processes callbacks until no work is in flight and the queue
// is empty, or until ctx is done.
func (l *Loop) RunUntilIdle(ctx context.Context) error {
	return l.run(ctx, true)
}

func (l *Loop) run(ctx context.Context, untilIdle bool) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		idle := len(batch) == 0 && l.active == 0
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if untilIdle && idle {
			return nil
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects further work and waits for running work functions to return.
// Their after callbacks stay queued until the loop runs again.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.workers.Wait()
}

// Shutdown closes the loop and then runs every queued callback, including
// the after callbacks of work that was still running. Call it from the
// goroutine that owns the loop once Run has returned.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.Close()
	return l.RunUntilIdle(ctx)
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
