// Package process holds the process-wide state shared by every cache and job:
// the root memory pool and the lock that serializes calls into the tile cache
// library, which is not safe for concurrent use.
package process

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/mapbridge/internal/pool"
)

var lockWaitSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "mapbridge_library_lock_wait_seconds",
		Help:    "Time spent waiting for the tile cache library lock, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	},
)

func init() {
	prometheus.MustRegister(lockWaitSeconds)
}

// Option configures a State.
type Option func(*State)

// WithPoolOptions passes options to the root pool when it is created.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(s *State) { s.poolOpts = append(s.poolOpts, opts...) }
}

// State is the root pool plus the library lock. It implements sync.Locker.
type State struct {
	poolOpts []pool.Option

	mu       sync.Mutex // guards root and torndown
	root     *pool.Pool
	torndown bool

	lib sync.Mutex
}

// New creates an uninitialized State. The root pool is created on first use.
func New(opts ...Option) *State {
	s := &State{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultOnce  sync.Once
	defaultState *State
)

// Default returns the process singleton.
func Default() *State {
	defaultOnce.Do(func() {
		defaultState = New()
	})
	return defaultState
}

// Root returns the root pool, creating it on first call.
func (s *State) Root() (*pool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.panicIfTornDown()
	if s.root == nil {
		root, err := pool.New(s.poolOpts...)
		if err != nil {
			return nil, fmt.Errorf("create root pool: %w", err)
		}
		s.root = root
	}
	return s.root, nil
}

// Lock acquires the library lock.
func (s *State) Lock() {
	s.mu.Lock()
	s.panicIfTornDown()
	s.mu.Unlock()

	start := time.Now()
	s.lib.Lock()
	lockWaitSeconds.Observe(time.Since(start).Seconds())
}

// Unlock releases the library lock.
func (s *State) Unlock() {
	s.lib.Unlock()
}

// Teardown destroys the root pool and everything allocated under it.
// The State must not be used afterwards.
func (s *State) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.panicIfTornDown()
	s.torndown = true
	if s.root != nil {
		s.root.Destroy()
		s.root = nil
	}
}

// TornDown reports whether Teardown has run.
func (s *State) TornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torndown
}

func (s *State) panicIfTornDown() {
	if s.torndown {
		panic("process: use after Teardown()")
	}
}
