package loop

import "sync/atomic"

// Async is a wake handle: Send may be called from any goroutine and causes
// the callback to run on the loop. Sends that arrive before the callback runs
// are coalesced into a single invocation.
type Async struct {
	loop    *Loop
	cb      func()
	pending atomic.Bool
	closed  atomic.Bool
}

// NewAsync creates a wake handle bound to l.
func (l *Loop) NewAsync(cb func()) *Async {
	return &Async{loop: l, cb: cb}
}

// Send requests that the callback run on the loop.
func (a *Async) Send() {
	if a.closed.Load() {
		return
	}
	if !a.pending.CompareAndSwap(false, true) {
		return
	}
	a.loop.Post(a.fire)
}

func (a *Async) fire() {
	a.pending.Store(false)
	if a.closed.Load() {
		return
	}
	a.cb()
}

// Close stops further callbacks. It must be called on the loop.
func (a *Async) Close() {
	a.closed.Store(true)
}

// Closed reports whether Close has been called.
func (a *Async) Closed() bool {
	return a.closed.Load()
}
