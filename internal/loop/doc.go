// Package loop provides the controlling goroutine that owns all
// caller-visible state, and the worker dispatch that runs blocking work off
// of it.
//
// Work is queued with QueueWork: the work function runs on its own worker
// goroutine, and once it returns the after function is queued back onto the
// loop. Callbacks only ever run on the goroutine that called Run or
// RunUntilIdle, so state touched exclusively from callbacks needs no locking.
package loop
