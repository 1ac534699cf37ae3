package engine

import (
	"sync"

	"github.com/seantiz/mapbridge/internal/loop"
	"github.com/seantiz/mapbridge/internal/tilecache"
)

type logRecord struct {
	level tilecache.Level
	msg   string
}

// LogBridge carries log records from worker goroutines to a LogTarget on
// the loop. Records are delivered in the order they were posted.
type LogBridge struct {
	target LogTarget
	async  *loop.Async

	mu     sync.Mutex // guards queue and closed
	queue  []logRecord
	closed bool

	// Loop-only.
	refs int
}

// NewLogBridge creates a bridge delivering to target on l. It starts with
// one reference.
func NewLogBridge(l *loop.Loop, target LogTarget) *LogBridge {
	b := &LogBridge{target: target, refs: 1}
	b.async = l.NewAsync(b.Drain)
	return b
}

// Post queues a record and wakes the loop. It may be called from any
// goroutine.
func (b *LogBridge) Post(level tilecache.Level, msg string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		panic("engine: LogBridge.Post after Close")
	}
	b.queue = append(b.queue, logRecord{level: level, msg: msg})
	b.mu.Unlock()

	b.async.Send()
}

// Drain delivers every queued record to the target. It runs on the loop.
func (b *LogBridge) Drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.queue = nil
			b.mu.Unlock()
			return
		}
		rec := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		logRecordsEmitted.WithLabelValues(rec.level.String()).Inc()
		b.target.Log(rec.level, rec.msg)
	}
}

// Ref adds a holder. It runs on the loop.
func (b *LogBridge) Ref() {
	if b.refs == 0 {
		panic("engine: LogBridge.Ref after Close")
	}
	b.refs++
}

// Unref drops a holder and closes the bridge when none remain. It runs on
// the loop.
func (b *LogBridge) Unref() {
	if b.refs == 0 {
		panic("engine: LogBridge.Unref after Close")
	}
	b.refs--
	if b.refs == 0 {
		b.Close()
	}
}

// Close delivers any pending records and stops the wake handle. It runs on
// the loop.
func (b *LogBridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.Drain()
	b.async.Close()
	b.refs = 0
}

// Closed reports whether Close has run.
func (b *LogBridge) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
