package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/mapbridge/internal/model"
	"github.com/seantiz/mapbridge/internal/store"
)

// recorderQueueSize bounds the records waiting to be written. Records are
// dropped once the writer falls this far behind.
const recorderQueueSize = 1024

const recorderWriteTimeout = 5 * time.Second

// recorderItem is either a job, a log record or a flush marker.
type recorderItem struct {
	job   *model.JobRecord
	log   *model.LogRecord
	flush chan struct{}
}

// Recorder writes job history and job log records to a Store from a
// background goroutine, so neither the loop nor workers block on I/O.
type Recorder struct {
	store  store.Store
	logger *slog.Logger

	items chan recorderItem
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewRecorder starts a recorder writing to s.
func NewRecorder(s store.Store, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:  s,
		logger: logger,
		items:  make(chan recorderItem, recorderQueueSize),
		done:   make(chan struct{}),
	}
	r.wg.Go(r.run)
	return r
}

// RecordJob queues a job record. It never blocks.
func (r *Recorder) RecordJob(j *model.JobRecord) {
	r.enqueue(recorderItem{job: j})
}

// RecordLog queues a log record. It never blocks and may be called from
// any goroutine.
func (r *Recorder) RecordLog(l *model.LogRecord) {
	r.enqueue(recorderItem{log: l})
}

func (r *Recorder) enqueue(it recorderItem) {
	select {
	case <-r.done:
		recorderDropped.Inc()
		return
	default:
	}
	select {
	case r.items <- it:
	default:
		recorderDropped.Inc()
	}
}

// Flush waits until every record queued before the call has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	select {
	case r.items <- recorderItem{flush: ch}:
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes every queued record and stops the background goroutine. It
// does not close the Store.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	for {
		select {
		case it := <-r.items:
			r.write(it)
		case <-r.done:
			for {
				select {
				case it := <-r.items:
					r.write(it)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(it recorderItem) {
	if it.flush != nil {
		close(it.flush)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	switch {
	case it.job != nil:
		if err := r.store.InsertJob(ctx, it.job); err != nil {
			r.logger.Error("failed to record job", "job_id", it.job.ID, "error", err)
		}
	case it.log != nil:
		if err := r.store.InsertLogRecord(ctx, it.log); err != nil {
			r.logger.Error("failed to record log record", "job_id", it.log.JobID, "error", err)
		}
	}
}
