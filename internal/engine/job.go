package engine

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/seantiz/mapbridge/internal/model"
	"github.com/seantiz/mapbridge/internal/pool"
	"github.com/seantiz/mapbridge/internal/tilecache"
)

// Job is one asynchronous unit of work: loading a configuration or fetching
// a response through a Cache handle.
type Job struct {
	ID   string
	Kind string

	engine *Engine
	pool   *pool.Pool
	bridge *LogBridge

	mu    sync.Mutex
	state string

	// name is the cache name used in records. cfg is the configuration
	// being loaded, or the Cache's configuration for a fetch. Both are
	// fixed at submission so the work phase never reads the handle.
	name string
	cfg  *tilecache.Config

	// load
	path    string
	cfgPool *pool.Pool
	loadCb  func(error, *Cache)

	// fetch
	cache    *Cache // loop only
	baseURL  string
	pathInfo string
	query    string
	fetchCb  func(error, *Response)

	// Written by the work phase, read by the completion phase.
	err     error
	payload *tilecache.HTTPResponse

	createdAt  time.Time
	finishedAt time.Time
}

func (e *Engine) newJob(kind string, p *pool.Pool, bridge *LogBridge) *Job {
	return &Job{
		ID:        model.NewID(),
		Kind:      kind,
		engine:    e,
		pool:      p,
		bridge:    bridge,
		state:     model.StatePending,
		createdAt: time.Now().UTC(),
	}
}

// State returns the job's lifecycle state.
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the job's error once it has completed.
func (j *Job) Err() error {
	if s := j.State(); s != model.StateCompleted && s != model.StateDisposed {
		return nil
	}
	return j.err
}

func (j *Job) transition(to string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !model.ValidJobTransition(j.state, to) {
		panic(fmt.Sprintf("engine: invalid job transition %s -> %s", j.state, to))
	}
	j.state = to
}

// submit moves the job to running and hands its work phase to a worker.
func (e *Engine) submit(j *Job) error {
	j.transition(model.StateRunning)
	jobsInFlight.Inc()
	if err := e.loop.QueueWork(j.work, j.complete); err != nil {
		jobsInFlight.Dec()
		return fmt.Errorf("queue %s job: %w", j.Kind, err)
	}
	e.logger.Debug("job submitted", "job_id", j.ID, "kind", j.Kind)
	return nil
}

// work is the worker-side phase. It must not touch the Cache handle, the
// callbacks or anything else owned by the loop.
func (j *Job) work() {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, pool.ErrExhausted) {
				j.err = err
				return
			}
			j.err = fmt.Errorf("tile cache panic: %v", r)
		}
	}()

	ctx, err := tilecache.NewContext(j.pool, j.log)
	if err != nil {
		j.err = fmt.Errorf("could not create the request context: %w", err)
		return
	}
	if j.engine.client != nil {
		ctx.SetHTTPClient(j.engine.client)
	}

	switch j.Kind {
	case model.KindLoad:
		j.load(ctx)
	case model.KindFetch:
		j.fetch(ctx)
	}
}

// log is the library's log sink for this job. It runs on the worker.
func (j *Job) log(level tilecache.Level, msg string) {
	if j.bridge != nil {
		j.bridge.Post(level, msg)
	} else {
		j.engine.logLibrary(j.ID, level, msg)
	}
	if r := j.engine.recorder; r != nil {
		r.RecordLog(&model.LogRecord{
			JobID:     j.ID,
			Cache:     j.name,
			Level:     int(level),
			LevelName: level.String(),
			Message:   msg,
			CreatedAt: time.Now().UTC(),
		})
	}
}

// call runs fn while holding the process lock.
func (j *Job) call(fn func()) {
	st := j.engine.state
	st.Lock()
	defer st.Unlock()
	fn()
}

func (j *Job) load(ctx *tilecache.Context) {
	lib := j.engine.lib

	j.call(func() { lib.ParseConfig(ctx, j.path, j.cfg) })
	if ctx.HasError() {
		j.err = fmt.Errorf("failed to parse %s: %s", j.path, ctx.ErrorMessage())
		return
	}

	j.call(func() { lib.PostConfig(ctx, j.cfg) })
	if ctx.HasError() {
		j.err = fmt.Errorf("post-config failed for %s: %s", j.path, ctx.ErrorMessage())
	}
}

func (j *Job) fetch(ctx *tilecache.Context) {
	lib := j.engine.lib
	cfg := j.cfg

	var (
		params *tilecache.Table
		req    tilecache.Request
		resp   *tilecache.HTTPResponse
	)
	j.call(func() { params = lib.ParseParams(ctx, j.query) })
	j.call(func() { req = lib.DispatchRequest(ctx, j.pathInfo, params, cfg) })

	if !ctx.HasError() {
		if req == nil {
			ctx.SetError(http.StatusInternalServerError, "###BUG### NULL request")
		} else {
			j.call(func() { resp = j.build(ctx, req, cfg) })
		}
	}

	if !ctx.HasError() && resp == nil {
		ctx.SetError(http.StatusInternalServerError, "###BUG### NULL response")
		j.log(tilecache.LevelError, "###BUG### NULL response for "+j.pathInfo)
	}
	if ctx.HasError() {
		j.call(func() { resp = lib.RespondToError(ctx) })
	}

	if resp == nil {
		j.err = errors.New("No response was received from the cache")
		return
	}
	j.payload = resp
}

// build hands a dispatched request to its response builder.
func (j *Job) build(ctx *tilecache.Context, req tilecache.Request, cfg *tilecache.Config) *tilecache.HTTPResponse {
	lib := j.engine.lib
	switch r := req.(type) {
	case *tilecache.CapabilitiesRequest:
		return lib.GetCapabilities(ctx, r, j.baseURL, j.pathInfo, cfg)
	case *tilecache.TileRequest:
		return lib.GetTile(ctx, r)
	case *tilecache.ProxyRequest:
		return lib.ProxyRequest(ctx, r)
	case *tilecache.MapRequest:
		return lib.GetMap(ctx, r)
	case *tilecache.FeatureInfoRequest:
		return lib.GetFeatureInfo(ctx, r)
	default:
		ctx.SetError(http.StatusInternalServerError, "###BUG### unknown request type")
		return nil
	}
}

// complete is the loop-side phase: it converts the result, invokes the
// callback exactly once and releases everything the job held.
func (j *Job) complete() {
	j.transition(model.StateCompleted)
	j.finishedAt = time.Now().UTC()
	e := j.engine

	var resp *Response
	switch j.Kind {
	case model.KindLoad:
		if j.err != nil {
			j.cfgPool.Destroy()
			if j.bridge != nil {
				j.bridge.Unref()
			}
			j.loadCb(j.err, nil)
		} else {
			j.loadCb(nil, e.newCache(j.path, j.cfgPool, j.cfg, j.bridge))
		}
		j.cfg, j.cfgPool, j.loadCb = nil, nil, nil

	case model.KindFetch:
		if j.err == nil {
			resp = convertResponse(j.payload)
		}
		j.fetchCb(j.err, resp)
		j.cache.unpin()
		if j.bridge != nil {
			j.bridge.Unref()
		}
		j.cfg, j.fetchCb = nil, nil
	}

	j.payload = nil
	j.pool.Destroy()
	j.transition(model.StateDisposed)
	jobsInFlight.Dec()

	outcome := model.OutcomeSucceeded
	if j.err != nil {
		outcome = model.OutcomeFailed
	}
	duration := j.finishedAt.Sub(j.createdAt)
	jobsTotal.WithLabelValues(j.Kind, outcome).Inc()
	jobDuration.WithLabelValues(j.Kind).Observe(duration.Seconds())

	if j.err != nil {
		e.logger.Warn("job failed", "job_id", j.ID, "kind", j.Kind, "error", j.err)
	} else {
		e.logger.Debug("job completed", "job_id", j.ID, "kind", j.Kind, "duration_ms", duration.Milliseconds())
	}
	if e.recorder != nil {
		e.recorder.RecordJob(j.record(outcome, resp, duration))
	}
}

func (j *Job) record(outcome string, resp *Response, duration time.Duration) *model.JobRecord {
	ms := duration.Milliseconds()
	finished := j.finishedAt
	rec := &model.JobRecord{
		ID:         j.ID,
		Kind:       j.Kind,
		Outcome:    outcome,
		DurationMS: &ms,
		CreatedAt:  j.createdAt,
		FinishedAt: &finished,
	}
	if j.Kind == model.KindLoad {
		rec.ConfigFile = j.path
		rec.Cache = j.path
	} else {
		rec.Cache = j.name
		rec.PathInfo = j.pathInfo
		rec.Query = j.query
	}
	if j.err != nil {
		msg := j.err.Error()
		rec.Error = &msg
	}
	if resp != nil {
		code := resp.Code
		rec.StatusCode = &code
		rec.BodyBytes = len(resp.Data)
	}
	return rec
}
