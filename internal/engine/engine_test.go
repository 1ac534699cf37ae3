package engine_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seantiz/mapbridge/internal/engine"
	"github.com/seantiz/mapbridge/internal/loop"
	"github.com/seantiz/mapbridge/internal/model"
	"github.com/seantiz/mapbridge/internal/pool"
	"github.com/seantiz/mapbridge/internal/process"
	"github.com/seantiz/mapbridge/internal/store"
	"github.com/seantiz/mapbridge/internal/tilecache"
)

const validConfig = `<?xml version="1.0" encoding="UTF-8"?>
<mapcache>
  <cache name="mem" type="memory"/>
  <tileset name="static">
    <cache>mem</cache>
    <grid>WGS84</grid>
  </tileset>
  <service type="wmts" enabled="true"/>
</mapcache>
`

const capsQuery = "SERVICE=WMTS&REQUEST=GetCapabilities"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "valid.xml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

type harness struct {
	loop   *loop.Loop
	state  *process.State
	engine *engine.Engine
}

func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()
	l := loop.New()
	st := process.New()
	opts = append([]engine.Option{
		engine.WithState(st),
		engine.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	}, opts...)
	h := &harness{loop: l, state: st, engine: engine.New(l, opts...)}
	t.Cleanup(l.Close)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.loop.RunUntilIdle(ctx); err != nil {
		t.Fatalf("RunUntilIdle: %v", err)
	}
}

func (h *harness) load(t *testing.T, path string, target engine.LogTarget) *engine.Cache {
	t.Helper()
	var (
		calls int
		cache *engine.Cache
		err   error
	)
	if _, serr := h.engine.FromConfigFile(path, target, func(e error, c *engine.Cache) {
		calls++
		err, cache = e, c
	}); serr != nil {
		t.Fatalf("FromConfigFile: %v", serr)
	}
	h.run(t)
	if calls != 1 {
		t.Fatalf("load callback ran %d times, want 1", calls)
	}
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cache
}

func (h *harness) get(t *testing.T, c *engine.Cache, pathInfo, query string) (*engine.Response, error) {
	t.Helper()
	var (
		calls int
		resp  *engine.Response
		err   error
	)
	if _, serr := c.Get("http://localhost:8080/", pathInfo, query, func(e error, r *engine.Response) {
		calls++
		err, resp = e, r
	}); serr != nil {
		t.Fatalf("Get: %v", serr)
	}
	h.run(t)
	if calls != 1 {
		t.Fatalf("get callback ran %d times, want 1", calls)
	}
	return resp, err
}

// stubLibrary overrides selected boundary operations of the real library.
type stubLibrary struct {
	*tilecache.Core
	parseConfig    func(ctx *tilecache.Context, path string, cfg *tilecache.Config)
	dispatch       func(ctx *tilecache.Context) tilecache.Request
	onDispatch     func(ctx *tilecache.Context, cfg *tilecache.Config)
	getCaps        func(ctx *tilecache.Context) *tilecache.HTTPResponse
	respondToError func(ctx *tilecache.Context) *tilecache.HTTPResponse
}

func (s *stubLibrary) ParseConfig(ctx *tilecache.Context, path string, cfg *tilecache.Config) {
	if s.parseConfig != nil {
		s.parseConfig(ctx, path, cfg)
		return
	}
	s.Core.ParseConfig(ctx, path, cfg)
}

func (s *stubLibrary) DispatchRequest(ctx *tilecache.Context, pathInfo string, params *tilecache.Table, cfg *tilecache.Config) tilecache.Request {
	if s.dispatch != nil {
		return s.dispatch(ctx)
	}
	if s.onDispatch != nil {
		s.onDispatch(ctx, cfg)
	}
	return s.Core.DispatchRequest(ctx, pathInfo, params, cfg)
}

func (s *stubLibrary) GetCapabilities(ctx *tilecache.Context, req *tilecache.CapabilitiesRequest, baseURL, pathInfo string, cfg *tilecache.Config) *tilecache.HTTPResponse {
	if s.getCaps != nil {
		return s.getCaps(ctx)
	}
	return s.Core.GetCapabilities(ctx, req, baseURL, pathInfo, cfg)
}

func (s *stubLibrary) RespondToError(ctx *tilecache.Context) *tilecache.HTTPResponse {
	if s.respondToError != nil {
		return s.respondToError(ctx)
	}
	return s.Core.RespondToError(ctx)
}

type unknownRequest struct{}

func (unknownRequest) Type() tilecache.RequestType  { return tilecache.RequestUnknown }
func (unknownRequest) Service() tilecache.Service { return nil }

func TestLoadAndGetCapabilities(t *testing.T) {
	h := newHarness(t)
	path := writeConfig(t, validConfig)
	c := h.load(t, path, nil)

	if c.Name() != path {
		t.Errorf("Name() = %q, want %q", c.Name(), path)
	}
	if c.Refs() != 1 {
		t.Errorf("Refs() = %d, want 1", c.Refs())
	}

	resp, err := h.get(t, c, "/wmts", capsQuery)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.Code != http.StatusOK {
		t.Errorf("Code = %d, want 200", resp.Code)
	}
	if !bytes.Contains(resp.Data, []byte("Capabilities")) {
		t.Errorf("body does not look like a capabilities document: %.200s", resp.Data)
	}
	if got := resp.Headers["Content-Type"]; len(got) != 1 || got[0] != "application/xml" {
		t.Errorf("Content-Type = %v, want [application/xml]", got)
	}

	c.Release()
	if c.Config() != nil {
		t.Error("Config() is still set after the last Release")
	}
}

func TestJobStates(t *testing.T) {
	h := newHarness(t)
	path := writeConfig(t, validConfig)

	job, err := h.engine.FromConfigFile(path, nil, func(error, *engine.Cache) {})
	if err != nil {
		t.Fatalf("FromConfigFile: %v", err)
	}
	if job.Kind != model.KindLoad {
		t.Errorf("Kind = %q, want %q", job.Kind, model.KindLoad)
	}
	if job.State() != model.StateRunning {
		t.Errorf("State() after submit = %q, want %q", job.State(), model.StateRunning)
	}
	h.run(t)
	if job.State() != model.StateDisposed {
		t.Errorf("State() after completion = %q, want %q", job.State(), model.StateDisposed)
	}
	if job.Err() != nil {
		t.Errorf("Err() = %v, want nil", job.Err())
	}
}

func TestFromConfigFileMissingFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "does-not-exist.xml")

	var (
		calls int
		gotErr error
		cache  *engine.Cache
	)
	if _, err := h.engine.FromConfigFile(path, nil, func(err error, c *engine.Cache) {
		calls++
		gotErr, cache = err, c
	}); err != nil {
		t.Fatalf("FromConfigFile: %v", err)
	}
	h.run(t)

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if gotErr == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !strings.Contains(gotErr.Error(), "failed to parse "+path) {
		t.Errorf("error = %q, want it to name %s", gotErr, path)
	}
	if cache != nil {
		t.Error("cache should be nil on failure")
	}
}

func TestFromConfigFilePostConfigError(t *testing.T) {
	h := newHarness(t)
	path := writeConfig(t, `<mapcache>
  <cache name="mem" type="memory"/>
  <tileset name="static"><cache>mem</cache><grid>WGS84</grid></tileset>
</mapcache>`)

	var gotErr error
	if _, err := h.engine.FromConfigFile(path, nil, func(err error, _ *engine.Cache) {
		gotErr = err
	}); err != nil {
		t.Fatalf("FromConfigFile: %v", err)
	}
	h.run(t)

	if gotErr == nil || !strings.HasPrefix(gotErr.Error(), "post-config failed for "+path) {
		t.Errorf("error = %v, want post-config failure", gotErr)
	}
}

func TestFromConfigFileValidation(t *testing.T) {
	h := newHarness(t)

	if _, err := h.engine.FromConfigFile("", nil, func(error, *engine.Cache) {}); err == nil {
		t.Error("empty path: expected error")
	}
	if _, err := h.engine.FromConfigFile("x.xml", nil, nil); err == nil {
		t.Error("nil callback: expected error")
	}
}

func TestFromConfigFileArenaExhausted(t *testing.T) {
	st := process.New(process.WithPoolOptions(
		pool.WithChunkSize(1024),
		pool.WithMaxBytes(1500),
	))
	h := newHarness(t, engine.WithState(st))

	called := false
	_, err := h.engine.FromConfigFile("valid.xml", nil, func(error, *engine.Cache) { called = true })
	if err == nil {
		t.Fatal("expected a synchronous error")
	}
	if !errors.Is(err, pool.ErrExhausted) || !strings.Contains(err.Error(), "could not allocate arena") {
		t.Errorf("error = %v, want could not allocate arena", err)
	}
	h.run(t)
	if called {
		t.Error("callback must not run when submission fails")
	}
}

func TestArenaLifetimes(t *testing.T) {
	h := newHarness(t)
	root, err := h.state.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	children := func(step string, want int) {
		t.Helper()
		if got := root.NumChildren(); got != want {
			t.Errorf("%s: root has %d children, want %d", step, got, want)
		}
	}

	missing := filepath.Join(t.TempDir(), "missing.xml")
	if _, err := h.engine.FromConfigFile(missing, nil, func(error, *engine.Cache) {}); err != nil {
		t.Fatalf("FromConfigFile: %v", err)
	}
	children("failed load in flight", 2)
	h.run(t)
	children("after failed load", 0)

	c := h.load(t, writeConfig(t, validConfig), nil)
	children("after load", 1)
	cfgPool := c.Config().Pool()

	if _, err := c.Get("", "/wmts", capsQuery, func(error, *engine.Response) {}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	children("fetch in flight", 2)
	h.run(t)
	children("after fetch", 1)

	c.Release()
	children("after release", 0)
	if !cfgPool.Destroyed() {
		t.Error("configuration pool not destroyed after the last release")
	}
}

func TestGetValidation(t *testing.T) {
	h := newHarness(t)
	c := h.load(t, writeConfig(t, validConfig), nil)

	if _, err := c.Get("", "/wmts", capsQuery, nil); err == nil {
		t.Error("nil callback: expected error")
	}

	c.Release()
	if !c.Released() {
		t.Error("Released() = false after Release")
	}
	if _, err := c.Get("", "/wmts", capsQuery, func(error, *engine.Response) {}); !errors.Is(err, engine.ErrReleased) {
		t.Errorf("Get after Release error = %v, want ErrReleased", err)
	}
}

func TestPinKeepsConfigAlive(t *testing.T) {
	h := newHarness(t)
	c := h.load(t, writeConfig(t, validConfig), nil)

	var resp *engine.Response
	if _, err := c.Get("", "/wmts", capsQuery, func(err error, r *engine.Response) {
		if err != nil {
			t.Errorf("get: %v", err)
		}
		resp = r
	}); err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.Release()
	if c.Config() == nil {
		t.Fatal("config torn down while a job still pins the cache")
	}
	if c.Refs() != 1 {
		t.Errorf("Refs() = %d, want 1 pin", c.Refs())
	}

	h.run(t)
	if resp == nil || resp.Code != http.StatusOK {
		t.Fatalf("response = %+v, want 200", resp)
	}
	if c.Config() != nil {
		t.Error("config not torn down after the last pin")
	}
	if c.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", c.Refs())
	}
}

func TestRefKeepsCacheAlive(t *testing.T) {
	h := newHarness(t)
	c := h.load(t, writeConfig(t, validConfig), nil)

	c.Ref()
	c.Release()
	if c.Released() {
		t.Fatal("Released() = true with one reference left")
	}
	if _, err := h.get(t, c, "/wmts", capsQuery); err != nil {
		t.Fatalf("get: %v", err)
	}
	c.Release()
	if c.Config() != nil {
		t.Error("config not torn down after the last Release")
	}
}

func TestRepeatedHeadersAccumulate(t *testing.T) {
	stub := &stubLibrary{Core: tilecache.NewCore()}
	stub.getCaps = func(ctx *tilecache.Context) *tilecache.HTTPResponse {
		h := tilecache.NewTable()
		h.Add("Set-Cookie", "a")
		h.Add("Content-Type", "text/plain")
		h.Add("Set-Cookie", "b")
		return &tilecache.HTTPResponse{Code: http.StatusOK, Data: []byte("ok"), Headers: h}
	}
	h := newHarness(t, engine.WithLibrary(stub))
	c := h.load(t, writeConfig(t, validConfig), nil)

	resp, err := h.get(t, c, "/wmts", capsQuery)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := resp.Headers["Set-Cookie"]
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Set-Cookie = %v, want [a b]", got)
	}
	if string(resp.Data) != "ok" {
		t.Errorf("Data = %q, want ok", resp.Data)
	}
	if resp.Mtime != nil {
		t.Errorf("Mtime = %v, want nil", resp.Mtime)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(s *stubLibrary)
		pathInfo string
		wantCode int
		wantBody string
	}{
		{
			name: "unknown request type",
			setup: func(s *stubLibrary) {
				s.dispatch = func(*tilecache.Context) tilecache.Request { return unknownRequest{} }
			},
			pathInfo: "/wmts",
			wantCode: http.StatusInternalServerError,
			wantBody: "###BUG### unknown request type",
		},
		{
			name: "null response",
			setup: func(s *stubLibrary) {
				s.getCaps = func(*tilecache.Context) *tilecache.HTTPResponse { return nil }
			},
			pathInfo: "/wmts",
			wantCode: http.StatusInternalServerError,
			wantBody: "###BUG### NULL response",
		},
		{
			name: "null request",
			setup: func(s *stubLibrary) {
				s.dispatch = func(*tilecache.Context) tilecache.Request { return nil }
			},
			pathInfo: "/wmts",
			wantCode: http.StatusInternalServerError,
			wantBody: "###BUG### NULL request",
		},
		{
			name:     "unknown service",
			setup:    func(*stubLibrary) {},
			pathInfo: "/nope",
			wantCode: http.StatusNotFound,
			wantBody: "unknown service nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubLibrary{Core: tilecache.NewCore()}
			tt.setup(stub)
			h := newHarness(t, engine.WithLibrary(stub))
			c := h.load(t, writeConfig(t, validConfig), nil)

			resp, err := h.get(t, c, tt.pathInfo, capsQuery)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", resp.Code, tt.wantCode)
			}
			if !bytes.Contains(resp.Data, []byte(tt.wantBody)) {
				t.Errorf("body = %q, want it to contain %q", resp.Data, tt.wantBody)
			}
		})
	}
}

func TestNoResponseFromCache(t *testing.T) {
	stub := &stubLibrary{Core: tilecache.NewCore()}
	stub.dispatch = func(ctx *tilecache.Context) tilecache.Request {
		ctx.SetError(http.StatusBadRequest, "bad")
		return nil
	}
	stub.respondToError = func(*tilecache.Context) *tilecache.HTTPResponse { return nil }
	h := newHarness(t, engine.WithLibrary(stub))
	c := h.load(t, writeConfig(t, validConfig), nil)

	resp, err := h.get(t, c, "/wmts", capsQuery)
	if err == nil || err.Error() != "No response was received from the cache" {
		t.Errorf("error = %v, want no response", err)
	}
	if resp != nil {
		t.Errorf("response = %+v, want nil", resp)
	}
}

func TestWorkerPanicBecomesError(t *testing.T) {
	stub := &stubLibrary{Core: tilecache.NewCore()}
	stub.parseConfig = func(*tilecache.Context, string, *tilecache.Config) { panic("boom") }
	h := newHarness(t, engine.WithLibrary(stub))

	var gotErr error
	if _, err := h.engine.FromConfigFile(writeConfig(t, validConfig), nil, func(err error, _ *engine.Cache) {
		gotErr = err
	}); err != nil {
		t.Fatalf("FromConfigFile: %v", err)
	}
	h.run(t)
	if gotErr == nil || !strings.Contains(gotErr.Error(), "tile cache panic: boom") {
		t.Errorf("error = %v, want tile cache panic", gotErr)
	}
}

type capture struct {
	mu      sync.Mutex
	records []string
}

func (c *capture) Log(level tilecache.Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, level.String()+" "+msg)
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.records...)
}

func TestCacheLogTarget(t *testing.T) {
	h := newHarness(t)
	path := writeConfig(t, validConfig)
	target := &capture{}
	c := h.load(t, path, target)

	got := target.all()
	if len(got) == 0 || got[0] != "DEBUG mapbridge conf file: "+path {
		t.Fatalf("first record = %v, want conf file record", got)
	}

	before := len(got)
	if _, err := h.get(t, c, "/wmts", capsQuery); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(target.all()) <= before {
		t.Error("fetch did not log through the cache target")
	}
	c.Release()
}

func TestPerJobLogTarget(t *testing.T) {
	h := newHarness(t)
	c := h.load(t, writeConfig(t, validConfig), nil)
	target := &capture{}

	if _, err := c.Get("", "/nope", "", func(error, *engine.Response) {}, engine.WithLogTarget(target)); err != nil {
		t.Fatalf("Get: %v", err)
	}
	h.run(t)

	found := false
	for _, r := range target.all() {
		if strings.Contains(r, "unknown service nope") {
			found = true
		}
	}
	if !found {
		t.Errorf("records = %v, want the error logged", target.all())
	}
	c.Release()
}

func TestLogBridgeDeliversConcurrentPostsInOrder(t *testing.T) {
	l := loop.New()
	t.Cleanup(l.Close)
	target := &capture{}
	b := engine.NewLogBridge(l, target)

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Go(func() {
			for i := 0; i < perWriter; i++ {
				b.Post(tilecache.LevelInfo, fmt.Sprintf("%d:%d", w, i))
			}
		})
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.RunUntilIdle(ctx); err != nil {
		t.Fatalf("RunUntilIdle: %v", err)
	}
	b.Close()

	got := target.all()
	if len(got) != writers*perWriter {
		t.Fatalf("got %d records, want %d", len(got), writers*perWriter)
	}
	next := make([]int, writers)
	for _, r := range got {
		var w, i int
		if _, err := fmt.Sscanf(r, "INFO %d:%d", &w, &i); err != nil {
			t.Fatalf("parse %q: %v", r, err)
		}
		if i != next[w] {
			t.Fatalf("writer %d: got record %d, want %d", w, i, next[w])
		}
		next[w]++
	}
}

func TestLogBridgeCloseDrains(t *testing.T) {
	l := loop.New()
	t.Cleanup(l.Close)
	target := &capture{}
	b := engine.NewLogBridge(l, target)

	b.Post(tilecache.LevelWarn, "pending")
	b.Close()

	if got := target.all(); len(got) != 1 || got[0] != "WARN pending" {
		t.Errorf("records = %v, want [WARN pending]", got)
	}
	if !b.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestLogBridgePostAfterClosePanics(t *testing.T) {
	l := loop.New()
	t.Cleanup(l.Close)
	b := engine.NewLogBridge(l, &capture{})
	b.Close()

	defer func() {
		if recover() == nil {
			t.Error("Post after Close did not panic")
		}
	}()
	b.Post(tilecache.LevelInfo, "late")
}

func TestLogBridgeRefUnref(t *testing.T) {
	l := loop.New()
	t.Cleanup(l.Close)
	b := engine.NewLogBridge(l, &capture{})

	b.Ref()
	b.Unref()
	if b.Closed() {
		t.Fatal("closed with a reference left")
	}
	b.Unref()
	if !b.Closed() {
		t.Error("not closed after the last Unref")
	}
}

func TestSlogTarget(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	engine.SlogTarget(logger).Log(tilecache.LevelCrit, "disk full")

	out := buf.String()
	for _, want := range []string{`"level":"ERROR"`, `"msg":"disk full"`, `"level_name":"CRIT"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestLogrusTarget(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	target := engine.LogrusTarget(logger)
	target.Log(tilecache.LevelWarn, "slow upstream")
	target.Log(tilecache.LevelNotice, "tile stored")

	out := buf.String()
	for _, want := range []string{`"level":"warning"`, `"msg":"slow upstream"`, `"level":"info"`, `"level_name":"NOTICE"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestMultiAndBrokerTargets(t *testing.T) {
	broker := engine.NewLogBroker()
	ch, unsub := broker.Subscribe("cache.xml")
	defer unsub()

	var calls int
	target := engine.MultiTarget(
		engine.BrokerTarget(broker, "cache.xml"),
		engine.LogTargetFunc(func(tilecache.Level, string) { calls++ }),
	)
	target.Log(tilecache.LevelError, "upstream failed")

	select {
	case ev := <-ch:
		if ev.Message != "upstream failed" || ev.LevelName != "ERROR" || ev.Level != int(tilecache.LevelError) {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("broker received no event")
	}
	if calls != 1 {
		t.Errorf("func target called %d times, want 1", calls)
	}
}

func TestRecorderPersistsHistory(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	rec := engine.NewRecorder(s, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	t.Cleanup(rec.Close)

	h := newHarness(t, engine.WithRecorder(rec))
	c := h.load(t, writeConfig(t, validConfig), nil)

	job, err := c.Get("http://localhost/", "/wmts", capsQuery, func(error, *engine.Response) {})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h.run(t)
	c.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	jobs, total, err := s.ListJobs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Kind != model.KindFetch || got.Outcome != model.OutcomeSucceeded {
		t.Errorf("job = %s/%s, want fetch/succeeded", got.Kind, got.Outcome)
	}
	if got.StatusCode == nil || *got.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %v, want 200", got.StatusCode)
	}
	if got.PathInfo != "/wmts" {
		t.Errorf("PathInfo = %q, want /wmts", got.PathInfo)
	}
	if len(jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(jobs))
	}

	logs, err := s.GetLogRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetLogRecords: %v", err)
	}
	if len(logs) == 0 {
		t.Error("no log records persisted for the fetch job")
	}
}

func TestFetchUsesConfigFromSubmission(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	rec := engine.NewRecorder(s, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	t.Cleanup(rec.Close)

	var seen *tilecache.Config
	stub := &stubLibrary{Core: tilecache.NewCore()}
	stub.onDispatch = func(ctx *tilecache.Context, cfg *tilecache.Config) {
		seen = cfg
		ctx.Logf(tilecache.LevelInfo, "dispatching")
	}
	h := newHarness(t, engine.WithLibrary(stub), engine.WithRecorder(rec))
	path := writeConfig(t, validConfig)
	c := h.load(t, path, nil)
	want := c.Config()

	job, err := c.Get("", "/wmts", capsQuery, func(error, *engine.Response) {})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Release()
	h.run(t)

	if seen != want {
		t.Errorf("dispatch saw config %p, want %p", seen, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	logs, err := s.GetLogRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetLogRecords: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("no log records for the fetch job")
	}
	for _, l := range logs {
		if l.Cache != path {
			t.Errorf("log record cache = %q, want %q", l.Cache, path)
		}
	}
}

func TestVersions(t *testing.T) {
	v := engine.Versions()
	for _, k := range []string{"mapbridge", "tilecache", "go"} {
		if v[k] == "" {
			t.Errorf("Versions()[%q] is empty", k)
		}
	}
}
