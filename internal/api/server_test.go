package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/seantiz/mapbridge/internal/engine"
	"github.com/seantiz/mapbridge/internal/loop"
	"github.com/seantiz/mapbridge/internal/process"
	"github.com/seantiz/mapbridge/internal/store"
)

const testConfig = `<?xml version="1.0" encoding="UTF-8"?>
<mapcache>
  <cache name="mem" type="memory"/>
  <tileset name="static">
    <cache>mem</cache>
    <grid>WGS84</grid>
  </tileset>
  <service type="wmts" enabled="true"/>
</mapcache>
`

type testEnv struct {
	srv      *Server
	store    *store.SQLiteStore
	recorder *engine.Recorder
}

// newTestEnv runs an engine loop in the background, loads testConfig and
// builds a server for the resulting cache.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rec := engine.NewRecorder(s, logger)
	t.Cleanup(rec.Close)

	l := loop.New()
	eng := engine.New(l,
		engine.WithState(process.New()),
		engine.WithLogger(logger),
		engine.WithRecorder(rec),
	)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		l.Close()
	})

	path := filepath.Join(t.TempDir(), "mapcache.xml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	type loaded struct {
		cache *engine.Cache
		err   error
	}
	done := make(chan loaded, 1)
	l.Post(func() {
		_, err := eng.FromConfigFile(path, engine.BrokerTarget(eng.Broker(), path), func(err error, c *engine.Cache) {
			done <- loaded{cache: c, err: err}
		})
		if err != nil {
			done <- loaded{err: err}
		}
	})
	res := <-done
	if res.err != nil {
		t.Fatalf("load config: %v", res.err)
	}

	env := &testEnv{
		srv:      NewServer(":0", s, eng, res.cache, logger),
		store:    s,
		recorder: rec,
	}
	env.waitJobs(t, 1)
	return env
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestEnv(t).srv
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/wmts", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /wmts: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
