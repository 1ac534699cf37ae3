package engine

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/seantiz/mapbridge/internal/loop"
	"github.com/seantiz/mapbridge/internal/pool"
	"github.com/seantiz/mapbridge/internal/process"
	"github.com/seantiz/mapbridge/internal/tilecache"
)

// Version is the engine version reported by Versions.
const Version = "0.4.0"

// Library is the synchronous tile cache boundary jobs drive.
// tilecache.Core implements it.
type Library interface {
	CreateConfig(p *pool.Pool) (*tilecache.Config, error)
	ParseConfig(ctx *tilecache.Context, path string, cfg *tilecache.Config)
	PostConfig(ctx *tilecache.Context, cfg *tilecache.Config)
	ParseParams(ctx *tilecache.Context, query string) *tilecache.Table
	DispatchRequest(ctx *tilecache.Context, pathInfo string, params *tilecache.Table, cfg *tilecache.Config) tilecache.Request
	GetCapabilities(ctx *tilecache.Context, req *tilecache.CapabilitiesRequest, baseURL, pathInfo string, cfg *tilecache.Config) *tilecache.HTTPResponse
	GetTile(ctx *tilecache.Context, req *tilecache.TileRequest) *tilecache.HTTPResponse
	ProxyRequest(ctx *tilecache.Context, req *tilecache.ProxyRequest) *tilecache.HTTPResponse
	GetMap(ctx *tilecache.Context, req *tilecache.MapRequest) *tilecache.HTTPResponse
	GetFeatureInfo(ctx *tilecache.Context, req *tilecache.FeatureInfoRequest) *tilecache.HTTPResponse
	RespondToError(ctx *tilecache.Context) *tilecache.HTTPResponse
}

var _ Library = (*tilecache.Core)(nil)

// Engine creates Cache handles and runs their jobs.
type Engine struct {
	loop     *loop.Loop
	state    *process.State
	lib      Library
	logger   *slog.Logger
	recorder *Recorder
	broker   *LogBroker
	client   *http.Client
}

// Option configures an Engine.
type Option func(*Engine)

// WithState replaces the process-wide runtime state.
func WithState(s *process.State) Option {
	return func(e *Engine) {
		e.state = s
	}
}

// WithLibrary replaces the tile cache library.
func WithLibrary(lib Library) Option {
	return func(e *Engine) {
		e.lib = lib
	}
}

// WithLogger sets the logger used for engine events and for library log
// records of jobs that have no log target.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRecorder persists job history and job log records.
func WithRecorder(r *Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithBroker replaces the broker live log records are published to.
func WithBroker(b *LogBroker) Option {
	return func(e *Engine) {
		e.broker = b
	}
}

// WithHTTPClient sets the client the library uses to reach upstream
// sources.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// New creates an engine whose completions run on l.
func New(l *loop.Loop, opts ...Option) *Engine {
	e := &Engine{
		loop:   l,
		state:  process.Default(),
		logger: slog.Default(),
		broker: NewLogBroker(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.lib == nil {
		e.lib = tilecache.NewCore(tilecache.WithLogger(e.logger))
	}
	return e
}

// Loop returns the loop completions are delivered on.
func (e *Engine) Loop() *loop.Loop {
	return e.loop
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Versions reports the versions of the engine, the tile cache library and
// the Go runtime.
func Versions() map[string]string {
	return map[string]string{
		"mapbridge": Version,
		"tilecache": tilecache.Version,
		"go":        runtime.Version(),
	}
}

// slogLevel maps a tile cache level onto the closest slog level.
func slogLevel(level tilecache.Level) slog.Level {
	switch {
	case level <= tilecache.LevelDebug:
		return slog.LevelDebug
	case level <= tilecache.LevelNotice:
		return slog.LevelInfo
	case level == tilecache.LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (e *Engine) logLibrary(jobID string, level tilecache.Level, msg string) {
	e.logger.Log(context.Background(), slogLevel(level), msg,
		"job_id", jobID,
		"level_name", level.String(),
	)
}
