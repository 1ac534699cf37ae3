package tilecache

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/seantiz/mapbridge/internal/tilecache/storage"
)

// Version is the library version reported by the embedding side.
const Version = "1.2.0"

// Core is the entry point of the library. It is stateless apart from the
// storage registry, clock and logger it was built with.
type Core struct {
	registry *storage.Registry
	now      func() time.Time
	logger   *slog.Logger
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithRegistry sets the registry cache backends are opened from.
func WithRegistry(r *storage.Registry) CoreOption {
	return func(c *Core) {
		c.registry = r
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CoreOption {
	return func(c *Core) {
		c.now = now
	}
}

// WithLogger sets the logger for events outside any request context, such
// as backends failing to close when a configuration pool is destroyed.
func WithLogger(l *slog.Logger) CoreOption {
	return func(c *Core) {
		c.logger = l
	}
}

// NewCore creates a Core with every built-in storage backend.
func NewCore(opts ...CoreOption) *Core {
	c := &Core{
		registry: storage.DefaultRegistry(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseParams splits a query string into an ordered parameter table. Keys
// without "=" get an empty value; undecodable escapes are kept verbatim.
func (c *Core) ParseParams(_ *Context, query string) *Table {
	params := NewTable()
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		params.Add(unescape(key), unescape(value))
	}
	return params
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// DispatchRequest routes pathInfo to an enabled service and lets it build
// the request descriptor. The first path segment names the service; an
// empty path falls back to the SERVICE parameter.
func (c *Core) DispatchRequest(ctx *Context, pathInfo string, params *Table, cfg *Config) Request {
	ctx.config = cfg

	rest := strings.TrimLeft(pathInfo, "/")
	name, sub, _ := strings.Cut(rest, "/")
	if name == "" {
		name = strings.ToLower(params.Get("SERVICE"))
	}
	if name == "" {
		ctx.SetError(http.StatusNotFound, "received request with no service")
		return nil
	}

	svc, ok := cfg.Services[strings.ToLower(name)]
	if !ok {
		ctx.SetError(http.StatusNotFound, "unknown service %s", name)
		return nil
	}
	ctx.service = svc
	return svc.ParseRequest(ctx, cfg, sub, params)
}

// GetCapabilities builds the capabilities response for req.
func (c *Core) GetCapabilities(ctx *Context, req *CapabilitiesRequest, baseURL, pathInfo string, cfg *Config) *HTTPResponse {
	body, contentType := req.Service().Capabilities(ctx, cfg, req, baseURL)
	if ctx.HasError() {
		return nil
	}
	ctx.Logf(LevelDebug, "built %s capabilities for %s", req.Service().Name(), pathInfo)
	return newResponse(ctx, http.StatusOK, contentType, body)
}

// GetTile serves a tile from the tileset's cache, rendering and storing it
// on a miss.
func (c *Core) GetTile(ctx *Context, req *TileRequest) *HTTPResponse {
	ts := req.Tileset
	backend := ts.Cache.Backend
	if backend == nil {
		ctx.SetError(http.StatusInternalServerError, "cache %s is not open", ts.Cache.Name)
		return nil
	}

	key := storage.Key{
		Tileset: ts.Name,
		Grid:    req.Grid.Name,
		Z:       req.Z,
		X:       req.X,
		Y:       req.Y,
		Ext:     req.Format.Extension,
	}

	bg := context.Background()
	tile, err := backend.Get(bg, key)
	switch {
	case err == nil:
		ctx.Logf(LevelDebug, "cache hit for %s", key.Path())
	case errors.Is(err, storage.ErrNotFound):
		if ts.Source == nil || ts.ReadOnly {
			ctx.SetError(http.StatusNotFound, "tile %s not found in cache %s", key.Path(), ts.Cache.Name)
			return nil
		}
		ctx.Logf(LevelDebug, "cache miss for %s, rendering from %s", key.Path(), ts.Source.Name)
		up := ts.Source.Render(ctx, req.Grid.SRS, req.Grid.TileExtent(req.X, req.Y, req.Z),
			req.Grid.TileWidth, req.Grid.TileHeight, req.Format)
		if up == nil {
			return nil
		}
		tile = &storage.Tile{Data: up.body, ContentType: up.contentType, Mtime: c.now()}
		if err := backend.Set(bg, key, tile); err != nil {
			ctx.Logf(LevelWarn, "failed to store tile %s in cache %s: %v", key.Path(), ts.Cache.Name, err)
		}
	default:
		ctx.SetError(http.StatusInternalServerError, "failed to read tile %s from cache %s: %v", key.Path(), ts.Cache.Name, err)
		return nil
	}

	contentType := tile.ContentType
	if contentType == "" {
		contentType = req.Format.MimeType
	}
	resp := newResponse(ctx, http.StatusOK, contentType, tile.Data)
	resp.setMtime(tile.Mtime)
	resp.setExpires(ts.Expires, c.now())
	resp.Headers.Set("ETag", etag(tile.Data))
	return resp
}

// GetMap renders an arbitrary extent through the tileset's source.
func (c *Core) GetMap(ctx *Context, req *MapRequest) *HTTPResponse {
	up := req.Tileset.Source.Render(ctx, req.SRS, req.BBox, req.Width, req.Height, req.Format)
	if up == nil {
		return nil
	}
	resp := newResponse(ctx, http.StatusOK, up.contentType, up.body)
	resp.setMtime(c.now())
	return resp
}

// GetFeatureInfo forwards a feature info query to the tileset's source.
func (c *Core) GetFeatureInfo(ctx *Context, req *FeatureInfoRequest) *HTTPResponse {
	up := req.Tileset.Source.Query(ctx, req.SRS, req.BBox, req.Width, req.Height, req.I, req.J, req.InfoFormat)
	if up == nil {
		return nil
	}
	return newResponse(ctx, http.StatusOK, up.contentType, up.body)
}

// ProxyRequest relays the request parameters to the forwarding rule's
// upstream and returns its answer unchanged.
func (c *Core) ProxyRequest(ctx *Context, req *ProxyRequest) *HTTPResponse {
	up, err := fetch(ctx, req.Rule.URL, req.Params, defaultSourceTimeout)
	if err != nil {
		ctx.SetError(http.StatusBadGateway, "forwarding rule %s: %v", req.Rule.Name, err)
		return nil
	}
	ctx.Logf(LevelDebug, "forwarding rule %s answered %d", req.Rule.Name, up.code)
	return newResponse(ctx, up.code, up.contentType, up.body)
}

// RespondToError builds the exception response for the raised error. With
// <errors>log</errors> the message is only logged and the client gets a
// generic one.
func (c *Core) RespondToError(ctx *Context) *HTTPResponse {
	code := ctx.ErrorCode()
	if code == 0 {
		code = http.StatusInternalServerError
	}
	msg := ctx.ErrorMessage()
	ctx.Logf(LevelError, "%s", msg)

	if ctx.config != nil && ctx.config.ErrorReporting == ErrorsLog {
		msg = "an unexpected error occurred"
	}

	var (
		body        []byte
		contentType string
	)
	if ctx.service != nil {
		body, contentType = ctx.service.FormatError(code, msg)
	} else {
		body, contentType = []byte(msg), "text/plain"
	}
	return newResponse(ctx, code, contentType, body)
}

// etag derives a strong entity tag from tile content.
func etag(data []byte) string {
	sum := blake3.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
