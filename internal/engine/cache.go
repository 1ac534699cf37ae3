package engine

import (
	"errors"
	"fmt"

	"github.com/seantiz/mapbridge/internal/model"
	"github.com/seantiz/mapbridge/internal/pool"
	"github.com/seantiz/mapbridge/internal/tilecache"
)

// ErrReleased is returned when a released Cache handle is used.
var ErrReleased = errors.New("cache handle has been released")

// Cache is a loaded tile cache configuration. It is created by
// FromConfigFile and lives until the embedder has released every reference
// and every fetch job pinning it has been disposed.
//
// All methods must be called on the loop goroutine.
type Cache struct {
	engine *Engine
	name   string
	pool   *pool.Pool
	cfg    *tilecache.Config
	bridge *LogBridge

	holders int
	pins    int
}

func (e *Engine) newCache(name string, p *pool.Pool, cfg *tilecache.Config, bridge *LogBridge) *Cache {
	cachesLive.Inc()
	return &Cache{
		engine:  e,
		name:    name,
		pool:    p,
		cfg:     cfg,
		bridge:  bridge,
		holders: 1,
	}
}

// FromConfigFile loads the configuration file at path on a worker and calls
// cb on the loop with the resulting Cache. When target is not nil, log
// records emitted while loading and by every later fetch through the Cache
// are delivered to it on the loop.
func (e *Engine) FromConfigFile(path string, target LogTarget, cb func(error, *Cache)) (*Job, error) {
	if path == "" {
		return nil, errors.New("engine: configuration file path is required")
	}
	if cb == nil {
		return nil, errors.New("engine: callback is required")
	}

	root, err := e.state.Root()
	if err != nil {
		return nil, err
	}
	cfgPool, err := root.NewChild()
	if err != nil {
		return nil, fmt.Errorf("create configuration pool: %w", err)
	}
	jobPool, err := root.NewChild()
	if err != nil {
		cfgPool.Destroy()
		return nil, fmt.Errorf("create job pool: %w", err)
	}
	cfg, err := e.lib.CreateConfig(cfgPool)
	if err != nil {
		jobPool.Destroy()
		cfgPool.Destroy()
		return nil, fmt.Errorf("create configuration: %w", err)
	}

	var bridge *LogBridge
	if target != nil {
		bridge = NewLogBridge(e.loop, target)
		bridge.Post(tilecache.LevelDebug, "mapbridge conf file: "+path)
	}

	j := e.newJob(model.KindLoad, jobPool, bridge)
	j.path = path
	j.name = path
	j.cfgPool = cfgPool
	j.cfg = cfg
	j.loadCb = cb

	if err := e.submit(j); err != nil {
		jobPool.Destroy()
		cfgPool.Destroy()
		if bridge != nil {
			bridge.Unref()
		}
		return nil, err
	}
	return j, nil
}

// GetOption configures a single Get.
type GetOption func(*getOptions)

type getOptions struct {
	target LogTarget
}

// WithLogTarget delivers the job's log records to target when the Cache
// was created without one.
func WithLogTarget(target LogTarget) GetOption {
	return func(o *getOptions) {
		o.target = target
	}
}

// Get fetches the response for a request on a worker and calls cb on the
// loop. baseURL is used to build links in capabilities documents, pathInfo
// selects the service and query carries the request parameters.
func (c *Cache) Get(baseURL, pathInfo, query string, cb func(error, *Response), opts ...GetOption) (*Job, error) {
	if cb == nil {
		return nil, errors.New("engine: callback is required")
	}
	if c.holders == 0 {
		return nil, ErrReleased
	}

	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := c.engine
	root, err := e.state.Root()
	if err != nil {
		return nil, err
	}
	jobPool, err := root.NewChild()
	if err != nil {
		return nil, fmt.Errorf("could not create the request context: %w", err)
	}

	bridge := c.bridge
	if bridge != nil {
		bridge.Ref()
	} else if o.target != nil {
		bridge = NewLogBridge(e.loop, o.target)
	}

	j := e.newJob(model.KindFetch, jobPool, bridge)
	j.cache = c
	j.name = c.name
	j.cfg = c.cfg
	j.baseURL = baseURL
	j.pathInfo = pathInfo
	j.query = query
	j.fetchCb = cb

	c.pins++
	if err := e.submit(j); err != nil {
		c.pins--
		jobPool.Destroy()
		if bridge != nil {
			bridge.Unref()
		}
		return nil, err
	}
	return j, nil
}

// Ref adds a reference held by the embedder.
func (c *Cache) Ref() {
	if c.holders == 0 {
		panic("engine: Ref on a released Cache")
	}
	c.holders++
}

// Release drops a reference held by the embedder. The configuration is torn
// down once no references and no jobs remain.
func (c *Cache) Release() {
	if c.holders == 0 {
		panic("engine: Release on a released Cache")
	}
	c.holders--
	c.maybeTeardown()
}

func (c *Cache) unpin() {
	c.pins--
	c.maybeTeardown()
}

func (c *Cache) maybeTeardown() {
	if c.holders > 0 || c.pins > 0 || c.pool == nil {
		return
	}
	if c.bridge != nil {
		c.bridge.Unref()
		c.bridge = nil
	}
	c.pool.Destroy()
	c.pool = nil
	c.cfg = nil
	cachesLive.Dec()
	c.engine.logger.Debug("cache released", "cache", c.name)
}

// Refs returns the number of embedder references plus pinning jobs.
func (c *Cache) Refs() int {
	return c.holders + c.pins
}

// Released reports whether every embedder reference has been released.
func (c *Cache) Released() bool {
	return c.holders == 0
}

// Name returns the path of the configuration file the Cache was loaded from.
func (c *Cache) Name() string {
	return c.name
}

// Config returns the parsed configuration, or nil once torn down.
func (c *Cache) Config() *tilecache.Config {
	return c.cfg
}
