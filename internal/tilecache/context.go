package tilecache

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/seantiz/mapbridge/internal/pool"
)

// defaultSourceTimeout bounds every upstream request made on behalf of a
// context that was not given its own client.
const defaultSourceTimeout = 30 * time.Second

var defaultClient = &http.Client{Timeout: defaultSourceTimeout}

// LogFunc receives the log records a Context emits.
type LogFunc func(level Level, message string)

// Context carries the per-request state of one call into the library: the
// pool its allocations come from, the error flag, and the log sink.
type Context struct {
	pool    *pool.Pool
	log     LogFunc
	client  *http.Client
	config  *Config
	service Service

	errCode int
	errMsg  string
}

// NewContext creates a context allocating from p. A nil log discards
// records.
func NewContext(p *pool.Pool, log LogFunc) (*Context, error) {
	if p == nil {
		return nil, errors.New("tilecache: nil pool")
	}
	if p.Destroyed() {
		return nil, pool.ErrDestroyed
	}
	return &Context{pool: p, log: log, client: defaultClient}, nil
}

// Pool returns the pool the context allocates from.
func (c *Context) Pool() *pool.Pool {
	return c.pool
}

// SetHTTPClient replaces the client used to reach upstream sources.
func (c *Context) SetHTTPClient(client *http.Client) {
	c.client = client
}

// HTTPClient returns the client used to reach upstream sources.
func (c *Context) HTTPClient() *http.Client {
	return c.client
}

// Service returns the service the last dispatched request was routed to.
func (c *Context) Service() Service {
	return c.service
}

// SetError raises the error flag. The first error wins; later calls are
// ignored until ClearErrors.
func (c *Context) SetError(code int, format string, args ...any) {
	if c.errCode != 0 {
		return
	}
	if code == 0 {
		code = http.StatusInternalServerError
	}
	c.errCode = code
	c.errMsg = c.pool.Strdup(fmt.Sprintf(format, args...))
}

// HasError reports whether the error flag is raised.
func (c *Context) HasError() bool {
	return c.errCode != 0
}

// ErrorCode returns the HTTP status of the raised error, or 0.
func (c *Context) ErrorCode() int {
	return c.errCode
}

// ErrorMessage returns the message of the raised error.
func (c *Context) ErrorMessage() string {
	return c.errMsg
}

// ClearErrors lowers the error flag.
func (c *Context) ClearErrors() {
	c.errCode = 0
	c.errMsg = ""
}

// Logf formats and emits a log record.
func (c *Context) Logf(level Level, format string, args ...any) {
	if c.log == nil {
		return
	}
	c.log(level, fmt.Sprintf(format, args...))
}

// Clone returns a context sharing c's log sink and client that allocates
// from a new child of c's pool. The clone starts without an error.
func (c *Context) Clone() (*Context, error) {
	child, err := c.pool.NewChild()
	if err != nil {
		return nil, err
	}
	return &Context{pool: child, log: c.log, client: c.client, config: c.config, service: c.service}, nil
}
