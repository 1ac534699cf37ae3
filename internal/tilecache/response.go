package tilecache

import (
	"net/http"
	"strconv"
	"time"
)

// HTTPResponse is the payload a response builder produces. Data is
// allocated from the request pool and is only valid until that pool is
// destroyed.
type HTTPResponse struct {
	Code    int
	Mtime   time.Time
	Data    []byte
	Headers *Table
}

func newResponse(ctx *Context, code int, contentType string, body []byte) *HTTPResponse {
	r := &HTTPResponse{Code: code, Headers: NewTable()}
	if contentType != "" {
		r.Headers.Set("Content-Type", contentType)
	}
	if len(body) > 0 {
		r.Data = ctx.pool.CopyBytes(body)
		r.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return r
}

// setMtime records mtime on the response and emits Last-Modified.
func (r *HTTPResponse) setMtime(mtime time.Time) {
	if mtime.IsZero() {
		return
	}
	r.Mtime = mtime.UTC().Truncate(time.Second)
	r.Headers.Set("Last-Modified", r.Mtime.Format(http.TimeFormat))
}

// setExpires emits Cache-Control and Expires for a tile valid for the given
// number of seconds.
func (r *HTTPResponse) setExpires(seconds int, now time.Time) {
	if seconds <= 0 {
		return
	}
	r.Headers.Set("Cache-Control", "max-age="+strconv.Itoa(seconds))
	r.Headers.Set("Expires", now.Add(time.Duration(seconds)*time.Second).UTC().Format(http.TimeFormat))
}
