package engine

import (
	"bytes"
	"time"

	"github.com/seantiz/mapbridge/internal/tilecache"
)

// Response is the result of a fetch job, copied out of the job's pool.
type Response struct {
	Code    int                 `json:"code"`
	Mtime   *time.Time          `json:"mtime,omitempty"`
	Data    []byte              `json:"data,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
}

// convertResponse copies r into loop-owned memory. Repeated header names
// accumulate their values in order.
func convertResponse(r *tilecache.HTTPResponse) *Response {
	out := &Response{Code: r.Code}
	if !r.Mtime.IsZero() {
		mtime := r.Mtime
		out.Mtime = &mtime
	}
	if len(r.Data) > 0 {
		out.Data = bytes.Clone(r.Data)
	}
	if r.Headers != nil && r.Headers.Len() > 0 {
		out.Headers = make(map[string][]string, r.Headers.Len())
		for _, h := range r.Headers.Entries() {
			out.Headers[h.Key] = append(out.Headers[h.Key], h.Value)
		}
	}
	return out
}
