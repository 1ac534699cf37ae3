package api

import (
	"net/http"

	"github.com/seantiz/mapbridge/internal/engine"
)

type tileResult struct {
	resp *engine.Response
	err  error
}

// handleTile answers every non-API request through the loaded cache. The
// handler never touches the cache itself: it posts to the engine loop and
// waits for the callback.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "no cache loaded", http.StatusServiceUnavailable)
		return
	}

	baseURL := s.baseURL
	if baseURL == "" {
		baseURL = requestBaseURL(r)
	}
	pathInfo := r.URL.Path
	if pathInfo == "" {
		pathInfo = "/"
	}
	query := r.URL.RawQuery

	done := make(chan tileResult, 1)
	s.engine.Loop().Post(func() {
		_, err := s.cache.Get(baseURL, pathInfo, query, func(err error, resp *engine.Response) {
			done <- tileResult{resp: resp, err: err}
		})
		if err != nil {
			done <- tileResult{err: err}
		}
	})

	var res tileResult
	select {
	case res = <-done:
	case <-r.Context().Done():
		return
	}

	if res.err != nil {
		s.logger.Error("serve tile request", "path", pathInfo, "error", res.err)
		http.Error(w, res.err.Error(), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	for k, vs := range res.resp.Headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	w.WriteHeader(res.resp.Code)
	if r.Method != http.MethodHead {
		if _, err := w.Write(res.resp.Data); err != nil {
			s.logger.Debug("write tile response", "path", pathInfo, "error", err)
		}
	}
}

// requestBaseURL rebuilds the URL the client used to reach the server.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + "/"
}
