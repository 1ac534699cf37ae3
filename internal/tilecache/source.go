package tilecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxUpstreamBody bounds how much of an upstream response is read.
const maxUpstreamBody = 32 << 20

// Source is an upstream WMS server tiles are rendered from.
type Source struct {
	Name        string
	URL         string
	Params      *Table
	InfoFormats []string
	InfoParams  *Table
	Timeout     time.Duration
}

func parseSource(xs *xmlSource) (*Source, error) {
	if xs.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	raw := strings.TrimSpace(xs.HTTP.URL)
	if raw == "" {
		return nil, fmt.Errorf("missing <http><url>")
	}
	if _, err := url.Parse(raw); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}

	src := &Source{
		Name:       xs.Name,
		URL:        raw,
		Params:     NewTable(),
		InfoParams: NewTable(),
	}
	if xs.HTTP.Timeout > 0 {
		src.Timeout = time.Duration(xs.HTTP.Timeout) * time.Second
	}
	for _, e := range xs.GetMap.Params.Elems {
		src.Params.Set(e.XMLName.Local, strings.TrimSpace(e.Value))
	}
	for _, e := range xs.GetFeatureInfo.Params.Elems {
		src.InfoParams.Set(e.XMLName.Local, strings.TrimSpace(e.Value))
	}
	for _, f := range strings.Split(xs.GetFeatureInfo.InfoFormats, ",") {
		if f = strings.TrimSpace(f); f != "" {
			src.InfoFormats = append(src.InfoFormats, f)
		}
	}
	if !src.Params.Has("LAYERS") {
		return nil, fmt.Errorf("<getmap><params> requires LAYERS")
	}
	return src, nil
}

// upstreamResponse is what an HTTP round trip to a source produced.
type upstreamResponse struct {
	code        int
	contentType string
	body        []byte
}

// Render issues a GetMap for bbox and returns the image. Failures raise the
// error flag on ctx.
func (s *Source) Render(ctx *Context, srs string, bbox Extent, width, height int, format *Format) *upstreamResponse {
	q := NewTable()
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.1.1")
	q.Set("REQUEST", "GetMap")
	q.Set("STYLES", "")
	q.Set("SRS", srs)
	q.Set("BBOX", bbox.String())
	q.Set("WIDTH", strconv.Itoa(width))
	q.Set("HEIGHT", strconv.Itoa(height))
	q.Set("FORMAT", format.MimeType)
	for _, e := range s.Params.Entries() {
		q.Set(e.Key, e.Value)
	}

	resp := s.get(ctx, s.URL, q)
	if resp == nil {
		return nil
	}
	if resp.code != http.StatusOK {
		ctx.SetError(http.StatusBadGateway, "source %s returned status %d", s.Name, resp.code)
		return nil
	}
	if !strings.HasPrefix(resp.contentType, "image/") && resp.contentType != format.MimeType {
		ctx.SetError(http.StatusBadGateway, "source %s returned %s instead of an image: %.200s",
			s.Name, resp.contentType, resp.body)
		return nil
	}
	return resp
}

// Query issues a GetFeatureInfo for pixel i, j of the bbox rendering.
func (s *Source) Query(ctx *Context, srs string, bbox Extent, width, height, i, j int, infoFormat string) *upstreamResponse {
	if len(s.InfoFormats) > 0 && !containsFold(s.InfoFormats, infoFormat) {
		ctx.SetError(http.StatusBadRequest, "source %s does not support info format %s", s.Name, infoFormat)
		return nil
	}

	q := NewTable()
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.1.1")
	q.Set("REQUEST", "GetFeatureInfo")
	q.Set("STYLES", "")
	q.Set("SRS", srs)
	q.Set("BBOX", bbox.String())
	q.Set("WIDTH", strconv.Itoa(width))
	q.Set("HEIGHT", strconv.Itoa(height))
	q.Set("X", strconv.Itoa(i))
	q.Set("Y", strconv.Itoa(j))
	q.Set("INFO_FORMAT", infoFormat)
	for _, e := range s.Params.Entries() {
		q.Set(e.Key, e.Value)
	}
	q.Set("QUERY_LAYERS", s.Params.Get("LAYERS"))
	for _, e := range s.InfoParams.Entries() {
		q.Set(e.Key, e.Value)
	}

	resp := s.get(ctx, s.URL, q)
	if resp != nil && resp.code != http.StatusOK {
		ctx.SetError(http.StatusBadGateway, "source %s returned status %d", s.Name, resp.code)
		return nil
	}
	return resp
}

func (s *Source) get(ctx *Context, base string, q *Table) *upstreamResponse {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultSourceTimeout
	}
	resp, err := fetch(ctx, base, q, timeout)
	if err != nil {
		ctx.SetError(http.StatusBadGateway, "source %s: %v", s.Name, err)
		return nil
	}
	return resp
}

// fetch performs a GET of base with q appended to its query string.
func fetch(ctx *Context, base string, q *Table, timeout time.Duration) (*upstreamResponse, error) {
	target := base
	if encoded := encodeTable(q); encoded != "" {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
			if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
				sep = ""
			}
		}
		target = base + sep + encoded
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	ctx.Logf(LevelDebug, "requesting %s", target)

	resp, err := ctx.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &upstreamResponse{
		code:        resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

// encodeTable renders t as a query string, keeping entry order.
func encodeTable(t *Table) string {
	var b strings.Builder
	for i, e := range t.Entries() {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(e.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(e.Value))
	}
	return b.String()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
