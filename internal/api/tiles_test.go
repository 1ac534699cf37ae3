package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTileEndpointCapabilities(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/wmts?SERVICE=WMTS&REQUEST=GetCapabilities")
	if err != nil {
		t.Fatalf("GET /wmts: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/xml" {
		t.Errorf("Content-Type = %q, want application/xml", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Capabilities") {
		t.Errorf("body is not a capabilities document: %.200s", body)
	}
	if !strings.Contains(string(body), ts.URL) {
		t.Errorf("capabilities do not advertise the request base URL %s", ts.URL)
	}
}

func TestTileEndpointHeadOmitsBody(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Head(ts.URL + "/wmts?SERVICE=WMTS&REQUEST=GetCapabilities")
	if err != nil {
		t.Fatalf("HEAD /wmts: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		t.Errorf("Content-Length = %d, want the size of the document", resp.ContentLength)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("HEAD returned %d body bytes", len(body))
	}
}

func TestTileEndpointUnknownService(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/nope/1/2/3.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "unknown service nope") {
		t.Errorf("body = %q", body)
	}
}

func TestTileEndpointWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	srv := NewServer(":0", env.store, env.srv.engine, nil, env.srv.logger)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/wmts")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRequestBaseURL(t *testing.T) {
	r := httptest.NewRequest("GET", "http://tiles.example.com/wmts", nil)
	if got := requestBaseURL(r); got != "http://tiles.example.com/" {
		t.Errorf("requestBaseURL = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "https")
	if got := requestBaseURL(r); got != "https://tiles.example.com/" {
		t.Errorf("requestBaseURL behind proxy = %q", got)
	}
}
