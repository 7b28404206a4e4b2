package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe_Success(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","uptime":42}`))
	})

	res := NewWithHTTPClient(srv.Client(), time.Second).Probe(context.Background(), srv.URL)
	if res.Status != "ok" {
		t.Errorf("Status: got %q, want ok", res.Status)
	}
	if res.Uptime == nil || *res.Uptime != 42 {
		t.Errorf("Uptime: got %v, want 42", res.Uptime)
	}
	if res.Failed() {
		t.Error("Failed(): got true for a successful probe")
	}
}

func TestProbe_NonOKStatus(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
	})

	res := NewWithHTTPClient(srv.Client(), time.Second).Probe(context.Background(), srv.URL)
	if res.Status != "error" {
		t.Errorf("Status: got %q, want error", res.Status)
	}
	if res.Error != "API error: HTTP 503" {
		t.Errorf("Error: got %q", res.Error)
	}
}

func TestProbe_InvalidJSON(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>hello</html>`))
	})

	res := NewWithHTTPClient(srv.Client(), time.Second).Probe(context.Background(), srv.URL)
	if res.Error != ReasonBadJSON {
		t.Errorf("Error: got %q, want %q", res.Error, ReasonBadJSON)
	}
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	start := time.Now()
	res := NewWithHTTPClient(srv.Client(), 50*time.Millisecond).Probe(context.Background(), srv.URL)
	if res.Error != ReasonTimeout {
		t.Errorf("Error: got %q, want %q", res.Error, ReasonTimeout)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe took %v, timeout not applied", elapsed)
	}
}

func TestProbe_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := New(Options{Timeout: time.Second}).Probe(context.Background(), url)
	if res.Error != ReasonConnection {
		t.Errorf("Error: got %q, want %q", res.Error, ReasonConnection)
	}
}
