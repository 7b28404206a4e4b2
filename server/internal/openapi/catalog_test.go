package openapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/infradash/infradash/server/internal/registry"
)

const petDoc = `{
  "openapi": "3.0.3",
  "info": {"title": "Infractions API", "version": "1.4.0", "description": "Fines and violations"},
  "servers": [{"url": "https://api.example.com"}],
  "paths": {
    "/api/infractions/records": {
      "get":  {"operationId": "listRecords", "summary": "List records", "tags": ["records"],
               "responses": {"200": {"description": "ok"}}},
      "post": {"operationId": "createRecord", "responses": {"201": {"description": "created"}}}
    },
    "/api/infractions/liveness": {
      "get": {"operationId": "liveness", "deprecated": true, "responses": {"200": {"description": "ok"}}}
    }
  }
}`

func docServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/infractions/openapi.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestSummary(t *testing.T) {
	srv, _ := docServer(t, 200, petDoc)
	reg := registry.New("infractions:" + srv.URL)
	c := NewCatalog(reg, nil, Options{})

	id := reg.All()[0].ID
	s, err := c.Summary(context.Background(), id)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Title != "Infractions API" || s.Version != "1.4.0" || s.OpenAPI != "3.0.3" {
		t.Errorf("info: %+v", s)
	}
	if s.APIID != id || s.Name != "infractions" || s.SpecURL != srv.URL+"/api/infractions/openapi.json" {
		t.Errorf("identity: %+v", s)
	}
	if len(s.Servers) != 1 || s.Servers[0] != "https://api.example.com" {
		t.Errorf("servers: %v", s.Servers)
	}
	if len(s.Operations) != 3 {
		t.Fatalf("operations: got %d, want 3: %+v", len(s.Operations), s.Operations)
	}
	first := s.Operations[0]
	if first.Path != "/api/infractions/liveness" || first.Method != "GET" || !first.Deprecated {
		t.Errorf("first operation: %+v", first)
	}
	if s.Operations[1].Method != "GET" || s.Operations[2].Method != "POST" {
		t.Errorf("operations not sorted by method: %+v", s.Operations)
	}
	if s.Operations[1].OperationID != "listRecords" || s.Operations[1].Tags[0] != "records" {
		t.Errorf("operation details: %+v", s.Operations[1])
	}
	if s.ValidationError != "" {
		t.Errorf("unexpected validation error: %s", s.ValidationError)
	}
}

func TestSummary_Cached(t *testing.T) {
	srv, hits := docServer(t, 200, petDoc)
	reg := registry.New("infractions:" + srv.URL)
	c := NewCatalog(reg, nil, Options{TTL: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	id := reg.All()[0].ID
	for i := 0; i < 3; i++ {
		if _, err := c.Summary(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("fetches within TTL: got %d, want 1", n)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Summary(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("fetches after TTL: got %d, want 2", n)
	}

	c.Invalidate()
	if _, err := c.Summary(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("fetches after Invalidate: got %d, want 3", n)
	}
}

func TestSummary_UnknownAPI(t *testing.T) {
	c := NewCatalog(registry.New(""), nil, Options{})
	if _, err := c.Summary(context.Background(), "nope"); !errors.Is(err, ErrUnknownAPI) {
		t.Errorf("want ErrUnknownAPI, got %v", err)
	}
}

func TestSummary_FetchErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"http error": {500, `{}`},
		"not json":   {200, `<html>`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := docServer(t, tc.status, tc.body)
			reg := registry.New("infractions:" + srv.URL)
			c := NewCatalog(reg, nil, Options{})
			if _, err := c.Summary(context.Background(), reg.All()[0].ID); !errors.Is(err, ErrFetch) {
				t.Errorf("want ErrFetch, got %v", err)
			}
		})
	}
}
