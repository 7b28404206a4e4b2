package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/alerts"
	"github.com/infradash/infradash/server/internal/api"
	"github.com/infradash/infradash/server/internal/config"
	"github.com/infradash/infradash/server/internal/health"
	"github.com/infradash/infradash/server/internal/registry"
)

// --- test helpers -----------------------------------------------------------

// fakeProber marks every API whose base URL contains "down" as failing.
type fakeProber struct{ calls atomic.Int64 }

func (p *fakeProber) Probe(_ context.Context, url string) types.ProbeResult {
	p.calls.Add(1)
	if strings.Contains(url, "down") {
		return types.ProbeError("Connection failed")
	}
	if strings.HasSuffix(url, "/liveness") {
		return types.ProbeResult{Status: "ok"}
	}
	return types.ProbeResult{Status: "ready"}
}

const testAPIs = "infractions:http://up.local:8000:local,oathkeeper:https://down.example.com:production:SECRET"

func newHandler(t *testing.T, cfg string, opts ...func(*api.Deps)) (*api.Handler, *fakeProber, *registry.Registry) {
	t.Helper()
	reg := registry.New(cfg)
	p := &fakeProber{}
	deps := api.Deps{
		Registry: reg,
		Monitor:  health.NewMonitor(reg, p, health.Options{}),
		Defaults: func() config.DefaultsConfig { return config.DefaultsConfig{Tenant: "acme", Language: "fr"} },
	}
	for _, o := range opts {
		o(&deps)
	}
	return api.New(deps), p, reg
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/config, ping, self health -----------------------------------------

func TestConfig(t *testing.T) {
	h, _, _ := newHandler(t, testAPIs)
	rr := get(t, h, "/api/config")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.ConfigResponse
	decode(t, rr, &resp)

	if len(resp.APIs) != 2 {
		t.Fatalf("apis: got %d, want 2", len(resp.APIs))
	}
	o := resp.APIs[1]
	if o.Name != "oathkeeper" || o.Label != "production" || !o.RequiresAuth {
		t.Errorf("second api: %+v", o)
	}
	if resp.Defaults.Tenant != "acme" || resp.Defaults.Language != "fr" {
		t.Errorf("defaults: %+v", resp.Defaults)
	}
}

func TestConfig_Empty(t *testing.T) {
	h, _, _ := newHandler(t, "")
	rr := get(t, h, "/api/config")
	if !strings.Contains(rr.Body.String(), `"apis":[]`) {
		t.Errorf("want empty apis array, got %s", rr.Body.String())
	}
}

func TestConfig_DefaultsFallback(t *testing.T) {
	reg := registry.New("")
	h := api.New(api.Deps{Registry: reg, Monitor: health.NewMonitor(reg, &fakeProber{}, health.Options{})})
	var resp api.ConfigResponse
	decode(t, get(t, h, "/api/config"), &resp)
	if resp.Defaults.Tenant != "business" || resp.Defaults.Language != "en" {
		t.Errorf("defaults: %+v", resp.Defaults)
	}
}

func TestPing(t *testing.T) {
	h, _, _ := newHandler(t, "")
	var resp api.MessageResponse
	decode(t, get(t, h, "/api/ping"), &resp)
	if resp.Message == "" {
		t.Error("message: empty")
	}
}

func TestSelfHealth(t *testing.T) {
	h, _, _ := newHandler(t, "")

	var live api.LivenessResponse
	decode(t, get(t, h, "/liveness"), &live)
	if live.Status != "ok" || live.Service != api.ServiceName || live.Timestamp == "" {
		t.Errorf("liveness: %+v", live)
	}

	var ready api.ReadinessResponse
	decode(t, get(t, h, "/readiness"), &ready)
	if ready.Status != "ready" || ready.Checks["registry"] != "empty" {
		t.Errorf("readiness: %+v", ready)
	}
}

func TestDocsRedirect(t *testing.T) {
	h, _, _ := newHandler(t, testAPIs)
	rr := get(t, h, "/api/infractions/docs")
	if rr.Code != http.StatusFound {
		t.Fatalf("status: got %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/api/infractions/openapi.json" {
		t.Errorf("Location: got %q", loc)
	}
}

// --- proxy mounting ---------------------------------------------------------

func TestProxyRoutes(t *testing.T) {
	var seen []string
	proxy := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.PathValue("apiname")+" "+r.PathValue("path"))
		w.WriteHeader(http.StatusTeapot)
	})
	h, _, _ := newHandler(t, testAPIs, func(d *api.Deps) { d.Proxy = proxy })

	do(t, h, http.MethodGet, "/api/infractions")
	do(t, h, http.MethodPost, "/api/infractions/records/42")
	do(t, h, http.MethodPost, "/api/config")

	want := []string{"GET infractions ", "POST infractions records/42", "POST config "}
	if len(seen) != len(want) {
		t.Fatalf("proxy calls: got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("call %d: got %q, want %q", i, seen[i], want[i])
		}
	}

	if rr := get(t, h, "/api/config"); rr.Code != http.StatusOK {
		t.Errorf("GET /api/config must not reach the proxy, got %d", rr.Code)
	}
}

// --- /dashboard/v1/apis -----------------------------------------------------

func TestListAPIs(t *testing.T) {
	h, p, _ := newHandler(t, testAPIs)
	rr := get(t, h, "/dashboard/v1/apis")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var out []api.APIStatusResponse
	decode(t, rr, &out)

	if len(out) != 2 {
		t.Fatalf("apis: got %d, want 2", len(out))
	}
	if out[0].Status != types.StatusHealthy || out[1].Status != types.StatusUnhealthy {
		t.Errorf("statuses: %s, %s", out[0].Status, out[1].Status)
	}
	if out[0].Diagnostics[0].Key != "healthy" {
		t.Errorf("healthy diagnostics: %+v", out[0].Diagnostics)
	}
	if out[1].Diagnostics[0].Level != "critical" {
		t.Errorf("unhealthy diagnostics: %+v", out[1].Diagnostics)
	}
	if n := p.calls.Load(); n != 4 {
		t.Errorf("probes: got %d, want 4", n)
	}

	// Second call is served from cache.
	get(t, h, "/dashboard/v1/apis")
	if n := p.calls.Load(); n != 4 {
		t.Errorf("probes after cached call: got %d, want 4", n)
	}
}

func TestListAPIs_CachedNeverProbes(t *testing.T) {
	h, p, _ := newHandler(t, testAPIs)
	var out []api.APIStatusResponse
	decode(t, get(t, h, "/dashboard/v1/apis?cached=1"), &out)

	if p.calls.Load() != 0 {
		t.Errorf("cached view probed %d times", p.calls.Load())
	}
	for _, st := range out {
		if st.Status != types.StatusUnknown || st.Health != nil {
			t.Errorf("%s: want unknown without health, got %+v", st.ID, st.APIStatus)
		}
		if st.Diagnostics[0].Key != "not_checked" {
			t.Errorf("%s diagnostics: %+v", st.ID, st.Diagnostics)
		}
	}
}

func TestGetAPI(t *testing.T) {
	h, _, reg := newHandler(t, testAPIs)
	id := reg.All()[0].ID

	rr := get(t, h, "/dashboard/v1/apis/"+id)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var st api.APIStatusResponse
	decode(t, rr, &st)
	if st.ID != id || st.Status != types.StatusHealthy || st.Health == nil {
		t.Errorf("status: %+v", st.APIStatus)
	}
}

func TestGetAPI_Unknown(t *testing.T) {
	h, p, _ := newHandler(t, testAPIs)
	rr := get(t, h, "/dashboard/v1/apis/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	if p.calls.Load() != 0 {
		t.Error("unknown id must not probe")
	}
}

func TestClearCache(t *testing.T) {
	h, p, _ := newHandler(t, testAPIs)
	get(t, h, "/dashboard/v1/apis")

	rr := do(t, h, http.MethodDelete, "/dashboard/v1/cache")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rr.Code)
	}
	get(t, h, "/dashboard/v1/apis")
	if n := p.calls.Load(); n != 8 {
		t.Errorf("probes after clear: got %d, want 8", n)
	}
}

func TestSummary(t *testing.T) {
	engine := alerts.New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "down", Condition: "status == unhealthy"},
	}})
	h, _, _ := newHandler(t, testAPIs, func(d *api.Deps) {
		d.Alerts = engine
		d.Monitor.Subscribe(engine)
	})

	var before api.SummaryResponse
	decode(t, get(t, h, "/dashboard/v1/summary"), &before)
	if before.State != "unknown" || before.UnknownCount != 2 {
		t.Errorf("before probing: %+v", before)
	}

	get(t, h, "/dashboard/v1/apis")

	var after api.SummaryResponse
	decode(t, get(t, h, "/dashboard/v1/summary"), &after)
	if after.State != "unhealthy" || after.HealthyCount != 1 || after.UnhealthyCount != 1 || after.AlertCount != 1 {
		t.Errorf("after probing: %+v", after)
	}

	var active []alerts.Alert
	decode(t, get(t, h, "/dashboard/v1/alerts"), &active)
	if len(active) != 1 || active[0].APIName != "oathkeeper" {
		t.Errorf("alerts: %+v", active)
	}
}

func TestOptionalComponents_EmptyLists(t *testing.T) {
	h, _, _ := newHandler(t, testAPIs)
	for _, path := range []string{"/dashboard/v1/alerts", "/dashboard/v1/certs"} {
		rr := get(t, h, path)
		if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
			t.Errorf("%s: got %d %s", path, rr.Code, rr.Body.String())
		}
	}
	if rr := get(t, h, "/dashboard/v1/apis/x/openapi"); rr.Code != http.StatusNotFound {
		t.Errorf("openapi without catalog: got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newHandler(t, testAPIs)
	if rr := do(t, h, http.MethodPost, "/dashboard/v1/apis"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}
