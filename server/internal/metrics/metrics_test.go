package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/infradash/infradash/pkg/types"
)

func parse(t *testing.T, b []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, b)
	}
	return mfs
}

func value(mf *dto.MetricFamily, kv ...string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		match := true
		for i := 0; i+1 < len(kv); i += 2 {
			found := false
			for _, lp := range m.GetLabel() {
				if lp.GetName() == kv[i] && lp.GetValue() == kv[i+1] {
					found = true
				}
			}
			match = match && found
		}
		if !match {
			continue
		}
		switch {
		case m.Counter != nil:
			return m.Counter.GetValue(), true
		case m.Gauge != nil:
			return m.Gauge.GetValue(), true
		case m.Summary != nil:
			return float64(m.Summary.GetSampleCount()), true
		}
	}
	return 0, false
}

func TestWriteText_RoundTrip(t *testing.T) {
	r := New()
	r.ProbeCompleted("a-1", "liveness", false, 20*time.Millisecond)
	r.ProbeCompleted("a-1", "liveness", true, 5*time.Second)
	r.ProbeCompleted("a-1", "readiness", false, 10*time.Millisecond)
	r.CacheLookup(true)
	r.CacheLookup(false)
	r.CacheLookup(false)
	r.ProxyRequest("infractions", 200)
	r.ProxyRequest("infractions", 200)
	r.ProxyRequest("unknown", 404)
	r.Observe(types.APIStatus{APIDescriptor: types.APIDescriptor{ID: "a-1", Name: "a"}, Status: types.StatusHealthy})

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	mfs := parse(t, buf.Bytes())

	if v, _ := value(mfs["infradash_probe_total"], "api", "a-1", "kind", "liveness", "result", "error"); v != 1 {
		t.Errorf("probe_total{liveness,error}: got %v, want 1", v)
	}
	if v, _ := value(mfs["infradash_probe_duration_seconds"], "api", "a-1", "kind", "liveness"); v != 2 {
		t.Errorf("probe_duration count: got %v, want 2", v)
	}
	if v, _ := value(mfs["infradash_health_cache_lookups_total"], "result", "miss"); v != 2 {
		t.Errorf("cache misses: got %v, want 2", v)
	}
	if v, _ := value(mfs["infradash_proxy_requests_total"], "api", "infractions", "code", "200"); v != 2 {
		t.Errorf("proxy 200: got %v, want 2", v)
	}
	if v, ok := value(mfs["infradash_api_up"], "api", "a-1"); !ok || v != 1 {
		t.Errorf("api_up: got %v (present=%v), want 1", v, ok)
	}
}

func TestObserve_UnknownSkippedAndForget(t *testing.T) {
	r := New()
	r.Observe(types.APIStatus{APIDescriptor: types.APIDescriptor{ID: "x"}, Status: types.StatusUnknown})
	r.Observe(types.APIStatus{APIDescriptor: types.APIDescriptor{ID: "y"}, Status: types.StatusUnhealthy})
	if len(r.up) != 1 {
		t.Fatalf("up series: got %d, want 1", len(r.up))
	}
	r.Forget(map[string]bool{})
	if len(r.up) != 0 {
		t.Errorf("up series after Forget: got %d, want 0", len(r.up))
	}
}

func TestGather_SkipsEmptyFamilies(t *testing.T) {
	r := New()
	for _, mf := range r.Gather() {
		if mf.GetName() != "infradash_health_cache_lookups_total" {
			t.Errorf("unexpected family %q on empty registry", mf.GetName())
		}
	}
}

func TestServeHTTP(t *testing.T) {
	r := New()
	r.CacheLookup(true)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	mfs := parse(t, rr.Body.Bytes())
	if _, ok := mfs["infradash_health_cache_lookups_total"]; !ok {
		t.Error("cache family missing from /metrics")
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status: got %d, want 405", rr.Code)
	}
}
