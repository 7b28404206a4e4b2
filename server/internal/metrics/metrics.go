package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/infradash/infradash/pkg/types"
)

const namespace = "infradash"

type probeKey struct{ api, kind string }

type probeStats struct {
	ok, failed uint64
	sum        float64
}

type proxyKey struct {
	api  string
	code int
}

type upKey struct{ id, name string }

// Registry holds all collected values. It is safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	probes      map[probeKey]*probeStats
	cacheHits   uint64
	cacheMisses uint64
	proxy       map[proxyKey]uint64
	up          map[upKey]float64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		probes: make(map[probeKey]*probeStats),
		proxy:  make(map[proxyKey]uint64),
		up:     make(map[upKey]float64),
	}
}

// ProbeCompleted records one liveness or readiness probe.
func (r *Registry) ProbeCompleted(apiID, kind string, failed bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := probeKey{apiID, kind}
	s, ok := r.probes[k]
	if !ok {
		s = &probeStats{}
		r.probes[k] = s
	}
	if failed {
		s.failed++
	} else {
		s.ok++
	}
	s.sum += d.Seconds()
}

// CacheLookup records a health cache hit or miss.
func (r *Registry) CacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
}

// ProxyRequest records one proxied request and the status code returned to the client.
func (r *Registry) ProxyRequest(api string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxy[proxyKey{api, code}]++
}

// Observe records the latest verdict of an API. Unknown verdicts are skipped.
func (r *Registry) Observe(st types.APIStatus) {
	var v float64
	switch st.Status {
	case types.StatusHealthy:
		v = 1
	case types.StatusUnhealthy:
		v = 0
	default:
		return
	}
	r.mu.Lock()
	r.up[upKey{st.ID, st.Name}] = v
	r.mu.Unlock()
}

// Forget drops the api_up series of every id not in keep, e.g. after a config reload.
func (r *Registry) Forget(keep map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.up {
		if !keep[k.id] {
			delete(r.up, k)
		}
	}
}

// Gather snapshots the registry into metric families sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	probeTotal := family("probe_total", "Health probes issued, by api, kind and result.", dto.MetricType_COUNTER)
	probeDur := family("probe_duration_seconds", "Health probe latency.", dto.MetricType_SUMMARY)
	for k, s := range r.probes {
		probeTotal.Metric = append(probeTotal.Metric,
			counter(float64(s.ok), "api", k.api, "kind", k.kind, "result", "ok"),
			counter(float64(s.failed), "api", k.api, "kind", k.kind, "result", "error"),
		)
		probeDur.Metric = append(probeDur.Metric, &dto.Metric{
			Label: labels("api", k.api, "kind", k.kind),
			Summary: &dto.Summary{
				SampleCount: proto.Uint64(s.ok + s.failed),
				SampleSum:   proto.Float64(s.sum),
			},
		})
	}

	cache := family("health_cache_lookups_total", "Health cache lookups, by result.", dto.MetricType_COUNTER)
	cache.Metric = append(cache.Metric,
		counter(float64(r.cacheHits), "result", "hit"),
		counter(float64(r.cacheMisses), "result", "miss"),
	)

	proxy := family("proxy_requests_total", "Proxied requests, by api and response code.", dto.MetricType_COUNTER)
	for k, n := range r.proxy {
		proxy.Metric = append(proxy.Metric, counter(float64(n), "api", k.api, "code", strconv.Itoa(k.code)))
	}

	up := family("api_up", "Whether the API passed its last health check.", dto.MetricType_GAUGE)
	for k, v := range r.up {
		up.Metric = append(up.Metric, &dto.Metric{
			Label: labels("api", k.id, "name", k.name),
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		})
	}

	out := []*dto.MetricFamily{up, cache, probeDur, probeTotal, proxy}
	kept := out[:0]
	for _, mf := range out {
		if len(mf.Metric) == 0 {
			continue
		}
		sortMetrics(mf.Metric)
		kept = append(kept, mf)
	}
	return kept
}

// WriteText encodes every family in the Prometheus text format.
func (r *Registry) WriteText(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range r.Gather() {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ServeHTTP serves GET /metrics.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := r.WriteText(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// --- helpers ----------------------------------------------------------------

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(namespace + "_" + name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

func counter(v float64, kv ...string) *dto.Metric {
	return &dto.Metric{
		Label:   labels(kv...),
		Counter: &dto.Counter{Value: proto.Float64(v)},
	}
}

func labels(kv ...string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	return out
}

// sortMetrics orders metrics by their label values so output is stable.
func sortMetrics(ms []*dto.Metric) {
	key := func(m *dto.Metric) string {
		var s string
		for _, lp := range m.GetLabel() {
			s += lp.GetValue() + "\xff"
		}
		return s
	}
	sort.Slice(ms, func(i, j int) bool { return key(ms[i]) < key(ms[j]) })
}
