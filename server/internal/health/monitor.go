package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/probe"
	"github.com/infradash/infradash/server/internal/registry"
)

// ErrUnknownAPI is returned when a descriptor id is not registered.
var ErrUnknownAPI = errors.New("unknown api")

// Probe kinds, used in URLs and metrics labels.
const (
	KindLiveness  = "liveness"
	KindReadiness = "readiness"
)

// DefaultMaxConcurrency bounds how many APIs CheckAllHealth probes at once.
const DefaultMaxConcurrency = 16

// Observer receives every APIStatus the monitor computes.
type Observer interface {
	Observe(types.APIStatus)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(types.APIStatus)

// Observe calls f(st).
func (f ObserverFunc) Observe(st types.APIStatus) { f(st) }

// Recorder receives probe and cache instrumentation. metrics.Registry implements it.
type Recorder interface {
	ProbeCompleted(apiID, kind string, failed bool, d time.Duration)
	CacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ProbeCompleted(string, string, bool, time.Duration) {}
func (nopRecorder) CacheLookup(bool)                                   {}

// Options configures a Monitor.
type Options struct {
	// TTL is the cache freshness window (default 30s).
	TTL time.Duration

	// MaxConcurrency bounds parallel APIs in CheckAllHealth (default 16).
	MaxConcurrency int

	// Recorder receives instrumentation; nil disables it.
	Recorder Recorder
}

// Monitor probes registered APIs and caches their health records.
// Monitor is safe for concurrent use.
type Monitor struct {
	registry *registry.Registry
	prober   probe.Prober
	cache    *Cache
	limit    int
	rec      Recorder
	inflight singleflight.Group

	mu        sync.RWMutex
	observers []Observer
}

// NewMonitor creates a Monitor reading descriptors from reg and probing with p.
func NewMonitor(reg *registry.Registry, p probe.Prober, opts Options) *Monitor {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	var rec Recorder = nopRecorder{}
	if opts.Recorder != nil {
		rec = opts.Recorder
	}
	return &Monitor{
		registry: reg,
		prober:   p,
		cache:    NewCache(opts.TTL),
		limit:    opts.MaxConcurrency,
		rec:      rec,
	}
}

// Cache exposes the underlying record cache, e.g. to start its eviction loop.
func (m *Monitor) Cache() *Cache { return m.cache }

// Subscribe registers o to receive every computed APIStatus.
func (m *Monitor) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// CheckHealth returns the health record for the descriptor with the given id,
// from cache when fresh, otherwise by probing. For an unknown id it returns an
// error-shaped record together with ErrUnknownAPI; nothing is cached.
func (m *Monitor) CheckHealth(ctx context.Context, id string) (*types.HealthRecord, error) {
	d, ok := m.registry.ByID(id)
	if !ok {
		return m.unknownRecord(), fmt.Errorf("health: %w: %q", ErrUnknownAPI, id)
	}
	return m.check(ctx, d), nil
}

// Status is CheckHealth plus the verdict. Observers are notified.
func (m *Monitor) Status(ctx context.Context, id string) (types.APIStatus, error) {
	d, ok := m.registry.ByID(id)
	if !ok {
		return types.APIStatus{}, fmt.Errorf("health: %w: %q", ErrUnknownAPI, id)
	}
	st := statusOf(d, m.check(ctx, d))
	m.notify(st)
	return st, nil
}

// CheckAllHealth checks every registered API in parallel and returns one
// APIStatus per descriptor, in registry order. It waits for all of them;
// failures never short-circuit the others.
func (m *Monitor) CheckAllHealth(ctx context.Context) []types.APIStatus {
	apis := m.registry.All()
	out := make([]types.APIStatus, len(apis))

	var g errgroup.Group
	g.SetLimit(m.limit)
	for i, d := range apis {
		g.Go(func() error {
			out[i] = statusOf(d, m.check(ctx, d))
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors

	for _, st := range out {
		m.notify(st)
	}
	return out
}

// Cached returns the fresh cached record for id without probing.
func (m *Monitor) Cached(id string) (*types.HealthRecord, bool) {
	return m.cache.Get(id)
}

// CachedStatuses returns the status of every API using only cached records.
// APIs without a fresh record are reported as unknown.
func (m *Monitor) CachedStatuses() []types.APIStatus {
	apis := m.registry.All()
	out := make([]types.APIStatus, 0, len(apis))
	for _, d := range apis {
		rec, _ := m.cache.Get(d.ID)
		out = append(out, statusOf(d, rec))
	}
	return out
}

// ClearCache drops every cached record; the next check of any API probes.
func (m *Monitor) ClearCache() {
	n := m.cache.Clear()
	slog.Info("health: cache cleared", "records", n)
}

// check serves d from cache or runs one shared probe pair for it.
func (m *Monitor) check(ctx context.Context, d types.APIDescriptor) *types.HealthRecord {
	if rec, ok := m.cache.Get(d.ID); ok {
		m.rec.CacheLookup(true)
		return rec
	}
	m.rec.CacheLookup(false)

	// Probes are shared between callers, so one caller going away must not
	// abort them; each probe is bounded by the prober timeout instead.
	probeCtx := context.WithoutCancel(ctx)
	v, _, _ := m.inflight.Do(d.ID, func() (any, error) {
		if rec, ok := m.cache.Get(d.ID); ok {
			return rec, nil
		}
		rec := m.probePair(probeCtx, d)
		m.cache.Put(d.ID, rec)
		return rec, nil
	})
	return v.(*types.HealthRecord)
}

// probePair runs the liveness and readiness probes concurrently.
func (m *Monitor) probePair(ctx context.Context, d types.APIDescriptor) *types.HealthRecord {
	var (
		g                 errgroup.Group
		live, ready       types.ProbeResult
		liveDur, readyDur time.Duration
	)
	g.Go(func() error {
		live, liveDur = m.timedProbe(ctx, d, KindLiveness)
		return nil
	})
	g.Go(func() error {
		ready, readyDur = m.timedProbe(ctx, d, KindReadiness)
		return nil
	})
	g.Wait() //nolint:errcheck // goroutines never return errors

	rec := &types.HealthRecord{
		Liveness:       live,
		Readiness:      ready,
		FetchedAt:      m.cache.now(),
		ResponseTimeMs: max(liveDur, readyDur).Milliseconds(),
	}
	if !IsHealthy(rec) {
		slog.Warn("health: api unhealthy",
			"api", d.ID,
			"liveness", live.Status,
			"readiness", ready.Status,
			"liveness_error", live.Error,
			"readiness_error", ready.Error,
		)
	}
	return rec
}

func (m *Monitor) timedProbe(ctx context.Context, d types.APIDescriptor, kind string) (types.ProbeResult, time.Duration) {
	start := time.Now()
	res := m.prober.Probe(ctx, ProbeURL(d, kind))
	elapsed := time.Since(start)
	m.rec.ProbeCompleted(d.ID, kind, res.Failed(), elapsed)
	return res, elapsed
}

func (m *Monitor) notify(st types.APIStatus) {
	m.mu.RLock()
	obs := m.observers
	m.mu.RUnlock()
	for _, o := range obs {
		o.Observe(st)
	}
}

func (m *Monitor) unknownRecord() *types.HealthRecord {
	return &types.HealthRecord{
		Liveness:  types.ProbeError("Unknown API"),
		Readiness: types.ProbeError("Unknown API"),
		FetchedAt: m.cache.now(),
	}
}

// ProbeURL builds the upstream health URL of d for kind.
func ProbeURL(d types.APIDescriptor, kind string) string {
	return d.BaseURL + "/api/" + d.Name + "/" + kind
}

func statusOf(d types.APIDescriptor, rec *types.HealthRecord) types.APIStatus {
	st := types.APIStatus{
		APIDescriptor: d,
		Status:        Verdict(rec),
		Health:        rec,
	}
	if rec != nil {
		st.LastChecked = rec.FetchedAt
	}
	return st
}
