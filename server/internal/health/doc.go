// Package health implements the health monitor: for every registered API it
// probes GET {baseUrl}/api/{name}/liveness and /readiness concurrently, caches
// the combined record per descriptor id for a TTL (30s by default), and derives
// a healthy/unhealthy verdict.
//
// Failed probes are cached exactly like successful ones, so a failing upstream
// is probed at most once per TTL. Concurrent cache misses for the same id share
// one probe pair. CheckAllHealth settles every API independently: one slow or
// failing upstream never affects the result of another.
//
// Cache (cache.go) is the TTL store; Run evicts expired entries in the
// background. Observers registered with Subscribe receive every computed
// APIStatus (alerts engine, gRPC health service).
package health
