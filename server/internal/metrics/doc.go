// Package metrics collects infradash's own counters and exposes them in the
// Prometheus text format on GET /metrics.
//
// Families:
//
//	infradash_probe_total{api,kind,result}        counter
//	infradash_probe_duration_seconds{api,kind}    summary (count/sum)
//	infradash_health_cache_lookups_total{result}  counter
//	infradash_proxy_requests_total{api,code}      counter
//	infradash_api_up{api,name}                    gauge (1 healthy, 0 unhealthy)
//
// Registry implements health.Recorder and health.Observer so it can be wired
// straight into the monitor.
package metrics
