// Package probe performs single liveness/readiness GETs against upstream APIs
// and normalizes the outcome into a types.ProbeResult.
//
// A probe never returns an error. Transport failures, timeouts, non-2xx
// responses and unreadable bodies all become {status:"error", error:<reason>},
// so callers can cache and display failures exactly like successes.
package probe
