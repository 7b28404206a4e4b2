// Package api implements the HTTP surface of the infradash server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET    /api/config                      configured APIs + tenant/language defaults
//	GET    /api/ping                        {message}
//	GET    /liveness, /readiness            self health of this server
//	GET    /api/{apiname}/docs              302 to /api/{apiname}/openapi.json
//	ANY    /api/{apiname}[/{path...}]       request proxy (envelope responses)
//	GET    /dashboard/v1/apis               status of every API; ?cached=1 never probes
//	GET    /dashboard/v1/apis/{id}          status of one API; 404 if unknown
//	GET    /dashboard/v1/apis/{id}/openapi  OpenAPI summary of one API
//	GET    /dashboard/v1/summary            per-status counts from cached records
//	DELETE /dashboard/v1/cache              drop cached health records (204)
//	GET    /dashboard/v1/alerts             firing and recently resolved alerts
//	GET    /dashboard/v1/certs              TLS certificate status per https API
//	GET    /dashboard/v1/ws                 WebSocket status stream
//	GET    /metrics                         Prometheus text exposition
//
// Dashboard endpoints respond with Content-Type: application/json and report
// failures as {"error": "..."}. Proxy routes always answer with the envelope.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
