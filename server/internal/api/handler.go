package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/alerts"
	"github.com/infradash/infradash/server/internal/certs"
	"github.com/infradash/infradash/server/internal/config"
	"github.com/infradash/infradash/server/internal/health"
	"github.com/infradash/infradash/server/internal/openapi"
	"github.com/infradash/infradash/server/internal/registry"
)

// ServiceName is reported by GET /liveness.
const ServiceName = "infradash"

// Deps are the components the handler serves. Registry and Monitor are
// required; a nil optional component answers with an empty list (alerts,
// certs) or leaves its route unmounted (the http.Handler fields).
type Deps struct {
	Registry *registry.Registry
	Monitor  *health.Monitor

	// Defaults returns the current tenant/language defaults.
	Defaults func() config.DefaultsConfig

	Alerts  *alerts.Engine
	Certs   *certs.Checker
	OpenAPI *openapi.Catalog

	Proxy   http.Handler
	Hub     http.Handler
	Metrics http.Handler
}

// Handler routes every HTTP endpoint of the server.
type Handler struct {
	deps    Deps
	mux     *http.ServeMux
	started time.Time
	now     func() time.Time
}

// New creates a Handler and registers all routes.
func New(deps Deps) *Handler {
	if deps.Defaults == nil {
		deps.Defaults = func() config.DefaultsConfig {
			return config.DefaultsConfig{Tenant: config.DefaultTenant, Language: config.DefaultLanguage}
		}
	}
	h := &Handler{deps: deps, mux: http.NewServeMux(), now: time.Now}
	h.started = h.now()

	h.mux.HandleFunc("GET /api/config", h.config)
	h.mux.HandleFunc("GET /api/ping", h.ping)
	h.mux.HandleFunc("GET /liveness", h.liveness)
	h.mux.HandleFunc("GET /readiness", h.readiness)
	h.mux.HandleFunc("GET /api/{apiname}/docs", h.docs)
	if deps.Proxy != nil {
		h.mux.Handle("/api/{apiname}", deps.Proxy)
		h.mux.Handle("/api/{apiname}/{path...}", deps.Proxy)
	}

	h.mux.HandleFunc("GET /dashboard/v1/apis", h.listAPIs)
	h.mux.HandleFunc("GET /dashboard/v1/apis/{id}", h.getAPI)
	h.mux.HandleFunc("GET /dashboard/v1/apis/{id}/openapi", h.apiOpenAPI)
	h.mux.HandleFunc("GET /dashboard/v1/summary", h.summary)
	h.mux.HandleFunc("DELETE /dashboard/v1/cache", h.clearCache)
	h.mux.HandleFunc("GET /dashboard/v1/alerts", h.alerts)
	h.mux.HandleFunc("GET /dashboard/v1/certs", h.certs)
	if deps.Hub != nil {
		h.mux.Handle("GET /dashboard/v1/ws", deps.Hub)
	}
	if deps.Metrics != nil {
		h.mux.Handle("GET /metrics", deps.Metrics)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// config returns GET /api/config.
func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, ConfigResponse{
		APIs:     h.deps.Registry.All(),
		Defaults: h.deps.Defaults(),
	})
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, MessageResponse{Message: "pong from " + ServiceName})
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	jsonResp(w, http.StatusOK, LivenessResponse{
		Status:    "ok",
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    now.Sub(h.started).Seconds(),
		Service:   ServiceName,
	})
}

// readiness is always ready; the checks report what this server depends on
// without probing upstreams.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	registryCheck := "ok"
	if h.deps.Registry.Len() == 0 {
		registryCheck = "empty"
	}
	jsonResp(w, http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Checks: map[string]string{
			"registry":     registryCheck,
			"health_cache": "ok",
		},
	})
}

// docs redirects GET /api/{apiname}/docs to the proxied OpenAPI document.
func (h *Handler) docs(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api/"+r.PathValue("apiname")+"/openapi.json", http.StatusFound)
}

// listAPIs returns GET /dashboard/v1/apis. With ?cached=1 no probe is sent.
func (h *Handler) listAPIs(w http.ResponseWriter, r *http.Request) {
	var statuses []types.APIStatus
	if isTrue(r.URL.Query().Get("cached")) {
		statuses = h.deps.Monitor.CachedStatuses()
	} else {
		statuses = h.deps.Monitor.CheckAllHealth(r.Context())
	}

	out := make([]APIStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toStatusResponse(st))
	}
	jsonResp(w, http.StatusOK, out)
}

// getAPI returns GET /dashboard/v1/apis/{id}.
func (h *Handler) getAPI(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Monitor.Status(r.Context(), r.PathValue("id"))
	if errors.Is(err, health.ErrUnknownAPI) {
		jsonErr(w, http.StatusNotFound, "api not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, toStatusResponse(st))
}

// apiOpenAPI returns GET /dashboard/v1/apis/{id}/openapi.
func (h *Handler) apiOpenAPI(w http.ResponseWriter, r *http.Request) {
	if h.deps.OpenAPI == nil {
		jsonErr(w, http.StatusNotFound, "openapi catalog disabled")
		return
	}
	s, err := h.deps.OpenAPI.Summary(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, openapi.ErrUnknownAPI):
		jsonErr(w, http.StatusNotFound, "api not found")
	case err != nil:
		jsonErr(w, http.StatusBadGateway, err.Error())
	default:
		jsonResp(w, http.StatusOK, s)
	}
}

// summary returns GET /dashboard/v1/summary from cached records only.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	statuses := h.deps.Monitor.CachedStatuses()
	resp := SummaryResponse{
		APICount:    len(statuses),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
	for _, st := range statuses {
		switch st.Status {
		case types.StatusHealthy:
			resp.HealthyCount++
		case types.StatusUnhealthy:
			resp.UnhealthyCount++
		default:
			resp.UnknownCount++
		}
	}
	if h.deps.Alerts != nil {
		for _, a := range h.deps.Alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	resp.State = overallState(resp)
	jsonResp(w, http.StatusOK, resp)
}

// clearCache handles DELETE /dashboard/v1/cache.
func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.deps.Monitor.ClearCache()
	if h.deps.OpenAPI != nil {
		h.deps.OpenAPI.Invalidate()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Alerts.Active())
}

func (h *Handler) certs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Certs == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Certs.CheckAll(r.Context()))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toStatusResponse(st types.APIStatus) APIStatusResponse {
	return APIStatusResponse{APIStatus: st, Diagnostics: computeDiagnostics(st)}
}

// overallState is unknown with no APIs or none checked, unhealthy when any
// API is, healthy otherwise.
func overallState(s SummaryResponse) string {
	switch {
	case s.APICount == 0 || s.UnknownCount == s.APICount:
		return string(types.StatusUnknown)
	case s.UnhealthyCount > 0:
		return string(types.StatusUnhealthy)
	default:
		return string(types.StatusHealthy)
	}
}

func isTrue(v string) bool {
	switch v {
	case "1", "true", "yes":
		return true
	}
	return false
}
