package api

import (
	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/config"
)

// ConfigResponse is the payload for GET /api/config.
type ConfigResponse struct {
	APIs     []types.APIDescriptor `json:"apis"`
	Defaults config.DefaultsConfig `json:"defaults"`
}

// MessageResponse is the payload for GET /api/ping.
type MessageResponse struct {
	Message string `json:"message"`
}

// LivenessResponse is the payload for GET /liveness.
type LivenessResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
	Service   string  `json:"service"`
}

// ReadinessResponse is the payload for GET /readiness.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// APIStatusResponse is one entry of GET /dashboard/v1/apis.
type APIStatusResponse struct {
	types.APIStatus
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// SummaryResponse is the payload for GET /dashboard/v1/summary.
type SummaryResponse struct {
	State          string `json:"state"`
	APICount       int    `json:"api_count"`
	HealthyCount   int    `json:"healthy_count"`
	UnhealthyCount int    `json:"unhealthy_count"`
	UnknownCount   int    `json:"unknown_count"`
	AlertCount     int    `json:"alert_count"`
	GeneratedAt    string `json:"generated_at"`
}

// errorResponse is the standard error envelope for dashboard endpoints.
type errorResponse struct {
	Error string `json:"error"`
}
