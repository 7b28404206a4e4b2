// Package grpchealth exposes API health over the standard gRPC health
// protocol (grpc.health.v1.Health). The service name is the API descriptor
// id; the empty name reports the whole set.
package grpchealth

import (
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/infradash/infradash/pkg/types"
)

// Sink mirrors observed API statuses into a gRPC health server. It
// implements health.Observer.
type Sink struct {
	srv *health.Server

	mu        sync.Mutex
	unhealthy map[string]bool
	known     map[string]bool
}

// New returns a Sink whose overall status starts as SERVING.
func New() *Sink {
	s := &Sink{
		srv:       health.NewServer(),
		unhealthy: make(map[string]bool),
		known:     make(map[string]bool),
	}
	s.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Register installs the health service on g.
func (s *Sink) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.srv)
}

// Server returns the underlying health server.
func (s *Sink) Server() *health.Server { return s.srv }

// Observe records st: SERVING when healthy, NOT_SERVING when unhealthy,
// SERVICE_UNKNOWN when not yet checked. The overall status is NOT_SERVING
// while any API is unhealthy.
func (s *Sink) Observe(st types.APIStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.known[st.ID] = true
	switch st.Status {
	case types.StatusHealthy:
		delete(s.unhealthy, st.ID)
		s.srv.SetServingStatus(st.ID, healthpb.HealthCheckResponse_SERVING)
	case types.StatusUnhealthy:
		s.unhealthy[st.ID] = true
		s.srv.SetServingStatus(st.ID, healthpb.HealthCheckResponse_NOT_SERVING)
	default:
		delete(s.unhealthy, st.ID)
		s.srv.SetServingStatus(st.ID, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	}
	s.updateOverall()
}

// Forget marks every id not in keep as SERVICE_UNKNOWN. Called after a
// registry reload drops APIs.
func (s *Sink) Forget(keep map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.known {
		if keep[id] {
			continue
		}
		delete(s.known, id)
		delete(s.unhealthy, id)
		s.srv.SetServingStatus(id, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	}
	s.updateOverall()
}

// Shutdown sets every service to NOT_SERVING; later updates are ignored.
func (s *Sink) Shutdown() {
	s.srv.Shutdown()
}

func (s *Sink) updateOverall() {
	overall := healthpb.HealthCheckResponse_SERVING
	if len(s.unhealthy) > 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
		slog.Debug("grpchealth: overall not serving", "unhealthy", len(s.unhealthy))
	}
	s.srv.SetServingStatus("", overall)
}
