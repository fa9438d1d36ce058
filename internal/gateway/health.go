// ABOUTME: gRPC health reporting for the fleet
// ABOUTME: The coven.fleet service is SERVING while at least one connection is live

package gateway

import (
	"sync/atomic"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-fleet/internal/fleet"
)

// HealthService is the gRPC health service name reported for the fleet.
const HealthService = "coven.fleet"

// Health tracks fleet liveness for the gRPC health service.
type Health struct {
	server *health.Server
	bots   atomic.Int64
}

// NewHealth starts out NOT_SERVING until a connection comes up.
func NewHealth() *Health {
	h := &Health{server: health.NewServer()}
	h.server.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Update records a new fleet status. It has the shape of fleet.Options.OnChange.
func (h *Health) Update(st fleet.Status) {
	h.bots.Store(int64(st.Bots))
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Bots > 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(HealthService, status)
}

// Bots is the live connection count from the last update.
func (h *Health) Bots() int {
	return int(h.bots.Load())
}

// Server is the grpc_health_v1 implementation to register.
func (h *Health) Server() healthpb.HealthServer {
	return h.server
}

// Shutdown flips every service to NOT_SERVING.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}
