package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marmos91/radiusd/pkg/pool"
)

// Pinger is the subset of the Redis client used by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the dialog store reachable?
type HealthHandler struct {
	pinger Pinger
	pools  map[string]*pool.Runtime
}

// NewHealthHandler creates a new health handler.
//
// The pinger may be nil, in which case the readiness check reports
// unhealthy. The pools map may be nil when no address pools are configured.
func NewHealthHandler(pinger Pinger, pools map[string]*pool.Runtime) *HealthHandler {
	return &HealthHandler{pinger: pinger, pools: pools}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. Designed for Kubernetes
// liveness probes; succeeds as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthyResponse(map[string]string{
		"service": "radiusd",
	}))
}

// poolStatus reports the allocatable addresses left in one pool.
type poolStatus struct {
	IPv4          int `json:"ipv4"`
	IPv6          int `json:"ipv6"`
	IPv6Delegated int `json:"ipv6_delegated"`
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK when the dialog store answers PING, together with the
// remaining capacity of every address pool. Returns 503 Service Unavailable
// when Redis is unreachable: the server would still answer RADIUS requests,
// but dialogs would not be persisted.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("dialog store not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx).Err(); err != nil {
		JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("dialog store unreachable: "+err.Error()))
		return
	}

	pools := make(map[string]poolStatus, len(h.pools))
	for name, rt := range h.pools {
		v4, v6, v6d := rt.Remaining()
		pools[name] = poolStatus{IPv4: v4, IPv6: v6, IPv6Delegated: v6d}
	}

	JSON(w, http.StatusOK, HealthyResponse(map[string]interface{}{
		"dialog_store": "ok",
		"pools":        pools,
	}))
}
