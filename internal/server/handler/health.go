package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint with per-dependency status.
type HealthHandler struct {
	bus   Pinger
	store Pinger
}

// NewHealthHandler creates a HealthHandler. Either dependency may be nil when
// the corresponding backend is not wired in the current mode.
func NewHealthHandler(bus, store Pinger) *HealthHandler {
	return &HealthHandler{bus: bus, store: store}
}

// HealthCheck responds 200 when every wired dependency answers a ping within
// a short deadline, 503 otherwise.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status["bus"] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			status["bus"] = "ok"
		}
	}
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			status["store"] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			status["store"] = "ok"
		}
	}

	writeJSON(w, code, status)
}
