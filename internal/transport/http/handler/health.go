package handler

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process liveness and store reachability.
type HealthHandler struct {
	store   pinger
	started time.Time
}

func NewHealthHandler(store pinger) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now()}
}

type healthEnvelope struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Store  string `json:"store"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	env := healthEnvelope{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Store:  "ok",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			env.Status = "degraded"
			env.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, env)
}
