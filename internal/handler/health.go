package handler

import (
	"context"
	"net/http"
	"time"

	"busfleet/internal/store"
)

type HealthHandler struct {
	store store.Store
	sim   Simulation
}

func NewHealthHandler(s store.Store, sim Simulation) *HealthHandler {
	return &HealthHandler{store: s, sim: sim}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready             bool      `json:"ready"`
	StoreOK           bool      `json:"store_ok"`
	Stops             int       `json:"stops"`
	Buses             int       `json:"buses"`
	SimulationRunning bool      `json:"simulation_running"`
	ServerTime        time.Time `json:"server_time"`
}

// Readyz reports ready once the store answers and holds a seeded fleet.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadyResponse{
		SimulationRunning: h.sim.Running(),
		ServerTime:        time.Now().UTC(),
	}

	if err := h.store.Ping(ctx); err == nil {
		resp.StoreOK = true
		if stops, err := h.store.ListStops(ctx); err == nil {
			resp.Stops = len(stops)
		}
		if buses, err := h.store.ListBuses(ctx, store.ListOptions{}); err == nil {
			resp.Buses = len(buses)
		}
	}
	resp.Ready = resp.StoreOK && resp.Stops > 0

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
