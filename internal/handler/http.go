package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"busfleet/internal/cache"
	"busfleet/internal/domain"
	"busfleet/internal/insight"
	"busfleet/internal/query"
	"busfleet/internal/seed"
)

// Simulation is the lifecycle surface of the movement engine.
type Simulation interface {
	Start() bool
	Stop() bool
	Running() bool
}

// ReseedFunc replaces the fleet with the sample network.
type ReseedFunc func(ctx context.Context) error

type HTTPHandler struct {
	query    *query.Service
	catalog  *cache.Catalog
	sim      Simulation
	reseed   ReseedFunc
	insights *insight.Adapter
	logger   *slog.Logger
}

func NewHTTPHandler(
	q *query.Service,
	catalog *cache.Catalog,
	sim Simulation,
	reseed ReseedFunc,
	insights *insight.Adapter,
	logger *slog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		query:    q,
		catalog:  catalog,
		sim:      sim,
		reseed:   reseed,
		insights: insights,
		logger:   logger.With("component", "http"),
	}
}

// Routes registers the fleet API under /api.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/{$}", h.Root)
	mux.HandleFunc("POST /api/initialize-data", h.InitializeData)
	mux.HandleFunc("POST /api/start-simulation", h.StartSimulation)
	mux.HandleFunc("POST /api/stop-simulation", h.StopSimulation)
	mux.HandleFunc("GET /api/stops", h.ListStops)
	mux.HandleFunc("GET /api/routes", h.ListRoutes)
	mux.HandleFunc("GET /api/routes/{id}/stops", h.RouteStops)
	mux.HandleFunc("GET /api/buses", h.ListBuses)
	mux.HandleFunc("GET /api/fleet-status", h.FleetStatus)
	mux.HandleFunc("GET /api/ai-insights", h.AIInsights)
	mux.HandleFunc("POST /api/find-buses", h.FindBuses)
	mux.HandleFunc("GET /api/cities", h.Cities)
}

type messageResponse struct {
	Message string `json:"message"`
}

type simulationResponse struct {
	Message string `json:"message"`
	Running bool   `json:"running"`
}

func (h *HTTPHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, messageResponse{Message: "Bus Fleet Monitoring API"})
}

func (h *HTTPHandler) InitializeData(w http.ResponseWriter, r *http.Request) {
	if err := h.reseed(r.Context()); err != nil {
		h.logger.Error("initialize data failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Error initializing data")
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Sample data initialized successfully"})
}

func (h *HTTPHandler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	started := h.sim.Start()
	running := h.sim.Running()
	switch {
	case started:
		respondJSON(w, http.StatusOK, simulationResponse{Message: "Bus simulation started", Running: running})
	case running:
		respondJSON(w, http.StatusOK, simulationResponse{Message: "Simulation already running", Running: running})
	default:
		// the engine is shutting down and refuses new runs
		respondJSON(w, http.StatusServiceUnavailable, simulationResponse{Message: "Simulation unavailable", Running: false})
	}
}

func (h *HTTPHandler) StopSimulation(w http.ResponseWriter, r *http.Request) {
	h.sim.Stop()
	respondJSON(w, http.StatusOK, simulationResponse{Message: "Bus simulation stopped", Running: h.sim.Running()})
}

func (h *HTTPHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.catalog.Stops(r.Context())
	if err != nil {
		h.internalError(w, "list stops", err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(stops))
}

func (h *HTTPHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.catalog.Routes(r.Context())
	if err != nil {
		h.internalError(w, "list routes", err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(routes))
}

func (h *HTTPHandler) RouteStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.catalog.RouteStops(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Route not found")
		return
	}
	if err != nil {
		h.internalError(w, "route stops", err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(stops))
}

func (h *HTTPHandler) ListBuses(w http.ResponseWriter, r *http.Request) {
	buses, err := h.query.ListBuses(r.Context())
	if err != nil {
		h.internalError(w, "list buses", err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(buses))
}

func (h *HTTPHandler) FleetStatus(w http.ResponseWriter, r *http.Request) {
	fs, err := h.query.FleetStatus(r.Context())
	if err != nil {
		h.internalError(w, "fleet status", err)
		return
	}
	fs.Buses = nonNil(fs.Buses)
	respondJSON(w, http.StatusOK, fs)
}

func (h *HTTPHandler) AIInsights(w http.ResponseWriter, r *http.Request) {
	buses, err := h.query.ListBuses(r.Context())
	if err != nil {
		h.internalError(w, "list buses", err)
		return
	}
	routes, err := h.catalog.Routes(r.Context())
	if err != nil {
		h.internalError(w, "list routes", err)
		return
	}
	respondJSON(w, http.StatusOK, h.insights.Insights(r.Context(), buses, routes))
}

type findBusesRequest struct {
	FromStop string `json:"from_stop"`
	ToStop   string `json:"to_stop"`
}

func (h *HTTPHandler) FindBuses(w http.ResponseWriter, r *http.Request) {
	var req findBusesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	matches, err := h.query.FindBuses(r.Context(), req.FromStop, req.ToStop)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, matches)
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, "from_stop and to_stop are required")
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "One or both stops not found")
	default:
		h.logger.Error("find buses failed", "from", req.FromStop, "to", req.ToStop, "error", err)
		respondError(w, http.StatusInternalServerError, "Error finding buses")
	}
}

type citiesResponse struct {
	Cities []string `json:"cities"`
}

func (h *HTTPHandler) Cities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, citiesResponse{Cities: seed.CityNames()})
}

func (h *HTTPHandler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	respondError(w, http.StatusInternalServerError, "Internal server error")
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Detail: message})
}
