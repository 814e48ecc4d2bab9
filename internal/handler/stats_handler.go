package handler

import (
	"context"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"busfleet/internal/cache"
	"busfleet/internal/domain"
	"busfleet/internal/middleware"
	"busfleet/internal/sim"
	"busfleet/internal/store"
)

// Stats tracks server-wide counters.
type Stats struct {
	startTime     time.Time
	requestCount  atomic.Int64
	wsConnections atomic.Int64
	wsMessagesIn  atomic.Int64
	wsMessagesOut atomic.Int64
}

func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) IncRequests()      { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections() { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections() { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()  { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut() { s.wsMessagesOut.Add(1) }

// SweepReporter exposes the movement engine's most recent sweep.
type SweepReporter interface {
	Running() bool
	LastReport() sim.SweepReport
}

type StatsHandler struct {
	stats   *Stats
	store   store.Store
	engine  SweepReporter
	catalog *cache.Catalog
	limiter *middleware.RateLimiter
	clients func() int
}

func NewStatsHandler(stats *Stats, s store.Store, engine SweepReporter, catalog *cache.Catalog, limiter *middleware.RateLimiter, clients func() int) *StatsHandler {
	return &StatsHandler{
		stats:   stats,
		store:   s,
		engine:  engine,
		catalog: catalog,
		limiter: limiter,
		clients: clients,
	}
}

type StatsResponse struct {
	Server     ServerStatsResponse     `json:"server"`
	Fleet      FleetStatsResponse      `json:"fleet"`
	Simulation SimulationStatsResponse `json:"simulation"`
	WebSocket  WebSocketStatsResponse  `json:"websocket"`
	Cache      cache.CatalogStats      `json:"cache"`
	RateLimit  middleware.Stats        `json:"rate_limit"`
	Go         GoStatsResponse         `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
}

type FleetStatsResponse struct {
	Stops           int   `json:"stops"`
	Routes          int   `json:"routes"`
	Buses           int   `json:"buses"`
	ActiveBuses     int   `json:"active_buses"`
	LocationUpdates int64 `json:"location_updates"`
}

type SimulationStatsResponse struct {
	Running   bool            `json:"running"`
	LastSweep sim.SweepReport `json:"last_sweep"`
}

type WebSocketStatsResponse struct {
	Clients     int   `json:"clients"`
	Connections int64 `json:"connections"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.stats.startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     h.stats.startTime,
			RequestCount:  h.stats.requestCount.Load(),
		},
		Fleet: h.fleetStats(r.Context()),
		Simulation: SimulationStatsResponse{
			Running:   h.engine.Running(),
			LastSweep: h.engine.LastReport(),
		},
		WebSocket: WebSocketStatsResponse{
			Clients:     h.clients(),
			Connections: h.stats.wsConnections.Load(),
			MessagesIn:  h.stats.wsMessagesIn.Load(),
			MessagesOut: h.stats.wsMessagesOut.Load(),
		},
		Cache: h.catalog.Stats(),
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}
	if h.limiter != nil {
		resp.RateLimit = h.limiter.Stats()
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, resp)
}

// fleetStats is best effort; a failing store leaves zeros.
func (h *StatsHandler) fleetStats(ctx context.Context) FleetStatsResponse {
	var fs FleetStatsResponse

	if stops, err := h.store.ListStops(ctx); err == nil {
		fs.Stops = len(stops)
	}
	if routes, err := h.store.ListRoutes(ctx); err == nil {
		fs.Routes = len(routes)
	}
	if buses, err := h.store.ListBuses(ctx, store.ListOptions{}); err == nil {
		fs.Buses = len(buses)
		for _, b := range buses {
			if b.Status == domain.BusActive {
				fs.ActiveBuses++
			}
		}
	}
	if n, err := h.store.CountLocations(ctx); err == nil {
		fs.LocationUpdates = n
	}
	return fs
}
