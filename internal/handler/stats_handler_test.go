package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/cache"
	"busfleet/internal/domain"
	"busfleet/internal/middleware"
	"busfleet/internal/sim"
	"busfleet/internal/store"
)

type fakeReporter struct {
	running bool
	report  sim.SweepReport
}

func (f fakeReporter) Running() bool               { return f.running }
func (f fakeReporter) LastReport() sim.SweepReport { return f.report }

func TestStatsHandler_GetStats(t *testing.T) {
	ts := newTestServer(t, nil)
	logger := discardLogger()

	buses, err := ts.store.ListBuses(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.NoError(t, ts.store.AppendLocation(context.Background(), domain.LocationUpdate{
		BusID: buses[0].ID, Lat: 28.6, Lng: 77.2, Occupancy: 10, Timestamp: time.Now(),
	}))

	stats := NewStats()
	stats.IncRequests()
	stats.IncWSConnections()
	stats.IncWSMessagesOut()

	limiter := middleware.NewRateLimiter(10, time.Minute, []string{"127.0.0.1"}, logger)
	reporter := fakeReporter{running: true, report: sim.SweepReport{Processed: 18, Moved: 15, Arrived: 3}}

	h := NewStatsHandler(stats, ts.store, reporter, cache.NewCatalog(nil, ts.store, time.Minute, logger), limiter, func() int { return 4 })
	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	resp := decode[StatsResponse](t, rec)
	assert.EqualValues(t, 1, resp.Server.RequestCount)
	assert.Equal(t, FleetStatsResponse{Stops: 22, Routes: 9, Buses: 18, ActiveBuses: 18, LocationUpdates: 1}, resp.Fleet)
	assert.True(t, resp.Simulation.Running)
	assert.Equal(t, 18, resp.Simulation.LastSweep.Processed)
	assert.Equal(t, WebSocketStatsResponse{Clients: 4, Connections: 1, MessagesOut: 1}, resp.WebSocket)
	assert.False(t, resp.Cache.Enabled)
	assert.Equal(t, 10, resp.RateLimit.RatePerWindow)
	assert.Equal(t, 1, resp.RateLimit.WhitelistEntries)
	assert.NotEmpty(t, resp.Go.GoVersion)
}
