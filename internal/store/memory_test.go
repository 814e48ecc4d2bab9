package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/domain"
)

func testFleet() ([]domain.Stop, []domain.Route, []domain.Bus) {
	stops := []domain.Stop{
		{ID: "s1", Name: "Red Fort", Lat: 28.6562, Lng: 77.2410, City: "Delhi"},
		{ID: "s2", Name: "India Gate", Lat: 28.6129, Lng: 77.2295, City: "Delhi"},
		{ID: "s3", Name: "Connaught Place", Lat: 28.6315, Lng: 77.2167, City: "Delhi"},
	}
	routes := []domain.Route{
		{ID: "r1", Name: "Red Line", Stops: []string{"s1", "s2", "s3"}, DistanceKm: 25.5, EstimatedDurationMinutes: 45, City: "Delhi"},
		{ID: "r2", Name: "Short Line", Stops: []string{"s3", "s1"}, DistanceKm: 5, EstimatedDurationMinutes: 10, City: "Delhi"},
	}
	buses := []domain.Bus{
		{ID: "b1", BusNumber: "BUS-DEL-11", RouteID: "r1", Capacity: 50, CurrentOccupancy: 10, Direction: domain.Forward, Status: domain.BusActive},
		{ID: "b2", BusNumber: "BUS-DEL-12", RouteID: "r1", Capacity: 40, CurrentOccupancy: 5, Direction: domain.Forward, Status: domain.BusOffline},
		{ID: "b3", BusNumber: "BUS-DEL-21", RouteID: "r2", Capacity: 60, CurrentOccupancy: 20, Direction: domain.Forward, Status: domain.BusActive},
	}
	return stops, routes, buses
}

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	stops, routes, buses := testFleet()
	require.NoError(t, s.Reseed(context.Background(), stops, routes, buses))
	return s
}

func TestMemoryStore_ReseedKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	stops, err := s.ListStops(ctx)
	require.NoError(t, err)
	require.Len(t, stops, 3)
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{stops[0].ID, stops[1].ID, stops[2].ID})

	route, err := s.GetRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, route.Stops)
}

func TestMemoryStore_ReseedClearsPriorState(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	require.NoError(t, s.AppendLocation(ctx, domain.LocationUpdate{BusID: "b1"}))

	require.NoError(t, s.Reseed(ctx,
		[]domain.Stop{{ID: "x1", Name: "A"}, {ID: "x2", Name: "B"}},
		[]domain.Route{{ID: "rx", Stops: []string{"x1", "x2"}}},
		nil,
	))

	stops, err := s.ListStops(ctx)
	require.NoError(t, err)
	assert.Len(t, stops, 2)

	_, err = s.GetRoute(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	buses, err := s.ListBuses(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, buses)

	n, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_ReseedRejectsUnknownStop(t *testing.T) {
	s := NewMemoryStore()
	err := s.Reseed(context.Background(),
		[]domain.Stop{{ID: "s1"}},
		[]domain.Route{{ID: "r1", Name: "Broken", Stops: []string{"s1", "missing"}}},
		nil,
	)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_ReseedRejectsUnknownStatus(t *testing.T) {
	s := seededStore(t)
	stops, routes, buses := testFleet()
	buses[1].Status = "scrapped"

	err := s.Reseed(context.Background(), stops, routes, buses)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// the previous fleet is untouched
	got, err := s.ListBuses(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.BusOffline, got[1].Status)
}

func TestMemoryStore_FindStopByName(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	tests := []struct {
		name    string
		query   string
		wantID  string
		wantErr error
	}{
		{name: "exact", query: "Red Fort", wantID: "s1"},
		{name: "case insensitive substring", query: "gate", wantID: "s2"},
		{name: "first match wins", query: "o", wantID: "s1"},
		{name: "no match", query: "Gateway", wantErr: domain.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, err := s.FindStopByName(ctx, tc.query)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, st.ID)
		})
	}
}

func TestMemoryStore_ListBusesFilters(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	all, err := s.ListBuses(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := s.ListBuses(ctx, ActiveOnly())
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b3"}, []string{active[0].ID, active[1].ID})

	opts := ActiveOnly()
	opts.RouteID = "r1"
	onRoute, err := s.ListBuses(ctx, opts)
	require.NoError(t, err)
	require.Len(t, onRoute, 1)
	assert.Equal(t, "b1", onRoute[0].ID)

	none, err := s.ListBuses(ctx, ListOptions{RouteID: "nope"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_UpdateBus(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	now := time.Now().UTC()

	pos := domain.BusPosition{Lat: 1, Lng: 2, StopIndex: 2, Direction: domain.Backward, Occupancy: 33, LastUpdated: now}
	require.NoError(t, s.UpdateBus(ctx, "b1", pos))

	buses, err := s.ListBuses(ctx, ListOptions{RouteID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, pos, buses[0].Position())

	err = s.UpdateBus(ctx, "ghost", pos)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	route, err := s.GetRoute(ctx, "r1")
	require.NoError(t, err)
	route.Stops[0] = "tampered"

	again, err := s.GetRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "s1", again.Stops[0])
}

func TestMemoryStore_Locations(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	require.NoError(t, s.AppendLocation(ctx, domain.LocationUpdate{BusID: "b1", Occupancy: 1}))
	require.NoError(t, s.AppendLocation(ctx, domain.LocationUpdate{BusID: "b3", Occupancy: 2}))
	require.NoError(t, s.AppendLocation(ctx, domain.LocationUpdate{BusID: "b1", Occupancy: 3}))

	n, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	history := s.Locations("b1")
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Occupancy)
	assert.Equal(t, 3, history[1].Occupancy)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
