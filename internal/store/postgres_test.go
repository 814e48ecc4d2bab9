package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/domain"
)

// Runs against a disposable database only; the schema is truncated by Reseed.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("BUSFLEET_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BUSFLEET_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	require.NoError(t, Migrate(dsn))
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	stops, routes, buses := testFleet()
	require.NoError(t, s.Reseed(ctx, stops, routes, buses))

	gotStops, err := s.ListStops(ctx)
	require.NoError(t, err)
	assert.Equal(t, stops, gotStops)

	route, err := s.GetRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, route.Stops)

	st, err := s.FindStopByName(ctx, "GATE")
	require.NoError(t, err)
	assert.Equal(t, "s2", st.ID)

	_, err = s.FindStopByName(ctx, "100%")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	active, err := s.ListBuses(ctx, ActiveOnly())
	require.NoError(t, err)
	assert.Len(t, active, 2)

	now := time.Now().UTC().Truncate(time.Microsecond)
	pos := domain.BusPosition{Lat: 28.6, Lng: 77.2, StopIndex: 1, Direction: domain.Backward, Occupancy: 12, LastUpdated: now}
	require.NoError(t, s.UpdateBus(ctx, "b1", pos))
	assert.ErrorIs(t, s.UpdateBus(ctx, "ghost", pos), domain.ErrNotFound)

	opts := ActiveOnly()
	opts.RouteID = "r1"
	onRoute, err := s.ListBuses(ctx, opts)
	require.NoError(t, err)
	require.Len(t, onRoute, 1)
	assert.Equal(t, domain.Backward, onRoute[0].Direction)
	assert.True(t, now.Equal(onRoute[0].LastUpdated))

	require.NoError(t, s.AppendLocation(ctx, domain.LocationUpdate{BusID: "b1", Lat: 1, Lng: 2, Occupancy: 12, Timestamp: now}))
	n, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
