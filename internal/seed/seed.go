package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/pkg/errors"

	"busfleet/internal/domain"
)

const BusesPerRoute = 2

// Fleet is a complete network ready to be written by a reseed.
type Fleet struct {
	Stops  []domain.Stop
	Routes []domain.Route
	Buses  []domain.Bus
}

// Reseeder is the slice of the fleet store a reseed needs.
type Reseeder interface {
	Reseed(ctx context.Context, stops []domain.Stop, routes []domain.Route, buses []domain.Bus) error
}

// Build mints identifiers with newID and resolves each route's stop indices
// into the ids of that city's stops, keeping their order. Every route gets
// BusesPerRoute buses parked at its first stop.
func Build(cities []City, newID func() string, rng *rand.Rand, now time.Time) (Fleet, error) {
	var f Fleet
	routeOrdinal := 0

	for _, city := range cities {
		cityStops := make([]domain.Stop, 0, len(city.Stops))
		for _, ss := range city.Stops {
			cityStops = append(cityStops, domain.Stop{
				ID:   newID(),
				Name: ss.Name,
				Lat:  ss.Lat,
				Lng:  ss.Lng,
				City: city.Name,
			})
		}
		f.Stops = append(f.Stops, cityStops...)

		for _, rs := range city.Routes {
			if len(rs.Stops) < 2 {
				return Fleet{}, errors.Wrapf(domain.ErrValidation, "route %q in %s needs at least 2 stops", rs.Name, city.Name)
			}
			ids := make([]string, 0, len(rs.Stops))
			for _, idx := range rs.Stops {
				if idx < 0 || idx >= len(cityStops) {
					return Fleet{}, errors.Wrapf(domain.ErrValidation, "route %q in %s: stop index %d out of range", rs.Name, city.Name, idx)
				}
				ids = append(ids, cityStops[idx].ID)
			}
			route := domain.Route{
				ID:                       newID(),
				Name:                     rs.Name,
				Stops:                    ids,
				DistanceKm:               rs.DistanceKm,
				EstimatedDurationMinutes: rs.Duration,
				City:                     city.Name,
			}
			f.Routes = append(f.Routes, route)
			routeOrdinal++

			first := cityStops[rs.Stops[0]]
			for j := 1; j <= BusesPerRoute; j++ {
				f.Buses = append(f.Buses, domain.Bus{
					ID:               newID(),
					BusNumber:        busNumber(city.Name, routeOrdinal, j),
					RouteID:          route.ID,
					Capacity:         40 + rng.IntN(21),
					CurrentOccupancy: 5 + rng.IntN(26),
					CurrentLat:       first.Lat,
					CurrentLng:       first.Lng,
					CurrentStopIndex: 0,
					Direction:        domain.Forward,
					Status:           domain.BusActive,
					LastUpdated:      now,
				})
			}
		}
	}

	return f, nil
}

// Load builds the configured network and replaces the store's contents.
func Load(ctx context.Context, s Reseeder, newID func() string, rng *rand.Rand) (Fleet, error) {
	f, err := Build(Cities, newID, rng, time.Now().UTC())
	if err != nil {
		return Fleet{}, err
	}
	if err := s.Reseed(ctx, f.Stops, f.Routes, f.Buses); err != nil {
		return Fleet{}, errors.Wrap(err, "reseed store")
	}
	return f, nil
}

func busNumber(city string, routeOrdinal, n int) string {
	prefix := city
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("BUS-%s-%d%d", strings.ToUpper(prefix), routeOrdinal, n)
}
