package sim

import (
	"math/rand/v2"
	"time"

	"busfleet/internal/domain"
	"busfleet/internal/geo"
)

const (
	MinProgress = 0.02
	MaxProgress = 0.08

	// JitterDegrees bounds the per-axis traffic noise added each tick.
	JitterDegrees = 0.001

	// ArrivalRadiusKm is how close a bus must get to snap onto its next stop.
	ArrivalRadiusKm = 0.1

	BoardingChance = 0.3
	MinBoarding    = -5
	MaxBoarding    = 8
)

// Random is the source of simulated noise. *rand.Rand satisfies it.
type Random interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// NextStop picks the stop index a bus heads for, bouncing at either end of
// the route instead of wrapping around.
func NextStop(current int, dir domain.Direction, n int) (int, domain.Direction) {
	if dir == domain.Forward {
		next := current + 1
		if next >= n {
			return n - 1, domain.Backward
		}
		return next, dir
	}
	next := current - 1
	if next < 0 {
		return 0, domain.Forward
	}
	return next, domain.Backward
}

// Advance moves a bus one tick toward its next stop along path, the route's
// stops in order. It reports whether the bus arrived at that stop.
func Advance(bus domain.Bus, path []domain.Stop, rnd Random, now time.Time) (domain.Bus, bool) {
	next, dir := NextStop(bus.CurrentStopIndex, bus.Direction, len(path))
	target := path[next]

	progress := MinProgress + rnd.Float64()*(MaxProgress-MinProgress)
	lat, lng := geo.Interpolate(bus.CurrentLat, bus.CurrentLng, target.Lat, target.Lng, progress)
	lat += jitter(rnd)
	lng += jitter(rnd)

	arrived := geo.Distance(lat, lng, target.Lat, target.Lng) < ArrivalRadiusKm
	if arrived {
		lat, lng = target.Lat, target.Lng
		bus.CurrentStopIndex = next
		bus.CurrentOccupancy = boardAndAlight(bus.CurrentOccupancy, bus.Capacity, rnd)
	}

	bus.CurrentLat = lat
	bus.CurrentLng = lng
	bus.Direction = dir
	bus.LastUpdated = now
	return bus, arrived
}

func jitter(rnd Random) float64 {
	return (rnd.Float64()*2 - 1) * JitterDegrees
}

func boardAndAlight(occupancy, capacity int, rnd Random) int {
	if rnd.Float64() >= BoardingChance {
		return occupancy
	}
	occupancy += MinBoarding + rnd.IntN(MaxBoarding-MinBoarding+1)
	if occupancy < 0 {
		occupancy = 0
	}
	if occupancy > capacity {
		occupancy = capacity
	}
	return occupancy
}
