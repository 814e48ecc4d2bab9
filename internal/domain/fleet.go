package domain

import "time"

// BusStatus is the operational state of a bus
type BusStatus string

const (
	BusActive      BusStatus = "active"
	BusMaintenance BusStatus = "maintenance"
	BusOffline     BusStatus = "offline"
)

func (s BusStatus) Valid() bool {
	switch s {
	case BusActive, BusMaintenance, BusOffline:
		return true
	default:
		return false
	}
}

// Direction of travel along a route's stop sequence
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// Stop is a named bus stop in a city
type Stop struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	City string  `json:"city"`
}

// Route is a fixed ordered list of stop IDs
type Route struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	Stops                    []string `json:"stops"`
	DistanceKm               float64  `json:"distance_km"`
	EstimatedDurationMinutes int      `json:"estimated_duration_minutes"`
	City                     string   `json:"city"`
}

// HasStop reports whether the stop ID appears anywhere in the route.
func (r *Route) HasStop(stopID string) bool {
	for _, id := range r.Stops {
		if id == stopID {
			return true
		}
	}
	return false
}

// Bus is a simulated vehicle assigned to one route
type Bus struct {
	ID               string    `json:"id"`
	BusNumber        string    `json:"bus_number"`
	RouteID          string    `json:"route_id"`
	Capacity         int       `json:"capacity"`
	CurrentOccupancy int       `json:"current_occupancy"`
	CurrentLat       float64   `json:"current_lat"`
	CurrentLng       float64   `json:"current_lng"`
	CurrentStopIndex int       `json:"current_stop_index"`
	Direction        Direction `json:"direction"`
	Status           BusStatus `json:"status"`
	LastUpdated      time.Time `json:"last_updated"`
}

// AvailableSeats is capacity minus current occupancy
func (b *Bus) AvailableSeats() int {
	return b.Capacity - b.CurrentOccupancy
}

// OccupancyRatio is occupancy over capacity, 0 for a zero-capacity bus
func (b *Bus) OccupancyRatio() float64 {
	if b.Capacity <= 0 {
		return 0
	}
	return float64(b.CurrentOccupancy) / float64(b.Capacity)
}

// BusPosition carries the fields the movement engine writes back each tick
type BusPosition struct {
	Lat         float64
	Lng         float64
	StopIndex   int
	Direction   Direction
	Occupancy   int
	LastUpdated time.Time
}

// Position extracts the mutable movement fields of a bus.
func (b *Bus) Position() BusPosition {
	return BusPosition{
		Lat:         b.CurrentLat,
		Lng:         b.CurrentLng,
		StopIndex:   b.CurrentStopIndex,
		Direction:   b.Direction,
		Occupancy:   b.CurrentOccupancy,
		LastUpdated: b.LastUpdated,
	}
}

// Apply copies a position onto the bus.
func (b *Bus) Apply(p BusPosition) {
	b.CurrentLat = p.Lat
	b.CurrentLng = p.Lng
	b.CurrentStopIndex = p.StopIndex
	b.Direction = p.Direction
	b.CurrentOccupancy = p.Occupancy
	b.LastUpdated = p.LastUpdated
}

// LocationUpdate is an append-only history record of a bus position
type LocationUpdate struct {
	BusID     string    `json:"bus_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Occupancy int       `json:"occupancy"`
	Timestamp time.Time `json:"timestamp"`
}

// BusDelta is a post-tick bus snapshot pushed to live subscribers
type BusDelta struct {
	RouteID string `json:"route_id"`
	Bus     *Bus   `json:"bus"`
	Arrived bool   `json:"arrived"`
}
