package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"busfleet/internal/domain"
)

// Store is the persisted fleet: stops, routes, buses and the append-only
// location history. Reads return copies; callers may mutate them freely.
type Store interface {
	Reseed(ctx context.Context, stops []domain.Stop, routes []domain.Route, buses []domain.Bus) error

	ListStops(ctx context.Context) ([]domain.Stop, error)
	GetStop(ctx context.Context, id string) (domain.Stop, error)
	FindStopByName(ctx context.Context, query string) (domain.Stop, error)

	ListRoutes(ctx context.Context) ([]domain.Route, error)
	GetRoute(ctx context.Context, id string) (domain.Route, error)

	ListBuses(ctx context.Context, opts ListOptions) ([]domain.Bus, error)
	UpdateBus(ctx context.Context, id string, pos domain.BusPosition) error

	AppendLocation(ctx context.Context, u domain.LocationUpdate) error
	CountLocations(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

type ListOptions struct {
	Status  *domain.BusStatus
	RouteID string
}

// ActiveOnly lists buses with status active.
func ActiveOnly() ListOptions {
	s := domain.BusActive
	return ListOptions{Status: &s}
}

// NewID mints an opaque identifier for a new stop, route or bus.
func NewID() string {
	return uuid.NewString()
}

// checkFleet rejects a reseed whose routes name missing stops or whose buses
// carry an unknown status.
func checkFleet(stops []domain.Stop, routes []domain.Route, buses []domain.Bus) error {
	stopIDs := make(map[string]struct{}, len(stops))
	for _, st := range stops {
		stopIDs[st.ID] = struct{}{}
	}
	for _, r := range routes {
		for _, id := range r.Stops {
			if _, ok := stopIDs[id]; !ok {
				return errors.Wrapf(domain.ErrNotFound, "route %q references unknown stop %q", r.Name, id)
			}
		}
	}
	for _, b := range buses {
		if !b.Status.Valid() {
			return errors.Wrapf(domain.ErrValidation, "bus %q has unknown status %q", b.BusNumber, b.Status)
		}
	}
	return nil
}
