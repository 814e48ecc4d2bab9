package query

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"busfleet/internal/domain"
	"busfleet/internal/geo"
	"busfleet/internal/store"
)

const (
	// AverageSpeedKmh is the assumed city speed used for ETAs.
	AverageSpeedKmh = 20.0

	MinPaddingMinutes = 2
	MaxPaddingMinutes = 8
)

type FleetStatus struct {
	TotalBuses       int          `json:"total_buses"`
	ActiveBuses      int          `json:"active_buses"`
	OfflineBuses     int          `json:"offline_buses"`
	TotalCapacity    int          `json:"total_capacity"`
	CurrentOccupancy int          `json:"current_occupancy"`
	OccupancyRate    float64      `json:"occupancy_rate"`
	Buses            []domain.Bus `json:"buses"`
	Routes           int          `json:"routes"`
	LastUpdated      time.Time    `json:"last_updated"`
}

// BusMatch is one bus that can take a rider between two stops.
type BusMatch struct {
	BusNumber           string `json:"bus_number"`
	RouteName           string `json:"route_name"`
	ETAMinutes          int    `json:"eta_minutes"`
	OccupancyPercentage int    `json:"occupancy_percentage"`
	AvailableSeats      int    `json:"available_seats"`
	NextArrival         string `json:"next_arrival"`
}

// Service answers read-only questions about the fleet. It holds no state of
// its own; every call reads a fresh snapshot from the store.
type Service struct {
	store   store.Store
	padding func() int
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(s store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:   s,
		padding: defaultPadding,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "query"),
	}
}

func defaultPadding() int {
	return MinPaddingMinutes + rand.IntN(MaxPaddingMinutes-MinPaddingMinutes+1)
}

func (s *Service) ListStops(ctx context.Context) ([]domain.Stop, error) {
	return s.store.ListStops(ctx)
}

func (s *Service) ListRoutes(ctx context.Context) ([]domain.Route, error) {
	return s.store.ListRoutes(ctx)
}

func (s *Service) ListBuses(ctx context.Context) ([]domain.Bus, error) {
	return s.store.ListBuses(ctx, store.ListOptions{})
}

func (s *Service) FleetStatus(ctx context.Context) (FleetStatus, error) {
	buses, err := s.store.ListBuses(ctx, store.ListOptions{})
	if err != nil {
		return FleetStatus{}, errors.Wrap(err, "list buses")
	}
	routes, err := s.store.ListRoutes(ctx)
	if err != nil {
		return FleetStatus{}, errors.Wrap(err, "list routes")
	}

	fs := FleetStatus{
		TotalBuses:  len(buses),
		Buses:       buses,
		Routes:      len(routes),
		LastUpdated: s.now(),
	}
	for _, b := range buses {
		if b.Status == domain.BusActive {
			fs.ActiveBuses++
		}
		fs.TotalCapacity += b.Capacity
		fs.CurrentOccupancy += b.CurrentOccupancy
	}
	// everything not active is reported as offline, maintenance included
	fs.OfflineBuses = fs.TotalBuses - fs.ActiveBuses
	if fs.TotalCapacity > 0 {
		fs.OccupancyRate = float64(fs.CurrentOccupancy) / float64(fs.TotalCapacity) * 100
	}
	return fs, nil
}

// FindBuses lists active buses on every route that calls at both named
// stops, soonest first. Stop order within the route is not considered.
func (s *Service) FindBuses(ctx context.Context, fromName, toName string) ([]BusMatch, error) {
	fromName, toName = strings.TrimSpace(fromName), strings.TrimSpace(toName)
	if fromName == "" || toName == "" {
		return nil, errors.Wrap(domain.ErrValidation, "from_stop and to_stop are required")
	}

	from, err := s.store.FindStopByName(ctx, fromName)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve stop %q", fromName)
	}
	to, err := s.store.FindStopByName(ctx, toName)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve stop %q", toName)
	}

	routes, err := s.store.ListRoutes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list routes")
	}

	now := s.now()
	results := make([]BusMatch, 0)
	for i := range routes {
		route := &routes[i]
		if !route.HasStop(from.ID) || !route.HasStop(to.ID) {
			continue
		}

		opts := store.ActiveOnly()
		opts.RouteID = route.ID
		buses, err := s.store.ListBuses(ctx, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "list buses on route %s", route.ID)
		}

		for j := range buses {
			results = append(results, s.match(&buses[j], route, from, now))
		}
	}

	slices.SortStableFunc(results, func(a, b BusMatch) int {
		return a.ETAMinutes - b.ETAMinutes
	})

	s.logger.Debug("find buses",
		"from", from.Name,
		"to", to.Name,
		"matches", len(results),
	)
	return results, nil
}

func (s *Service) match(bus *domain.Bus, route *domain.Route, from domain.Stop, now time.Time) BusMatch {
	d := geo.Distance(bus.CurrentLat, bus.CurrentLng, from.Lat, from.Lng)
	eta := int(d/AverageSpeedKmh*60) + s.padding()

	return BusMatch{
		BusNumber:           bus.BusNumber,
		RouteName:           route.Name,
		ETAMinutes:          eta,
		OccupancyPercentage: int(bus.OccupancyRatio() * 100),
		AvailableSeats:      bus.AvailableSeats(),
		NextArrival:         now.Add(time.Duration(eta) * time.Minute).UTC().Format("15:04"),
	}
}
