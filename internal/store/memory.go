package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"busfleet/internal/domain"
)

// MemoryStore keeps the fleet in process memory. Insertion order is kept so
// listings and name lookups are deterministic.
type MemoryStore struct {
	mu sync.RWMutex

	stops     map[string]*domain.Stop
	stopOrder []string

	routes     map[string]*domain.Route
	routeOrder []string

	buses     map[string]*domain.Bus
	busOrder  []string
	byRoute   map[string]map[string]struct{}
	byStatus  map[domain.BusStatus]map[string]struct{}
	locations []domain.LocationUpdate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stops:    make(map[string]*domain.Stop),
		routes:   make(map[string]*domain.Route),
		buses:    make(map[string]*domain.Bus),
		byRoute:  make(map[string]map[string]struct{}),
		byStatus: make(map[domain.BusStatus]map[string]struct{}),
	}
}

func (s *MemoryStore) Reseed(_ context.Context, stops []domain.Stop, routes []domain.Route, buses []domain.Bus) error {
	if err := checkFleet(stops, routes, buses); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops = make(map[string]*domain.Stop, len(stops))
	s.stopOrder = make([]string, 0, len(stops))
	for _, st := range stops {
		s.stops[st.ID] = &st
		s.stopOrder = append(s.stopOrder, st.ID)
	}

	s.routes = make(map[string]*domain.Route, len(routes))
	s.routeOrder = make([]string, 0, len(routes))
	for _, r := range routes {
		r.Stops = slices.Clone(r.Stops)
		s.routes[r.ID] = &r
		s.routeOrder = append(s.routeOrder, r.ID)
	}

	s.buses = make(map[string]*domain.Bus, len(buses))
	s.busOrder = make([]string, 0, len(buses))
	s.byRoute = make(map[string]map[string]struct{})
	s.byStatus = make(map[domain.BusStatus]map[string]struct{})
	for _, b := range buses {
		s.buses[b.ID] = &b
		s.busOrder = append(s.busOrder, b.ID)
		s.addToIndices(&b)
	}

	s.locations = nil
	return nil
}

func (s *MemoryStore) ListStops(_ context.Context) ([]domain.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Stop, 0, len(s.stopOrder))
	for _, id := range s.stopOrder {
		result = append(result, *s.stops[id])
	}
	return result, nil
}

func (s *MemoryStore) GetStop(_ context.Context, id string) (domain.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stops[id]
	if !ok {
		return domain.Stop{}, errors.Wrapf(domain.ErrNotFound, "stop %q", id)
	}
	return *st, nil
}

func (s *MemoryStore) FindStopByName(_ context.Context, query string) (domain.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	for _, id := range s.stopOrder {
		st := s.stops[id]
		if strings.Contains(strings.ToLower(st.Name), q) {
			return *st, nil
		}
	}
	return domain.Stop{}, errors.Wrapf(domain.ErrNotFound, "stop matching %q", query)
}

func (s *MemoryStore) ListRoutes(_ context.Context) ([]domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Route, 0, len(s.routeOrder))
	for _, id := range s.routeOrder {
		r := *s.routes[id]
		r.Stops = slices.Clone(r.Stops)
		result = append(result, r)
	}
	return result, nil
}

func (s *MemoryStore) GetRoute(_ context.Context, id string) (domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routes[id]
	if !ok {
		return domain.Route{}, errors.Wrapf(domain.ErrNotFound, "route %q", id)
	}
	out := *r
	out.Stops = slices.Clone(r.Stops)
	return out, nil
}

func (s *MemoryStore) ListBuses(_ context.Context, opts ListOptions) ([]domain.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.getCandidates(opts)

	result := make([]domain.Bus, 0, len(candidates))
	for _, id := range s.busOrder {
		if _, ok := candidates[id]; !ok {
			continue
		}
		result = append(result, *s.buses[id])
	}
	return result, nil
}

func (s *MemoryStore) UpdateBus(_ context.Context, id string, pos domain.BusPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buses[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "bus %q", id)
	}
	b.Apply(pos)
	return nil
}

func (s *MemoryStore) AppendLocation(_ context.Context, u domain.LocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, u)
	return nil
}

func (s *MemoryStore) CountLocations(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.locations)), nil
}

// Locations returns a copy of the history for one bus, oldest first.
func (s *MemoryStore) Locations(busID string) []domain.LocationUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.LocationUpdate
	for _, u := range s.locations {
		if u.BusID == busID {
			result = append(result, u)
		}
	}
	return result
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) getCandidates(opts ListOptions) map[string]struct{} {
	if opts.Status != nil && opts.RouteID != "" {
		return intersect(s.byStatus[*opts.Status], s.byRoute[opts.RouteID])
	}
	if opts.Status != nil {
		return copySet(s.byStatus[*opts.Status])
	}
	if opts.RouteID != "" {
		return copySet(s.byRoute[opts.RouteID])
	}

	result := make(map[string]struct{}, len(s.buses))
	for id := range s.buses {
		result[id] = struct{}{}
	}
	return result
}

func (s *MemoryStore) addToIndices(b *domain.Bus) {
	if s.byRoute[b.RouteID] == nil {
		s.byRoute[b.RouteID] = make(map[string]struct{})
	}
	s.byRoute[b.RouteID][b.ID] = struct{}{}

	if s.byStatus[b.Status] == nil {
		s.byStatus[b.Status] = make(map[string]struct{})
	}
	s.byStatus[b.Status][b.ID] = struct{}{}
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if a == nil || b == nil {
		return make(map[string]struct{})
	}

	smaller, larger := a, b
	if len(a) > len(b) {
		smaller, larger = b, a
	}

	result := make(map[string]struct{})
	for key := range smaller {
		if _, ok := larger[key]; ok {
			result[key] = struct{}{}
		}
	}
	return result
}

func copySet(src map[string]struct{}) map[string]struct{} {
	if src == nil {
		return make(map[string]struct{})
	}
	result := make(map[string]struct{}, len(src))
	for key := range src {
		result[key] = struct{}{}
	}
	return result
}
