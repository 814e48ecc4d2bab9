package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"busfleet/internal/domain"
	"busfleet/internal/store"
)

// Backend is the subset of RedisCache the catalog needs.
type Backend interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error)
	SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Catalog reads the static part of the network (stops and routes) through
// the cache. With a nil backend every read goes to the store. Cache failures
// are logged and fall through to the store.
type Catalog struct {
	backend Backend
	store   store.Store
	ttl     time.Duration
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCatalog(backend Backend, s store.Store, ttl time.Duration, logger *slog.Logger) *Catalog {
	return &Catalog{
		backend: backend,
		store:   s,
		ttl:     ttl,
		logger:  logger.With("component", "catalog"),
	}
}

type CatalogStats struct {
	Enabled bool  `json:"enabled"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func (c *Catalog) Stats() CatalogStats {
	return CatalogStats{
		Enabled: c.backend != nil,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (c *Catalog) Stops(ctx context.Context) ([]domain.Stop, error) {
	var stops []domain.Stop
	if c.lookup(ctx, KeyStops, &stops, true) {
		return stops, nil
	}
	stops, err := c.store.ListStops(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, KeyStops, stops, true)
	return stops, nil
}

func (c *Catalog) Routes(ctx context.Context) ([]domain.Route, error) {
	var routes []domain.Route
	if c.lookup(ctx, KeyRoutes, &routes, true) {
		return routes, nil
	}
	routes, err := c.store.ListRoutes(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, KeyRoutes, routes, true)
	return routes, nil
}

// RouteStops resolves a route's stop ids into stops, in route order.
func (c *Catalog) RouteStops(ctx context.Context, routeID string) ([]domain.Stop, error) {
	var stops []domain.Stop
	key := KeyRouteStops(routeID)
	if c.lookup(ctx, key, &stops, false) {
		return stops, nil
	}

	stops, err := c.loadRouteStops(ctx, routeID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, stops, false)
	return stops, nil
}

func (c *Catalog) loadRouteStops(ctx context.Context, routeID string) ([]domain.Stop, error) {
	route, err := c.store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	stops := make([]domain.Stop, 0, len(route.Stops))
	for _, id := range route.Stops {
		st, err := c.store.GetStop(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "route %s", routeID)
		}
		stops = append(stops, st)
	}
	return stops, nil
}

// Invalidate drops every cached entry. Call it after a reseed.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	return c.backend.DeletePattern(ctx, "*")
}

func (c *Catalog) lookup(ctx context.Context, key string, dest any, compressed bool) bool {
	if c.backend == nil {
		return false
	}

	var (
		ok  bool
		err error
	)
	if compressed {
		ok, err = c.backend.GetJSONCompressed(ctx, key, dest)
	} else {
		ok, err = c.backend.GetJSON(ctx, key, dest)
	}
	if err != nil {
		c.logger.Warn("cache read failed, using store", "key", key, "error", err)
	}
	if ok && err == nil {
		c.hits.Add(1)
		return true
	}
	c.misses.Add(1)
	return false
}

func (c *Catalog) fill(ctx context.Context, key string, value any, compressed bool) {
	if c.backend == nil {
		return
	}

	var err error
	if compressed {
		err = c.backend.SetJSONCompressed(ctx, key, value, c.ttl)
	} else {
		err = c.backend.SetJSON(ctx, key, value, c.ttl)
	}
	if err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
