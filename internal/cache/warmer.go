package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// CacheWarmer repopulates the catalog so the first readers after a reseed
// or restart do not all miss at once.
type CacheWarmer struct {
	catalog *Catalog
	logger  *slog.Logger
}

func NewCacheWarmer(catalog *Catalog, logger *slog.Logger) *CacheWarmer {
	return &CacheWarmer{
		catalog: catalog,
		logger:  logger.With("component", "cache_warmer"),
	}
}

func (w *CacheWarmer) WarmAll(ctx context.Context) error {
	if w.catalog.backend == nil {
		return nil
	}

	start := time.Now()
	w.logger.Info("starting cache warming")

	if err := w.catalog.Invalidate(ctx); err != nil {
		return errors.Wrap(err, "invalidate catalog")
	}

	stops, err := w.catalog.store.ListStops(ctx)
	if err != nil {
		return errors.Wrap(err, "list stops")
	}
	w.catalog.fill(ctx, KeyStops, stops, true)

	routes, err := w.catalog.store.ListRoutes(ctx)
	if err != nil {
		return errors.Wrap(err, "list routes")
	}
	w.catalog.fill(ctx, KeyRoutes, routes, true)

	warmed := 0
	for _, r := range routes {
		path, err := w.catalog.loadRouteStops(ctx, r.ID)
		if err != nil {
			w.logger.Debug("failed to warm route stops", "route_id", r.ID, "error", err)
			continue
		}
		w.catalog.fill(ctx, KeyRouteStops(r.ID), path, false)
		warmed++
	}

	w.logger.Info("cache warming completed",
		"stops", len(stops),
		"routes", len(routes),
		"routes_warmed", warmed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// ScheduleRefresh re-warms the catalog every interval until ctx is done.
func (w *CacheWarmer) ScheduleRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 || w.catalog.backend == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WarmAll(ctx); err != nil {
				w.logger.Error("cache refresh failed", "error", err)
			}
		}
	}
}
