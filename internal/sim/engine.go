package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"busfleet/internal/domain"
	"busfleet/internal/metrics"
	"busfleet/internal/store"
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultErrorBackoff = 5 * time.Second
)

type Broadcaster interface {
	Broadcast(deltas []domain.BusDelta)
}

type LocationPublisher interface {
	PublishLocation(bus domain.Bus, u domain.LocationUpdate) error
}

type Options struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	Rand         Random
	Now          func() time.Time

	Metrics     *metrics.Collector
	Publisher   LocationPublisher
	Broadcaster Broadcaster
}

// Engine owns the movement simulation loop. One sweep visits every active
// bus; sweeps start Interval apart while the engine is running.
type Engine struct {
	store        store.Store
	interval     time.Duration
	errorBackoff time.Duration
	rnd          Random
	now          func() time.Time
	metrics      *metrics.Collector
	publisher    LocationPublisher
	broadcaster  Broadcaster
	logger       *slog.Logger

	// base outlives individual runs; only Shutdown cancels it
	base       context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	stopCh chan struct{} // nil while stopped
	done   chan struct{} // closed when the latest run has exited
	wg     sync.WaitGroup

	reportMu   sync.RWMutex
	lastReport SweepReport
}

func NewEngine(s store.Store, opts Options, logger *slog.Logger) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.Rand == nil {
		opts.Rand = globalRand{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:        s,
		interval:     opts.Interval,
		errorBackoff: opts.ErrorBackoff,
		rnd:          opts.Rand,
		now:          opts.Now,
		metrics:      opts.Metrics,
		publisher:    opts.Publisher,
		broadcaster:  opts.Broadcaster,
		logger:       logger.With("component", "movement_engine"),
		base:         base,
		cancelBase:   cancel,
	}
}

// Start launches the sweep loop. It returns false when the loop is already
// running or the engine has been shut down, in which case nothing changes.
// A loop started right after Stop holds its first sweep until the previous
// loop has exited.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopCh != nil {
		return false
	}
	if e.base.Err() != nil {
		return false
	}

	stopCh := make(chan struct{})
	prev, done := e.done, make(chan struct{})
	e.stopCh, e.done = stopCh, done
	e.wg.Add(1)
	if e.metrics != nil {
		e.metrics.SimulationRunning.Set(1)
	}

	go func() {
		defer e.wg.Done()
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-stopCh:
				return
			case <-e.base.Done():
				return
			}
		}
		e.run(stopCh)
	}()

	e.logger.Info("simulation started", "interval", e.interval)
	return true
}

// Stop asks the loop to exit. A sweep already in progress completes first.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopCh == nil {
		return false
	}
	close(e.stopCh)
	e.stopCh = nil
	if e.metrics != nil {
		e.metrics.SimulationRunning.Set(0)
	}

	e.logger.Info("simulation stopped")
	return true
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCh != nil
}

// Shutdown stops the loop and waits for it to exit. If ctx expires first the
// in-flight sweep is cancelled as well.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancelBase()
		return nil
	case <-ctx.Done():
		e.cancelBase()
		<-done
		return ctx.Err()
	}
}

func (e *Engine) LastReport() SweepReport {
	e.reportMu.RLock()
	defer e.reportMu.RUnlock()
	return e.lastReport
}

func (e *Engine) run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-e.base.Done():
			return
		default:
		}

		wait := e.interval
		report, err := e.Sweep(e.base)
		if err != nil {
			e.logger.Error("sweep failed, backing off", "error", err, "backoff", e.errorBackoff)
			if e.metrics != nil {
				e.metrics.SweepErrors.Inc()
			}
			wait = e.errorBackoff
		} else {
			wait -= report.Duration
		}

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-e.base.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

type Outcome string

const (
	OutcomeMoved   Outcome = "moved"
	OutcomeArrived Outcome = "arrived"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result is what happened to one bus during a sweep.
type Result struct {
	BusID   string
	Outcome Outcome
	Reason  string
	Err     error
	Bus     domain.Bus
}

type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Processed int           `json:"processed"`
	Moved     int           `json:"moved"`
	Arrived   int           `json:"arrived"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

func (r *SweepReport) add(res Result) {
	r.Processed++
	switch res.Outcome {
	case OutcomeMoved:
		r.Moved++
	case OutcomeArrived:
		r.Arrived++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// Sweep advances every active bus once, in store order. Per-bus failures are
// recorded in the report; only a failure to load the fleet returns an error.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	report := SweepReport{StartedAt: e.now()}

	buses, err := e.store.ListBuses(ctx, store.ActiveOnly())
	if err != nil {
		return report, errors.Wrap(err, "list active buses")
	}
	stops, err := e.store.ListStops(ctx)
	if err != nil {
		return report, errors.Wrap(err, "list stops")
	}

	paths := newPathResolver(e.store, stops)
	deltas := make([]domain.BusDelta, 0, len(buses))

	for _, bus := range buses {
		res := e.processBus(ctx, bus, paths)
		report.add(res)

		switch res.Outcome {
		case OutcomeSkipped:
			e.logger.Warn("bus skipped", "bus_id", bus.ID, "bus_number", bus.BusNumber, "reason", res.Reason)
		case OutcomeFailed:
			e.logger.Error("bus tick failed", "bus_id", bus.ID, "bus_number", bus.BusNumber, "error", res.Err)
		default:
			b := res.Bus
			deltas = append(deltas, domain.BusDelta{RouteID: b.RouteID, Bus: &b, Arrived: res.Outcome == OutcomeArrived})
		}
		if e.metrics != nil {
			e.metrics.BusOutcomes.WithLabelValues(string(res.Outcome)).Inc()
		}
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(deltas)
	}

	report.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.Sweeps.Inc()
		e.metrics.ActiveBuses.Set(float64(len(buses)))
		e.metrics.SweepDuration.Observe(report.Duration.Seconds())
	}

	e.reportMu.Lock()
	e.lastReport = report
	e.reportMu.Unlock()

	e.logger.Debug("sweep completed",
		"processed", report.Processed,
		"arrived", report.Arrived,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (e *Engine) processBus(ctx context.Context, bus domain.Bus, paths *pathResolver) (res Result) {
	res.BusID = bus.ID
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	path, reason, err := paths.resolve(ctx, bus.RouteID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	if reason != "" {
		res.Outcome = OutcomeSkipped
		res.Reason = reason
		return res
	}
	if bus.CurrentStopIndex < 0 || bus.CurrentStopIndex >= len(path) {
		res.Outcome = OutcomeSkipped
		res.Reason = fmt.Sprintf("stop index %d outside route of %d stops", bus.CurrentStopIndex, len(path))
		return res
	}

	moved, arrived := Advance(bus, path, e.rnd, e.now())

	if err := e.store.UpdateBus(ctx, moved.ID, moved.Position()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			res.Outcome = OutcomeSkipped
			res.Reason = "bus no longer in store"
			return res
		}
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	update := domain.LocationUpdate{
		BusID:     moved.ID,
		Lat:       moved.CurrentLat,
		Lng:       moved.CurrentLng,
		Occupancy: moved.CurrentOccupancy,
		Timestamp: moved.LastUpdated,
	}
	if err := e.store.AppendLocation(ctx, update); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	if e.metrics != nil {
		e.metrics.LocationUpdates.Inc()
	}

	if e.publisher != nil {
		if err := e.publisher.PublishLocation(moved, update); err != nil {
			e.logger.Debug("publish location failed", "bus_id", moved.ID, "error", err)
		}
	}

	res.Bus = moved
	res.Outcome = OutcomeMoved
	if arrived {
		res.Outcome = OutcomeArrived
	}
	return res
}

// pathResolver turns route IDs into ordered stop lists, caching per sweep.
type pathResolver struct {
	store store.Store
	stops map[string]domain.Stop
	paths map[string][]domain.Stop
	skips map[string]string
}

func newPathResolver(s store.Store, stops []domain.Stop) *pathResolver {
	byID := make(map[string]domain.Stop, len(stops))
	for _, st := range stops {
		byID[st.ID] = st
	}
	return &pathResolver{
		store: s,
		stops: byID,
		paths: make(map[string][]domain.Stop),
		skips: make(map[string]string),
	}
}

func (p *pathResolver) resolve(ctx context.Context, routeID string) ([]domain.Stop, string, error) {
	if path, ok := p.paths[routeID]; ok {
		return path, "", nil
	}
	if reason, ok := p.skips[routeID]; ok {
		return nil, reason, nil
	}

	route, err := p.store.GetRoute(ctx, routeID)
	if errors.Is(err, domain.ErrNotFound) {
		p.skips[routeID] = "route not found"
		return nil, p.skips[routeID], nil
	}
	if err != nil {
		return nil, "", err
	}
	if len(route.Stops) == 0 {
		p.skips[routeID] = "route has no stops"
		return nil, p.skips[routeID], nil
	}

	path := make([]domain.Stop, 0, len(route.Stops))
	for _, id := range route.Stops {
		st, ok := p.stops[id]
		if !ok {
			p.skips[routeID] = fmt.Sprintf("route references missing stop %s", id)
			return nil, p.skips[routeID], nil
		}
		path = append(path, st)
	}
	p.paths[routeID] = path
	return path, "", nil
}
