package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	SimulationRunning prometheus.Gauge
	ActiveBuses       prometheus.Gauge

	Sweeps        prometheus.Counter
	SweepErrors   prometheus.Counter
	SweepDuration prometheus.Histogram

	BusOutcomes     *prometheus.CounterVec // outcome label: moved|arrived|skipped|failed
	LocationUpdates prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	Reseeds      prometheus.Counter
	TickInterval prometheus.Gauge // seconds
}

func NewCollector(tickInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SimulationRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_simulation_running",
			Help: "1 while the movement engine loop is running, 0 otherwise.",
		}),
		ActiveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_active_buses",
			Help: "Number of active buses visited by the last sweep.",
		}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_sweeps_total",
			Help: "Total completed sweeps over the active fleet.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_sweep_errors_total",
			Help: "Total sweeps aborted by an engine-level failure.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busfleet_sweep_duration_seconds",
			Help:    "Duration of one sweep over all active buses.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		BusOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busfleet_bus_ticks_total",
			Help: "Per-bus tick results by outcome.",
		}, []string{"outcome"}),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_location_updates_total",
			Help: "Total location history records appended.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busfleet_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Reseeds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busfleet_reseeds_total",
			Help: "Total fleet reseeds.",
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busfleet_tick_interval_seconds",
			Help: "Configured interval between sweep starts.",
		}),
	}

	reg.MustRegister(
		c.SimulationRunning, c.ActiveBuses,
		c.Sweeps, c.SweepErrors, c.SweepDuration,
		c.BusOutcomes, c.LocationUpdates,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.Reseeds, c.TickInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.TickInterval.Set(tickInterval.Seconds())

	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// The methods below satisfy publisher.PublisherMetrics.

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}
