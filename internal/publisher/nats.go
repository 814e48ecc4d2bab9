package publisher

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"busfleet/internal/domain"
)

const DefaultSubjectPrefix = "busfleet.location"

// NATSPublisher emits each persisted bus position on
// <prefix>.<route>.<bus>.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	metrics PublisherMetrics
	logger  *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "nats_publisher")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	nc, err := nats.Connect(url,
		nats.Name("busfleet"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, metrics: m, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type LocationMessage struct {
	BusID     string    `json:"busId"`
	BusNumber string    `json:"busNumber"`
	RouteID   string    `json:"routeId"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Occupancy int       `json:"occupancy"`
	Capacity  int       `json:"capacity"`
	StopIndex int       `json:"stopIndex"`
	Direction int       `json:"direction"`
}

func NewLocationMessage(bus domain.Bus, u domain.LocationUpdate) LocationMessage {
	return LocationMessage{
		BusID:     u.BusID,
		BusNumber: bus.BusNumber,
		RouteID:   bus.RouteID,
		Timestamp: u.Timestamp,
		Lat:       u.Lat,
		Lng:       u.Lng,
		Occupancy: u.Occupancy,
		Capacity:  bus.Capacity,
		StopIndex: bus.CurrentStopIndex,
		Direction: int(bus.Direction),
	}
}

func (p *NATSPublisher) Subject(routeID, busID string) string {
	return p.prefix + "." + subjectToken(routeID) + "." + subjectToken(busID)
}

func (p *NATSPublisher) PublishLocation(bus domain.Bus, u domain.LocationUpdate) error {
	subject := p.Subject(bus.RouteID, u.BusID)
	b, err := json.Marshal(NewLocationMessage(bus, u))
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain whitespace, wildcards or separators
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
