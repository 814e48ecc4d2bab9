package publisher

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/domain"
)

type countingMetrics struct {
	published, errs, observed int
	connected                 bool
}

func (m *countingMetrics) NATSPublishedInc()            { m.published++ }
func (m *countingMetrics) NATSPublishErrInc()           { m.errs++ }
func (m *countingMetrics) PublishObserve(time.Duration) { m.observed++ }
func (m *countingMetrics) NATSSetConnected(c bool)      { m.connected = c }

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"route-1", "route-1"},
		{" Red Line ", "Red_Line"},
		{"a.b", "a_b"},
		{"*", "_"},
		{">", "_"},
		{"x/y", "x_y"},
		{"", "_"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, subjectToken(tc.in), "input %q", tc.in)
	}
}

func TestNATSPublisher_Subject(t *testing.T) {
	p := &NATSPublisher{prefix: DefaultSubjectPrefix}
	assert.Equal(t, "busfleet.location.r_1.bus-9", p.Subject("r.1", "bus-9"))
}

func TestNewLocationMessage(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	bus := domain.Bus{
		ID: "b1", BusNumber: "BUS-DEL-11", RouteID: "r1", Capacity: 50,
		CurrentStopIndex: 2, Direction: domain.Backward,
	}
	u := domain.LocationUpdate{BusID: "b1", Lat: 28.6, Lng: 77.2, Occupancy: 31, Timestamp: ts}

	assert.Equal(t, LocationMessage{
		BusID: "b1", BusNumber: "BUS-DEL-11", RouteID: "r1", Timestamp: ts,
		Lat: 28.6, Lng: 77.2, Occupancy: 31, Capacity: 50, StopIndex: 2, Direction: -1,
	}, NewLocationMessage(bus, u))
}

func TestNATSPublisher_PublishWithoutConnection(t *testing.T) {
	m := &countingMetrics{}
	p := &NATSPublisher{
		prefix:  DefaultSubjectPrefix,
		metrics: m,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := p.PublishLocation(domain.Bus{ID: "b1", RouteID: "r1"}, domain.LocationUpdate{BusID: "b1"})
	require.Error(t, err)
	assert.Equal(t, 1, m.errs)
	assert.Equal(t, 1, m.observed)
	assert.Zero(t, m.published)
}
