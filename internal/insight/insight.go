package insight

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"busfleet/internal/domain"
)

const (
	SystemMessage = "You are an expert transportation analyst providing insights for bus fleet management in Indian cities."
	Fallback      = "AI insights temporarily unavailable. Manual analysis recommended for current fleet status."

	highOccupancy = 0.8
	lowOccupancy  = 0.3
)

// Generator turns a prompt into prose. pkg/llmapi.Client implements it.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Summary is the aggregate fleet picture handed to the generator.
type Summary struct {
	TotalBuses       int
	ActiveBuses      int
	OccupancyRate    float64 // percent of total capacity
	AverageOccupancy float64 // passengers per bus
	HighOccupancy    int
	LowOccupancy     int
	Routes           int
}

func Summarize(buses []domain.Bus, routes []domain.Route) Summary {
	s := Summary{TotalBuses: len(buses), Routes: len(routes)}

	var occupancy, capacity int
	for i := range buses {
		b := &buses[i]
		if b.Status == domain.BusActive {
			s.ActiveBuses++
		}
		occupancy += b.CurrentOccupancy
		capacity += b.Capacity

		switch ratio := b.OccupancyRatio(); {
		case ratio > highOccupancy:
			s.HighOccupancy++
		case ratio < lowOccupancy:
			s.LowOccupancy++
		}
	}

	if s.TotalBuses > 0 {
		s.AverageOccupancy = float64(occupancy) / float64(s.TotalBuses)
	}
	if capacity > 0 {
		s.OccupancyRate = float64(occupancy) / float64(capacity) * 100
	}
	return s
}

func (s Summary) Prompt() string {
	return fmt.Sprintf(`Analyze this bus fleet data and provide 3-4 actionable insights:

Fleet Overview:
- Total buses: %d
- Active buses: %d
- Overall occupancy rate: %.1f%%
- Average occupancy per bus: %.1f passengers

High occupancy buses (>80%%): %d
Low occupancy buses (<30%%): %d

Route coverage: %d routes across Indian cities

Provide specific, actionable recommendations for:
1. Route optimization
2. Fleet deployment
3. Crowd management
4. Operational efficiency

Keep response concise and practical for fleet managers.`,
		s.TotalBuses, s.ActiveBuses, s.OccupancyRate, s.AverageOccupancy,
		s.HighOccupancy, s.LowOccupancy, s.Routes)
}

type Insights struct {
	Text        string    `json:"insights"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Adapter never fails: generator errors degrade to the Fallback text.
type Adapter struct {
	gen    Generator
	now    func() time.Time
	logger *slog.Logger
}

// NewAdapter accepts a nil generator, in which case every call falls back.
func NewAdapter(gen Generator, logger *slog.Logger) *Adapter {
	return &Adapter{
		gen:    gen,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "insight"),
	}
}

func (a *Adapter) Insights(ctx context.Context, buses []domain.Bus, routes []domain.Route) Insights {
	text, err := a.generate(ctx, Summarize(buses, routes))
	if err != nil {
		a.logger.Error("generating insights", "error", err)
		text = Fallback
	}
	return Insights{Text: text, GeneratedAt: a.now()}
}

func (a *Adapter) generate(ctx context.Context, s Summary) (string, error) {
	if a.gen == nil {
		return "", errors.Wrap(domain.ErrUpstreamUnavailable, "no insight generator configured")
	}
	text, err := a.gen.Generate(ctx, SystemMessage, s.Prompt())
	if err != nil {
		return "", errors.Wrapf(domain.ErrUpstreamUnavailable, "insight generator: %v", err)
	}
	return text, nil
}
