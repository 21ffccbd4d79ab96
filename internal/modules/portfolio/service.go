package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/quantfold/riskdesk/internal/events"
	"github.com/quantfold/riskdesk/internal/modules/risk"
)

// Service exposes the current portfolio to consumers, including the risk
// engine (it implements risk.PositionSource).
type Service struct {
	repo   *PositionRepository
	events *events.Manager
	log    zerolog.Logger
}

// NewService creates a new portfolio service.
func NewService(repo *PositionRepository, ev *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: ev,
		log:    log.With().Str("service", "portfolio").Logger(),
	}
}

// Current returns the portfolio as risk engine positions.
func (s *Service) Current(ctx context.Context) ([]risk.Position, error) {
	positions, err := s.repo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	out := make([]risk.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, risk.Position{
			Symbol:      p.Symbol,
			Quantity:    p.Quantity,
			MarketValue: p.MarketValue,
			AvgCost:     p.AvgCost,
			Sector:      p.Sector,
			Country:     p.Country,
			Currency:    p.Currency,
		})
	}
	return out, nil
}

// Summary computes the exposure snapshot over current positions.
func (s *Service) Summary() (Summary, error) {
	positions, err := s.repo.GetAll()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load positions: %w", err)
	}

	summary := Summary{}
	bySector := make(map[string]*SectorExposure)
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		summary.NumPositions++
		if p.Quantity > 0 {
			summary.NumLong++
		} else {
			summary.NumShort++
		}
		summary.TotalValue += p.MarketValue
		summary.GrossExposure += math.Abs(p.MarketValue)
		summary.NetExposure += p.MarketValue

		sector := p.Sector
		if sector == "" {
			sector = "Unknown"
		}
		exp, ok := bySector[sector]
		if !ok {
			exp = &SectorExposure{Sector: sector}
			bySector[sector] = exp
		}
		exp.Value += p.MarketValue
		exp.NumHolding++
	}

	for _, exp := range bySector {
		if summary.GrossExposure > 0 {
			exp.WeightPct = math.Abs(exp.Value) / summary.GrossExposure * 100
		}
		summary.BySector = append(summary.BySector, *exp)
	}
	sort.SliceStable(summary.BySector, func(a, b int) bool {
		return math.Abs(summary.BySector[a].Value) > math.Abs(summary.BySector[b].Value)
	})

	return summary, nil
}

// Sync replaces the stored portfolio with a fresh broker snapshot.
func (s *Service) Sync(positions []Position) error {
	if err := s.repo.ReplaceAll(positions); err != nil {
		return err
	}
	s.events.Emit(events.PortfolioSynced, "portfolio", map[string]interface{}{
		"positions": len(positions),
	})
	return nil
}
