package marketdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantfold/riskdesk/internal/clients/yahoo"
	"github.com/quantfold/riskdesk/internal/modules/risk"
)

// Service fronts the price store: reads serve from SQLite, misses fall
// through to Yahoo Finance and are written back. It implements the risk
// engine's PriceSource; FxSource and SecuritySource are exposed as adapters.
type Service struct {
	prices     *PriceRepository
	fx         *FxRepository
	securities *SecurityRepository
	client     *yahoo.Client
	log        zerolog.Logger
}

// NewService creates a new market data service.
func NewService(
	prices *PriceRepository,
	fx *FxRepository,
	securities *SecurityRepository,
	client *yahoo.Client,
	log zerolog.Logger,
) *Service {
	return &Service{
		prices:     prices,
		fx:         fx,
		securities: securities,
		client:     client,
		log:        log.With().Str("service", "marketdata").Logger(),
	}
}

// History returns stored daily bars for a symbol.
func (s *Service) History(ctx context.Context, symbol string, days int) ([]risk.PriceBar, error) {
	rows, err := s.prices.History(symbol, days)
	if err != nil {
		return nil, err
	}
	return toPriceBars(rows), nil
}

// FetchAndStore pulls daily history from upstream and persists it, refreshing
// the symbol's security metadata on first sight.
func (s *Service) FetchAndStore(ctx context.Context, symbol string, days int) error {
	bars, err := s.client.DailyHistory(ctx, symbol, days)
	if err != nil {
		return fmt.Errorf("upstream fetch for %s failed: %w", symbol, err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("upstream returned no bars for %s", symbol)
	}

	rows := make([]PriceRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, PriceRow{
			Date:     b.Date.Format("2006-01-02"),
			Close:    b.Close,
			AdjClose: b.AdjClose,
		})
	}
	if err := s.prices.UpsertBars(symbol, rows); err != nil {
		return err
	}

	s.ensureProfile(ctx, symbol)
	return nil
}

// ensureProfile stores currency/classification metadata for symbols the
// store has never seen. Failures are logged, not fatal: a missing profile
// just means the symbol is treated as USD-listed.
func (s *Service) ensureProfile(ctx context.Context, symbol string) {
	existing, err := s.securities.Get(symbol)
	if err != nil || existing != nil {
		return
	}

	profile, err := s.client.Profile(ctx, symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Security profile fetch failed")
		return
	}

	currency := strings.ToUpper(profile.Currency)
	if currency == "" {
		currency = "USD"
	}
	row := SecurityRow{
		Symbol:      symbol,
		Currency:    currency,
		IsUSDListed: currency == "USD",
		Sector:      profile.Sector,
		Country:     profile.Country,
		Exchange:    profile.Exchange,
	}
	if !row.IsUSDListed {
		row.FxPair = currency + "USD"
	}
	if err := s.securities.Upsert(row); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Security profile store failed")
	}
}

// RefreshAll re-fetches history for every stored symbol plus the given
// extras. Used by the scheduled refresh job; per-symbol failures are logged
// and skipped.
func (s *Service) RefreshAll(ctx context.Context, extras []string, days int) {
	symbols, err := s.prices.Symbols()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list stored symbols")
		return
	}

	seen := make(map[string]bool, len(symbols)+len(extras))
	for _, sym := range append(symbols, extras...) {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if err := s.FetchAndStore(ctx, sym, days); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("Price refresh failed")
		}
	}
	s.log.Info().Int("symbols", len(seen)).Msg("Price refresh complete")
}

// FxSource returns the FX adapter for the risk engine.
func (s *Service) FxSource() risk.FxSource { return fxSource{s} }

// SecuritySource returns the security metadata adapter for the risk engine.
func (s *Service) SecuritySource() risk.SecuritySource { return securitySource{s} }

type fxSource struct{ s *Service }

// History serves an FX pair from the store, fetching from upstream on a
// miss. Yahoo quotes FX pairs with an "=X" suffix (EURUSD=X).
func (f fxSource) History(ctx context.Context, pair string, days int) ([]risk.PriceBar, error) {
	rows, err := f.s.fx.History(pair, days)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		bars, err := f.s.client.DailyHistory(ctx, pair+"=X", days)
		if err != nil {
			return nil, fmt.Errorf("upstream fx fetch for %s failed: %w", pair, err)
		}
		rows = make([]PriceRow, 0, len(bars))
		for _, b := range bars {
			rows = append(rows, PriceRow{
				Date:     b.Date.Format("2006-01-02"),
				Close:    b.Close,
				AdjClose: b.AdjClose,
			})
		}
		if err := f.s.fx.UpsertRates(pair, rows); err != nil {
			f.s.log.Warn().Err(err).Str("pair", pair).Msg("FX store failed")
		}
	}
	return toPriceBars(rows), nil
}

type securitySource struct{ s *Service }

func (s securitySource) FxInfoFor(ctx context.Context, symbols []string) (map[string]risk.FxInfo, error) {
	return s.s.securities.FxInfoMap(symbols)
}

func toPriceBars(rows []PriceRow) []risk.PriceBar {
	out := make([]risk.PriceBar, 0, len(rows))
	for _, r := range rows {
		out = append(out, risk.PriceBar{Date: r.Date, Close: r.Close, AdjClose: r.AdjClose})
	}
	return out
}
