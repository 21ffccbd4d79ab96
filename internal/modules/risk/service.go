package risk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const (
	// CacheTTL bounds how long an in-process result stays hot before the
	// persistent store is consulted again.
	CacheTTL = 15 * time.Minute

	// priceFetchConcurrency caps parallel upstream price fetches.
	priceFetchConcurrency = 8

	// calendarFactor converts a trading-day window into calendar days of
	// price history, covering weekends and holidays.
	calendarFactor = 1.6

	// minCoveredWeight is the share of gross exposure that must survive the
	// strict full-window admission pass. Below it the history floor relaxes
	// to DefaultMinHistory and admission is retried.
	minCoveredWeight = 0.90
)

// PositionSource provides the current portfolio.
type PositionSource interface {
	Current(ctx context.Context) ([]Position, error)
}

// PriceSource provides daily price history from the price store and can
// fetch missing symbols from upstream.
type PriceSource interface {
	History(ctx context.Context, symbol string, days int) ([]PriceBar, error)
	FetchAndStore(ctx context.Context, symbol string, days int) error
}

// FxSource provides USD-per-unit-foreign-currency daily series.
type FxSource interface {
	History(ctx context.Context, pair string, days int) ([]PriceBar, error)
}

// SecuritySource provides currency/listing metadata per symbol.
type SecuritySource interface {
	FxInfoFor(ctx context.Context, symbols []string) (map[string]FxInfo, error)
}

// Request selects one risk computation.
type Request struct {
	Window int
	Method CovarianceMethod
	Force  bool
}

// Service orchestrates the full risk computation: positions in, cached
// RiskPack out.
type Service struct {
	positions  PositionSource
	prices     PriceSource
	fx         FxSource
	securities SecuritySource
	cache      *CacheRepository
	memCache   *TTLCache
	stress     *StressRunner
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates the risk orchestrator.
func NewService(
	positions PositionSource,
	prices PriceSource,
	fx FxSource,
	securities SecuritySource,
	cache *CacheRepository,
	log zerolog.Logger,
) *Service {
	now := time.Now
	return &Service{
		positions:  positions,
		prices:     prices,
		fx:         fx,
		securities: securities,
		cache:      cache,
		memCache:   NewTTLCache(CacheTTL, now),
		stress:     NewStressRunner(log),
		log:        log.With().Str("service", "risk").Logger(),
		now:        now,
	}
}

// PortfolioHash computes a stable hash of portfolio composition: sorted
// (symbol, quantity) pairs, zero positions ignored. A changed portfolio
// changes the hash, implicitly invalidating every cached result.
func PortfolioHash(positions []Position) string {
	pairs := make([]string, 0, len(positions))
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("%s:%.6f", p.Symbol, p.Quantity))
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// UniverseHash hashes the valid symbol set.
func UniverseHash(symbols []string) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// ComputeRiskPack runs the full pipeline for one (window, method) request,
// consulting the cache first unless forced.
func (s *Service) ComputeRiskPack(ctx context.Context, req Request) (*RiskPack, error) {
	if req.Window <= 0 {
		req.Window = DefaultWindow
	}

	positions, err := s.positions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	live := positions[:0]
	for _, p := range positions {
		if p.Quantity != 0 {
			live = append(live, p)
		}
	}
	positions = live

	asofDate := s.now().Format("2006-01-02")
	hash := PortfolioHash(positions)
	method := req.Method.String()

	if len(positions) == 0 {
		return s.emptyPack(req, asofDate, hash, nil, "no_positions"), nil
	}

	cacheKey := fmt.Sprintf("%s|%s|%d|%s|%s", ResultTypeRiskPack, asofDate, req.Window, method, hash)
	if !req.Force {
		var cached RiskPack
		if s.memCache.Get(cacheKey, &cached) {
			return &cached, nil
		}
		if pack, err := s.cache.Get(ResultTypeRiskPack, asofDate, req.Window, method, hash); err != nil {
			s.log.Warn().Err(err).Msg("Cache lookup failed, recomputing")
		} else if pack != nil {
			_ = s.memCache.Set(cacheKey, pack)
			return pack, nil
		}
	}

	started := s.now()
	pack, err := s.compute(ctx, req, positions, asofDate, hash)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int("window", req.Window).
		Str("method", method).
		Int("valid_symbols", pack.Metadata.NumValidSymbols).
		Dur("elapsed", s.now().Sub(started)).
		Msg("Risk pack computed")

	// Best effort: a cache write failure never loses the computed result.
	if err := s.cache.Put(ResultTypeRiskPack, asofDate, req.Window, method, hash, pack); err != nil {
		s.log.Error().Err(err).Msg("Failed to cache risk result")
	}
	_ = s.memCache.Set(cacheKey, pack)

	return pack, nil
}

func (s *Service) compute(ctx context.Context, req Request, positions []Position, asofDate, hash string) (*RiskPack, error) {
	symbols := make([]string, 0, len(positions))
	mv := make(map[string]float64, len(positions))
	sectors := make(map[string]string, len(positions))
	portfolioValue := 0.0
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
		mv[p.Symbol] = p.MarketValue
		sectors[p.Symbol] = p.Sector
		portfolioValue += p.MarketValue
	}
	sort.Strings(symbols)

	calendarDays := int(float64(req.Window) * calendarFactor)

	prices := s.loadPrices(ctx, symbols, calendarDays, true)
	factorPrices := s.loadPrices(ctx, FactorSymbols, calendarDays, false)

	securityInfo, err := s.securities.FxInfoFor(ctx, symbols)
	if err != nil {
		s.log.Warn().Err(err).Msg("Security FX metadata unavailable, treating all symbols as USD")
		securityInfo = map[string]FxInfo{}
	}
	fxRates := s.loadFxRates(ctx, securityInfo, calendarDays)

	// Two-pass admission: first demand full-window history, and only relax
	// the floor to DefaultMinHistory when the strict pass loses more than
	// 10% of gross exposure.
	returns, fxFlags, excluded := BuildFXAwareReturns(prices, fxRates, securityInfo, req.Window, req.Window)
	if covered := coveredWeight(mv, returns); covered < minCoveredWeight && DefaultMinHistory < req.Window {
		s.log.Info().
			Int("window", req.Window).
			Float64("covered_weight", covered).
			Msg("Full-window coverage too thin, relaxing history floor")
		returns, fxFlags, excluded = BuildFXAwareReturns(prices, fxRates, securityInfo, req.Window, DefaultMinHistory)
	}
	for _, sym := range symbols {
		if _, ok := returns[sym]; !ok {
			if _, already := excluded[sym]; !already {
				excluded[sym] = "no_price_data"
			}
		}
	}

	validSymbols := make([]string, 0, len(returns))
	for sym := range returns {
		validSymbols = append(validSymbols, sym)
	}
	sort.Strings(validSymbols)

	if len(validSymbols) == 0 {
		return s.emptyPack(req, asofDate, hash, excluded, "no_valid_symbols"), nil
	}

	cov, effectiveWindow, droppedByFallback, err := s.estimateCovariance(returns, validSymbols, req)
	if err != nil {
		return s.emptyPack(req, asofDate, hash, excluded, err.Error()), nil
	}
	for _, sym := range droppedByFallback {
		excluded[sym] = "insufficient_overlap"
	}
	validSymbols = cov.Symbols

	// Align weights to the surviving universe and renormalize by gross.
	weights := make([]float64, len(validSymbols))
	gross := 0.0
	for _, sym := range validSymbols {
		gross += math.Abs(mv[sym])
	}
	if gross == 0 {
		return s.emptyPack(req, asofDate, hash, excluded, ErrZeroGrossExposure.Error()), nil
	}
	for i, sym := range validSymbols {
		weights[i] = mv[sym] / gross
	}

	summary, err := BuildRiskSummary(weights, cov, validSymbols, portfolioValue)
	if err != nil {
		return nil, fmt.Errorf("failed to build risk summary: %w", err)
	}

	standaloneVols := make(map[string]float64, len(validSymbols))
	for _, sym := range validSymbols {
		v := stat.Variance(returns[sym].Values, nil)
		standaloneVols[sym] = math.Sqrt(v) * math.Sqrt(TradingDaysPerYear) * 100
	}
	contributors, err := BuildRiskContributors(weights, cov, validSymbols, standaloneVols)
	if err != nil {
		return nil, fmt.Errorf("failed to build risk contributors: %w", err)
	}

	pairs, clusters := s.correlationBlock(returns, validSymbols, weights)

	validReturns := make(map[string]ReturnSeries, len(validSymbols))
	for _, sym := range validSymbols {
		validReturns[sym] = returns[sym]
	}
	factorReturns, _ := BuildPerSymbolReturns(factorPrices, req.Window, 2)
	stressPack := s.stress.RunAll(validReturns, factorReturns, weights, validSymbols, portfolioValue, prices, sectors)

	quality := BuildQualityPack(positions, prices, returns, symbols, validSymbols, securityInfo, fxFlags, stressPack, s.now())

	var performance *PerformanceStats
	if perfAligned, _ := AlignReturns(validReturns, DefaultMinHistory); perfAligned.Cols() > 0 {
		perfAligned = TrimToWindow(perfAligned, req.Window)
		perfWeights := make([]float64, perfAligned.Cols())
		for j, sym := range perfAligned.Symbols {
			perfWeights[j] = mv[sym] / gross
		}
		performance = BuildPerformanceStats(perfAligned, perfWeights)
	}

	fxAdjusted := 0
	for _, sym := range validSymbols {
		if securityInfo[sym].NeedsFxAdjustment() {
			if _, flagged := fxFlags[sym]; !flagged {
				fxAdjusted++
			}
		}
	}

	return &RiskPack{
		Summary:          summary,
		Contributors:     contributors,
		CorrelationPairs: pairs,
		Clusters:         clusters,
		Stress:           stressPack,
		Performance:      performance,
		Quality:          quality,
		Metadata: Metadata{
			Window:          req.Window,
			EffectiveWindow: effectiveWindow,
			Method:          req.Method.String(),
			AsofDate:        asofDate,
			PortfolioHash:   hash,
			UniverseHash:    UniverseHash(validSymbols),
			NumPositions:    len(positions),
			NumValidSymbols: len(validSymbols),
			PortfolioValue:  portfolioValue,
			ExcludedSymbols: sortedKeys(excluded),
			FxAdjustedCount: fxAdjusted,
		},
	}, nil
}

// estimateCovariance runs the method-appropriate estimator. Ledoit-Wolf goes
// through pairwise-overlap assembly first so unequal histories all
// contribute; insufficient overlap or a degenerate result falls back to the
// aligned estimator (which may drop thin symbols). EWMA always needs an
// aligned matrix.
func (s *Service) estimateCovariance(returns map[string]ReturnSeries, validSymbols []string, req Request) (*CovarianceMatrix, int, []string, error) {
	series := make(map[string]ReturnSeries, len(validSymbols))
	longest := 0
	for _, sym := range validSymbols {
		series[sym] = returns[sym]
		if l := returns[sym].Len(); l > longest {
			longest = l
		}
	}
	effectiveWindow := req.Window
	if longest < effectiveWindow {
		effectiveWindow = longest
	}

	if req.Method.Kind == MethodLedoitWolf {
		cov, err := PairwiseCov(series, validSymbols, DefaultPairwiseOptions(req.Window, DefaultMinHistory))
		if err == nil && !IsDegenerate(cov) {
			return cov, effectiveWindow, nil, nil
		}

		var overlapErr *OverlapError
		switch {
		case err == nil:
			s.log.Warn().Float64("avg_abs_corr", AvgAbsOffDiagCorr(cov)).
				Msg("Degenerate pairwise correlation, falling back to aligned Ledoit-Wolf")
		case errors.As(err, &overlapErr):
			s.log.Warn().Err(err).Msg("Insufficient pairwise overlap, falling back to aligned Ledoit-Wolf")
		default:
			return nil, 0, nil, err
		}
	}

	aligned, dropped := AlignReturns(series, DefaultMinHistory)
	if aligned.Cols() == 0 {
		return nil, 0, dropped, fmt.Errorf("no overlapping history across valid symbols")
	}
	aligned = TrimToWindow(aligned, req.Window)

	cov, err := EstimateCovariance(aligned, req.Method)
	if err != nil {
		return nil, 0, dropped, err
	}
	return cov, aligned.Rows(), dropped, nil
}

// correlationBlock computes ranked pairs and exposure-weighted clusters on
// the aligned subset of the valid universe. Correlation failures degrade to
// empty lists; they never abort the pack.
func (s *Service) correlationBlock(returns map[string]ReturnSeries, validSymbols []string, weights []float64) ([]CorrelationPair, []Cluster) {
	series := make(map[string]ReturnSeries, len(validSymbols))
	for _, sym := range validSymbols {
		series[sym] = returns[sym]
	}
	aligned, _ := AlignReturns(series, DefaultMinHistory)
	if aligned.Cols() == 0 {
		return nil, nil
	}

	corr, err := CorrelationMatrix(aligned)
	if err != nil {
		s.log.Warn().Err(err).Msg("Correlation matrix failed")
		return nil, nil
	}

	pairs := TopCorrelatedPairs(corr, DefaultTopPairs)

	clusters, err := HierarchicalClusters(corr, DefaultMaxClusters)
	if err != nil {
		s.log.Warn().Err(err).Msg("Clustering failed")
		return pairs, nil
	}
	if err := ClusterExposures(clusters, weights, validSymbols); err != nil {
		s.log.Warn().Err(err).Msg("Cluster exposure computation failed")
	}
	return pairs, clusters.Clusters
}

// loadPrices fetches price history for symbols in parallel. For portfolio
// symbols a miss triggers one upstream fetch-and-retry; factor proxies are
// read as-is.
func (s *Service) loadPrices(ctx context.Context, symbols []string, days int, fetchMissing bool) map[string][]PriceBar {
	out := make(map[string][]PriceBar, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, priceFetchConcurrency)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			bars, err := s.prices.History(ctx, symbol, days)
			if (err != nil || len(bars) == 0) && fetchMissing {
				if ferr := s.prices.FetchAndStore(ctx, symbol, days); ferr != nil {
					s.log.Warn().Err(ferr).Str("symbol", symbol).Msg("Upstream price fetch failed")
				} else {
					bars, err = s.prices.History(ctx, symbol, days)
				}
			}
			if err != nil {
				s.log.Warn().Err(err).Str("symbol", symbol).Msg("Price history unavailable")
				return
			}
			if len(bars) == 0 {
				return
			}

			mu.Lock()
			out[symbol] = bars
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()
	return out
}

// loadFxRates fetches the FX series needed by the non-USD part of the
// universe.
func (s *Service) loadFxRates(ctx context.Context, securityInfo map[string]FxInfo, days int) map[string][]PriceBar {
	pairs := make(map[string]bool)
	for _, info := range securityInfo {
		if info.NeedsFxAdjustment() {
			pairs[info.FxPair] = true
		}
	}

	out := make(map[string][]PriceBar, len(pairs))
	for pair := range pairs {
		bars, err := s.fx.History(ctx, pair, days)
		if err != nil {
			s.log.Warn().Err(err).Str("pair", pair).Msg("FX history unavailable")
			continue
		}
		if len(bars) > 0 {
			out[pair] = bars
		}
	}
	return out
}

// emptyPack builds a well-formed zero-value result carrying the failure
// reason in metadata. Served instead of an error so the API degrades rather
// than 500s when the portfolio has no usable data.
func (s *Service) emptyPack(req Request, asofDate, hash string, excluded map[string]string, reason string) *RiskPack {
	return &RiskPack{
		Summary:          &RiskSummary{Top5Names: []string{}},
		Contributors:     []RiskContributor{},
		CorrelationPairs: []CorrelationPair{},
		Clusters:         []Cluster{},
		Stress: StressPack{
			Historical: map[string]StressResult{},
			Factor:     map[string]StressResult{},
			ComputedAt: s.now().UTC().Format(time.RFC3339),
		},
		Metadata: Metadata{
			Window:          req.Window,
			Method:          req.Method.String(),
			AsofDate:        asofDate,
			PortfolioHash:   hash,
			ExcludedSymbols: sortedKeys(excluded),
			Error:           reason,
		},
	}
}

// coveredWeight is the share of gross exposure whose symbols produced a
// usable return series.
func coveredWeight(mv map[string]float64, returns map[string]ReturnSeries) float64 {
	gross, covered := 0.0, 0.0
	for sym, v := range mv {
		gross += math.Abs(v)
		if _, ok := returns[sym]; ok {
			covered += math.Abs(v)
		}
	}
	if gross == 0 {
		return 0
	}
	return covered / gross
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
