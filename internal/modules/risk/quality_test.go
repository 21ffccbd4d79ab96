package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qualityPositions() []Position {
	return []Position{
		{Symbol: "AAA", Quantity: 100, MarketValue: 60_000, Sector: "Tech", Country: "US", Currency: "USD"},
		{Symbol: "BBB", Quantity: 50, MarketValue: 30_000, Sector: "Energy", Country: "US", Currency: "USD"},
		{Symbol: "CCC", Quantity: 20, MarketValue: 10_000, Sector: "", Country: "", Currency: "EUR"},
	}
}

func TestComputeCoverageMetrics(t *testing.T) {
	positions := qualityPositions()
	returns := map[string]ReturnSeries{
		"AAA": seriesOf(make([]float64, 200)),
		"BBB": seriesOf(make([]float64, 200)),
		"CCC": seriesOf(make([]float64, 20)), // too thin, excluded
	}
	symbols := []string{"AAA", "BBB", "CCC"}
	validSymbols := []string{"AAA", "BBB"}

	cov := ComputeCoverageMetrics(positions, returns, symbols, validSymbols, 252, 60)

	assert.Equal(t, 252, cov.Window)
	assert.Equal(t, 2, cov.IncludedCount)
	assert.Equal(t, 1, cov.ExcludedCount)
	// 10k of 100k gross.
	assert.InDelta(t, 10, cov.ExcludedExposurePct, 1e-9)
	require.Len(t, cov.TopExcluded, 1)
	assert.Equal(t, "CCC", cov.TopExcluded[0].Symbol)
	assert.Contains(t, cov.TopExcluded[0].Reason, "insufficient_history")
}

func TestComputeIntegrityMetrics(t *testing.T) {
	asof := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	positions := []Position{
		{Symbol: "FRESH", MarketValue: 50_000},
		{Symbol: "STALE", MarketValue: 50_000},
	}
	prices := map[string][]PriceBar{
		"FRESH": {{Date: "2023-05-30", Close: 100, AdjClose: 100}},
		"STALE": {{Date: "2022-01-10", Close: 100, AdjClose: 100}},
	}
	returns := map[string]ReturnSeries{
		// One outlier day plus a six-day flat streak.
		"FRESH": seriesOf([]float64{0.01, 0.45, 0.01, 0, 0, 0, 0, 0, 0, 0.01}),
	}

	m := ComputeIntegrityMetrics(positions, prices, returns, asof)

	assert.InDelta(t, 50, m.MissingPriceExposurePct, 1e-9)
	assert.Equal(t, 1, m.OutlierReturnDays)
	assert.Equal(t, 1, m.FlatStreakFlags)
}

func TestComputeClassificationMetrics(t *testing.T) {
	m := ComputeClassificationMetrics(qualityPositions())
	// CCC (10k of 100k) has empty sector and country.
	assert.InDelta(t, 10, m.UnknownSectorPct, 1e-9)
	assert.InDelta(t, 10, m.UnknownCountryPct, 1e-9)
}

func TestComputeFxCoverageMetrics(t *testing.T) {
	positions := qualityPositions()
	securityInfo := map[string]FxInfo{
		"AAA": {Currency: "USD", IsUSDListed: true},
		"BBB": {Currency: "USD", IsUSDListed: true},
		"CCC": {Currency: "EUR", FxPair: "EURUSD"},
	}

	// Clean FX adjustment: full coverage.
	m := ComputeFxCoverageMetrics(positions, securityInfo, nil)
	assert.InDelta(t, 10, m.NonUSDExposurePct, 1e-9)
	assert.InDelta(t, 100, m.FxCoveragePct, 1e-9)

	// Flagged symbol: coverage collapses to zero.
	m = ComputeFxCoverageMetrics(positions, securityInfo, map[string]string{"CCC": FlagMissingFxData})
	assert.InDelta(t, 0, m.FxCoveragePct, 1e-9)
	assert.Equal(t, FlagMissingFxData, m.FxIssues["CCC"])
}

func TestComputeBetaQualitySummary(t *testing.T) {
	positions := qualityPositions()
	stress := StressPack{
		Factor: map[string]StressResult{
			"equity_crash": {
				Diagnostics: map[string]map[string]RegressionDiagnostic{
					"AAA": {"SPY": {Quality: BetaGood}, "QQQ": {Quality: BetaGood}},
					"BBB": {"SPY": {Quality: BetaWeak}, "QQQ": {Quality: BetaGood}},
					"CCC": {"SPY": {Quality: BetaInvalid}},
				},
			},
		},
	}

	summary := ComputeBetaQualitySummary(stress, positions, []string{"AAA", "BBB", "CCC"})
	require.NotNil(t, summary)
	// Graded by the worst core-factor regression per symbol.
	assert.InDelta(t, 60, summary.GoodExposurePct, 1e-9)
	assert.InDelta(t, 30, summary.WeakExposurePct, 1e-9)
	assert.InDelta(t, 10, summary.InvalidExposurePct, 1e-9)
}

func TestComputeBetaQualitySummaryNoDiagnostics(t *testing.T) {
	summary := ComputeBetaQualitySummary(StressPack{}, qualityPositions(), []string{"AAA"})
	assert.Nil(t, summary)
}

func TestGenerateWarnings(t *testing.T) {
	coverage := map[string]CoverageMetrics{
		"252d": {Window: 252, ExcludedExposurePct: 25},
	}
	integrity := IntegrityMetrics{MissingPriceExposurePct: 8, OutlierReturnDays: 2}
	classification := ClassificationMetrics{UnknownSectorPct: 30, UnknownCountryPct: 5}
	fx := FxCoverageMetrics{NonUSDExposurePct: 15, FxCoveragePct: 80}
	beta := &BetaQualitySummary{InvalidExposurePct: 20}

	warnings := GenerateWarnings(coverage, integrity, classification, fx, beta)

	messages := make([]string, 0, len(warnings))
	levels := make(map[string]int)
	for _, w := range warnings {
		messages = append(messages, w.Message)
		levels[w.Level]++
	}

	assert.Len(t, warnings, 6)
	assert.Equal(t, 1, levels["error"], "low FX coverage is an error")
	assert.Equal(t, 1, levels["info"], "outlier days are informational")

	joined := ""
	for _, m := range messages {
		joined += m + "\n"
	}
	assert.Contains(t, joined, "excluded from covariance")
	assert.Contains(t, joined, "Unknown sector")
	assert.Contains(t, joined, "FX coverage")
	assert.Contains(t, joined, "invalid betas")
}

func TestGenerateWarningsQuietWhenHealthy(t *testing.T) {
	coverage := map[string]CoverageMetrics{"252d": {Window: 252, ExcludedExposurePct: 1}}
	warnings := GenerateWarnings(coverage, IntegrityMetrics{}, ClassificationMetrics{}, FxCoverageMetrics{FxCoveragePct: 100}, nil)
	assert.Empty(t, warnings)
}

func TestBuildQualityPack(t *testing.T) {
	asof := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	positions := qualityPositions()
	returns := map[string]ReturnSeries{
		"AAA": seriesOf(make([]float64, 200)),
		"BBB": seriesOf(make([]float64, 200)),
	}
	prices := map[string][]PriceBar{
		"AAA": {{Date: "2023-05-30", Close: 100, AdjClose: 100}},
		"BBB": {{Date: "2023-05-30", Close: 50, AdjClose: 50}},
	}

	pack := BuildQualityPack(positions, prices, returns,
		[]string{"AAA", "BBB", "CCC"}, []string{"AAA", "BBB"},
		map[string]FxInfo{}, nil, StressPack{}, asof)

	require.NotNil(t, pack)
	assert.Contains(t, pack.Coverage, "60d")
	assert.Contains(t, pack.Coverage, "252d")
	assert.Equal(t, asof.UTC().Format(time.RFC3339), pack.ComputedAt)
	assert.NotNil(t, pack.Fx.FxIssues)
}
