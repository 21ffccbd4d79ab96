package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// factorWithBeta builds a factor series and a position series with an exact
// linear relationship pos = beta * factor (r^2 = 1).
func factorWithBeta(n int, beta float64, seed int64) (pos, factor ReturnSeries) {
	rng := rand.New(rand.NewSource(seed))
	dates := tradingDates(n)
	f := make([]float64, n)
	p := make([]float64, n)
	for i := range f {
		f[i] = rng.NormFloat64() * 0.01
		p[i] = beta * f[i]
	}
	return ReturnSeries{Dates: dates, Values: p}, ReturnSeries{Dates: dates, Values: f}
}

func TestRegressBetaQualityTiers(t *testing.T) {
	tests := []struct {
		name    string
		overlap int
		beta    float64
		quality BetaQuality
	}{
		{name: "long overlap strong fit is good", overlap: 150, beta: 1.2, quality: BetaGood},
		{name: "short overlap is weak", overlap: 80, beta: 1.2, quality: BetaWeak},
		{name: "below minimum overlap is invalid", overlap: 50, beta: 1.2, quality: BetaInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, factor := factorWithBeta(tt.overlap, tt.beta, 7)
			diag := regressBeta(pos, factor)

			assert.Equal(t, tt.quality, diag.Quality)
			assert.Equal(t, tt.overlap, diag.Overlap)
			if tt.quality != BetaInvalid {
				assert.InDelta(t, tt.beta, diag.Beta, 1e-9)
				assert.InDelta(t, 1.0, diag.RSquared, 1e-9)
			}
		})
	}
}

func TestRegressBetaWeakFit(t *testing.T) {
	// Position with almost no relation to the factor: long overlap but the
	// fit is too poor for "good".
	rng := rand.New(rand.NewSource(23))
	n := 200
	dates := tradingDates(n)
	f := make([]float64, n)
	p := make([]float64, n)
	for i := range f {
		f[i] = rng.NormFloat64() * 0.01
		p[i] = 0.01*f[i] + rng.NormFloat64()*0.02
	}
	diag := regressBeta(ReturnSeries{Dates: dates, Values: p}, ReturnSeries{Dates: dates, Values: f})

	assert.Equal(t, BetaWeak, diag.Quality)
	assert.Less(t, diag.RSquared, BetaGoodR2)
}

func TestRegressBetaCap(t *testing.T) {
	pos, factor := factorWithBeta(150, 10.0, 5)
	diag := regressBeta(pos, factor)

	assert.True(t, diag.BetaCapped)
	assert.Equal(t, BetaCap, diag.Beta)

	pos, factor = factorWithBeta(150, -8.0, 5)
	diag = regressBeta(pos, factor)
	assert.True(t, diag.BetaCapped)
	assert.Equal(t, -BetaCap, diag.Beta)
}

func TestRegressBetaNoOverlap(t *testing.T) {
	pos := ReturnSeries{Dates: []string{"2023-01-02"}, Values: []float64{0.01}}
	factor := ReturnSeries{Dates: []string{"2024-06-03"}, Values: []float64{0.02}}

	diag := regressBeta(pos, factor)
	assert.Equal(t, BetaInvalid, diag.Quality)
	assert.Equal(t, 0, diag.Overlap)
}

// crisisBars builds bars covering a scenario window with a known cumulative
// return inside it.
func crisisBars(start, end string, cumReturn float64) []PriceBar {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	mid := s.AddDate(0, 0, int(e.Sub(s).Hours()/48))
	return []PriceBar{
		{Date: s.Format("2006-01-02"), Close: 100, AdjClose: 100},
		{Date: mid.Format("2006-01-02"), Close: 100, AdjClose: 100 * (1 + cumReturn/2)},
		{Date: e.Format("2006-01-02"), Close: 100, AdjClose: 100 * (1 + cumReturn)},
	}
}

func TestHistoricalScenario(t *testing.T) {
	runner := NewStressRunner(zerolog.Nop())
	scenario := HistoricalScenarios[1] // covid_crash_2020

	prices := map[string][]PriceBar{
		"AAA": crisisBars(scenario.Start, scenario.End, -0.30),
		"BBB": crisisBars(scenario.Start, scenario.End, -0.10),
	}
	weights := []float64{0.6, 0.4}
	symbols := []string{"AAA", "BBB"}

	result, err := runner.Historical(scenario, weights, symbols, 1_000_000, prices, map[string]string{"AAA": "Tech", "BBB": "Utilities"})
	require.NoError(t, err)

	// 0.6*(-30%) + 0.4*(-10%) = -22%
	assert.InDelta(t, -22, result.PortfolioReturnPct, 1e-6)
	assert.InDelta(t, -220_000, result.PortfolioPnL, 1)
	require.Len(t, result.TopContributors, 2)
	assert.Equal(t, "AAA", result.TopContributors[0].Symbol)
	require.Len(t, result.BySector, 2)
	assert.Equal(t, "Tech", result.BySector[0].Sector)
}

func TestHistoricalScenarioCoverageRenormalization(t *testing.T) {
	runner := NewStressRunner(zerolog.Nop())
	scenario := HistoricalScenarios[1]

	// Only half the portfolio has data in the window: the covered half lost
	// 20%, and renormalization scales the portfolio return up to -20%.
	prices := map[string][]PriceBar{
		"COVERED": crisisBars(scenario.Start, scenario.End, -0.20),
		"NEWIPO":  geometricBars(50, 10, 0.001), // 2023 listing, no 2020 data
	}
	weights := []float64{0.5, 0.5}
	symbols := []string{"COVERED", "NEWIPO"}

	result, err := runner.Historical(scenario, weights, symbols, 1_000_000, prices, nil)
	require.NoError(t, err)
	assert.InDelta(t, -20, result.PortfolioReturnPct, 1e-6)
}

func TestHistoricalScenarioNoCoverage(t *testing.T) {
	runner := NewStressRunner(zerolog.Nop())
	prices := map[string][]PriceBar{
		"NEWIPO": geometricBars(50, 10, 0.001),
	}
	_, err := runner.Historical(HistoricalScenarios[0], []float64{1}, []string{"NEWIPO"}, 1000, prices, nil)
	assert.Error(t, err)
}

func TestFactorScenarioSingleFactor(t *testing.T) {
	runner := NewStressRunner(zerolog.Nop())
	pos, factor := factorWithBeta(150, 1.5, 13)

	scenario := FactorScenario{
		Key:    "equity_down",
		Name:   "Equity Down",
		Shocks: map[string]float64{"SPY": -0.10},
	}

	result, err := runner.Factor(
		scenario,
		map[string]ReturnSeries{"AAA": pos},
		map[string]ReturnSeries{"SPY": factor},
		[]float64{1},
		[]string{"AAA"},
		1_000_000,
		nil,
	)
	require.NoError(t, err)

	// beta 1.5 * shock -10% = -15% position impact at full weight.
	assert.InDelta(t, -15, result.PortfolioReturnPct, 1e-6)
	assert.InDelta(t, 1.5, result.FactorExposures["SPY"], 1e-9)

	diag := result.Diagnostics["AAA"]["SPY"]
	assert.Equal(t, BetaGood, diag.Quality)
	assert.InDelta(t, 1.5, diag.Beta, 1e-9)
}

func TestFactorScenarioExcludesInvalidBetas(t *testing.T) {
	runner := NewStressRunner(zerolog.Nop())
	goodPos, factor := factorWithBeta(150, 1.0, 17)

	// Too little overlap for the second position: excluded, not zeroed.
	thinPos := ReturnSeries{
		Dates:  factor.Dates[:30],
		Values: goodPos.Values[:30],
	}

	scenario := FactorScenario{Key: "eq", Name: "Equity", Shocks: map[string]float64{"SPY": -0.10}}
	result, err := runner.Factor(
		scenario,
		map[string]ReturnSeries{"GOOD": goodPos, "THIN": thinPos},
		map[string]ReturnSeries{"SPY": factor},
		[]float64{0.5, 0.5},
		[]string{"GOOD", "THIN"},
		1_000_000,
		nil,
	)
	require.NoError(t, err)

	// Only GOOD contributes: 0.5 * 1.0 * -10%.
	assert.InDelta(t, -5, result.PortfolioReturnPct, 1e-6)
	assert.Equal(t, BetaInvalid, result.Diagnostics["THIN"]["SPY"].Quality)

	// THIN carries no factor exposure.
	assert.InDelta(t, 0.5, result.FactorExposures["SPY"], 1e-9)
}

func TestFactorScenarioNoFactorData(t *testing.T) {
	runner := NewStressRunner(zerolog.Nop())
	pos, _ := factorWithBeta(150, 1.0, 19)

	scenario := FactorScenario{Key: "eq", Name: "Equity", Shocks: map[string]float64{"SPY": -0.10}}
	_, err := runner.Factor(scenario, map[string]ReturnSeries{"AAA": pos}, map[string]ReturnSeries{}, []float64{1}, []string{"AAA"}, 1000, nil)
	assert.Error(t, err)
}

func TestOrthogonalizeFactorsSinglePassthrough(t *testing.T) {
	_, factor := factorWithBeta(100, 1.0, 29)
	out := orthogonalizeFactors([]string{"SPY"}, map[string]ReturnSeries{"SPY": factor})
	require.Len(t, out, 1)
	assert.Equal(t, factor.Values, out[0].series.Values)
}

func TestOrthogonalizeFactorsRemovesSharedComponent(t *testing.T) {
	// QQQ = SPY + independent noise. After orthogonalization the QQQ
	// residual must be nearly uncorrelated with SPY.
	rng := rand.New(rand.NewSource(31))
	n := 252
	dates := tradingDates(n)
	spy := make([]float64, n)
	qqq := make([]float64, n)
	for i := range spy {
		spy[i] = rng.NormFloat64() * 0.01
		qqq[i] = spy[i] + rng.NormFloat64()*0.004
	}
	factors := map[string]ReturnSeries{
		"SPY": {Dates: dates, Values: spy},
		"QQQ": {Dates: dates, Values: qqq},
	}

	out := orthogonalizeFactors([]string{"QQQ", "SPY"}, factors)
	require.Len(t, out, 2)

	var qqqResid ReturnSeries
	for _, f := range out {
		if f.name == "QQQ" {
			qqqResid = f.series
		}
	}
	require.Equal(t, n, qqqResid.Len())

	// Residual correlation with the raw SPY series collapses.
	diag := regressBeta(qqqResid, factors["SPY"])
	assert.InDelta(t, 0, diag.Beta, 0.05)
}

func TestRunAllIsolatesFailures(t *testing.T) {
	runner := NewStressRunner(zerolog.Nop())
	pos, factor := factorWithBeta(150, 1.0, 37)

	// No historical coverage at all, one usable factor: RunAll still
	// returns the factor results.
	pack := runner.RunAll(
		map[string]ReturnSeries{"AAA": pos},
		map[string]ReturnSeries{"SPY": factor},
		[]float64{1},
		[]string{"AAA"},
		1_000_000,
		map[string][]PriceBar{"AAA": geometricBars(150, 100, 0.001)},
		nil,
	)

	assert.Empty(t, pack.Historical)
	// Scenarios shocking SPY succeed; others are dropped.
	assert.Contains(t, pack.Factor, "equity_crash")
	assert.Contains(t, pack.Factor, "combined_stress")
	assert.NotContains(t, pack.Factor, "crypto_crash")
	assert.NotEmpty(t, pack.ComputedAt)
}
