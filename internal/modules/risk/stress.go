package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Beta estimation thresholds. A regression is unusable below BetaMinOverlap
// observations; it is only trusted as "good" with both a long overlap and a
// meaningful fit. Estimated betas are capped to avoid leverage artifacts
// from noisy regressions.
const (
	BetaMinOverlap  = 60
	BetaGoodOverlap = 120
	BetaGoodR2      = 0.20
	BetaCap         = 5.0

	stressTopContributors = 10
)

// HistoricalScenario is a fixed crisis window replayed against the current
// portfolio.
type HistoricalScenario struct {
	Key   string
	Name  string
	Start string // inclusive, YYYY-MM-DD
	End   string // inclusive, YYYY-MM-DD
}

// FactorScenario shocks a set of factor proxies by fixed returns.
type FactorScenario struct {
	Key    string
	Name   string
	Shocks map[string]float64
}

// HistoricalScenarios are the crisis windows replayed on every run.
var HistoricalScenarios = []HistoricalScenario{
	{Key: "gfc_2008", Name: "GFC (Oct 2007 - Mar 2009)", Start: "2007-10-09", End: "2009-03-09"},
	{Key: "covid_crash_2020", Name: "COVID Crash (Feb-Mar 2020)", Start: "2020-02-19", End: "2020-03-23"},
	{Key: "rates_shock_2022", Name: "2022 Rates Shock (Jan-Jun 2022)", Start: "2022-01-03", End: "2022-06-16"},
	{Key: "q4_2018_selloff", Name: "Q4 2018 Selloff (Oct-Dec 2018)", Start: "2018-10-03", End: "2018-12-24"},
}

// FactorScenarios are the parametric shocks applied on every run.
var FactorScenarios = []FactorScenario{
	{Key: "equity_crash", Name: "Equity Crash", Shocks: map[string]float64{"SPY": -0.10, "QQQ": -0.10, "IWM": -0.12}},
	{Key: "rates_up", Name: "Rates Spike", Shocks: map[string]float64{"TLT": -0.05, "IEF": -0.03, "HYG": -0.05}},
	{Key: "usd_rally", Name: "USD Rally", Shocks: map[string]float64{"UUP": 0.03}},
	{Key: "commodity_spike", Name: "Commodity Spike", Shocks: map[string]float64{"USO": 0.15, "DBC": 0.10}},
	{Key: "crypto_crash", Name: "Crypto Crash", Shocks: map[string]float64{"BTC-USD": -0.15}},
	{Key: "combined_stress", Name: "Combined Stress", Shocks: map[string]float64{
		"SPY": -0.10, "QQQ": -0.10, "TLT": -0.05, "HYG": -0.05, "UUP": 0.03, "USO": 0.15, "BTC-USD": -0.15,
	}},
}

// FactorSymbols is the factor-proxy universe whose price history the
// orchestrator keeps loaded.
var FactorSymbols = []string{"SPY", "QQQ", "IWM", "TLT", "IEF", "HYG", "UUP", "USO", "DBC", "BTC-USD"}

// StressRunner executes stress scenarios against a portfolio.
type StressRunner struct {
	log zerolog.Logger
	now func() time.Time
}

// NewStressRunner creates a stress runner.
func NewStressRunner(log zerolog.Logger) *StressRunner {
	return &StressRunner{
		log: log.With().Str("component", "stress").Logger(),
		now: time.Now,
	}
}

// Historical replays one crisis window: each covered symbol contributes its
// realized cumulative return between its first and last available adjusted
// close inside the window. When coverage is partial, the portfolio return is
// renormalized by the coverage ratio so missing data cannot understate the
// scenario.
func (r *StressRunner) Historical(
	scenario HistoricalScenario,
	weights []float64,
	symbols []string,
	portfolioValue float64,
	allPrices map[string][]PriceBar,
	sectors map[string]string,
) (*StressResult, error) {
	if len(weights) != len(symbols) {
		return nil, &DimensionError{What: "symbols", Got: len(symbols), Expected: len(weights)}
	}

	cumReturns := make(map[string]float64)
	for _, symbol := range symbols {
		bars := allPrices[symbol]
		if len(bars) == 0 {
			continue
		}

		var first, last float64
		var count int
		dates, prices := cleanSeries(bars)
		for i, d := range dates {
			if d < scenario.Start || d > scenario.End {
				continue
			}
			if count == 0 {
				first = prices[i]
			}
			last = prices[i]
			count++
		}
		if count < 2 || first <= 0 {
			continue
		}
		cumReturns[symbol] = (last - first) / first
	}

	if len(cumReturns) == 0 {
		return nil, fmt.Errorf("scenario %s: no positions with data in window", scenario.Key)
	}

	weightBySymbol := make(map[string]float64, len(symbols))
	for i, s := range symbols {
		weightBySymbol[s] = weights[i]
	}

	portfolioReturn := 0.0
	coveredWeight := 0.0
	for symbol, ret := range cumReturns {
		w := weightBySymbol[symbol]
		portfolioReturn += w * ret
		coveredWeight += w
	}

	totalAbsWeight := 0.0
	for _, w := range weights {
		totalAbsWeight += math.Abs(w)
	}
	if coveredWeight != 0 && math.Abs(math.Abs(coveredWeight)-totalAbsWeight) > 1e-6 {
		coverage := math.Abs(coveredWeight) / totalAbsWeight
		if coverage > 0 {
			r.log.Debug().
				Str("scenario", scenario.Key).
				Float64("coverage_ratio", coverage).
				Msg("Partial scenario coverage, renormalizing")
			portfolioReturn /= coverage
		}
	}

	result := &StressResult{
		Scenario:           scenario.Name,
		Period:             fmt.Sprintf("%s to %s", scenario.Start, scenario.End),
		PortfolioReturnPct: portfolioReturn * 100,
		PortfolioPnL:       portfolioReturn * portfolioValue,
	}
	result.TopContributors = topStressContributors(cumReturns, weightBySymbol, portfolioValue)
	result.BySector = sectorImpacts(cumReturns, weightBySymbol, sectors, portfolioValue, result.PortfolioPnL)

	return result, nil
}

// Factor applies parametric factor shocks. When more than one factor is
// shocked, the shocked factors are first orthogonalized against each other
// so correlated exposures are not double counted. Betas with an invalid
// regression are excluded entirely (zero exposure, not zero beta); the rest
// are capped to +/-BetaCap before applying the shock.
func (r *StressRunner) Factor(
	scenario FactorScenario,
	positionReturns map[string]ReturnSeries,
	factorReturns map[string]ReturnSeries,
	weights []float64,
	symbols []string,
	portfolioValue float64,
	sectors map[string]string,
) (*StressResult, error) {
	if len(weights) != len(symbols) {
		return nil, &DimensionError{What: "symbols", Got: len(symbols), Expected: len(weights)}
	}

	// Factors present in the data, in stable order.
	factorNames := make([]string, 0, len(scenario.Shocks))
	for name := range scenario.Shocks {
		if s, ok := factorReturns[name]; ok && s.Len() >= 2 {
			factorNames = append(factorNames, name)
		}
	}
	sort.Strings(factorNames)
	if len(factorNames) == 0 {
		return nil, fmt.Errorf("scenario %s: no shocked factors have return data", scenario.Key)
	}

	factors := orthogonalizeFactors(factorNames, factorReturns)

	weightBySymbol := make(map[string]float64, len(symbols))
	for i, s := range symbols {
		weightBySymbol[s] = weights[i]
	}

	impacts := make(map[string]float64)
	diagnostics := make(map[string]map[string]RegressionDiagnostic)
	factorExposures := make(map[string]float64)

	for _, symbol := range symbols {
		pos, ok := positionReturns[symbol]
		if !ok || pos.Len() < 2 {
			continue
		}

		symDiags := make(map[string]RegressionDiagnostic, len(factors))
		impact := 0.0
		used := false

		for _, f := range factors {
			diag := regressBeta(pos, f.series)
			symDiags[f.name] = diag
			if diag.Quality == BetaInvalid {
				continue
			}
			used = true
			impact += diag.Beta * scenario.Shocks[f.name]
			factorExposures[f.name] += weightBySymbol[symbol] * diag.Beta
		}

		diagnostics[symbol] = symDiags
		if used {
			impacts[symbol] = impact
		}
	}

	if len(impacts) == 0 {
		return nil, fmt.Errorf("scenario %s: no positions with usable betas", scenario.Key)
	}

	portfolioReturn := 0.0
	for symbol, impact := range impacts {
		portfolioReturn += weightBySymbol[symbol] * impact
	}

	result := &StressResult{
		Scenario:           scenario.Name,
		Period:             "Parameter Shock",
		PortfolioReturnPct: portfolioReturn * 100,
		PortfolioPnL:       portfolioReturn * portfolioValue,
		FactorExposures:    factorExposures,
		Diagnostics:        diagnostics,
	}
	result.TopContributors = topStressContributors(impacts, weightBySymbol, portfolioValue)
	result.BySector = sectorImpacts(impacts, weightBySymbol, sectors, portfolioValue, result.PortfolioPnL)

	return result, nil
}

// RunAll executes the full cross-product of historical and factor scenarios.
// A failing scenario is logged and omitted; it never aborts the rest.
func (r *StressRunner) RunAll(
	positionReturns map[string]ReturnSeries,
	factorReturns map[string]ReturnSeries,
	weights []float64,
	symbols []string,
	portfolioValue float64,
	allPrices map[string][]PriceBar,
	sectors map[string]string,
) StressPack {
	pack := StressPack{
		Historical: make(map[string]StressResult),
		Factor:     make(map[string]StressResult),
		ComputedAt: r.now().UTC().Format(time.RFC3339),
	}

	for _, scenario := range HistoricalScenarios {
		result, err := r.Historical(scenario, weights, symbols, portfolioValue, allPrices, sectors)
		if err != nil {
			r.log.Warn().Err(err).Str("scenario", scenario.Key).Msg("Historical scenario failed")
			continue
		}
		pack.Historical[scenario.Key] = *result
	}

	for _, scenario := range FactorScenarios {
		result, err := r.Factor(scenario, positionReturns, factorReturns, weights, symbols, portfolioValue, sectors)
		if err != nil {
			r.log.Warn().Err(err).Str("scenario", scenario.Key).Msg("Factor scenario failed")
			continue
		}
		pack.Factor[scenario.Key] = *result
	}

	r.log.Info().
		Int("historical", len(pack.Historical)).
		Int("factor", len(pack.Factor)).
		Msg("Stress scenarios complete")

	return pack
}

type namedSeries struct {
	name   string
	series ReturnSeries
}

// orthogonalizeFactors regresses each shocked factor on the others (plus an
// intercept) over their common dates and keeps the residuals. With a single
// factor, or too little shared history, the raw series pass through.
func orthogonalizeFactors(names []string, factorReturns map[string]ReturnSeries) []namedSeries {
	out := make([]namedSeries, 0, len(names))
	if len(names) == 1 {
		out = append(out, namedSeries{name: names[0], series: factorReturns[names[0]]})
		return out
	}

	series := make(map[string]ReturnSeries, len(names))
	for _, n := range names {
		series[n] = factorReturns[n]
	}
	common := intersectDates(series, names)
	k := len(names)
	t := len(common)
	if t < k+2 {
		for _, n := range names {
			out = append(out, namedSeries{name: n, series: factorReturns[n]})
		}
		return out
	}

	aligned := make(map[string][]float64, k)
	for _, n := range names {
		s := series[n]
		byDate := make(map[string]float64, s.Len())
		for i, d := range s.Dates {
			byDate[d] = s.Values[i]
		}
		vals := make([]float64, t)
		for i, d := range common {
			vals[i] = byDate[d]
		}
		aligned[n] = vals
	}

	for idx, name := range names {
		y := mat.NewVecDense(t, aligned[name])

		x := mat.NewDense(t, k, nil)
		for i := 0; i < t; i++ {
			x.Set(i, 0, 1) // intercept
			col := 1
			for j, other := range names {
				if j == idx {
					continue
				}
				x.Set(i, col, aligned[other][i])
				col++
			}
		}

		var coef mat.VecDense
		if err := coef.SolveVec(x, y); err != nil {
			out = append(out, namedSeries{name: name, series: factorReturns[name]})
			continue
		}

		resid := ReturnSeries{Dates: common, Values: make([]float64, t)}
		for i := 0; i < t; i++ {
			fitted := 0.0
			for c := 0; c < k; c++ {
				fitted += coef.AtVec(c) * x.At(i, c)
			}
			resid.Values[i] = aligned[name][i] - fitted
		}
		out = append(out, namedSeries{name: name, series: resid})
	}

	return out
}

// regressBeta runs the univariate regression of position returns on one
// factor over their overlapping dates, producing the beta plus its quality
// diagnostics.
func regressBeta(pos, factor ReturnSeries) RegressionDiagnostic {
	byDate := make(map[string]float64, factor.Len())
	for i, d := range factor.Dates {
		byDate[d] = factor.Values[i]
	}

	var p, f []float64
	for i, d := range pos.Dates {
		if v, ok := byDate[d]; ok {
			p = append(p, pos.Values[i])
			f = append(f, v)
		}
	}

	overlap := len(p)
	diag := RegressionDiagnostic{Overlap: overlap, Quality: BetaInvalid}
	if overlap < BetaMinOverlap {
		return diag
	}

	factorVar := stat.Variance(f, nil)
	if factorVar == 0 || math.IsNaN(factorVar) {
		return diag
	}

	beta := stat.Covariance(p, f, nil) / factorVar
	corr := stat.Correlation(p, f, nil)
	r2 := corr * corr
	if math.IsNaN(r2) {
		r2 = 0
	}

	// Standard error of beta from the residual sum of squares.
	meanP := stat.Mean(p, nil)
	meanF := stat.Mean(f, nil)
	alpha := meanP - beta*meanF
	rss, ssf := 0.0, 0.0
	for i := range p {
		e := p[i] - alpha - beta*f[i]
		rss += e * e
		d := f[i] - meanF
		ssf += d * d
	}

	stderr := 0.0
	if overlap > 2 && ssf > 0 {
		stderr = math.Sqrt(rss / float64(overlap-2) / ssf)
	}
	tstat := 0.0
	if stderr > 0 {
		tstat = beta / stderr
	}

	diag.RSquared = r2
	diag.StdErr = stderr
	diag.TStat = tstat

	if overlap >= BetaGoodOverlap && r2 >= BetaGoodR2 {
		diag.Quality = BetaGood
	} else {
		diag.Quality = BetaWeak
	}

	if beta > BetaCap {
		beta = BetaCap
		diag.BetaCapped = true
	} else if beta < -BetaCap {
		beta = -BetaCap
		diag.BetaCapped = true
	}
	diag.Beta = beta

	return diag
}

// topStressContributors ranks positions by absolute P&L contribution.
func topStressContributors(returns map[string]float64, weightBySymbol map[string]float64, portfolioValue float64) []StressContributor {
	contributors := make([]StressContributor, 0, len(returns))
	for symbol, ret := range returns {
		w := weightBySymbol[symbol]
		contributors = append(contributors, StressContributor{
			Symbol:          symbol,
			ReturnPct:       ret * 100,
			PnLContribution: w * ret * portfolioValue,
			WeightPct:       w * 100,
		})
	}
	sort.SliceStable(contributors, func(a, b int) bool {
		return math.Abs(contributors[a].PnLContribution) > math.Abs(contributors[b].PnLContribution)
	})
	if len(contributors) > stressTopContributors {
		contributors = contributors[:stressTopContributors]
	}
	return contributors
}

// sectorImpacts aggregates scenario P&L by sector.
func sectorImpacts(returns map[string]float64, weightBySymbol map[string]float64, sectors map[string]string, portfolioValue, portfolioPnL float64) []SectorImpact {
	if len(sectors) == 0 {
		return nil
	}
	bySector := make(map[string]float64)
	for symbol, ret := range returns {
		sector := sectors[symbol]
		if sector == "" {
			sector = "Unknown"
		}
		bySector[sector] += weightBySymbol[symbol] * ret * portfolioValue
	}

	impacts := make([]SectorImpact, 0, len(bySector))
	for sector, pnl := range bySector {
		pct := 0.0
		if portfolioPnL != 0 {
			pct = pnl / portfolioPnL * 100
		}
		impacts = append(impacts, SectorImpact{Sector: sector, PnL: pnl, Pct: pct})
	}
	sort.SliceStable(impacts, func(a, b int) bool {
		return math.Abs(impacts[a].PnL) > math.Abs(impacts[b].PnL)
	})
	return impacts
}
