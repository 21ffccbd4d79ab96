package risk

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultConfidence is the confidence level used in the served summary.
const DefaultConfidence = 0.95

// checkDimensions validates weights against a covariance matrix. A mismatch
// is a programmer error and is never silently truncated.
func checkDimensions(weights []float64, cov *CovarianceMatrix) error {
	if cov == nil || cov.Matrix == nil {
		return ErrEmptyReturns
	}
	if len(weights) != cov.Matrix.SymmetricDim() {
		return &DimensionError{What: "weights", Got: len(weights), Expected: cov.Matrix.SymmetricDim()}
	}
	return nil
}

// covTimesWeights computes Sigma * w.
func covTimesWeights(weights []float64, cov *CovarianceMatrix) []float64 {
	n := len(weights)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := 0.0
		for j := 0; j < n; j++ {
			s += cov.Matrix.At(i, j) * weights[j]
		}
		out[i] = s
	}
	return out
}

// portfolioVariance computes w' * Sigma * w, clamping tiny negative noise to
// zero. Variance below -1e-10 signals a broken covariance matrix and is
// fatal.
func portfolioVariance(weights []float64, cov *CovarianceMatrix) (float64, error) {
	if err := checkDimensions(weights, cov); err != nil {
		return 0, err
	}
	sw := covTimesWeights(weights, cov)
	v := 0.0
	for i, w := range weights {
		v += w * sw[i]
	}
	if v < -PSDTolerance {
		return 0, fmt.Errorf("negative portfolio variance (%e): covariance matrix is not positive semi-definite", v)
	}
	if v < 0 {
		v = 0
	}
	return v, nil
}

// PortfolioVolatility computes sqrt(w'*Sigma*w) scaled to the horizon:
// vol(h) = daily_vol * sqrt(h).
func PortfolioVolatility(weights []float64, cov *CovarianceMatrix, horizonDays int) (float64, error) {
	if horizonDays < 1 {
		return 0, fmt.Errorf("horizon must be >= 1 day, got %d", horizonDays)
	}
	v, err := portfolioVariance(weights, cov)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v) * math.Sqrt(float64(horizonDays)), nil
}

// ParametricVaR computes Value-at-Risk under a zero-mean normal assumption:
// VaR = value * |z| * daily_vol * sqrt(horizon), reported as a positive loss.
func ParametricVaR(weights []float64, cov *CovarianceMatrix, confidence float64, horizonDays int, portfolioValue float64) (float64, error) {
	if confidence <= 0 || confidence >= 1 {
		return 0, fmt.Errorf("confidence must be in (0, 1), got %v", confidence)
	}
	if portfolioValue <= 0 {
		return 0, fmt.Errorf("portfolio value must be positive, got %v", portfolioValue)
	}
	dailyVol, err := PortfolioVolatility(weights, cov, 1)
	if err != nil {
		return 0, err
	}
	z := distuv.UnitNormal.Quantile(1 - confidence)
	return portfolioValue * math.Abs(z) * dailyVol * math.Sqrt(float64(horizonDays)), nil
}

// ExpectedShortfall computes parametric ES (conditional VaR):
// ES = value * daily_vol * phi(z)/(1-confidence) * sqrt(horizon).
// Always >= VaR at the same confidence.
func ExpectedShortfall(weights []float64, cov *CovarianceMatrix, confidence float64, horizonDays int, portfolioValue float64) (float64, error) {
	if confidence <= 0 || confidence >= 1 {
		return 0, fmt.Errorf("confidence must be in (0, 1), got %v", confidence)
	}
	if portfolioValue <= 0 {
		return 0, fmt.Errorf("portfolio value must be positive, got %v", portfolioValue)
	}
	dailyVol, err := PortfolioVolatility(weights, cov, 1)
	if err != nil {
		return 0, err
	}
	z := distuv.UnitNormal.Quantile(1 - confidence)
	phi := distuv.UnitNormal.Prob(z)
	return portfolioValue * dailyVol * phi / (1 - confidence) * math.Sqrt(float64(horizonDays)), nil
}

// MarginalContribution computes MCR_i = (Sigma*w)_i / sigma_p: the change in
// portfolio volatility from a unit increase in position i.
func MarginalContribution(weights []float64, cov *CovarianceMatrix) ([]float64, error) {
	if err := checkDimensions(weights, cov); err != nil {
		return nil, err
	}
	portVol, err := PortfolioVolatility(weights, cov, 1)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(weights))
	if portVol == 0 {
		return out, nil
	}
	for i, s := range covTimesWeights(weights, cov) {
		out[i] = s / portVol
	}
	return out, nil
}

// ComponentContribution computes CCR_i = w_i * MCR_i. The components sum to
// portfolio volatility exactly.
func ComponentContribution(weights []float64, cov *CovarianceMatrix) ([]float64, error) {
	mcr, err := MarginalContribution(weights, cov)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w * mcr[i]
	}
	return out, nil
}

// PctContributionToVariance computes w_i*(Sigma*w)_i / (w'*Sigma*w) * 100,
// summing to 100.
func PctContributionToVariance(weights []float64, cov *CovarianceMatrix) ([]float64, error) {
	v, err := portfolioVariance(weights, cov)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(weights))
	if v == 0 {
		return out, nil
	}
	sw := covTimesWeights(weights, cov)
	for i, w := range weights {
		out[i] = w * sw[i] / v * 100
	}
	return out, nil
}

// Concentration holds portfolio concentration statistics.
type Concentration struct {
	Top5Pct   float64
	HHI       float64
	Top5Names []string
}

// ConcentrationMetrics computes HHI and top-5 concentration over absolute
// weights. A single position yields HHI = 10000; N equal positions yield
// 10000/N.
func ConcentrationMetrics(weights []float64, symbols []string) (Concentration, error) {
	if len(weights) != len(symbols) {
		return Concentration{}, &DimensionError{What: "symbols", Got: len(symbols), Expected: len(weights)}
	}

	gross := 0.0
	for _, w := range weights {
		gross += math.Abs(w)
	}
	if gross == 0 {
		return Concentration{Top5Names: []string{}}, nil
	}

	hhi := 0.0
	for _, w := range weights {
		norm := math.Abs(w) / gross
		hhi += norm * norm
	}
	hhi *= 10000

	idx := make([]int, len(weights))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return math.Abs(weights[idx[a]]) > math.Abs(weights[idx[b]])
	})

	top := 5
	if len(idx) < top {
		top = len(idx)
	}
	topSum := 0.0
	names := make([]string, 0, top)
	for _, i := range idx[:top] {
		topSum += math.Abs(weights[i])
		names = append(names, symbols[i])
	}

	return Concentration{
		Top5Pct:   topSum / gross * 100,
		HHI:       hhi,
		Top5Names: names,
	}, nil
}

// BuildRiskSummary assembles the portfolio-level snapshot served to
// consumers.
func BuildRiskSummary(weights []float64, cov *CovarianceMatrix, symbols []string, portfolioValue float64) (*RiskSummary, error) {
	if len(weights) != len(symbols) {
		return nil, &DimensionError{What: "symbols", Got: len(symbols), Expected: len(weights)}
	}
	if err := checkDimensions(weights, cov); err != nil {
		return nil, err
	}

	vol1d, err := PortfolioVolatility(weights, cov, 1)
	if err != nil {
		return nil, err
	}
	vol5d, err := PortfolioVolatility(weights, cov, 5)
	if err != nil {
		return nil, err
	}
	var951d, err := ParametricVaR(weights, cov, DefaultConfidence, 1, portfolioValue)
	if err != nil {
		return nil, err
	}
	es951d, err := ExpectedShortfall(weights, cov, DefaultConfidence, 1, portfolioValue)
	if err != nil {
		return nil, err
	}
	var955d, err := ParametricVaR(weights, cov, DefaultConfidence, 5, portfolioValue)
	if err != nil {
		return nil, err
	}
	es955d, err := ExpectedShortfall(weights, cov, DefaultConfidence, 5, portfolioValue)
	if err != nil {
		return nil, err
	}
	conc, err := ConcentrationMetrics(weights, symbols)
	if err != nil {
		return nil, err
	}

	numPositions := 0
	for _, w := range weights {
		if math.Abs(w) > 1e-9 {
			numPositions++
		}
	}

	return &RiskSummary{
		Vol1D:                vol1d * portfolioValue,
		Vol1DPct:             vol1d * 100,
		Vol5D:                vol5d * portfolioValue,
		Vol5DPct:             vol5d * 100,
		VaR951D:              var951d,
		VaR951DPct:           var951d / portfolioValue * 100,
		ES951D:               es951d,
		ES951DPct:            es951d / portfolioValue * 100,
		VaR955D:              var955d,
		ES955D:               es955d,
		Top5ConcentrationPct: conc.Top5Pct,
		HHI:                  conc.HHI,
		Top5Names:            conc.Top5Names,
		NumPositions:         numPositions,
		PortfolioValue:       portfolioValue,
	}, nil
}

// BuildRiskContributors assembles the per-position decomposition table,
// sorted by |CCR| descending. standaloneVols carries each symbol's
// annualized vol (percent) computed from its own full history; it is
// preferred over the covariance diagonal, which a thin aligned window can
// understate.
func BuildRiskContributors(weights []float64, cov *CovarianceMatrix, symbols []string, standaloneVols map[string]float64) ([]RiskContributor, error) {
	if len(weights) != len(symbols) {
		return nil, &DimensionError{What: "symbols", Got: len(symbols), Expected: len(weights)}
	}
	mcr, err := MarginalContribution(weights, cov)
	if err != nil {
		return nil, err
	}
	ccr, err := ComponentContribution(weights, cov)
	if err != nil {
		return nil, err
	}
	portVol, err := PortfolioVolatility(weights, cov, 1)
	if err != nil {
		return nil, err
	}

	contributors := make([]RiskContributor, 0, len(symbols))
	for i, symbol := range symbols {
		if math.Abs(weights[i]) < 1e-9 {
			continue
		}

		annVol, ok := standaloneVols[symbol]
		if !ok {
			annVol = math.Sqrt(cov.Matrix.At(i, i)) * math.Sqrt(TradingDaysPerYear) * 100
		}

		ccrPct := 0.0
		if portVol != 0 {
			ccrPct = ccr[i] / portVol * 100
		}

		contributors = append(contributors, RiskContributor{
			Symbol:           symbol,
			WeightPct:        weights[i] * 100,
			MCR:              mcr[i],
			CCR:              ccr[i],
			CCRPct:           ccrPct,
			StandaloneVolAnn: annVol,
		})
	}

	sort.Slice(contributors, func(a, b int) bool {
		return math.Abs(contributors[a].CCR) > math.Abs(contributors[b].CCR)
	})

	return contributors, nil
}
