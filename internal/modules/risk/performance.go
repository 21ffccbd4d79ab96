package risk

import "github.com/quantfold/riskdesk/pkg/formulas"

// PerformanceStats is the realized (backward-looking) complement to the
// model-based risk summary, computed from the portfolio's own return history
// over the analysis window.
type PerformanceStats struct {
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	AnnualizedVolPct    float64 `json:"annualized_vol_pct"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio,omitempty"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	CurrentDrawdownPct  float64 `json:"current_drawdown_pct"`
	DaysInDrawdown      int     `json:"days_in_drawdown"`
	Observations        int     `json:"observations"`
}

// BuildPerformanceStats computes realized performance from aligned per-symbol
// returns and portfolio weights. Returns nil when fewer than two overlapping
// observations exist; the pack simply omits the block.
func BuildPerformanceStats(rm *ReturnMatrix, weights []float64) *PerformanceStats {
	if rm == nil || rm.Rows() < 2 || rm.Cols() != len(weights) {
		return nil
	}

	// Daily portfolio return: weighted sum across the aligned universe.
	portfolioReturns := make([]float64, rm.Rows())
	for i := 0; i < rm.Rows(); i++ {
		for j := 0; j < rm.Cols(); j++ {
			portfolioReturns[i] += weights[j] * rm.Values.At(i, j)
		}
	}

	perf := &PerformanceStats{
		AnnualizedVolPct: formulas.AnnualizedVolatility(portfolioReturns) * 100,
		Observations:     len(portfolioReturns),
	}

	if annRet, ok := formulas.AnnualizedReturn(portfolioReturns, TradingDaysPerYear); ok {
		perf.AnnualizedReturnPct = annRet * 100
	}
	if sharpe, ok := formulas.SharpeRatio(portfolioReturns, 0, TradingDaysPerYear); ok {
		perf.SharpeRatio = sharpe
	}
	if sortino, ok := formulas.SortinoRatio(portfolioReturns, 0, 0, TradingDaysPerYear); ok {
		perf.SortinoRatio = sortino
	}
	if dd, ok := formulas.Drawdowns(formulas.CumulativeValue(portfolioReturns)); ok {
		perf.MaxDrawdownPct = dd.MaxDrawdown * 100
		perf.CurrentDrawdownPct = dd.CurrentDrawdown * 100
		perf.DaysInDrawdown = dd.DaysInDrawdown
	}

	return perf
}
