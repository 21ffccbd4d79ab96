package formulas

import "math"

// SharpeRatio calculates the annualized Sharpe ratio from periodic returns.
//
//	Sharpe = (mean return - periodic risk-free rate) / std dev of returns
//	annualized by sqrt(periodsPerYear)
//
// riskFreeRate is annual (0.02 for 2%). Returns false when the series is too
// short or has zero dispersion.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) (float64, bool) {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0, false
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return 0, false
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev
	return sharpe * math.Sqrt(float64(periodsPerYear)), true
}

// SortinoRatio calculates the annualized Sortino ratio: like Sharpe but
// penalizing only returns below the target (minimum acceptable return).
// targetReturn is annual. Returns false when no observation falls below the
// target, the downside deviation is zero, or the series is too short.
func SortinoRatio(returns []float64, riskFreeRate, targetReturn float64, periodsPerYear int) (float64, bool) {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0, false
	}

	periodicMAR := targetReturn / float64(periodsPerYear)

	var downsideSquaredSum float64
	downsideCount := 0
	for _, ret := range returns {
		if ret < periodicMAR {
			deviation := ret - periodicMAR
			downsideSquaredSum += deviation * deviation
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0, false
	}

	downsideDeviation := math.Sqrt(downsideSquaredSum / float64(downsideCount))
	if downsideDeviation == 0 {
		return 0, false
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sortino := (Mean(returns) - periodicRiskFree) / downsideDeviation
	return sortino * math.Sqrt(float64(periodsPerYear)), true
}

// AnnualizedReturn compounds periodic returns into an annualized growth rate.
// Returns false when the series is empty or compounding hits a total loss.
func AnnualizedReturn(returns []float64, periodsPerYear int) (float64, bool) {
	if len(returns) == 0 || periodsPerYear <= 0 {
		return 0, false
	}

	growth := 1.0
	for _, ret := range returns {
		growth *= 1 + ret
		if growth <= 0 {
			return -1, true
		}
	}

	years := float64(len(returns)) / float64(periodsPerYear)
	return math.Pow(growth, 1/years) - 1, true
}
