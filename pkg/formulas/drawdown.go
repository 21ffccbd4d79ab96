package formulas

// DrawdownStats summarizes the drawdown profile of a cumulative value series.
type DrawdownStats struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // worst peak-to-trough loss (0.25 = 25%)
	CurrentDrawdown float64 `json:"current_drawdown"` // loss from the most recent peak
	DaysInDrawdown  int     `json:"days_in_drawdown"` // observations since that peak
}

// MaxDrawdown calculates the maximum peak-to-trough drawdown of a value
// series. Returns false when the series is too short.
func MaxDrawdown(values []float64) (float64, bool) {
	stats, ok := Drawdowns(values)
	if !ok {
		return 0, false
	}
	return stats.MaxDrawdown, true
}

// Drawdowns walks a value series once and reports max drawdown, current
// drawdown and time under water.
func Drawdowns(values []float64) (DrawdownStats, bool) {
	if len(values) < 2 {
		return DrawdownStats{}, false
	}

	maxDrawdown := 0.0
	peak := values[0]
	peakIndex := 0

	for i, v := range values {
		if v > peak {
			peak = v
			peakIndex = i
		}
		if peak > 0 {
			drawdown := (peak - v) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	current := 0.0
	if peak > 0 {
		current = (peak - values[len(values)-1]) / peak
	}

	return DrawdownStats{
		MaxDrawdown:     maxDrawdown,
		CurrentDrawdown: current,
		DaysInDrawdown:  len(values) - 1 - peakIndex,
	}, true
}

// CumulativeValue compounds periodic returns into a value series starting at
// 1.0, suitable for drawdown analysis.
func CumulativeValue(returns []float64) []float64 {
	values := make([]float64, len(returns)+1)
	values[0] = 1.0
	for i, ret := range returns {
		values[i+1] = values[i] * (1 + ret)
	}
	return values
}
