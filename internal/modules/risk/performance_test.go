package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func singleColumnMatrix(values []float64) *ReturnMatrix {
	m := mat.NewDense(len(values), 1, nil)
	for i, v := range values {
		m.Set(i, 0, v)
	}
	return &ReturnMatrix{Dates: tradingDates(len(values)), Symbols: []string{"AAA"}, Values: m}
}

func TestBuildPerformanceStats(t *testing.T) {
	rm := singleColumnMatrix([]float64{0.10, -0.05, 0.02})
	perf := BuildPerformanceStats(rm, []float64{1})
	require.NotNil(t, perf)

	assert.Equal(t, 3, perf.Observations)
	assert.Greater(t, perf.AnnualizedVolPct, 0.0)
	assert.Greater(t, perf.AnnualizedReturnPct, 0.0)
	assert.Greater(t, perf.SharpeRatio, 0.0)

	// Value path 1.0 -> 1.10 -> 1.045 -> 1.0659: worst loss is 5% off the
	// 1.10 peak, and the series ends 3.1% below it, two days later.
	assert.InDelta(t, 5.0, perf.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 3.1, perf.CurrentDrawdownPct, 1e-9)
	assert.Equal(t, 2, perf.DaysInDrawdown)
}

func TestBuildPerformanceStatsHedgedPortfolio(t *testing.T) {
	// Two legs that cancel exactly: the portfolio is flat every day.
	m := mat.NewDense(3, 2, []float64{
		0.02, -0.02,
		-0.01, 0.01,
		0.03, -0.03,
	})
	rm := &ReturnMatrix{Dates: tradingDates(3), Symbols: []string{"LONG", "SHORT"}, Values: m}

	perf := BuildPerformanceStats(rm, []float64{0.5, 0.5})
	require.NotNil(t, perf)
	assert.InDelta(t, 0, perf.AnnualizedVolPct, 1e-12)
	assert.InDelta(t, 0, perf.AnnualizedReturnPct, 1e-12)
	assert.InDelta(t, 0, perf.MaxDrawdownPct, 1e-12)
	assert.Equal(t, 0.0, perf.SharpeRatio, "undefined Sharpe stays zero")
}

func TestBuildPerformanceStatsDegenerateInputs(t *testing.T) {
	assert.Nil(t, BuildPerformanceStats(nil, nil))
	assert.Nil(t, BuildPerformanceStats(singleColumnMatrix([]float64{0.01}), []float64{1}),
		"one observation is not a history")
	assert.Nil(t, BuildPerformanceStats(singleColumnMatrix([]float64{0.01, 0.02}), []float64{0.5, 0.5}),
		"weight count must match the universe")
}
