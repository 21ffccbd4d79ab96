package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleReturns(t *testing.T) {
	assert.Equal(t, []float64{0.1, -0.1}, SimpleReturns([]float64{100, 110, 99}))
	assert.Empty(t, SimpleReturns([]float64{100}))
	// A zero price cannot produce a return.
	assert.Equal(t, []float64{0}, SimpleReturns([]float64{0, 100}))
}

func TestAnnualizedVolatility(t *testing.T) {
	// Sample stddev of {1%, -1%} is sqrt(0.0002).
	assert.InDelta(t, 0.2244994, AnnualizedVolatility([]float64{0.01, -0.01}), 1e-6)
	assert.Equal(t, 0.0, AnnualizedVolatility(nil))
}

func TestSharpeRatio(t *testing.T) {
	sharpe, ok := SharpeRatio([]float64{0.01, 0.03}, 0, 252)
	require.True(t, ok)
	// mean 0.02, stddev sqrt(0.0002), annualized by sqrt(252)
	assert.InDelta(t, 22.4499, sharpe, 1e-3)

	// A positive risk-free rate lowers the ratio.
	withRf, ok := SharpeRatio([]float64{0.01, 0.03}, 0.05, 252)
	require.True(t, ok)
	assert.Less(t, withRf, sharpe)

	_, ok = SharpeRatio([]float64{0.01}, 0, 252)
	assert.False(t, ok, "one observation has no dispersion")
	_, ok = SharpeRatio([]float64{0.01, 0.01, 0.01}, 0, 252)
	assert.False(t, ok, "zero dispersion is undefined")
}

func TestSortinoRatio(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, -0.02}
	sortino, ok := SortinoRatio(returns, 0, 0, 252)
	require.True(t, ok)
	// mean 0.005, downside deviation sqrt((0.0001+0.0004)/2)
	assert.InDelta(t, 5.0199, sortino, 1e-3)

	_, ok = SortinoRatio([]float64{0.01, 0.02}, 0, 0, 252)
	assert.False(t, ok, "no observation below target")
}

func TestAnnualizedReturn(t *testing.T) {
	tests := []struct {
		name           string
		returns        []float64
		periodsPerYear int
		want           float64
	}{
		{name: "single annual period", returns: []float64{0.1}, periodsPerYear: 1, want: 0.1},
		{name: "two half-year periods compound", returns: []float64{0.1, 0.1}, periodsPerYear: 2, want: 0.21},
		{name: "total loss floors at minus one", returns: []float64{-1.5}, periodsPerYear: 252, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AnnualizedReturn(tt.returns, tt.periodsPerYear)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, ok := AnnualizedReturn(nil, 252)
	assert.False(t, ok)
}

func TestDrawdowns(t *testing.T) {
	stats, ok := Drawdowns([]float64{1, 1.2, 0.9, 1.0})
	require.True(t, ok)
	assert.InDelta(t, 0.25, stats.MaxDrawdown, 1e-12)
	assert.InDelta(t, 1.0/6.0, stats.CurrentDrawdown, 1e-12)
	assert.Equal(t, 2, stats.DaysInDrawdown)

	// Monotonic growth never draws down.
	stats, ok = Drawdowns([]float64{1, 1.1, 1.2})
	require.True(t, ok)
	assert.Equal(t, 0.0, stats.MaxDrawdown)
	assert.Equal(t, 0, stats.DaysInDrawdown)

	_, ok = Drawdowns([]float64{1})
	assert.False(t, ok)
}

func TestCumulativeValue(t *testing.T) {
	values := CumulativeValue([]float64{0.1, -0.5})
	require.Len(t, values, 3)
	assert.InDelta(t, 1.0, values[0], 1e-12)
	assert.InDelta(t, 1.1, values[1], 1e-12)
	assert.InDelta(t, 0.55, values[2], 1e-12)
}

func TestCorrelationAndCovariance(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}
	assert.InDelta(t, 1.0, Correlation(x, y), 1e-12)
	assert.InDelta(t, Covariance(x, x), Variance(x), 1e-12)
	assert.Equal(t, 0.0, Correlation(x, []float64{1}), "mismatched lengths")
}
