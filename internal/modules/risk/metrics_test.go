package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// diagCov builds a diagonal covariance matrix from daily variances.
func diagCov(symbols []string, variances []float64) *CovarianceMatrix {
	n := len(variances)
	m := mat.NewSymDense(n, nil)
	for i, v := range variances {
		m.SetSym(i, i, v)
	}
	return &CovarianceMatrix{Symbols: symbols, Matrix: m}
}

func TestPortfolioVolatility(t *testing.T) {
	// Single asset: portfolio vol equals the asset's daily vol.
	cov := diagCov([]string{"A"}, []float64{0.0004}) // 2% daily vol
	vol, err := PortfolioVolatility([]float64{1}, cov, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, vol, 1e-12)

	// Horizon scaling: vol(5) = vol(1) * sqrt(5).
	vol5, err := PortfolioVolatility([]float64{1}, cov, 5)
	require.NoError(t, err)
	assert.InDelta(t, vol*math.Sqrt(5), vol5, 1e-12)
}

func TestPortfolioVolatilityDiversification(t *testing.T) {
	// Two uncorrelated assets at half weight each diversify below either
	// standalone vol.
	cov := diagCov([]string{"A", "B"}, []float64{0.0004, 0.0004})
	vol, err := PortfolioVolatility([]float64{0.5, 0.5}, cov, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.02/math.Sqrt(2), vol, 1e-12)
}

func TestPortfolioVolatilityDimensionMismatch(t *testing.T) {
	cov := diagCov([]string{"A", "B"}, []float64{0.0004, 0.0004})
	_, err := PortfolioVolatility([]float64{1}, cov, 1)

	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 1, dimErr.Got)
	assert.Equal(t, 2, dimErr.Expected)
}

func TestParametricVaRAndES(t *testing.T) {
	cov := diagCov([]string{"A"}, []float64{0.0004})
	weights := []float64{1}
	value := 1_000_000.0

	varAmt, err := ParametricVaR(weights, cov, 0.95, 1, value)
	require.NoError(t, err)
	// VaR95 = value * 1.645 * 0.02
	assert.InDelta(t, value*1.6449*0.02, varAmt, value*0.02*0.001)

	esAmt, err := ExpectedShortfall(weights, cov, 0.95, 1, value)
	require.NoError(t, err)
	assert.Greater(t, esAmt, varAmt, "ES must exceed VaR at the same confidence")

	// 5-day scaling.
	var5, err := ParametricVaR(weights, cov, 0.95, 5, value)
	require.NoError(t, err)
	assert.InDelta(t, varAmt*math.Sqrt(5), var5, 1e-6)
}

func TestParametricVaRValidation(t *testing.T) {
	cov := diagCov([]string{"A"}, []float64{0.0004})
	_, err := ParametricVaR([]float64{1}, cov, 0, 1, 1000)
	assert.Error(t, err)
	_, err = ParametricVaR([]float64{1}, cov, 1, 1, 1000)
	assert.Error(t, err)
	_, err = ParametricVaR([]float64{1}, cov, 0.95, 1, 0)
	assert.Error(t, err)
}

func TestRiskDecompositionIdentities(t *testing.T) {
	rm := randomReturnMatrix(252, 5, 99)
	cov, _, err := LedoitWolfCov(rm)
	require.NoError(t, err)
	weights := []float64{0.3, 0.25, 0.2, 0.15, 0.1}

	portVol, err := PortfolioVolatility(weights, cov, 1)
	require.NoError(t, err)

	ccr, err := ComponentContribution(weights, cov)
	require.NoError(t, err)
	sumCCR := 0.0
	for _, c := range ccr {
		sumCCR += c
	}
	assert.InDelta(t, portVol, sumCCR, 1e-12, "component contributions must sum to portfolio vol")

	pct, err := PctContributionToVariance(weights, cov)
	require.NoError(t, err)
	sumPct := 0.0
	for _, p := range pct {
		sumPct += p
	}
	assert.InDelta(t, 100, sumPct, 1e-9, "variance contributions must sum to 100%")
}

func TestConcentrationMetrics(t *testing.T) {
	tests := []struct {
		name      string
		weights   []float64
		symbols   []string
		wantHHI   float64
		wantTop5  float64
		wantNames []string
	}{
		{
			name:      "single position",
			weights:   []float64{1},
			symbols:   []string{"A"},
			wantHHI:   10000,
			wantTop5:  100,
			wantNames: []string{"A"},
		},
		{
			name:     "four equal positions",
			weights:  []float64{0.25, 0.25, 0.25, 0.25},
			symbols:  []string{"A", "B", "C", "D"},
			wantHHI:  2500,
			wantTop5: 100,
		},
		{
			name:      "short positions count by absolute weight",
			weights:   []float64{0.5, -0.5},
			symbols:   []string{"LONG", "SHORT"},
			wantHHI:   5000,
			wantTop5:  100,
			wantNames: []string{"LONG", "SHORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conc, err := ConcentrationMetrics(tt.weights, tt.symbols)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantHHI, conc.HHI, 1e-9)
			assert.InDelta(t, tt.wantTop5, conc.Top5Pct, 1e-9)
			if tt.wantNames != nil {
				assert.ElementsMatch(t, tt.wantNames, conc.Top5Names)
			}
		})
	}
}

func TestConcentrationMetricsTopFiveOfMany(t *testing.T) {
	weights := []float64{0.30, 0.20, 0.15, 0.10, 0.10, 0.05, 0.05, 0.05}
	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}

	conc, err := ConcentrationMetrics(weights, symbols)
	require.NoError(t, err)
	assert.Len(t, conc.Top5Names, 5)
	assert.InDelta(t, 85, conc.Top5Pct, 1e-9)
	assert.Equal(t, "A", conc.Top5Names[0])
}

func TestBuildRiskSummary(t *testing.T) {
	rm := randomReturnMatrix(252, 4, 33)
	cov, _, err := LedoitWolfCov(rm)
	require.NoError(t, err)

	weights := []float64{0.4, 0.3, 0.2, 0.1}
	symbols := []string{"A", "B", "C", "D"}
	value := 500_000.0

	summary, err := BuildRiskSummary(weights, cov, symbols, value)
	require.NoError(t, err)

	assert.Greater(t, summary.Vol1D, 0.0)
	assert.InDelta(t, summary.Vol1D*math.Sqrt(5), summary.Vol5D, summary.Vol1D*1e-9)
	assert.Greater(t, summary.ES951D, summary.VaR951D)
	assert.Greater(t, summary.ES955D, summary.VaR955D)
	assert.InDelta(t, summary.Vol1D/value*100, summary.Vol1DPct, 1e-9)
	assert.Equal(t, 4, summary.NumPositions)
	assert.Equal(t, value, summary.PortfolioValue)
	assert.GreaterOrEqual(t, summary.HHI, 10000.0/4)
}

func TestBuildRiskContributors(t *testing.T) {
	rm := randomReturnMatrix(252, 3, 77)
	cov, _, err := LedoitWolfCov(rm)
	require.NoError(t, err)

	weights := []float64{0.6, 0.3, 0.1}
	symbols := []string{"A", "B", "C"}
	standalone := map[string]float64{"A": 25, "B": 18, "C": 40}

	contributors, err := BuildRiskContributors(weights, cov, symbols, standalone)
	require.NoError(t, err)
	require.Len(t, contributors, 3)

	// Sorted by |CCR| descending.
	for i := 1; i < len(contributors); i++ {
		assert.GreaterOrEqual(t,
			math.Abs(contributors[i-1].CCR), math.Abs(contributors[i].CCR))
	}

	// CCR percentages sum to 100 for a long-only portfolio.
	sumPct := 0.0
	for _, c := range contributors {
		sumPct += c.CCRPct
	}
	assert.InDelta(t, 100, sumPct, 1e-9)

	// Standalone vols pass through from the caller.
	for _, c := range contributors {
		assert.Equal(t, standalone[c.Symbol], c.StandaloneVolAnn)
	}
}

func TestBuildRiskContributorsSkipsZeroWeights(t *testing.T) {
	cov := diagCov([]string{"A", "B"}, []float64{0.0004, 0.0004})
	contributors, err := BuildRiskContributors([]float64{1, 0}, cov, []string{"A", "B"}, nil)
	require.NoError(t, err)
	require.Len(t, contributors, 1)
	assert.Equal(t, "A", contributors[0].Symbol)
}
