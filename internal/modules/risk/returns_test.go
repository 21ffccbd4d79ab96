package risk

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tradingDates generates n sequential dates starting 2023-01-02, skipping
// weekends.
func tradingDates(n int) []string {
	dates := make([]string, 0, n)
	d := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for len(dates) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			dates = append(dates, d.Format("2006-01-02"))
		}
		d = d.AddDate(0, 0, 1)
	}
	return dates
}

// barsFromPrices builds daily bars with AdjClose == Close.
func barsFromPrices(prices []float64) []PriceBar {
	dates := tradingDates(len(prices))
	bars := make([]PriceBar, len(prices))
	for i, p := range prices {
		bars[i] = PriceBar{Date: dates[i], Close: p, AdjClose: p}
	}
	return bars
}

// seriesOf builds a return series on sequential trading dates.
func seriesOf(values []float64) ReturnSeries {
	return ReturnSeries{Dates: tradingDates(len(values)), Values: values}
}

// geometricBars builds n prices compounding at a constant per-day return.
func geometricBars(n int, start, dailyReturn float64) []PriceBar {
	prices := make([]float64, n)
	prices[0] = start
	for i := 1; i < n; i++ {
		prices[i] = prices[i-1] * (1 + dailyReturn)
	}
	return barsFromPrices(prices)
}

func TestCleanSeries(t *testing.T) {
	bars := []PriceBar{
		{Date: "2023-01-04", Close: 102, AdjClose: 101},
		{Date: "2023-01-02", Close: 100, AdjClose: 0}, // falls back to Close
		{Date: "2023-01-03", Close: 0, AdjClose: 0},   // skipped entirely
		{Date: "2023-01-05", Close: 103, AdjClose: math.NaN()},
	}

	dates, prices := cleanSeries(bars)
	require.Equal(t, []string{"2023-01-02", "2023-01-04", "2023-01-05"}, dates)
	assert.Equal(t, []float64{100, 101, 103}, prices)
}

func TestLogReturns(t *testing.T) {
	dates := []string{"2023-01-02", "2023-01-03", "2023-01-04"}
	prices := []float64{100, 110, 99}

	series, err := logReturns("TEST", dates, prices)
	require.NoError(t, err)
	require.Equal(t, 2, series.Len())
	assert.Equal(t, []string{"2023-01-03", "2023-01-04"}, series.Dates)
	assert.InDelta(t, math.Log(1.10), series.Values[0], 1e-12)
	assert.InDelta(t, math.Log(99.0/110.0), series.Values[1], 1e-12)
}

func TestLogReturnsRejectsNonPositivePrices(t *testing.T) {
	_, err := logReturns("BAD", []string{"2023-01-02", "2023-01-03"}, []float64{100, -5})
	require.Error(t, err)

	var priceErr *InvalidPriceError
	require.ErrorAs(t, err, &priceErr)
	assert.Equal(t, "BAD", priceErr.Symbol)
}

func TestBuildPerSymbolReturns(t *testing.T) {
	prices := map[string][]PriceBar{
		"AAA": geometricBars(100, 100, 0.001),
		"BBB": geometricBars(10, 50, 0.002), // below minHistory
	}

	returns, excluded := BuildPerSymbolReturns(prices, 252, 60)
	require.Contains(t, returns, "AAA")
	assert.Equal(t, 99, returns["AAA"].Len())
	assert.Equal(t, "insufficient_history", excluded["BBB"])
	assert.NotContains(t, returns, "BBB")
}

func TestBuildPerSymbolReturnsTrimsToWindow(t *testing.T) {
	prices := map[string][]PriceBar{
		"AAA": geometricBars(400, 100, 0.001),
	}

	returns, _ := BuildPerSymbolReturns(prices, 252, 60)
	// window+1 prices yield exactly window returns
	assert.Equal(t, 252, returns["AAA"].Len())
}

func TestBuildFXAwareReturns(t *testing.T) {
	n := 100
	prices := map[string][]PriceBar{
		"USD-STOCK": geometricBars(n, 100, 0.001),
		"EUR-STOCK": geometricBars(n, 80, 0.001),
	}
	fxRates := map[string][]PriceBar{
		"EURUSD": geometricBars(n, 1.10, 0.0005),
	}
	securityInfo := map[string]FxInfo{
		"USD-STOCK": {Currency: "USD", IsUSDListed: true},
		"EUR-STOCK": {Currency: "EUR", FxPair: "EURUSD"},
	}

	returns, fxFlags, excluded := BuildFXAwareReturns(prices, fxRates, securityInfo, 252, 60)
	require.Empty(t, excluded)
	require.Empty(t, fxFlags)

	// USD symbol passes through untouched.
	localUSD := math.Log(1.001)
	assert.InDelta(t, localUSD, returns["USD-STOCK"].Values[0], 1e-12)

	// Non-USD symbol gets r_usd = r_local + r_fx on shared dates.
	expected := math.Log(1.001) + math.Log(1.0005)
	assert.InDelta(t, expected, returns["EUR-STOCK"].Values[0], 1e-12)
}

func TestBuildFXAwareReturnsMissingFx(t *testing.T) {
	n := 100
	prices := map[string][]PriceBar{
		"JP-STOCK": geometricBars(n, 2000, 0.001),
	}
	securityInfo := map[string]FxInfo{
		"JP-STOCK": {Currency: "JPY", FxPair: "JPYUSD"},
	}

	returns, fxFlags, _ := BuildFXAwareReturns(prices, map[string][]PriceBar{}, securityInfo, 252, 60)

	// Symbol keeps unadjusted local returns and is flagged.
	require.Contains(t, returns, "JP-STOCK")
	assert.Equal(t, FlagMissingFxData, fxFlags["JP-STOCK"])
	assert.InDelta(t, math.Log(1.001), returns["JP-STOCK"].Values[0], 1e-12)
}

func TestAlignReturns(t *testing.T) {
	dates := tradingDates(120)
	series := map[string]ReturnSeries{
		"AAA": {Dates: dates, Values: make([]float64, 120)},
		"BBB": {Dates: dates[20:], Values: make([]float64, 100)},
	}
	for i := range series["AAA"].Values {
		series["AAA"].Values[i] = 0.001
	}
	for i := range series["BBB"].Values {
		series["BBB"].Values[i] = 0.002
	}

	rm, dropped := AlignReturns(series, 60)
	require.Empty(t, dropped)
	assert.Equal(t, 100, rm.Rows())
	assert.Equal(t, []string{"AAA", "BBB"}, rm.Symbols)
	assert.Equal(t, dates[20], rm.Dates[0])
}

func TestAlignReturnsDropsThinnest(t *testing.T) {
	dates := tradingDates(120)
	series := map[string]ReturnSeries{
		"AAA": {Dates: dates, Values: make([]float64, 120)},
		"BBB": {Dates: dates, Values: make([]float64, 120)},
		// Only 30 observations: alignment would cut everyone to 30.
		"CCC": {Dates: dates[90:], Values: make([]float64, 30)},
	}

	rm, dropped := AlignReturns(series, 60)
	assert.Equal(t, []string{"CCC"}, dropped)
	assert.Equal(t, []string{"AAA", "BBB"}, rm.Symbols)
	assert.Equal(t, 120, rm.Rows())
}

func TestTrimToWindow(t *testing.T) {
	prices := map[string][]PriceBar{"AAA": geometricBars(100, 100, 0.001)}
	pm, _ := BuildPriceMatrix(prices, 60)
	rm, err := ComputeLogReturns(pm)
	require.NoError(t, err)

	trimmed := TrimToWindow(rm, 50)
	assert.Equal(t, 50, trimmed.Rows())
	assert.Equal(t, rm.Dates[len(rm.Dates)-50], trimmed.Dates[0])

	// Shorter than the window: unchanged.
	same := TrimToWindow(rm, 500)
	assert.Equal(t, rm.Rows(), same.Rows())
}

func TestBuildPriceMatrixIntersection(t *testing.T) {
	full := geometricBars(100, 100, 0.001)
	partial := make([]PriceBar, 0, 80)
	partial = append(partial, full[:80]...)
	for i := range partial {
		partial[i].AdjClose = 50 + float64(i)
		partial[i].Close = 50 + float64(i)
	}

	pm, dropped := BuildPriceMatrix(map[string][]PriceBar{
		"AAA": full,
		"BBB": partial,
	}, 60)
	require.Empty(t, dropped)
	r, c := pm.Values.Dims()
	assert.Equal(t, 80, r)
	assert.Equal(t, 2, c)
}

func TestComputeLogReturnsMatchesSimpleForSmallMoves(t *testing.T) {
	pm, _ := BuildPriceMatrix(map[string][]PriceBar{
		"AAA": geometricBars(70, 100, 0.0001),
	}, 60)

	logRM, err := ComputeLogReturns(pm)
	require.NoError(t, err)
	simpleRM, err := ComputeSimpleReturns(pm)
	require.NoError(t, err)

	for i := 0; i < logRM.Rows(); i++ {
		assert.InDelta(t, simpleRM.Values.At(i, 0), logRM.Values.At(i, 0), 1e-7,
			fmt.Sprintf("row %d", i))
	}
}
