package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Engine-wide defaults. Windows are trading-day counts of returns; a window
// of 252 therefore needs 253 prices.
const (
	DefaultWindow     = 252
	DefaultMinHistory = 60
)

// FX adjustment flags attached to symbols whose USD conversion could not be
// modeled. Flagged symbols still get (unadjusted) local-currency returns.
const (
	FlagMissingFxData         = "missing_fx_data"
	FlagInsufficientFxHistory = "insufficient_fx_history"
	FlagInsufficientFxOverlap = "insufficient_fx_overlap"
)

// FxInfo is the currency/listing metadata the FX-aware builder needs per
// symbol. FxPair names the USD-per-unit-foreign series, e.g. "EURUSD".
type FxInfo struct {
	Currency    string `json:"currency"`
	IsUSDListed bool   `json:"is_usd_listed"`
	FxPair      string `json:"fx_pair,omitempty"`
}

// NeedsFxAdjustment reports whether returns for this security must be
// converted into USD terms.
func (f FxInfo) NeedsFxAdjustment() bool {
	return f.Currency != "" && f.Currency != "USD" && !f.IsUSDListed && f.FxPair != ""
}

// PriceMatrix is an aligned T x N matrix of prices on the intersection of
// trading days across all symbols.
type PriceMatrix struct {
	Dates   []string
	Symbols []string
	Values  *mat.Dense // T x N
}

// cleanSeries extracts the usable (date, price) observations for one symbol:
// sorted by date, NaN and zero prices skipped. AdjClose is preferred, Close
// is the fallback when the adjusted value is absent. A zero price is a vendor
// placeholder for a missing bar, not a traded price, so the bar is dropped
// while the symbol stays eligible; genuinely invalid (negative) prices are
// rejected later by logReturns.
func cleanSeries(bars []PriceBar) (dates []string, prices []float64) {
	sorted := make([]PriceBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	for _, b := range sorted {
		p := b.AdjClose
		if p == 0 || math.IsNaN(p) {
			p = b.Close
		}
		if math.IsNaN(p) || p == 0 {
			continue
		}
		dates = append(dates, b.Date)
		prices = append(prices, p)
	}
	return dates, prices
}

// logReturns computes r_t = ln(P_t / P_{t-1}). Non-positive prices are fatal
// for the symbol: silently producing ±Inf would poison every downstream
// matrix.
func logReturns(symbol string, dates []string, prices []float64) (ReturnSeries, error) {
	for _, p := range prices {
		if p <= 0 {
			return ReturnSeries{}, &InvalidPriceError{Symbol: symbol, Price: p}
		}
	}
	if len(prices) < 2 {
		return ReturnSeries{}, nil
	}
	out := ReturnSeries{
		Dates:  make([]string, 0, len(prices)-1),
		Values: make([]float64, 0, len(prices)-1),
	}
	for i := 1; i < len(prices); i++ {
		out.Dates = append(out.Dates, dates[i])
		out.Values = append(out.Values, math.Log(prices[i]/prices[i-1]))
	}
	return out, nil
}

// BuildPriceMatrix aligns all symbols onto their common trading days. Missing
// days are dropped, never forward-filled: filled prices would manufacture
// flat artificial returns. Symbols with fewer than minHistory usable prices
// are dropped; the returned map records the reason per dropped symbol.
func BuildPriceMatrix(prices map[string][]PriceBar, minHistory int) (*PriceMatrix, map[string]string) {
	dropped := make(map[string]string)
	type series struct {
		byDate map[string]float64
	}

	kept := make(map[string]series)
	var symbols []string
	dateCount := make(map[string]int)

	for symbol, bars := range prices {
		dates, vals := cleanSeries(bars)
		if len(vals) < minHistory {
			dropped[symbol] = "insufficient_history"
			continue
		}
		byDate := make(map[string]float64, len(dates))
		for i, d := range dates {
			byDate[d] = vals[i]
		}
		kept[symbol] = series{byDate: byDate}
		symbols = append(symbols, symbol)
		for _, d := range dates {
			dateCount[d]++
		}
	}
	sort.Strings(symbols)

	if len(symbols) == 0 {
		return &PriceMatrix{}, dropped
	}

	// Intersection of trading days across the kept universe.
	var common []string
	for d, c := range dateCount {
		if c == len(symbols) {
			common = append(common, d)
		}
	}
	sort.Strings(common)

	if len(common) < minHistory {
		for _, s := range symbols {
			dropped[s] = "insufficient_history_after_alignment"
		}
		return &PriceMatrix{}, dropped
	}

	values := mat.NewDense(len(common), len(symbols), nil)
	for j, s := range symbols {
		byDate := kept[s].byDate
		for i, d := range common {
			values.Set(i, j, byDate[d])
		}
	}

	return &PriceMatrix{Dates: common, Symbols: symbols, Values: values}, dropped
}

// ComputeLogReturns turns an aligned price matrix into an aligned log-return
// matrix (first row consumed by differencing).
func ComputeLogReturns(pm *PriceMatrix) (*ReturnMatrix, error) {
	if pm == nil || pm.Values == nil {
		return &ReturnMatrix{}, nil
	}
	t, n := pm.Values.Dims()
	if t < 2 {
		return &ReturnMatrix{}, nil
	}

	out := mat.NewDense(t-1, n, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < t; i++ {
			if p := pm.Values.At(i, j); p <= 0 {
				return nil, &InvalidPriceError{Symbol: pm.Symbols[j], Price: p}
			}
		}
		for i := 1; i < t; i++ {
			out.Set(i-1, j, math.Log(pm.Values.At(i, j)/pm.Values.At(i-1, j)))
		}
	}

	return &ReturnMatrix{Dates: pm.Dates[1:], Symbols: pm.Symbols, Values: out}, nil
}

// ComputeSimpleReturns computes (P_t - P_{t-1}) / P_{t-1} on an aligned
// price matrix.
func ComputeSimpleReturns(pm *PriceMatrix) (*ReturnMatrix, error) {
	if pm == nil || pm.Values == nil {
		return &ReturnMatrix{}, nil
	}
	t, n := pm.Values.Dims()
	if t < 2 {
		return &ReturnMatrix{}, nil
	}

	out := mat.NewDense(t-1, n, nil)
	for j := 0; j < n; j++ {
		for i := 1; i < t; i++ {
			prev := pm.Values.At(i-1, j)
			if prev == 0 {
				return nil, &InvalidPriceError{Symbol: pm.Symbols[j], Price: prev}
			}
			out.Set(i-1, j, pm.Values.At(i, j)/prev-1)
		}
	}

	return &ReturnMatrix{Dates: pm.Dates[1:], Symbols: pm.Symbols, Values: out}, nil
}

// TrimToWindow keeps the last window rows of an aligned return matrix.
func TrimToWindow(rm *ReturnMatrix, window int) *ReturnMatrix {
	t := rm.Rows()
	if t <= window {
		return rm
	}
	start := t - window
	sub := rm.Values.Slice(start, t, 0, rm.Cols()).(*mat.Dense)
	return &ReturnMatrix{Dates: rm.Dates[start:], Symbols: rm.Symbols, Values: sub}
}

// BuildPerSymbolReturns builds each symbol's log-return series on its own
// date index, trimmed to at most window observations. No global alignment is
// forced, so assets with different listing histories each contribute their
// full available history. The second return value records why symbols were
// dropped.
func BuildPerSymbolReturns(prices map[string][]PriceBar, window, minHistory int) (map[string]ReturnSeries, map[string]string) {
	if minHistory < 2 {
		minHistory = 2
	}
	result := make(map[string]ReturnSeries)
	excluded := make(map[string]string)

	for symbol, bars := range prices {
		dates, vals := cleanSeries(bars)
		if len(vals) < minHistory {
			excluded[symbol] = "insufficient_history"
			continue
		}
		// window+1 prices yield window returns.
		if len(vals) > window+1 {
			dates = dates[len(dates)-(window+1):]
			vals = vals[len(vals)-(window+1):]
		}
		series, err := logReturns(symbol, dates, vals)
		if err != nil {
			excluded[symbol] = "invalid_price_data"
			continue
		}
		result[symbol] = series
	}

	return result, excluded
}

// BuildFXAwareReturns builds per-symbol USD log-return series. For a symbol
// listed in a non-USD currency, r_usd = r_local + r_fx with the FX series
// aligned to the symbol's own dates. Symbols whose FX series is missing or
// too thin keep their local returns and receive a flag in fxFlags so callers
// can decide whether to exclude them.
func BuildFXAwareReturns(
	prices map[string][]PriceBar,
	fxRates map[string][]PriceBar,
	securityInfo map[string]FxInfo,
	window, minHistory int,
) (result map[string]ReturnSeries, fxFlags map[string]string, excluded map[string]string) {
	local, excluded := BuildPerSymbolReturns(prices, window, minHistory)
	result = make(map[string]ReturnSeries, len(local))
	fxFlags = make(map[string]string)

	fxReturns := make(map[string]ReturnSeries)
	fxSeries := func(pair string) (ReturnSeries, bool) {
		if s, ok := fxReturns[pair]; ok {
			return s, s.Len() > 0
		}
		bars, ok := fxRates[pair]
		if !ok || len(bars) == 0 {
			fxReturns[pair] = ReturnSeries{}
			return ReturnSeries{}, false
		}
		dates, vals := cleanSeries(bars)
		s, err := logReturns(pair, dates, vals)
		if err != nil {
			s = ReturnSeries{}
		}
		fxReturns[pair] = s
		return s, s.Len() > 0
	}

	for symbol, series := range local {
		info := securityInfo[symbol]
		if !info.NeedsFxAdjustment() {
			result[symbol] = series
			continue
		}

		fx, ok := fxSeries(info.FxPair)
		if !ok {
			fxFlags[symbol] = FlagMissingFxData
			result[symbol] = series
			continue
		}
		if fx.Len() < minHistory {
			fxFlags[symbol] = FlagInsufficientFxHistory
			result[symbol] = series
			continue
		}

		fx = fx.Tail(window)

		fxByDate := make(map[string]float64, fx.Len())
		for i, d := range fx.Dates {
			fxByDate[d] = fx.Values[i]
		}

		adjusted := ReturnSeries{}
		for i, d := range series.Dates {
			if rfx, ok := fxByDate[d]; ok {
				adjusted.Dates = append(adjusted.Dates, d)
				adjusted.Values = append(adjusted.Values, series.Values[i]+rfx)
			}
		}

		if adjusted.Len() < minHistory {
			fxFlags[symbol] = FlagInsufficientFxOverlap
			result[symbol] = series
			continue
		}

		result[symbol] = adjusted
	}

	return result, fxFlags, excluded
}

// AlignReturns intersects per-symbol return series onto common dates,
// producing an aligned matrix for estimators that need one. Symbols that
// would fall below minHistory after alignment are dropped first (thinnest
// history first) until the surviving overlap is long enough.
func AlignReturns(series map[string]ReturnSeries, minHistory int) (*ReturnMatrix, []string) {
	symbols := make([]string, 0, len(series))
	for s := range series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var droppedAll []string
	for len(symbols) > 0 {
		common := intersectDates(series, symbols)
		if len(common) >= minHistory {
			values := mat.NewDense(len(common), len(symbols), nil)
			for j, sym := range symbols {
				s := series[sym]
				byDate := make(map[string]float64, s.Len())
				for i, d := range s.Dates {
					byDate[d] = s.Values[i]
				}
				for i, d := range common {
					values.Set(i, j, byDate[d])
				}
			}
			return &ReturnMatrix{Dates: common, Symbols: symbols, Values: values}, droppedAll
		}

		// Drop the thinnest series and retry.
		shortest := 0
		for i, sym := range symbols {
			if series[sym].Len() < series[symbols[shortest]].Len() {
				shortest = i
			}
		}
		droppedAll = append(droppedAll, symbols[shortest])
		symbols = append(symbols[:shortest], symbols[shortest+1:]...)
	}

	return &ReturnMatrix{}, droppedAll
}

func intersectDates(series map[string]ReturnSeries, symbols []string) []string {
	count := make(map[string]int)
	for _, sym := range symbols {
		for _, d := range series[sym].Dates {
			count[d]++
		}
	}
	var common []string
	for d, c := range count {
		if c == len(symbols) {
			common = append(common, d)
		}
	}
	sort.Strings(common)
	return common
}
