package risk

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Warning thresholds for the data-quality pack.
const (
	WarnExcludedExposurePct = 10.0 // gross exposure excluded from covariance
	WarnMissingPricePct     = 5.0  // gross exposure missing recent prices
	WarnUnknownSectorPct    = 20.0 // gross exposure with Unknown sector
	WarnUnknownCountryPct   = 20.0 // gross exposure with Unknown country
	WarnFxCoveragePct       = 95.0 // minimum FX coverage of non-USD exposure
	WarnInvalidBetaPct      = 10.0 // gross exposure with invalid core-factor betas

	OutlierReturnThreshold = 0.30 // |daily return| above this is an outlier
	FlatStreakThreshold    = 5    // consecutive flat days flagged as stale
)

// Position is a portfolio position row as consumed from the position store.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	MarketValue float64 `json:"market_value"`
	AvgCost     float64 `json:"avg_cost"`
	Sector      string  `json:"sector"`
	Country     string  `json:"country"`
	Currency    string  `json:"currency"`
}

// ExcludedPosition details one symbol dropped from the covariance universe.
type ExcludedPosition struct {
	Symbol      string  `json:"symbol"`
	Exposure    float64 `json:"exposure"`
	ExposurePct float64 `json:"exposure_pct"`
	Reason      string  `json:"reason"`
}

// CoverageMetrics describes covariance coverage for one window.
type CoverageMetrics struct {
	Window              int                `json:"window"`
	IncludedCount       int                `json:"included_count"`
	ExcludedCount       int                `json:"excluded_count"`
	ExcludedExposurePct float64            `json:"excluded_exposure_pct"`
	TopExcluded         []ExcludedPosition `json:"top_excluded"`
}

// IntegrityMetrics flags suspect price and return data.
type IntegrityMetrics struct {
	MissingPriceExposurePct float64 `json:"missing_price_exposure_pct"`
	NaNRowsSkipped          int     `json:"nan_rows_skipped"`
	OutlierReturnDays       int     `json:"outlier_return_days"`
	FlatStreakFlags         int     `json:"flat_streak_flags"`
}

// ClassificationMetrics measures sector/country classification coverage.
type ClassificationMetrics struct {
	UnknownSectorPct  float64 `json:"unknown_sector_pct"`
	UnknownCountryPct float64 `json:"unknown_country_pct"`
}

// FxCoverageMetrics measures how much non-USD exposure has a usable FX series.
type FxCoverageMetrics struct {
	NonUSDExposurePct float64           `json:"non_usd_exposure_pct"`
	FxCoveragePct     float64           `json:"fx_coverage_pct"`
	FxIssues          map[string]string `json:"fx_issues"`
}

// BetaQualitySummary is the exposure-weighted beta quality distribution for
// the core equity factors.
type BetaQualitySummary struct {
	GoodExposurePct    float64 `json:"good_exposure_pct"`
	WeakExposurePct    float64 `json:"weak_exposure_pct"`
	InvalidExposurePct float64 `json:"invalid_exposure_pct"`
}

// QualityWarning is one banner-level message for the health panel.
type QualityWarning struct {
	Level   string `json:"level"` // info, warning, error
	Message string `json:"message"`
}

// QualityPack is the full data-quality bundle attached to a risk pack.
type QualityPack struct {
	Coverage       map[string]CoverageMetrics `json:"coverage"` // keyed "60d", "252d"
	Integrity      IntegrityMetrics           `json:"integrity"`
	Classification ClassificationMetrics      `json:"classification"`
	Fx             FxCoverageMetrics          `json:"fx"`
	BetaQuality    *BetaQualitySummary        `json:"beta_quality,omitempty"`
	Warnings       []QualityWarning           `json:"warnings"`
	ComputedAt     string                     `json:"computed_at"`
}

func grossExposure(positions []Position) float64 {
	total := 0.0
	for _, p := range positions {
		total += math.Abs(p.MarketValue)
	}
	return total
}

// ComputeCoverageMetrics summarizes how much of the portfolio the covariance
// universe actually covers for one window.
func ComputeCoverageMetrics(
	positions []Position,
	returns map[string]ReturnSeries,
	symbols, validSymbols []string,
	window, minOverlap int,
) CoverageMetrics {
	valid := make(map[string]bool, len(validSymbols))
	for _, s := range validSymbols {
		valid[s] = true
	}
	gross := grossExposure(positions)
	mv := make(map[string]float64, len(positions))
	for _, p := range positions {
		mv[p.Symbol] = math.Abs(p.MarketValue)
	}

	var excludedExposure float64
	var details []ExcludedPosition
	excludedCount := 0
	for _, sym := range symbols {
		if valid[sym] {
			continue
		}
		excludedCount++
		exposure := mv[sym]
		excludedExposure += exposure

		reason := "no_price_data"
		if s, ok := returns[sym]; ok {
			reason = fmt.Sprintf("insufficient_history (%d < %d)", s.Len(), minOverlap)
		}
		pct := 0.0
		if gross > 0 {
			pct = exposure / gross * 100
		}
		details = append(details, ExcludedPosition{Symbol: sym, Exposure: exposure, ExposurePct: pct, Reason: reason})
	}
	sort.SliceStable(details, func(a, b int) bool { return details[a].Exposure > details[b].Exposure })
	if len(details) > 5 {
		details = details[:5]
	}

	excludedPct := 0.0
	if gross > 0 {
		excludedPct = excludedExposure / gross * 100
	}
	return CoverageMetrics{
		Window:              window,
		IncludedCount:       len(validSymbols),
		ExcludedCount:       excludedCount,
		ExcludedExposurePct: excludedPct,
		TopExcluded:         details,
	}
}

// ComputeIntegrityMetrics scans prices and returns for missing recent data,
// NaN rows, outlier returns and flat streaks.
func ComputeIntegrityMetrics(
	positions []Position,
	prices map[string][]PriceBar,
	returns map[string]ReturnSeries,
	asof time.Time,
) IntegrityMetrics {
	gross := grossExposure(positions)

	// ~60 trading days back in calendar terms.
	cutoff := asof.AddDate(0, 0, -90).Format("2006-01-02")

	var out IntegrityMetrics
	var missingExposure float64
	for _, p := range positions {
		mv := math.Abs(p.MarketValue)
		bars := prices[p.Symbol]
		if len(bars) == 0 {
			missingExposure += mv
			continue
		}

		recent := false
		for _, b := range bars {
			if math.IsNaN(b.AdjClose) {
				out.NaNRowsSkipped++
			}
			if b.Date >= cutoff {
				recent = true
			}
		}
		if !recent {
			missingExposure += mv
		}

		series := returns[p.Symbol]
		streak := 0
		for _, r := range series.Values {
			if math.Abs(r) > OutlierReturnThreshold {
				out.OutlierReturnDays++
			}
			if math.Abs(r) < 1e-8 {
				streak++
				if streak >= FlatStreakThreshold {
					out.FlatStreakFlags++
					streak = 0
				}
			} else {
				streak = 0
			}
		}
	}

	if gross > 0 {
		out.MissingPriceExposurePct = missingExposure / gross * 100
	}
	return out
}

// ComputeClassificationMetrics measures exposure with unknown sector/country.
func ComputeClassificationMetrics(positions []Position) ClassificationMetrics {
	gross := grossExposure(positions)

	var unknownSector, unknownCountry float64
	for _, p := range positions {
		mv := math.Abs(p.MarketValue)
		if p.Sector == "" || p.Sector == "Unknown" {
			unknownSector += mv
		}
		if p.Country == "" || p.Country == "Unknown" {
			unknownCountry += mv
		}
	}

	var out ClassificationMetrics
	if gross > 0 {
		out.UnknownSectorPct = unknownSector / gross * 100
		out.UnknownCountryPct = unknownCountry / gross * 100
	}
	return out
}

// ComputeFxCoverageMetrics measures how much non-USD exposure got a clean FX
// adjustment.
func ComputeFxCoverageMetrics(
	positions []Position,
	securityInfo map[string]FxInfo,
	fxFlags map[string]string,
) FxCoverageMetrics {
	gross := grossExposure(positions)

	var nonUSD, covered float64
	for _, p := range positions {
		info := securityInfo[p.Symbol]
		if info.Currency == "" || info.Currency == "USD" || info.IsUSDListed {
			continue
		}
		mv := math.Abs(p.MarketValue)
		nonUSD += mv
		if _, flagged := fxFlags[p.Symbol]; !flagged {
			covered += mv
		}
	}

	out := FxCoverageMetrics{FxCoveragePct: 100, FxIssues: fxFlags}
	if out.FxIssues == nil {
		out.FxIssues = map[string]string{}
	}
	if gross > 0 {
		out.NonUSDExposurePct = nonUSD / gross * 100
	}
	if nonUSD > 0 {
		out.FxCoveragePct = covered / nonUSD * 100
	}
	return out
}

// coreEquityFactors are the factors whose beta quality the health panel
// tracks.
var coreEquityFactors = []string{"SPY", "QQQ"}

// ComputeBetaQualitySummary folds the factor-stress regression diagnostics
// into an exposure-weighted quality distribution. Each symbol is graded by
// its worst core-factor regression.
func ComputeBetaQualitySummary(stress StressPack, positions []Position, validSymbols []string) *BetaQualitySummary {
	var diags map[string]map[string]RegressionDiagnostic
	for _, key := range []string{"equity_crash", "combined_stress"} {
		if result, ok := stress.Factor[key]; ok && len(result.Diagnostics) > 0 {
			diags = result.Diagnostics
			break
		}
	}
	if diags == nil {
		return nil
	}

	gross := grossExposure(positions)
	mv := make(map[string]float64, len(positions))
	for _, p := range positions {
		mv[p.Symbol] = math.Abs(p.MarketValue)
	}

	var invalid, weak, good float64
	for _, sym := range validSymbols {
		worst := BetaGood
		for _, factor := range coreEquityFactors {
			d, ok := diags[sym][factor]
			if !ok {
				continue
			}
			if d.Quality == BetaInvalid {
				worst = BetaInvalid
				break
			}
			if d.Quality == BetaWeak {
				worst = BetaWeak
			}
		}
		switch worst {
		case BetaInvalid:
			invalid += mv[sym]
		case BetaWeak:
			weak += mv[sym]
		default:
			good += mv[sym]
		}
	}

	out := &BetaQualitySummary{}
	if gross > 0 {
		out.GoodExposurePct = good / gross * 100
		out.WeakExposurePct = weak / gross * 100
		out.InvalidExposurePct = invalid / gross * 100
	}
	return out
}

// GenerateWarnings turns the metric bundles into banner messages.
func GenerateWarnings(
	coverage map[string]CoverageMetrics,
	integrity IntegrityMetrics,
	classification ClassificationMetrics,
	fx FxCoverageMetrics,
	betaQuality *BetaQualitySummary,
) []QualityWarning {
	var warnings []QualityWarning

	windows := make([]string, 0, len(coverage))
	for k := range coverage {
		windows = append(windows, k)
	}
	sort.Strings(windows)
	for _, k := range windows {
		cov := coverage[k]
		if cov.ExcludedExposurePct > WarnExcludedExposurePct {
			warnings = append(warnings, QualityWarning{
				Level:   "warning",
				Message: fmt.Sprintf("%dd window: %.1f%% gross exposure excluded from covariance", cov.Window, cov.ExcludedExposurePct),
			})
		}
	}

	if integrity.MissingPriceExposurePct > WarnMissingPricePct {
		warnings = append(warnings, QualityWarning{
			Level:   "warning",
			Message: fmt.Sprintf("%.1f%% gross exposure missing recent price data", integrity.MissingPriceExposurePct),
		})
	}
	if integrity.OutlierReturnDays > 0 {
		warnings = append(warnings, QualityWarning{
			Level:   "info",
			Message: fmt.Sprintf("%d outlier return days detected (|return| > 30%%)", integrity.OutlierReturnDays),
		})
	}

	if classification.UnknownSectorPct > WarnUnknownSectorPct {
		warnings = append(warnings, QualityWarning{
			Level:   "warning",
			Message: fmt.Sprintf("%.1f%% exposure has Unknown sector", classification.UnknownSectorPct),
		})
	}
	if classification.UnknownCountryPct > WarnUnknownCountryPct {
		warnings = append(warnings, QualityWarning{
			Level:   "warning",
			Message: fmt.Sprintf("%.1f%% exposure has Unknown country", classification.UnknownCountryPct),
		})
	}

	if fx.NonUSDExposurePct > 0 && fx.FxCoveragePct < WarnFxCoveragePct {
		warnings = append(warnings, QualityWarning{
			Level:   "error",
			Message: fmt.Sprintf("FX coverage %.1f%% for %.1f%% non-USD exposure", fx.FxCoveragePct, fx.NonUSDExposurePct),
		})
	}

	if betaQuality != nil && betaQuality.InvalidExposurePct > WarnInvalidBetaPct {
		warnings = append(warnings, QualityWarning{
			Level:   "warning",
			Message: fmt.Sprintf("%.1f%% gross exposure has invalid betas for core equity factors", betaQuality.InvalidExposurePct),
		})
	}

	return warnings
}

// BuildQualityPack assembles the full data-quality bundle.
func BuildQualityPack(
	positions []Position,
	prices map[string][]PriceBar,
	returns map[string]ReturnSeries,
	symbols, validSymbols []string,
	securityInfo map[string]FxInfo,
	fxFlags map[string]string,
	stress StressPack,
	asof time.Time,
) *QualityPack {
	coverage := map[string]CoverageMetrics{
		"60d":  ComputeCoverageMetrics(positions, returns, symbols, validSymbols, 60, DefaultMinHistory),
		"252d": ComputeCoverageMetrics(positions, returns, symbols, validSymbols, 252, DefaultMinHistory),
	}
	integrity := ComputeIntegrityMetrics(positions, prices, returns, asof)
	classification := ComputeClassificationMetrics(positions)
	fx := ComputeFxCoverageMetrics(positions, securityInfo, fxFlags)
	betaQuality := ComputeBetaQualitySummary(stress, positions, validSymbols)

	return &QualityPack{
		Coverage:       coverage,
		Integrity:      integrity,
		Classification: classification,
		Fx:             fx,
		BetaQuality:    betaQuality,
		Warnings:       GenerateWarnings(coverage, integrity, classification, fx, betaQuality),
		ComputedAt:     asof.UTC().Format(time.RFC3339),
	}
}
