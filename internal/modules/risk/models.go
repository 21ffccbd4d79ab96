package risk

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PriceBar is one daily price observation. Dates are YYYY-MM-DD strings,
// matching the price store schema.
type PriceBar struct {
	Date     string  `json:"date"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
}

// ReturnSeries holds one symbol's daily log returns on its own date index.
// Dates and Values are parallel and strictly date-ordered.
type ReturnSeries struct {
	Dates  []string
	Values []float64
}

// Len returns the number of observations.
func (s ReturnSeries) Len() int { return len(s.Values) }

// Tail returns the last n observations (or the whole series if shorter).
func (s ReturnSeries) Tail(n int) ReturnSeries {
	if s.Len() <= n {
		return s
	}
	start := s.Len() - n
	return ReturnSeries{Dates: s.Dates[start:], Values: s.Values[start:]}
}

// ReturnMatrix is an aligned T x N matrix of log returns: every symbol shares
// the same date index (intersection of trading days).
type ReturnMatrix struct {
	Dates   []string
	Symbols []string
	Values  *mat.Dense // T x N
}

// Rows returns the number of observations T.
func (m *ReturnMatrix) Rows() int {
	if m.Values == nil {
		return 0
	}
	r, _ := m.Values.Dims()
	return r
}

// Cols returns the number of symbols N.
func (m *ReturnMatrix) Cols() int {
	if m.Values == nil {
		return 0
	}
	_, c := m.Values.Dims()
	return c
}

// Column extracts the return series of one symbol as a flat slice.
func (m *ReturnMatrix) Column(j int) []float64 {
	out := make([]float64, m.Rows())
	mat.Col(out, j, m.Values)
	return out
}

// MethodKind identifies a covariance estimator family.
type MethodKind int

const (
	MethodLedoitWolf MethodKind = iota
	MethodEwma
)

// CovarianceMethod selects the covariance estimator. EWMA carries its decay
// parameter so string method names never travel through the engine.
type CovarianceMethod struct {
	Kind       MethodKind
	EwmaLambda float64
}

// LedoitWolf selects shrinkage estimation with automatic intensity.
func LedoitWolf() CovarianceMethod {
	return CovarianceMethod{Kind: MethodLedoitWolf}
}

// Ewma selects exponentially weighted estimation with the given decay.
func Ewma(lambda float64) CovarianceMethod {
	return CovarianceMethod{Kind: MethodEwma, EwmaLambda: lambda}
}

// String renders the wire/cache-key form of the method.
func (m CovarianceMethod) String() string {
	switch m.Kind {
	case MethodEwma:
		return "ewma"
	default:
		return "lw"
	}
}

// ParseMethod maps the wire form back to a method. Unknown names error so a
// typo in a query parameter cannot silently select a default estimator.
func ParseMethod(s string) (CovarianceMethod, error) {
	switch s {
	case "lw", "":
		return LedoitWolf(), nil
	case "ewma":
		return Ewma(DefaultEwmaLambda), nil
	default:
		return CovarianceMethod{}, fmt.Errorf("unknown covariance method %q (use lw or ewma)", s)
	}
}

// CovarianceMatrix is an N x N daily covariance with its symbol order.
type CovarianceMatrix struct {
	Symbols []string
	Matrix  *mat.SymDense
}

// RiskSummary is the portfolio-level risk snapshot served to the UI.
type RiskSummary struct {
	Vol1D               float64  `json:"vol_1d"`
	Vol1DPct            float64  `json:"vol_1d_pct"`
	Vol5D               float64  `json:"vol_5d"`
	Vol5DPct            float64  `json:"vol_5d_pct"`
	VaR951D             float64  `json:"var_95_1d"`
	VaR951DPct          float64  `json:"var_95_1d_pct"`
	ES951D              float64  `json:"es_95_1d"`
	ES951DPct           float64  `json:"es_95_1d_pct"`
	VaR955D             float64  `json:"var_95_5d"`
	ES955D              float64  `json:"es_95_5d"`
	Top5ConcentrationPct float64 `json:"top_5_concentration_pct"`
	HHI                 float64  `json:"hhi"`
	Top5Names           []string `json:"top_5_names"`
	NumPositions        int      `json:"num_positions"`
	PortfolioValue      float64  `json:"portfolio_value"`
}

// RiskContributor is one position's risk decomposition row.
type RiskContributor struct {
	Symbol           string  `json:"symbol"`
	WeightPct        float64 `json:"weight_pct"`
	MCR              float64 `json:"mcr"`
	CCR              float64 `json:"ccr"`
	CCRPct           float64 `json:"ccr_pct"`
	StandaloneVolAnn float64 `json:"standalone_vol_ann"`
}

// CorrelationPair is one ranked pair of correlated symbols.
type CorrelationPair struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
}

// Cluster is one correlation-based grouping with its exposure share.
type Cluster struct {
	ClusterID        int      `json:"cluster_id"`
	Members          []string `json:"members"`
	Size             int      `json:"size"`
	AvgIntraCorr     float64  `json:"avg_intra_corr"`
	GrossExposurePct float64  `json:"gross_exposure_pct"`
	NetExposurePct   float64  `json:"net_exposure_pct"`
}

// BetaQuality grades a position-vs-factor regression.
type BetaQuality string

const (
	BetaInvalid BetaQuality = "invalid"
	BetaWeak    BetaQuality = "weak"
	BetaGood    BetaQuality = "good"
)

// RegressionDiagnostic captures the quality of one beta estimate.
type RegressionDiagnostic struct {
	Beta       float64     `json:"beta"`
	RSquared   float64     `json:"r_squared"`
	StdErr     float64     `json:"std_err"`
	TStat      float64     `json:"t_stat"`
	Overlap    int         `json:"overlap"`
	Quality    BetaQuality `json:"quality"`
	BetaCapped bool        `json:"beta_capped,omitempty"`
}

// StressContributor is one position's impact inside a stress scenario.
type StressContributor struct {
	Symbol          string  `json:"symbol"`
	ReturnPct       float64 `json:"return_pct"`
	PnLContribution float64 `json:"pnl_contribution"`
	WeightPct       float64 `json:"weight_pct"`
}

// SectorImpact aggregates scenario P&L by sector.
type SectorImpact struct {
	Sector string  `json:"sector"`
	PnL    float64 `json:"pnl"`
	Pct    float64 `json:"pct"`
}

// StressResult is the outcome of one scenario against the current portfolio.
type StressResult struct {
	Scenario           string                                     `json:"scenario"`
	Period             string                                     `json:"period"`
	PortfolioReturnPct float64                                    `json:"portfolio_return_pct"`
	PortfolioPnL       float64                                    `json:"portfolio_pnl"`
	TopContributors    []StressContributor                        `json:"top_contributors"`
	BySector           []SectorImpact                             `json:"by_sector"`
	FactorExposures    map[string]float64                         `json:"factor_exposures,omitempty"`
	Diagnostics        map[string]map[string]RegressionDiagnostic `json:"regression_diagnostics,omitempty"`
}

// StressPack groups all scenario results.
type StressPack struct {
	Historical map[string]StressResult `json:"historical"`
	Factor     map[string]StressResult `json:"factor"`
	ComputedAt string                  `json:"computed_at"`
}

// Metadata describes how a risk pack was computed.
type Metadata struct {
	Window          int      `json:"window"`
	EffectiveWindow int      `json:"effective_window,omitempty"`
	Method          string   `json:"method"`
	AsofDate        string   `json:"asof_date"`
	PortfolioHash   string   `json:"portfolio_hash,omitempty"`
	UniverseHash    string   `json:"universe_hash,omitempty"`
	NumPositions    int      `json:"num_positions"`
	NumValidSymbols int      `json:"num_valid_symbols"`
	PortfolioValue  float64  `json:"portfolio_value,omitempty"`
	ExcludedSymbols []string `json:"excluded_symbols"`
	FxAdjustedCount int      `json:"fx_adjusted_count"`
	Error           string   `json:"error,omitempty"`
}

// RiskPack is the full result bundle persisted to the cache and served to
// consumers.
type RiskPack struct {
	Summary          *RiskSummary      `json:"summary"`
	Contributors     []RiskContributor `json:"contributors"`
	CorrelationPairs []CorrelationPair `json:"correlation_pairs"`
	Clusters         []Cluster         `json:"clusters"`
	Stress           StressPack        `json:"stress"`
	Performance      *PerformanceStats `json:"performance,omitempty"`
	Quality          *QualityPack      `json:"data_quality,omitempty"`
	Metadata         Metadata          `json:"metadata"`
}
