package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultEwmaLambda is the standard RiskMetrics decay factor.
	DefaultEwmaLambda = 0.94

	// TradingDaysPerYear is used for annualization.
	TradingDaysPerYear = 252

	// PSDTolerance is the eigenvalue floor below which a covariance matrix
	// is treated as non-PSD and repaired.
	PSDTolerance = 1e-10

	// DefaultShrinkageBuffer is added to the bisection result when repairing
	// a pairwise matrix. A heuristic, kept configurable via PairwiseOptions.
	DefaultShrinkageBuffer = 0.01

	// DegenerateCorrThreshold: below this average absolute off-diagonal
	// correlation (for >3 assets) pairwise assembly is considered to have
	// destroyed structure and callers fall back to aligned Ledoit-Wolf.
	DegenerateCorrThreshold = 0.02

	ewmaInitObservations = 10
	shrinkageBisections  = 50
)

// checkReturns validates a return matrix before estimation: non-empty, at
// least two observations, no NaN contamination. NaN errors name the
// offending symbols.
func checkReturns(rm *ReturnMatrix) error {
	if rm == nil || rm.Rows() == 0 || rm.Cols() == 0 {
		return ErrEmptyReturns
	}
	if rm.Rows() < 2 {
		return fmt.Errorf("need at least 2 observations, got %d", rm.Rows())
	}
	var contaminated []string
	for j := 0; j < rm.Cols(); j++ {
		for i := 0; i < rm.Rows(); i++ {
			if math.IsNaN(rm.Values.At(i, j)) {
				contaminated = append(contaminated, rm.Symbols[j])
				break
			}
		}
	}
	if len(contaminated) > 0 {
		return &NaNError{Where: "returns", Symbols: contaminated}
	}
	return nil
}

// LedoitWolfCov estimates covariance with Ledoit-Wolf shrinkage toward a
// scaled identity, with the shrinkage intensity chosen from the data. It
// handles T < N gracefully. Returns the matrix and the chosen intensity.
func LedoitWolfCov(rm *ReturnMatrix) (*CovarianceMatrix, float64, error) {
	if err := checkReturns(rm); err != nil {
		return nil, 0, err
	}

	t, n := rm.Values.Dims()
	tf := float64(t)

	// Demean columns.
	x := mat.NewDense(t, n, nil)
	for j := 0; j < n; j++ {
		col := rm.Column(j)
		mean := stat.Mean(col, nil)
		for i := 0; i < t; i++ {
			x.Set(i, j, col[i]-mean)
		}
	}

	// Biased sample covariance S = X'X / T.
	s := mat.NewDense(n, n, nil)
	s.Mul(x.T(), x)
	s.Scale(1/tf, s)

	// Shrinkage target mu*I with mu = trace(S)/N.
	mu := 0.0
	for i := 0; i < n; i++ {
		mu += s.At(i, i)
	}
	mu /= float64(n)

	// delta^2 = ||S - mu*I||_F^2 / N.
	delta := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := s.At(i, j)
			if i == j {
				d -= mu
			}
			delta += d * d
		}
	}
	delta /= float64(n)

	// beta^2 = min(delta^2, (1/(T^2 N)) * sum_t ||x_t x_t' - S||_F^2).
	beta := 0.0
	for k := 0; k < t; k++ {
		for i := 0; i < n; i++ {
			xi := x.At(k, i)
			for j := 0; j < n; j++ {
				d := xi*x.At(k, j) - s.At(i, j)
				beta += d * d
			}
		}
	}
	beta /= tf * tf * float64(n)

	shrinkage := 0.0
	if delta > 0 {
		shrinkage = math.Min(1, beta/delta)
	}

	// Sigma = (1-shrinkage)*S + shrinkage*mu*I.
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1 - shrinkage) * (s.At(i, j) + s.At(j, i)) / 2
			if i == j {
				v += shrinkage * mu
			}
			cov.SetSym(i, j, v)
		}
	}

	result := &CovarianceMatrix{Symbols: rm.Symbols, Matrix: cov}
	clampNegativeEigenvalues(result)
	return result, shrinkage, nil
}

// EwmaCov estimates covariance with the RiskMetrics recursion
// Sigma_t = lambda*Sigma_{t-1} + (1-lambda)*r_t r_t', initialized from the
// sample covariance of the first min(10, T) observations. Lower lambda
// reacts faster to recent shocks.
func EwmaCov(rm *ReturnMatrix, lambda float64) (*CovarianceMatrix, error) {
	if err := checkReturns(rm); err != nil {
		return nil, err
	}
	if lambda <= 0 || lambda >= 1 {
		return nil, fmt.Errorf("ewma lambda must be in (0, 1), got %v", lambda)
	}

	t, n := rm.Values.Dims()
	initWindow := ewmaInitObservations
	if t < initWindow {
		initWindow = t
	}

	// Initial sample covariance (ddof=1) over the warmup rows.
	cols := make([][]float64, n)
	for j := 0; j < n; j++ {
		cols[j] = rm.Column(j)
	}
	cov := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(cols[i][:initWindow], cols[j][:initWindow], nil)
			cov.Set(i, j, c)
			cov.Set(j, i, c)
		}
	}

	// Recurse forward through the remaining observations.
	for k := initWindow; k < t; k++ {
		for i := 0; i < n; i++ {
			ri := rm.Values.At(k, i)
			for j := 0; j < n; j++ {
				cov.Set(i, j, lambda*cov.At(i, j)+(1-lambda)*ri*rm.Values.At(k, j))
			}
		}
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (cov.At(i, j)+cov.At(j, i))/2)
		}
	}

	result := &CovarianceMatrix{Symbols: rm.Symbols, Matrix: sym}
	clampNegativeEigenvalues(result)
	return result, nil
}

// EstimateCovariance dispatches to the estimator selected by method on an
// aligned return matrix.
func EstimateCovariance(rm *ReturnMatrix, method CovarianceMethod) (*CovarianceMatrix, error) {
	switch method.Kind {
	case MethodEwma:
		lambda := method.EwmaLambda
		if lambda == 0 {
			lambda = DefaultEwmaLambda
		}
		return EwmaCov(rm, lambda)
	default:
		cov, _, err := LedoitWolfCov(rm)
		return cov, err
	}
}

// PairwiseOptions configures pairwise-overlap estimation.
type PairwiseOptions struct {
	Window       int
	MinOverlap   int
	SafetyBuffer float64
}

// DefaultPairwiseOptions derives the conventional settings for a window and
// minimum history.
func DefaultPairwiseOptions(window, minHistory int) PairwiseOptions {
	minOverlap := minHistory / 2
	if minOverlap < 30 {
		minOverlap = 30
	}
	return PairwiseOptions{Window: window, MinOverlap: minOverlap, SafetyBuffer: DefaultShrinkageBuffer}
}

// PairwiseCov assembles a covariance matrix from per-symbol series with
// unequal histories. Each entry uses the overlap of dates available to that
// pair; diagonals use each symbol's own up-to-window history. The raw matrix
// is not guaranteed PSD, so diagonal shrinkage with the minimal bisected
// alpha restores PSD-ness while preserving correlation structure far better
// than eigenvalue clamping.
func PairwiseCov(series map[string]ReturnSeries, symbols []string, opts PairwiseOptions) (*CovarianceMatrix, error) {
	n := len(symbols)
	if n == 0 {
		return nil, ErrEmptyReturns
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	trimmed := make([]ReturnSeries, n)
	byDate := make([]map[string]float64, n)
	for i, sym := range symbols {
		s, ok := series[sym]
		if !ok {
			return nil, fmt.Errorf("symbol %s not found in returns", sym)
		}
		s = s.Tail(opts.Window)
		if s.Len() < 2 {
			return nil, fmt.Errorf("symbol %s has %d observations, need at least 2", sym, s.Len())
		}
		trimmed[i] = s
		m := make(map[string]float64, s.Len())
		for k, d := range s.Dates {
			m[d] = s.Values[k]
		}
		byDate[i] = m
	}

	raw := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		raw.SetSym(i, i, stat.Variance(trimmed[i].Values, nil))
		for j := i + 1; j < n; j++ {
			var ri, rj []float64
			for k, d := range trimmed[i].Dates {
				if v, ok := byDate[j][d]; ok {
					ri = append(ri, trimmed[i].Values[k])
					rj = append(rj, v)
				}
			}
			if len(ri) < opts.MinOverlap {
				return nil, &OverlapError{
					SymbolA: symbols[i], SymbolB: symbols[j],
					Overlap: len(ri), Needed: opts.MinOverlap,
				}
			}
			raw.SetSym(i, j, stat.Covariance(ri, rj, nil))
		}
	}

	cov := &CovarianceMatrix{Symbols: symbols, Matrix: raw}
	if minEig := minEigenvalue(raw); minEig < PSDTolerance {
		applyDiagonalShrinkage(cov, opts.SafetyBuffer)
	}
	return cov, nil
}

// applyDiagonalShrinkage finds, by bisection, the minimal alpha in [0,1] such
// that (1-alpha)*Sigma + alpha*diag(Sigma) is PSD, adds a small safety
// buffer, and applies it in place.
func applyDiagonalShrinkage(cov *CovarianceMatrix, buffer float64) float64 {
	n := cov.Matrix.SymmetricDim()
	shrunk := func(alpha float64) *mat.SymDense {
		out := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			out.SetSym(i, i, cov.Matrix.At(i, i))
			for j := i + 1; j < n; j++ {
				out.SetSym(i, j, (1-alpha)*cov.Matrix.At(i, j))
			}
		}
		return out
	}

	lo, hi := 0.0, 1.0
	for k := 0; k < shrinkageBisections; k++ {
		mid := (lo + hi) / 2
		if minEigenvalue(shrunk(mid)) > PSDTolerance {
			hi = mid
		} else {
			lo = mid
		}
	}

	alpha := math.Min(hi+buffer, 1.0)
	cov.Matrix = shrunk(alpha)
	return alpha
}

// clampNegativeEigenvalues is the secondary safety net: if numerical noise
// leaves tiny negative eigenvalues after estimation, clamp them to zero via
// eigendecomposition and symmetrize. Returns true when a repair was applied.
func clampNegativeEigenvalues(cov *CovarianceMatrix) bool {
	n := cov.Matrix.SymmetricDim()

	var eig mat.EigenSym
	if !eig.Factorize(cov.Matrix, true) {
		return false
	}
	vals := eig.Values(nil)

	minEig := vals[0]
	for _, v := range vals {
		if v < minEig {
			minEig = v
		}
	}
	if minEig >= -1e-8 {
		return false
	}

	for i, v := range vals {
		if v < 0 {
			vals[i] = 0
		}
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var rebuilt mat.Dense
	rebuilt.Mul(&vecs, mat.NewDiagDense(n, vals))
	rebuilt.Mul(&rebuilt, vecs.T())

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (rebuilt.At(i, j)+rebuilt.At(j, i))/2)
		}
	}
	cov.Matrix = out
	return true
}

// minEigenvalue returns the smallest eigenvalue of a symmetric matrix.
func minEigenvalue(s *mat.SymDense) float64 {
	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		return math.Inf(-1)
	}
	vals := eig.Values(nil)
	min := vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
	}
	return min
}

// AvgAbsOffDiagCorr computes the average absolute off-diagonal correlation
// implied by a covariance matrix. Used to detect degenerate pairwise
// assembly.
func AvgAbsOffDiagCorr(cov *CovarianceMatrix) float64 {
	n := cov.Matrix.SymmetricDim()
	if n < 2 {
		return 0
	}
	sum, count := 0.0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			di := cov.Matrix.At(i, i)
			dj := cov.Matrix.At(j, j)
			if di <= 0 || dj <= 0 {
				continue
			}
			sum += math.Abs(cov.Matrix.At(i, j) / math.Sqrt(di*dj))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// IsDegenerate reports whether pairwise assembly destroyed correlation
// structure. Only meaningful for universes of more than 3 assets.
func IsDegenerate(cov *CovarianceMatrix) bool {
	return cov.Matrix.SymmetricDim() > 3 && AvgAbsOffDiagCorr(cov) < DegenerateCorrThreshold
}

// AnnualizeCov scales a daily covariance matrix to annual terms.
func AnnualizeCov(cov *CovarianceMatrix, tradingDays int) (*CovarianceMatrix, error) {
	if cov == nil || cov.Matrix == nil || cov.Matrix.SymmetricDim() == 0 {
		return nil, fmt.Errorf("cannot annualize empty covariance matrix")
	}
	if tradingDays <= 0 {
		return nil, fmt.Errorf("trading days must be positive, got %d", tradingDays)
	}
	n := cov.Matrix.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, cov.Matrix.At(i, j)*float64(tradingDays))
		}
	}
	return &CovarianceMatrix{Symbols: cov.Symbols, Matrix: out}, nil
}
