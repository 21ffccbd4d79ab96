package risk

import (
	"errors"
	"fmt"
)

// Structural errors are programmer faults and always abort the computation.
// Data errors degrade the valid universe instead: the orchestrator excludes
// the affected symbols and records them in the result metadata.
var (
	// ErrEmptyReturns is returned when an estimator receives no return data.
	ErrEmptyReturns = errors.New("returns are empty")

	// ErrZeroGrossExposure is returned when every position weight is zero.
	ErrZeroGrossExposure = errors.New("zero gross exposure")

	// ErrDegenerateCorrelation signals that pairwise covariance assembly
	// destroyed the correlation structure. It is recoverable: callers fall
	// back to aligned Ledoit-Wolf estimation.
	ErrDegenerateCorrelation = errors.New("degenerate correlation structure")
)

// InvalidPriceError reports a zero or negative price encountered before a log
// return could be taken for a symbol.
type InvalidPriceError struct {
	Symbol string
	Price  float64
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price %.6f for %s: prices must be positive before log returns", e.Price, e.Symbol)
}

// DimensionError reports a mismatch between weights, covariance and symbol
// dimensions. This is a programmer error, never silently truncated.
type DimensionError struct {
	What     string
	Got      int
	Expected int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: %s has length %d, expected %d", e.What, e.Got, e.Expected)
}

// OverlapError reports a symbol pair with fewer overlapping observations than
// the pairwise estimator requires. The orchestrator treats it as a signal to
// fall back to the aligned estimator.
type OverlapError struct {
	SymbolA string
	SymbolB string
	Overlap int
	Needed  int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("pair (%s, %s) has only %d overlapping observations, need %d",
		e.SymbolA, e.SymbolB, e.Overlap, e.Needed)
}

// NaNError reports NaN contamination in returns that should be finite,
// naming the offending symbols.
type NaNError struct {
	Where   string
	Symbols []string
}

func (e *NaNError) Error() string {
	return fmt.Sprintf("NaN values detected in %s for symbols: %v", e.Where, e.Symbols)
}
