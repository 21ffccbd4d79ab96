package risk

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultMaxClusters caps hierarchical clustering output.
	DefaultMaxClusters = 8

	// DefaultTopPairs is the number of ranked correlation pairs served.
	DefaultTopPairs = 20
)

// CorrMatrix is an N x N Pearson correlation matrix with its symbol order.
type CorrMatrix struct {
	Symbols []string
	Matrix  *mat.SymDense
}

// CorrelationMatrix computes pairwise Pearson correlation from an aligned
// return matrix. NaN output is fatal: it indicates a zero-variance column or
// misaligned input, either of which would silently corrupt clustering.
func CorrelationMatrix(rm *ReturnMatrix) (*CorrMatrix, error) {
	if rm == nil || rm.Rows() == 0 || rm.Cols() == 0 {
		return nil, ErrEmptyReturns
	}
	if rm.Rows() < 2 {
		return nil, fmt.Errorf("need at least 2 observations, got %d", rm.Rows())
	}

	n := rm.Cols()
	cols := make([][]float64, n)
	for j := 0; j < n; j++ {
		cols[j] = rm.Column(j)
	}

	out := mat.NewSymDense(n, nil)
	var bad []string
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			c := stat.Correlation(cols[i], cols[j], nil)
			if math.IsNaN(c) {
				bad = append(bad, rm.Symbols[i], rm.Symbols[j])
				continue
			}
			out.SetSym(i, j, c)
		}
	}
	if len(bad) > 0 {
		return nil, &NaNError{Where: "correlation matrix", Symbols: dedupe(bad)}
	}

	return &CorrMatrix{Symbols: rm.Symbols, Matrix: out}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// TopCorrelatedPairs ranks all unordered symbol pairs by absolute
// correlation descending and returns the top n. Sorting on |corr| keeps
// strong hedges (negative correlation) ranked alongside strong co-movers.
func TopCorrelatedPairs(corr *CorrMatrix, n int) []CorrelationPair {
	size := corr.Matrix.SymmetricDim()
	pairs := make([]CorrelationPair, 0, size*(size-1)/2)
	for i := 0; i < size; i++ {
		for j := i + 1; j < size; j++ {
			pairs = append(pairs, CorrelationPair{
				SymbolA:     corr.Symbols[i],
				SymbolB:     corr.Symbols[j],
				Correlation: corr.Matrix.At(i, j),
			})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return math.Abs(pairs[a].Correlation) > math.Abs(pairs[b].Correlation)
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	return pairs
}

// ClusterResult carries cluster assignments plus per-cluster info.
type ClusterResult struct {
	Labels   map[string]int
	Clusters []Cluster
}

// HierarchicalClusters partitions the universe by Ward-linkage agglomerative
// clustering on the correlation distance d = sqrt(2*(1 - corr)), cut to at
// most maxClusters groups. Every symbol lands in exactly one cluster; a
// single-asset universe yields one singleton with avg intra-correlation 1.
func HierarchicalClusters(corr *CorrMatrix, maxClusters int) (*ClusterResult, error) {
	n := corr.Matrix.SymmetricDim()
	if n == 0 {
		return nil, ErrEmptyReturns
	}
	if maxClusters < 1 {
		maxClusters = 1
	}

	if n == 1 {
		sym := corr.Symbols[0]
		return &ClusterResult{
			Labels: map[string]int{sym: 1},
			Clusters: []Cluster{{
				ClusterID:    1,
				Members:      []string{sym},
				Size:         1,
				AvgIntraCorr: 1.0,
			}},
		}, nil
	}

	// Squared correlation distance, clipped to keep the sqrt real.
	dist2 := make([][]float64, n)
	for i := range dist2 {
		dist2[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := math.Max(-1, math.Min(1, corr.Matrix.At(i, j)))
			d2 := 2 * (1 - c)
			if math.IsNaN(d2) || math.IsInf(d2, 0) {
				return nil, fmt.Errorf("invalid distance between %s and %s", corr.Symbols[i], corr.Symbols[j])
			}
			dist2[i][j], dist2[j][i] = d2, d2
		}
	}

	// Agglomerate with the Ward update (Lance-Williams on squared
	// distances) until only the requested number of clusters remains.
	type node struct {
		members []int
	}
	active := make([]int, n)
	nodes := make([]node, n)
	for i := 0; i < n; i++ {
		active[i] = i
		nodes[i] = node{members: []int{i}}
	}

	target := maxClusters
	if target > n {
		target = n
	}

	for len(active) > target {
		bi, bj := 0, 1
		best := math.Inf(1)
		for a := 0; a < len(active); a++ {
			for b := a + 1; b < len(active); b++ {
				if d := dist2[active[a]][active[b]]; d < best {
					best = d
					bi, bj = a, b
				}
			}
		}

		i, j := active[bi], active[bj]
		ni := float64(len(nodes[i].members))
		nj := float64(len(nodes[j].members))

		for _, k := range active {
			if k == i || k == j {
				continue
			}
			nk := float64(len(nodes[k].members))
			d := ((ni+nk)*dist2[i][k] + (nj+nk)*dist2[j][k] - nk*dist2[i][j]) / (ni + nj + nk)
			dist2[i][k], dist2[k][i] = d, d
		}

		nodes[i].members = append(nodes[i].members, nodes[j].members...)
		active = append(active[:bj], active[bj+1:]...)
	}

	// Build cluster infos, largest first, with stable 1-based IDs.
	type group struct {
		members []int
	}
	groups := make([]group, 0, len(active))
	for _, idx := range active {
		m := append([]int(nil), nodes[idx].members...)
		sort.Ints(m)
		groups = append(groups, group{members: m})
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if len(groups[a].members) != len(groups[b].members) {
			return len(groups[a].members) > len(groups[b].members)
		}
		return groups[a].members[0] < groups[b].members[0]
	})

	result := &ClusterResult{Labels: make(map[string]int, n)}
	for gi, g := range groups {
		id := gi + 1
		members := make([]string, 0, len(g.members))
		for _, m := range g.members {
			members = append(members, corr.Symbols[m])
			result.Labels[corr.Symbols[m]] = id
		}

		avgIntra := 1.0
		if len(g.members) > 1 {
			sum, count := 0.0, 0
			for a := 0; a < len(g.members); a++ {
				for b := a + 1; b < len(g.members); b++ {
					sum += corr.Matrix.At(g.members[a], g.members[b])
					count++
				}
			}
			avgIntra = sum / float64(count)
		}

		result.Clusters = append(result.Clusters, Cluster{
			ClusterID:    id,
			Members:      members,
			Size:         len(members),
			AvgIntraCorr: avgIntra,
		})
	}

	return result, nil
}

// ClusterExposures fills gross and net exposure percentages into the
// clusters, both as a share of total gross exposure, and re-sorts clusters
// by gross exposure descending. Gross shares sum to 100.
func ClusterExposures(result *ClusterResult, weights []float64, symbols []string) error {
	if len(weights) != len(symbols) {
		return &DimensionError{What: "symbols", Got: len(symbols), Expected: len(weights)}
	}

	totalGross := 0.0
	for _, w := range weights {
		totalGross += math.Abs(w)
	}
	if totalGross == 0 {
		return ErrZeroGrossExposure
	}

	gross := make(map[int]float64)
	net := make(map[int]float64)
	for i, sym := range symbols {
		id, ok := result.Labels[sym]
		if !ok {
			continue
		}
		gross[id] += math.Abs(weights[i])
		net[id] += weights[i]
	}

	for i := range result.Clusters {
		id := result.Clusters[i].ClusterID
		result.Clusters[i].GrossExposurePct = gross[id] / totalGross * 100
		result.Clusters[i].NetExposurePct = net[id] / totalGross * 100
	}

	sort.SliceStable(result.Clusters, func(a, b int) bool {
		return result.Clusters[a].GrossExposurePct > result.Clusters[b].GrossExposurePct
	})

	return nil
}
