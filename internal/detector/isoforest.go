package detector

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Forest is an isolation-forest detector: an ensemble of random
// partition trees. Outliers isolate in few splits, so their average
// path length is short and their anomaly score high.
//
// All fields are exported for JSON snapshot persistence. A fitted
// Forest is immutable and safe for concurrent scoring.
type Forest struct {
	Trees []*Node `json:"trees"`

	// Psi is the effective per-tree subsample size used during fit.
	Psi int `json:"psi"`

	// Cutoff is the (1 - contamination) quantile of training scores.
	Cutoff float64 `json:"cutoff"`

	cfg Config
}

// Node is one partition-tree node. A node with a nil Left child is a
// leaf; Size is the number of training rows that reached it.
type Node struct {
	SplitDim int     `json:"d,omitempty"`
	SplitVal float64 `json:"v,omitempty"`
	Left     *Node   `json:"l,omitempty"`
	Right    *Node   `json:"r,omitempty"`
	Size     int     `json:"n,omitempty"`
}

// NewForest creates an unfitted isolation forest.
func NewForest(cfg Config) *Forest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SubsampleSize <= 0 {
		cfg.SubsampleSize = 256
	}
	return &Forest{cfg: cfg}
}

// Fit builds the ensemble from a normalized training matrix. The fit is
// fully deterministic for a given (matrix, seed) pair.
func (f *Forest) Fit(matrix [][]float64) error {
	n := len(matrix)
	if n == 0 {
		return fmt.Errorf("cannot fit isolation forest on empty matrix")
	}

	psi := f.cfg.SubsampleSize
	if psi > n {
		psi = n
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	trees := make([]*Node, f.cfg.Trees)
	for i := range trees {
		sample := subsample(rng, matrix, psi)
		trees[i] = buildTree(rng, sample, 0, heightLimit)
	}

	f.Trees = trees
	f.Psi = psi
	f.Cutoff = f.calibrate(matrix)

	return nil
}

// Score returns the anomaly score for one vector: 2^(-E[h(x)] / c(psi)).
func (f *Forest) Score(vector []float64) float64 {
	if len(f.Trees) == 0 {
		return 0.5
	}

	cn := avgPathBaseline(f.Psi)
	if cn <= 0 {
		return 0.5
	}

	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, vector, 0)
	}
	avg := total / float64(len(f.Trees))

	return math.Pow(2, -avg/cn)
}

// calibrate scores the training matrix and records the score above
// which the configured contamination fraction of training rows falls.
func (f *Forest) calibrate(matrix [][]float64) float64 {
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		scores[i] = f.Score(row)
	}
	sort.Float64s(scores)

	frac := f.cfg.Contamination
	if frac <= 0 || frac >= 1 {
		frac = 0.1
	}
	idx := int(math.Ceil(float64(len(scores)) * (1 - frac)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	return scores[idx]
}

// subsample draws psi distinct rows, deterministically for a given rng state.
func subsample(rng *rand.Rand, matrix [][]float64, psi int) [][]float64 {
	if psi >= len(matrix) {
		return matrix
	}
	idx := rng.Perm(len(matrix))[:psi]
	out := make([][]float64, psi)
	for i, j := range idx {
		out[i] = matrix[j]
	}
	return out
}

// buildTree recursively partitions rows along random dimensions.
func buildTree(rng *rand.Rand, rows [][]float64, depth, limit int) *Node {
	if depth >= limit || len(rows) <= 1 {
		return &Node{Size: len(rows)}
	}

	dim, lo, hi, ok := pickSplitDim(rng, rows)
	if !ok {
		// All rows identical across every dimension.
		return &Node{Size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range rows {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &Node{Size: len(rows)}
	}

	return &Node{
		SplitDim: dim,
		SplitVal: split,
		Left:     buildTree(rng, left, depth+1, limit),
		Right:    buildTree(rng, right, depth+1, limit),
	}
}

// pickSplitDim chooses a random dimension with nonzero spread.
func pickSplitDim(rng *rand.Rand, rows [][]float64) (dim int, lo, hi float64, ok bool) {
	dims := len(rows[0])
	var candidates []int
	for d := 0; d < dims; d++ {
		mn, mx := rows[0][d], rows[0][d]
		for _, row := range rows[1:] {
			if row[d] < mn {
				mn = row[d]
			}
			if row[d] > mx {
				mx = row[d]
			}
		}
		if mx > mn {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return 0, 0, 0, false
	}

	dim = candidates[rng.Intn(len(candidates))]
	lo, hi = rows[0][dim], rows[0][dim]
	for _, row := range rows[1:] {
		if row[dim] < lo {
			lo = row[dim]
		}
		if row[dim] > hi {
			hi = row[dim]
		}
	}
	return dim, lo, hi, true
}

// pathLength descends to the leaf containing vector. Leaves containing
// more than one training row are credited the expected remaining depth.
func pathLength(node *Node, vector []float64, depth int) float64 {
	if node.Left == nil {
		return float64(depth) + avgPathBaseline(node.Size)
	}
	if vector[node.SplitDim] < node.SplitVal {
		return pathLength(node.Left, vector, depth+1)
	}
	return pathLength(node.Right, vector, depth+1)
}

// eulerMascheroni for the harmonic-number approximation.
const eulerMascheroni = 0.5772156649

// avgPathBaseline is c(n): the average path length of an unsuccessful
// BST search among n points, used to normalize isolation depths.
func avgPathBaseline(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		h := math.Log(float64(n-1)) + eulerMascheroni
		return 2*h - 2*float64(n-1)/float64(n)
	}
}
