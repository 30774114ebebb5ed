package classifier

import "math"

// regTree is a CART regression tree used as the weak learner inside the
// gradient-boosting ensemble. Splits are chosen greedily by SSE reduction;
// growth is best-leaf-first, bounded by maxLeaves.
type regTree struct {
	Leaf         bool
	Value        float64
	FeatureIndex int
	Threshold    float64
	Left, Right  *regTree
}

type treeSample struct {
	row   []float64
	label float64 // pseudo-residual target
}

// fitRegTree grows a regression tree against residual targets using a
// best-first leaf-splitting strategy until maxLeaves leaves exist or no
// split improves SSE.
func fitRegTree(X [][]float64, residual []float64, maxLeaves int) *regTree {
	if maxLeaves < 1 {
		maxLeaves = 1
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}

	root := &regTree{Leaf: true, Value: meanOf(residual, idx)}
	leaves := []*splitCandidate{{node: root, indices: idx}}

	numLeaves := 1
	for numLeaves < maxLeaves {
		bestI := -1
		var best *splitResult
		for i, cand := range leaves {
			if !cand.evaluated {
				cand.result = findBestSplit(X, residual, cand.indices)
				cand.evaluated = true
			}
			res := cand.result
			if res == nil {
				continue
			}
			if best == nil || res.gain > best.gain {
				best = res
				bestI = i
			}
		}
		if bestI < 0 || best == nil || best.gain <= 1e-12 {
			break
		}

		cand := leaves[bestI]
		node := cand.node
		node.Leaf = false
		node.FeatureIndex = best.featureIndex
		node.Threshold = best.threshold

		leftIdx, rightIdx := partition(X, cand.indices, best.featureIndex, best.threshold)
		leftNode := &regTree{Leaf: true, Value: meanOf(residual, leftIdx)}
		rightNode := &regTree{Leaf: true, Value: meanOf(residual, rightIdx)}
		node.Left = leftNode
		node.Right = rightNode

		leaves = append(leaves[:bestI], leaves[bestI+1:]...)
		leaves = append(leaves, &splitCandidate{node: leftNode, indices: leftIdx}, &splitCandidate{node: rightNode, indices: rightIdx})
		numLeaves++
	}

	return root
}

type splitCandidate struct {
	node      *regTree
	indices   []int
	evaluated bool
	result    *splitResult
}

type splitResult struct {
	featureIndex int
	threshold    float64
	gain         float64
}

// findBestSplit scans every feature and every midpoint between sorted
// distinct values for the split minimizing SSE, returning nil if the
// node's residuals have fewer than 2 samples or every feature is constant
// across them. The returned split's gain may be zero or negative; the
// caller treats such a split as no improvement.
func findBestSplit(X [][]float64, residual []float64, indices []int) *splitResult {
	if len(indices) < 2 {
		return nil
	}
	numFeatures := len(X[indices[0]])
	parentSSE := sseOf(residual, indices)

	var best *splitResult
	for f := 0; f < numFeatures; f++ {
		sorted := append([]int(nil), indices...)
		sortByFeature(X, sorted, f)
		for i := 0; i < len(sorted)-1; i++ {
			a, b := X[sorted[i]][f], X[sorted[i+1]][f]
			if a == b {
				continue
			}
			threshold := (a + b) / 2
			left := sorted[:i+1]
			right := sorted[i+1:]
			gain := parentSSE - sseOf(residual, left) - sseOf(residual, right)
			if best == nil || gain > best.gain {
				best = &splitResult{featureIndex: f, threshold: threshold, gain: gain}
			}
		}
	}
	return best
}

func sortByFeature(X [][]float64, indices []int, feature int) {
	// simple insertion sort: node sample counts are small relative to tree
	// depth budgets in this domain (a few hundred training sessions).
	for i := 1; i < len(indices); i++ {
		j := i
		for j > 0 && X[indices[j-1]][feature] > X[indices[j]][feature] {
			indices[j-1], indices[j] = indices[j], indices[j-1]
			j--
		}
	}
}

func partition(X [][]float64, indices []int, feature int, threshold float64) (left, right []int) {
	for _, i := range indices {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return
}

func meanOf(residual []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var sum float64
	for _, i := range indices {
		sum += residual[i]
	}
	return sum / float64(len(indices))
}

func sseOf(residual []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	m := meanOf(residual, indices)
	var sum float64
	for _, i := range indices {
		d := residual[i] - m
		sum += d * d
	}
	return sum
}

func (t *regTree) predict(row []float64) float64 {
	n := t
	for !n.Leaf {
		if n.FeatureIndex < len(row) && row[n.FeatureIndex] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// clampFinite guards a single scalar against NaN/Inf.
func clampFinite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
