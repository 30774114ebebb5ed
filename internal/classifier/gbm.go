package classifier

import "math"

// gbmModel is a multiclass gradient-boosting ensemble: one additive sequence
// of regression trees per class, boosted against the softmax pseudo-residual
// (the standard multiclass LogitBoost/GBM formulation). Trees[k][t] is the
// t-th boosting round's tree for class k.
type gbmModel struct {
	NumClasses   int
	LearningRate float64
	Trees        [][]*regTree
}

func fitGBM(X [][]float64, y []int, numClasses int, cfg Config) *gbmModel {
	n := len(X)
	m := &gbmModel{NumClasses: numClasses, LearningRate: cfg.LearningRate, Trees: make([][]*regTree, numClasses)}

	// F[k][i] is the running raw score for class k, sample i.
	F := make([][]float64, numClasses)
	for k := range F {
		F[k] = make([]float64, n)
	}

	iterations := cfg.Iterations
	if iterations < 1 {
		iterations = 1
	}
	maxLeaves := cfg.NumLeaves
	if maxLeaves < 2 {
		maxLeaves = 2
	}

	for round := 0; round < iterations; round++ {
		probs := make([][]float64, n)
		for i := 0; i < n; i++ {
			scores := make([]float64, numClasses)
			for k := 0; k < numClasses; k++ {
				scores[k] = F[k][i]
			}
			probs[i] = softmaxRaw(scores)
		}

		for k := 0; k < numClasses; k++ {
			residual := make([]float64, n)
			for i := 0; i < n; i++ {
				target := 0.0
				if y[i] == k {
					target = 1.0
				}
				residual[i] = target - probs[i][k]
			}
			tree := fitRegTree(X, residual, maxLeaves)
			m.Trees[k] = append(m.Trees[k], tree)
			for i := 0; i < n; i++ {
				F[k][i] += cfg.LearningRate * tree.predict(X[i])
			}
		}
	}

	return m
}

func (m *gbmModel) predict(row []float64) []float64 {
	scores := make([]float64, m.NumClasses)
	for k := 0; k < m.NumClasses; k++ {
		var sum float64
		for _, t := range m.Trees[k] {
			sum += m.LearningRate * t.predict(row)
		}
		scores[k] = clampFinite(sum)
	}
	return scores
}

// softmaxRaw is a small local softmax used purely to compute training
// pseudo-residuals; it intentionally does not depend on the calibrate
// package (C3 must not depend on C4) and performs its own max-subtraction
// for numerical stability.
func softmaxRaw(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	exps := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		e := expSafe(s - max)
		exps[i] = e
		sum += e
	}
	if sum <= 0 {
		uniform := 1.0 / float64(len(scores))
		out := make([]float64, len(scores))
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	out := make([]float64, len(scores))
	for i, e := range exps {
		out[i] = e / sum
	}
	return out
}

func expSafe(x float64) float64 {
	// bound the exponent to avoid overflow on pathological inputs.
	if x > 50 {
		x = 50
	}
	if x < -50 {
		x = -50
	}
	return math.Exp(x)
}
