package classifier

import "gonum.org/v1/gonum/floats"

// maxEntModel is a multinomial logistic regression (the maximum-entropy
// linear candidate): one weight vector plus bias per class,
// fit by batch gradient ascent on the multinomial log-likelihood with L2
// regularization.
type maxEntModel struct {
	NumClasses int
	Weights    [][]float64 // [class][feature]
	Bias       []float64
}

const maxEntL2 = 1e-3

func fitMaxEnt(X [][]float64, y []int, numClasses int, cfg Config) *maxEntModel {
	n := len(X)
	if n == 0 {
		return &maxEntModel{NumClasses: numClasses}
	}
	numFeatures := len(X[0])

	m := &maxEntModel{
		NumClasses: numClasses,
		Weights:    make([][]float64, numClasses),
		Bias:       make([]float64, numClasses),
	}
	for k := range m.Weights {
		m.Weights[k] = make([]float64, numFeatures)
	}

	lr := cfg.LearningRate
	if lr <= 0 {
		lr = 0.1
	}
	iterations := cfg.Iterations
	if iterations < 1 {
		iterations = 1
	}

	for iter := 0; iter < iterations; iter++ {
		gradW := make([][]float64, numClasses)
		gradB := make([]float64, numClasses)
		for k := range gradW {
			gradW[k] = make([]float64, numFeatures)
		}

		for i := 0; i < n; i++ {
			scores := make([]float64, numClasses)
			for k := 0; k < numClasses; k++ {
				scores[k] = dot(m.Weights[k], X[i]) + m.Bias[k]
			}
			probs := softmaxRaw(scores)
			for k := 0; k < numClasses; k++ {
				target := 0.0
				if y[i] == k {
					target = 1.0
				}
				err := probs[k] - target
				for j := 0; j < numFeatures; j++ {
					gradW[k][j] += err * X[i][j]
				}
				gradB[k] += err
			}
		}

		scale := lr / float64(n)
		for k := 0; k < numClasses; k++ {
			for j := 0; j < numFeatures; j++ {
				m.Weights[k][j] -= scale*gradW[k][j] + lr*maxEntL2*m.Weights[k][j]
			}
			m.Bias[k] -= scale * gradB[k]
		}
	}

	return m
}

func (m *maxEntModel) predict(row []float64) []float64 {
	scores := make([]float64, m.NumClasses)
	for k := 0; k < m.NumClasses; k++ {
		scores[k] = clampFinite(dot(m.Weights[k], row) + m.Bias[k])
	}
	return scores
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return floats.Dot(a[:n], b[:n])
}
