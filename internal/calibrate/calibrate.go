// Package calibrate implements C4: temperature-scaled softmax over raw
// classifier scores, plus entropy/margin quality signals and a
// multiplicative confidence-adjustment rule table.
package calibrate

import (
	"math"
	"sort"

	"profilerd/internal/model"
)

// DefaultTemperature is τ = 1.0, the default calibration temperature.
const DefaultTemperature = 1.0

// Softmax converts raw per-class scores to a probability distribution using
// temperature τ. On underflow/NaN/Inf it emits a uniform distribution
// instead of propagating the fault.
func Softmax(scores []float64, temperature float64) []float64 {
	n := len(scores)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	max := scores[0]
	for _, s := range scores {
		if s > max {
			max = s
		}
	}

	var sum float64
	exps := make([]float64, n)
	for i, s := range scores {
		e := math.Exp((s - max) / temperature)
		exps[i] = e
		sum += e
	}

	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		uniform := 1.0 / float64(n)
		for i := range out {
			out[i] = uniform
		}
		return out
	}

	for i, e := range exps {
		v := e / sum
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 1.0 / float64(n)
		}
		out[i] = v
	}
	return out
}

// Entropy returns the Shannon entropy of probs normalized by log(|probs|),
// so the result lies in [0, 1]. |probs| <= 1 returns 0.
func Entropy(probs []float64) float64 {
	n := len(probs)
	if n <= 1 {
		return 0
	}
	var h float64
	for _, p := range probs {
		if p <= 0 {
			continue
		}
		h -= p * math.Log(p)
	}
	denom := math.Log(float64(n))
	if denom == 0 {
		return 0
	}
	result := h / denom
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	if result < 0 {
		result = 0
	}
	if result > 1 {
		result = 1
	}
	return result
}

// TopTwoMargin returns p1 - p2 over the descending-sorted probabilities.
// |probs| < 2 returns 1.
func TopTwoMargin(probs []float64) float64 {
	if len(probs) < 2 {
		return 1
	}
	sorted := append([]float64(nil), probs...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[0] - sorted[1]
}

// AdjustConfidence applies the multiplicative quality modifiers, in order,
// to the top probability c, and clamps the result to [0, 1].
func AdjustConfidence(topProb, entropy, topTwoMargin float64) float64 {
	c := topProb

	switch {
	case entropy > 0.70:
		c *= 0.85
	case entropy > 0.50:
		c *= 0.92
	}

	switch {
	case topTwoMargin < 0.10:
		c *= 0.80
	case topTwoMargin < 0.20:
		c *= 0.90
	}

	if entropy < 0.30 && topTwoMargin > 0.40 {
		c *= 1.05
		if c > 1 {
			c = 1
		}
	}

	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// ArgMax returns the index of the largest value, for callers that need the
// predicted-label index from a probability or score vector.
func ArgMax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

// Calibrate runs the full per-sample calibration: temperature softmax over
// the raw scores, entropy/margin quality signals, and the adjusted
// confidence, bundled as a PredictionResult whose Probabilities follow the
// same ordering as labels.
func Calibrate(labels []string, scores []float64, temperature float64) model.PredictionResult {
	probs := Softmax(scores, temperature)
	entropy := Entropy(probs)
	margin := TopTwoMargin(probs)

	predicted := model.UnknownLabel
	topProb := 0.0
	if top := ArgMax(probs); top < len(probs) && top < len(labels) {
		predicted = labels[top]
		topProb = probs[top]
	}

	probs32 := make([]float32, len(probs))
	for i, p := range probs {
		probs32[i] = float32(p)
	}

	return model.PredictionResult{
		PredictedLabel:     predicted,
		Probabilities:      probs32,
		Labels:             labels,
		Entropy:            entropy,
		TopTwoMargin:       margin,
		AdjustedConfidence: AdjustConfidence(topProb, entropy, margin),
	}
}
