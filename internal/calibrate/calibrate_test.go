package calibrate

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := Softmax([]float64{2.0, 1.0, 0.1}, 1.0)
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if !almostEqual(sum, 1.0) {
		t.Errorf("Softmax sums to %v, want 1.0", sum)
	}
}

func TestSoftmaxEmptyInput(t *testing.T) {
	if got := Softmax(nil, 1.0); len(got) != 0 {
		t.Errorf("Softmax(nil) = %v, want empty", got)
	}
}

func TestSoftmaxNonPositiveTemperatureFallsBackToDefault(t *testing.T) {
	withZero := Softmax([]float64{1, 2, 3}, 0)
	withDefault := Softmax([]float64{1, 2, 3}, DefaultTemperature)
	for i := range withZero {
		if !almostEqual(withZero[i], withDefault[i]) {
			t.Errorf("Softmax with temperature=0 diverged from default temperature at index %d", i)
		}
	}
}

func TestSoftmaxHigherScoreWins(t *testing.T) {
	probs := Softmax([]float64{5, 1, 1}, 1.0)
	if probs[0] <= probs[1] || probs[0] <= probs[2] {
		t.Errorf("Softmax(%v) = %v, want index 0 dominant", []float64{5, 1, 1}, probs)
	}
}

func TestEntropyUniformIsOne(t *testing.T) {
	probs := []float64{0.25, 0.25, 0.25, 0.25}
	if got := Entropy(probs); !almostEqual(got, 1.0) {
		t.Errorf("Entropy(uniform) = %v, want 1.0", got)
	}
}

func TestEntropyDegenerateIsZero(t *testing.T) {
	probs := []float64{1.0, 0, 0}
	if got := Entropy(probs); !almostEqual(got, 0.0) {
		t.Errorf("Entropy(degenerate) = %v, want 0.0", got)
	}
}

func TestEntropySingleOrEmptyIsZero(t *testing.T) {
	if got := Entropy([]float64{1.0}); got != 0 {
		t.Errorf("Entropy(single) = %v, want 0", got)
	}
	if got := Entropy(nil); got != 0 {
		t.Errorf("Entropy(nil) = %v, want 0", got)
	}
}

func TestTopTwoMargin(t *testing.T) {
	probs := []float64{0.3, 0.5, 0.2}
	if got := TopTwoMargin(probs); !almostEqual(got, 0.2) {
		t.Errorf("TopTwoMargin(%v) = %v, want 0.2", probs, got)
	}
}

func TestTopTwoMarginSingleValueIsOne(t *testing.T) {
	if got := TopTwoMargin([]float64{0.9}); got != 1 {
		t.Errorf("TopTwoMargin(single) = %v, want 1", got)
	}
}

func TestAdjustConfidencePenalizesHighEntropy(t *testing.T) {
	high := AdjustConfidence(0.9, 0.8, 0.5)
	low := AdjustConfidence(0.9, 0.1, 0.5)
	if high >= low {
		t.Errorf("AdjustConfidence with high entropy = %v, want less than low-entropy case %v", high, low)
	}
}

func TestAdjustConfidencePenalizesNarrowMargin(t *testing.T) {
	narrow := AdjustConfidence(0.9, 0.1, 0.05)
	wide := AdjustConfidence(0.9, 0.1, 0.5)
	if narrow >= wide {
		t.Errorf("AdjustConfidence with narrow margin = %v, want less than wide-margin case %v", narrow, wide)
	}
}

func TestAdjustConfidenceClampsToUnitInterval(t *testing.T) {
	got := AdjustConfidence(1.0, 0.1, 0.9)
	if got < 0 || got > 1 {
		t.Errorf("AdjustConfidence(%v) out of [0,1]", got)
	}
}

func TestArgMax(t *testing.T) {
	if got := ArgMax([]float64{0.1, 0.9, 0.3}); got != 1 {
		t.Errorf("ArgMax(...) = %d, want 1", got)
	}
}

func TestCalibrateBundlesPredictionResult(t *testing.T) {
	labels := []string{"alice", "bob", "carol"}
	pred := Calibrate(labels, []float64{4, 1, 0.5}, 1.0)

	if pred.PredictedLabel != "alice" {
		t.Errorf("Calibrate() predicted %q, want alice", pred.PredictedLabel)
	}
	if len(pred.Probabilities) != len(labels) {
		t.Fatalf("Calibrate() len(Probabilities) = %d, want %d", len(pred.Probabilities), len(labels))
	}
	var sum float64
	for _, p := range pred.Probabilities {
		if p < 0 {
			t.Fatalf("Calibrate() probability %v negative", p)
		}
		sum += float64(p)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("Calibrate() probabilities sum to %v, want 1.0", sum)
	}
	if pred.AdjustedConfidence < 0 || pred.AdjustedConfidence > 1 {
		t.Errorf("Calibrate() adjusted confidence %v out of [0,1]", pred.AdjustedConfidence)
	}
}

func TestCalibrateEmptyScoresYieldsUnknown(t *testing.T) {
	pred := Calibrate(nil, nil, 1.0)
	if pred.PredictedLabel != "Unknown" {
		t.Errorf("Calibrate(empty) predicted %q, want Unknown", pred.PredictedLabel)
	}
}
