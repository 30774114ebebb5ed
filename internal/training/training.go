// Package training implements C6, the training orchestrator: sliding-window
// augmentation of persisted labeled sessions, per-label filtering, a
// data-size-dependent model-selection strategy (ensemble-select, k-fold, or
// single split), and persistence of the winning artifact plus its metrics
// record.
package training

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"profilerd/internal/classifier"
	"profilerd/internal/features"
	"profilerd/internal/model"
	"profilerd/internal/normalize"
	"profilerd/internal/profilerrors"
)

// Config names the tunables the orchestrator needs.
type Config struct {
	AugmentationWindowFraction float64
	AugmentationStepFraction   float64
	TrainTestSplit             float64
	CVFolds                    int
}

// Result is the outcome of a training run: the fitted artifact plus the
// metrics record persisted alongside it.
type Result struct {
	Artifact model.ModelArtifact
	Metrics  model.TrainingMetrics
}

const (
	minAugmentableEvents = 30
	minWindowEvents      = 20
	minLabelSamples      = 2
	minTotalVectors      = 5
	ensembleMinVectors   = 30
	ensembleMinLabels    = 3
	kfoldMinVectors      = 20
	kfoldMinLabels       = 3
)

// Run extracts features (with augmentation) from every labeled session,
// selects a model-selection strategy by data size, fits the winner on the
// full data, and returns the artifact and its metrics record. Sessions whose
// label is empty or "Unknown" must already be excluded by the caller.
func Run(sessions []model.TrainingSession, cfg Config) (Result, error) {
	vectors := extractWithAugmentation(sessions, cfg)
	vectors = filterByLabelMinimum(vectors, minLabelSamples)

	if len(vectors) < minTotalVectors {
		return Result{}, fmt.Errorf("training: %w", profilerrors.ErrInsufficientData)
	}

	labelSet := map[string]int{}
	for _, v := range vectors {
		labelSet[v.Label]++
	}
	numLabels := len(labelSet)

	rng := rand.New(rand.NewSource(1))

	var (
		winner   classifier.Config
		picked   evalResult
		strategy string
	)

	switch {
	case len(vectors) >= ensembleMinVectors && numLabels >= ensembleMinLabels:
		strategy = "ensemble-select"
		winner, picked = ensembleSelect(vectors, cfg, rng)
	case len(vectors) >= kfoldMinVectors && numLabels >= kfoldMinLabels:
		strategy = "k-fold"
		winner = classifier.DefaultGBMDeepConfig()
		picked = kFoldEvaluate(vectors, winner, cfg.CVFolds, rng)
	default:
		strategy = "single-split"
		winner = classifier.DefaultGBMDeepConfig()
		train, test := splitTrainTest(vectors, cfg.TrainTestSplit, rng)
		picked = fitAndScore(train, test, winner)
	}

	artifact, err := classifier.Fit(vectors, winner)
	if err != nil {
		return Result{}, fmt.Errorf("training: refit on full data: %w", err)
	}

	samplesPerUser := make(map[string]int, len(labelSet))
	for label, n := range labelSet {
		samplesPerUser[label] = n
	}

	metrics := model.TrainingMetrics{
		MicroAcc:         picked.microAcc,
		MacroAcc:         picked.macroAcc,
		LogLoss:          picked.logLoss,
		LogLossReduction: logLossReduction(picked.logLoss, numLabels),
		TotalSamples:     len(vectors),
		UniqueLabels:     numLabels,
		FeatureCount:     len(features.Names()),
		Algorithm:        string(winner.Algorithm) + ":" + strategy,
		TrainedAt:        time.Now(),
		SamplesPerUser:   samplesPerUser,
	}

	return Result{Artifact: artifact, Metrics: metrics}, nil
}

// extractWithAugmentation extracts one full-session vector per session, plus
// sliding-window vectors for sessions with at least minAugmentableEvents
// events. Every emitted vector must pass the validity gate in extractValid.
func extractWithAugmentation(sessions []model.TrainingSession, cfg Config) []model.FeatureVector {
	var out []model.FeatureVector

	for _, s := range sessions {
		events := normalize.Events(s.RawEvents)

		if fv := extractValid(events, s.Label); fv != nil {
			out = append(out, *fv)
		}

		n := len(events)
		if n < minAugmentableEvents {
			continue
		}

		window := int(float64(n) * cfg.AugmentationWindowFraction)
		step := int(float64(n) * cfg.AugmentationStepFraction)
		if step < 1 {
			step = 1
		}
		if window < minWindowEvents {
			continue
		}

		for start := 0; start+window <= n; start += step {
			sub := events[start : start+window]
			if len(sub) < minWindowEvents {
				continue
			}
			if fv := extractValid(sub, s.Label); fv != nil {
				out = append(out, *fv)
			}
		}
	}

	return out
}

// extractValid extracts a feature vector and applies the validity gate (mean
// dwell > 0, mean flight > 0, typing speed > 0, all slots finite); returns
// nil when the gate rejects the window.
func extractValid(events []model.KeystrokeEvent, label string) *model.FeatureVector {
	fv, err := features.ExtractForTraining(events, label)
	if err != nil {
		return nil
	}

	names := features.Names()
	idx := func(name string) float64 {
		for i, n := range names {
			if n == name {
				return float64(fv.Values[i])
			}
		}
		return 0
	}

	meanDwell := idx("meanDwell")
	meanFlight := idx("meanFlight")
	typingSpeed := idx("typingSpeed")

	if meanDwell <= 0 || meanFlight <= 0 || typingSpeed <= 0 {
		return nil
	}
	for _, v := range fv.Values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	}

	return &fv
}

// filterByLabelMinimum drops every vector whose label has fewer than min
// accepted vectors overall.
func filterByLabelMinimum(vectors []model.FeatureVector, min int) []model.FeatureVector {
	counts := map[string]int{}
	for _, v := range vectors {
		counts[v.Label]++
	}

	out := make([]model.FeatureVector, 0, len(vectors))
	for _, v := range vectors {
		if counts[v.Label] >= min {
			out = append(out, v)
		}
	}
	return out
}

type evalResult struct {
	microAcc float64
	macroAcc float64
	logLoss  float64
}

// score returns the ensemble-selection objective.
func (e evalResult) score() float64 {
	return 0.6*e.macroAcc + 0.4*e.microAcc
}

// ensembleSelect fits the three candidate pipelines on an 85/15 split and
// returns the config and evaluation of the one maximizing
// 0.6*macroAccuracy + 0.4*microAccuracy.
func ensembleSelect(vectors []model.FeatureVector, cfg Config, rng *rand.Rand) (classifier.Config, evalResult) {
	train, test := splitTrainTest(vectors, cfg.TrainTestSplit, rng)

	var bestCfg classifier.Config
	var best evalResult
	first := true

	for _, candidate := range classifier.CandidatePipelines() {
		result := fitAndScore(train, test, candidate)
		if first || result.score() > best.score() {
			best = result
			bestCfg = candidate
			first = false
		}
	}

	return bestCfg, best
}

// kFoldEvaluate runs k-fold cross-validation of a single pipeline config and
// returns the mean fold metrics.
func kFoldEvaluate(vectors []model.FeatureVector, cfg classifier.Config, k int, rng *rand.Rand) evalResult {
	if k < 2 {
		k = 2
	}
	folds := splitFolds(vectors, k, rng)

	var micro, macro, losses []float64
	for i := range folds {
		var test []model.FeatureVector
		var train []model.FeatureVector
		for j, fold := range folds {
			if j == i {
				test = append(test, fold...)
			} else {
				train = append(train, fold...)
			}
		}
		if len(train) == 0 || len(test) == 0 {
			continue
		}
		r := fitAndScore(train, test, cfg)
		micro = append(micro, r.microAcc)
		macro = append(macro, r.macroAcc)
		losses = append(losses, r.logLoss)
	}

	if len(micro) == 0 {
		return evalResult{}
	}
	return evalResult{
		microAcc: stat.Mean(micro, nil),
		macroAcc: stat.Mean(macro, nil),
		logLoss:  stat.Mean(losses, nil),
	}
}

// fitAndScore fits cfg on train and scores on test, returning micro/macro
// accuracy and mean log-loss.
func fitAndScore(train, test []model.FeatureVector, cfg classifier.Config) evalResult {
	artifact, err := classifier.Fit(train, cfg)
	if err != nil {
		return evalResult{}
	}

	perLabelCorrect := map[string]int{}
	perLabelTotal := map[string]int{}
	correct := 0
	var losses []float64

	for _, v := range test {
		labels, scores, err := classifier.Predict(artifact, v)
		if err != nil {
			continue
		}
		probs := softmaxForEval(scores)

		predIdx := 0
		for i, p := range probs {
			if p > probs[predIdx] {
				predIdx = i
			}
		}
		predicted := ""
		if predIdx < len(labels) {
			predicted = labels[predIdx]
		}

		perLabelTotal[v.Label]++
		if predicted == v.Label {
			perLabelCorrect[v.Label]++
			correct++
		}

		trueIdx := -1
		for i, l := range labels {
			if l == v.Label {
				trueIdx = i
				break
			}
		}
		if trueIdx >= 0 {
			losses = append(losses, -math.Log(math.Max(probs[trueIdx], 1e-9)))
		} else {
			losses = append(losses, -math.Log(1e-9))
		}
	}

	if len(test) == 0 {
		return evalResult{}
	}

	microAcc := float64(correct) / float64(len(test))

	var perLabelAcc []float64
	for label, total := range perLabelTotal {
		if total == 0 {
			continue
		}
		perLabelAcc = append(perLabelAcc, float64(perLabelCorrect[label])/float64(total))
	}
	macroAcc := 0.0
	if len(perLabelAcc) > 0 {
		macroAcc = stat.Mean(perLabelAcc, nil)
	}
	logLoss := 0.0
	if len(losses) > 0 {
		logLoss = stat.Mean(losses, nil)
	}

	return evalResult{
		microAcc: microAcc,
		macroAcc: macroAcc,
		logLoss:  logLoss,
	}
}

func softmaxForEval(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	out := make([]float64, len(scores))
	copy(out, scores)
	max := floats.Max(out)
	for i := range out {
		out[i] = math.Exp(out[i] - max)
	}
	sum := floats.Sum(out)
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		uniform := 1.0 / float64(len(out))
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	floats.Scale(1/sum, out)
	return out
}

// logLossReduction compares the observed log-loss against the log-loss of a
// uniform-guess baseline over numLabels classes.
func logLossReduction(logLoss float64, numLabels int) float64 {
	if numLabels <= 1 {
		return 0
	}
	baseline := math.Log(float64(numLabels))
	if baseline == 0 {
		return 0
	}
	return (baseline - logLoss) / baseline
}

// splitTrainTest performs a deterministic (seeded) random 1-splitFraction /
// splitFraction split of vectors.
func splitTrainTest(vectors []model.FeatureVector, splitFraction float64, rng *rand.Rand) (train, test []model.FeatureVector) {
	shuffled := make([]model.FeatureVector, len(vectors))
	copy(shuffled, vectors)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	testCount := int(float64(len(shuffled)) * splitFraction)
	if testCount < 1 {
		testCount = 1
	}
	if testCount >= len(shuffled) {
		testCount = len(shuffled) - 1
	}

	test = shuffled[:testCount]
	train = shuffled[testCount:]
	return
}

// splitFolds partitions vectors into k roughly-equal, deterministically
// shuffled folds.
func splitFolds(vectors []model.FeatureVector, k int, rng *rand.Rand) [][]model.FeatureVector {
	shuffled := make([]model.FeatureVector, len(vectors))
	copy(shuffled, vectors)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	folds := make([][]model.FeatureVector, k)
	for i, v := range shuffled {
		folds[i%k] = append(folds[i%k], v)
	}
	return folds
}
