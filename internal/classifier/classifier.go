// Package classifier implements C3: fitting a multiclass probabilistic
// model over FeatureVectors and predicting raw per-class scores for a new
// vector. Two learner families back the training orchestrator's candidate
// pipelines: a multiclass gradient-boosting ensemble of CART regression
// trees (the two boosted-tree candidates, differing only in leaf count /
// iterations / learning rate) and a multinomial logistic regression (the
// maximum-entropy linear candidate). gonum.org/v1/gonum's floats.Dot
// computes the linear candidate's weight-vector dot products.
package classifier

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"profilerd/internal/model"
	"profilerd/internal/profilerrors"
)

// Algorithm names one of the three candidate pipelines.
type Algorithm string

const (
	AlgoGBMDeep Algorithm = "gbm_deep"
	AlgoGBMWide Algorithm = "gbm_wide"
	AlgoMaxEnt  Algorithm = "maxent"
)

// Config selects a learner and its hyperparameters.
type Config struct {
	Algorithm    Algorithm
	NumLeaves    int
	Iterations   int
	LearningRate float64
}

// DefaultGBMDeepConfig is the deep boosted-tree candidate.
func DefaultGBMDeepConfig() Config {
	return Config{Algorithm: AlgoGBMDeep, NumLeaves: 31, Iterations: 300, LearningRate: 0.05}
}

// DefaultGBMWideConfig is the wider boosted-tree candidate: more leaves per
// tree, fewer iterations and a higher learning rate than the deep one.
func DefaultGBMWideConfig() Config {
	return Config{Algorithm: AlgoGBMWide, NumLeaves: 63, Iterations: 200, LearningRate: 0.1}
}

// DefaultMaxEntConfig is the maximum-entropy linear candidate.
func DefaultMaxEntConfig() Config {
	return Config{Algorithm: AlgoMaxEnt, Iterations: 300, LearningRate: 0.2}
}

// CandidatePipelines returns the three candidates used by the training
// orchestrator's ensemble-select strategy.
func CandidatePipelines() []Config {
	return []Config{DefaultGBMDeepConfig(), DefaultGBMWideConfig(), DefaultMaxEntConfig()}
}

// fittedModel is the gob-serialized payload stored as
// model.ModelArtifact.FittedModel. It carries whichever of the two learners
// was fit, plus the shared feature normalization statistics (min-max scale,
// per-feature mean for missing-value imputation) applied identically at fit
// and predict time.
type fittedModel struct {
	Algorithm   Algorithm
	FeatureMin  []float64
	FeatureMax  []float64
	FeatureMean []float64
	GBM         *gbmModel
	MaxEnt      *maxEntModel
}

// Fit trains a classifier of the given configuration over the supplied
// labeled feature vectors and returns a ModelArtifact whose labels are
// ordered by first appearance (stable, deterministic given the same input
// order).
func Fit(samples []model.FeatureVector, cfg Config) (model.ModelArtifact, error) {
	if len(samples) == 0 {
		return model.ModelArtifact{}, fmt.Errorf("classifier fit: %w", profilerrors.ErrInsufficientData)
	}

	labels, labelIndex := dedupLabels(samples)
	numClasses := len(labels)
	numFeatures := len(samples[0].Values)

	X := make([][]float64, len(samples))
	y := make([]int, len(samples))
	for i, s := range samples {
		row := make([]float64, numFeatures)
		for j, v := range s.Values {
			row[j] = float64(v)
		}
		X[i] = row
		y[i] = labelIndex[s.Label]
	}

	featureMin, featureMax, featureMean := computeNormalizationStats(X)
	Xn := normalizeMatrix(X, featureMin, featureMax, featureMean)

	fm := &fittedModel{
		Algorithm:   cfg.Algorithm,
		FeatureMin:  featureMin,
		FeatureMax:  featureMax,
		FeatureMean: featureMean,
	}

	switch cfg.Algorithm {
	case AlgoMaxEnt:
		fm.MaxEnt = fitMaxEnt(Xn, y, numClasses, cfg)
	default:
		fm.GBM = fitGBM(Xn, y, numClasses, cfg)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fm); err != nil {
		return model.ModelArtifact{}, fmt.Errorf("classifier fit: encode model: %w", profilerrors.ErrInternalComputationFailure)
	}

	return model.ModelArtifact{
		FittedModel:          buf.Bytes(),
		Labels:               labels,
		FeatureSchemaVersion: model.FeatureSchemaVersion,
	}, nil
}

// Predict returns the artifact's label ordering and the raw (un-normalized)
// per-class score for the given feature vector. rawScores[i] corresponds to
// artifact.Labels[i]; callers must use that ordering exclusively.
func Predict(artifact model.ModelArtifact, fv model.FeatureVector) ([]string, []float64, error) {
	if len(artifact.FittedModel) == 0 || len(artifact.Labels) == 0 {
		return nil, nil, fmt.Errorf("classifier predict: %w", profilerrors.ErrModelNotReady)
	}
	if artifact.FeatureSchemaVersion != model.FeatureSchemaVersion {
		return nil, nil, fmt.Errorf("classifier predict: schema version mismatch: %w", profilerrors.ErrInternalComputationFailure)
	}

	var fm fittedModel
	if err := gob.NewDecoder(bytes.NewReader(artifact.FittedModel)).Decode(&fm); err != nil {
		return nil, nil, fmt.Errorf("classifier predict: decode model: %w", profilerrors.ErrInternalComputationFailure)
	}

	row := make([]float64, len(fv.Values))
	for i, v := range fv.Values {
		row[i] = float64(v)
	}
	normRow := normalizeRow(row, fm.FeatureMin, fm.FeatureMax, fm.FeatureMean)

	var scores []float64
	switch fm.Algorithm {
	case AlgoMaxEnt:
		scores = fm.MaxEnt.predict(normRow)
	default:
		scores = fm.GBM.predict(normRow)
	}

	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			scores[i] = 0
		}
	}

	return artifact.Labels, scores, nil
}

// dedupLabels returns labels in first-appearance order and a lookup from
// label to its dense integer index.
func dedupLabels(samples []model.FeatureVector) ([]string, map[string]int) {
	labels := make([]string, 0)
	index := make(map[string]int)
	for _, s := range samples {
		if _, ok := index[s.Label]; !ok {
			index[s.Label] = len(labels)
			labels = append(labels, s.Label)
		}
	}
	return labels, index
}

func computeNormalizationStats(X [][]float64) (min, max, mean []float64) {
	if len(X) == 0 {
		return nil, nil, nil
	}
	n := len(X[0])
	min = make([]float64, n)
	max = make([]float64, n)
	sum := make([]float64, n)
	count := make([]float64, n)
	for j := 0; j < n; j++ {
		min[j] = math.Inf(1)
		max[j] = math.Inf(-1)
	}
	for _, row := range X {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if v < min[j] {
				min[j] = v
			}
			if v > max[j] {
				max[j] = v
			}
			sum[j] += v
			count[j]++
		}
	}
	mean = make([]float64, n)
	for j := 0; j < n; j++ {
		if count[j] > 0 {
			mean[j] = sum[j] / count[j]
		}
		if math.IsInf(min[j], 1) {
			min[j] = 0
		}
		if math.IsInf(max[j], -1) {
			max[j] = 0
		}
	}
	return
}

func normalizeMatrix(X [][]float64, min, max, mean []float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = normalizeRow(row, min, max, mean)
	}
	return out
}

func normalizeRow(row, min, max, mean []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if j >= len(min) {
			out[j] = 0
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = mean[j]
		}
		span := max[j] - min[j]
		if span <= 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - min[j]) / span
	}
	return out
}
