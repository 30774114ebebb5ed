// Package model holds the data types shared across the identification
// pipeline: KeystrokeEvent, NormalizedKey conventions, FeatureVector,
// TrainingSession, ModelArtifact, PredictionResult, and SessionEvidenceState.
package model

import "time"

// EventType is the kind of a single keystroke event.
type EventType string

const (
	KeyDown EventType = "keydown"
	KeyUp   EventType = "keyup"
)

// KeystrokeEvent is one raw key transition as submitted by a client.
type KeystrokeEvent struct {
	Key       string    `json:"key"`
	Timestamp int64     `json:"timestamp"`
	Type      EventType `json:"type"`
}

// FeatureSchemaVersion is bumped whenever a feature slot is added, removed,
// or reordered. Artifacts trained under a different version are rejected at
// load time rather than misinterpreted.
const FeatureSchemaVersion = 1

// UnknownLabel is the sentinel label used for degenerate or filtered-out
// training data and for an unresolved identification verdict.
const UnknownLabel = "Unknown"

// FeatureVector is the fixed-schema, ordered numeric feature vector derived
// from one typing sample, plus its training label.
type FeatureVector struct {
	Label  string    `json:"label"`
	Values []float32 `json:"values"`
}

// TrainingSession is an immutable, persisted labeled (or unlabeled) typing
// sample.
type TrainingSession struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
	RawEvents []KeystrokeEvent
}

// ModelArtifact is the fitted classifier plus the label ordering that gives
// meaning to its score vectors. Labels[i] is the only authority for which
// subject score index i represents; it must never be re-derived from any
// other source.
type ModelArtifact struct {
	FittedModel          []byte   `json:"fittedModel"`
	Labels               []string `json:"labels"`
	FeatureSchemaVersion int      `json:"featureSchemaVersion"`
}

// PredictionResult is a single calibrated per-sample prediction.
type PredictionResult struct {
	PredictedLabel     string    `json:"predictedLabel"`
	Probabilities      []float32 `json:"probabilities"`
	Labels             []string  `json:"labels"`
	Entropy            float64   `json:"entropy"`
	TopTwoMargin       float64   `json:"topTwoMargin"`
	AdjustedConfidence float64   `json:"adjustedConfidence"`
}

// SessionEvidenceState is the per identification-session running belief
// maintained by the session evidence accumulator (C5).
type SessionEvidenceState struct {
	SessionID    string
	Labels       []string
	Cumulative   []float32
	Eliminated   map[int]struct{}
	SampleCount  int
	LastUpdate   time.Time
	ScoreHistory [][]float32
}

// TrainingMetrics is the metrics record persisted alongside a model artifact.
type TrainingMetrics struct {
	MicroAcc         float64        `json:"microAcc"`
	MacroAcc         float64        `json:"macroAcc"`
	LogLoss          float64        `json:"logLoss"`
	LogLossReduction float64        `json:"logLossReduction"`
	TotalSamples     int            `json:"totalSamples"`
	UniqueLabels     int            `json:"uniqueLabels"`
	FeatureCount     int            `json:"featureCount"`
	Algorithm        string         `json:"algorithm"`
	TrainedAt        time.Time      `json:"trainedAt"`
	SamplesPerUser   map[string]int `json:"samplesPerUser"`
}
