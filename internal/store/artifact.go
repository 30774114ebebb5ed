package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"profilerd/internal/model"
	"profilerd/internal/profilerrors"
)

// SaveArtifact writes a model artifact atomically (write-to-temp then
// rename) alongside a blake2b checksum sidecar used to reject a torn write
// on load, and a training_metrics.json sidecar.
func SaveArtifact(dir string, artifact model.ModelArtifact, metrics model.TrainingMetrics) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create artifact dir: %w", err)
	}

	payload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("store: marshal artifact: %w", err)
	}
	sum := blake2b.Sum256(payload)

	artifactPath := filepath.Join(dir, "model_artifact.json")
	checksumPath := filepath.Join(dir, "model_artifact.blake2b")
	metricsPath := filepath.Join(dir, "training_metrics.json")

	if err := writeAtomic(artifactPath, payload); err != nil {
		return fmt.Errorf("store: write artifact: %w: %w", profilerrors.ErrPersistenceFailure, err)
	}
	if err := writeAtomic(checksumPath, []byte(fmt.Sprintf("%x", sum))); err != nil {
		return fmt.Errorf("store: write checksum: %w: %w", profilerrors.ErrPersistenceFailure, err)
	}

	metricsJSON, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal metrics: %w", err)
	}
	if err := writeAtomic(metricsPath, metricsJSON); err != nil {
		return fmt.Errorf("store: write metrics: %w: %w", profilerrors.ErrPersistenceFailure, err)
	}

	return nil
}

// LoadArtifact reads a previously saved artifact, rejecting it if its
// checksum sidecar does not match (a torn write) or is absent while the
// artifact file is present.
func LoadArtifact(dir string) (*model.ModelArtifact, error) {
	artifactPath := filepath.Join(dir, "model_artifact.json")
	checksumPath := filepath.Join(dir, "model_artifact.blake2b")

	payload, err := os.ReadFile(artifactPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read artifact: %w", err)
	}

	wantChecksum, err := os.ReadFile(checksumPath)
	if err != nil {
		return nil, fmt.Errorf("store: read checksum: %w: %w", profilerrors.ErrInternalComputationFailure, err)
	}
	gotSum := blake2b.Sum256(payload)
	if fmt.Sprintf("%x", gotSum) != string(wantChecksum) {
		return nil, fmt.Errorf("store: artifact checksum mismatch: %w", profilerrors.ErrInternalComputationFailure)
	}

	var artifact model.ModelArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("store: decode artifact: %w: %w", profilerrors.ErrInternalComputationFailure, err)
	}
	if artifact.FeatureSchemaVersion != model.FeatureSchemaVersion {
		return nil, fmt.Errorf("store: artifact schema version %d != %d: %w",
			artifact.FeatureSchemaVersion, model.FeatureSchemaVersion, profilerrors.ErrInternalComputationFailure)
	}

	return &artifact, nil
}

// LoadMetrics reads the most recently persisted training metrics record, or
// nil if none has been saved yet.
func LoadMetrics(dir string) (*model.TrainingMetrics, error) {
	path := filepath.Join(dir, "training_metrics.json")
	payload, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read metrics: %w", err)
	}
	var metrics model.TrainingMetrics
	if err := json.Unmarshal(payload, &metrics); err != nil {
		return nil, fmt.Errorf("store: decode metrics: %w", err)
	}
	return &metrics, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
