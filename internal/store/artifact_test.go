package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"profilerd/internal/model"
)

func sampleArtifact() model.ModelArtifact {
	return model.ModelArtifact{
		FittedModel:          []byte{1, 2, 3, 4},
		Labels:               []string{"alice", "bob"},
		FeatureSchemaVersion: model.FeatureSchemaVersion,
	}
}

func TestSaveAndLoadArtifactRoundTrips(t *testing.T) {
	dir := t.TempDir()
	artifact := sampleArtifact()
	metrics := model.TrainingMetrics{MicroAcc: 0.9, MacroAcc: 0.85, TotalSamples: 10}

	require.NoError(t, SaveArtifact(dir, artifact, metrics))

	loaded, err := LoadArtifact(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, artifact.Labels, loaded.Labels)
	require.Equal(t, artifact.FeatureSchemaVersion, loaded.FeatureSchemaVersion)

	loadedMetrics, err := LoadMetrics(dir)
	require.NoError(t, err)
	require.NotNil(t, loadedMetrics)
	require.InDelta(t, 0.9, loadedMetrics.MicroAcc, 1e-9)
}

func TestLoadArtifactMissingReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	loaded, err := LoadArtifact(dir)
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestLoadArtifactRejectsTornChecksum(t *testing.T) {
	dir := t.TempDir()
	artifact := sampleArtifact()
	require.NoError(t, SaveArtifact(dir, artifact, model.TrainingMetrics{}))

	// Corrupt the on-disk artifact without updating its checksum sidecar.
	path := dir + "/model_artifact.json"
	require.NoError(t, writeAtomic(path, []byte(`{"fittedModel":"AAAA","labels":["mallory"],"featureSchemaVersion":1}`)))

	_, err := LoadArtifact(dir)
	require.Error(t, err)
}

func TestLoadArtifactRejectsMismatchedSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	artifact := sampleArtifact()
	artifact.FeatureSchemaVersion = model.FeatureSchemaVersion + 1
	require.NoError(t, SaveArtifact(dir, artifact, model.TrainingMetrics{}))

	_, err := LoadArtifact(dir)
	require.Error(t, err)
}
