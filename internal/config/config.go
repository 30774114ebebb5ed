// Package config handles configuration loading and validation for the
// profiler service: a TOML-backed struct with defaults, paths rooted under
// a per-user data directory.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the profiler service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address for the public service façade.
	ListenAddr string `toml:"listen_addr"`

	// StorePath is the path to the SQLite TrainingSession database.
	StorePath string `toml:"store_path"`

	// ModelDir is the directory holding the live model artifact, its
	// checksum sidecar, and training_metrics.json.
	ModelDir string `toml:"model_dir"`

	// LogPath is the path to the service log file.
	LogPath string `toml:"log_path"`

	// CalibrationTemperature is τ for C4's temperature-scaled softmax.
	CalibrationTemperature float64 `toml:"calibration_temperature"`

	// SessionTTLSeconds is the sliding expiry window for per-session
	// evidence state (default: 600 = 10 minutes).
	SessionTTLSeconds int `toml:"session_ttl_seconds"`

	// AutoTrainPeriod is how many newly persisted labeled sessions trigger
	// a background training run (default: 10).
	AutoTrainPeriod int `toml:"auto_train_period"`

	// AugmentationWindowFraction / AugmentationStepFraction size the
	// sliding windows cut from long sessions during training (defaults
	// 0.7/0.3 of the session's event count).
	AugmentationWindowFraction float64 `toml:"augmentation_window_fraction"`
	AugmentationStepFraction   float64 `toml:"augmentation_step_fraction"`

	// TrainTestSplit is the held-out fraction for single-split / ensemble
	// candidate evaluation (default 0.15).
	TrainTestSplit float64 `toml:"train_test_split"`

	// CVFolds is the number of folds for the k-fold cross-validation
	// strategy (default 5).
	CVFolds int `toml:"cv_folds"`

	// EliminationBase / EliminationStep / EliminationCap control the
	// accumulator's progressive-elimination threshold: base applies from
	// the third sample, step is added once at the tenth sample and once
	// more every five samples after that, cap bounds it.
	EliminationBase float64 `toml:"elimination_base"`
	EliminationStep float64 `toml:"elimination_step"`
	EliminationCap  float64 `toml:"elimination_cap"`

	// AuthThresholdDefault / AuthThresholdEarly are the confidence bars an
	// identify verdict must clear to report Authenticated: the default
	// applies when sampleCount > 3, the early one otherwise.
	AuthThresholdDefault float64 `toml:"auth_threshold_default"`
	AuthThresholdEarly   float64 `toml:"auth_threshold_early"`

	// ModelFreshnessWindowSeconds bounds how long a model health check
	// tolerates a live artifact without a newer training run before
	// reporting the "model" component as degraded.
	ModelFreshnessWindowSeconds int `toml:"model_freshness_window_seconds"`
}

// SessionTTL returns the configured session TTL as a time.Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// ModelFreshnessWindow returns the configured model freshness window as a
// time.Duration.
func (c *Config) ModelFreshnessWindow() time.Duration {
	return time.Duration(c.ModelFreshnessWindowSeconds) * time.Second
}

// DefaultConfig returns the built-in service defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".profilerd")

	return &Config{
		ListenAddr:                  ":8080",
		StorePath:                   filepath.Join(dataDir, "sessions.db"),
		ModelDir:                    filepath.Join(dataDir, "model"),
		LogPath:                     filepath.Join(dataDir, "profilerd.log"),
		CalibrationTemperature:      1.0,
		SessionTTLSeconds:           600,
		AutoTrainPeriod:             10,
		AugmentationWindowFraction:  0.7,
		AugmentationStepFraction:    0.3,
		TrainTestSplit:              0.15,
		CVFolds:                     5,
		EliminationBase:             0.05,
		EliminationStep:             0.05,
		EliminationCap:              0.50,
		AuthThresholdDefault:        0.75,
		AuthThresholdEarly:          0.90,
		ModelFreshnessWindowSeconds: 86400,
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".profilerd", "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if c.StorePath == "" {
		return errors.New("config: store_path is required")
	}
	if c.ModelDir == "" {
		return errors.New("config: model_dir is required")
	}
	if c.CalibrationTemperature <= 0 {
		return errors.New("config: calibration_temperature must be positive")
	}
	if c.SessionTTLSeconds < 1 {
		return errors.New("config: session_ttl_seconds must be at least 1")
	}
	if c.AutoTrainPeriod < 1 {
		return errors.New("config: auto_train_period must be at least 1")
	}
	if c.CVFolds < 2 {
		return errors.New("config: cv_folds must be at least 2")
	}
	if c.TrainTestSplit <= 0 || c.TrainTestSplit >= 1 {
		return errors.New("config: train_test_split must be in (0, 1)")
	}
	return nil
}

// EnsureDirectories creates all directories required by the configuration.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.StorePath),
		c.ModelDir,
		filepath.Dir(c.LogPath),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DataDir returns the base profiler data directory.
func DataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".profilerd")
}
