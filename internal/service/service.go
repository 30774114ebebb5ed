// Package service implements C7, the public service façade: it owns the
// live classifier artifact, the session evidence accumulator, and the
// persistent store, and exposes SubmitLabeledSession / Identify / Train plus
// their HTTP handlers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"profilerd/internal/accumulator"
	"profilerd/internal/calibrate"
	"profilerd/internal/classifier"
	"profilerd/internal/config"
	"profilerd/internal/features"
	"profilerd/internal/health"
	"profilerd/internal/logging"
	"profilerd/internal/metrics"
	"profilerd/internal/model"
	"profilerd/internal/normalize"
	"profilerd/internal/profilerrors"
	"profilerd/internal/store"
	"profilerd/internal/training"
	"profilerd/internal/wire"
)

// Service is the façade's live state: the shared classifier artifact
// (single writer, snapshot readers), the session evidence cache, the
// persistent store, and the ambient logging/metrics/health wiring.
type Service struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *store.Store
	acc     *accumulator.Accumulator
	metrics *metrics.ProfilerMetrics
	health  *health.Checker

	artifactMu sync.Mutex
	artifact   *model.ModelArtifact
	trainedAt  time.Time

	watcher *fsnotify.Watcher
}

// New opens the persistent store, loads any existing model artifact from
// disk, wires health checks and metrics, and starts an fsnotify watch on the
// model directory so an externally-dropped artifact (e.g. restored from
// backup) is hot-reloaded without a restart.
func New(cfg *config.Config, log *logging.Logger) (*Service, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("service: ensure directories: %w", err)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("service: open store: %w", err)
	}

	accCfg := accumulator.Config{
		TTL:                          cfg.SessionTTL(),
		MinSampleCountForElimination: 3,
		MinUsersToKeep:               1,
		EliminationBase:              cfg.EliminationBase,
		EliminationStep:              cfg.EliminationStep,
		EliminationCap:               cfg.EliminationCap,
	}

	s := &Service{
		cfg:     cfg,
		log:     log,
		store:   st,
		acc:     accumulator.New(accCfg),
		metrics: metrics.GetMetrics(),
		health:  health.NewChecker(),
	}

	artifact, err := store.LoadArtifact(cfg.ModelDir)
	if err != nil {
		log.Warn("service: failed to load existing artifact", "error", err)
	} else if artifact != nil {
		s.artifact = artifact
		if m, err := store.LoadMetrics(cfg.ModelDir); err == nil && m != nil {
			s.trainedAt = m.TrainedAt
		}
		s.metrics.SetModelLoaded(true)
		log.Info("service: loaded existing model artifact", "labels", len(artifact.Labels))
	}

	s.health.RegisterFunc("store", true, health.DatabaseCheck(func(ctx context.Context) error {
		_, err := st.Count()
		return err
	}))
	s.health.RegisterFunc("model", false, health.ModelFreshnessCheck(cfg.ModelFreshnessWindow(), s.lastTrained))
	s.health.RegisterFunc("logfile", false, health.FileExistsCheck(cfg.LogPath))
	s.health.SetReady(true)

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(cfg.ModelDir); err == nil {
			s.watcher = watcher
			go s.watchArtifact()
		} else {
			watcher.Close()
		}
	}

	return s, nil
}

// Close releases the store and filesystem watcher.
func (s *Service) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	return s.store.Close()
}

// watchArtifact reloads the live artifact whenever model_artifact.json
// changes on disk, so an artifact written by an external trainer is picked
// up without a restart.
func (s *Service) watchArtifact() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			artifact, err := store.LoadArtifact(s.cfg.ModelDir)
			if err != nil || artifact == nil {
				continue
			}
			trainedAt := time.Now()
			if m, err := store.LoadMetrics(s.cfg.ModelDir); err == nil && m != nil {
				trainedAt = m.TrainedAt
			}
			s.setArtifact(artifact, trainedAt)
			s.log.Info("service: hot-reloaded model artifact from disk", "labels", len(artifact.Labels))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("service: artifact watcher error", "error", err)
		}
	}
}

// RefreshAmbientMetrics updates the gauges that aren't tied to a single
// request: daemon uptime, active evidence-accumulator sessions, and the
// active log file's size. Callers run this on a periodic tick.
func (s *Service) RefreshAmbientMetrics() {
	s.metrics.UpdateUptime()
	s.metrics.SetActiveSessions(s.acc.Len())
	if size, ok := s.log.LogFileSize(); ok {
		s.metrics.SetLogFileSize(size)
	}
}

// EvictExpiredSessions drops evidence-accumulator entries whose TTL has
// elapsed and refreshes the active-session gauge. Callers run this on a periodic tick; Step also performs lazy
// per-session expiry, so this is an optimization rather than a correctness
// requirement.
func (s *Service) EvictExpiredSessions() int {
	n := s.acc.Evict(time.Now())
	s.metrics.SetActiveSessions(s.acc.Len())
	return n
}

// liveArtifact acquires a brief snapshot of the current artifact under the
// single-writer mutex; the caller performs prediction outside the lock.
func (s *Service) liveArtifact() *model.ModelArtifact {
	s.artifactMu.Lock()
	defer s.artifactMu.Unlock()
	return s.artifact
}

func (s *Service) setArtifact(a *model.ModelArtifact, trainedAt time.Time) {
	s.artifactMu.Lock()
	s.artifact = a
	s.trainedAt = trainedAt
	s.artifactMu.Unlock()
	s.metrics.SetModelLoaded(a != nil)
}

func (s *Service) lastTrained() time.Time {
	s.artifactMu.Lock()
	defer s.artifactMu.Unlock()
	return s.trainedAt
}

// SubmitLabeledSession persists a labeled typing sample and, when the total
// persisted count is a multiple of AutoTrainPeriod, fires a background
// training run whose failures are logged but never affect the response.
func (s *Service) SubmitLabeledSession(label, platform string, events []model.KeystrokeEvent, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	normalized := normalize.Events(events)
	session := model.TrainingSession{
		ID:        sessionID,
		Label:     label,
		Platform:  platform,
		CreatedAt: time.Now(),
		RawEvents: normalized,
	}

	if err := s.store.InsertSession(session); err != nil {
		return "", fmt.Errorf("service: submit session: %w", err)
	}

	count, err := s.store.Count()
	if err == nil && s.cfg.AutoTrainPeriod > 0 && count%s.cfg.AutoTrainPeriod == 0 {
		go func() {
			if _, err := s.Train(context.Background()); err != nil {
				s.log.Warn("service: auto-train run failed", "error", err)
			}
		}()
	}

	return "session recorded", nil
}

// Identify runs C1 -> C2 -> C3 -> C4 -> C5 for one evidence sample and
// returns the wire response.
func (s *Service) Identify(events []model.KeystrokeEvent, sessionID string) (wire.IdentifyResponse, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if len(events) < 5 {
		return wire.IdentifyResponse{}, fmt.Errorf("service: identify: %w", profilerrors.ErrInsufficientInput)
	}

	artifact := s.liveArtifact()
	if artifact == nil {
		return wire.IdentifyResponse{
			User:       model.UnknownLabel,
			Confidence: 0,
			Message:    "no model has been trained yet",
			Status:     wire.StatusError,
			SessionID:  sessionID,
		}, nil
	}

	normalized := normalize.Events(events)
	fv := features.Extract(normalized, "")

	labels, scores, err := classifier.Predict(*artifact, fv)
	if err != nil {
		if errors.Is(err, profilerrors.ErrModelNotReady) {
			return wire.IdentifyResponse{
				User:       model.UnknownLabel,
				Confidence: 0,
				Message:    "no model has been trained yet",
				Status:     wire.StatusError,
				SessionID:  sessionID,
			}, nil
		}
		s.log.WithSessionID(sessionID).Error("service: classifier prediction failed", "error", err)
		return wire.IdentifyResponse{}, fmt.Errorf("service: identify: %w", err)
	}

	pred := calibrate.Calibrate(labels, scores, s.cfg.CalibrationTemperature)
	s.log.WithSessionID(sessionID).Debug("service: calibrated sample",
		"predicted", pred.PredictedLabel,
		"entropy", pred.Entropy,
		"topTwoMargin", pred.TopTwoMargin,
		"adjustedConfidence", pred.AdjustedConfidence,
	)

	verdict := s.acc.Step(sessionID, pred.Labels, pred.Probabilities)
	if len(verdict.Eliminated) > 0 {
		s.log.WithSessionID(sessionID).Info("service: eliminated candidate subjects",
			"eliminated", verdict.Eliminated,
			"sampleCount", verdict.SampleCount,
		)
	}

	authThreshold := s.cfg.AuthThresholdDefault
	if verdict.SampleCount <= 3 {
		authThreshold = s.cfg.AuthThresholdEarly
	}

	status := wire.StatusContinue
	if verdict.Confidence > authThreshold {
		status = wire.StatusAuthenticated
	}

	return wire.IdentifyResponse{
		User:       verdict.Label,
		Confidence: verdict.Confidence * 100,
		Message:    fmt.Sprintf("%d sample(s) observed", verdict.SampleCount),
		Status:     status,
		SessionID:  sessionID,
	}, nil
}

// Train runs C6 synchronously over every persisted labeled session and, on
// success, atomically publishes the new artifact and persists its metrics.
// On failure the previous live artifact is retained untouched.
func (s *Service) Train(ctx context.Context) (string, error) {
	sessions, err := s.store.AllLabeledSessions()
	if err != nil {
		return "", fmt.Errorf("service: train: load sessions: %w", err)
	}

	trainCfg := training.Config{
		AugmentationWindowFraction: s.cfg.AugmentationWindowFraction,
		AugmentationStepFraction:   s.cfg.AugmentationStepFraction,
		TrainTestSplit:             s.cfg.TrainTestSplit,
		CVFolds:                    s.cfg.CVFolds,
	}

	start := time.Now()
	result, err := training.Run(sessions, trainCfg)
	if err != nil {
		s.metrics.RecordTrain(time.Since(start), 0, 0, 0, err)
		return "", fmt.Errorf("service: train: %w", err)
	}

	if err := store.SaveArtifact(s.cfg.ModelDir, result.Artifact, result.Metrics); err != nil {
		s.metrics.RecordTrain(time.Since(start), 0, 0, 0, err)
		return "", fmt.Errorf("service: train: persist artifact: %w", err)
	}

	s.setArtifact(&result.Artifact, result.Metrics.TrainedAt)
	s.metrics.RecordTrain(time.Since(start), result.Metrics.MicroAcc, result.Metrics.MacroAcc, result.Metrics.LogLoss, nil)
	if _, strategy, ok := strings.Cut(result.Metrics.Algorithm, ":"); ok {
		s.metrics.RecordTrainStrategy(strategy)
	}

	s.log.Info("service: training run completed",
		"algorithm", result.Metrics.Algorithm,
		"totalSamples", result.Metrics.TotalSamples,
		"uniqueLabels", result.Metrics.UniqueLabels,
		"microAcc", result.Metrics.MicroAcc,
		"macroAcc", result.Metrics.MacroAcc,
	)

	return fmt.Sprintf("trained on %d samples across %d labels", result.Metrics.TotalSamples, result.Metrics.UniqueLabels), nil
}

// Handler returns the HTTP handler exposing the façade's three operations
// plus the ambient /healthz, /readyz and /metrics endpoints.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/profiler/session", s.handleSession)
	mux.HandleFunc("POST /api/profiler/identify", s.handleIdentify)
	mux.HandleFunc("POST /api/profiler/train", s.handleTrain)
	mux.Handle("GET /healthz", s.health.LivenessHandler())
	mux.Handle("GET /readyz", s.health.ReadinessHandler())
	mux.Handle("GET /metrics", metrics.Default().HTTPHandler())
	return mux
}

func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req wire.RawSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := wire.ValidateEvents(req.Events); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := make([]model.KeystrokeEvent, len(req.Events))
	for i, raw := range req.Events {
		if err := json.Unmarshal(raw, &events[i]); err != nil {
			writeError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
	}

	label := r.Header.Get("X-Profiler-Subject")
	if label == "" {
		writeError(w, http.StatusUnauthorized, "missing authenticated subject")
		s.metrics.RecordSubmit(time.Since(start), fmt.Errorf("unauthenticated"))
		return
	}

	msg, err := s.SubmitLabeledSession(label, req.Platform, events, req.SessionID)
	s.metrics.RecordSubmit(time.Since(start), err)
	if err != nil {
		writeError(w, profilerrors.HTTPStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, wire.SessionResponse{Message: msg})
}

func (s *Service) handleIdentify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req wire.RawIdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) < 5 {
		writeError(w, http.StatusBadRequest, "events.length must be at least 5")
		return
	}
	if err := wire.ValidateEvents(req.Events); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := make([]model.KeystrokeEvent, len(req.Events))
	for i, raw := range req.Events {
		if err := json.Unmarshal(raw, &events[i]); err != nil {
			writeError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
	}

	resp, err := s.Identify(events, req.SessionID)
	s.metrics.RecordIdentify(time.Since(start), err)
	if err != nil {
		writeError(w, profilerrors.HTTPStatus(err), err.Error())
		return
	}
	s.metrics.RecordIdentifyOutcome(resp.Status)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleTrain(w http.ResponseWriter, r *http.Request) {
	msg, err := s.Train(r.Context())
	if err != nil {
		writeError(w, profilerrors.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wire.TrainResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, wire.ErrorResponse{Error: message})
}
