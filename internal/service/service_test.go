package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"profilerd/internal/config"
	"profilerd/internal/logging"
	"profilerd/internal/model"
	"profilerd/internal/wire"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StorePath = filepath.Join(dir, "sessions.db")
	cfg.ModelDir = filepath.Join(dir, "model")
	cfg.LogPath = filepath.Join(dir, "profilerd.log")
	return cfg
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logCfg := logging.DefaultConfig()
	logCfg.Output = "stderr"
	logCfg.Component = "profilerd-test"
	log, err := logging.New(logCfg)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

// typedEvents synthesizes a keystroke stream typing a fixed phrase with a
// given base dwell/flight timing and small deterministic jitter, so two
// labels with clearly different dwell/flight distributions are separable by
// the classifier.
func typedEvents(seed int64, dwellMs, flightMs int64, repeats int) []model.KeystrokeEvent {
	rng := rand.New(rand.NewSource(seed))
	phrase := "the quick brown fox jumps over the lazy dog "
	var events []model.KeystrokeEvent
	var t int64 = 0
	for r := 0; r < repeats; r++ {
		for _, ch := range phrase {
			key := string(ch)
			jitterFlight := flightMs + int64(rng.Intn(20)-10)
			jitterDwell := dwellMs + int64(rng.Intn(10)-5)
			if jitterFlight < 10 {
				jitterFlight = 10
			}
			if jitterDwell < 10 {
				jitterDwell = 10
			}
			t += jitterFlight
			down := t
			up := down + jitterDwell
			events = append(events, model.KeystrokeEvent{Key: key, Timestamp: down, Type: model.KeyDown})
			events = append(events, model.KeystrokeEvent{Key: key, Timestamp: up, Type: model.KeyUp})
		}
	}
	return events
}

// trainTwoLabels submits several labeled sessions for two well-separated
// typists and runs a synchronous Train, returning the label names used.
func trainTwoLabels(t *testing.T, svc *Service) (fast, slow string) {
	t.Helper()
	fast, slow = "alice", "bob"

	for i := 0; i < 4; i++ {
		events := typedEvents(int64(100+i), 60, 90, 2)
		_, err := svc.SubmitLabeledSession(fast, "web", events, "")
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		events := typedEvents(int64(200+i), 220, 260, 2)
		_, err := svc.SubmitLabeledSession(slow, "web", events, "")
		require.NoError(t, err)
	}

	_, err := svc.Train(context.Background())
	require.NoError(t, err)
	return fast, slow
}

func TestIdentifyWithoutModelReturnsBenignUnknown(t *testing.T) {
	svc := newTestService(t)

	events := typedEvents(1, 80, 100, 1)
	resp, err := svc.Identify(events, "")
	require.NoError(t, err)
	require.Equal(t, model.UnknownLabel, resp.User)
	require.Equal(t, float64(0), resp.Confidence)
	require.Equal(t, wire.StatusError, resp.Status)
	require.NotEmpty(t, resp.SessionID)
}

func TestIdentifyTooFewEventsFails(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Identify(typedEvents(1, 80, 100, 1)[:2], "")
	require.Error(t, err)
}

func TestTrainThenIdentifyRecoversDominantLabel(t *testing.T) {
	svc := newTestService(t)
	fast, _ := trainTwoLabels(t, svc)

	sessionID := "session-a"
	var resp wire.IdentifyResponse
	var err error
	for i := 0; i < 5; i++ {
		events := typedEvents(int64(900+i), 60, 90, 1)
		resp, err = svc.Identify(events, sessionID)
		require.NoError(t, err)
	}

	require.Equal(t, fast, resp.User)
	require.Equal(t, 5, mustSampleCount(resp.Message))
	require.GreaterOrEqual(t, resp.Confidence, 0.0)
	require.LessOrEqual(t, resp.Confidence, 100.0)
}

func TestIdentifyFirstSampleStartsAtCountOne(t *testing.T) {
	svc := newTestService(t)
	trainTwoLabels(t, svc)

	events := typedEvents(42, 60, 90, 1)
	resp1, err := svc.Identify(events, "ttl-session")
	require.NoError(t, err)
	require.Equal(t, 1, mustSampleCount(resp1.Message))
}

func TestHandleIdentifyHTTPRejectsShortEventList(t *testing.T) {
	svc := newTestService(t)

	body := `{"platform":"web","events":[{"key":"a","timestamp":1,"type":"keydown"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/profiler/identify", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSessionHTTPRequiresAuthHeader(t *testing.T) {
	svc := newTestService(t)

	events := typedEvents(1, 80, 100, 1)
	payload, err := json.Marshal(wire.SessionRequest{Platform: "web", Events: events})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/profiler/session", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSessionHTTPSucceedsWithAuthHeader(t *testing.T) {
	svc := newTestService(t)

	events := typedEvents(1, 80, 100, 1)
	payload, err := json.Marshal(wire.SessionRequest{Platform: "web", Events: events})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/profiler/session", bytes.NewReader(payload))
	req.Header.Set("X-Profiler-Subject", "alice")
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleIdentifyHTTPAllocatesSessionIDWhenAbsent(t *testing.T) {
	svc := newTestService(t)

	events := typedEvents(1, 80, 100, 1)
	payload, err := json.Marshal(wire.IdentifyRequest{Platform: "web", Events: events})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/profiler/identify", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp wire.IdentifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
}

func TestHandleTrainHTTPReturnsBadRequestOnInsufficientData(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/api/profiler/train", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzAndReadyzEndpoints(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

// mustSampleCount extracts the leading integer from a "%d sample(s) observed"
// message produced by Service.Identify.
func mustSampleCount(msg string) int {
	var n int
	if _, err := fmt.Sscanf(msg, "%d sample(s) observed", &n); err != nil {
		panic(err)
	}
	return n
}
