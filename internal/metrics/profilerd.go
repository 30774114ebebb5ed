// Package metrics provides Prometheus-compatible metrics for the profiler
// service.
package metrics

import "time"

// ProfilerMetrics holds the counters, gauges, and histograms exposed by the
// service façade's /metrics endpoint: submit/identify/train call counts and
// latencies, plus the last training run's accuracy/log-loss as gauges.
type ProfilerMetrics struct {
	registry *Registry

	SubmitTotal   *Counter
	IdentifyTotal *Counter
	TrainTotal    *Counter
	ErrorsTotal   *Counter

	ActiveSessions *Gauge
	ModelLoaded    *Gauge
	LastMicroAcc   *Gauge
	LastMacroAcc   *Gauge
	LastLogLoss    *Gauge
	UptimeSeconds  *Gauge
	LogFileBytes   *Gauge

	SubmitDuration   *Histogram
	IdentifyDuration *Histogram
	TrainDuration    *Histogram

	// IdentifyByStatus counts identify responses by their wire status
	// (authenticated/continue/error), and TrainByStrategy counts training
	// runs by the model-selection strategy C6 picked for the data size
	// (ensemble-select/k-fold/single-split). Both partition an existing
	// total rather than duplicate it, so operators can see which outcome
	// or strategy is driving the aggregate counters above.
	IdentifyByStatus *CounterVec
	TrainByStrategy  *CounterVec
}

var startTime = time.Now()

// NewProfilerMetrics creates and registers all profiler service metrics
// against the given registry (or the global default if nil).
func NewProfilerMetrics(registry *Registry) *ProfilerMetrics {
	if registry == nil {
		registry = Default()
	}

	return &ProfilerMetrics{
		registry: registry,

		SubmitTotal:   registry.RegisterCounter("submit_total", "Total number of labeled sessions submitted", nil),
		IdentifyTotal: registry.RegisterCounter("identify_total", "Total number of identify requests", nil),
		TrainTotal:    registry.RegisterCounter("train_total", "Total number of training runs", nil),
		ErrorsTotal:   registry.RegisterCounter("errors_total", "Total number of request errors", nil),

		ActiveSessions: registry.RegisterGauge("active_sessions", "Number of tracked identification sessions", nil),
		ModelLoaded:    registry.RegisterGauge("model_loaded", "1 if a live model artifact is loaded, 0 otherwise", nil),
		LastMicroAcc:   registry.RegisterGauge("last_train_micro_acc_permille", "Last training run's micro-accuracy * 1000", nil),
		LastMacroAcc:   registry.RegisterGauge("last_train_macro_acc_permille", "Last training run's macro-accuracy * 1000", nil),
		LastLogLoss:    registry.RegisterGauge("last_train_log_loss_permille", "Last training run's log-loss * 1000", nil),
		UptimeSeconds:  registry.RegisterGauge("uptime_seconds", "Seconds the daemon has been running", nil),
		LogFileBytes:   registry.RegisterGauge("log_file_bytes", "Current size of the active log file, 0 if logging is not file-backed", nil),

		SubmitDuration:   registry.RegisterHistogram("submit_duration_seconds", "Duration of submit requests", nil, DurationBuckets),
		IdentifyDuration: registry.RegisterHistogram("identify_duration_seconds", "Duration of identify requests", nil, DurationBuckets),
		TrainDuration:    registry.RegisterHistogram("train_duration_seconds", "Duration of training runs", nil, []float64{1, 5, 10, 30, 60, 120, 300, 600}),

		IdentifyByStatus: registry.RegisterCounterVec("identify_by_status_total", "Identify responses partitioned by wire status", "status"),
		TrainByStrategy:  registry.RegisterCounterVec("train_by_strategy_total", "Training runs partitioned by model-selection strategy", "strategy"),
	}
}

// RecordSubmit records a completed submit request.
func (m *ProfilerMetrics) RecordSubmit(d time.Duration, err error) {
	m.SubmitTotal.Inc()
	m.SubmitDuration.ObserveDuration(d)
	if err != nil {
		m.ErrorsTotal.Inc()
	}
}

// RecordIdentify records a completed identify request.
func (m *ProfilerMetrics) RecordIdentify(d time.Duration, err error) {
	m.IdentifyTotal.Inc()
	m.IdentifyDuration.ObserveDuration(d)
	if err != nil {
		m.ErrorsTotal.Inc()
	}
}

// RecordIdentifyOutcome tallies the wire status (authenticated/continue/
// error) of a completed identify request, separately from RecordIdentify's
// duration/error bookkeeping, so operators can distinguish "fast but
// inconclusive" from "fast and authenticated" traffic.
func (m *ProfilerMetrics) RecordIdentifyOutcome(status string) {
	m.IdentifyByStatus.WithLabelValue(status).Inc()
}

// RecordTrainStrategy tallies which C6 model-selection strategy
// (ensemble-select/k-fold/single-split) a completed training run used.
func (m *ProfilerMetrics) RecordTrainStrategy(strategy string) {
	m.TrainByStrategy.WithLabelValue(strategy).Inc()
}

// RecordTrain records a completed training run and its headline metrics.
func (m *ProfilerMetrics) RecordTrain(d time.Duration, microAcc, macroAcc, logLoss float64, err error) {
	m.TrainTotal.Inc()
	m.TrainDuration.ObserveDuration(d)
	if err != nil {
		m.ErrorsTotal.Inc()
		return
	}
	m.LastMicroAcc.Set(int64(microAcc * 1000))
	m.LastMacroAcc.Set(int64(macroAcc * 1000))
	m.LastLogLoss.Set(int64(logLoss * 1000))
}

// SetModelLoaded reports whether a live classifier artifact is present.
func (m *ProfilerMetrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

// SetActiveSessions reports the accumulator's current session count.
func (m *ProfilerMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(int64(n))
}

// UpdateUptime refreshes the uptime gauge.
func (m *ProfilerMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// SetLogFileSize reports the active log file's current size, in bytes.
func (m *ProfilerMetrics) SetLogFileSize(bytes int64) {
	m.LogFileBytes.Set(bytes)
}

var defaultProfilerMetrics *ProfilerMetrics

// GetMetrics returns the global profiler metrics instance, creating it
// against the default registry on first use.
func GetMetrics() *ProfilerMetrics {
	if defaultProfilerMetrics == nil {
		defaultProfilerMetrics = NewProfilerMetrics(Default())
	}
	return defaultProfilerMetrics
}

// InitMetrics initializes the global profiler metrics with a custom registry.
func InitMetrics(registry *Registry) *ProfilerMetrics {
	defaultProfilerMetrics = NewProfilerMetrics(registry)
	return defaultProfilerMetrics
}
