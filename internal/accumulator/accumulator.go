// Package accumulator implements C5, the session evidence accumulator: a
// process-wide expiring map from identification-session id to running
// evidence state, with per-session serialization and sliding TTL eviction.
// A coarse mutex guards insertion/eviction of the map, while each entry's
// own mutex serializes the mutations that belong to that id so unrelated
// sessions proceed in parallel.
package accumulator

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Config holds the accumulator's tunable knobs.
type Config struct {
	TTL                          time.Duration
	MinSampleCountForElimination int
	MinUsersToKeep               int
	EliminationBase              float64
	EliminationStep              float64
	EliminationCap               float64
}

// DefaultConfig returns the accumulator's built-in defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                          10 * time.Minute,
		MinSampleCountForElimination: 3,
		MinUsersToKeep:               1,
		EliminationBase:              0.05,
		EliminationStep:              0.05,
		EliminationCap:               0.50,
	}
}

// Verdict is the result of one evidence step: the best surviving label, the
// final adjusted confidence, the session's sample count, and the labels this
// step newly eliminated (empty on most steps). Callers log eliminations with
// their session-scoped logger.
type Verdict struct {
	Label       string
	Confidence  float64
	SampleCount int
	Eliminated  []string
}

type sessionEntry struct {
	mu           sync.Mutex
	labels       []string
	cumulative   []float32
	eliminated   map[int]struct{}
	sampleCount  int
	lastUpdate   time.Time
	scoreHistory [][]float32 // normalized per-sample vectors, oldest first
}

// Accumulator owns the session evidence cache.
type Accumulator struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// New creates an Accumulator with the given configuration.
func New(cfg Config) *Accumulator {
	return &Accumulator{cfg: cfg, sessions: make(map[string]*sessionEntry)}
}

// entry returns the session's entry, creating it if absent. It does not
// itself reinitialize evidence state; that happens inside Step once the
// entry is locked, so dimension reconciliation can see the previous state.
func (a *Accumulator) entry(sessionID string) *sessionEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.sessions[sessionID]
	if !ok {
		e = &sessionEntry{}
		a.sessions[sessionID] = e
	}
	return e
}

// Step performs one evidence-accumulation step for sessionID given the
// model's label ordering and a raw per-sample probability vector:
// dimension reconciliation, normalization, EMA update, progressive
// elimination, and the final confidence computation.
func (a *Accumulator) Step(sessionID string, labels []string, probs []float32) Verdict {
	e := a.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	expired := !e.lastUpdate.IsZero() && now.Sub(e.lastUpdate) > a.cfg.TTL
	n := len(labels)
	if len(probs) < n {
		n = len(probs)
	}

	if expired || len(e.labels) != n {
		e.labels = append([]string(nil), labels[:n]...)
		e.cumulative = make([]float32, n)
		e.eliminated = make(map[int]struct{})
		e.sampleCount = 0
		e.scoreHistory = nil
	}

	normalized := normalize(probs[:n])
	e.scoreHistory = append(e.scoreHistory, normalized)

	e.sampleCount++
	alpha := 0.3 + 0.4*math.Min(float64(e.sampleCount), 5)/5

	if e.sampleCount == 1 {
		copy(e.cumulative, normalized)
	} else {
		for i := 0; i < n; i++ {
			if _, gone := e.eliminated[i]; gone {
				e.cumulative[i] = 0
				continue
			}
			e.cumulative[i] = float32(alpha*float64(normalized[i]) + (1-alpha)*float64(e.cumulative[i]))
		}
	}
	renormalize(e.cumulative, e.eliminated)

	var eliminated []string
	if e.sampleCount >= a.cfg.MinSampleCountForElimination && survivorCount(e.cumulative, e.eliminated) > 1 {
		theta := eliminationThreshold(e.sampleCount, a.cfg)
		for _, i := range eliminate(e, theta, a.cfg.MinUsersToKeep) {
			eliminated = append(eliminated, e.labels[i])
		}
		renormalize(e.cumulative, e.eliminated)
	}

	e.lastUpdate = now

	label, conf := finalConfidence(e)
	return Verdict{Label: label, Confidence: conf, SampleCount: e.sampleCount, Eliminated: eliminated}
}

// normalize replaces zero/negative entries with epsilon and divides by the
// sum; falls back to uniform when the sum is zero.
func normalize(probs []float32) []float32 {
	const eps = 1e-4
	n := len(probs)
	out := make([]float32, n)
	var sum float64
	for i, p := range probs {
		v := float64(p)
		if v <= 0 {
			v = eps
		}
		out[i] = float32(v)
		sum += v
	}
	if sum <= 0 {
		uniform := float32(1.0 / float64(n))
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func renormalize(cumulative []float32, eliminated map[int]struct{}) {
	var sum float64
	for i, v := range cumulative {
		if _, gone := eliminated[i]; gone {
			cumulative[i] = 0
			continue
		}
		sum += float64(v)
	}
	if sum <= 0 {
		survivors := survivingIndices(len(cumulative), eliminated)
		if len(survivors) == 0 {
			return
		}
		uniform := float32(1.0 / float64(len(survivors)))
		for _, i := range survivors {
			cumulative[i] = uniform
		}
		return
	}
	for i := range cumulative {
		if _, gone := eliminated[i]; gone {
			continue
		}
		cumulative[i] = float32(float64(cumulative[i]) / sum)
	}
}

func survivingIndices(n int, eliminated map[int]struct{}) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if _, gone := eliminated[i]; !gone {
			out = append(out, i)
		}
	}
	return out
}

func survivorCount(cumulative []float32, eliminated map[int]struct{}) int {
	return len(survivingIndices(len(cumulative), eliminated))
}

// eliminationThreshold computes θ for the current sample count: base before
// the tenth sample, base plus one step from the tenth, plus one more step
// every further five samples, capped.
func eliminationThreshold(sampleCount int, cfg Config) float64 {
	if sampleCount < 10 {
		return cfg.EliminationBase
	}
	steps := (sampleCount-10)/5 + 1
	theta := cfg.EliminationBase + cfg.EliminationStep*float64(steps)
	if theta > cfg.EliminationCap {
		theta = cfg.EliminationCap
	}
	return theta
}

// eliminate removes surviving subjects strictly below theta, ascending by
// cumulative value, while keeping at least minUsersToKeep survivors. It
// returns the indices removed by this call so the caller can surface them.
func eliminate(e *sessionEntry, theta float64, minUsersToKeep int) []int {
	survivors := survivingIndices(len(e.cumulative), e.eliminated)
	sort.Slice(survivors, func(i, j int) bool {
		return e.cumulative[survivors[i]] < e.cumulative[survivors[j]]
	})

	var removed []int
	remaining := len(survivors)
	for _, i := range survivors {
		if remaining <= minUsersToKeep {
			break
		}
		if float64(e.cumulative[i]) >= theta {
			continue
		}
		e.eliminated[i] = struct{}{}
		e.cumulative[i] = 0
		removed = append(removed, i)
		remaining--
	}
	return removed
}

// finalConfidence computes the verdict: best surviving label plus the
// margin/sample-count/survivor-count adjusted confidence.
func finalConfidence(e *sessionEntry) (string, float64) {
	survivors := survivingIndices(len(e.cumulative), e.eliminated)
	if len(survivors) == 0 {
		return "Unknown", 0
	}

	best := survivors[0]
	for _, i := range survivors {
		if e.cumulative[i] > e.cumulative[best] {
			best = i
		}
	}
	m := float64(e.cumulative[best])

	margin := 0.0
	if len(survivors) >= 2 {
		vals := make([]float64, len(survivors))
		for i, s := range survivors {
			vals[i] = float64(e.cumulative[s])
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
		margin = vals[0] - vals[1]
	}

	n := float64(e.sampleCount)
	k := len(survivors)
	conf := m + 0.3*margin + math.Min(0.15, 0.03*n)
	if k <= 3 {
		conf *= 1.10
	}
	if k == 2 {
		conf *= 1.15
	}
	if conf < 0.05 {
		conf = 0.05
	}
	if conf > 0.99 {
		conf = 0.99
	}

	return e.labels[best], conf
}

// Evict removes sessions whose lastUpdate is older than the configured TTL.
// Callers may run this periodically; Step also performs lazy per-session
// expiry so Evict is an optimization, not a correctness requirement.
func (a *Accumulator) Evict(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for id, e := range a.sessions {
		e.mu.Lock()
		expired := !e.lastUpdate.IsZero() && now.Sub(e.lastUpdate) > a.cfg.TTL
		e.mu.Unlock()
		if expired {
			delete(a.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the current number of tracked sessions (for metrics/tests).
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
