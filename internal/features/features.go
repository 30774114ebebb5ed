// Package features implements C2, the feature extractor: it derives the
// fixed-width numeric FeatureVector from a normalized keystroke event
// stream.
package features

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"profilerd/internal/keytab"
	"profilerd/internal/model"
	"profilerd/internal/profilerrors"
)

// validityWindow is the (0, 2000ms] interval within which a dwell or flight
// interval is considered valid; outside it, the interval is dropped rather
// than clipped.
const validityWindow = 2000.0 // milliseconds

// topKeys is the frozen list of per-key dwell slots (15 most frequent
// English letters).
var topKeys = []string{
	"e", "t", "a", "o", "i", "n", "s", "h", "r", "d", "l", "c", "u", "m", "w",
}

// names is the ordered, frozen slot-name schema. Its length and order define
// model.FeatureSchemaVersion's meaning; len(names) == len(FeatureVector.Values).
var names = buildNames()

func buildNames() []string {
	n := []string{
		"meanDwell", "meanFlight", "typingSpeed",
		"dwellVariance", "dwellStdDev", "flightVariance", "flightStdDev",
		"dwellP25", "dwellP50", "dwellP75", "flightP25", "flightP50", "flightP75",
		"rhythmConsistency", "dwellRhythmConsistency", "overallPace",
		"pauseShortFrac", "pauseMediumFrac", "pauseLongFrac", "meanPauseDuration",
		"consecutiveBackspaces", "errorCorrectionSpeed", "errorRateIncrease",
		"sameHandRatio", "diffHandRatio", "leftHandDwellMean", "rightHandDwellMean", "handBalance",
		"homeRowRatio", "topRowRatio", "bottomRowRatio", "rowTransitionRate",
		"fingerPinkyDwell", "fingerRingDwell", "fingerMiddleDwell", "fingerIndexDwell", "fingerThumbDwell",
	}
	for _, t := range keytab.Trigraphs {
		n = append(n, "tri:"+t)
	}
	for _, k := range topKeys {
		n = append(n, "key:"+k)
	}
	for _, d := range keytab.Digraphs {
		n = append(n, "di:"+d)
	}
	for i := 0; i < 5 && i < len(keytab.Digraphs); i++ {
		n = append(n, "divar:"+keytab.Digraphs[i])
	}
	n = append(n, "keyOverlapFrequency", "meanOverlapGap")
	n = append(n, "meanWordLength", "spaceDwellMean", "wordsPerMinute")
	n = append(n, "typingSpeedDecay", "dwellDecay")
	return n
}

// NumFeatures is the frozen length of a FeatureVector's Values slice.
var NumFeatures = len(names)

// Names returns the frozen, ordered slot names. The returned slice must not
// be mutated by callers.
func Names() []string { return names }

// extractor carries the normalized event stream through the per-group
// feature computations.
type extractor struct {
	events []model.KeystrokeEvent
}

// ExtractForTraining is Extract with the additional InsufficientInput gate
// required when the caller needs features for training: fewer than 10
// events is a hard failure rather than a degenerate vector.
func ExtractForTraining(events []model.KeystrokeEvent, label string) (model.FeatureVector, error) {
	if len(events) < 10 {
		return model.FeatureVector{}, fmt.Errorf("extract for training: %w", profilerrors.ErrInsufficientInput)
	}
	return Extract(events, label), nil
}

// Extract derives a FeatureVector from a normalized event list. Fewer than 2
// events yields an all-zero vector labeled "Unknown". The label
// argument is attached to the result; an empty label (callers pass "" for
// unlabeled identification requests) is replaced by "Unknown".
func Extract(events []model.KeystrokeEvent, label string) model.FeatureVector {
	if len(events) < 2 {
		return model.FeatureVector{Label: model.UnknownLabel, Values: make([]float32, NumFeatures)}
	}
	e := &extractor{events: events}
	values := make([]float64, NumFeatures)

	dwells, dwellKeys := e.dwells()
	flights := e.flights()

	idx := 0
	meanDwell := mean(dwells)
	meanFlight := mean(flights)
	duration := e.durationSeconds()
	typingSpeed := 0.0
	if duration > 0 {
		typingSpeed = float64(e.keydownCount()) / duration
	}
	values[idx], idx = meanDwell, idx+1
	values[idx], idx = meanFlight, idx+1
	values[idx], idx = typingSpeed, idx+1

	dwellVar, dwellStd := varianceStdDev(dwells)
	flightVar, flightStd := varianceStdDev(flights)
	values[idx], idx = dwellVar, idx+1
	values[idx], idx = dwellStd, idx+1
	values[idx], idx = flightVar, idx+1
	values[idx], idx = flightStd, idx+1

	dp25, dp50, dp75 := percentile(dwells, 25), percentile(dwells, 50), percentile(dwells, 75)
	fp25, fp50, fp75 := percentile(flights, 25), percentile(flights, 50), percentile(flights, 75)
	values[idx], idx = dp25, idx+1
	values[idx], idx = dp50, idx+1
	values[idx], idx = dp75, idx+1
	values[idx], idx = fp25, idx+1
	values[idx], idx = fp50, idx+1
	values[idx], idx = fp75, idx+1

	rhythm := 0.0
	if meanFlight > 0 {
		rhythm = flightStd / meanFlight
	}
	dwellRhythm := 0.0
	if meanDwell > 0 {
		dwellRhythm = dwellStd / meanDwell
	}
	overallPace := typingSpeed
	values[idx], idx = rhythm, idx+1
	values[idx], idx = dwellRhythm, idx+1
	values[idx], idx = overallPace, idx+1

	shortFrac, medFrac, longFrac, meanPause := pauseBuckets(flights)
	values[idx], idx = shortFrac, idx+1
	values[idx], idx = medFrac, idx+1
	values[idx], idx = longFrac, idx+1
	values[idx], idx = meanPause, idx+1

	consecBS, errSpeed, errIncrease := e.errorFeatures()
	values[idx], idx = consecBS, idx+1
	values[idx], idx = errSpeed, idx+1
	values[idx], idx = errIncrease, idx+1

	sameHand, diffHand, leftDwell, rightDwell, handBalance := e.handFeatures(dwellKeys, dwells)
	values[idx], idx = sameHand, idx+1
	values[idx], idx = diffHand, idx+1
	values[idx], idx = leftDwell, idx+1
	values[idx], idx = rightDwell, idx+1
	values[idx], idx = handBalance, idx+1

	homeR, topR, bottomR, rowTrans := e.rowFeatures()
	values[idx], idx = homeR, idx+1
	values[idx], idx = topR, idx+1
	values[idx], idx = bottomR, idx+1
	values[idx], idx = rowTrans, idx+1

	fingerDwells := e.fingerDwells(dwellKeys, dwells)
	for _, f := range []keytab.Finger{keytab.FingerPinky, keytab.FingerRing, keytab.FingerMiddle, keytab.FingerIndex, keytab.FingerThumb} {
		values[idx] = fingerDwells[f]
		idx++
	}

	for _, t := range keytab.Trigraphs {
		values[idx] = e.ngramMeanFlight(strings.Split(t, "-"), meanFlight)
		idx++
	}

	keyDwellMean := perKeyMeanDwell(dwellKeys, dwells)
	for _, k := range topKeys {
		values[idx] = keyDwellMean[k]
		idx++
	}

	for _, d := range keytab.Digraphs {
		values[idx] = e.ngramMeanFlight(strings.Split(d, "-"), meanFlight)
		idx++
	}

	for i := 0; i < 5 && i < len(keytab.Digraphs); i++ {
		values[idx] = e.digraphVariance(strings.Split(keytab.Digraphs[i], "-"))
		idx++
	}

	overlapFreq, overlapGap := e.overlapFeatures()
	values[idx], idx = overlapFreq, idx+1
	values[idx], idx = overlapGap, idx+1

	wordLen, spaceDwell, wpm := e.wordFeatures(duration)
	values[idx], idx = wordLen, idx+1
	values[idx], idx = spaceDwell, idx+1
	values[idx], idx = wpm, idx+1

	speedDecay, dwellDecay := e.fatigueFeatures(flights, dwells)
	values[idx], idx = speedDecay, idx+1
	values[idx], idx = dwellDecay, idx+1

	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(sanitize(v))
	}

	lbl := label
	if lbl == "" {
		lbl = model.UnknownLabel
	}
	return model.FeatureVector{Label: lbl, Values: out}
}

// sanitize replaces NaN/Inf with 0, guaranteeing every slot is finite.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func varianceStdDev(xs []float64) (variance, stddev float64) {
	if len(xs) < 2 {
		return 0, 0
	}
	v := stat.Variance(xs, nil)
	return v, math.Sqrt(v)
}

// percentile implements the ceiling-rank convention:
// idx = ceil(P/100 * n) - 1, clamped to [0, n-1], over the ascending sort.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func pauseBuckets(flights []float64) (shortFrac, medFrac, longFrac, meanPause float64) {
	if len(flights) == 0 {
		return 0, 0, 0, 0
	}
	var short, med, long int
	var pauseSum float64
	var pauseCount int
	for _, f := range flights {
		switch {
		case f < 200:
			short++
		case f <= 500:
			med++
		default:
			long++
		}
		if f >= 200 {
			pauseSum += f
			pauseCount++
		}
	}
	total := float64(len(flights))
	shortFrac = float64(short) / total
	medFrac = float64(med) / total
	longFrac = float64(long) / total
	if pauseCount > 0 {
		meanPause = pauseSum / float64(pauseCount)
	}
	return
}
