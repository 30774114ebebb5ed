package features

import (
	"profilerd/internal/keytab"
	"profilerd/internal/model"
)

// keydownCount returns the number of keydown events in the stream.
func (e *extractor) keydownCount() int {
	n := 0
	for _, ev := range e.events {
		if ev.Type == model.KeyDown {
			n++
		}
	}
	return n
}

// durationSeconds returns the wall-clock span of the event stream.
func (e *extractor) durationSeconds() float64 {
	if len(e.events) < 2 {
		return 0
	}
	first := e.events[0].Timestamp
	last := e.events[len(e.events)-1].Timestamp
	if last <= first {
		return 0
	}
	return float64(last-first) / 1000.0
}

// dwells returns, for every keydown with a later matching keyup within the
// validity window, the dwell time in ms and the key it belongs to, in
// chronological order of the keydown.
func (e *extractor) dwells() (values []float64, keys []string) {
	type pending struct {
		idx int
		t   int64
	}
	open := make(map[string]pending)
	for _, ev := range e.events {
		switch ev.Type {
		case model.KeyDown:
			open[ev.Key] = pending{t: ev.Timestamp}
		case model.KeyUp:
			if p, ok := open[ev.Key]; ok {
				d := float64(ev.Timestamp - p.t)
				if d > 0 && d <= validityWindow {
					values = append(values, d)
					keys = append(keys, ev.Key)
				}
				delete(open, ev.Key)
			}
		}
	}
	return
}

// flights returns the flight time in ms between every pair of consecutive
// keydowns whose interval lies within the validity window, in chronological
// order.
func (e *extractor) flights() []float64 {
	var out []float64
	var lastT int64
	have := false
	for _, ev := range e.events {
		if ev.Type != model.KeyDown {
			continue
		}
		if have {
			d := float64(ev.Timestamp - lastT)
			if d > 0 && d <= validityWindow {
				out = append(out, d)
			}
		}
		lastT = ev.Timestamp
		have = true
	}
	return out
}

// keydownSeq returns every keydown event in chronological order.
func (e *extractor) keydownSeq() []model.KeystrokeEvent {
	var out []model.KeystrokeEvent
	for _, ev := range e.events {
		if ev.Type == model.KeyDown {
			out = append(out, ev)
		}
	}
	return out
}

// errorFeatures computes ConsecutiveBackspaces, ErrorCorrectionSpeed, and
// ErrorRateIncrease.
func (e *extractor) errorFeatures() (consecutive, correctionSpeed, rateIncrease float64) {
	seq := e.keydownSeq()
	if len(seq) == 0 {
		return 0, 0, 0
	}

	// consecutive backspace run lengths
	var runs []int
	run := 0
	for _, ev := range seq {
		if ev.Key == keytab.ErrorKey {
			run++
		} else {
			if run > 0 {
				runs = append(runs, run)
			}
			run = 0
		}
	}
	if run > 0 {
		runs = append(runs, run)
	}
	if len(runs) > 0 {
		sum := 0
		for _, r := range runs {
			sum += r
		}
		consecutive = float64(sum) / float64(len(runs))
	}

	// error correction speed
	var speeds []float64
	for i, ev := range seq {
		if ev.Key != keytab.ErrorKey {
			continue
		}
		for j := i + 1; j < len(seq); j++ {
			if seq[j].Key == keytab.ErrorKey {
				continue
			}
			d := float64(seq[j].Timestamp - ev.Timestamp)
			if d > 0 && d <= validityWindow {
				speeds = append(speeds, d)
			}
			break
		}
	}
	correctionSpeed = mean(speeds)

	// error rate increase: split at timeline midpoint, compare backspace
	// counts before/after.
	first := e.events[0].Timestamp
	last := e.events[len(e.events)-1].Timestamp
	mid := first + (last-first)/2
	var firstHalf, secondHalf int
	for _, ev := range seq {
		if ev.Key != keytab.ErrorKey {
			continue
		}
		if ev.Timestamp < mid {
			firstHalf++
		} else {
			secondHalf++
		}
	}
	denom := firstHalf
	if denom < 1 {
		denom = 1
	}
	rateIncrease = float64(secondHalf-firstHalf) / float64(denom)
	return
}

// handFeatures computes same/different hand transition ratios, per-hand
// mean dwell, and hand balance.
func (e *extractor) handFeatures(dwellKeys []string, dwells []float64) (sameHand, diffHand, leftDwell, rightDwell, balance float64) {
	seq := e.keydownSeq()
	var same, diff int
	for i := 1; i < len(seq); i++ {
		h1 := keytab.ClassifyHand(seq[i-1].Key)
		h2 := keytab.ClassifyHand(seq[i].Key)
		if h1 == keytab.HandUnknown || h2 == keytab.HandUnknown {
			continue
		}
		if h1 == h2 {
			same++
		} else {
			diff++
		}
	}
	total := same + diff
	if total == 0 {
		diffHand = 0.5
		sameHand = 0.5
	} else {
		sameHand = float64(same) / float64(total)
		diffHand = float64(diff) / float64(total)
	}

	var leftSum, rightSum float64
	var leftN, rightN int
	for i, k := range dwellKeys {
		switch keytab.ClassifyHand(k) {
		case keytab.HandLeft:
			leftSum += dwells[i]
			leftN++
		case keytab.HandRight:
			rightSum += dwells[i]
			rightN++
		}
	}
	if leftN > 0 {
		leftDwell = leftSum / float64(leftN)
	}
	if rightN > 0 {
		rightDwell = rightSum / float64(rightN)
	}

	var leftCount, rightCount int
	for _, ev := range seq {
		switch keytab.ClassifyHand(ev.Key) {
		case keytab.HandLeft:
			leftCount++
		case keytab.HandRight:
			rightCount++
		}
	}
	if leftCount+rightCount > 0 {
		balance = float64(leftCount) / float64(leftCount+rightCount)
	} else {
		balance = 0.5
	}
	return
}

// rowFeatures computes home/top/bottom row ratios and row-transition rate.
func (e *extractor) rowFeatures() (homeR, topR, bottomR, transitionRate float64) {
	seq := e.keydownSeq()
	var home, top, bottom, classified int
	for _, ev := range seq {
		switch keytab.ClassifyRow(ev.Key) {
		case keytab.RowHome:
			home++
			classified++
		case keytab.RowTop:
			top++
			classified++
		case keytab.RowBottom:
			bottom++
			classified++
		}
	}
	if classified > 0 {
		homeR = float64(home) / float64(classified)
		topR = float64(top) / float64(classified)
		bottomR = float64(bottom) / float64(classified)
	}

	var transitions, pairs int
	for i := 1; i < len(seq); i++ {
		r1 := keytab.ClassifyRow(seq[i-1].Key)
		r2 := keytab.ClassifyRow(seq[i].Key)
		if r1 == keytab.RowUnknown || r2 == keytab.RowUnknown {
			continue
		}
		pairs++
		if r1 != r2 {
			transitions++
		}
	}
	if pairs > 0 {
		transitionRate = float64(transitions) / float64(pairs)
	}
	return
}

// fingerDwells returns mean dwell time per finger classification.
func (e *extractor) fingerDwells(dwellKeys []string, dwells []float64) map[keytab.Finger]float64 {
	sums := make(map[keytab.Finger]float64)
	counts := make(map[keytab.Finger]int)
	for i, k := range dwellKeys {
		f := keytab.ClassifyFinger(k)
		sums[f] += dwells[i]
		counts[f]++
	}
	out := make(map[keytab.Finger]float64)
	for f, c := range counts {
		if c > 0 {
			out[f] = sums[f] / float64(c)
		}
	}
	return out
}

// perKeyMeanDwell computes mean dwell time for each observed key.
func perKeyMeanDwell(dwellKeys []string, dwells []float64) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i, k := range dwellKeys {
		sums[k] += dwells[i]
		counts[k]++
	}
	out := make(map[string]float64)
	for k, c := range counts {
		if c > 0 {
			out[k] = sums[k] / float64(c)
		}
	}
	return out
}

// ngramMeanFlight computes the mean flight time across occurrences of the
// given key sequence within this event stream. When the n-gram never
// occurs, it defaults to globalMeanFlight so untyped n-grams do not pull
// the vector toward zero.
func (e *extractor) ngramMeanFlight(seq []string, globalMeanFlight float64) float64 {
	keydowns := e.keydownSeq()
	n := len(seq)
	if n < 2 || len(keydowns) < n {
		return globalMeanFlight
	}
	var sum float64
	var count int
	for i := 0; i+n-1 < len(keydowns); i++ {
		match := true
		for j := 0; j < n; j++ {
			if keydowns[i+j].Key != seq[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		total := float64(keydowns[i+n-1].Timestamp - keydowns[i].Timestamp)
		if total <= 0 || total > validityWindow*float64(n-1) {
			continue
		}
		sum += total / float64(n-1)
		count++
	}
	if count == 0 {
		return globalMeanFlight
	}
	return sum / float64(count)
}

// digraphVariance computes the flight-time variance for occurrences of a
// digraph; defaults to 0 when it appears fewer than twice.
func (e *extractor) digraphVariance(seq []string) float64 {
	if len(seq) != 2 {
		return 0
	}
	keydowns := e.keydownSeq()
	var samples []float64
	for i := 0; i+1 < len(keydowns); i++ {
		if keydowns[i].Key != seq[0] || keydowns[i+1].Key != seq[1] {
			continue
		}
		d := float64(keydowns[i+1].Timestamp - keydowns[i].Timestamp)
		if d > 0 && d <= validityWindow {
			samples = append(samples, d)
		}
	}
	if len(samples) < 2 {
		return 0
	}
	v, _ := varianceStdDev(samples)
	return v
}

// overlapFeatures computes KeyOverlapFrequency and the mean overlap gap.
// At each keydown, any still-pressed key whose own keydown was within the
// last 100ms contributes one overlap sample.
func (e *extractor) overlapFeatures() (frequency, meanGap float64) {
	type pressed struct {
		t int64
	}
	open := make(map[string]pressed)
	var gaps []float64
	total := 0
	for _, ev := range e.events {
		switch ev.Type {
		case model.KeyDown:
			total++
			for k, p := range open {
				if k == ev.Key {
					continue
				}
				gap := ev.Timestamp - p.t
				if gap >= 0 && gap <= 100 {
					gaps = append(gaps, float64(gap))
				}
			}
			open[ev.Key] = pressed{t: ev.Timestamp}
		case model.KeyUp:
			delete(open, ev.Key)
		}
	}
	if total > 0 {
		frequency = float64(len(gaps)) / float64(total)
	}
	meanGap = mean(gaps)
	return
}

// wordFeatures computes mean word length (in keydowns between spaces),
// space-key dwell mean, and words-per-minute.
func (e *extractor) wordFeatures(durationSeconds float64) (meanWordLen, spaceDwell, wpm float64) {
	seq := e.keydownSeq()
	var wordLens []float64
	var current int
	var words int
	for _, ev := range seq {
		if ev.Key == keytab.SpaceKey {
			if current > 0 {
				wordLens = append(wordLens, float64(current))
				words++
			}
			current = 0
			continue
		}
		current++
	}
	if current > 0 {
		wordLens = append(wordLens, float64(current))
		words++
	}
	meanWordLen = mean(wordLens)

	dwells, keys := e.dwells()
	var spaceSum float64
	var spaceN int
	for i, k := range keys {
		if k == keytab.SpaceKey {
			spaceSum += dwells[i]
			spaceN++
		}
	}
	if spaceN > 0 {
		spaceDwell = spaceSum / float64(spaceN)
	}

	if durationSeconds > 0 {
		wpm = float64(words) / (durationSeconds / 60.0)
	}
	return
}

// fatigueFeatures compares first-half vs second-half means of flight and
// dwell times to derive TypingSpeedDecay and an analogous dwell decay.
func (e *extractor) fatigueFeatures(flights, dwells []float64) (speedDecay, dwellDecay float64) {
	speedDecay = halfDecay(flights)
	dwellDecay = halfDecay(dwells)
	return
}

func halfDecay(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mid := len(xs) / 2
	first := mean(xs[:mid])
	second := mean(xs[mid:])
	if first == 0 {
		return 0
	}
	return (second - first) / first
}
