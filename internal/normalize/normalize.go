// Package normalize implements C1, the event normalizer: it canonicalizes
// key names, orders a raw event stream by time, and drops keyup events that
// have no matching keydown.
package normalize

import (
	"sort"
	"strings"

	"profilerd/internal/keytab"
	"profilerd/internal/model"
)

// Key lower-cases a raw key name and maps a literal space to the Space
// sentinel. Normalization is idempotent: Key(Key(k)) == Key(k).
func Key(raw string) string {
	if raw == " " {
		return keytab.SpaceKey
	}
	lower := strings.ToLower(raw)
	if lower == strings.ToLower(keytab.SpaceKey) {
		return keytab.SpaceKey
	}
	return lower
}

// Events sorts events by timestamp (stable), normalizes key names, and
// discards any keyup whose matching keydown was not observed since the last
// matching keyup for that key. The input slice is not mutated.
func Events(raw []model.KeystrokeEvent) []model.KeystrokeEvent {
	sorted := make([]model.KeystrokeEvent, len(raw))
	copy(sorted, raw)
	for i := range sorted {
		sorted[i].Key = Key(sorted[i].Key)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	down := make(map[string]bool)
	out := make([]model.KeystrokeEvent, 0, len(sorted))
	for _, ev := range sorted {
		switch ev.Type {
		case model.KeyDown:
			down[ev.Key] = true
			out = append(out, ev)
		case model.KeyUp:
			if down[ev.Key] {
				down[ev.Key] = false
				out = append(out, ev)
			}
			// unmatched keyup: silently dropped
		default:
			// unrecognized type: pass through unmodified, downstream
			// components treat anything that isn't keydown as non-dwell.
			out = append(out, ev)
		}
	}
	return out
}
