package features

import (
	"testing"

	"profilerd/internal/model"
)

func synthEvents(n int, keyInterval int64) []model.KeystrokeEvent {
	events := make([]model.KeystrokeEvent, 0, n*2)
	keys := []string{"t", "h", "e", "q", "u", "i", "c", "k"}
	var t int64
	for i := 0; i < n; i++ {
		k := keys[i%len(keys)]
		events = append(events, model.KeystrokeEvent{Key: k, Timestamp: t, Type: model.KeyDown})
		events = append(events, model.KeystrokeEvent{Key: k, Timestamp: t + 50, Type: model.KeyUp})
		t += keyInterval
	}
	return events
}

func TestExtractTooFewEventsIsUnknownZeroVector(t *testing.T) {
	fv := Extract([]model.KeystrokeEvent{{Key: "a", Timestamp: 0, Type: model.KeyDown}}, "alice")
	if fv.Label != model.UnknownLabel {
		t.Fatalf("Extract() label = %q, want %q", fv.Label, model.UnknownLabel)
	}
	for i, v := range fv.Values {
		if v != 0 {
			t.Fatalf("Extract() value[%d] = %v, want 0", i, v)
		}
	}
}

func TestExtractReturnsFixedWidthVector(t *testing.T) {
	fv := Extract(synthEvents(20, 100), "alice")
	if len(fv.Values) != NumFeatures {
		t.Fatalf("Extract() len(Values) = %d, want %d", len(fv.Values), NumFeatures)
	}
	if fv.Label != "alice" {
		t.Fatalf("Extract() label = %q, want alice", fv.Label)
	}
}

func TestExtractEmptyLabelBecomesUnknown(t *testing.T) {
	fv := Extract(synthEvents(20, 100), "")
	if fv.Label != model.UnknownLabel {
		t.Fatalf("Extract() label = %q, want %q", fv.Label, model.UnknownLabel)
	}
}

func TestExtractAllValuesFinite(t *testing.T) {
	fv := Extract(synthEvents(20, 100), "alice")
	for i, v := range fv.Values {
		if v != v { // NaN check
			t.Fatalf("Extract() value[%d] is NaN", i)
		}
	}
}

func TestExtractFasterTypingYieldsHigherTypingSpeed(t *testing.T) {
	names := Names()
	idx := -1
	for i, n := range names {
		if n == "typingSpeed" {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("typingSpeed slot not found in feature schema")
	}

	fast := Extract(synthEvents(30, 80), "alice")
	slow := Extract(synthEvents(30, 400), "alice")

	if fast.Values[idx] <= slow.Values[idx] {
		t.Errorf("fast typing speed = %v, want greater than slow typing speed %v", fast.Values[idx], slow.Values[idx])
	}
}

func TestExtractForTrainingRejectsShortSessions(t *testing.T) {
	_, err := ExtractForTraining(synthEvents(2, 100), "alice")
	if err == nil {
		t.Fatal("ExtractForTraining() with under 10 events, want error")
	}
}

func TestExtractForTrainingAcceptsLongEnoughSessions(t *testing.T) {
	fv, err := ExtractForTraining(synthEvents(20, 100), "alice")
	if err != nil {
		t.Fatalf("ExtractForTraining() error = %v, want nil", err)
	}
	if fv.Label != "alice" {
		t.Errorf("ExtractForTraining() label = %q, want alice", fv.Label)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	events := synthEvents(30, 120)
	a := Extract(events, "alice")
	b := Extract(events, "alice")
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			t.Fatalf("Extract() value[%d] differs between runs: %v vs %v", i, a.Values[i], b.Values[i])
		}
	}
}

func TestNamesMatchNumFeatures(t *testing.T) {
	if len(Names()) != NumFeatures {
		t.Fatalf("len(Names()) = %d, want NumFeatures %d", len(Names()), NumFeatures)
	}
}
