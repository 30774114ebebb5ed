package normalize

import (
	"testing"

	"profilerd/internal/keytab"
	"profilerd/internal/model"
)

func TestKeyLowercasesAndMapsSpace(t *testing.T) {
	if got := Key("A"); got != "a" {
		t.Errorf("Key(%q) = %q, want %q", "A", got, "a")
	}
	if got := Key(" "); got != keytab.SpaceKey {
		t.Errorf("Key(%q) = %q, want %q", " ", got, keytab.SpaceKey)
	}
}

func TestKeyIsIdempotent(t *testing.T) {
	for _, raw := range []string{"A", " ", "Enter", keytab.SpaceKey} {
		once := Key(raw)
		twice := Key(once)
		if once != twice {
			t.Errorf("Key(Key(%q)) = %q, want %q", raw, twice, once)
		}
	}
}

func TestEventsSortsByTimestamp(t *testing.T) {
	raw := []model.KeystrokeEvent{
		{Key: "b", Timestamp: 200, Type: model.KeyDown},
		{Key: "a", Timestamp: 100, Type: model.KeyDown},
	}
	out := Events(raw)
	if len(out) != 2 || out[0].Key != "a" || out[1].Key != "b" {
		t.Fatalf("Events() = %+v, want sorted by timestamp", out)
	}
}

func TestEventsDropsUnmatchedKeyup(t *testing.T) {
	raw := []model.KeystrokeEvent{
		{Key: "a", Timestamp: 100, Type: model.KeyUp},
	}
	out := Events(raw)
	if len(out) != 0 {
		t.Fatalf("Events() = %+v, want unmatched keyup dropped", out)
	}
}

func TestEventsKeepsMatchedPair(t *testing.T) {
	raw := []model.KeystrokeEvent{
		{Key: "A", Timestamp: 100, Type: model.KeyDown},
		{Key: "a", Timestamp: 150, Type: model.KeyUp},
	}
	out := Events(raw)
	if len(out) != 2 {
		t.Fatalf("Events() = %+v, want both events kept", out)
	}
	if out[0].Key != "a" || out[1].Key != "a" {
		t.Fatalf("Events() keys = %q, %q, want normalized to lowercase", out[0].Key, out[1].Key)
	}
}

func TestEventsDoesNotMutateInput(t *testing.T) {
	raw := []model.KeystrokeEvent{
		{Key: "A", Timestamp: 100, Type: model.KeyDown},
	}
	_ = Events(raw)
	if raw[0].Key != "A" {
		t.Fatalf("Events() mutated input: got key %q, want %q", raw[0].Key, "A")
	}
}
