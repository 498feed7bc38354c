package sync2

import (
	"testing"

	"github.com/vjranagit/trialpipe/pkg/buffer"
)

func isSyncCode(row buffer.NumericRow) bool { return row.V[0] == 999 }

func TestRegistryClosestInTimeOffset(t *testing.T) {
	r := NewRegistry("ref")

	r.Observe("ref", []buffer.NumericRow{
		{T: 1, V: []float64{999}},
		{T: 11, V: []float64{999}},
		{T: 21, V: []float64{999}},
	}, isSyncCode, nil)

	r.Observe("follower", []buffer.NumericRow{
		{T: 1.05, V: []float64{999}},
		{T: 11.55, V: []float64{999}},
		{T: 22.05, V: []float64{999}},
	}, isSyncCode, nil)

	got := r.OffsetAt("follower", 10)
	want := 1.0 - 1.05
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("OffsetAt(10) = %v, want %v", got, want)
	}

	got2 := r.OffsetAt("follower", 15)
	want2 := 11.0 - 11.55
	if diff := got2 - want2; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("OffsetAt(15) = %v, want %v", got2, want2)
	}
}

func TestRegistryNoOffsetBeforeAnyPair(t *testing.T) {
	r := NewRegistry("ref")
	if got := r.OffsetAt("follower", 5); got != 0 {
		t.Errorf("OffsetAt with no pairs = %v, want 0", got)
	}
}

func TestRegistryInheritsAnotherReadersSyncList(t *testing.T) {
	r := NewRegistry("ref")
	r.Observe("ref", []buffer.NumericRow{{T: 1, V: []float64{999}}}, isSyncCode, nil)
	r.Observe("sibling", []buffer.NumericRow{{T: 1.1, V: []float64{999}}}, isSyncCode, nil)
	r.Inherit("quiet-follower", "sibling")

	got := r.OffsetAt("quiet-follower", 5)
	want := 1.0 - 1.1
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("OffsetAt = %v, want %v", got, want)
	}
}

func TestRegistryKeyedPairing(t *testing.T) {
	r := NewRegistry("ref")
	r.SetStrategy("follower", Keyed{})

	keyOf := func(row buffer.NumericRow) string {
		if len(row.V) > 1 {
			return "trial-" + string(rune('A'+int(row.V[1])))
		}
		return ""
	}

	r.Observe("ref", []buffer.NumericRow{{T: 1, V: []float64{999, 0}}, {T: 2, V: []float64{999, 1}}}, isSyncCode, keyOf)
	r.Observe("follower", []buffer.NumericRow{{T: 1.2, V: []float64{999, 1}}, {T: 2.2, V: []float64{999, 0}}}, isSyncCode, keyOf)

	got := r.OffsetAt("follower", 10)
	// Most recent pair by RefT is key "trial-B" (ref t=2) <-> follower t=1.2.
	want := 2.0 - 1.2
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("OffsetAt = %v, want %v", got, want)
	}
}
