package transform

import (
	"testing"

	"github.com/vjranagit/trialpipe/pkg/buffer"
)

func TestOffsetThenGainNumeric(t *testing.T) {
	xf := OffsetThenGain{Offset: 10, Gain: -2}
	in := Piece{Variety: VarietyNumeric, Numeric: []buffer.NumericRow{
		{T: 0.1, V: []float64{1}},
		{T: 3.1, V: []float64{0}},
	}}

	out, err := xf.Apply(in)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []float64{-22, -20}
	for i, w := range want {
		if out.Numeric[i].V[0] != w {
			t.Errorf("row %d: got %v, want %v", i, out.Numeric[i].V[0], w)
		}
	}
}

func TestFilterRangeEquals(t *testing.T) {
	f := FilterRange{Column: 0, Compare: CompareEquals, Min: 1010}
	in := Piece{Variety: VarietyNumeric, Numeric: []buffer.NumericRow{
		{T: 1, V: []float64{1010}},
		{T: 2, V: []float64{42}},
		{T: 3, V: []float64{1010}},
	}}
	out, err := f.Apply(in)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out.Numeric) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out.Numeric))
	}
}

func TestSparseSignalInterpolates(t *testing.T) {
	s := SparseSignal{SampleFrequency: 10, ChannelIDs: []string{"x"}}
	in := Piece{Variety: VarietyNumeric, Numeric: []buffer.NumericRow{
		{T: 0, V: []float64{0}},
		{T: 1, V: []float64{10}},
	}}
	out, err := s.Apply(in)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out.Signal) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(out.Signal))
	}
	chunk := out.Signal[0]
	if chunk.N() != 11 {
		t.Fatalf("N = %d, want 11", chunk.N())
	}
	// Sample at t=0.5 should interpolate to 5.
	mid := chunk.X[5][0]
	if mid < 4.9 || mid > 5.1 {
		t.Errorf("interpolated value = %v, want ~5", mid)
	}
}

func TestPipelineChainsStages(t *testing.T) {
	p := Pipeline{Stages: []Transformer{
		OffsetThenGain{Offset: 0, Gain: 2},
		OffsetThenGain{Offset: 1, Gain: 1},
	}}
	in := Piece{Variety: VarietyNumeric, Numeric: []buffer.NumericRow{{T: 0, V: []float64{3}}}}
	out, err := p.Apply(in)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.Numeric[0].V[0] != 7 { // (3*2)+1
		t.Errorf("got %v, want 7", out.Numeric[0].V[0])
	}
}
