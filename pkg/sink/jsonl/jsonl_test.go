package jsonl

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

var floatCmp = cmp.Comparer(func(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Abs(a-b) < 1e-9
})

func TestEmitTrialAndReadBackRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.jsonl")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	end := 2.5
	want := trial.NewTrial(0.5, &end, 0.5)
	want.NumericEvents["bar"] = []buffer.NumericRow{{T: -0.4, V: []float64{1}}}
	want.TextEvents["foo"] = []buffer.TextRow{{T: -0.3, Text: "red"}}
	want.Signals["eeg"] = []buffer.Chunk{{T0: -1.0, F: 10, X: [][]float64{{1, 2}, {3, 4}}}}
	want.SignalChannelIDs["eeg"] = []string{"ch0", "ch1"}
	want.Enhancements["duration"] = 2.0

	if err := s.EmitTrial(want, 0); err != nil {
		t.Fatalf("EmitTrial: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadTrials(path)
	if err != nil {
		t.Fatalf("ReadTrials: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 trial, got %d", len(got))
	}

	if diff := cmp.Diff(want, got[0], floatCmp); diff != "" {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestEmitTrialWritesNaNAndInfAsNull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	end := 1.0
	tr := trial.NewTrial(0.0, &end, 0.0)
	tr.NumericEvents["bad"] = []buffer.NumericRow{{T: 0.1, V: []float64{math.NaN(), math.Inf(1)}}}

	if err := s.EmitTrial(tr, 0); err != nil {
		t.Fatalf("EmitTrial: %v", err)
	}
	s.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(raw)
	if !containsNull(content) {
		t.Fatalf("expected NaN/Inf to render as null, got: %s", content)
	}
}

func containsNull(s string) bool {
	for i := 0; i+4 <= len(s); i++ {
		if s[i:i+4] == "null" {
			return true
		}
	}
	return false
}

func TestReadTrialsDropsTruncatedFinalLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.jsonl")

	complete := `{"start_time":0,"end_time":1,"wrt_time":0,"numeric_events":{},"text_events":{},"signals":{},"enhancements":{},"enhancement_categories":{}}` + "\n"
	truncated := `{"start_time":1,"end_time":2,"wrt_time":0,"numeric_ev`

	if err := os.WriteFile(path, []byte(complete+truncated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadTrials(path)
	if err != nil {
		t.Fatalf("ReadTrials: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 complete trial, got %d", len(got))
	}
	if got[0].StartTime != 0 {
		t.Fatalf("expected the complete (first) trial, got start_time %v", got[0].StartTime)
	}
}

func TestEmitTrialTwiceIsIdempotentByteForByte(t *testing.T) {
	end := 1.0

	run := func() []byte {
		dir := t.TempDir()
		path := filepath.Join(dir, "trials.jsonl")
		s, _ := Open(path)
		tr := trial.NewTrial(0.0, &end, 0.0)
		tr.NumericEvents["bar"] = []buffer.NumericRow{{T: 0.1, V: []float64{1}}}
		s.EmitTrial(tr, 0)
		s.Close()
		data, _ := os.ReadFile(path)
		return data
	}

	a := run()
	b := run()
	if string(a) != string(b) {
		t.Fatalf("expected byte-identical output across runs:\n%s\n---\n%s", a, b)
	}
}
