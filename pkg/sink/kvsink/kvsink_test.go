package kvsink

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/vjranagit/trialpipe/internal/walcodec"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

func TestEmitTrialAndReadTrialRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	end := 2.5
	want := trial.NewTrial(0.5, &end, 0.5)
	want.NumericEvents["bar"] = []buffer.NumericRow{{T: -0.4, V: []float64{1, 2}}, {T: 0.1, V: []float64{3, 4}}}
	want.TextEvents["foo"] = []buffer.TextRow{{T: -0.3, Text: "red"}}
	want.Signals["eeg"] = []buffer.Chunk{{T0: -1.0, F: 10, X: [][]float64{{1, 2}, {3, 4}}}}
	want.SignalChannelIDs["eeg"] = []string{"ch0", "ch1"}
	want.Enhancements["duration"] = 2.0

	if err := s.EmitTrial(want, 0); err != nil {
		t.Fatalf("EmitTrial: %v", err)
	}

	got, err := s.ReadTrial(0)
	if err != nil {
		t.Fatalf("ReadTrial: %v", err)
	}

	if got.StartTime != want.StartTime || *got.EndTime != *want.EndTime || got.WRTTime != want.WRTTime {
		t.Errorf("timing mismatch: got %+v", got)
	}
	if len(got.NumericEvents["bar"]) != 2 || got.NumericEvents["bar"][1].V[1] != 4 {
		t.Errorf("numeric round trip mismatch: %+v", got.NumericEvents["bar"])
	}
	if len(got.TextEvents["foo"]) != 1 || got.TextEvents["foo"][0].Text != "red" {
		t.Errorf("text round trip mismatch: %+v", got.TextEvents["foo"])
	}
	if len(got.Signals["eeg"]) != 1 || got.Signals["eeg"][0].X[1][0] != 3 {
		t.Errorf("signal round trip mismatch: %+v", got.Signals["eeg"])
	}
	if len(got.SignalChannelIDs["eeg"]) != 2 {
		t.Errorf("channel id round trip mismatch: %+v", got.SignalChannelIDs["eeg"])
	}
	if got.Enhancements["duration"].(float64) != 2.0 {
		t.Errorf("enhancement round trip mismatch: %+v", got.Enhancements)
	}
}

func TestReadTrialsReturnsAllTrialsInOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		tr := trial.NewTrial(float64(i), nil, float64(i))
		tr.NumericEvents["bar"] = []buffer.NumericRow{{T: float64(i), V: []float64{float64(i)}}}
		if err := s.EmitTrial(tr, i); err != nil {
			t.Fatalf("EmitTrial %d: %v", i, err)
		}
	}

	got, err := s.ReadTrials()
	if err != nil {
		t.Fatalf("ReadTrials: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 trials, got %d", len(got))
	}
	for i, tr := range got {
		if tr.StartTime != float64(i) {
			t.Errorf("trial %d: StartTime = %v, want %v", i, tr.StartTime, i)
		}
	}
}

func TestUpdateEnhancementsRewritesOnlyAttrs(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	tr := trial.NewTrial(0, nil, 0)
	tr.NumericEvents["bar"] = []buffer.NumericRow{{T: 0, V: []float64{1}}}
	if err := s.EmitTrial(tr, 0); err != nil {
		t.Fatalf("EmitTrial: %v", err)
	}

	newEnh := map[string]interface{}{"scale": 3.0}
	newCat := map[string][]string{"scale": {"derived"}}
	if err := s.UpdateEnhancements(0, newEnh, newCat); err != nil {
		t.Fatalf("UpdateEnhancements: %v", err)
	}

	got, err := s.ReadTrial(0)
	if err != nil {
		t.Fatalf("ReadTrial: %v", err)
	}
	if got.Enhancements["scale"].(float64) != 3.0 {
		t.Errorf("enhancements not rewritten: %+v", got.Enhancements)
	}
	if len(got.NumericEvents["bar"]) != 1 || got.NumericEvents["bar"][0].V[0] != 1 {
		t.Errorf("raw data changed by UpdateEnhancements: %+v", got.NumericEvents["bar"])
	}
}

func TestReadTrialReportsTruncatedWhenAttrsMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.ReadTrial(0); err == nil {
		t.Fatal("expected an error reading a trial that was never written")
	}
}

func TestOpenReplaysUnappliedWALEntry(t *testing.T) {
	dir := t.TempDir()

	// Simulate a crash: a trial was WAL-logged but never applied to
	// badger (the process died between the WAL append and the badger
	// write). Write directly to the WAL, bypassing EmitTrial.
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	codec := s.codec
	tr := trial.NewTrial(1.0, nil, 1.0)
	tr.NumericEvents["bar"] = []buffer.NumericRow{{T: 1.0, V: []float64{9}}}
	p, err := encodeTrial(codec, tr, 7)
	if err != nil {
		t.Fatalf("encodeTrial: %v", err)
	}
	s.Close()

	w, err := walcodec.Open(filepath.Join(dir, "wal"))
	if err != nil {
		t.Fatalf("walcodec.Open: %v", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := w.Append(7, data); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer s2.Close()

	got, err := s2.ReadTrial(7)
	if err != nil {
		t.Fatalf("ReadTrial after replay: %v", err)
	}
	if got.StartTime != 1.0 {
		t.Errorf("StartTime = %v, want 1.0", got.StartTime)
	}
	if math.Abs(got.NumericEvents["bar"][0].V[0]-9) > 1e-9 {
		t.Errorf("unexpected replayed value: %+v", got.NumericEvents["bar"])
	}
}
