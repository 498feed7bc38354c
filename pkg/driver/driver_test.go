package driver

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/delimiter"
	"github.com/vjranagit/trialpipe/pkg/enhance"
	"github.com/vjranagit/trialpipe/pkg/reader"
	"github.com/vjranagit/trialpipe/pkg/sink/jsonl"
	"github.com/vjranagit/trialpipe/pkg/sync2"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// queuedReader replays a fixed sequence of per-cycle results, then reports
// end of stream.
type queuedReader struct {
	results []map[string]reader.BufferPiece
	pos     int
}

func (q *queuedReader) ReadNext(ctx context.Context) (map[string]reader.BufferPiece, error) {
	if q.pos >= len(q.results) {
		return nil, reader.ErrEndOfStream
	}
	r := q.results[q.pos]
	q.pos++
	return r, nil
}

func numericPiece(t float64, v float64) reader.BufferPiece {
	return reader.BufferPiece{Variety: reader.VarietyNumeric, Numeric: []buffer.NumericRow{{T: t, V: []float64{v}}}}
}

func textPiece(t float64, text string) reader.BufferPiece {
	return reader.BufferPiece{Variety: reader.VarietyText, Text: []buffer.TextRow{{T: t, Text: text}}}
}

func TestDriverRunExtractsEveryWindowAndWritesSummary(t *testing.T) {
	codes := buffer.NewNumericEventBuffer("codes")
	foo := buffer.NewTextEventBuffer("foo")

	q := &queuedReader{results: []map[string]reader.BufferPiece{
		{"codes": numericPiece(0.5, 1)},
		{"codes": numericPiece(0.6, 2)},
		{"foo": textPiece(0.55, "a")},
		{"codes": numericPiece(1.5, 1)},
		{"codes": numericPiece(1.6, 2)},
		{"foo": textPiece(1.55, "b")},
		{"codes": numericPiece(2.5, 1)},
		{"codes": numericPiece(2.6, 2)},
		{"foo": textPiece(2.55, "c")},
	}}

	rt := reader.NewRouter("r", q, map[string]reader.PrimaryTarget{
		"codes": reader.NumericTarget{Buf: codes},
		"foo":   reader.TextTarget{Buf: foo},
	}, nil)

	dir := t.TempDir()
	sink, err := jsonl.Open(filepath.Join(dir, "trials.jsonl"))
	if err != nil {
		t.Fatalf("jsonl.Open: %v", err)
	}

	reg := sync2.NewRegistry("r")
	extractor := &trial.Extractor{
		Sources: []trial.Source{
			{Name: "codes", ReaderName: "r", Numeric: codes},
			{Name: "foo", ReaderName: "r", Text: foo},
		},
		WRT:     trial.WRTConfig{SourceName: "codes", Column: 0, Value: 2},
		Routers: map[string]*reader.Router{"r": rt},
		Sync:    reg,
		Sink:    sink,
	}

	d := &Driver{
		Routers:         map[string]*reader.Router{"r": rt},
		Delimiter:       delimiter.New("codes", 0, 1),
		DelimiterSource: codes,
		Sync:            reg,
		Extractor:       extractor,
		Collecters:      []enhance.Collecter{enhance.RunSummary{}},
	}

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	trials, err := jsonl.ReadTrials(filepath.Join(dir, "trials.jsonl"))
	if err != nil {
		t.Fatalf("ReadTrials: %v", err)
	}
	if len(trials) != 4 {
		t.Fatalf("expected 4 trials (trial 0 + 2 closed + 1 final), got %d", len(trials))
	}

	// Trial 0: (-inf, 0.5), no wrt marker in range, falls back to 0.
	if trials[0].WRTTime != 0 {
		t.Errorf("trial 0 WRTTime = %v, want 0", trials[0].WRTTime)
	}

	// Trials 1-3 each contain their own start marker and wrt marker,
	// shifted to -0.1 and 0.0 respectively, plus one text row at -0.05.
	for i := 1; i < 4; i++ {
		tr := trials[i]
		rows := tr.NumericEvents["codes"]
		if len(rows) != 2 {
			t.Fatalf("trial %d: expected 2 codes rows, got %d: %+v", i, len(rows), rows)
		}
		if !almostEqual(rows[0].T, -0.1) || !almostEqual(rows[1].T, 0.0) {
			t.Errorf("trial %d: codes rows = %+v, want [-0.1, 0.0]", i, rows)
		}
		textRows := tr.TextEvents["foo"]
		if len(textRows) != 1 || !almostEqual(textRows[0].T, -0.05) {
			t.Errorf("trial %d: text rows = %+v, want [-0.05]", i, textRows)
		}
	}
	if trials[3].EndTime != nil {
		t.Errorf("final trial EndTime = %v, want nil (still open)", trials[3].EndTime)
	}

	summaryPath := filepath.Join(dir, "trials.jsonl.summary.json")
	data, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("reading summary sidecar: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty run summary sidecar")
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// alwaysFailingSink simulates a sink that has already exhausted its own
// single retry (perrors.Retry's contract lives in the sink, not here) and
// reports every emit as a fatal KindSinkFailure.
type alwaysFailingSink struct{}

func (alwaysFailingSink) EmitTrial(t *trial.Trial, trialIndex int) error {
	return perrors.New(perrors.KindSinkFailure, "sink exhausted its retry")
}

func TestDriverDrainsToSecondaryLogOnFatalSinkFailure(t *testing.T) {
	codes := buffer.NewNumericEventBuffer("codes")

	q := &queuedReader{results: []map[string]reader.BufferPiece{
		{"codes": numericPiece(0.5, 1)},
		{"codes": numericPiece(1.5, 1)},
	}}

	rt := reader.NewRouter("r", q, map[string]reader.PrimaryTarget{
		"codes": reader.NumericTarget{Buf: codes},
	}, nil)

	dir := t.TempDir()
	secondaryPath := filepath.Join(dir, "secondary.jsonl")
	secondary, err := jsonl.Open(secondaryPath)
	if err != nil {
		t.Fatalf("jsonl.Open secondary: %v", err)
	}

	reg := sync2.NewRegistry("r")
	extractor := &trial.Extractor{
		Sources: []trial.Source{{Name: "codes", ReaderName: "r", Numeric: codes}},
		WRT:     trial.WRTConfig{SourceName: "codes", Column: 0, Value: 1},
		Routers: map[string]*reader.Router{"r": rt},
		Sync:    reg,
		Sink:    alwaysFailingSink{},
	}

	d := &Driver{
		Routers:         map[string]*reader.Router{"r": rt},
		Delimiter:       delimiter.New("codes", 0, 1),
		DelimiterSource: codes,
		Sync:            reg,
		Extractor:       extractor,
		SecondaryLog:    secondary,
	}

	runErr := d.Run(context.Background())
	if runErr == nil {
		t.Fatal("expected Run to fail once the sink fails fatally")
	}
	if !perrors.Fatal(runErr) {
		t.Errorf("Run error = %v, want a fatal error", runErr)
	}
	if err := secondary.Close(); err != nil {
		t.Fatalf("Close secondary: %v", err)
	}

	trials, err := jsonl.ReadTrials(secondaryPath)
	if err != nil {
		t.Fatalf("ReadTrials secondary: %v", err)
	}
	if len(trials) == 0 {
		t.Fatal("expected at least one in-flight trial drained to the secondary log")
	}
}

func TestDriverDropsInFlightTrialWhenNoSecondaryLogConfigured(t *testing.T) {
	codes := buffer.NewNumericEventBuffer("codes")

	q := &queuedReader{results: []map[string]reader.BufferPiece{
		{"codes": numericPiece(0.5, 1)},
	}}

	rt := reader.NewRouter("r", q, map[string]reader.PrimaryTarget{
		"codes": reader.NumericTarget{Buf: codes},
	}, nil)

	reg := sync2.NewRegistry("r")
	extractor := &trial.Extractor{
		Sources: []trial.Source{{Name: "codes", ReaderName: "r", Numeric: codes}},
		WRT:     trial.WRTConfig{SourceName: "codes", Column: 0, Value: 1},
		Routers: map[string]*reader.Router{"r": rt},
		Sync:    reg,
		Sink:    alwaysFailingSink{},
	}

	d := &Driver{
		Routers:         map[string]*reader.Router{"r": rt},
		Delimiter:       delimiter.New("codes", 0, 1),
		DelimiterSource: codes,
		Sync:            reg,
		Extractor:       extractor,
	}

	// No SecondaryLog configured; Run must still fail fatally rather than
	// panic on the nil log.
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected Run to fail once the sink fails fatally")
	}
}
