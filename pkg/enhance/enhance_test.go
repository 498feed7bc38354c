package enhance

import (
	"fmt"
	"testing"

	"github.com/vjranagit/trialpipe/internal/exprlang"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

func mkTrial(start float64, end *float64) *trial.Trial {
	return trial.NewTrial(start, end, 0)
}

func TestDurationEnhancerWritesDuration(t *testing.T) {
	end := 3.5
	tr := mkTrial(1.0, &end)
	d := NewDuration()
	if err := d.Enhance(tr); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if tr.Enhancements["duration"] != 2.5 {
		t.Fatalf("duration = %v, want 2.5", tr.Enhancements["duration"])
	}
}

func TestDurationEnhancerSkipsFinalTrial(t *testing.T) {
	tr := mkTrial(1.0, nil)
	d := NewDuration()
	if err := d.Enhance(tr); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if _, ok := tr.Enhancements["duration"]; ok {
		t.Fatal("expected no duration on a still-open final trial")
	}
}

type failingEnhancer struct{}

func (failingEnhancer) Name() string { return "boom" }
func (failingEnhancer) Enhance(t *trial.Trial) error {
	return fmt.Errorf("simulated failure")
}

func TestPipelineContinuesPastEnhancerFailure(t *testing.T) {
	end := 2.0
	tr := mkTrial(0.0, &end)
	p := &Pipeline{Entries: []Entry{
		{Enhancer: NewDuration()},
		{Enhancer: failingEnhancer{}},
		{Enhancer: &namedConst{name: "after", v: 1.0}},
	}}
	p.RunAll(tr, 7)

	if tr.Enhancements["duration"] != 2.0 {
		t.Fatalf("duration = %v, want 2.0", tr.Enhancements["duration"])
	}
	if tr.Enhancements["after"] != 1.0 {
		t.Fatal("expected enhancer after the failing one to still run")
	}
	if _, ok := tr.Enhancements["boom"]; ok {
		t.Fatal("failing enhancer should not have written anything")
	}
}

type namedConst struct {
	name string
	v    interface{}
}

func (n *namedConst) Name() string { return n.name }
func (n *namedConst) Enhance(t *trial.Trial) error {
	t.Enhancements[n.name] = n.v
	return nil
}

func TestWhenPredicateGatesEnhancer(t *testing.T) {
	end := 5.0
	tr := mkTrial(0.0, &end)
	prog, err := exprlang.Compile("duration > 10")
	if err != nil {
		t.Fatalf("compileWhen: %v", err)
	}
	p := &Pipeline{Entries: []Entry{
		{Enhancer: NewDuration()},
		{Enhancer: &namedConst{name: "long_trial_flag", v: true}, When: prog},
	}}
	p.RunAll(tr, 0)

	if _, ok := tr.Enhancements["long_trial_flag"]; ok {
		t.Fatal("expected when=false to skip the enhancer")
	}
}

func TestExpressionEnhancerStoresResult(t *testing.T) {
	end := 5.0
	tr := mkTrial(1.0, &end)
	e, err := NewExpression("span", "end - start")
	if err != nil {
		t.Fatalf("NewExpression: %v", err)
	}
	if err := e.Enhance(tr); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if tr.Enhancements["span"] != 4.0 {
		t.Fatalf("span = %v, want 4.0", tr.Enhancements["span"])
	}
}

func TestSmootherAveragesChannelsWithinWindow(t *testing.T) {
	end := 1.0
	tr := mkTrial(0.0, &end)
	tr.Signals["sig"] = []buffer.Chunk{{
		T0: 0, F: 10,
		X: [][]float64{{0}, {10}, {20}, {10}, {0}},
	}}
	sm := &Smoother{SignalName: "sig", WindowSize: 3}
	if err := sm.Enhance(tr); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	got := tr.Signals["sig"][0].X
	// Interior sample 2 (index 2, value 20) averages with neighbors 10,20,10 -> 40/3.
	want := (10.0 + 20.0 + 10.0) / 3.0
	if diff := got[2][0] - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("got[2][0] = %v, want %v", got[2][0], want)
	}
}

func TestNormalizerComputesGlobalMaxFactor(t *testing.T) {
	end1, end2 := 1.0, 2.0
	t1 := mkTrial(0.0, &end1)
	t1.Signals["sig"] = []buffer.Chunk{{T0: 0, F: 10, X: [][]float64{{2}, {4}}}}
	t2 := mkTrial(1.0, &end2)
	t2.Signals["sig"] = []buffer.Chunk{{T0: 1, F: 10, X: [][]float64{{8}, {-10}}}}

	n := &Normalizer{SignalName: "sig"}
	summary, err := n.Run([]*trial.Trial{t1, t2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary != 0.1 {
		t.Fatalf("summary factor = %v, want 0.1", summary)
	}
	if t1.Enhancements[n.Name()+"_factor"] != 0.1 {
		t.Fatalf("t1 factor = %v, want 0.1", t1.Enhancements[n.Name()+"_factor"])
	}
}

func TestRunCollectersCollectsSummariesAndSkipsFailures(t *testing.T) {
	end := 2.0
	tr := mkTrial(0.0, &end)
	summaries := RunCollecters([]Collecter{RunSummary{}}, []*trial.Trial{tr})
	got, ok := summaries["run_summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected run_summary entry, got %+v", summaries)
	}
	if got["trial_count"] != 1 {
		t.Fatalf("trial_count = %v, want 1", got["trial_count"])
	}
}
