package enhance

import (
	"fmt"
	"math"

	"github.com/vjranagit/trialpipe/pkg/trial"
)

// Normalizer computes a single rescaling factor for a named signal across
// the whole emitted trial sequence, 1 / global_max, where global_max is the
// largest absolute sample value seen across every trial. It records that
// factor as an enhancement on each trial carrying the signal and surfaces
// it as a run-level summary; the samples themselves are left unscaled.
type Normalizer struct {
	SignalName string
}

// Name implements Collecter.
func (n *Normalizer) Name() string { return fmt.Sprintf("normalize(%s)", n.SignalName) }

// Run implements Collecter. Only enhancements are modified; raw signal
// samples and timing are never touched — rescaling is recorded as an
// enhancement, not applied in place to the signal.
func (n *Normalizer) Run(trials []*trial.Trial) (interface{}, error) {
	globalMax := 0.0
	for _, t := range trials {
		chunks, ok := t.Signals[n.SignalName]
		if !ok {
			continue
		}
		for _, c := range chunks {
			for _, row := range c.X {
				for _, v := range row {
					if a := math.Abs(v); a > globalMax {
						globalMax = a
					}
				}
			}
		}
	}
	if globalMax == 0 {
		return nil, nil
	}
	factor := 1.0 / globalMax

	for _, t := range trials {
		if _, ok := t.Signals[n.SignalName]; !ok {
			continue
		}
		t.Enhancements[n.Name()+"_factor"] = factor
	}
	return factor, nil
}

// RunSummary computes a simple run-level summary (trial count and total
// duration) without modifying any trial, demonstrating the "global
// summary produced alongside per-trial rewrite" collecter shape.
type RunSummary struct{}

// Name implements Collecter.
func (RunSummary) Name() string { return "run_summary" }

// Run implements Collecter.
func (RunSummary) Run(trials []*trial.Trial) (interface{}, error) {
	total := 0.0
	for _, t := range trials {
		if d := t.Duration(); d != nil {
			total += *d
		}
	}
	return map[string]interface{}{
		"trial_count":    len(trials),
		"total_duration": total,
	}, nil
}
