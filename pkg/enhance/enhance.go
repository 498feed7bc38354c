// Package enhance implements the enhancer/collecter pipeline: a per-trial
// ordered list of enhancers, each optionally guarded by a `when`
// expression, and an end-of-run list of collecters that rewrite already
// emitted trials' enhancements.
package enhance

import (
	"log"

	"github.com/vjranagit/trialpipe/internal/exprlang"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// Enhancer computes zero or more named enhancement values from a trial's
// contents (including any prior enhancer's output in the same pass) and
// writes them into the trial.
type Enhancer interface {
	Name() string
	Enhance(t *trial.Trial) error
}

// Entry pairs an Enhancer with its optional `when` guard.
type Entry struct {
	Enhancer Enhancer
	When     *exprlang.Program
}

// Pipeline runs an ordered Enhancer list against each trial, implementing
// trial.EnhancerPipeline.
type Pipeline struct {
	Entries []Entry
}

// RunAll implements trial.EnhancerPipeline. Each enhancer's failure is
// caught, logged with the trial index and enhancer name, and does not
// stop the remaining enhancers or abort the trial.
func (p *Pipeline) RunAll(t *trial.Trial, trialIndex int) {
	for _, entry := range p.Entries {
		if entry.When != nil {
			ok, err := entry.When.RunBool(Env(t))
			if err != nil {
				log.Printf("trial %d: enhancer %q: when-expression failed: %v", trialIndex, entry.Enhancer.Name(), err)
				continue
			}
			if !ok {
				continue
			}
		}
		if err := entry.Enhancer.Enhance(t); err != nil {
			log.Printf("trial %d: enhancer %q failed, continuing with partial enhancements: %v", trialIndex, entry.Enhancer.Name(), err)
		}
	}
}

// Env builds the expression-evaluator environment for when-predicates and
// the Expression enhancer: trial timing plus a read-only view of
// enhancements computed so far.
func Env(t *trial.Trial) map[string]interface{} {
	env := map[string]interface{}{
		"start":   t.StartTime,
		"wrt":     t.WRTTime,
		"end":     nil,
		"enhance": toInterfaceMap(t.Enhancements),
	}
	if t.EndTime != nil {
		env["end"] = *t.EndTime
	}
	for k, v := range t.Enhancements {
		if _, exists := env[k]; !exists {
			env[k] = v
		}
	}
	return env
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Collecter runs once at end-of-run against the full, already-emitted
// trial sequence. It may rewrite each trial's enhancements in place and
// may also return a run-level summary value, attached to the sink's run
// header rather than any one trial.
type Collecter interface {
	Name() string
	Run(trials []*trial.Trial) (summary interface{}, err error)
}

// RunCollecters runs each collecter in order against trials, logging and
// continuing past any individual failure, and returns the name→summary
// map of every collecter that produced one.
func RunCollecters(collecters []Collecter, trials []*trial.Trial) map[string]interface{} {
	summaries := make(map[string]interface{})
	for _, c := range collecters {
		summary, err := c.Run(trials)
		if err != nil {
			log.Printf("collecter %q failed: %v", c.Name(), err)
			continue
		}
		if summary != nil {
			summaries[c.Name()] = summary
		}
	}
	return summaries
}
