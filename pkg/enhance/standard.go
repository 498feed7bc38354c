package enhance

import (
	"fmt"
	"math"

	"github.com/vjranagit/trialpipe/internal/exprlang"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// Duration writes enhancements["duration"] = end - start. The final trial
// (end == nil) yields no duration value.
type Duration struct {
	EnhancementName string
}

// NewDuration returns a Duration enhancer writing under "duration".
func NewDuration() *Duration { return &Duration{EnhancementName: "duration"} }

// Name implements Enhancer.
func (d *Duration) Name() string { return "duration" }

// Enhance implements Enhancer.
func (d *Duration) Enhance(t *trial.Trial) error {
	dur := t.Duration()
	if dur == nil {
		return nil
	}
	t.Enhancements[d.EnhancementName] = *dur
	return nil
}

// Smoother replaces a named signal's samples with a boxcar-filtered copy,
// operating on the trial's own copy only — never the live buffer.
type Smoother struct {
	SignalName string
	WindowSize int
}

// Name implements Enhancer.
func (s *Smoother) Name() string { return fmt.Sprintf("smooth(%s)", s.SignalName) }

// Enhance implements Enhancer.
func (s *Smoother) Enhance(t *trial.Trial) error {
	if s.WindowSize < 1 {
		return fmt.Errorf("enhance: smoother window size must be >= 1, got %d", s.WindowSize)
	}
	chunks, ok := t.Signals[s.SignalName]
	if !ok {
		return fmt.Errorf("enhance: no such signal %q on trial", s.SignalName)
	}
	smoothed := make([]buffer.Chunk, len(chunks))
	for i, c := range chunks {
		smoothed[i] = boxcar(c, s.WindowSize)
	}
	t.Signals[s.SignalName] = smoothed
	return nil
}

// boxcar returns a copy of c with every channel replaced by its centered
// moving average over window samples, edge-truncated rather than padded.
func boxcar(c buffer.Chunk, window int) buffer.Chunk {
	n := c.N()
	if n == 0 || window <= 1 {
		return c.Clone()
	}
	channels := 0
	if n > 0 {
		channels = len(c.X[0])
	}
	out := make([][]float64, n)
	half := window / 2
	for i := 0; i < n; i++ {
		lo := i - half
		hi := i + (window - half) - 1
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		row := make([]float64, channels)
		count := float64(hi - lo + 1)
		for j := lo; j <= hi; j++ {
			for ch := 0; ch < channels; ch++ {
				row[ch] += c.X[j][ch]
			}
		}
		for ch := 0; ch < channels; ch++ {
			row[ch] /= count
		}
		out[i] = row
	}
	return buffer.Chunk{T0: c.T0, F: c.F, X: out}
}

// Expression evaluates a configured expression over the trial's contents
// (via Env) and stores the result under EnhancementName.
type Expression struct {
	EnhancementName string
	Program         *exprlang.Program
}

// NewExpression compiles source once and returns an Expression enhancer
// writing under name.
func NewExpression(name, source string) (*Expression, error) {
	prog, err := exprlang.Compile(source)
	if err != nil {
		return nil, err
	}
	return &Expression{EnhancementName: name, Program: prog}, nil
}

// Name implements Enhancer.
func (e *Expression) Name() string { return e.EnhancementName }

// Enhance implements Enhancer.
func (e *Expression) Enhance(t *trial.Trial) error {
	v, err := e.Program.Run(Env(t))
	if err != nil {
		return err
	}
	t.Enhancements[e.EnhancementName] = v
	return nil
}

// EventTimes collects every timestamp of a named numeric source where a
// designated column equals a target value. It is the "event-times"
// domain-specific adapter the core just invokes: which source, column,
// and value to watch is entirely configuration-driven.
type EventTimes struct {
	EnhancementName string
	SourceName      string
	Column          int
	Value           float64
}

// Name implements Enhancer.
func (e *EventTimes) Name() string { return e.EnhancementName }

// Enhance implements Enhancer.
func (e *EventTimes) Enhance(t *trial.Trial) error {
	rows, ok := t.NumericEvents[e.SourceName]
	if !ok {
		return fmt.Errorf("enhance: no such numeric source %q on trial", e.SourceName)
	}
	var times []float64
	for _, row := range rows {
		if e.Column < len(row.V) && row.V[e.Column] == e.Value {
			times = append(times, row.T)
		}
	}
	t.Enhancements[e.EnhancementName] = times
	return nil
}

// PairedCodes pairs each occurrence of StartValue in a named numeric
// source with the next occurrence of EndValue, producing onset/offset
// pairs as the enhancement value. A start with no matching end, or an
// end with no pending start, is dropped rather than guessed at.
type PairedCodes struct {
	EnhancementName string
	SourceName      string
	Column          int
	StartValue      float64
	EndValue        float64
}

// Name implements Enhancer.
func (p *PairedCodes) Name() string { return p.EnhancementName }

// Enhance implements Enhancer.
func (p *PairedCodes) Enhance(t *trial.Trial) error {
	rows, ok := t.NumericEvents[p.SourceName]
	if !ok {
		return fmt.Errorf("enhance: no such numeric source %q on trial", p.SourceName)
	}
	var pairs [][2]float64
	var onset *float64
	for _, row := range rows {
		if p.Column >= len(row.V) {
			continue
		}
		switch v := row.V[p.Column]; {
		case v == p.StartValue:
			start := row.T
			onset = &start
		case v == p.EndValue && onset != nil:
			pairs = append(pairs, [2]float64{*onset, row.T})
			onset = nil
		}
	}
	t.Enhancements[p.EnhancementName] = pairs
	return nil
}

// Saccade flags samples of a named signal's first channel whose
// sample-to-sample velocity meets or exceeds a threshold (in absolute
// value), storing their times as
// the enhancement value. It is a minimal stand-in for a real saccade
// detector, in the same "domain-specific adapter" shape as EventTimes and
// PairedCodes.
type Saccade struct {
	EnhancementName   string
	SignalName        string
	VelocityThreshold float64
}

// Name implements Enhancer.
func (s *Saccade) Name() string { return s.EnhancementName }

// Enhance implements Enhancer.
func (s *Saccade) Enhance(t *trial.Trial) error {
	chunks, ok := t.Signals[s.SignalName]
	if !ok {
		return fmt.Errorf("enhance: no such signal %q on trial", s.SignalName)
	}
	var times []float64
	for _, c := range chunks {
		if c.F <= 0 {
			continue
		}
		dt := 1.0 / c.F
		for i := 1; i < c.N(); i++ {
			if len(c.X[i]) == 0 || len(c.X[i-1]) == 0 {
				continue
			}
			v := (c.X[i][0] - c.X[i-1][0]) / dt
			if math.Abs(v) >= s.VelocityThreshold {
				times = append(times, c.T0+float64(i)*dt)
			}
		}
	}
	t.Enhancements[s.EnhancementName] = times
	return nil
}
