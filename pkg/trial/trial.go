// Package trial implements the Trial Extractor: turning delimiter windows
// into populated Trial records, shifted into each trial's own local time
// origin, enhanced, and handed to a sink.
package trial

import (
	"github.com/vjranagit/trialpipe/pkg/buffer"
)

// Trial is one extracted, possibly still-being-enhanced experimental
// window.
type Trial struct {
	StartTime float64
	EndTime   *float64
	WRTTime   float64

	NumericEvents     map[string][]buffer.NumericRow
	TextEvents        map[string][]buffer.TextRow
	Signals           map[string][]buffer.Chunk
	SignalChannelIDs  map[string][]string

	Enhancements          map[string]interface{}
	EnhancementCategories map[string][]string
}

// NewTrial returns a Trial with all maps initialized and empty, as step 5
// of extraction requires ("enhancements starts empty").
func NewTrial(startTime float64, endTime *float64, wrtTime float64) *Trial {
	return &Trial{
		StartTime:             startTime,
		EndTime:               endTime,
		WRTTime:               wrtTime,
		NumericEvents:         make(map[string][]buffer.NumericRow),
		TextEvents:            make(map[string][]buffer.TextRow),
		Signals:               make(map[string][]buffer.Chunk),
		SignalChannelIDs:      make(map[string][]string),
		Enhancements:          make(map[string]interface{}),
		EnhancementCategories: make(map[string][]string),
	}
}

// Duration returns End - Start, or nil if End is still open.
func (t *Trial) Duration() *float64 {
	if t.EndTime == nil {
		return nil
	}
	d := *t.EndTime - t.StartTime
	return &d
}

// EnhancerPipeline runs the configured enhancer list against a trial,
// catching and logging any individual enhancer's failure so the run
// continues with whatever enhancements completed before the failure.
type EnhancerPipeline interface {
	RunAll(trial *Trial, trialIndex int)
}

// Sink receives finished trials in strict emission order.
type Sink interface {
	EmitTrial(trial *Trial, trialIndex int) error
}
