package trial

import (
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/delimiter"
	"github.com/vjranagit/trialpipe/pkg/reader"
	"github.com/vjranagit/trialpipe/pkg/sync2"
)

// Source names one Neutral Zone buffer and the reader that owns it. Exactly
// one of Numeric, Text, Signal is non-nil.
type Source struct {
	Name       string
	ReaderName string
	Numeric    *buffer.NumericEventBuffer
	Text       *buffer.TextEventBuffer
	Signal     *buffer.SignalBuffer
}

// WRTConfig names the buffer, column, and value the extractor scans to
// find each window's within-relative-time anchor.
type WRTConfig struct {
	SourceName string
	Column     int
	Value      float64
}

// Extractor implements the Trial Extractor: given a readiness-checked
// window, snapshots every Neutral Zone source into a trial-local clock,
// runs enhancers, and hands the result to a sink.
type Extractor struct {
	Sources []Source
	WRT     WRTConfig
	Routers map[string]*reader.Router
	Sync    *sync2.Registry
	Enhance EnhancerPipeline
	Sink    Sink

	nextIndex int
}

// Ready reports whether window.End can safely be flushed: every reader's
// EndTime has reached it, or every reader is exhausted. A nil end (the
// final, still-open window) requires every reader to be exhausted.
func (e *Extractor) Ready(end *float64) bool {
	for _, rt := range e.Routers {
		if rt.Exhausted() {
			continue
		}
		if end == nil {
			return false
		}
		if rt.EndTime() < *end {
			return false
		}
	}
	return true
}

// Extract performs the seven-step extraction algorithm for one delimiter
// window, assuming the caller has already confirmed Ready(window.End).
func (e *Extractor) Extract(window delimiter.Window) (*Trial, error) {
	start := window.Start
	end := window.End

	wrtTime := e.resolveWRT(start, end)

	t := NewTrial(start, end, wrtTime)

	for _, src := range e.Sources {
		delta := e.Sync.OffsetAt(src.ReaderName, start)
		// ShiftNumericRows/ShiftTextRows/ShiftChunks subtract their
		// argument; trial-local time is reader_time + (delta - wrtTime),
		// so the subtrahend passed to them is the negation of that.
		shift := wrtTime - delta

		readerA := start - delta
		var readerB float64
		if end != nil {
			readerB = *end - delta
		} else {
			readerB = buffer.NegInf
		}

		switch {
		case src.Numeric != nil:
			var rows []buffer.NumericRow
			if end != nil {
				rows = src.Numeric.Query(readerA, readerB)
			} else {
				rows = src.Numeric.Query(readerA, src.Numeric.EndTime()+1)
			}
			t.NumericEvents[src.Name] = buffer.ShiftNumericRows(rows, shift)
		case src.Text != nil:
			var rows []buffer.TextRow
			if end != nil {
				rows = src.Text.Query(readerA, readerB)
			} else {
				rows = src.Text.Query(readerA, src.Text.EndTime()+1)
			}
			t.TextEvents[src.Name] = buffer.ShiftTextRows(rows, shift)
		case src.Signal != nil:
			var chunks []buffer.Chunk
			if end != nil {
				chunks = src.Signal.Query(readerA, readerB)
			} else {
				chunks = src.Signal.Query(readerA, src.Signal.EndTime()+1)
			}
			t.Signals[src.Name] = buffer.ShiftChunks(chunks, shift)
			t.SignalChannelIDs[src.Name] = src.Signal.ChannelIDs()
		}
	}

	if e.Enhance != nil {
		e.Enhance.RunAll(t, e.nextIndex)
	}

	if e.Sink != nil {
		if err := e.Sink.EmitTrial(t, e.nextIndex); err != nil {
			return t, err
		}
	}
	e.nextIndex++

	e.garbageCollect(start, end)

	return t, nil
}

// resolveWRT queries the designated WRT source in its own reader's clock,
// restricted to the window, and converts the first match (if any) into an
// absolute time in the reference clock. If no match is found, wrt_time is
// start_time itself — except for the pre-experiment trial 0, whose start
// is the NegInf sentinel and would make every shifted timestamp NegInf;
// trial 0 falls back to 0 instead.
func (e *Extractor) resolveWRT(start float64, end *float64) float64 {
	fallback := start
	if start == buffer.NegInf {
		fallback = 0
	}

	for _, src := range e.Sources {
		if src.Name != e.WRT.SourceName || src.Numeric == nil {
			continue
		}
		delta := e.Sync.OffsetAt(src.ReaderName, start)
		readerA := start - delta
		var readerB float64
		if end != nil {
			readerB = *end - delta
		} else {
			readerB = src.Numeric.EndTime() + 1
		}
		rows := src.Numeric.Query(readerA, readerB)
		if t, found := delimiter.WRTSelector(rows, e.WRT.Column, e.WRT.Value); found {
			return t + delta
		}
		break
	}
	return fallback
}

// garbageCollect instructs every source buffer to discard data that no
// future trial can reach, since trials are produced in strict start-time
// order.
func (e *Extractor) garbageCollect(start float64, end *float64) {
	cut := start
	if end != nil && *end-1.0 < cut {
		cut = *end - 1.0
	}
	for _, src := range e.Sources {
		switch {
		case src.Numeric != nil:
			src.Numeric.DiscardBefore(cut)
		case src.Text != nil:
			src.Text.DiscardBefore(cut)
		case src.Signal != nil:
			src.Signal.DiscardBefore(cut)
		}
	}
}
