// Package delimiter implements the Trial Delimiter: a small state machine
// that walks a designated buffer's appended rows looking for a start value
// and turns the matches into a sequence of half-open trial windows.
package delimiter

import (
	"github.com/vjranagit/trialpipe/pkg/buffer"
)

// Window is one delimited trial window. End is nil for the final, still-open
// window emitted at end of stream.
type Window struct {
	Start float64
	End   *float64
}

// state is the delimiter's internal phase.
type state int

const (
	stateInit state = iota
	stateOpen
	stateDone
)

// Delimiter watches one numeric-event buffer column for a start value and
// emits windows as new matches arrive. It never re-reads rows it has already
// consumed; each call to Advance only looks at rows appended since the last
// call.
type Delimiter struct {
	bufferName string
	column     int
	startValue float64

	st       state
	tPrev    float64
	consumed int
	emitted0 bool
}

// New creates a Delimiter watching column (0-indexed into a row's value
// slice, default 0) of bufferName for rows equal to startValue.
func New(bufferName string, column int, startValue float64) *Delimiter {
	return &Delimiter{
		bufferName: bufferName,
		column:     column,
		startValue: startValue,
		st:         stateInit,
	}
}

// Advance scans rows newly appended to the designated buffer and returns any
// windows that can now be emitted. rows must be the buffer's full current
// content in timestamp order; the Delimiter tracks how many it has already
// consumed internally, so callers may pass the same growing slice every
// cycle.
func (d *Delimiter) Advance(rows []buffer.NumericRow) []Window {
	if d.st == stateDone {
		return nil
	}

	var windows []Window
	for ; d.consumed < len(rows); d.consumed++ {
		row := rows[d.consumed]
		if d.column >= len(row.V) || row.V[d.column] != d.startValue {
			continue
		}
		switch d.st {
		case stateInit:
			if !d.emitted0 {
				end := row.T
				windows = append(windows, Window{Start: buffer.NegInf, End: &end})
				d.emitted0 = true
			}
			d.st = stateOpen
			d.tPrev = row.T
		case stateOpen:
			end := row.T
			windows = append(windows, Window{Start: d.tPrev, End: &end})
			d.tPrev = row.T
		}
	}
	return windows
}

// Finish signals end of stream: the start buffer's owning reader is
// exhausted and no further matches will ever arrive. It returns the final
// open-ended window, or the Trial 0 window if no start event was ever seen.
func (d *Delimiter) Finish() []Window {
	if d.st == stateDone {
		return nil
	}
	var windows []Window
	switch d.st {
	case stateInit:
		if !d.emitted0 {
			windows = append(windows, Window{Start: buffer.NegInf, End: nil})
			d.emitted0 = true
		}
	case stateOpen:
		windows = append(windows, Window{Start: d.tPrev, End: nil})
	}
	d.st = stateDone
	return windows
}

// Done reports whether Finish has been called.
func (d *Delimiter) Done() bool { return d.st == stateDone }

// WRTSelector locates the within-window-relative-time anchor: the first row
// in wrtRows (already restricted to the window by the caller) whose
// designated column equals wrtValue, ties broken by earliest timestamp since
// rows are time-ordered and the first match is returned.
func WRTSelector(wrtRows []buffer.NumericRow, column int, wrtValue float64) (wrtTime float64, found bool) {
	for _, row := range wrtRows {
		if column < len(row.V) && row.V[column] == wrtValue {
			return row.T, true
		}
	}
	return 0, false
}
