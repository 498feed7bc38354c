// Package buffer implements the Neutral Zone: the shared, typed,
// time-ordered containers that every reader writes into and every other
// component reads from.
//
// A buffer is identified by its variety (numeric event, text event, or
// chunked signal) together with a name; the same name may be reused across
// varieties without collision because callers always hold a concrete typed
// buffer, never a name alone.
//
// Every buffer enforces one invariant regardless of variety: appended data
// is never allowed to move the buffer's tail backwards beyond a small,
// bounded reorder tolerance. Query results are always detached copies, so
// ShiftTimes never touches live storage.
package buffer

import "math"

// NegInf is the sentinel "beginning of time" used for the pre-experiment
// Trial 0 window and for EndTime on an empty buffer.
var NegInf = math.Inf(-1)

// ReorderWindow bounds how far back a late row may land. Rows are stored as
// soon as they are appended; nothing is held back. A row earlier than the
// current tail is inserted in time order if it is not earlier than the row
// ReorderWindow positions from the tail, and is rejected as OutOfOrder
// otherwise rather than silently dropped.
const ReorderWindow = 8

// Buffer is the minimal contract shared by all three Neutral Zone
// varieties. Concrete buffers (NumericEventBuffer, TextEventBuffer,
// SignalBuffer) expose richer, typed Append/Query methods; Buffer exists so
// generic code (the Router's discard sweep, the Extractor's
// end-time-readiness check) can treat any buffer uniformly.
type Buffer interface {
	// EndTime returns the timestamp of the last appended row or sample,
	// or NegInf if the buffer has never received data.
	EndTime() float64
	// DiscardBefore drops all data strictly earlier than t. Safe to call
	// repeatedly; it is a no-op once nothing earlier than t remains.
	DiscardBefore(t float64)
	// Len reports the number of rows (events) or chunks (signal) currently
	// retained, for diagnostics and tests.
	Len() int
}
