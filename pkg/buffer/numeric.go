package buffer

import (
	"fmt"
	"sort"

	"github.com/vjranagit/trialpipe/internal/perrors"
)

// NumericRow is one row of a Numeric Event Buffer: an absolute timestamp
// plus a fixed-arity value tuple.
type NumericRow struct {
	T float64
	V []float64
}

// Clone returns a detached copy of the row.
func (r NumericRow) Clone() NumericRow {
	v := make([]float64, len(r.V))
	copy(v, r.V)
	return NumericRow{T: r.T, V: v}
}

// NumericEventBuffer is an ordered, arity-fixed sequence of (t, v...) rows.
// Arity is fixed on first Append and enforced on every subsequent one.
type NumericEventBuffer struct {
	name  string
	arity int
	rows  []NumericRow
}

// NewNumericEventBuffer creates an empty numeric event buffer. Arity is
// determined by the first Append call.
func NewNumericEventBuffer(name string) *NumericEventBuffer {
	return &NumericEventBuffer{name: name}
}

// Name returns the buffer's name within its variety.
func (b *NumericEventBuffer) Name() string { return b.name }

// Arity returns the fixed value-tuple width, or 0 if the buffer has never
// been populated.
func (b *NumericEventBuffer) Arity() int { return b.arity }

// Append adds rows to the tail of the buffer. Rows within a call need not
// be pre-sorted, but the whole call must not push data earlier than the
// buffer can absorb via ReorderWindow. A row that violates this is dropped
// on its own and the rest of the call is still appended; the first such
// violation is returned as perrors.KindOutOfOrder so the caller can report
// it (Router logs it). An arity mismatch aborts the call.
func (b *NumericEventBuffer) Append(rows []NumericRow) error {
	var firstErr error
	for _, r := range rows {
		if b.arity == 0 && len(r.V) > 0 {
			b.arity = len(r.V)
		}
		if b.arity != 0 && len(r.V) != b.arity {
			return perrors.New(perrors.KindConfig,
				fmt.Sprintf("buffer %q: row arity %d does not match fixed arity %d", b.name, len(r.V), b.arity))
		}
		if err := b.insertSorted(r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *NumericEventBuffer) insertSorted(r NumericRow) error {
	n := len(b.rows)
	if n == 0 || r.T >= b.rows[n-1].T {
		b.rows = append(b.rows, r)
		return nil
	}

	lo := n - ReorderWindow
	if lo < 0 {
		lo = 0
	}
	if lo > 0 && r.T < b.rows[lo].T {
		return perrors.Wrapf(perrors.KindOutOfOrder, errOutOfOrder,
			"buffer %q: row t=%v precedes reorder window starting at t=%v", b.name, r.T, b.rows[lo].T)
	}

	idx := lo + sort.Search(n-lo, func(i int) bool { return b.rows[lo+i].T > r.T })
	b.rows = append(b.rows, NumericRow{})
	copy(b.rows[idx+1:], b.rows[idx:n])
	b.rows[idx] = r
	return nil
}

// Query returns a detached copy of rows with a <= t < b.
func (b *NumericEventBuffer) Query(a, end float64) []NumericRow {
	lo := sort.Search(len(b.rows), func(i int) bool { return b.rows[i].T >= a })
	hi := sort.Search(len(b.rows), func(i int) bool { return b.rows[i].T >= end })
	out := make([]NumericRow, hi-lo)
	for i := lo; i < hi; i++ {
		out[i-lo] = b.rows[i].Clone()
	}
	return out
}

// DiscardBefore drops rows strictly earlier than t.
func (b *NumericEventBuffer) DiscardBefore(t float64) {
	idx := sort.Search(len(b.rows), func(i int) bool { return b.rows[i].T >= t })
	if idx == 0 {
		return
	}
	remaining := make([]NumericRow, len(b.rows)-idx)
	copy(remaining, b.rows[idx:])
	b.rows = remaining
}

// EndTime returns the timestamp of the last row, or NegInf if empty.
func (b *NumericEventBuffer) EndTime() float64 {
	if len(b.rows) == 0 {
		return NegInf
	}
	return b.rows[len(b.rows)-1].T
}

// Len returns the number of retained rows.
func (b *NumericEventBuffer) Len() int { return len(b.rows) }

// ShiftNumericRows subtracts delta from every row's timestamp in place.
// Callers must only pass a detached copy (i.e. the result of Query), never
// a live buffer's backing slice.
func ShiftNumericRows(rows []NumericRow, delta float64) []NumericRow {
	for i := range rows {
		rows[i].T -= delta
	}
	return rows
}

var errOutOfOrder = fmt.Errorf("out of order append")
