package buffer

import (
	"sort"

	"github.com/vjranagit/trialpipe/internal/perrors"
)

// TextRow is one row of a Text Event Buffer.
type TextRow struct {
	T    float64
	Text string
}

// TextEventBuffer holds parallel timestamp/text arrays ordered by
// non-decreasing timestamp.
type TextEventBuffer struct {
	name string
	rows []TextRow
}

// NewTextEventBuffer creates an empty text event buffer.
func NewTextEventBuffer(name string) *TextEventBuffer {
	return &TextEventBuffer{name: name}
}

// Name returns the buffer's name within its variety.
func (b *TextEventBuffer) Name() string { return b.name }

// Append adds rows to the tail, subject to the same reorder tolerance as
// NumericEventBuffer.
func (b *TextEventBuffer) Append(rows []TextRow) error {
	for _, r := range rows {
		if err := b.insertSorted(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *TextEventBuffer) insertSorted(r TextRow) error {
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
			"buffer %q: text row t=%v precedes reorder window starting at t=%v", b.name, r.T, b.rows[lo].T)
	}

	idx := lo + sort.Search(n-lo, func(i int) bool { return b.rows[lo+i].T > r.T })
	b.rows = append(b.rows, TextRow{})
	copy(b.rows[idx+1:], b.rows[idx:n])
	b.rows[idx] = r
	return nil
}

// Query returns a detached copy of rows with a <= t < end.
func (b *TextEventBuffer) Query(a, end float64) []TextRow {
	lo := sort.Search(len(b.rows), func(i int) bool { return b.rows[i].T >= a })
	hi := sort.Search(len(b.rows), func(i int) bool { return b.rows[i].T >= end })
	out := make([]TextRow, hi-lo)
	copy(out, b.rows[lo:hi])
	return out
}

// DiscardBefore drops rows strictly earlier than t.
func (b *TextEventBuffer) DiscardBefore(t float64) {
	idx := sort.Search(len(b.rows), func(i int) bool { return b.rows[i].T >= t })
	if idx == 0 {
		return
	}
	remaining := make([]TextRow, len(b.rows)-idx)
	copy(remaining, b.rows[idx:])
	b.rows = remaining
}

// EndTime returns the timestamp of the last row, or NegInf if empty.
func (b *TextEventBuffer) EndTime() float64 {
	if len(b.rows) == 0 {
		return NegInf
	}
	return b.rows[len(b.rows)-1].T
}

// Len returns the number of retained rows.
func (b *TextEventBuffer) Len() int { return len(b.rows) }

// ShiftTextRows subtracts delta from every row's timestamp in place.
func ShiftTextRows(rows []TextRow, delta float64) []TextRow {
	for i := range rows {
		rows[i].T -= delta
	}
	return rows
}
