package transform

import (
	"fmt"
	"sort"

	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/pkg/buffer"
)

// OffsetThenGain multiplies selected value columns (numeric events) or
// channels (signals) by Gain after first adding Offset: out = (in + Offset)
// * Gain. Columns/Channels defaults to all of them when empty.
type OffsetThenGain struct {
	Offset   float64
	Gain     float64
	Columns  []int // for VarietyNumeric pieces
	Channels []int // for VarietySignal pieces
}

// Apply implements Transformer.
func (t OffsetThenGain) Apply(in Piece) (Piece, error) {
	switch in.Variety {
	case VarietyNumeric:
		out := make([]buffer.NumericRow, len(in.Numeric))
		for i, row := range in.Numeric {
			v := append([]float64(nil), row.V...)
			cols := t.Columns
			if len(cols) == 0 {
				cols = allIndices(len(v))
			}
			for _, c := range cols {
				if c < 0 || c >= len(v) {
					return Piece{}, perrors.New(perrors.KindConfig, fmt.Sprintf("OffsetThenGain: column %d out of range for arity %d", c, len(v)))
				}
				v[c] = (v[c] + t.Offset) * t.Gain
			}
			out[i] = buffer.NumericRow{T: row.T, V: v}
		}
		return Piece{Variety: VarietyNumeric, Numeric: out}, nil

	case VarietySignal:
		out := make([]buffer.Chunk, len(in.Signal))
		for i, c := range in.Signal {
			x := make([][]float64, len(c.X))
			for r, row := range c.X {
				v := append([]float64(nil), row...)
				chans := t.Channels
				if len(chans) == 0 {
					chans = allIndices(len(v))
				}
				for _, ch := range chans {
					if ch < 0 || ch >= len(v) {
						return Piece{}, perrors.New(perrors.KindConfig, fmt.Sprintf("OffsetThenGain: channel %d out of range", ch))
					}
					v[ch] = (v[ch] + t.Offset) * t.Gain
				}
				x[r] = v
			}
			out[i] = buffer.Chunk{T0: c.T0, F: c.F, X: x}
		}
		return Piece{Variety: VarietySignal, Signal: out}, nil
	}
	return Piece{}, perrors.New(perrors.KindConfig, "OffsetThenGain: unsupported piece variety")
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Comparison selects how FilterRange compares a row's selected column
// against its bounds.
type Comparison int

const (
	// CompareEquals keeps rows whose value equals Min exactly.
	CompareEquals Comparison = iota
	// CompareRange keeps rows with Min <= value <= Max.
	CompareRange
)

// FilterRange drops numeric event rows whose selected column fails the
// configured predicate.
type FilterRange struct {
	Column  int
	Compare Comparison
	Min     float64
	Max     float64
}

// Apply implements Transformer.
func (f FilterRange) Apply(in Piece) (Piece, error) {
	if in.Variety != VarietyNumeric {
		return Piece{}, perrors.New(perrors.KindConfig, "FilterRange: only numeric event pieces are supported")
	}

	out := make([]buffer.NumericRow, 0, len(in.Numeric))
	for _, row := range in.Numeric {
		if f.Column < 0 || f.Column >= len(row.V) {
			return Piece{}, perrors.New(perrors.KindConfig, fmt.Sprintf("FilterRange: column %d out of range for arity %d", f.Column, len(row.V)))
		}
		v := row.V[f.Column]
		keep := false
		switch f.Compare {
		case CompareEquals:
			keep = v == f.Min
		case CompareRange:
			keep = v >= f.Min && v <= f.Max
		}
		if keep {
			out = append(out, row.Clone())
		}
	}
	return Piece{Variety: VarietyNumeric, Numeric: out}, nil
}

// SparseSignal converts arity-(1+c) numeric event rows (t, v0..v{c-1})
// into a regularly sampled signal chunk at SampleFrequency spanning the
// first to the last input row. Samples at the span's ends take the end
// rows' values; samples in between are linearly interpolated between the
// surrounding input rows, or, when FillConstant is true, set to FillValue.
type SparseSignal struct {
	SampleFrequency float64
	ChannelIDs      []string
	FillConstant    bool
	FillValue       float64
}

// Apply implements Transformer.
func (s SparseSignal) Apply(in Piece) (Piece, error) {
	if in.Variety != VarietyNumeric {
		return Piece{}, perrors.New(perrors.KindConfig, "SparseSignal: only numeric event pieces are supported")
	}
	if len(in.Numeric) == 0 {
		return Piece{Variety: VarietySignal}, nil
	}

	rows := append([]buffer.NumericRow(nil), in.Numeric...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].T < rows[j].T })

	c := len(s.ChannelIDs)
	t0 := rows[0].T
	tEnd := rows[len(rows)-1].T
	n := int((tEnd-t0)*s.SampleFrequency) + 1
	if n < 1 {
		n = 1
	}

	x := make([][]float64, n)
	cursor := 0
	for i := 0; i < n; i++ {
		ts := t0 + float64(i)/s.SampleFrequency
		for cursor+1 < len(rows) && rows[cursor+1].T <= ts {
			cursor++
		}

		sample := make([]float64, c)
		switch {
		case ts <= rows[0].T:
			copyUpTo(sample, rows[0].V, c)
		case ts >= rows[len(rows)-1].T:
			copyUpTo(sample, rows[len(rows)-1].V, c)
		default:
			left, right := rows[cursor], rows[cursor+1]
			frac := 0.0
			if right.T != left.T {
				frac = (ts - left.T) / (right.T - left.T)
			}
			for ch := 0; ch < c; ch++ {
				lv, rv := valueAt(left.V, ch), valueAt(right.V, ch)
				if s.FillConstant {
					sample[ch] = s.FillValue
				} else {
					sample[ch] = lv + frac*(rv-lv)
				}
			}
		}
		x[i] = sample
	}

	return Piece{Variety: VarietySignal, Signal: []buffer.Chunk{{T0: t0, F: s.SampleFrequency, X: x}}}, nil
}

func copyUpTo(dst, src []float64, n int) {
	for i := 0; i < n && i < len(src); i++ {
		dst[i] = src[i]
	}
}

func valueAt(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
