package buffer

import (
	"fmt"
	"math"

	"github.com/vjranagit/trialpipe/internal/perrors"
)

// Chunk is one contiguous, regularly-sampled block of a Signal Buffer.
// X holds N rows of C channel samples; X[i][c] is sample i of channel c.
type Chunk struct {
	T0 float64
	F  float64
	X  [][]float64
}

// N returns the number of samples in the chunk.
func (c Chunk) N() int { return len(c.X) }

// LastSampleTime returns the time of the chunk's final sample, or T0 if
// the chunk is empty (a degenerate but legal zero-sample chunk).
func (c Chunk) LastSampleTime() float64 {
	n := c.N()
	if n == 0 {
		return c.T0
	}
	return c.T0 + float64(n-1)/c.F
}

// Clone returns a detached copy of the chunk.
func (c Chunk) Clone() Chunk {
	x := make([][]float64, len(c.X))
	for i, row := range c.X {
		r := make([]float64, len(row))
		copy(r, row)
		x[i] = r
	}
	return Chunk{T0: c.T0, F: c.F, X: x}
}

// SignalBuffer is a sequence of chunks sharing a fixed sample frequency,
// channel count, and channel identifiers.
type SignalBuffer struct {
	name   string
	f      float64
	ids    []string
	chunks []Chunk
}

// NewSignalBuffer creates an empty signal buffer. f and channel ids are
// fixed on the first Append.
func NewSignalBuffer(name string) *SignalBuffer {
	return &SignalBuffer{name: name}
}

// Name returns the buffer's name within its variety.
func (b *SignalBuffer) Name() string { return b.name }

// SampleFrequency returns the buffer's fixed sample frequency, or 0 if
// never populated.
func (b *SignalBuffer) SampleFrequency() float64 { return b.f }

// ChannelIDs returns the buffer's fixed channel identifiers.
func (b *SignalBuffer) ChannelIDs() []string { return b.ids }

// Append adds one chunk to the tail. f must match the first appended chunk,
// and ids must have the same length as the ids passed with the first chunk;
// the buffer keeps the first chunk's ids and does not compare later ids'
// values. Each sample row must have len(ids) channels (or, when ids is
// empty, as many as the chunk's first row). The chunk's first sample time must be
// >= the previous chunk's end-of-range sample time (non-overlapping,
// time-ordered).
func (b *SignalBuffer) Append(chunk Chunk, ids []string) error {
	if chunk.F <= 0 {
		return perrors.New(perrors.KindConfig, fmt.Sprintf("buffer %q: sample frequency must be > 0", b.name))
	}
	c := len(ids)
	if c == 0 && chunk.N() > 0 {
		c = len(chunk.X[0])
	}
	for _, row := range chunk.X {
		if len(row) != c {
			return perrors.New(perrors.KindConfig, fmt.Sprintf("buffer %q: chunk channel count %d does not match %d", b.name, len(row), c))
		}
	}

	if b.f == 0 {
		b.f = chunk.F
		b.ids = append([]string(nil), ids...)
	} else {
		if chunk.F != b.f {
			return perrors.New(perrors.KindConfig, fmt.Sprintf("buffer %q: sample frequency %v does not match fixed %v", b.name, chunk.F, b.f))
		}
		if len(ids) != len(b.ids) {
			return perrors.New(perrors.KindConfig, fmt.Sprintf("buffer %q: channel count %d does not match fixed %d", b.name, len(ids), len(b.ids)))
		}
	}

	if n := len(b.chunks); n > 0 {
		last := b.chunks[n-1]
		prevEnd := last.T0 + float64(last.N())/last.F
		if chunk.T0 < prevEnd {
			return perrors.Wrapf(perrors.KindOutOfOrder, errOutOfOrder,
				"buffer %q: chunk t0=%v precedes previous chunk's end %v", b.name, chunk.T0, prevEnd)
		}
	}

	b.chunks = append(b.chunks, chunk.Clone())
	return nil
}

// Query returns a new chunk sequence covering [a, b), rounded inward to
// whole-sample boundaries within each intersecting chunk.
func (buf *SignalBuffer) Query(a, end float64) []Chunk {
	var out []Chunk
	for _, c := range buf.chunks {
		n := c.N()
		if n == 0 {
			continue
		}
		chunkEnd := c.T0 + float64(n)/c.F
		if chunkEnd <= a || c.T0 >= end {
			continue
		}

		iFirst := int(math.Ceil((a - c.T0) * c.F))
		iLast := int(math.Floor((end-c.T0)*c.F)) - 1
		if iFirst < 0 {
			iFirst = 0
		}
		if iLast > n-1 {
			iLast = n - 1
		}
		if iFirst > iLast {
			continue
		}

		rows := make([][]float64, iLast-iFirst+1)
		for i := iFirst; i <= iLast; i++ {
			row := make([]float64, len(c.X[i]))
			copy(row, c.X[i])
			rows[i-iFirst] = row
		}
		out = append(out, Chunk{
			T0: c.T0 + float64(iFirst)/c.F,
			F:  c.F,
			X:  rows,
		})
	}
	return out
}

// DiscardBefore drops whole chunks ending at or before t, and trims any
// chunk straddling t down to the first whole sample at or after t.
func (b *SignalBuffer) DiscardBefore(t float64) {
	keepFrom := 0
	for i, c := range b.chunks {
		n := c.N()
		if n == 0 {
			keepFrom = i + 1
			continue
		}
		chunkEnd := c.T0 + float64(n)/c.F
		if chunkEnd <= t {
			keepFrom = i + 1
			continue
		}
		if c.T0 < t {
			iFirst := int(math.Ceil((t - c.T0) * c.F))
			if iFirst > 0 {
				b.chunks[i] = Chunk{
					T0: c.T0 + float64(iFirst)/c.F,
					F:  c.F,
					X:  c.X[iFirst:],
				}
			}
		}
		break
	}
	if keepFrom > 0 {
		remaining := make([]Chunk, len(b.chunks)-keepFrom)
		copy(remaining, b.chunks[keepFrom:])
		b.chunks = remaining
	}
}

// EndTime returns the last sample time of the last chunk, or NegInf if
// the buffer holds no samples.
func (b *SignalBuffer) EndTime() float64 {
	for i := len(b.chunks) - 1; i >= 0; i-- {
		if b.chunks[i].N() > 0 {
			return b.chunks[i].LastSampleTime()
		}
	}
	return NegInf
}

// Len returns the number of retained chunks.
func (b *SignalBuffer) Len() int { return len(b.chunks) }

// ShiftChunks subtracts delta from every chunk's T0 in place.
func ShiftChunks(chunks []Chunk, delta float64) []Chunk {
	for i := range chunks {
		chunks[i].T0 -= delta
	}
	return chunks
}
