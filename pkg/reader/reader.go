// Package reader implements the per-source ingestion loop: pulling
// bounded increments from a Reader, appending them to a primary buffer,
// and fanning derived copies through transformer pipelines into derived
// buffers.
package reader

import (
	"context"
	"errors"

	"github.com/vjranagit/trialpipe/pkg/buffer"
)

// ErrEndOfStream is the sentinel a Reader returns from ReadNext once its
// source is exhausted. The Router treats it as terminal, not an error to
// retry.
var ErrEndOfStream = errors.New("end of stream")

// Variety identifies which Neutral Zone buffer kind a BufferPiece carries.
type Variety int

const (
	VarietyNumeric Variety = iota
	VarietyText
	VarietySignal
)

// BufferPiece is the incremental result of a single ReadNext call for one
// named result within a reader.
type BufferPiece struct {
	Variety Variety
	Numeric []buffer.NumericRow
	Text    []buffer.TextRow
	Signal  []buffer.Chunk

	// ChannelIDs carries a signal piece's channel identifiers. The first
	// piece appended to a signal buffer fixes them; every later piece must
	// carry a list of the same length or its append is rejected.
	ChannelIDs []string
}

// Reader pulls one bounded increment per call from an external source.
// Implementations must return ErrEndOfStream (wrapped or bare) once
// exhausted, and must not block past their own internal timeout —
// blocking indefinitely would stall the whole single-threaded core.
type Reader interface {
	ReadNext(ctx context.Context) (map[string]BufferPiece, error)
}

// PrimaryTarget adapts one concrete Neutral Zone buffer so the Router can
// append a variety-tagged BufferPiece to it without a type switch at every
// call site, and exposes the buffer.Buffer contract for readiness checks
// and post-emission garbage collection.
type PrimaryTarget interface {
	buffer.Buffer
	AppendPiece(p BufferPiece) error
}

// NumericTarget adapts a NumericEventBuffer.
type NumericTarget struct{ Buf *buffer.NumericEventBuffer }

// AppendPiece implements PrimaryTarget.
func (t NumericTarget) AppendPiece(p BufferPiece) error { return t.Buf.Append(p.Numeric) }
func (t NumericTarget) EndTime() float64                { return t.Buf.EndTime() }
func (t NumericTarget) DiscardBefore(at float64)         { t.Buf.DiscardBefore(at) }
func (t NumericTarget) Len() int                         { return t.Buf.Len() }

// TextTarget adapts a TextEventBuffer.
type TextTarget struct{ Buf *buffer.TextEventBuffer }

// AppendPiece implements PrimaryTarget.
func (t TextTarget) AppendPiece(p BufferPiece) error { return t.Buf.Append(p.Text) }
func (t TextTarget) EndTime() float64                { return t.Buf.EndTime() }
func (t TextTarget) DiscardBefore(at float64)         { t.Buf.DiscardBefore(at) }
func (t TextTarget) Len() int                         { return t.Buf.Len() }

// SignalTarget adapts a SignalBuffer.
type SignalTarget struct{ Buf *buffer.SignalBuffer }

// AppendPiece implements PrimaryTarget.
func (t SignalTarget) AppendPiece(p BufferPiece) error {
	for _, c := range p.Signal {
		if err := t.Buf.Append(c, p.ChannelIDs); err != nil {
			return err
		}
	}
	return nil
}
func (t SignalTarget) EndTime() float64        { return t.Buf.EndTime() }
func (t SignalTarget) DiscardBefore(at float64) { t.Buf.DiscardBefore(at) }
func (t SignalTarget) Len() int                 { return t.Buf.Len() }
