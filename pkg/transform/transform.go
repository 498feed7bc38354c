// Package transform implements pure Buffer-piece-to-Buffer-piece functions
// that the Reader Router runs on a reader's incremental result before
// appending it to a derived buffer. Transformers never see or mutate a
// live buffer; they operate on the same detached, incremental slices the
// router hands them.
package transform

import "github.com/vjranagit/trialpipe/pkg/buffer"

// Variety identifies which Neutral Zone buffer kind a Piece carries.
// Transformers may change a piece's variety (SparseSignal turns numeric
// events into a signal chunk); they never carry more than one variety's
// data at once.
type Variety int

const (
	VarietyNumeric Variety = iota
	VarietySignal
)

// Piece is the incremental unit a Transformer consumes and produces: the
// new rows or chunks a single router pull cycle contributed.
type Piece struct {
	Variety Variety
	Numeric []buffer.NumericRow
	Signal  []buffer.Chunk
}

// Transformer is a pure function over one incremental Piece.
type Transformer interface {
	Apply(in Piece) (Piece, error)
}

// Pipeline is an ordered composition of Transformers, applied top first,
// matching the "extra_buffers.transformers" list of the configuration
// document.
type Pipeline struct {
	Stages []Transformer
}

// Apply runs every stage in order, threading each stage's output into the
// next stage's input.
func (p Pipeline) Apply(in Piece) (Piece, error) {
	cur := in
	for _, stage := range p.Stages {
		out, err := stage.Apply(cur)
		if err != nil {
			return Piece{}, err
		}
		cur = out
	}
	return cur, nil
}
