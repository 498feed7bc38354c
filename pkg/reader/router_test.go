package reader

import (
	"context"
	"testing"

	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/transform"
)

// scriptedReader replays a fixed sequence of results/errors, one per call.
type scriptedReader struct {
	steps []step
	i     int
}

type step struct {
	results map[string]BufferPiece
	err     error
}

func (r *scriptedReader) ReadNext(ctx context.Context) (map[string]BufferPiece, error) {
	if r.i >= len(r.steps) {
		return nil, ErrEndOfStream
	}
	s := r.steps[r.i]
	r.i++
	return s.results, s.err
}

func TestRouterAppendsToPrimary(t *testing.T) {
	buf := buffer.NewNumericEventBuffer("bar")
	rd := &scriptedReader{steps: []step{
		{results: map[string]BufferPiece{"bar": {Variety: VarietyNumeric, Numeric: []buffer.NumericRow{{T: 0.1, V: []float64{1}}}}}},
	}}
	rt := NewRouter("r1", rd, map[string]PrimaryTarget{"bar": NumericTarget{Buf: buf}}, nil)

	if err := rt.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if buf.Len() != 1 {
		t.Fatalf("Len = %d, want 1", buf.Len())
	}
}

func TestRouterFansOutToDerived(t *testing.T) {
	primaryBuf := buffer.NewNumericEventBuffer("bar")
	derivedBuf := buffer.NewNumericEventBuffer("bar_2")

	rd := &scriptedReader{steps: []step{
		{results: map[string]BufferPiece{"bar": {Variety: VarietyNumeric, Numeric: []buffer.NumericRow{{T: 0.1, V: []float64{1}}}}}},
	}}

	derived := []DerivedSpec{{
		Name:         "bar_2",
		SourceResult: "bar",
		Pipeline:     transform.Pipeline{Stages: []transform.Transformer{transform.OffsetThenGain{Offset: 10, Gain: -2}}},
		Target:       NumericTarget{Buf: derivedBuf},
	}}

	rt := NewRouter("r1", rd, map[string]PrimaryTarget{"bar": NumericTarget{Buf: primaryBuf}}, derived)
	if err := rt.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	got := derivedBuf.Query(0, 1)
	if len(got) != 1 || got[0].V[0] != -22 {
		t.Fatalf("derived buffer = %+v, want [[-22]]", got)
	}
}

func TestRouterMarksExhaustedOnEndOfStream(t *testing.T) {
	rd := &scriptedReader{}
	rt := NewRouter("r1", rd, map[string]PrimaryTarget{}, nil)

	if err := rt.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !rt.Exhausted() {
		t.Error("expected router to be exhausted")
	}

	// Further advances are no-ops.
	if err := rt.Advance(context.Background()); err != nil {
		t.Fatalf("Advance after exhaustion failed: %v", err)
	}
}

func TestRouterPermanentFailureExhausts(t *testing.T) {
	rd := &scriptedReader{steps: []step{
		{err: perrors.New(perrors.KindSourceIOPermanent, "disk unplugged")},
	}}
	rt := NewRouter("r1", rd, map[string]PrimaryTarget{}, nil)

	if err := rt.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !rt.Exhausted() {
		t.Error("expected router to be exhausted after permanent failure")
	}
}

func TestRouterRetriesTransientFailure(t *testing.T) {
	rd := &scriptedReader{steps: []step{
		{err: perrors.New(perrors.KindSourceIORetryable, "timeout")},
		{err: perrors.New(perrors.KindSourceIORetryable, "timeout")},
		{results: map[string]BufferPiece{}},
	}}
	rt := NewRouter("r1", rd, map[string]PrimaryTarget{}, nil)
	rt.Retry.BaseDelay = 0

	if err := rt.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if rt.Exhausted() {
		t.Error("router should not be exhausted after recovering")
	}
	if rd.i != 3 {
		t.Errorf("expected 3 read attempts, got %d", rd.i)
	}
}
