package reader

import (
	"context"
	"log"
	"time"

	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/transform"
)

// DerivedSpec describes one derived buffer fed from a primary result by
// name, through an ordered transformer pipeline.
type DerivedSpec struct {
	Name           string
	SourceResult   string
	Pipeline       transform.Pipeline
	Target         PrimaryTarget
	TargetChannels []string // channel ids for a signal-producing pipeline
}

// RetryPolicy controls how the Router responds to a Retryable read
// failure: up to MaxAttempts total tries, with each subsequent delay
// doubling from BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the capped exponential backoff the core
// design calls for: three attempts total, starting at 100ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

// Router drives one Reader's pull cycle, fanning results into a primary
// buffer per named result and into any derived buffers registered against
// that result name.
type Router struct {
	Name     string
	Reader   Reader
	Primary  map[string]PrimaryTarget
	Derived  []DerivedSpec
	Retry    RetryPolicy
	Simulate bool // simulate_delay: gui-mode pacing hint, read by the driver

	exhausted bool
}

// NewRouter creates a Router with the default retry policy.
func NewRouter(name string, r Reader, primary map[string]PrimaryTarget, derived []DerivedSpec) *Router {
	return &Router{Name: name, Reader: r, Primary: primary, Derived: derived, Retry: DefaultRetryPolicy}
}

// Exhausted reports whether the reader has signaled end-of-stream or hit
// a permanent failure.
func (rt *Router) Exhausted() bool { return rt.exhausted }

// EndTime returns the earliest EndTime across this router's primary
// buffers, or buffer.NegInf if it owns none. The Extractor's readiness
// check uses the minimum so a window is never flushed while any of a
// reader's buffers could still receive in-window data.
func (rt *Router) EndTime() float64 {
	min := buffer.NegInf
	first := true
	for _, target := range rt.Primary {
		t := target.EndTime()
		if first || t < min {
			min = t
			first = false
		}
	}
	return min
}

// Advance runs one pull cycle: read, append to primaries, fan out to
// derived buffers. It is a no-op once the reader is exhausted.
func (rt *Router) Advance(ctx context.Context) error {
	if rt.exhausted {
		return nil
	}

	results, err := rt.readWithRetry(ctx)
	if err != nil {
		if err == ErrEndOfStream {
			rt.exhausted = true
			return nil
		}
		if perrors.Is(err, perrors.KindSourceIOPermanent) {
			rt.exhausted = true
			log.Printf("reader %q: permanent failure, marking exhausted: %v", rt.Name, err)
			return nil
		}
		// Anything else (a Retryable failure that exhausted its
		// attempts without becoming permanent) is treated as "no new
		// data this cycle" per the timeout policy; the reader stays
		// live for the next Advance.
		log.Printf("reader %q: no new data this cycle: %v", rt.Name, err)
		return nil
	}

	for name, piece := range results {
		target, ok := rt.Primary[name]
		if !ok {
			log.Printf("reader %q: result %q has no configured primary buffer, dropping", rt.Name, name)
			continue
		}
		if err := target.AppendPiece(piece); err != nil {
			if perrors.Is(err, perrors.KindOutOfOrder) {
				log.Printf("reader %q: dropping out-of-order data on %q: %v", rt.Name, name, err)
				continue
			}
			return err
		}

		for _, d := range rt.Derived {
			if d.SourceResult != name {
				continue
			}
			if err := rt.applyDerived(d, piece); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rt *Router) applyDerived(d DerivedSpec, piece BufferPiece) error {
	in, ok := toTransformPiece(piece)
	if !ok {
		return nil // derived pipelines only run on numeric/signal source pieces
	}

	out, err := d.Pipeline.Apply(in)
	if err != nil {
		return err
	}

	derivedPiece := fromTransformPiece(out, d.TargetChannels)
	return d.Target.AppendPiece(derivedPiece)
}

func toTransformPiece(p BufferPiece) (transform.Piece, bool) {
	switch p.Variety {
	case VarietyNumeric:
		return transform.Piece{Variety: transform.VarietyNumeric, Numeric: p.Numeric}, true
	case VarietySignal:
		return transform.Piece{Variety: transform.VarietySignal, Signal: p.Signal}, true
	default:
		return transform.Piece{}, false
	}
}

func fromTransformPiece(p transform.Piece, channelIDs []string) BufferPiece {
	switch p.Variety {
	case transform.VarietyNumeric:
		return BufferPiece{Variety: VarietyNumeric, Numeric: p.Numeric}
	case transform.VarietySignal:
		return BufferPiece{Variety: VarietySignal, Signal: p.Signal, ChannelIDs: channelIDs}
	default:
		return BufferPiece{}
	}
}

// readWithRetry calls Reader.ReadNext, retrying a Retryable failure with
// capped exponential backoff up to Retry.MaxAttempts times.
func (rt *Router) readWithRetry(ctx context.Context) (map[string]BufferPiece, error) {
	delay := rt.Retry.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= rt.Retry.MaxAttempts; attempt++ {
		results, err := rt.Reader.ReadNext(ctx)
		if err == nil {
			return results, nil
		}
		if err == ErrEndOfStream {
			return nil, ErrEndOfStream
		}
		if !perrors.Is(err, perrors.KindSourceIORetryable) {
			// Permanent, or an unclassified error: surface it as-is.
			return nil, err
		}
		lastErr = err
		if attempt == rt.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}
