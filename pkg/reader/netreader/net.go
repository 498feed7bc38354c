// Package netreader models a live network reader: a background goroutine
// receives bytes from some external transport and hands parsed pieces to
// the main loop through a bounded channel. The channel receive is the
// single suspension boundary the core design calls for; everything else
// about decoding the wire format happens off the main loop.
package netreader

import (
	"context"
	"sync"
	"time"

	"github.com/vjranagit/trialpipe/pkg/reader"
)

// DefaultTimeout is the per-call soft timeout: if nothing arrives within
// this window, ReadNext reports "no new data" rather than blocking the
// single-threaded core indefinitely.
const DefaultTimeout = 1 * time.Second

// Net is a Reader backed by a bounded queue that a producer goroutine
// (started by the caller, not by Net itself) feeds via Push.
type Net struct {
	ResultName string
	Timeout    time.Duration

	queue chan reader.BufferPiece
	done  chan struct{}
	once  sync.Once
}

// New creates a Net reader with the given queue capacity. Capacity bounds
// memory if the producer runs ahead of the main loop; a full queue blocks
// Push, which is the intended back-pressure point.
func New(resultName string, capacity int) *Net {
	return &Net{
		ResultName: resultName,
		Timeout:    DefaultTimeout,
		queue:      make(chan reader.BufferPiece, capacity),
		done:       make(chan struct{}),
	}
}

// Push hands one piece to the main loop. Safe to call from the producer
// goroutine; blocks if the queue is full.
func (n *Net) Push(p reader.BufferPiece) {
	select {
	case n.queue <- p:
	case <-n.done:
	}
}

// Close signals end-of-stream. Safe to call multiple times or
// concurrently with Push.
func (n *Net) Close() {
	n.once.Do(func() { close(n.done) })
}

// ReadNext implements reader.Reader. A timeout returns an empty, error-free
// result set: per the core's timeout policy, an idle network source is
// "no new data this cycle", not a failure, so it must not trigger the
// Router's retry/backoff policy or mark the reader exhausted.
func (n *Net) ReadNext(ctx context.Context) (map[string]reader.BufferPiece, error) {
	select {
	case p, ok := <-n.queue:
		if !ok {
			return nil, reader.ErrEndOfStream
		}
		return map[string]reader.BufferPiece{n.ResultName: p}, nil
	case <-n.done:
		// Drain anything already queued before reporting end of stream.
		select {
		case p := <-n.queue:
			return map[string]reader.BufferPiece{n.ResultName: p}, nil
		default:
			return nil, reader.ErrEndOfStream
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(n.timeoutOrDefault()):
		return map[string]reader.BufferPiece{}, nil
	}
}

func (n *Net) timeoutOrDefault() time.Duration {
	if n.Timeout <= 0 {
		return DefaultTimeout
	}
	return n.Timeout
}
