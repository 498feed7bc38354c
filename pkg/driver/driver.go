// Package driver implements the top-level per-cycle loop: advance every
// reader, feed the sync registry and the delimiter from the rows each
// cycle produced, extract every window the extractor is ready for, and at
// end of stream flush the final open-ended window and run collecters.
package driver

import (
	"context"
	"log"
	"time"

	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/internal/tracing"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/delimiter"
	"github.com/vjranagit/trialpipe/pkg/enhance"
	"github.com/vjranagit/trialpipe/pkg/reader"
	"github.com/vjranagit/trialpipe/pkg/sync2"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// SimulatePacing is the per-cycle delay applied when any router has
// Simulate set (gui mode), so data arrives at roughly the rate it would
// during a live experiment rather than as fast as the readers can produce
// it.
const SimulatePacing = 50 * time.Millisecond

// SyncWatch feeds newly appended rows of one numeric buffer, as they
// arrive, into the sync registry as candidate sync events for a reader.
type SyncWatch struct {
	ReaderName string
	Buffer     *buffer.NumericEventBuffer
	Pred       sync2.Predicate
	Key        sync2.PairingKey

	consumed int
}

// RewritableSink is implemented by sinks that support the collecter
// rewrite instruction: updating a trial's enhancements after it has
// already been emitted, without touching timing or raw data.
type RewritableSink interface {
	UpdateEnhancements(trialIndex int, enhancements map[string]interface{}, categories map[string][]string) error
}

// SummarySink is implemented by sinks that can attach a run-level summary
// value, produced by a collecter, to the sink's run header.
type SummarySink interface {
	WriteSummary(summary map[string]interface{}) error
}

// Driver owns every component wired together for one run and drives the
// loop described in the core design: reader cycles feed buffers, buffers
// feed the sync registry and the delimiter, and the delimiter's windows
// feed the extractor in strict start-time order.
type Driver struct {
	Routers         map[string]*reader.Router
	Delimiter       *delimiter.Delimiter
	DelimiterSource *buffer.NumericEventBuffer
	SyncWatches     []*SyncWatch
	Sync            *sync2.Registry
	Extractor       *trial.Extractor
	Collecters      []enhance.Collecter

	// Metadata is attached to the sink's run summary alongside whatever
	// the collecters produce, e.g. the run identifier and merged
	// experiment/subject fields. May be nil.
	Metadata map[string]interface{}

	// SecondaryLog receives every in-flight trial once the primary sink
	// has failed fatally (its own single retry already exhausted), so a
	// dying sink never silently loses trials still in the pipeline. May
	// be nil, in which case those trials are only logged as dropped.
	SecondaryLog trial.Sink

	pending []delimiter.Window
	emitted []*trial.Trial
}

// Run drives the loop until every reader is exhausted, or until ctx is
// canceled. Cancellation stops the loop immediately without flushing a
// still-open final window, so a canceled run never emits a trial with an
// unknown end time.
func (d *Driver) Run(ctx context.Context) error {
	for !d.allExhausted() {
		if err := ctx.Err(); err != nil {
			return err
		}

		cctx, span := tracing.StartCycle(ctx)

		for _, rt := range d.Routers {
			if err := rt.Advance(cctx); err != nil {
				span.End()
				return err
			}
		}

		d.observeSync()

		if err := d.advanceDelimiter(); err != nil {
			span.End()
			return err
		}
		if err := d.flushReady(cctx); err != nil {
			span.End()
			return err
		}
		span.End()

		if d.anySimulated() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(SimulatePacing):
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, w := range d.Delimiter.Finish() {
		d.pending = append(d.pending, w)
	}
	if err := d.flushReady(ctx); err != nil {
		return err
	}
	for _, w := range d.pending {
		log.Printf("driver: final window starting at %v never became ready, dropping", w.Start)
	}

	d.runCollecters()
	return nil
}

func (d *Driver) allExhausted() bool {
	for _, rt := range d.Routers {
		if !rt.Exhausted() {
			return false
		}
	}
	return true
}

func (d *Driver) anySimulated() bool {
	for _, rt := range d.Routers {
		if rt.Simulate {
			return true
		}
	}
	return false
}

// observeSync hands each sync watch only the rows appended since the last
// cycle, since the registry's default pairing-key counter advances once
// per row it is shown.
func (d *Driver) observeSync() {
	for _, sw := range d.SyncWatches {
		rows := sw.Buffer.Query(buffer.NegInf, sw.Buffer.EndTime()+1)
		if len(rows) <= sw.consumed {
			continue
		}
		d.Sync.Observe(sw.ReaderName, rows[sw.consumed:], sw.Pred, sw.Key)
		sw.consumed = len(rows)
	}
}

func (d *Driver) advanceDelimiter() error {
	rows := d.DelimiterSource.Query(buffer.NegInf, d.DelimiterSource.EndTime()+1)
	d.pending = append(d.pending, d.Delimiter.Advance(rows)...)
	return nil
}

// flushReady extracts every pending window the extractor has become ready
// for, in order, stopping at the first window that is not yet ready —
// windows must be extracted in strict start-time order since extraction
// garbage-collects source buffers up to the window it just processed.
func (d *Driver) flushReady(ctx context.Context) error {
	for len(d.pending) > 0 && d.Extractor.Ready(d.pending[0].End) {
		w := d.pending[0]
		d.pending = d.pending[1:]

		_, span := tracing.StartTrial(ctx, len(d.emitted))
		t, err := d.Extractor.Extract(w)
		span.End()
		if err != nil {
			if perrors.Fatal(err) {
				log.Printf("driver: sink failure extracting window starting at %v, draining in-flight trials to secondary log: %v", w.Start, err)
				d.drainToSecondaryLog(t)
				return err
			}
			log.Printf("driver: sink error extracting window starting at %v, continuing: %v", w.Start, err)
			continue
		}
		d.emitted = append(d.emitted, t)
	}
	return nil
}

// drainToSecondaryLog runs once the primary sink has failed fatally. It
// writes the trial whose emit just failed, then re-points the extractor at
// the secondary log and keeps draining every window already ready to
// extract, so no in-flight trial is silently lost even though the run as a
// whole still fails.
func (d *Driver) drainToSecondaryLog(failed *trial.Trial) {
	if d.SecondaryLog == nil {
		if failed != nil {
			log.Printf("driver: no secondary log configured, dropping trial starting at %v", failed.StartTime)
		}
		return
	}
	if failed != nil {
		if err := d.SecondaryLog.EmitTrial(failed, len(d.emitted)); err != nil {
			log.Printf("driver: failed to drain trial to secondary log: %v", err)
		}
	}

	d.Extractor.Sink = d.SecondaryLog
	for len(d.pending) > 0 && d.Extractor.Ready(d.pending[0].End) {
		w := d.pending[0]
		d.pending = d.pending[1:]
		if _, err := d.Extractor.Extract(w); err != nil {
			log.Printf("driver: failed to drain window starting at %v to secondary log: %v", w.Start, err)
		}
	}
}

// runCollecters runs every configured collecter against the full emitted
// trial sequence, pushes any resulting enhancement rewrites through to the
// sink if it supports rewriting, and attaches the collecters' summaries to
// the sink's run header if it supports one.
func (d *Driver) runCollecters() {
	summaries := enhance.RunCollecters(d.Collecters, d.emitted)
	if len(d.Metadata) > 0 {
		if summaries == nil {
			summaries = make(map[string]interface{}, len(d.Metadata))
		}
		for k, v := range d.Metadata {
			summaries[k] = v
		}
	}

	if rw, ok := d.Extractor.Sink.(RewritableSink); ok {
		for i, t := range d.emitted {
			if err := rw.UpdateEnhancements(i, t.Enhancements, t.EnhancementCategories); err != nil {
				log.Printf("driver: failed to rewrite enhancements for trial %d: %v", i, err)
			}
		}
	}

	if len(summaries) == 0 {
		return
	}
	if sw, ok := d.Extractor.Sink.(SummarySink); ok {
		if err := sw.WriteSummary(summaries); err != nil {
			log.Printf("driver: failed to write run summary: %v", err)
		}
	}
}
