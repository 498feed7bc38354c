// Package tracing wraps the driver's per-cycle and per-trial work in
// opencensus spans, exported through a minimal log-based exporter. A
// trial run is short-lived and low-volume enough that full sampling and a
// log sink cost nothing; this is observability, not a performance
// concern, so no sampling policy or batching is needed.
package tracing

import (
	"context"
	"log"
	"sync"

	"go.opencensus.io/trace"
)

var registerOnce sync.Once

// Register installs the log exporter and samples every span. Safe to
// call more than once; only the first call takes effect.
func Register() {
	registerOnce.Do(func() {
		trace.RegisterExporter(logExporter{})
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	})
}

type logExporter struct{}

// ExportSpan implements trace.Exporter.
func (logExporter) ExportSpan(sd *trace.SpanData) {
	log.Printf("trace: %s trace=%s span=%s duration=%v", sd.Name, sd.TraceID, sd.SpanID, sd.EndTime.Sub(sd.StartTime))
}

// StartCycle starts a span covering one driver pull-advance-extract
// cycle.
func StartCycle(ctx context.Context) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, "driver.cycle")
}

// StartTrial starts a span covering one trial's extraction, enhancement,
// and sink handoff.
func StartTrial(ctx context.Context, trialIndex int) (context.Context, *trace.Span) {
	ctx, span := trace.StartSpan(ctx, "driver.trial")
	span.AddAttributes(trace.Int64Attribute("trial_index", int64(trialIndex)))
	return ctx, span
}
