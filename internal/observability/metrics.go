package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFilesProcessed     = "absorb.files.processed.total"
	metricFilesSkipped       = "absorb.files.skipped.total"
	metricChunksTotal        = "absorb.chunks.total"
	metricChunksAdopted      = "absorb.chunks.adopted.total"
	metricRevisionsRewritten = "absorb.revisions.rewritten.total"
	metricRevisionsDropped   = "absorb.revisions.dropped.total"
	metricRunDuration        = "absorb.run.duration.seconds"

	attrReason = "reason"
	attrStatus = "status"

	statusOK    = "ok"
	statusError = "error"
)

// durationBucketBoundaries covers 10ms to 10min runs.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// metricBuilder accumulates instrument creation errors so a group of
// instruments needs a single error check.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}

	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := b.meter.Float64Histogram(name, opts...)
	b.setErr(name, err)

	return h
}

func (b *metricBuilder) setErr(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
}

// AbsorbMetrics holds the OTel instruments describing absorb runs.
type AbsorbMetrics struct {
	filesProcessed     metric.Int64Counter
	filesSkipped       metric.Int64Counter
	chunksTotal        metric.Int64Counter
	chunksAdopted      metric.Int64Counter
	revisionsRewritten metric.Int64Counter
	revisionsDropped   metric.Int64Counter
	runDuration        metric.Float64Histogram
}

// RunStats holds the statistics of a single absorb run.
type RunStats struct {
	Files int
	// Skipped counts skipped paths by skip reason.
	Skipped   map[string]int
	Chunks    int
	Adopted   int
	Rewritten int
	Dropped   int
	Duration  time.Duration
	Failed    bool
}

// NewAbsorbMetrics creates the absorb instruments from the given meter.
func NewAbsorbMetrics(mt metric.Meter) (*AbsorbMetrics, error) {
	b := newMetricBuilder(mt)

	am := &AbsorbMetrics{
		filesProcessed:     b.counter(metricFilesProcessed, "Files absorbed into the stack", "{file}"),
		filesSkipped:       b.counter(metricFilesSkipped, "Modified files left out of absorption", "{file}"),
		chunksTotal:        b.counter(metricChunksTotal, "Diff chunks considered", "{chunk}"),
		chunksAdopted:      b.counter(metricChunksAdopted, "Diff chunks assigned to a revision", "{chunk}"),
		revisionsRewritten: b.counter(metricRevisionsRewritten, "Revisions recreated with fixups", "{revision}"),
		revisionsDropped:   b.counter(metricRevisionsDropped, "Revisions dropped after becoming empty", "{revision}"),
		runDuration:        b.histogram(metricRunDuration, "Absorb run duration in seconds", "s", durationBucketBoundaries...),
	}

	if b.err != nil {
		return nil, b.err
	}

	return am, nil
}

// RecordRun records the statistics of a completed run.
// Safe to call on a nil receiver (no-op).
func (am *AbsorbMetrics) RecordRun(ctx context.Context, stats RunStats) {
	if am == nil {
		return
	}

	am.filesProcessed.Add(ctx, int64(stats.Files))

	for reason, count := range stats.Skipped {
		am.filesSkipped.Add(ctx, int64(count), metric.WithAttributes(attribute.String(attrReason, reason)))
	}

	am.chunksTotal.Add(ctx, int64(stats.Chunks))
	am.chunksAdopted.Add(ctx, int64(stats.Adopted))
	am.revisionsRewritten.Add(ctx, int64(stats.Rewritten))
	am.revisionsDropped.Add(ctx, int64(stats.Dropped))

	status := statusOK
	if stats.Failed {
		status = statusError
	}

	am.runDuration.Record(ctx, stats.Duration.Seconds(), metric.WithAttributes(attribute.String(attrStatus, status)))
}
