package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the reconciliation engine's instruments. A nil
// *EngineMetrics is valid and records nothing, so callers never need to
// guard recording sites.
type EngineMetrics struct {
	walletsComputed   metric.Int64Counter
	coverageGaps      metric.Int64Counter
	phantomInferences metric.Int64Counter
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	replayDuration    metric.Float64Histogram
}

// NewEngineMetrics constructs the engine's instruments on the global meter.
func NewEngineMetrics() *EngineMetrics {
	meter := otel.Meter("engine")
	m := new(EngineMetrics)
	m.walletsComputed, _ = meter.Int64Counter("engine.wallets.computed",
		metric.WithDescription("Number of wallet results computed"),
		metric.WithUnit("{wallet}"))
	m.coverageGaps, _ = meter.Int64Counter("engine.coverage.gaps",
		metric.WithDescription("Number of raw events dropped for missing mappings"),
		metric.WithUnit("{event}"))
	m.phantomInferences, _ = meter.Int64Counter("engine.phantom.inferences",
		metric.WithDescription("Number of consuming events covered by inferred inventory"),
		metric.WithUnit("{event}"))
	m.cacheHits, _ = meter.Int64Counter("engine.cache.hits",
		metric.WithDescription("Number of result cache hits"),
		metric.WithUnit("{lookup}"))
	m.cacheMisses, _ = meter.Int64Counter("engine.cache.misses",
		metric.WithDescription("Number of result cache misses"),
		metric.WithUnit("{lookup}"))
	m.replayDuration, _ = meter.Float64Histogram("engine.replay.duration",
		metric.WithDescription("Wallet replay duration"),
		metric.WithUnit("ms"))
	return m
}

// WalletComputed records one completed wallet computation and its duration.
func (m *EngineMetrics) WalletComputed(ctx context.Context, durationMillis float64) {
	if m == nil {
		return
	}
	if m.walletsComputed != nil {
		m.walletsComputed.Add(ctx, 1)
	}
	if m.replayDuration != nil {
		m.replayDuration.Record(ctx, durationMillis)
	}
}

// CoverageGaps records dropped raw events for one wallet.
func (m *EngineMetrics) CoverageGaps(ctx context.Context, dropped int64) {
	if m == nil || m.coverageGaps == nil || dropped <= 0 {
		return
	}
	m.coverageGaps.Add(ctx, dropped)
}

// PhantomInferences records phantom-covered consuming events for one wallet.
func (m *EngineMetrics) PhantomInferences(ctx context.Context, count int64) {
	if m == nil || m.phantomInferences == nil || count <= 0 {
		return
	}
	m.phantomInferences.Add(ctx, count)
}

// CacheHit records one result cache hit.
func (m *EngineMetrics) CacheHit(ctx context.Context) {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}

// CacheMiss records one result cache miss.
func (m *EngineMetrics) CacheMiss(ctx context.Context) {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1)
}
