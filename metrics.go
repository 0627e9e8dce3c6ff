package bulkstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
// PrometheusCollector is the bundled Prometheus implementation.
type MetricsCollector interface {
	// RecordCreate is called after each allocation.
	// size is the requested size, err is nil if successful.
	RecordCreate(size int64, duration time.Duration, err error)

	// RecordDelete is called after each delete. size is the number of bytes
	// released, zero when the memory was not freed locally.
	RecordDelete(size int64, duration time.Duration, err error)

	// RecordReclaim is called when pages are returned to the operating system.
	RecordReclaim(bytes int64)

	// RecordSpill is called after each spill attempt.
	RecordSpill(bytes int64, duration time.Duration, err error)

	// RecordEvict is called after each eviction pass.
	RecordEvict(count int, bytes int64)

	// RecordFootprint reports the CPU footprint after it changes.
	RecordFootprint(used, limit int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCreate(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordReclaim(int64)                      {}
func (NoopMetricsCollector) RecordSpill(int64, time.Duration, error)  {}
func (NoopMetricsCollector) RecordEvict(int, int64)                   {}
func (NoopMetricsCollector) RecordFootprint(int64, int64)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CreateCount      atomic.Int64
	CreateErrors     atomic.Int64
	CreateBytes      atomic.Int64
	CreateTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	DeleteBytes      atomic.Int64
	ReclaimedBytes   atomic.Int64
	SpillCount       atomic.Int64
	SpillErrors      atomic.Int64
	SpillBytes       atomic.Int64
	EvictCount       atomic.Int64
	EvictBytes       atomic.Int64
	FootprintBytes   atomic.Int64
	FootprintLimit   atomic.Int64
}

// RecordCreate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCreate(size int64, duration time.Duration, err error) {
	b.CreateCount.Add(1)
	b.CreateTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CreateErrors.Add(1)
		return
	}
	b.CreateBytes.Add(size)
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(size int64, duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
		return
	}
	b.DeleteBytes.Add(size)
}

// RecordReclaim implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReclaim(bytes int64) {
	b.ReclaimedBytes.Add(bytes)
}

// RecordSpill implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSpill(bytes int64, duration time.Duration, err error) {
	b.SpillCount.Add(1)
	if err != nil {
		b.SpillErrors.Add(1)
		return
	}
	b.SpillBytes.Add(bytes)
}

// RecordEvict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEvict(count int, bytes int64) {
	b.EvictCount.Add(int64(count))
	b.EvictBytes.Add(bytes)
}

// RecordFootprint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFootprint(used, limit int64) {
	b.FootprintBytes.Store(used)
	b.FootprintLimit.Store(limit)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CreateCount:    b.CreateCount.Load(),
		CreateErrors:   b.CreateErrors.Load(),
		CreateBytes:    b.CreateBytes.Load(),
		CreateAvgNanos: b.getAvgCreateNanos(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		DeleteBytes:    b.DeleteBytes.Load(),
		ReclaimedBytes: b.ReclaimedBytes.Load(),
		SpillCount:     b.SpillCount.Load(),
		SpillErrors:    b.SpillErrors.Load(),
		SpillBytes:     b.SpillBytes.Load(),
		EvictCount:     b.EvictCount.Load(),
		EvictBytes:     b.EvictBytes.Load(),
		FootprintBytes: b.FootprintBytes.Load(),
		FootprintLimit: b.FootprintLimit.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgCreateNanos() int64 {
	count := b.CreateCount.Load()
	if count == 0 {
		return 0
	}
	return b.CreateTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CreateCount    int64
	CreateErrors   int64
	CreateBytes    int64
	CreateAvgNanos int64
	DeleteCount    int64
	DeleteErrors   int64
	DeleteBytes    int64
	ReclaimedBytes int64
	SpillCount     int64
	SpillErrors    int64
	SpillBytes     int64
	EvictCount     int64
	EvictBytes     int64
	FootprintBytes int64
	FootprintLimit int64
}
