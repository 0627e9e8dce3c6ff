package bulkstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements MetricsCollector with Prometheus instruments.
type PrometheusCollector struct {
	creates        *prometheus.CounterVec
	createDuration prometheus.Histogram
	createdBytes   prometheus.Counter
	deletes        *prometheus.CounterVec
	deletedBytes   prometheus.Counter
	reclaimedBytes prometheus.Counter
	spills         *prometheus.CounterVec
	spillDuration  prometheus.Histogram
	spilledBytes   prometheus.Counter
	evictedBlobs   prometheus.Counter
	evictedBytes   prometheus.Counter
	footprint      prometheus.Gauge
	footprintLimit prometheus.Gauge
}

// NewPrometheusCollector registers the bulkstore instruments with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusCollector{
		creates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkstore_creates_total",
			Help: "Total blob allocations by result",
		}, []string{"result"}),
		createDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulkstore_create_duration_seconds",
			Help:    "Latency of blob allocations",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 12),
		}),
		createdBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "bulkstore_created_bytes_total",
			Help: "Total bytes allocated for blobs",
		}),
		deletes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkstore_deletes_total",
			Help: "Total blob deletions by result",
		}, []string{"result"}),
		deletedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "bulkstore_deleted_bytes_total",
			Help: "Total bytes released by deletions",
		}),
		reclaimedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "bulkstore_reclaimed_bytes_total",
			Help: "Total bytes of pages returned to the operating system",
		}),
		spills: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkstore_spills_total",
			Help: "Total spill attempts by result",
		}, []string{"result"}),
		spillDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulkstore_spill_duration_seconds",
			Help:    "Latency of spills to the spill store",
			Buckets: prometheus.DefBuckets,
		}),
		spilledBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "bulkstore_spilled_bytes_total",
			Help: "Total raw bytes written to the spill store",
		}),
		evictedBlobs: f.NewCounter(prometheus.CounterOpts{
			Name: "bulkstore_evicted_blobs_total",
			Help: "Total blobs removed from memory by eviction",
		}),
		evictedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "bulkstore_evicted_bytes_total",
			Help: "Total bytes removed from memory by eviction",
		}),
		footprint: f.NewGauge(prometheus.GaugeOpts{
			Name: "bulkstore_footprint_bytes",
			Help: "Bytes currently allocated in the shared region",
		}),
		footprintLimit: f.NewGauge(prometheus.GaugeOpts{
			Name: "bulkstore_footprint_limit_bytes",
			Help: "Configured size of the shared region",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordCreate implements MetricsCollector.
func (p *PrometheusCollector) RecordCreate(size int64, duration time.Duration, err error) {
	p.creates.WithLabelValues(result(err)).Inc()
	p.createDuration.Observe(duration.Seconds())
	if err == nil {
		p.createdBytes.Add(float64(size))
	}
}

// RecordDelete implements MetricsCollector.
func (p *PrometheusCollector) RecordDelete(size int64, _ time.Duration, err error) {
	p.deletes.WithLabelValues(result(err)).Inc()
	if err == nil {
		p.deletedBytes.Add(float64(size))
	}
}

// RecordReclaim implements MetricsCollector.
func (p *PrometheusCollector) RecordReclaim(bytes int64) {
	p.reclaimedBytes.Add(float64(bytes))
}

// RecordSpill implements MetricsCollector.
func (p *PrometheusCollector) RecordSpill(bytes int64, duration time.Duration, err error) {
	p.spills.WithLabelValues(result(err)).Inc()
	p.spillDuration.Observe(duration.Seconds())
	if err == nil {
		p.spilledBytes.Add(float64(bytes))
	}
}

// RecordEvict implements MetricsCollector.
func (p *PrometheusCollector) RecordEvict(count int, bytes int64) {
	p.evictedBlobs.Add(float64(count))
	p.evictedBytes.Add(float64(bytes))
}

// RecordFootprint implements MetricsCollector.
func (p *PrometheusCollector) RecordFootprint(used, limit int64) {
	p.footprint.Set(float64(used))
	p.footprintLimit.Set(float64(limit))
}
