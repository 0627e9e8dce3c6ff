package bulkstore

import (
	"github.com/hupe1980/bulkstore/blobstore"
	"github.com/hupe1980/bulkstore/internal/alloc"
	"github.com/hupe1980/bulkstore/internal/mmap"
	"github.com/hupe1980/bulkstore/internal/spans"
)

// DefaultMemoryLimit is the size of the shared region when no limit is configured.
const DefaultMemoryLimit = 256 << 20

// Allocator backend names accepted by WithAllocator.
const (
	AllocatorSizeClass = alloc.BackendSizeClass
	AllocatorFirstFit  = alloc.BackendFirstFit
)

// Mapper creates the shared memory regions used by a store.
type Mapper = mmap.Mapper

// SpanSet is the address-ordered set of arena blobs used for neighbour lookups.
// Registries that exchange arena blobs through MoveOwnership can share one.
type SpanSet = spans.Set

// NewSpanSet returns an empty SpanSet.
func NewSpanSet() *SpanSet { return spans.New() }

type options struct {
	memoryLimit      int64
	allocator        string
	gpu              DeviceAllocator
	diskDir          string
	mapper           Mapper
	spans            *SpanSet
	logger           *Logger
	metricsCollector MetricsCollector
	spillStore       blobstore.Store
	spillCompression string
	spillConcurrency int
	spillIOLimit     int64
}

func defaultOptions() options {
	return options{
		memoryLimit:      DefaultMemoryLimit,
		allocator:        AllocatorSizeClass,
		mapper:           mmap.OS(),
		logger:           NoopLogger(),
		metricsCollector: &NoopMetricsCollector{},
		spillCompression: "lz4",
		spillConcurrency: 4,
	}
}

// Option configures a store.
type Option func(*options)

// WithMemoryLimit sets the size of the shared region and the CPU footprint limit.
// Non-positive values keep the default.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.memoryLimit = bytes
		}
	}
}

// WithAllocator selects the allocator backend by name ("sizeclass" or "firstfit").
func WithAllocator(name string) Option {
	return func(o *options) {
		o.allocator = name
	}
}

// WithGPUAllocator enables the device-memory operations.
func WithGPUAllocator(a DeviceAllocator) Option {
	return func(o *options) {
		o.gpu = a
	}
}

// WithDiskDir sets the directory for CreateDisk blobs without an explicit path.
// Empty means the OS temp directory.
func WithDiskDir(dir string) Option {
	return func(o *options) {
		o.diskDir = dir
	}
}

// WithMapper replaces the OS mapper.
func WithMapper(m Mapper) Option {
	return func(o *options) {
		if m != nil {
			o.mapper = m
		}
	}
}

// WithSpanSet injects the span set. By default each registry owns its own.
func WithSpanSet(s *SpanSet) Option {
	return func(o *options) {
		o.spans = s
	}
}

// WithLogger sets the logger. Passing nil disables logging.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector. Passing nil disables metrics.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = &NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithSpillStore enables spilling cold blobs to s.
func WithSpillStore(s blobstore.Store) Option {
	return func(o *options) {
		o.spillStore = s
	}
}

// WithSpillCompression selects the spill frame codec ("none", "lz4" or "zstd").
func WithSpillCompression(codec string) Option {
	return func(o *options) {
		o.spillCompression = codec
	}
}

// WithSpillConcurrency bounds the number of concurrent spills.
func WithSpillConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.spillConcurrency = n
		}
	}
}

// WithSpillIOLimit throttles spill traffic to bytesPerSec. Zero disables throttling.
func WithSpillIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.spillIOLimit = bytesPerSec
	}
}
