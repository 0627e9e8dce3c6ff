package bulkstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/hupe1980/bulkstore/internal/compress"
)

// EnvPrefix is the prefix of the environment variables read by LoadConfig.
const EnvPrefix = "BULKSTORE"

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the environment-driven store configuration.
type Config struct {
	// MemoryLimit is the size of the shared region in bytes.
	MemoryLimit int64 `envconfig:"MEMORY_LIMIT" default:"268435456"`
	// GPUMemoryLimit enables emulated device memory of this size. Zero disables it.
	GPUMemoryLimit int64 `envconfig:"GPU_MEMORY_LIMIT" default:"0"`
	// Allocator is the allocator backend ("sizeclass" or "firstfit").
	Allocator string `envconfig:"ALLOCATOR" default:"sizeclass"`
	// DiskSpillPath holds disk blobs and spilled frames. Empty disables spilling.
	DiskSpillPath string `envconfig:"DISK_SPILL_PATH"`
	// SpillURL selects a remote or in-memory frame store (file://, memory://,
	// s3://bucket/prefix or minio://host/bucket/prefix). It overrides the
	// frames directory under DiskSpillPath. Buckets must already exist.
	SpillURL string `envconfig:"SPILL_URL"`
	// SpillAccessKey and SpillSecretKey are static credentials for s3:// and
	// minio:// spill URLs. Without them the SDK defaults apply.
	SpillAccessKey string `envconfig:"SPILL_ACCESS_KEY"`
	SpillSecretKey string `envconfig:"SPILL_SECRET_KEY"`
	// SpillCompression is the spill frame codec ("none", "lz4" or "zstd").
	SpillCompression string `envconfig:"SPILL_COMPRESSION" default:"lz4"`
	// SpillConcurrency bounds concurrent spills.
	SpillConcurrency int `envconfig:"SPILL_CONCURRENCY" default:"4"`
	// SpillIOLimit throttles spill traffic in bytes per second. Zero is unlimited.
	SpillIOLimit int64 `envconfig:"SPILL_IO_LIMIT" default:"0"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFormat is text or json.
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads the given .env files, when present, and then reads the
// BULKSTORE_* environment variables. Variables already set in the
// environment win over .env entries.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MemoryLimit <= 0 {
		return fmt.Errorf("%w: MemoryLimit must be positive, got %d", ErrInvalidConfig, c.MemoryLimit)
	}
	if c.GPUMemoryLimit < 0 {
		return fmt.Errorf("%w: GPUMemoryLimit must not be negative, got %d", ErrInvalidConfig, c.GPUMemoryLimit)
	}
	switch c.Allocator {
	case "", AllocatorSizeClass, AllocatorFirstFit:
	default:
		return fmt.Errorf("%w: unknown allocator %q", ErrInvalidConfig, c.Allocator)
	}
	if c.SpillURL != "" {
		if _, err := parseSpillURL(c.SpillURL); err != nil {
			return err
		}
	}
	if (c.SpillAccessKey == "") != (c.SpillSecretKey == "") {
		return fmt.Errorf("%w: SpillAccessKey and SpillSecretKey must be set together", ErrInvalidConfig)
	}
	if _, err := compress.ParseCodec(c.SpillCompression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.SpillConcurrency <= 0 {
		return fmt.Errorf("%w: SpillConcurrency must be positive, got %d", ErrInvalidConfig, c.SpillConcurrency)
	}
	if c.SpillIOLimit < 0 {
		return fmt.Errorf("%w: SpillIOLimit must not be negative, got %d", ErrInvalidConfig, c.SpillIOLimit)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
	}
	return l, nil
}

// Logger builds the logger described by LogLevel and LogFormat.
func (c Config) Logger() (*Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(c.LogFormat, "json") {
		return NewJSONLogger(level), nil
	}
	return NewTextLogger(level), nil
}

// Options converts the configuration into store options.
func (c Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithMemoryLimit(c.MemoryLimit),
		WithAllocator(c.Allocator),
		WithSpillCompression(c.SpillCompression),
		WithSpillConcurrency(c.SpillConcurrency),
		WithSpillIOLimit(c.SpillIOLimit),
		WithLogger(logger),
	}
	if c.DiskSpillPath != "" {
		opts = append(opts, WithDiskDir(c.DiskSpillPath))
	}
	frames, err := c.spillStore()
	if err != nil {
		return nil, err
	}
	if frames != nil {
		opts = append(opts, WithSpillStore(frames))
	}
	if c.GPUMemoryLimit > 0 {
		gpu, err := NewHostDeviceAllocator(c.GPUMemoryLimit)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithGPUAllocator(gpu))
	}
	return opts, nil
}
