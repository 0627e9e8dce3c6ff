// Command bulkstore-bench measures create/seal/get/delete throughput of a
// bulkstore.Store configured from BULKSTORE_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/bulkstore"
)

var (
	envFile     = flag.String("env", ".env", "Optional .env file with BULKSTORE_* settings")
	duration    = flag.Duration("duration", 10*time.Second, "Duration of the benchmark")
	concurrency = flag.Int("concurrency", 4, "Number of concurrent workers")
	minSize     = flag.Int("min-size", 64, "Smallest blob size in bytes")
	maxSize     = flag.Int("max-size", 64<<10, "Largest blob size in bytes")
	keep        = flag.Int("keep", 0, "Blobs each worker keeps released but resident, so eviction kicks in")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
)

func main() {
	flag.Parse()
	if *minSize <= 0 || *maxSize < *minSize {
		log.Fatalf("invalid size range [%d, %d]", *minSize, *maxSize)
	}

	cfg, err := bulkstore.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		log.Fatalf("config options: %v", err)
	}

	reg := prometheus.NewRegistry()
	opts = append(opts, bulkstore.WithMetricsCollector(bulkstore.NewPrometheusCollector(reg)))

	store, err := bulkstore.New(opts...)
	if err != nil {
		log.Fatalf("create store: %v", err)
	}
	defer store.Close()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	fmt.Printf("Starting benchmark:\n")
	fmt.Printf("  Memory limit: %d\n", cfg.MemoryLimit)
	fmt.Printf("  Allocator:    %s\n", cfg.Allocator)
	fmt.Printf("  Concurrency:  %d\n", *concurrency)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Sizes:        [%d, %d]\n", *minSize, *maxSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var (
		ops     atomic.Int64
		bytes   atomic.Int64
		errs    atomic.Int64
		latency sumLatency
		wg      sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(conn int64) {
			defer wg.Done()
			var kept []bulkstore.ObjectID
			for ctx.Err() == nil {
				size := *minSize + rand.IntN(*maxSize-*minSize+1)
				t0 := time.Now()
				id, err := roundTrip(ctx, store, conn, size, len(kept) < *keep)
				latency.Record(time.Since(t0))
				if err != nil {
					errs.Add(1)
					continue
				}
				if id != bulkstore.EmptyBlobID {
					kept = append(kept, id)
				}
				ops.Add(1)
				bytes.Add(int64(size))
			}
			for _, id := range kept {
				_ = store.Delete(id)
			}
		}(int64(i))
	}
	wg.Wait()

	printResults(time.Since(start), ops.Load(), bytes.Load(), errs.Load(), &latency, store)
}

// roundTrip creates, fills, seals and reads one blob. With keep the blob is
// released instead of deleted and its ID returned.
func roundTrip(ctx context.Context, store *bulkstore.Store, conn int64, size int, keep bool) (bulkstore.ObjectID, error) {
	id, p, err := store.CreateContext(ctx, int64(size))
	if err != nil {
		return bulkstore.EmptyBlobID, err
	}
	data := p.Data()
	for i := range data {
		data[i] = byte(i)
	}
	if err := store.Seal(id); err != nil {
		return bulkstore.EmptyBlobID, err
	}
	if err := store.AddDependency([]bulkstore.ObjectID{id}, conn); err != nil {
		return bulkstore.EmptyBlobID, err
	}
	got, err := store.Get(id)
	if err != nil {
		return bulkstore.EmptyBlobID, err
	}
	if len(got.Data()) != size {
		return bulkstore.EmptyBlobID, fmt.Errorf("blob %s: got %d bytes, want %d", id, len(got.Data()), size)
	}
	if err := store.Release(id, conn); err != nil {
		return bulkstore.EmptyBlobID, err
	}
	if keep {
		return id, nil
	}
	return bulkstore.EmptyBlobID, store.Delete(id)
}

type sumLatency struct {
	mu    sync.Mutex
	durs  []time.Duration
	total time.Duration
}

func (s *sumLatency) Record(d time.Duration) {
	s.mu.Lock()
	s.durs = append(s.durs, d)
	s.total += d
	s.mu.Unlock()
}

func (s *sumLatency) percentile(p float64) time.Duration {
	if len(s.durs) == 0 {
		return 0
	}
	idx := int(float64(len(s.durs)-1) * p)
	return s.durs[idx]
}

func printResults(elapsed time.Duration, ops, bytes, errs int64, l *sumLatency, store *bulkstore.Store) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sort.Slice(l.durs, func(i, j int) bool { return l.durs[i] < l.durs[j] })

	var avg time.Duration
	if n := len(l.durs); n > 0 {
		avg = l.total / time.Duration(n)
	}
	secs := elapsed.Seconds()

	fmt.Printf("\nResults:\n")
	fmt.Printf("  Elapsed:      %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Ops:          %d (%.0f ops/s)\n", ops, float64(ops)/secs)
	fmt.Printf("  Throughput:   %.2f MiB/s\n", float64(bytes)/secs/(1<<20))
	fmt.Printf("  Errors:       %d\n", errs)
	fmt.Printf("  Latency avg:  %s\n", avg)
	fmt.Printf("  Latency p50:  %s\n", l.percentile(0.50))
	fmt.Printf("  Latency p99:  %s\n", l.percentile(0.99))
	fmt.Printf("  Peak bytes:   %d of %d\n", store.PeakFootprint(), store.FootprintLimit())
	fmt.Printf("  Spilled:      %d\n", len(store.Spilled()))
}
