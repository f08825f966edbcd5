// Package memwatch periodically samples runtime memory usage, logs the
// numbers, and forces a garbage collection when the heap crosses a
// threshold.
package memwatch

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

const (
	// DefaultCheckInterval is how often memory is sampled.
	DefaultCheckInterval = time.Minute

	// DefaultThresholdMB is the heap size that triggers a forced GC.
	DefaultThresholdMB = 512
)

// Stats is one memory sample.
type Stats struct {
	HeapAllocMB   uint64    `json:"heap_alloc_mb"`
	HeapSysMB     uint64    `json:"heap_sys_mb"`
	NumGC         uint32    `json:"num_gc"`
	NumGoroutines int       `json:"num_goroutines"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Config tunes a Watcher; zero fields take defaults.
type Config struct {
	CheckInterval time.Duration
	ThresholdMB   uint64
}

// Watcher samples memory on an interval.
type Watcher struct {
	cfg Config
	log *slog.Logger

	// forceGC is swapped out in tests.
	forceGC func()
}

// New creates a watcher. Run starts it.
func New(cfg Config, log *slog.Logger) *Watcher {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.ThresholdMB == 0 {
		cfg.ThresholdMB = DefaultThresholdMB
	}
	return &Watcher{cfg: cfg, log: log, forceGC: runtime.GC}
}

// Snapshot reads the current memory stats.
func Snapshot() Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Stats{
		HeapAllocMB:   ms.HeapAlloc / (1 << 20),
		HeapSysMB:     ms.HeapSys / (1 << 20),
		NumGC:         ms.NumGC,
		NumGoroutines: runtime.NumGoroutine(),
		SampledAt:     time.Now().UTC(),
	}
}

// Run samples until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.check()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) check() {
	stats := Snapshot()
	w.log.Debug("memory sample",
		"heap_alloc_mb", stats.HeapAllocMB,
		"heap_sys_mb", stats.HeapSysMB,
		"goroutines", stats.NumGoroutines,
		"num_gc", stats.NumGC,
	)
	if stats.HeapAllocMB > w.cfg.ThresholdMB {
		w.log.Warn("heap above threshold, forcing garbage collection",
			"heap_alloc_mb", stats.HeapAllocMB, "threshold_mb", w.cfg.ThresholdMB)
		w.forceGC()
	}
}
