package memwatch

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshot(t *testing.T) {
	stats := Snapshot()
	if stats.HeapSysMB == 0 {
		t.Error("expected non-zero heap sys")
	}
	if stats.NumGoroutines < 1 {
		t.Errorf("goroutines = %d", stats.NumGoroutines)
	}
	if stats.SampledAt.IsZero() {
		t.Error("missing sample time")
	}
}

func TestCheckForcesGCAboveThreshold(t *testing.T) {
	w := New(Config{}, discard())
	// Pin the threshold below any live heap.
	w.cfg.ThresholdMB = 0

	ballast := make([]byte, 8<<20)

	called := false
	w.forceGC = func() { called = true }
	w.check()
	if !called {
		t.Error("expected forced GC when heap exceeds threshold")
	}
	runtime.KeepAlive(ballast)
}

func TestCheckSkipsGCBelowThreshold(t *testing.T) {
	w := New(Config{ThresholdMB: 1 << 20}, discard())
	called := false
	w.forceGC = func() { called = true }
	w.check()
	if called {
		t.Error("GC forced below threshold")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w := New(Config{CheckInterval: time.Millisecond}, discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
