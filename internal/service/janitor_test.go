package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeCleaner struct {
	calls     atomic.Int32
	lastAge   atomic.Int64
	cleanupFn func(maxAge time.Duration) int
}

func (f *fakeCleaner) CleanupCompletedJobs(maxAge time.Duration) int {
	f.calls.Add(1)
	f.lastAge.Store(int64(maxAge))
	if f.cleanupFn != nil {
		return f.cleanupFn(maxAge)
	}
	return 0
}

func TestNewJanitorValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewJanitor(nil, time.Minute, time.Hour, zap.NewNop()); err == nil {
		t.Fatal("expected error when cleaner is nil")
	}

	janitor, err := NewJanitor(&fakeCleaner{}, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewJanitor() error = %v", err)
	}
	if janitor.interval != defaultJanitorInterval {
		t.Fatalf("interval = %s, want %s", janitor.interval, defaultJanitorInterval)
	}
	if janitor.retention != defaultJanitorRetention {
		t.Fatalf("retention = %s, want %s", janitor.retention, defaultJanitorRetention)
	}
}

func TestJanitorSweepsImmediatelyAndOnTick(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{cleanupFn: func(maxAge time.Duration) int { return 1 }}
	janitor, err := NewJanitor(cleaner, 5*time.Millisecond, 2*time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewJanitor() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- janitor.Start(ctx) }()

	waitFor(t, "three sweeps", func() bool { return cleaner.calls.Load() >= 3 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	if got := time.Duration(cleaner.lastAge.Load()); got != 2*time.Hour {
		t.Fatalf("maxAge = %s, want 2h", got)
	}
}

func TestJanitorEvictsFinishedBatches(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	svc, _, _ := newTestService(t, allTypesDispatcher(okHandler(nil)), Options{})
	svc.now = clock.Now

	id := mustCreate(t, svc, singleOp("detect-objects", "img"))
	svc.Start(context.Background(), id)
	svc.Wait()
	clock.Advance(2 * time.Hour)

	janitor, err := NewJanitor(svc, time.Hour, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewJanitor() error = %v", err)
	}
	if removed := janitor.sweep(); removed != 1 {
		t.Fatalf("sweep() = %d, want 1", removed)
	}
	if _, ok := svc.registrySnapshot(id); ok {
		t.Fatalf("batch %s still in registry after sweep", id)
	}
}
