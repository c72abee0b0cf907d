package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/provider"
)

func TestStoreSnapshotSkipsOlderRevision(t *testing.T) {
	t.Parallel()

	svc, cache, _ := newTestService(t, allTypesDispatcher(okHandler(nil)), Options{})

	newer := &domain.BatchSnapshot{BatchID: "b1", Status: domain.StatusCompleted}
	older := &domain.BatchSnapshot{BatchID: "b1", Status: domain.StatusRunning}
	svc.storeSnapshot(context.Background(), newer, 5)
	svc.storeSnapshot(context.Background(), older, 4)

	if got := cache.latest("b1"); got != newer {
		t.Fatalf("cached snapshot = %+v, want the COMPLETED one", got)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}
}

func TestSlowFallbackWriteDoesNotOverwriteFinishedStatus(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	handler := provider.HandlerFunc(func(ctx context.Context, itemRef string, parameters map[string]any) (any, error) {
		close(started)
		<-release
		return map[string]any{"itemRef": itemRef}, nil
	})
	svc, cache, _ := newTestService(t, allTypesDispatcher(handler), Options{})

	var missed, armed atomic.Bool
	held := make(chan struct{})
	unblock := make(chan struct{})
	cache.getFn = func(ctx context.Context, batchID string) (*domain.BatchSnapshot, bool, error) {
		if missed.CompareAndSwap(false, true) {
			return nil, false, nil
		}
		snapshot := cache.latest(batchID)
		return snapshot, snapshot != nil, nil
	}
	cache.setFn = func(ctx context.Context, snapshot *domain.BatchSnapshot) error {
		if snapshot.Status == domain.StatusRunning && armed.CompareAndSwap(true, false) {
			close(held)
			<-unblock
		}
		return nil
	}

	id := mustCreate(t, svc, singleOp("detect-objects", "img"))
	svc.Start(context.Background(), id)
	<-started

	armed.Store(true)
	done := make(chan *domain.BatchSnapshot, 1)
	go func() {
		snapshot, err := svc.GetStatus(context.Background(), id)
		if err != nil {
			t.Errorf("GetStatus() error = %v", err)
		}
		done <- snapshot
	}()
	<-held

	close(release)
	svc.Wait()
	if got := cache.latest(id).Status; got != domain.StatusCompleted {
		t.Fatalf("cached status after finish = %s, want %s", got, domain.StatusCompleted)
	}

	close(unblock)
	if snapshot := <-done; snapshot == nil || snapshot.Status != domain.StatusRunning {
		t.Fatalf("GetStatus() = %+v, want the RUNNING snapshot it rebuilt", snapshot)
	}

	if got := cache.latest(id).Status; got != domain.StatusCompleted {
		t.Fatalf("cached status = %s, want %s", got, domain.StatusCompleted)
	}
	status, err := svc.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Status != domain.StatusCompleted {
		t.Fatalf("GetStatus() status = %s, want %s", status.Status, domain.StatusCompleted)
	}
}
