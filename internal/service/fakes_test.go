package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/provider"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"go.uber.org/zap"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*domain.BatchSnapshot
	sets    int
	getFn   func(ctx context.Context, batchID string) (*domain.BatchSnapshot, bool, error)
	setFn   func(ctx context.Context, snapshot *domain.BatchSnapshot) error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*domain.BatchSnapshot)}
}

func (f *fakeCache) Get(ctx context.Context, batchID string) (*domain.BatchSnapshot, bool, error) {
	if f.getFn != nil {
		return f.getFn(ctx, batchID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot, ok := f.entries[batchID]
	return snapshot, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, snapshot *domain.BatchSnapshot) error {
	if f.setFn != nil {
		if err := f.setFn(ctx, snapshot); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.entries[snapshot.BatchID] = snapshot
	return nil
}

func (f *fakeCache) latest(batchID string) *domain.BatchSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[batchID]
}

type fakeCallback struct {
	mu     sync.Mutex
	calls  []string
	bodies []any
	postFn func(ctx context.Context, endpoint string, payload any) error
}

func (f *fakeCallback) Post(ctx context.Context, endpoint string, payload any) error {
	f.mu.Lock()
	f.calls = append(f.calls, endpoint)
	f.bodies = append(f.bodies, payload)
	f.mu.Unlock()
	if f.postFn != nil {
		return f.postFn(ctx, endpoint, payload)
	}
	return nil
}

func (f *fakeCallback) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []queue.BatchEvent
}

func (f *fakeEvents) PublishEvent(ctx context.Context, event queue.BatchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) all() []queue.BatchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.BatchEvent(nil), f.events...)
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.Attempt
	createFn func(ctx context.Context, a *domain.Attempt) error
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByOperationID(ctx context.Context, operationID string) ([]domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Attempt, 0)
	for _, a := range f.attempts {
		if a.OperationID == operationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) ListByBatchID(ctx context.Context, batchID string) ([]domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Attempt, 0)
	for _, a := range f.attempts {
		if a.BatchID == batchID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeArchive struct {
	mu    sync.Mutex
	saved map[string]*domain.BatchSnapshot
}

var _ repository.BatchArchive = (*fakeArchive)(nil)

func (f *fakeArchive) Save(ctx context.Context, snapshot *domain.BatchSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]*domain.BatchSnapshot)
	}
	f.saved[snapshot.BatchID] = snapshot
	return nil
}

func (f *fakeArchive) GetByID(ctx context.Context, id string) (*domain.BatchSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot, ok := f.saved[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snapshot, nil
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	keys   []string
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sleepRecorder replaces backoff waits with an instant, recorded return.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func okHandler(payload map[string]any) provider.Handler {
	return provider.HandlerFunc(func(ctx context.Context, itemRef string, parameters map[string]any) (any, error) {
		out := map[string]any{"itemRef": itemRef}
		for k, v := range payload {
			out[k] = v
		}
		return out, nil
	})
}

func allTypesDispatcher(h provider.Handler) *provider.Dispatcher {
	handlers := make(map[domain.OperationType]provider.Handler)
	for _, opType := range domain.OperationTypes() {
		handlers[opType] = h
	}
	return provider.NewDispatcher(handlers)
}

func newTestService(t *testing.T, dispatcher OperationDispatcher, opts Options) (*BatchService, *fakeCache, *sleepRecorder) {
	t.Helper()

	cache := newFakeCache()
	svc, err := NewBatchService(repository.NewMemoryBatchStore(), dispatcher, cache, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBatchService() error = %v", err)
	}

	sleeper := &sleepRecorder{}
	svc.sleep = sleeper.sleep

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, cache, sleeper
}

func singleOp(opType string, itemRef string) CreateBatchRequest {
	return CreateBatchRequest{Operations: []OperationRequest{{Type: opType, ItemRef: itemRef}}}
}

func mustCreate(t *testing.T, svc *BatchService, req CreateBatchRequest) string {
	t.Helper()
	id, err := svc.CreateBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	return id
}

func mustSnapshot(t *testing.T, svc *BatchService, id string) *domain.BatchSnapshot {
	t.Helper()
	snapshot, ok := svc.registrySnapshot(id)
	if !ok {
		t.Fatalf("batch %s not in registry", id)
	}
	return snapshot
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func intPtr(v int) *int { return &v }
