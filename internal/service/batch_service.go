package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/batch-engine/internal/callback"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/failure"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/provider"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/ratelimit"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"github.com/kursadbilgin/batch-engine/internal/retry"
	"github.com/kursadbilgin/batch-engine/internal/statuscache"
	"go.uber.org/zap"
)

const (
	backgroundWriteTimeout = 5 * time.Second
	shuttingDownMessage    = "service shutting down"
)

// OperationDispatcher resolves the handler for an operation type.
type OperationDispatcher interface {
	Handler(opType domain.OperationType) (provider.Handler, bool)
	SupportedTypes() []domain.OperationType
}

// EventPublisher receives batch lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event queue.BatchEvent) error
}

// Options carries the optional collaborators of a BatchService. Nil fields
// disable the corresponding feature or fall back to defaults.
type Options struct {
	Callback        callback.Transport
	CallbackTimeout time.Duration

	Recovery         *failure.Manager
	ExternalPolicy   retry.Policy
	ProcessingPolicy retry.Policy
	UnknownPolicy    retry.Policy

	RateLimiter ratelimit.RateLimiter
	Attempts    repository.AttemptRepository
	Archive     repository.BatchArchive
	Events      EventPublisher
	Metrics     *observability.Metrics
}

type OperationRequest struct {
	Type       string         `json:"type"`
	ItemRef    string         `json:"itemRef"`
	Parameters map[string]any `json:"parameters,omitempty"`
	MaxRetries *int           `json:"maxRetries,omitempty"`
}

type CreateBatchRequest struct {
	Operations              []OperationRequest `json:"operations"`
	CallbackURL             string             `json:"callbackUrl,omitempty"`
	MaxConcurrentOperations int                `json:"maxConcurrentOperations,omitempty"`
}

// Statistics are process-wide counters. Only the active and running job
// counts may go down.
type Statistics struct {
	TotalJobsCreated         int64                  `json:"totalJobsCreated"`
	TotalJobsCompleted       int64                  `json:"totalJobsCompleted"`
	TotalOperationsProcessed int64                  `json:"totalOperationsProcessed"`
	TotalOperationsFailed    int64                  `json:"totalOperationsFailed"`
	ActiveJobsCount          int                    `json:"activeJobsCount"`
	RunningJobsCount         int                    `json:"runningJobsCount"`
	SupportedOperationTypes  []domain.OperationType `json:"supportedOperationTypes"`
}

// BatchService creates batches and runs them with bounded concurrency.
//
// mu guards every batch and operation reachable from the store, the running
// job table and the counters. It is never held across a handler call, a
// cache write or any other I/O.
type BatchService struct {
	store      repository.BatchStore
	dispatcher OperationDispatcher
	cache      statuscache.Cache

	callback        callback.Transport
	callbackTimeout time.Duration
	recovery        *failure.Manager
	external        retry.Policy
	processing      retry.Policy
	unknown         retry.Policy
	rateLimiter     ratelimit.RateLimiter
	attempts        repository.AttemptRepository
	archive         repository.BatchArchive
	events          EventPublisher
	metrics         *observability.Metrics
	logger          *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	mu       sync.Mutex
	jobs     map[string]context.CancelFunc
	stats    Statistics
	closing  bool
	revision uint64

	cacheMu    sync.Mutex
	cacheSlots map[string]*cacheSlot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBatchService(
	store repository.BatchStore,
	dispatcher OperationDispatcher,
	cache statuscache.Cache,
	opts Options,
	logger *zap.Logger,
) (*BatchService, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("operation dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = callback.DefaultTimeout
	}
	if opts.Recovery == nil {
		opts.Recovery = failure.NewManager()
	}
	if opts.ExternalPolicy == nil {
		opts.ExternalPolicy = retry.DefaultExternal()
	}
	if opts.ProcessingPolicy == nil {
		opts.ProcessingPolicy = retry.DefaultProcessing()
	}
	if opts.UnknownPolicy == nil {
		opts.UnknownPolicy = retry.DefaultUnknown()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &BatchService{
		store:           store,
		dispatcher:      dispatcher,
		cache:           cache,
		callback:        opts.Callback,
		callbackTimeout: opts.CallbackTimeout,
		recovery:        opts.Recovery,
		external:        opts.ExternalPolicy,
		processing:      opts.ProcessingPolicy,
		unknown:         opts.UnknownPolicy,
		rateLimiter:     opts.RateLimiter,
		attempts:        opts.Attempts,
		archive:         opts.Archive,
		events:          opts.Events,
		metrics:         opts.Metrics,
		logger:          logger,
		now:             time.Now,
		sleep:           sleepWithContext,
		newID:           uuid.NewString,
		jobs:            make(map[string]context.CancelFunc),
		cacheSlots:      make(map[string]*cacheSlot),
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// CreateBatch validates the request and registers a Pending batch.
func (s *BatchService) CreateBatch(ctx context.Context, req CreateBatchRequest) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	n := len(req.Operations)
	if n < domain.MinBatchOperations {
		return "", fmt.Errorf("%w: batch must include at least %d operation", domain.ErrValidation, domain.MinBatchOperations)
	}
	if n > domain.MaxBatchOperations {
		return "", fmt.Errorf("%w: batch size exceeds %d operations (got %d)", domain.ErrValidation, domain.MaxBatchOperations, n)
	}

	callbackURL := strings.TrimSpace(req.CallbackURL)
	if callbackURL != "" {
		if err := callback.ValidateEndpoint(callbackURL); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	now := s.now().UTC()
	batch := &domain.Batch{
		ID:                      s.newID(),
		Status:                  domain.StatusPending,
		MaxConcurrentOperations: clampConcurrency(req.MaxConcurrentOperations),
		CallbackURL:             callbackURL,
		CreatedAt:               now,
		Operations:              make([]*domain.Operation, 0, n),
	}

	for i, opReq := range req.Operations {
		op, err := s.buildOperation(batch.ID, opReq)
		if err != nil {
			return "", fmt.Errorf("operations[%d]: %w", i, err)
		}
		batch.Operations = append(batch.Operations, op)
	}

	if err := batch.Validate(); err != nil {
		return "", err
	}
	if err := s.store.Add(batch); err != nil {
		return "", fmt.Errorf("failed to register batch: %w", err)
	}

	s.mu.Lock()
	s.stats.TotalJobsCreated++
	snapshot, rev := s.snapshotLocked(batch)
	s.mu.Unlock()

	s.storeSnapshot(ctx, snapshot, rev)

	observability.BatchLogger(s.logger, ctx, batch.ID).Info("batch created",
		zap.Int("totalOperations", n),
		zap.Int("maxConcurrentOperations", batch.MaxConcurrentOperations),
		zap.Bool("callback", callbackURL != ""),
	)

	return batch.ID, nil
}

func (s *BatchService) buildOperation(batchID string, req OperationRequest) (*domain.Operation, error) {
	if strings.TrimSpace(req.Type) == "" {
		return nil, fmt.Errorf("%w: type is required", domain.ErrValidation)
	}
	opType, err := domain.ParseOperationTypeFromString(req.Type)
	if err != nil {
		return nil, err
	}
	if _, ok := s.dispatcher.Handler(opType); !ok {
		return nil, fmt.Errorf("%w: unsupported operation type %q", domain.ErrValidation, opType)
	}

	itemRef := strings.TrimSpace(req.ItemRef)
	if itemRef == "" {
		return nil, fmt.Errorf("%w: itemRef is required", domain.ErrValidation)
	}

	maxRetries := domain.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("%w: maxRetries must not be negative", domain.ErrValidation)
	}
	maxRetries = min(maxRetries, domain.MaxRetriesCeiling)

	return &domain.Operation{
		ID:         s.newID(),
		BatchID:    batchID,
		Type:       opType,
		ItemRef:    itemRef,
		Parameters: req.Parameters,
		Status:     domain.StatusPending,
		MaxRetries: maxRetries,
	}, nil
}

// Start begins executing a Pending batch in the background. It returns false
// for unknown batches, batches that are not Pending, and after Shutdown.
func (s *BatchService) Start(ctx context.Context, batchID string) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, ok := s.store.Get(batchID)
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.closing || !batch.MarkRunning(s.now().UTC()) {
		s.mu.Unlock()
		return false
	}
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.jobs[batch.ID] = cancel
	snapshot, rev := s.snapshotLocked(batch)
	s.wg.Add(1)
	s.mu.Unlock()

	s.storeSnapshot(ctx, snapshot, rev)
	observability.BatchLogger(s.logger, ctx, batch.ID).Info("batch started")

	go s.runBatch(jobCtx, batch)
	return true
}

// GetStatus serves the cached snapshot when present and otherwise rebuilds it
// from the registry, refreshing the cache.
func (s *BatchService) GetStatus(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if s.cache != nil {
		snapshot, found, err := s.cache.Get(ctx, batchID)
		if err != nil {
			s.logger.Warn("status cache read failed",
				zap.String("batchId", batchID),
				zap.Error(err),
			)
		}
		if found && snapshot != nil {
			return snapshot, nil
		}
	}

	snapshot, rev, ok := s.currentSnapshot(batchID)
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	s.storeSnapshot(ctx, snapshot, rev)
	return snapshot, nil
}

// Cancel cancels every operation of a batch that has not been dispatched yet.
// Dispatched operations, including those waiting to retry, finish their own
// attempt loop. It returns false for unknown or already terminal batches.
func (s *BatchService) Cancel(ctx context.Context, batchID string) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, ok := s.store.Get(batchID)
	if !ok {
		return false
	}

	s.mu.Lock()
	if !batch.Cancel(s.now().UTC()) {
		s.mu.Unlock()
		return false
	}
	jobCancel, running := s.jobs[batch.ID]
	if running {
		jobCancel()
	}
	snapshot, rev := s.snapshotLocked(batch)
	s.mu.Unlock()

	s.storeSnapshot(ctx, snapshot, rev)
	observability.BatchLogger(s.logger, ctx, batch.ID).Info("batch cancelled",
		zap.Int("cancelledOperations", snapshot.CancelledOperations),
		zap.Bool("running", running),
	)

	// A running batch reports its terminal state once its in-flight operations finish.
	if !running {
		s.publishTerminal(snapshot)
	}
	return true
}

func (s *BatchService) Statistics() Statistics {
	batches := s.store.List()

	s.mu.Lock()
	stats := s.stats
	running := 0
	for _, b := range batches {
		if b.Status == domain.StatusRunning {
			running++
		}
	}
	s.mu.Unlock()

	stats.ActiveJobsCount = len(batches)
	stats.RunningJobsCount = running
	stats.SupportedOperationTypes = s.dispatcher.SupportedTypes()
	return stats
}

// CleanupCompletedJobs removes terminal batches that finished more than maxAge
// ago from the registry. The status cache expires entries on its own.
func (s *BatchService) CleanupCompletedJobs(maxAge time.Duration) int {
	if maxAge < 0 {
		maxAge = 0
	}
	cutoff := s.now().UTC().Add(-maxAge)

	removed := 0
	for _, b := range s.store.List() {
		s.mu.Lock()
		expired := b.Status.IsTerminal() && b.FinishedAt != nil && b.FinishedAt.Before(cutoff)
		_, running := s.jobs[b.ID]
		s.mu.Unlock()

		if expired && !running && s.store.Delete(b.ID) {
			s.forgetCacheSlot(b.ID)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("removed finished batches from registry",
			zap.Int("removed", removed),
			zap.Duration("maxAge", maxAge),
		)
	}
	return removed
}

// Shutdown stops accepting starts, cancels in-flight work and waits for
// running batches to settle or ctx to expire.
func (s *BatchService) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch service shutdown: %w", ctx.Err())
	}
}

// Wait blocks until every started batch and pending callback has finished.
func (s *BatchService) Wait() {
	s.wg.Wait()
}

func (s *BatchService) registrySnapshot(batchID string) (*domain.BatchSnapshot, bool) {
	snapshot, _, ok := s.currentSnapshot(batchID)
	return snapshot, ok
}

func (s *BatchService) currentSnapshot(batchID string) (*domain.BatchSnapshot, uint64, bool) {
	batch, ok := s.store.Get(batchID)
	if !ok {
		return nil, 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, rev := s.snapshotLocked(batch)
	return snapshot, rev, true
}

// publishTerminal archives a finished batch and announces it. Both are best-effort.
func (s *BatchService) publishTerminal(snapshot *domain.BatchSnapshot) {
	s.metrics.IncBatchFinished(snapshot.Status.String())

	ctx, cancel := s.backgroundContext()
	defer cancel()

	if s.archive != nil {
		if err := s.archive.Save(ctx, snapshot); err != nil {
			s.logger.Warn("failed to archive batch",
				zap.String("batchId", snapshot.BatchID),
				zap.Error(err),
			)
		}
	}

	if s.events != nil {
		event := queue.EventFromSnapshot(snapshot, s.now())
		if err := s.events.PublishEvent(ctx, event); err != nil {
			s.logger.Warn("failed to publish batch event",
				zap.String("batchId", snapshot.BatchID),
				zap.String("status", snapshot.Status.String()),
				zap.Error(err),
			)
		}
	}
}

// backgroundContext outlives Shutdown so final writes still happen.
func (s *BatchService) backgroundContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.ctx), backgroundWriteTimeout)
}

func clampConcurrency(requested int) int {
	if requested <= 0 {
		return domain.DefaultConcurrentOperations
	}
	return min(max(requested, domain.MinConcurrentOperations), domain.MaxConcurrentOperations)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isShutdownError(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}
