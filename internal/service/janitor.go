package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultJanitorInterval  = 30 * time.Minute
	defaultJanitorRetention = 24 * time.Hour
)

type jobCleaner interface {
	CleanupCompletedJobs(maxAge time.Duration) int
}

// Janitor periodically evicts finished batches from the in-memory registry.
type Janitor struct {
	cleaner   jobCleaner
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
}

func NewJanitor(cleaner jobCleaner, interval time.Duration, retention time.Duration, logger *zap.Logger) (*Janitor, error) {
	if cleaner == nil {
		return nil, fmt.Errorf("job cleaner is required")
	}
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	if retention <= 0 {
		retention = defaultJanitorRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		cleaner:   cleaner,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}, nil
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() int {
	removed := j.cleaner.CleanupCompletedJobs(j.retention)
	if removed > 0 {
		j.logger.Debug("janitor sweep finished",
			zap.Int("removed", removed),
			zap.Duration("retention", j.retention),
		)
	}
	return removed
}
