package statuscache

import (
	"context"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

// Cache is a best-effort store of batch snapshots. It is never the source of truth;
// entries may lag the in-memory registry or expire on their own.
type Cache interface {
	Get(ctx context.Context, batchID string) (*domain.BatchSnapshot, bool, error)
	Set(ctx context.Context, snapshot *domain.BatchSnapshot) error
}
