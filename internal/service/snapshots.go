package service

import (
	"context"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"go.uber.org/zap"
)

// cacheSlot tracks the newest snapshot handed to the cache for one batch.
type cacheSlot struct {
	latest    *domain.BatchSnapshot
	latestRev uint64
}

// snapshotLocked copies the batch and stamps the copy with a service-wide
// revision. Callers hold s.mu, so a higher revision never carries older state.
func (s *BatchService) snapshotLocked(batch *domain.Batch) (*domain.BatchSnapshot, uint64) {
	s.revision++
	return batch.Snapshot(), s.revision
}

// storeSnapshot writes a snapshot to the status cache unless a newer one was
// already handed over. Writes may finish out of order, so after each write the
// writer re-checks and rewrites the newest snapshot if its own was overtaken.
func (s *BatchService) storeSnapshot(ctx context.Context, snapshot *domain.BatchSnapshot, rev uint64) {
	if s.cache == nil || snapshot == nil {
		return
	}

	s.cacheMu.Lock()
	slot, ok := s.cacheSlots[snapshot.BatchID]
	if !ok {
		slot = &cacheSlot{}
		s.cacheSlots[snapshot.BatchID] = slot
	}
	if rev < slot.latestRev {
		s.cacheMu.Unlock()
		return
	}
	slot.latest, slot.latestRev = snapshot, rev
	s.cacheMu.Unlock()

	for {
		if err := s.cache.Set(ctx, snapshot); err != nil {
			s.logger.Warn("status cache write failed",
				zap.String("batchId", snapshot.BatchID),
				zap.Error(err),
			)
			return
		}

		s.cacheMu.Lock()
		if slot.latestRev == rev {
			s.cacheMu.Unlock()
			return
		}
		snapshot, rev = slot.latest, slot.latestRev
		s.cacheMu.Unlock()
	}
}

func (s *BatchService) forgetCacheSlot(batchID string) {
	s.cacheMu.Lock()
	delete(s.cacheSlots, batchID)
	s.cacheMu.Unlock()
}
