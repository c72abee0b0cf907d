package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/statuscache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultStatusTTL = time.Hour
	statusKeyPrefix  = "batch:status:"
)

var _ statuscache.Cache = (*StatusCache)(nil)

// StatusCache stores JSON batch snapshots in Redis with a TTL.
type StatusCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewStatusCache(client *goredis.Client, ttl time.Duration) (*StatusCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusCache{client: client, ttl: ttl}, nil
}

func (c *StatusCache) Get(ctx context.Context, batchID string) (*domain.BatchSnapshot, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, fmt.Errorf("status cache is not initialized")
	}

	raw, err := c.client.Get(ctx, statusKey(batchID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read batch status: %w", err)
	}

	var snapshot domain.BatchSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to decode batch status: %w", err)
	}
	return &snapshot, true, nil
}

func (c *StatusCache) Set(ctx context.Context, snapshot *domain.BatchSnapshot) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("status cache is not initialized")
	}
	if snapshot == nil || strings.TrimSpace(snapshot.BatchID) == "" {
		return fmt.Errorf("snapshot with batch id is required")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode batch status: %w", err)
	}

	if err := c.client.Set(ctx, statusKey(snapshot.BatchID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write batch status: %w", err)
	}
	return nil
}

func statusKey(batchID string) string {
	return statusKeyPrefix + strings.TrimSpace(batchID)
}
