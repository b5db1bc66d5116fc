// internal/gates/cache.go
package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"solar-salesops/internal/models"
)

// StatusCache stores gate snapshots for stages a deal has already passed.
// The current stage is always evaluated live; only historical stages are
// served from here.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

func snapshotKey(dealID uuid.UUID, stage models.Stage) string {
	return fmt.Sprintf("gates:%s:%s", dealID, stage)
}

// Get returns the cached snapshot for a deal and stage. The second return
// value reports whether a snapshot was present.
func (c *StatusCache) Get(ctx context.Context, dealID uuid.UUID, stage models.Stage) ([]models.GateWithStatus, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, snapshotKey(dealID, stage)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read gate snapshot: %w", err)
	}

	var statuses []models.GateWithStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, false, fmt.Errorf("failed to decode gate snapshot: %w", err)
	}
	return statuses, true, nil
}

// Set stores a snapshot of the given stage's gate statuses.
func (c *StatusCache) Set(ctx context.Context, dealID uuid.UUID, stage models.Stage, statuses []models.GateWithStatus) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("failed to encode gate snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(dealID, stage), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write gate snapshot: %w", err)
	}
	return nil
}
