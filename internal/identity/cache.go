package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const snapshotTTL = 15 * time.Minute

// SnapshotCache keeps account snapshots in Redis so the webhook hot path
// avoids a Postgres round trip per inbound message. Entries expire quickly
// because plan and credit fields drift.
type SnapshotCache struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewSnapshotCache builds the cache.
func NewSnapshotCache(redisClient *redis.Client) *SnapshotCache {
	if redisClient == nil {
		panic("identity: redis client cannot be nil")
	}
	return &SnapshotCache{
		redis:  redisClient,
		tracer: otel.Tracer("internal/identity"),
	}
}

func snapshotKey(channelAddress string) string {
	return fmt.Sprintf("account:context:%s", channelAddress)
}

// Get returns the cached snapshot for a channel address, or nil on a miss.
func (c *SnapshotCache) Get(ctx context.Context, channelAddress string) (*UserContext, error) {
	ctx, span := c.tracer.Start(ctx, "identity.cache_get")
	defer span.End()

	data, err := c.redis.Get(ctx, snapshotKey(channelAddress)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("identity: cache read: %w", err)
	}

	var snapshot UserContext
	if err := json.Unmarshal(data, &snapshot); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("identity: cache decode: %w", err)
	}
	return &snapshot, nil
}

// Set stores the snapshot under the channel address.
func (c *SnapshotCache) Set(ctx context.Context, channelAddress string, snapshot *UserContext) error {
	ctx, span := c.tracer.Start(ctx, "identity.cache_set")
	defer span.End()

	data, err := json.Marshal(snapshot)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("identity: cache encode: %w", err)
	}
	if err := c.redis.Set(ctx, snapshotKey(channelAddress), data, snapshotTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("identity: cache write: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot, used when account settings change.
func (c *SnapshotCache) Invalidate(ctx context.Context, channelAddress string) error {
	if err := c.redis.Del(ctx, snapshotKey(channelAddress)).Err(); err != nil {
		return fmt.Errorf("identity: cache invalidate: %w", err)
	}
	return nil
}
