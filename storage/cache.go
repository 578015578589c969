package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/idejanristic/tierListMaker/domain"
)

// SnapshotCache keeps the latest snapshot of each board in Redis and
// announces every committed snapshot on a pub/sub channel.
type SnapshotCache struct {
	redis   *redis.Client
	ttl     time.Duration
	channel string
}

// Update is the message published for each committed snapshot.
type Update struct {
	UserID   string          `json:"userId"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

// NewSnapshotCache creates a cache. A nil client turns every call into a
// no-op; an empty channel disables publishing.
func NewSnapshotCache(client *redis.Client, ttl time.Duration, channel string) *SnapshotCache {
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotCache{redis: client, ttl: ttl, channel: channel}
}

// Store saves snap for userID and publishes it.
func (c *SnapshotCache) Store(ctx context.Context, userID string, snap domain.Snapshot) error {
	if c == nil || c.redis == nil {
		return nil
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return err
	}
	if c.ttl > 0 {
		if err := c.redis.Set(ctx, snapshotCacheKey(userID), data, c.ttl).Err(); err != nil {
			return err
		}
	}
	if c.channel == "" {
		return nil
	}
	msg, err := sonic.Marshal(Update{UserID: userID, Snapshot: snap})
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, c.channel, msg).Err()
}

// Evict removes the cached snapshot for userID.
func (c *SnapshotCache) Evict(ctx context.Context, userID string) {
	if c == nil || c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, snapshotCacheKey(userID)).Err()
}

func snapshotCacheKey(userID string) string {
	return "board:" + userID
}
