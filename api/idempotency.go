package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "dedupe:"

// RedisDeduper remembers the idempotency keys of applied events per user so
// a retried batch is not applied twice. Keys expire after ttl.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(userID, key string) string {
	return dedupeKeyPrefix + userID + ":" + key
}

// Remove forgets key, so a later batch carrying it is applied again.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, dedupeKey(userID, key)).Err()
}

// AddMany records keys with one SETNX each, sent as a single pipeline.
// results[i] is true when keys[i] was not known before. When the pipeline
// fails part way, results still reports the keys that were recorded so the
// caller can remove them again.
func (r *RedisDeduper) AddMany(ctx context.Context, userID string, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	setCmds := make([]*redis.BoolCmd, len(keys))
	_, pipeErr := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			setCmds[i] = pipe.SetNX(ctx, dedupeKey(userID, key), 1, r.ttl)
		}
		return nil
	})

	results := make([]bool, len(keys))
	var firstErr error
	for i, cmd := range setCmds {
		recorded, err := cmd.Result()
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("record key %s: %w", keys[i], err)
			}
			continue
		}
		results[i] = recorded
	}
	if pipeErr != nil {
		return results, pipeErr
	}
	return results, firstErr
}
