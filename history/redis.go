package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for session histories.
const redisKeyPrefix = "history:"

// RedisBackend stores each session's history as a Redis list of JSON entries.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Load scans every history key and reads the lists in full.
func (r *RedisBackend) Load(ctx context.Context) (map[string][]Entry, error) {
	out := make(map[string][]Entry)

	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := r.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}

		entries := make([]Entry, 0, len(vals))
		for _, v := range vals {
			var e Entry
			if err := json.Unmarshal([]byte(v), &e); err != nil {
				return nil, fmt.Errorf("decode entry in %s: %w", key, err)
			}
			entries = append(entries, e)
		}
		out[strings.TrimPrefix(key, redisKeyPrefix)] = entries
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan history keys: %w", err)
	}
	return out, nil
}

// Append pushes the entry onto the session's list.
func (r *RedisBackend) Append(ctx context.Context, sessionID string, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.key(sessionID), val).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// key constructs the Redis key for a session ID.
func (r *RedisBackend) key(id string) string {
	return redisKeyPrefix + id
}
