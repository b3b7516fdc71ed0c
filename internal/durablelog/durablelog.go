// Package durablelog implements the Durable Log: an append-only per-session
// message log with bounded replay, plus arbitrary key/value state (the
// task board, an optional agent-state blob), backed by Redis.
//
// Grounded on internal/orchestrator's RedisDedupeStore (Get/Set with TTL,
// Ping-on-construct), generalised from a single dedup key to full list/kv
// semantics using Redis lists for the append log and plain GET/SET for the
// KV blob.
package durablelog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Entry is one record in a session's append log.
type Entry struct {
	SessionID string          `json:"sessionId"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	DedupKey  string          `json:"dedupKey"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

// Log is the Durable Log's capability set: the append log plus arbitrary KV.
// BoardStorage (internal/orchestrator) is implemented over Get/Set using the
// "taskBoard:<sessionId>" key named in spec.md §6.
type Log interface {
	Append(ctx context.Context, e Entry) error
	Replay(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DedupSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLog is the Redis-backed Log implementation.
type RedisLog struct {
	client *redis.Client
}

// New constructs a RedisLog and pings the server to validate the connection,
// matching the teacher's NewRedisDedupeStore construction idiom.
func New(addr string) (*RedisLog, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("durablelog: redis ping failed: %w", err)
	}
	return &RedisLog{client: c}, nil
}

func logKey(sessionID string) string { return "log:" + sessionID }

// Append pushes a new entry to the tail of the session's list. Entries are
// JSON-encoded so Replay can reconstruct typed records.
func (l *RedisLog) Append(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("durablelog: marshal entry: %w", err)
	}
	return l.client.RPush(ctx, logKey(e.SessionID), b).Err()
}

// Replay returns up to limit most-recent entries for a session, oldest
// first. limit <= 0 returns the full log.
func (l *RedisLog) Replay(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	key := logKey(sessionID)
	start := int64(0)
	if limit > 0 {
		n, err := l.client.LLen(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("durablelog: llen: %w", err)
		}
		if n > int64(limit) {
			start = n - int64(limit)
		}
	}
	raws, err := l.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("durablelog: lrange: %w", err)
	}
	out := make([]Entry, 0, len(raws))
	for _, r := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Get reads an arbitrary KV entry (e.g. "taskBoard:<sessionId>", "state").
func (l *RedisLog) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("durablelog: get: %w", err)
	}
	return val, true, nil
}

// Set writes an arbitrary KV entry with no expiry (board/state blobs persist
// until explicitly deleted).
func (l *RedisLog) Set(ctx context.Context, key, value string) error {
	return l.client.Set(ctx, key, value, 0).Err()
}

// Delete removes a KV entry (used when a board completes or is abandoned).
func (l *RedisLog) Delete(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}

// DedupSeen reports whether key has already been recorded (true = duplicate)
// and records it with the given TTL if not, in one round trip.
func (l *RedisLog) DedupSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, "dedup:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("durablelog: dedup setnx: %w", err)
	}
	return !ok, nil
}

// Close closes the underlying Redis client.
func (l *RedisLog) Close() error { return l.client.Close() }
