// Package cache stores derived anchor staleness in Redis, keyed by content version.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"lessonmark/api/internal/anchor"
)

// Entry is the cached outcome of validating one comment anchor against one content version.
type Entry struct {
	Stale       bool               `json:"stale"`
	CurrentText string             `json:"current_text"`
	Suggested   *anchor.TextAnchor `json:"suggested,omitempty"`
}

// StalenessCache keeps one Redis hash per (content, version). Fields are caller-chosen
// comment keys, so a new content version naturally starts from an empty hash.
type StalenessCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStalenessCache connects to Redis and verifies the connection.
func NewStalenessCache(redisURL string, ttl time.Duration) (*StalenessCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewStalenessCacheWithClient(client, ttl), nil
}

// NewStalenessCacheWithClient creates a cache from an existing Redis client.
func NewStalenessCacheWithClient(client *redis.Client, ttl time.Duration) *StalenessCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StalenessCache{
		client: client,
		prefix: "staleness:",
		ttl:    ttl,
	}
}

func (c *StalenessCache) key(contentID string, version int64) string {
	return c.prefix + contentID + ":" + strconv.FormatInt(version, 10)
}

// Get returns the cached entries for fields; missing or undecodable fields are absent from the map.
func (c *StalenessCache) Get(ctx context.Context, contentID string, version int64, fields []string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	values, err := c.client.HMGet(ctx, c.key(contentID, version), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("read staleness: %w", err)
	}
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			continue
		}
		out[fields[i]] = entry
	}
	return out, nil
}

// Put stores entries and refreshes the hash TTL.
func (c *StalenessCache) Put(ctx context.Context, contentID string, version int64, entries map[string]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(entries))
	for field, entry := range entries {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal staleness entry: %w", err)
		}
		values[field] = encoded
	}

	key := c.key(contentID, version)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write staleness: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *StalenessCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *StalenessCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
