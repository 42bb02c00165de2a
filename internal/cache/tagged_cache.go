package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TagIndexMargin is how much longer a tag index set lives than the longest
// entry written under it. The index may therefore reference an expired key
// for at most this long; reads treat such hits as misses.
const TagIndexMargin = 60 * time.Second

// Entry is the serialized envelope stored for every cache value. Redis
// enforces the TTL, but the absolute expiry is kept alongside the value so a
// read through a stale index entry can be rejected.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// TaggedCache is a key/value store with TTL and a reverse tag index, shared
// by every data-access repository. All operations are single independent
// Redis requests; no transaction spans more than one call.
type TaggedCache struct {
	client    *redis.Client
	keys      Keys
	opTimeout time.Duration
	logger    *logrus.Logger
	metrics   *Metrics
}

func NewTaggedCache(client *redis.Client, keys Keys, logger *logrus.Logger) *TaggedCache {
	return &TaggedCache{
		client:    client,
		keys:      keys,
		opTimeout: 2 * time.Second,
		logger:    logger,
		metrics:   &Metrics{},
	}
}

// WithOpTimeout overrides the per-operation timeout.
func (c *TaggedCache) WithOpTimeout(d time.Duration) *TaggedCache {
	if d > 0 {
		c.opTimeout = d
	}
	return c
}

func (c *TaggedCache) Keys() Keys {
	return c.keys
}

func (c *TaggedCache) Metrics() Metrics {
	return c.metrics.Snapshot()
}

func (c *TaggedCache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get reads key into dest. It returns (false, nil) on a miss, on an expired
// envelope, and when the store is unreachable: the caller falls back to the
// authoritative store either way. An error is returned only when the cached
// payload cannot be decoded into dest.
func (c *TaggedCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.metrics.miss()
		return false, nil
	}
	if err != nil {
		c.metrics.getError()
		c.logger.WithError(err).WithField("key", key).Warn("Cache read failed, treating as miss")
		return false, nil
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupted envelope; drop it and miss.
		c.client.Del(ctx, key)
		c.metrics.miss()
		return false, nil
	}

	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		// Reached through a stale index entry or a clock edge; self-heals.
		c.client.Del(ctx, key)
		c.metrics.staleDrop()
		c.metrics.miss()
		return false, nil
	}

	if err := json.Unmarshal(entry.Value, dest); err != nil {
		return false, fmt.Errorf("cache: decode %q: %w", key, err)
	}

	c.metrics.hit()
	return true, nil
}

// Set writes the entry and registers key under every tag. The index sets get
// a TTL of ttl+TagIndexMargin, raised but never lowered for sets that already
// track longer-lived entries, so the index never expires before an entry it
// references.
func (c *TaggedCache) Set(ctx context.Context, key string, value interface{}, tags []string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache: set %q without TTL ceiling", key)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	now := time.Now()
	data, err := json.Marshal(Entry{
		Value:     payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("cache: encode envelope %q: %w", key, err)
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, data, ttl)
	indexTTL := ttl + TagIndexMargin
	for _, tag := range tags {
		tagKey := c.keys.Tag(tag)
		pipe.SAdd(ctx, tagKey, key)
		pipe.ExpireNX(ctx, tagKey, indexTTL)
		pipe.ExpireGT(ctx, tagKey, indexTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.metrics.setError()
		return fmt.Errorf("cache: set %q: %w", key, err)
	}

	c.metrics.set()
	return nil
}

// InvalidateTag deletes every entry registered under tag plus the index set
// itself. A Set racing with the invalidation may leave one stale entry; its
// TTL ceiling bounds the damage.
func (c *TaggedCache) InvalidateTag(ctx context.Context, tag string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	tagKey := c.keys.Tag(tag)
	members, err := c.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return fmt.Errorf("cache: read tag index %q: %w", tag, err)
	}

	pipe := c.client.Pipeline()
	if len(members) > 0 {
		pipe.Del(ctx, members...)
	}
	pipe.Del(ctx, tagKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: invalidate tag %q: %w", tag, err)
	}

	c.metrics.invalidate(int64(len(members)))
	c.logger.WithFields(logrus.Fields{
		"tag":  tag,
		"keys": len(members),
	}).Debug("Invalidated cache tag")
	return nil
}

// InvalidateKey deletes a single entry directly, bypassing the tag index.
// The index entries pointing at it are pruned lazily.
func (c *TaggedCache) InvalidateKey(ctx context.Context, key string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: invalidate key %q: %w", key, err)
	}
	c.metrics.delete()
	return nil
}

// TagMembers exposes the live contents of a tag index set.
func (c *TaggedCache) TagMembers(ctx context.Context, tag string) ([]string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.client.SMembers(ctx, c.keys.Tag(tag)).Result()
}

func (c *TaggedCache) Ping(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.client.Ping(ctx).Err()
}
