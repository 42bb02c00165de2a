package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/computor-org/computor-realtime/internal/cache"
)

// PresenceTracker keeps a TTL-based "is this user online" record per user,
// independent of message delivery. Records expire naturally; no explicit
// delete is needed.
type PresenceTracker struct {
	client *redis.Client
	keys   cache.Keys
	ttl    time.Duration
}

func NewPresenceTracker(client *redis.Client, keys cache.Keys, ttl time.Duration) *PresenceTracker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PresenceTracker{client: client, keys: keys, ttl: ttl}
}

// Touch refreshes the user's presence record, called on connect and on every
// ping.
func (p *PresenceTracker) Touch(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return p.client.Set(ctx, p.keys.Presence(userID), now, p.ttl).Err()
}

// IsOnline reports whether the user's presence record is still alive.
func (p *PresenceTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, p.keys.Presence(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastSeen returns the recorded last activity time, or ok=false when the
// record has expired.
func (p *PresenceTracker) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, err := p.client.Get(ctx, p.keys.Presence(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}
