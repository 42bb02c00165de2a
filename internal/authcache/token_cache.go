package authcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor-realtime/internal/cache"
	"github.com/computor-org/computor-realtime/internal/realtime"
)

// ErrAuthFailed is returned for any credential the backing store rejects.
// Callers reject the request immediately; there is no degraded acceptance
// path for authentication.
var ErrAuthFailed = errors.New("authentication failed")

// TokenRecord is the cached outcome of a successful credential validation.
// Prefix is the credential's display prefix, kept for audit logging; the raw
// credential itself is never stored.
type TokenRecord struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Prefix    string    `json:"prefix,omitempty"`
}

// Principal converts the record into the identity attached to a connection.
func (r TokenRecord) Principal() realtime.Principal {
	return realtime.Principal{
		UserID:  r.UserID,
		TokenID: r.TokenID,
		Roles:   r.Roles,
		Scopes:  r.Scopes,
	}
}

// CredentialStore is the authoritative validator consulted on cache misses.
type CredentialStore interface {
	Validate(ctx context.Context, credential string) (TokenRecord, error)
}

// TokenAuthCache caches successful validations under a one-way hash of the
// credential, bounded by a short TTL. Failures are never cached. Revocation
// deletes the cached record synchronously, so the cache window does not apply
// to explicitly revoked tokens; only credentials invalidated upstream without
// a revocation call remain accepted for up to the TTL.
type TokenAuthCache struct {
	client      *redis.Client
	store       CredentialStore
	keys        cache.Keys
	ttl         time.Duration
	trackingTTL time.Duration
	logger      *logrus.Logger
}

func NewTokenAuthCache(client *redis.Client, store CredentialStore, keys cache.Keys, ttl, trackingTTL time.Duration, logger *logrus.Logger) *TokenAuthCache {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	if trackingTTL <= ttl {
		trackingTTL = ttl + 30*time.Second
	}
	return &TokenAuthCache{
		client:      client,
		store:       store,
		keys:        keys,
		ttl:         ttl,
		trackingTTL: trackingTTL,
		logger:      logger,
	}
}

// Validate resolves a raw credential to a token record, consulting the cache
// first. An unreachable cache degrades to validating against the store on
// every call; it never degrades to accepting.
func (a *TokenAuthCache) Validate(ctx context.Context, credential string) (TokenRecord, error) {
	if credential == "" {
		return TokenRecord{}, ErrAuthFailed
	}
	hash := cache.HashCredential(credential)

	raw, err := a.client.Get(ctx, a.keys.Credential(hash)).Bytes()
	if err == nil {
		var record TokenRecord
		if jsonErr := json.Unmarshal(raw, &record); jsonErr == nil {
			if record.ExpiresAt.IsZero() || time.Now().Before(record.ExpiresAt) {
				return record, nil
			}
			// Token expired while cached; drop the record and revalidate.
			a.client.Del(ctx, a.keys.Credential(hash))
		}
	} else if err != redis.Nil {
		a.logger.WithError(err).Warn("Auth cache read failed, validating against store")
	}

	record, err := a.store.Validate(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return TokenRecord{}, ErrAuthFailed
		}
		return TokenRecord{}, fmt.Errorf("validate credential: %w", err)
	}

	a.cacheRecord(ctx, hash, record)
	return record, nil
}

// cacheRecord writes the record plus the two reverse lookups revocation
// needs: token id to hash, and the per-user hash tracking set. The tracking
// set outlives the records it references so no live hash escapes it.
func (a *TokenAuthCache) cacheRecord(ctx context.Context, hash string, record TokenRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	ttl := a.ttl
	if !record.ExpiresAt.IsZero() {
		if remaining := time.Until(record.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}

	pipe := a.client.Pipeline()
	pipe.Set(ctx, a.keys.Credential(hash), data, ttl)
	if record.TokenID != "" {
		pipe.Set(ctx, a.keys.CredentialID(record.TokenID), hash, ttl)
	}
	if record.UserID != "" {
		userKey := a.keys.CredentialUser(record.UserID)
		pipe.SAdd(ctx, userKey, hash)
		pipe.Expire(ctx, userKey, a.trackingTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		a.logger.WithError(err).Warn("Auth cache write failed")
	}
}

// Revoke removes the cached record for one token id. After it returns, the
// next Validate for that credential goes to the store.
func (a *TokenAuthCache) Revoke(ctx context.Context, tokenID string) error {
	idKey := a.keys.CredentialID(tokenID)
	hash, err := a.client.Get(ctx, idKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke token %s: %w", tokenID, err)
	}

	if err := a.client.Del(ctx, a.keys.Credential(hash), idKey).Err(); err != nil {
		return fmt.Errorf("revoke token %s: %w", tokenID, err)
	}
	a.logger.WithField("token_id", tokenID).Info("Revoked cached credential")
	return nil
}

// RevokeAllForUser removes every cached record tracked for the user.
func (a *TokenAuthCache) RevokeAllForUser(ctx context.Context, userID string) error {
	userKey := a.keys.CredentialUser(userID)
	hashes, err := a.client.SMembers(ctx, userKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("revoke user %s: %w", userID, err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, a.keys.Credential(hash))
	}
	keys = append(keys, userKey)

	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke user %s: %w", userID, err)
	}
	a.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"tokens":  len(hashes),
	}).Info("Revoked all cached credentials for user")
	return nil
}
