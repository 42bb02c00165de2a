package authcache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computor-org/computor-realtime/internal/cache"
)

type fakeCredentialStore struct {
	mu      sync.Mutex
	records map[string]TokenRecord
	calls   int
}

func (s *fakeCredentialStore) Validate(_ context.Context, credential string) (TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	record, ok := s.records[credential]
	if !ok {
		return TokenRecord{}, ErrAuthFailed
	}
	return record, nil
}

func (s *fakeCredentialStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupAuthCache(t *testing.T) (*TokenAuthCache, *fakeCredentialStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	store := &fakeCredentialStore{records: map[string]TokenRecord{
		"tok-alice": {TokenID: "t1", UserID: "alice", Roles: []string{"_student"}},
		"tok-bob":   {TokenID: "t2", UserID: "bob"},
	}}
	a := NewTokenAuthCache(client, store, cache.NewKeys("computor"), 120*time.Second, 150*time.Second, testLogger())
	return a, store, mr
}

func TestTokenAuthCache_SuccessIsCached(t *testing.T) {
	a, store, _ := setupAuthCache(t)
	ctx := context.Background()

	record, err := a.Validate(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", record.UserID)

	record, err = a.Validate(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", record.UserID)
	assert.Equal(t, []string{"_student"}, record.Roles)

	assert.Equal(t, 1, store.callCount(), "second validation must be served from the cache")
}

func TestTokenAuthCache_FailureIsNeverCached(t *testing.T) {
	a, store, _ := setupAuthCache(t)
	ctx := context.Background()

	_, err := a.Validate(ctx, "bogus")
	assert.ErrorIs(t, err, ErrAuthFailed)
	_, err = a.Validate(ctx, "bogus")
	assert.ErrorIs(t, err, ErrAuthFailed)

	assert.Equal(t, 2, store.callCount(), "rejections always consult the store")
}

func TestTokenAuthCache_EmptyCredentialRejected(t *testing.T) {
	a, store, _ := setupAuthCache(t)

	_, err := a.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, 0, store.callCount())
}

func TestTokenAuthCache_CacheWindowExpires(t *testing.T) {
	a, store, mr := setupAuthCache(t)
	ctx := context.Background()

	_, err := a.Validate(ctx, "tok-alice")
	require.NoError(t, err)

	mr.FastForward(121 * time.Second)

	_, err = a.Validate(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, 2, store.callCount(), "record past the cache window is revalidated")
}

func TestTokenAuthCache_RevokeTakesEffectImmediately(t *testing.T) {
	a, store, _ := setupAuthCache(t)
	ctx := context.Background()

	_, err := a.Validate(ctx, "tok-alice")
	require.NoError(t, err)

	require.NoError(t, a.Revoke(ctx, "t1"))

	// Upstream rejects the token now; no cache window applies.
	store.mu.Lock()
	delete(store.records, "tok-alice")
	store.mu.Unlock()

	_, err = a.Validate(ctx, "tok-alice")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestTokenAuthCache_RevokeUnknownTokenIsNoOp(t *testing.T) {
	a, _, _ := setupAuthCache(t)
	assert.NoError(t, a.Revoke(context.Background(), "never-seen"))
}

func TestTokenAuthCache_RevokeAllForUser(t *testing.T) {
	a, store, _ := setupAuthCache(t)
	ctx := context.Background()

	_, err := a.Validate(ctx, "tok-alice")
	require.NoError(t, err)
	_, err = a.Validate(ctx, "tok-bob")
	require.NoError(t, err)

	require.NoError(t, a.RevokeAllForUser(ctx, "alice"))

	_, err = a.Validate(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, 3, store.callCount(), "alice's record was purged")

	_, err = a.Validate(ctx, "tok-bob")
	require.NoError(t, err)
	assert.Equal(t, 3, store.callCount(), "bob's record survived")
}

func TestTokenAuthCache_CacheDownStillValidates(t *testing.T) {
	a, store, mr := setupAuthCache(t)
	ctx := context.Background()
	mr.Close()

	record, err := a.Validate(ctx, "tok-alice")
	require.NoError(t, err, "an unreachable cache degrades to per-call validation")
	assert.Equal(t, "alice", record.UserID)

	_, err = a.Validate(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, 2, store.callCount())

	_, err = a.Validate(ctx, "bogus")
	assert.ErrorIs(t, err, ErrAuthFailed, "it never degrades to accepting")
}

func TestTokenAuthCache_RecordTTLCappedByTokenExpiry(t *testing.T) {
	a, store, mr := setupAuthCache(t)
	ctx := context.Background()

	store.mu.Lock()
	store.records["tok-short"] = TokenRecord{
		TokenID:   "t3",
		UserID:    "carol",
		ExpiresAt: time.Now().Add(10 * time.Second),
	}
	store.mu.Unlock()

	_, err := a.Validate(ctx, "tok-short")
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	store.mu.Lock()
	delete(store.records, "tok-short")
	store.mu.Unlock()

	_, err = a.Validate(ctx, "tok-short")
	assert.ErrorIs(t, err, ErrAuthFailed, "a token must not outlive its own expiry in the cache")
}

func signToken(t *testing.T, secret string, claims tokenClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTCredentialStore_ValidToken(t *testing.T) {
	store := NewJWTCredentialStore("secret")

	token := signToken(t, "secret", tokenClaims{
		Roles: []string{"_lecturer"},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	record, err := store.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", record.UserID)
	assert.Equal(t, "jti-1", record.TokenID)
	assert.Equal(t, []string{"_lecturer"}, record.Roles)
}

func TestJWTCredentialStore_Rejections(t *testing.T) {
	store := NewJWTCredentialStore("secret")
	ctx := context.Background()

	wrongKey := signToken(t, "other-secret", tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	})
	_, err := store.Validate(ctx, wrongKey)
	assert.ErrorIs(t, err, ErrAuthFailed)

	expired := signToken(t, "secret", tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	_, err = store.Validate(ctx, expired)
	assert.ErrorIs(t, err, ErrAuthFailed)

	noSubject := signToken(t, "secret", tokenClaims{})
	_, err = store.Validate(ctx, noSubject)
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = store.Validate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestHTTPCredentialStore_Validate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["token"] {
		case "tok-alice":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token_id":"t1","user_id":"alice"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	store := NewHTTPCredentialStore(srv.URL, time.Second)
	ctx := context.Background()

	record, err := store.Validate(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", record.UserID)

	_, err = store.Validate(ctx, "bogus")
	assert.ErrorIs(t, err, ErrAuthFailed)
}
