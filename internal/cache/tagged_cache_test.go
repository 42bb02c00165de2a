package cache

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTaggedCache(t *testing.T) (*TaggedCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tc := NewTaggedCache(client, NewKeys("computor"), testLogger())

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return tc, mr
}

type course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestTaggedCache_SetGet(t *testing.T) {
	tc, _ := setupTaggedCache(t)
	ctx := context.Background()

	key := tc.Keys().Entity("course", "42")
	err := tc.Set(ctx, key, course{ID: "42", Title: "A"}, []string{"course:42", "course:list"}, time.Minute)
	require.NoError(t, err)

	var got course
	found, err := tc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "A", got.Title)

	m := tc.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Sets)
}

func TestTaggedCache_GetMiss(t *testing.T) {
	tc, _ := setupTaggedCache(t)

	var got course
	found, err := tc.Get(context.Background(), tc.Keys().Entity("course", "missing"), &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(1), tc.Metrics().Misses)
}

func TestTaggedCache_InvalidateTag(t *testing.T) {
	tc, _ := setupTaggedCache(t)
	ctx := context.Background()

	key := tc.Keys().Entity("course", "42")
	require.NoError(t, tc.Set(ctx, key, course{ID: "42", Title: "A"}, []string{"course:42", "course:list"}, time.Minute))

	require.NoError(t, tc.InvalidateTag(ctx, "course:42"))

	var got course
	found, err := tc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found, "entry must be gone after its tag is invalidated")

	members, err := tc.TagMembers(ctx, "course:42")
	require.NoError(t, err)
	assert.Empty(t, members, "tag index set must be deleted with its entries")
}

func TestTaggedCache_InvalidateTag_OnlyMatchingKeys(t *testing.T) {
	tc, _ := setupTaggedCache(t)
	ctx := context.Background()

	courseKey := tc.Keys().Entity("course", "42")
	otherKey := tc.Keys().Entity("course", "7")
	require.NoError(t, tc.Set(ctx, courseKey, course{ID: "42"}, []string{"course:42"}, time.Minute))
	require.NoError(t, tc.Set(ctx, otherKey, course{ID: "7"}, []string{"course:7"}, time.Minute))

	require.NoError(t, tc.InvalidateTag(ctx, "course:42"))

	var got course
	found, err := tc.Get(ctx, otherKey, &got)
	require.NoError(t, err)
	assert.True(t, found, "unrelated keys survive a tag invalidation")
}

func TestTaggedCache_InvalidateTag_SharedKey(t *testing.T) {
	tc, _ := setupTaggedCache(t)
	ctx := context.Background()

	// A list entry tagged with two tags must die when either is invalidated.
	listKey := tc.Keys().List("course", "abc")
	require.NoError(t, tc.Set(ctx, listKey, []course{{ID: "42"}}, []string{"course:list", "organization:1"}, time.Minute))

	require.NoError(t, tc.InvalidateTag(ctx, "organization:1"))

	var got []course
	found, err := tc.Get(ctx, listKey, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTaggedCache_InvalidateKey(t *testing.T) {
	tc, _ := setupTaggedCache(t)
	ctx := context.Background()

	key := tc.Keys().Entity("course", "42")
	require.NoError(t, tc.Set(ctx, key, course{ID: "42"}, []string{"course:42"}, time.Minute))
	require.NoError(t, tc.InvalidateKey(ctx, key))

	var got course
	found, err := tc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTaggedCache_TTLExpiry(t *testing.T) {
	tc, mr := setupTaggedCache(t)
	ctx := context.Background()

	key := tc.Keys().Entity("course", "42")
	require.NoError(t, tc.Set(ctx, key, course{ID: "42"}, []string{"course:42"}, 10*time.Second))

	mr.FastForward(11 * time.Second)

	var got course
	found, err := tc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found, "no entry is ever returned past its expiry")
}

func TestTaggedCache_StaleIndexEntryTreatedAsMiss(t *testing.T) {
	tc, mr := setupTaggedCache(t)
	ctx := context.Background()

	// Plant an envelope whose internal expiry already passed but whose Redis
	// key still exists, as happens when the index outlives the entry it
	// references.
	key := tc.Keys().Entity("course", "42")
	payload, err := json.Marshal(course{ID: "42"})
	require.NoError(t, err)
	env, err := json.Marshal(Entry{
		Value:     payload,
		CreatedAt: time.Now().Add(-2 * time.Minute),
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set(key, string(env)))

	var got course
	found, err := tc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found, "expired envelope behind a live key is a miss")
	assert.False(t, mr.Exists(key), "expired envelope is pruned eagerly")
	assert.Equal(t, int64(1), tc.Metrics().StaleDrops)
}

func TestTaggedCache_TagIndexOutlivesEntries(t *testing.T) {
	tc, mr := setupTaggedCache(t)
	ctx := context.Background()

	key := tc.Keys().Entity("course", "42")
	require.NoError(t, tc.Set(ctx, key, course{ID: "42"}, []string{"course:42"}, 10*time.Second))

	entryTTL := mr.TTL(key)
	indexTTL := mr.TTL(tc.Keys().Tag("course:42"))
	assert.Greater(t, indexTTL, entryTTL, "index entry TTL must be >= entry TTL")
}

func TestTaggedCache_SetRejectsZeroTTL(t *testing.T) {
	tc, _ := setupTaggedCache(t)
	assert.Error(t, tc.Set(context.Background(), "k", course{}, nil, 0))
}

func TestTaggedCache_StoreDownDegradesToMiss(t *testing.T) {
	tc, mr := setupTaggedCache(t)
	ctx := context.Background()

	key := tc.Keys().Entity("course", "42")
	require.NoError(t, tc.Set(ctx, key, course{ID: "42"}, []string{"course:42"}, time.Minute))

	mr.Close()

	var got course
	found, err := tc.Get(ctx, key, &got)
	require.NoError(t, err, "an unreachable store must not fail the read")
	assert.False(t, found)
	assert.Equal(t, int64(1), tc.Metrics().GetErrors)

	assert.Error(t, tc.Set(ctx, key, course{ID: "42"}, nil, time.Minute))
	assert.Error(t, tc.InvalidateTag(ctx, "course:42"))
}

func TestFilterSignature_Deterministic(t *testing.T) {
	a := FilterSignature(map[string]string{"course_id": "42", "status": "open"})
	b := FilterSignature(map[string]string{"status": "open", "course_id": "42"})
	assert.Equal(t, a, b)

	c := FilterSignature(map[string]string{"course_id": "43", "status": "open"})
	assert.NotEqual(t, a, c)

	assert.Equal(t, "all", FilterSignature(nil))
}

func TestKeys_Layout(t *testing.T) {
	k := NewKeys("computor")
	assert.Equal(t, "computor:course:42", k.Entity("course", "42"))
	assert.Equal(t, "computor:course:list:abc", k.List("course", "abc"))
	assert.Equal(t, "computor:tag:course:42", k.Tag("course:42"))
	assert.Equal(t, "computor:credential:h", k.Credential("h"))
	assert.Equal(t, "computor:credential:id:t", k.CredentialID("t"))
	assert.Equal(t, "computor:credential:user:u", k.CredentialUser("u"))
	assert.Equal(t, "computor:presence:u", k.Presence("u"))
}
