package repository

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computor-org/computor-realtime/internal/cache"
	"github.com/computor-org/computor-realtime/internal/events"
)

var errNotFound = errors.New("not found")

type fakeContentStore struct {
	mu      sync.Mutex
	items   map[string]CourseContent
	gets    int
	queries int
	inserts int
	updates int
	deletes int
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{items: map[string]CourseContent{}}
}

func (s *fakeContentStore) GetByID(_ context.Context, id string) (CourseContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	item, ok := s.items[id]
	if !ok {
		return CourseContent{}, errNotFound
	}
	return item, nil
}

func (s *fakeContentStore) Query(_ context.Context, filters Filters) ([]CourseContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	var out []CourseContent
	for _, item := range s.items {
		if course := filters["course_id"]; course != "" && item.CourseID != course {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *fakeContentStore) Insert(_ context.Context, entity CourseContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.items[entity.ID] = entity
	return nil
}

func (s *fakeContentStore) Update(_ context.Context, entity CourseContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if _, ok := s.items[entity.ID]; !ok {
		return errNotFound
	}
	s.items[entity.ID] = entity
	return nil
}

func (s *fakeContentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.items, id)
	return nil
}

func (s *fakeContentStore) counts() (gets, queries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.queries
}

type capturingPublisher struct {
	mu       sync.Mutex
	channels []string
	types    []string
}

func (p *capturingPublisher) Publish(_ context.Context, channel, eventType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.types = append(p.types, eventType)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupRepo(t *testing.T) (*CachedRepository[CourseContent], *fakeContentStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	store := newFakeContentStore()
	tagged := cache.NewTaggedCache(client, cache.NewKeys("computor"), testLogger())
	repo := NewCachedRepository[CourseContent](store, tagged, CourseContentSpec{}, nil, testLogger())
	return repo, store, mr
}

func TestRepository_GetReadsThroughCache(t *testing.T) {
	repo, store, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, CourseContent{ID: "cc1", CourseID: "c1", Title: "Week 1"}))

	first, err := repo.Get(ctx, "cc1")
	require.NoError(t, err)
	assert.Equal(t, "Week 1", first.Title)

	second, err := repo.Get(ctx, "cc1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	gets, _ := store.counts()
	assert.Equal(t, 1, gets, "second read must be served from the cache")
}

func TestRepository_GetMissReturnsStoreError(t *testing.T) {
	repo, _, _ := setupRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errNotFound)
}

func TestRepository_ListCachedBySignature(t *testing.T) {
	repo, store, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, CourseContent{ID: "cc1", CourseID: "c1"}))
	require.NoError(t, store.Insert(ctx, CourseContent{ID: "cc2", CourseID: "c2"}))

	list, err := repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)

	_, queries := store.counts()
	assert.Equal(t, 1, queries, "identical filters share one cache entry")

	_, err = repo.List(ctx, Filters{"course_id": "c2"})
	require.NoError(t, err)
	_, queries = store.counts()
	assert.Equal(t, 2, queries, "different filters are distinct entries")
}

func TestRepository_CreateInvalidatesParentViews(t *testing.T) {
	repo, store, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, CourseContent{ID: "cc1", CourseID: "c1"}))
	_, err := repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, CourseContent{ID: "cc2", CourseID: "c1"}))

	list, err := repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)
	assert.Len(t, list, 2, "cached list must be refreshed after the write")
}

func TestRepository_UpdateInvalidatesOldAndNewParent(t *testing.T) {
	repo, store, _ := setupRepo(t)
	ctx := context.Background()

	old := CourseContent{ID: "cc1", CourseID: "c1"}
	require.NoError(t, store.Insert(ctx, old))
	require.NoError(t, store.Insert(ctx, CourseContent{ID: "cc2", CourseID: "c2"}))

	// Warm both parents' views.
	listA, err := repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)
	require.Len(t, listA, 1)
	listB, err := repo.List(ctx, Filters{"course_id": "c2"})
	require.NoError(t, err)
	require.Len(t, listB, 1)

	moved := old
	moved.CourseID = "c2"
	require.NoError(t, repo.Update(ctx, old, moved))

	listA, err = repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)
	assert.Empty(t, listA, "old parent's view must not show the moved entity")

	listB, err = repo.List(ctx, Filters{"course_id": "c2"})
	require.NoError(t, err)
	assert.Len(t, listB, 2, "new parent's view must include the moved entity")
}

func TestRepository_DeleteDropsEntityAndViews(t *testing.T) {
	repo, store, _ := setupRepo(t)
	ctx := context.Background()

	entity := CourseContent{ID: "cc1", CourseID: "c1"}
	require.NoError(t, store.Insert(ctx, entity))

	_, err := repo.Get(ctx, "cc1")
	require.NoError(t, err)
	_, err = repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, entity))

	_, err = repo.Get(ctx, "cc1")
	assert.ErrorIs(t, err, errNotFound, "entity key must be gone from the cache")

	list, err := repo.List(ctx, Filters{"course_id": "c1"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRepository_CacheDownDegradesToStore(t *testing.T) {
	repo, store, mr := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, CourseContent{ID: "cc1", CourseID: "c1", Title: "Week 1"}))
	mr.Close()

	got, err := repo.Get(ctx, "cc1")
	require.NoError(t, err, "an unreachable cache must not fail reads")
	assert.Equal(t, "Week 1", got.Title)

	require.NoError(t, repo.Create(ctx, CourseContent{ID: "cc2", CourseID: "c1"}),
		"an unreachable cache must not fail committed writes")
	assert.Equal(t, 2, len(store.items))
}

func TestRepository_WritesEmitChangeEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	pub := &capturingPublisher{}
	bus := events.NewBus(pub, 16, 1, testLogger())

	store := newFakeContentStore()
	tagged := cache.NewTaggedCache(client, cache.NewKeys("computor"), testLogger())
	repo := NewCachedRepository[CourseContent](store, tagged, CourseContentSpec{}, bus, testLogger())
	ctx := context.Background()

	entity := CourseContent{ID: "cc1", CourseID: "c1"}
	require.NoError(t, repo.Create(ctx, entity))
	updated := entity
	updated.Title = "renamed"
	require.NoError(t, repo.Update(ctx, entity, updated))
	require.NoError(t, repo.Delete(ctx, updated))
	bus.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.types, 3)
	assert.Equal(t, []string{"course_content:new", "course_content:update", "course_content:delete"}, pub.types)
	for _, ch := range pub.channels {
		assert.Equal(t, "course_content:cc1", ch, "events go to the entity's own channel")
	}
}

func TestSpecs_QueryTagsNarrowWithFilters(t *testing.T) {
	spec := CourseContentSpec{}

	assert.Equal(t, []string{"course_content:list"}, spec.TagsForQuery(nil))
	assert.Equal(t, []string{"course:c1"}, spec.TagsForQuery(Filters{"course_id": "c1"}))
	assert.Equal(t, []string{"course_content:list"}, spec.TagsForQuery(Filters{"title": "x"}),
		"unrecognized filters fall back to the broad list tag")
}

func TestSpecs_EntityTagsCoverForeignKeys(t *testing.T) {
	r := Result{ID: "r1", SubmissionGroupID: "sg1", CourseContentID: "cc1", CourseMemberID: "m1"}
	tags := ResultSpec{}.TagsForEntity(r)

	assert.ElementsMatch(t, []string{
		"result:r1", "result:list", "submission_group:sg1", "course_content:cc1", "course_member:m1",
	}, tags)
}

func TestSpecs_TTLDefaults(t *testing.T) {
	assert.Equal(t, 5*time.Minute, CourseSpec{}.TTL())
	assert.Equal(t, time.Minute, CourseSpec{}.ListTTL())

	custom := CourseSpec{ttls{EntityTTL: time.Hour, QueryTTL: 10 * time.Minute}}
	assert.Equal(t, time.Hour, custom.TTL())
	assert.Equal(t, 10*time.Minute, custom.ListTTL())
}
