package repository

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor-realtime/internal/cache"
	"github.com/computor-org/computor-realtime/internal/events"
)

// CachedRepository wraps an authoritative store with the shared tagged cache
// and the change bus. Reads go through the cache; writes commit to the store
// first, then invalidate the affected tags best-effort, then emit a change
// event. A cache or bus failure after a committed write is logged and
// absorbed, never propagated to the caller.
type CachedRepository[T Entity] struct {
	store  Store[T]
	cache  *cache.TaggedCache
	spec   CacheSpec[T]
	bus    *events.Bus
	logger *logrus.Logger
}

func NewCachedRepository[T Entity](store Store[T], c *cache.TaggedCache, spec CacheSpec[T], bus *events.Bus, logger *logrus.Logger) *CachedRepository[T] {
	return &CachedRepository[T]{
		store:  store,
		cache:  c,
		spec:   spec,
		bus:    bus,
		logger: logger,
	}
}

// Get reads one entity through the cache. A miss, an expired envelope, or an
// unreachable cache all fall through to the store; the fetched entity is then
// cached under its tags.
func (r *CachedRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var entity T
	key := r.cache.Keys().Entity(r.spec.EntityType(), id)

	hit, err := r.cache.Get(ctx, key, &entity)
	if err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Cache decode failed, falling back to store")
	}
	if hit {
		return entity, nil
	}

	entity, err = r.store.GetByID(ctx, id)
	if err != nil {
		return entity, fmt.Errorf("%s %s: %w", r.spec.EntityType(), id, err)
	}

	if err := r.cache.Set(ctx, key, entity, r.spec.TagsForEntity(entity), r.spec.TTL()); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Cache fill failed")
	}
	return entity, nil
}

// List reads a query result through the cache. The cache key is derived from
// the filter signature, so identical filters share one entry; the tags come
// from the filters, so a write to any matching entity invalidates it.
func (r *CachedRepository[T]) List(ctx context.Context, filters Filters) ([]T, error) {
	var entities []T
	key := r.cache.Keys().List(r.spec.EntityType(), cache.FilterSignature(filters))

	hit, err := r.cache.Get(ctx, key, &entities)
	if err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Cache decode failed, falling back to store")
	}
	if hit {
		return entities, nil
	}

	entities, err = r.store.Query(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%s list: %w", r.spec.EntityType(), err)
	}

	if err := r.cache.Set(ctx, key, entities, r.spec.TagsForQuery(filters), r.spec.ListTTL()); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Cache fill failed")
	}
	return entities, nil
}

// Create commits the entity, then invalidates its tags and emits the change
// event. The commit is never rolled back for a cache or bus failure.
func (r *CachedRepository[T]) Create(ctx context.Context, entity T) error {
	if err := r.store.Insert(ctx, entity); err != nil {
		return fmt.Errorf("insert %s: %w", r.spec.EntityType(), err)
	}

	r.invalidate(ctx, r.spec.TagsForEntity(entity))
	r.emit(entity, events.ActionNew)
	return nil
}

// Update commits the new state, then invalidates the union of the tags of the
// pre-write and post-write snapshots. Both snapshots matter: a foreign-key
// move must flush cached views on the old parent as well as the new one.
func (r *CachedRepository[T]) Update(ctx context.Context, old, updated T) error {
	if err := r.store.Update(ctx, updated); err != nil {
		return fmt.Errorf("update %s %s: %w", r.spec.EntityType(), updated.EntityID(), err)
	}

	r.invalidate(ctx, unionTags(r.spec.TagsForEntity(old), r.spec.TagsForEntity(updated)))
	r.emit(updated, events.ActionUpdate)
	return nil
}

// Delete commits the removal, then drops the entity key directly and
// invalidates the last snapshot's tags.
func (r *CachedRepository[T]) Delete(ctx context.Context, entity T) error {
	if err := r.store.Delete(ctx, entity.EntityID()); err != nil {
		return fmt.Errorf("delete %s %s: %w", r.spec.EntityType(), entity.EntityID(), err)
	}

	key := r.cache.Keys().Entity(r.spec.EntityType(), entity.EntityID())
	if err := r.cache.InvalidateKey(ctx, key); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Cache invalidation failed")
	}
	r.invalidate(ctx, r.spec.TagsForEntity(entity))
	r.emit(entity, events.ActionDelete)
	return nil
}

func (r *CachedRepository[T]) invalidate(ctx context.Context, tags []string) {
	for _, tag := range tags {
		if err := r.cache.InvalidateTag(ctx, tag); err != nil {
			r.logger.WithError(err).WithField("tag", tag).Warn("Cache invalidation failed")
		}
	}
}

func (r *CachedRepository[T]) emit(entity T, action string) {
	if r.bus == nil {
		return
	}
	channel := entity.Scope().Channel()
	if channel == "" {
		return
	}
	r.bus.Emit(events.NewEntityChange(channel, r.spec.EntityType(), action, entity))
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	union := make([]string, 0, len(a)+len(b))
	for _, tag := range a {
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			union = append(union, tag)
		}
	}
	for _, tag := range b {
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			union = append(union, tag)
		}
	}
	return union
}
