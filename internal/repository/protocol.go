package repository

import (
	"context"
	"time"

	"github.com/computor-org/computor-realtime/internal/realtime"
)

// Filters are the query parameters a list read was made with. The same
// filters always map to the same cache key.
type Filters map[string]string

// Entity is implemented by every cached domain type.
type Entity interface {
	EntityID() string
	// Scope resolves to the real-time channel the entity's change events are
	// published on.
	Scope() realtime.ChannelScope
}

// CacheSpec declares how one entity type participates in the shared cache:
// its namespace component, TTLs, and the tag computation for entities and
// query results. Narrower query filters produce a narrower tag set and
// therefore less over-invalidation.
type CacheSpec[T Entity] interface {
	EntityType() string
	TTL() time.Duration
	// ListTTL is typically shorter than TTL since lists are invalidated more
	// broadly.
	ListTTL() time.Duration
	TagsForEntity(entity T) []string
	TagsForQuery(filters Filters) []string
}

// Store is the authoritative relational store, consumed as an external
// collaborator.
type Store[T Entity] interface {
	GetByID(ctx context.Context, id string) (T, error)
	Query(ctx context.Context, filters Filters) ([]T, error)
	Insert(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, id string) error
}
