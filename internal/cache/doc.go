// Package cache implements the shared write-through cache for the computor
// backend: a Redis-backed key/value store with TTL and a reverse tag index.
//
// # Tagged Cache
//
// Every entry is written together with a set of tags. A tag names a fact the
// entry depends on ("course:42", "result:list"); when that fact changes, the
// whole group is invalidated through the reverse index without scanning the
// keyspace:
//
//	tc := cache.NewTaggedCache(client, keys, logger)
//
//	// Write an entry with tags and a TTL ceiling
//	err := tc.Set(ctx, keys.Entity("course", id), course,
//	    []string{"course:" + id, "course:list"}, 5*time.Minute)
//
//	// Read it back; a miss means the caller must hit the authoritative store
//	found, err := tc.Get(ctx, keys.Entity("course", id), &course)
//
//	// Drop everything that depends on the course
//	err = tc.InvalidateTag(ctx, "course:"+id)
//
// # Tag Index TTL
//
// Index sets live 60 seconds longer than the longest entry written under them
// (EXPIRE NX then GT), so the index may briefly reference an expired key but
// never the other way round. A Get that finds an expired envelope deletes it
// and reports a miss.
//
// # Graceful Degradation
//
// A Redis outage never fails the caller's request: Get logs and reports a
// miss, Set and the invalidation operations return errors the repositories
// treat as best-effort. Staleness stays bounded by the entry TTL.
//
// # Key Namespace
//
//	{namespace}:{entity_type}:{id}           single entity
//	{namespace}:{entity_type}:list:{sig}     query result
//	{namespace}:tag:{tag}                    reverse tag index set
//	{namespace}:credential:{hash}            token cache record
//	{namespace}:credential:id:{token_id}     token id -> hash mapping
//	{namespace}:credential:user:{user_id}    per-user hash tracking set
//	{namespace}:presence:{user_id}           presence record
package cache
