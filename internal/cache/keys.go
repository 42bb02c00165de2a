package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Keys builds the namespaced Redis keys shared by every consumer of the cache
// store. Repositories construct entity and list keys themselves; the cache
// only builds tag index keys internally.
type Keys struct {
	Namespace string
}

func NewKeys(namespace string) Keys {
	if namespace == "" {
		namespace = "computor"
	}
	return Keys{Namespace: namespace}
}

// Entity returns the key for a single entity: {ns}:{entity_type}:{id}.
func (k Keys) Entity(entityType, id string) string {
	return k.Namespace + ":" + entityType + ":" + id
}

// List returns the key for a query result: {ns}:{entity_type}:list:{sig}.
func (k Keys) List(entityType, sig string) string {
	return k.Namespace + ":" + entityType + ":list:" + sig
}

// Tag returns the reverse-index key for a tag: {ns}:tag:{tag}.
func (k Keys) Tag(tag string) string {
	return k.Namespace + ":tag:" + tag
}

// Credential returns the token cache key for a hashed credential.
func (k Keys) Credential(hash string) string {
	return k.Namespace + ":credential:" + hash
}

// CredentialID returns the key mapping a token id to its credential hash.
func (k Keys) CredentialID(tokenID string) string {
	return k.Namespace + ":credential:id:" + tokenID
}

// CredentialUser returns the per-user hash tracking set key.
func (k Keys) CredentialUser(userID string) string {
	return k.Namespace + ":credential:user:" + userID
}

// Presence returns the presence record key for a user.
func (k Keys) Presence(userID string) string {
	return k.Namespace + ":presence:" + userID
}

// FilterSignature derives a deterministic signature from query filters.
// Identical filter sets always produce the same signature regardless of map
// iteration order.
func FilterSignature(filters map[string]string) string {
	if len(filters) == 0 {
		return "all"
	}

	parts := make([]string, 0, len(filters))
	for key, value := range filters {
		parts = append(parts, key+"="+value)
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(sum[:8])
}

// HashCredential produces the one-way hash under which a bearer credential is
// cached. The raw credential never touches the store.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
