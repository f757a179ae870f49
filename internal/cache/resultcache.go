package cache

import (
	"context"
	"fmt"
	"time"
)

// ResultCacheKey scopes a cached generation result. Hash is sha256 of the
// normalized request (prompt, model, schema); Feature and Language scope it
// to one tutoring feature; VersionID invalidates across gateway releases.
type ResultCacheKey struct {
	Feature   string
	Language  string
	VersionID string
	Hash      string
}

// String converts the structured key into the final string used in Redis/map.
func (k ResultCacheKey) String() string {
	// result:<FEATURE>:<LANGUAGE>:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("result:%s:%s:%s:%s", k.Feature, k.Language, k.VersionID, k.Hash)
}

// ResultCache is the interface used by the handlers.
// Implemented by memory cache (dev) and Redis cache (prod).
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
