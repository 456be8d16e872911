// Package cache provides the byte-oriented caching layer used by the
// upstream API clients.
//
// Three backends implement [Cache]:
//
//   - [FileCache] stores JSON envelopes under the XDG cache directory and is
//     the default for CLI runs.
//   - [RedisCache] shares responses between concurrent nixupdate processes
//     (for example several CI shards working on one nixpkgs checkout).
//   - [NullCache] disables caching (cache.backend = "none").
//
// Keys are opaque strings. Callers namespace them ("github:release:owner/repo")
// and the backends hash them where the storage medium needs safe names.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with an optional time-to-live.
//
// Get returns (nil, false, nil) on a miss, including expired entries.
// A ttl of zero passed to Set means the entry never expires.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NullCache misses on every lookup and discards writes. The CLI falls back
// to it when the cache directory cannot be created.
type NullCache struct{}

// NewNullCache returns a cache that stores nothing.
func NewNullCache() Cache { return NullCache{} }

func (NullCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NullCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NullCache) Delete(context.Context, string) error { return nil }
func (NullCache) Close() error { return nil }
