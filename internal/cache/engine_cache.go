package cache

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/codec"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/staff"
)

// Cache key prefixes.
const (
	RoleCachePrefix        = "role-"
	GPPracticesCachePrefix = "gp-practices-"
)

type statsProvider interface {
	GetStats() *codec.Stats
	Clear(ctx context.Context) error
}

// EngineCache holds the caches shared by the services.
type EngineCache struct {
	backend *cache.Cache[any]
	// RoleCache maps an auth user id to its access type and site.
	RoleCache *PrefixedCache[staff.Access]

	named map[string]statsProvider
}

// NewEngineCache creates the shared caches from the cache configuration.
func NewEngineCache(cfg *config.CacheConfig) *EngineCache {
	backend := NewInstance(cfg)
	e := &EngineCache{
		backend:   backend,
		RoleCache: NewPrefixedCache[staff.Access](backend, RoleCachePrefix, cfg.RoleTTL),
		named:     map[string]statsProvider{},
	}
	e.named["roles"] = e.RoleCache
	return e
}

// Backend returns the shared cache backend so services can create their own prefixed caches.
func (e *EngineCache) Backend() *cache.Cache[any] {
	return e.backend
}

// Register adds a prefixed cache to the stats and clear lists.
func Register[T any](e *EngineCache, name, prefix string, ttl time.Duration) *PrefixedCache[T] {
	c := NewPrefixedCache[T](e.backend, prefix, ttl)
	e.named[name] = c
	return c
}

// ClearAll clears every cache.
func (e *EngineCache) ClearAll(ctx context.Context) {
	if err := e.backend.Clear(ctx); err != nil {
		log.Errorf("failed to clear cache: %v", err)
	}
}

type Stats struct {
	*codec.Stats
	CacheName string `json:"cacheName"`
}

// GetStats returns the statistics of every registered cache.
// All prefixed caches share one backend, so the counters are the backend totals.
func (e *EngineCache) GetStats() []*Stats {
	stats := make([]*Stats, 0, len(e.named))
	for name, c := range e.named {
		stats = append(stats, &Stats{
			Stats:     c.GetStats(),
			CacheName: name,
		})
	}
	return stats
}
