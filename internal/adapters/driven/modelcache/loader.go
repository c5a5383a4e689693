package modelcache

import (
	"context"

	"github.com/tabsense/tabsense/internal/core/domain"
)

// Loader combines the cache and the fetcher into the single entry point the
// embedding engine uses to obtain model weights.
type Loader struct {
	cache   *Manager
	fetcher *Fetcher
}

// NewLoader creates a loader over cache and fetcher.
func NewLoader(cache *Manager, fetcher *Fetcher) *Loader {
	return &Loader{cache: cache, fetcher: fetcher}
}

// FetchModel returns the artifact bytes for cfg, from cache when possible.
func (l *Loader) FetchModel(ctx context.Context, cfg domain.ModelConfig) ([]byte, error) {
	return l.cache.GetOrFetch(ctx, cfg.URL, cfg.Version, l.fetcher)
}

// Cached reports whether cfg's artifact is already cached, so callers can
// decide to initialise eagerly without forcing a network fetch.
func (l *Loader) Cached(ctx context.Context, cfg domain.ModelConfig) bool {
	return l.cache.IsCached(ctx, cfg.URL)
}
