package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
	"github.com/tabsense/tabsense/internal/logger"
)

// Ensure Manager implements the interface.
var _ driven.ArtifactCache = (*Manager)(nil)

// Default cache policy.
const (
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultMaxTotalBytes = 500 * 1024 * 1024 // 500MB
)

// Config holds the cache policy.
type Config struct {
	// Retention is how long an entry stays valid (default 30 days).
	Retention time.Duration

	// MaxTotalBytes is the size ceiling across all entries (default 500MB).
	MaxTotalBytes int64
}

// Manager implements the artifact cache policy over an ArtifactStore.
type Manager struct {
	store driven.ArtifactStore
	cfg   Config
	now   func() time.Time
}

// NewManager creates a cache manager over the given store.
func NewManager(store driven.ArtifactStore, cfg Config) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = DefaultMaxTotalBytes
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// expired reports whether a record is past the retention window. A record
// without a usable timestamp counts as expired: corrupt metadata is
// non-fatal and the entry is simply purged on next access.
func (m *Manager) expired(rec driven.ArtifactRecord) bool {
	if rec.CreatedAt.IsZero() {
		return true
	}
	return m.now().Sub(rec.CreatedAt) > m.cfg.Retention
}

// Get returns cached bytes only if metadata exists and is unexpired.
// Stale entries are purged and domain.ErrCacheMiss is returned.
func (m *Manager) Get(ctx context.Context, url string) ([]byte, error) {
	rec, err := m.store.GetArtifact(ctx, url)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("modelcache: get %s: %w", url, err)
	}

	if m.expired(*rec) {
		logger.Debug("modelcache: purging expired entry %s (age %s)", url, m.now().Sub(rec.CreatedAt))
		if err := m.store.DeleteArtifact(ctx, url); err != nil {
			logger.Warn("modelcache: failed to purge expired entry %s: %v", url, err)
		}
		return nil, domain.ErrCacheMiss
	}

	return rec.Payload, nil
}

// Put reclaims space if needed, then stores bytes with fresh metadata.
func (m *Manager) Put(ctx context.Context, url string, payload []byte, version string) error {
	if url == "" {
		return domain.ErrInvalidInput
	}

	if err := m.reclaim(ctx, int64(len(payload))); err != nil {
		// Reclaim failure is logged, not fatal: the write may still fit.
		logger.Warn("modelcache: reclaim before put failed: %v", err)
	}

	rec := driven.ArtifactRecord{
		URL:       url,
		Payload:   payload,
		SizeBytes: int64(len(payload)),
		Version:   version,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.PutArtifact(ctx, rec); err != nil {
		return fmt.Errorf("modelcache: put %s: %w", url, err)
	}
	logger.Debug("modelcache: stored %s (%d bytes, version %s)", url, rec.SizeBytes, version)
	return nil
}

// reclaim frees space until newSize fits under the ceiling: expired entries
// go first, then valid entries oldest-timestamp-first.
func (m *Manager) reclaim(ctx context.Context, newSize int64) error {
	records, err := m.store.ListArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("listing artifacts: %w", err)
	}

	var total int64
	for _, rec := range records {
		total += rec.SizeBytes
	}
	if total+newSize <= m.cfg.MaxTotalBytes {
		return nil
	}

	// Pass 1: drop everything expired.
	remaining := records[:0]
	for _, rec := range records {
		if m.expired(rec) {
			if err := m.store.DeleteArtifact(ctx, rec.URL); err != nil {
				logger.Warn("modelcache: failed to evict expired %s: %v", rec.URL, err)
				remaining = append(remaining, rec)
				continue
			}
			total -= rec.SizeBytes
			logger.Debug("modelcache: evicted expired %s (%d bytes)", rec.URL, rec.SizeBytes)
			continue
		}
		remaining = append(remaining, rec)
	}

	// Pass 2: drop valid entries, oldest first, until under budget.
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].CreatedAt.Before(remaining[j].CreatedAt)
	})
	for _, rec := range remaining {
		if total+newSize <= m.cfg.MaxTotalBytes {
			break
		}
		if err := m.store.DeleteArtifact(ctx, rec.URL); err != nil {
			logger.Warn("modelcache: failed to evict %s: %v", rec.URL, err)
			continue
		}
		total -= rec.SizeBytes
		logger.Debug("modelcache: evicted %s (%d bytes) for space", rec.URL, rec.SizeBytes)
	}

	return nil
}

// IsCached reports whether a valid, unexpired entry exists for url.
func (m *Manager) IsCached(ctx context.Context, url string) bool {
	records, err := m.store.ListArtifacts(ctx)
	if err != nil {
		return false
	}
	for _, rec := range records {
		if rec.URL == url && !m.expired(rec) {
			return true
		}
	}
	return false
}

// HasAnyValidCache reports whether any unexpired entry exists.
func (m *Manager) HasAnyValidCache(ctx context.Context) bool {
	records, err := m.store.ListArtifacts(ctx)
	if err != nil {
		return false
	}
	for _, rec := range records {
		if !m.expired(rec) {
			return true
		}
	}
	return false
}

// Stats returns entries sorted newest-first, plus the total size.
func (m *Manager) Stats(ctx context.Context) ([]driven.ArtifactEntry, int64, error) {
	records, err := m.store.ListArtifacts(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("modelcache: stats: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	entries := make([]driven.ArtifactEntry, 0, len(records))
	var total int64
	for _, rec := range records {
		entries = append(entries, driven.ArtifactEntry{
			URL:       rec.URL,
			SizeBytes: rec.SizeBytes,
			Version:   rec.Version,
			CreatedAt: rec.CreatedAt,
			Expired:   m.expired(rec),
		})
		total += rec.SizeBytes
	}
	return entries, total, nil
}

// Clear removes every entry. Each delete is independently guarded so one
// failure does not block the rest.
func (m *Manager) Clear(ctx context.Context) error {
	records, err := m.store.ListArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("modelcache: clear: %w", err)
	}

	var firstErr error
	for _, rec := range records {
		if err := m.store.DeleteArtifact(ctx, rec.URL); err != nil {
			logger.Warn("modelcache: clear: failed to delete %s: %v", rec.URL, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// GetOrFetch returns cached bytes, or downloads, caches and returns them on
// a miss. A failed download removes any partial entry and propagates.
func (m *Manager) GetOrFetch(ctx context.Context, url, version string, fetcher *Fetcher) ([]byte, error) {
	payload, err := m.Get(ctx, url)
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, err
	}

	logger.Info("modelcache: miss for %s, fetching", url)
	payload, err = fetcher.Fetch(ctx, url)
	if err != nil {
		if delErr := m.store.DeleteArtifact(ctx, url); delErr != nil {
			logger.Warn("modelcache: failed to delete partial entry %s: %v", url, delErr)
		}
		return nil, fmt.Errorf("modelcache: fetch %s: %w", url, err)
	}

	if err := m.Put(ctx, url, payload, version); err != nil {
		// The bytes are usable even if caching them failed.
		logger.Warn("modelcache: failed to cache fetched artifact: %v", err)
	}
	return payload, nil
}
