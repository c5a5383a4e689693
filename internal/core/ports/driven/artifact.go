package driven

import (
	"context"
	"time"
)

// ArtifactEntry describes one cached model binary.
type ArtifactEntry struct {
	// URL is the cache key.
	URL string

	// SizeBytes is the payload size.
	SizeBytes int64

	// Version is the artifact version recorded at fetch time.
	Version string

	// CreatedAt is when the entry was written.
	CreatedAt time.Time

	// Expired reports whether the entry is past the retention window.
	Expired bool
}

// ArtifactRecord is one stored model binary with its metadata.
type ArtifactRecord struct {
	// URL is the cache key.
	URL string

	// Payload is the binary content. Listing operations omit it.
	Payload []byte

	// SizeBytes is the payload size, kept in metadata so eviction can run
	// without reading payloads.
	SizeBytes int64

	// Version is the artifact version recorded at fetch time.
	Version string

	// CreatedAt is when the entry was written.
	CreatedAt time.Time
}

// ArtifactStore persists model binaries and their metadata. Implementations
// only ever write or delete whole entries, never partial updates, which keeps
// the store safely reentrant across callers.
type ArtifactStore interface {
	// GetArtifact returns the full record for url, payload included.
	// Returns domain.ErrNotFound when absent.
	GetArtifact(ctx context.Context, url string) (*ArtifactRecord, error)

	// PutArtifact stores or replaces the record for rec.URL.
	PutArtifact(ctx context.Context, rec ArtifactRecord) error

	// DeleteArtifact removes the record for url. Missing entries are not
	// an error.
	DeleteArtifact(ctx context.Context, url string) error

	// ListArtifacts returns metadata for every record, payloads omitted.
	ListArtifacts(ctx context.Context) ([]ArtifactRecord, error)
}

// ArtifactCache fetches and durably caches large model binaries, keyed by
// URL, with timestamped metadata, expiry and size-bounded eviction.
type ArtifactCache interface {
	// Get returns cached bytes only if metadata exists and is unexpired.
	// Stale entries are purged and domain.ErrCacheMiss is returned.
	Get(ctx context.Context, url string) ([]byte, error)

	// Put reclaims space if needed, then stores bytes with fresh metadata.
	Put(ctx context.Context, url string, payload []byte, version string) error

	// IsCached reports whether a valid, unexpired entry exists for url.
	IsCached(ctx context.Context, url string) bool

	// HasAnyValidCache reports whether any unexpired entry exists. Used to
	// gate auto-initialisation without forcing a network fetch.
	HasAnyValidCache(ctx context.Context) bool

	// Stats returns entries sorted newest-first, plus the total size.
	Stats(ctx context.Context) ([]ArtifactEntry, int64, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}
