// Package driving provides interfaces for primary/inbound ports exposed to
// surrounding collaborators (CLI, extraction pipeline, status pollers).
package driving

import (
	"context"

	"github.com/tabsense/tabsense/internal/core/domain"
)

// Indexer orchestrates the chunk -> embed -> insert pipeline and exposes
// similarity search over the indexed content.
type Indexer interface {
	// Initialize prepares the embedding engine and vector index.
	Initialize(ctx context.Context) error

	// IndexContent chunks, embeds and inserts one page of extracted text.
	// Pages already indexed under the same (url, title) are skipped.
	IndexContent(ctx context.Context, sourceID, url, title, text string) error

	// Search returns the topK most similar documents for the query.
	// Returns domain.ErrNotReady when the index is not initialised.
	Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)

	// RemoveSource drops all documents belonging to a source.
	RemoveSource(ctx context.Context, sourceID string) error

	// GetStats merges vector index stats with indexer-local counters.
	GetStats(ctx context.Context) domain.IndexStats

	// ClearAll resets the index and all durable backing state.
	ClearAll(ctx context.Context) error

	// SwitchModel changes the active embedding model, reinitialising the
	// index when the vector dimension changes.
	SwitchModel(ctx context.Context, cfg domain.ModelConfig) domain.SwitchResult

	// Close releases the engine and index.
	Close() error
}
