package driven

import (
	"context"

	"github.com/tabsense/tabsense/internal/core/domain"
)

// VectorStore provides semantic similarity search over fixed-dimension
// vectors, with a crash-recoverable document mapping. One instance is bound
// to one embedding dimension for its lifetime.
type VectorStore interface {
	// Initialize loads the persisted graph and document mapping, or
	// constructs a fresh empty graph when nothing (loadable) is persisted.
	Initialize(ctx context.Context) error

	// AddDocument validates the embedding, allocates a label, inserts into
	// the graph, records the document, persists, and returns the label.
	AddDocument(ctx context.Context, sourceID, url, title string, chunk domain.TextChunk, embedding []float32) (uint64, error)

	// Search runs a k-NN query and resolves results through the document
	// mapping. An empty graph yields an empty slice, not an error.
	Search(ctx context.Context, query []float32, topK int) ([]domain.SearchResult, error)

	// RemoveSourceDocuments drops all documents owned by a source.
	// Graph entries become tombstones; mapping entries are hard-deleted.
	RemoveSourceDocuments(ctx context.Context, sourceID string) error

	// Stats reports live document count, source count and graph slot usage.
	Stats() (documents, sources, graphSize int)

	// Dimension returns the vector dimension the store is bound to.
	Dimension() int

	// Clear tears down the persisted graph, mapping and in-memory state.
	// Each step is independently guarded; a half-cleared store must still
	// end up usable.
	Clear(ctx context.Context) error

	// Close persists outstanding state and releases resources.
	Close() error
}
