package domain

import "time"

// VectorDocument represents one indexed chunk of page content together with
// its embedding. It is the unit stored in the vector index. The string ID is
// the document's external identity; its integer label inside the ANN graph is
// assigned by the index and is not part of the domain model.
type VectorDocument struct {
	// ID is the unique identifier for the document.
	ID string `json:"id"`

	// SourceID identifies the content source (e.g. a browser tab).
	SourceID string `json:"sourceId"`

	// URL is the page location the content came from.
	URL string `json:"url"`

	// Title is the page title at index time.
	Title string `json:"title"`

	// Chunk is the text slice this document embeds.
	Chunk string `json:"chunk"`

	// ChunkIndex is the ordinal position of the chunk within the page.
	ChunkIndex int `json:"chunkIndex"`

	// Embedding is the L2-normalised vector representation.
	// Immutable once inserted.
	Embedding []float32 `json:"embedding"`

	// InsertedAt is when the document entered the index.
	InsertedAt time.Time `json:"insertedAt"`
}

// TextChunk is a bounded-length slice of a page's extracted text,
// ordered by position. Produced by the chunker, consumed once by the indexer.
type TextChunk struct {
	// Index is the ordinal position within the page.
	Index int

	// Text is the chunk content.
	Text string

	// SourceLabel describes where the chunk came from (usually the title).
	SourceLabel string
}

// SearchResult represents a single similarity search hit.
type SearchResult struct {
	// Document is the matched vector document.
	Document VectorDocument

	// Similarity is the cosine similarity score (higher is closer).
	Similarity float64

	// Distance is the raw cosine distance reported by the ANN graph.
	Distance float64
}

// IndexStats summarises the state of the semantic index for observability.
type IndexStats struct {
	// IndexedPages is the number of distinct (url, title) pairs indexed
	// during this process lifetime.
	IndexedPages int

	// TotalDocuments is the number of live documents in the index.
	TotalDocuments int

	// TotalSources is the number of sources with at least one document.
	TotalSources int

	// IndexSize is the number of slots used in the ANN graph,
	// including tombstoned entries.
	IndexSize int

	// IsInitialized reports whether the vector index is ready.
	IsInitialized bool

	// EngineReady reports whether the embedding engine is ready.
	EngineReady bool

	// EngineInitializing reports whether engine setup is in flight.
	EngineInitializing bool
}

// ModelConfig identifies the active embedding model. The Dimension binds the
// vector index: changing it invalidates any existing index.
type ModelConfig struct {
	// Preset is the model family name (e.g. "minilm", "mpnet").
	Preset string

	// Version is the model artifact version.
	Version string

	// Dimension is the embedding vector length the model produces.
	Dimension int

	// URL is where the model artifact is fetched from on a cache miss.
	URL string
}

// SwitchResult reports the outcome of a model switch.
type SwitchResult struct {
	// Success is true when the switch completed.
	Success bool

	// Error holds a human-readable reason when Success is false.
	Error string
}
