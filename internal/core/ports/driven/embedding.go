package driven

import "context"

// EmbeddingService generates vector embeddings from text.
//
// Note: this is separate from VectorStore, which stores and searches vectors.
// EmbeddingService generates vectors; VectorStore stores them.
type EmbeddingService interface {
	// Initialize loads the model and prepares the inference worker.
	// It is idempotent and single-flight: concurrent callers share one
	// in-flight setup.
	Initialize(ctx context.Context) error

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g. 384, 768).
	// This is determined by the model and must match the VectorStore
	// configuration.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ready reports whether the engine has completed initialisation.
	Ready() bool

	// Initializing reports whether setup is currently in flight.
	Initializing() bool

	// Close releases the inference worker and resources.
	Close() error
}
