package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
)

// lossyEngine forgets its initialisation after a configurable number of
// embeds, mimicking a crashed inference worker.
type lossyEngine struct {
	initCalls   int
	embedCalls  int
	failForever bool
	ready       bool
}

func (e *lossyEngine) Initialize(context.Context) error {
	e.initCalls++
	if !e.failForever {
		e.ready = true
	}
	return nil
}

func (e *lossyEngine) Embed(context.Context, string) ([]float32, error) {
	e.embedCalls++
	if !e.ready || e.failForever {
		return nil, domain.ErrEngineNotInitialized
	}
	return []float32{1, 0}, nil
}

func (e *lossyEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec, err := e.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *lossyEngine) Dimensions() int    { return 2 }
func (e *lossyEngine) ModelName() string  { return "lossy" }
func (e *lossyEngine) Ready() bool        { return true }
func (e *lossyEngine) Initializing() bool { return false }
func (e *lossyEngine) Close() error       { return nil }

// staticStore is a VectorStore stub returning canned results.
type staticStore struct {
	results []domain.SearchResult
	cleared bool
}

func (s *staticStore) Initialize(context.Context) error { return nil }

func (s *staticStore) AddDocument(context.Context, string, string, string, domain.TextChunk, []float32) (uint64, error) {
	return 0, nil
}

func (s *staticStore) Search(context.Context, []float32, int) ([]domain.SearchResult, error) {
	return s.results, nil
}

func (s *staticStore) RemoveSourceDocuments(context.Context, string) error { return nil }
func (s *staticStore) Stats() (int, int, int)                              { return len(s.results), 1, len(s.results) }
func (s *staticStore) Dimension() int                                      { return 2 }
func (s *staticStore) Clear(context.Context) error                         { s.cleared = true; return nil }
func (s *staticStore) Close() error                                        { return nil }

func newMockedIndexer(t *testing.T, engine *lossyEngine, store *staticStore) *IndexerService {
	t.Helper()
	svc, err := NewIndexerService(
		IndexerConfig{Model: testModel(2)},
		chunkFunc(func(text, title string) []domain.TextChunk {
			return []domain.TextChunk{{Index: 0, Text: text, SourceLabel: title}}
		}),
		func(domain.ModelConfig) (driven.EmbeddingService, error) { return engine, nil },
		func(int) (driven.VectorStore, error) { return store, nil },
	)
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))
	return svc
}

// chunkFunc adapts a function to the Chunker interface.
type chunkFunc func(text, title string) []domain.TextChunk

func (f chunkFunc) Chunk(text, title string) []domain.TextChunk { return f(text, title) }

func TestSearchReinitializesLostEngineOnce(t *testing.T) {
	engine := &lossyEngine{}
	store := &staticStore{results: []domain.SearchResult{{Similarity: 0.9}}}
	svc := newMockedIndexer(t, engine, store)

	// Drop the engine after setup; the next search must recover.
	engine.ready = false
	initBefore := engine.initCalls

	results, err := svc.Search(context.Background(), "query", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, initBefore+1, engine.initCalls)
	assert.Equal(t, 2, engine.embedCalls)
}

func TestSearchRetriesExactlyOnce(t *testing.T) {
	engine := &lossyEngine{failForever: true}
	svc := newMockedIndexer(t, engine, &staticStore{})

	embedBefore := engine.embedCalls
	_, err := svc.Search(context.Background(), "query", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEngineNotInitialized))
	assert.Equal(t, embedBefore+2, engine.embedCalls)
}

func TestIndexContentToleratesChunkFailures(t *testing.T) {
	engine := &lossyEngine{failForever: true}
	store := &staticStore{}
	svc := newMockedIndexer(t, engine, store)

	// Every chunk fails to embed, the page call itself still succeeds.
	err := svc.IndexContent(context.Background(), "tab-1", "https://a", "T", "text")
	assert.NoError(t, err)

	// A fully-failed page is not marked as indexed, so it can be retried.
	assert.Zero(t, svc.GetStats(context.Background()).IndexedPages)
}
