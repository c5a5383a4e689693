// Package services contains the core orchestration logic, wired to the
// outside world only through ports.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
	"github.com/tabsense/tabsense/internal/core/ports/driving"
	"github.com/tabsense/tabsense/internal/logger"
)

// Ensure IndexerService implements the interface.
var _ driving.Indexer = (*IndexerService)(nil)

// DefaultMaxChunksPerPage bounds per-page indexing cost.
const DefaultMaxChunksPerPage = 50

// Chunker splits page text into embeddable chunks.
type Chunker interface {
	Chunk(text, title string) []domain.TextChunk
}

// EngineFactory constructs an embedding service for a model configuration.
// Reinitialisation uses it to bind a fresh engine to the new model.
type EngineFactory func(cfg domain.ModelConfig) (driven.EmbeddingService, error)

// IndexFactory constructs a vector store bound to a dimension. A dimension
// change always goes through a new instance; there is no in-place migration.
type IndexFactory func(dimension int) (driven.VectorStore, error)

// IndexerConfig holds the indexer configuration.
type IndexerConfig struct {
	// Model is the embedding model active at construction.
	Model domain.ModelConfig

	// MaxChunksPerPage caps how many chunks one page contributes.
	MaxChunksPerPage int
}

// IndexerService orchestrates chunk -> embed -> insert per content source and
// exposes similarity search. It owns the engine and index lifecycles,
// including the teardown sequence on a model change.
type IndexerService struct {
	chunker       Chunker
	engineFactory EngineFactory
	indexFactory  IndexFactory

	mu           sync.Mutex
	cfg          IndexerConfig
	engine       driven.EmbeddingService
	index        driven.VectorStore
	indexedPages map[string]struct{}
	ready        bool
}

// NewIndexerService builds the service and constructs its initial engine and
// index. Initialize must be called before indexing or searching.
func NewIndexerService(cfg IndexerConfig, chunker Chunker, engines EngineFactory, indexes IndexFactory) (*IndexerService, error) {
	if cfg.MaxChunksPerPage <= 0 {
		cfg.MaxChunksPerPage = DefaultMaxChunksPerPage
	}

	engine, err := engines(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("construct embedding engine: %w", err)
	}
	index, err := indexes(cfg.Model.Dimension)
	if err != nil {
		return nil, fmt.Errorf("construct vector index: %w", err)
	}

	return &IndexerService{
		chunker:       chunker,
		engineFactory: engines,
		indexFactory:  indexes,
		cfg:           cfg,
		engine:        engine,
		index:         index,
		indexedPages:  make(map[string]struct{}),
	}, nil
}

// Initialize prepares the embedding engine and vector index.
func (s *IndexerService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	engine, index := s.engine, s.index
	s.mu.Unlock()

	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	if err := index.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func pageKey(url, title string) string {
	return url + "\n" + title
}

// IndexContent chunks, embeds and inserts one page of extracted text. A page
// already indexed under the same (url, title) is skipped; so is everything
// while the engine is neither ready nor initialising. One failing chunk is
// logged and does not abort the page.
func (s *IndexerService) IndexContent(ctx context.Context, sourceID, url, title, text string) error {
	s.mu.Lock()
	engine, index := s.engine, s.index
	key := pageKey(url, title)
	_, seen := s.indexedPages[key]
	s.mu.Unlock()

	if !engine.Ready() && !engine.Initializing() {
		logger.Debug("indexer: engine not available, skipping %s", url)
		return nil
	}
	if seen {
		logger.Debug("indexer: already indexed %s, skipping", url)
		return nil
	}

	chunks := s.chunker.Chunk(text, title)
	if len(chunks) > s.cfg.MaxChunksPerPage {
		logger.Debug("indexer: capping %s from %d to %d chunks", url, len(chunks), s.cfg.MaxChunksPerPage)
		chunks = chunks[:s.cfg.MaxChunksPerPage]
	}

	inserted := 0
	for _, chunk := range chunks {
		embedding, err := engine.Embed(ctx, chunk.Text)
		if err != nil {
			logger.Warn("indexer: embed chunk %d of %s: %v", chunk.Index, url, err)
			continue
		}
		if _, err := index.AddDocument(ctx, sourceID, url, title, chunk, embedding); err != nil {
			logger.Warn("indexer: insert chunk %d of %s: %v", chunk.Index, url, err)
			continue
		}
		inserted++
	}

	if inserted > 0 || len(chunks) == 0 {
		s.mu.Lock()
		s.indexedPages[key] = struct{}{}
		s.mu.Unlock()
	}

	logger.Info("indexer: indexed %d/%d chunks of %s", inserted, len(chunks), url)
	return nil
}

// Search embeds the query and runs a k-NN lookup. An uninitialised engine
// mid-search gets exactly one reinitialise-and-retry before the error
// surfaces. Not-ready is an explicit error, never an empty result.
func (s *IndexerService) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	s.mu.Lock()
	engine, index, ready := s.engine, s.index, s.ready
	s.mu.Unlock()

	if !ready || !engine.Ready() {
		return nil, fmt.Errorf("semantic index is not ready yet, retry after initialization: %w", domain.ErrNotReady)
	}

	embedding, err := engine.Embed(ctx, query)
	if errors.Is(err, domain.ErrEngineNotInitialized) {
		logger.Warn("indexer: engine lost during search, reinitialising once")
		if initErr := engine.Initialize(ctx); initErr != nil {
			return nil, fmt.Errorf("reinitialize engine: %w", initErr)
		}
		embedding, err = engine.Embed(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := index.Search(ctx, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return results, nil
}

// RemoveSource drops all documents belonging to a source.
func (s *IndexerService) RemoveSource(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	index := s.index
	s.mu.Unlock()
	return index.RemoveSourceDocuments(ctx, sourceID)
}

// GetStats merges vector index stats with indexer-local counters.
func (s *IndexerService) GetStats(ctx context.Context) domain.IndexStats {
	s.mu.Lock()
	engine, index, ready := s.engine, s.index, s.ready
	pages := len(s.indexedPages)
	s.mu.Unlock()

	documents, sources, graphSize := index.Stats()
	return domain.IndexStats{
		IndexedPages:       pages,
		TotalDocuments:     documents,
		TotalSources:       sources,
		IndexSize:          graphSize,
		IsInitialized:      ready,
		EngineReady:        engine.Ready(),
		EngineInitializing: engine.Initializing(),
	}
}

// ClearAll resets the index and the page dedup cache. The engine keeps
// running; only the stored content is gone.
func (s *IndexerService) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	index := s.index
	s.indexedPages = make(map[string]struct{})
	s.mu.Unlock()

	if err := index.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

// SwitchModel changes the active embedding model. A dimension change forces
// the full reinitialisation sequence; a same-dimension change only swaps the
// engine (the index keys stay valid dimensionally, the content is refreshed
// lazily as pages are re-indexed).
func (s *IndexerService) SwitchModel(ctx context.Context, cfg domain.ModelConfig) domain.SwitchResult {
	s.mu.Lock()
	current := s.cfg.Model
	s.mu.Unlock()

	if cfg == current {
		return domain.SwitchResult{Success: true}
	}

	if err := s.reinitialize(ctx, cfg); err != nil {
		return domain.SwitchResult{Success: false, Error: err.Error()}
	}
	return domain.SwitchResult{Success: true}
}

// reinitialize tears down and rebuilds for a new model. The order is fixed:
// drop the ready flag, clear the index (and replace it when the dimension
// changed), clear the dedup cache, construct the new engine, initialize.
// Every step short of engine construction is logged but non-blocking; a
// failure to build the new engine is fatal to the call.
func (s *IndexerService) reinitialize(ctx context.Context, cfg domain.ModelConfig) error {
	s.mu.Lock()
	s.ready = false
	oldEngine, oldIndex := s.engine, s.index
	dimensionChanged := cfg.Dimension != s.cfg.Model.Dimension
	s.mu.Unlock()

	logger.Section("Model Switch")
	logger.Info("switching model to %s (version %s, dim %d)", cfg.Preset, cfg.Version, cfg.Dimension)

	if err := oldIndex.Clear(ctx); err != nil {
		logger.Warn("indexer: clear index during switch: %v", err)
	}

	newIndex := oldIndex
	if dimensionChanged {
		if err := oldIndex.Close(); err != nil {
			logger.Warn("indexer: close old index: %v", err)
		}
		var err error
		newIndex, err = s.indexFactory(cfg.Dimension)
		if err != nil {
			return fmt.Errorf("construct vector index for dimension %d: %w", cfg.Dimension, err)
		}
	}

	if err := oldEngine.Close(); err != nil {
		logger.Warn("indexer: close old engine: %v", err)
	}

	newEngine, err := s.engineFactory(cfg)
	if err != nil {
		return fmt.Errorf("construct embedding engine: %w", err)
	}

	s.mu.Lock()
	s.cfg.Model = cfg
	s.engine = newEngine
	s.index = newIndex
	s.indexedPages = make(map[string]struct{})
	s.mu.Unlock()

	return s.Initialize(ctx)
}

// Close releases the engine and index.
func (s *IndexerService) Close() error {
	s.mu.Lock()
	engine, index := s.engine, s.index
	s.ready = false
	s.mu.Unlock()

	return errors.Join(engine.Close(), index.Close())
}
