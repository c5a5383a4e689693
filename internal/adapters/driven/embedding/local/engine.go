package local

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
	"github.com/tabsense/tabsense/internal/logger"
)

// Ensure Engine implements the interface.
var _ driven.EmbeddingService = (*Engine)(nil)

// DefaultEmbedCacheSize bounds the per-text embedding result LRU.
const DefaultEmbedCacheSize = 1024

// ArtifactSource supplies model artifact bytes for a model config.
// modelcache.Loader is the production implementation.
type ArtifactSource interface {
	FetchModel(ctx context.Context, cfg domain.ModelConfig) ([]byte, error)
}

// Config holds the engine configuration.
type Config struct {
	// Model identifies the embedding model to load.
	Model domain.ModelConfig

	// ConcurrentLimit bounds in-flight inference requests.
	// Defaults to half the available hardware threads, minimum one.
	ConcurrentLimit int

	// EmbedCacheSize bounds the per-text result cache.
	EmbedCacheSize int

	// TokenCacheSize bounds the tokenization cache.
	TokenCacheSize int
}

// Engine computes embeddings with a local model. All inference runs in an
// isolated worker goroutine; the engine itself only tokenizes, caches and
// dispatches.
type Engine struct {
	cfg    Config
	source ArtifactSource

	sem    *semaphore.Weighted
	sf     singleflight.Group
	nextID atomic.Uint64

	mu           sync.RWMutex
	worker       *worker
	tokenizer    *Tokenizer
	dimension    int
	ready        bool
	initializing bool
	cache        *lruCache[[]float32]
}

// NewEngine creates an engine bound to one model configuration.
// Call Initialize before embedding.
func NewEngine(cfg Config, source ArtifactSource) *Engine {
	if cfg.ConcurrentLimit <= 0 {
		cfg.ConcurrentLimit = runtime.NumCPU() / 2
		if cfg.ConcurrentLimit < 1 {
			cfg.ConcurrentLimit = 1
		}
	}
	if cfg.EmbedCacheSize <= 0 {
		cfg.EmbedCacheSize = DefaultEmbedCacheSize
	}

	return &Engine{
		cfg:       cfg,
		source:    source,
		sem:       semaphore.NewWeighted(int64(cfg.ConcurrentLimit)),
		dimension: cfg.Model.Dimension,
		cache:     newLRUCache[[]float32](cfg.EmbedCacheSize),
	}
}

// Initialize loads the model and starts the inference worker. Concurrent
// callers share one in-flight setup; completed setup is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.RLock()
	if e.ready {
		e.mu.RUnlock()
		return nil
	}
	e.mu.RUnlock()

	_, err, _ := e.sf.Do("initialize", func() (any, error) {
		return nil, e.initialize(ctx)
	})
	return err
}

func (e *Engine) initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.ready {
		e.mu.Unlock()
		return nil
	}
	e.initializing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.initializing = false
		e.mu.Unlock()
	}()

	logger.Section("Embedding Engine Init")
	logger.Debug("loading model %s (version %s)", e.cfg.Model.Preset, e.cfg.Model.Version)

	payload, err := e.source.FetchModel(ctx, e.cfg.Model)
	if err != nil {
		return fmt.Errorf("engine: obtain model: %w", err)
	}

	model, err := LoadModel(payload)
	if err != nil {
		return fmt.Errorf("engine: parse model: %w", err)
	}
	logger.Debug("model loaded: dim=%d vocab=%d", model.Dimension(), model.VocabSize())

	w := newWorker(e.cfg.ConcurrentLimit * 2)
	reply := make(chan workerResponse, 1)
	id := e.nextID.Add(1)
	w.submit(workerRequest{id: id, kind: reqInit, model: model, reply: reply})

	select {
	case resp := <-reply:
		if resp.status != statusOK {
			w.stop()
			return fmt.Errorf("engine: worker init failed: %v", resp.err)
		}
	case <-ctx.Done():
		w.stop()
		return ctx.Err()
	}

	e.mu.Lock()
	e.worker = w
	e.tokenizer = NewTokenizer(model, e.cfg.TokenCacheSize)
	e.dimension = model.Dimension()
	e.ready = true
	e.mu.Unlock()

	logger.Info("embedding engine ready (%s, dim %d)", e.cfg.Model.Preset, model.Dimension())
	return nil
}

// Embed generates a vector embedding for the given text.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Cached texts are
// served without touching the worker; the rest go out as one batch.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if !e.ready {
		e.mu.RUnlock()
		return nil, domain.ErrEngineNotInitialized
	}
	w := e.worker
	tok := e.tokenizer

	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if vec, ok := e.cache.get(text); ok {
			out[i] = vec
		} else {
			missing = append(missing, i)
		}
	}
	e.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	batch := make([][]int32, len(missing))
	for i, idx := range missing {
		batch[i] = tok.Tokenize(texts[idx])
	}

	// Bounded concurrency: callers beyond the limit queue FIFO here.
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("engine: acquire inference slot: %w", err)
	}
	defer e.sem.Release(1)

	id := e.nextID.Add(1)
	reply := make(chan workerResponse, 1)
	if !w.submit(workerRequest{id: id, kind: reqEmbed, batch: batch, reply: reply}) {
		// The engine was closed between the ready check and the dispatch.
		return nil, domain.ErrEngineNotInitialized
	}

	var resp workerResponse
	select {
	case resp = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if resp.id != id {
		return nil, fmt.Errorf("engine: correlation mismatch: got %d, want %d", resp.id, id)
	}
	switch resp.status {
	case statusOK:
	case statusNotInitialized:
		return nil, domain.ErrEngineNotInitialized
	case statusError:
		return nil, fmt.Errorf("engine: inference failed: %w", resp.err)
	default:
		return nil, fmt.Errorf("engine: unknown response status %d", resp.status)
	}

	e.mu.Lock()
	for i, idx := range missing {
		out[idx] = resp.vectors[i]
		e.cache.put(texts[idx], resp.vectors[i])
	}
	e.mu.Unlock()

	return out, nil
}

// Dimensions returns the embedding vector size. Before initialisation this
// is the configured dimension; afterwards, the model's actual one.
func (e *Engine) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *Engine) ModelName() string {
	return e.cfg.Model.Preset
}

// Ready reports whether the engine has completed initialisation.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Initializing reports whether setup is currently in flight.
func (e *Engine) Initializing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initializing
}

// Close stops the inference worker. The engine can be re-initialised after.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.worker != nil {
		e.worker.stop()
		e.worker = nil
	}
	e.ready = false
	e.cache.clear()
	return nil
}
