package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
	"github.com/tabsense/tabsense/internal/logger"
)

// Ensure Shared implements the interface.
var _ driven.EmbeddingService = (*Shared)(nil)

// Default retry behaviour of the shared proxy.
const (
	DefaultSharedRetries = 3
	DefaultSharedBackoff = 250 * time.Millisecond
)

// Shared delegates to one engine instance shared between multiple logical
// owners, so the model is never loaded twice. When the engine reports it is
// not initialised (e.g. after a crash of its worker or an eager caller), the
// proxy transparently re-initialises and retries, a bounded number of times
// with linear backoff.
type Shared struct {
	engine  driven.EmbeddingService
	retries int
	backoff time.Duration
}

// NewShared wraps engine in the re-initialising proxy.
func NewShared(engine driven.EmbeddingService) *Shared {
	return &Shared{
		engine:  engine,
		retries: DefaultSharedRetries,
		backoff: DefaultSharedBackoff,
	}
}

// withRetry runs op, re-initialising the engine and retrying when the
// engine reports it is not initialised.
func (s *Shared) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrEngineNotInitialized) {
			return err
		}
		lastErr = err

		logger.Debug("shared engine: not initialised, re-initialising (attempt %d/%d)", attempt, s.retries)
		if initErr := s.engine.Initialize(ctx); initErr != nil {
			lastErr = fmt.Errorf("re-initialise: %w", initErr)
		}

		if attempt < s.retries {
			select {
			case <-time.After(time.Duration(attempt) * s.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("shared engine: gave up after %d attempts: %w", s.retries, lastErr)
}

// Initialize initialises the underlying engine.
func (s *Shared) Initialize(ctx context.Context) error {
	return s.engine.Initialize(ctx)
}

// Embed generates a vector embedding for the given text.
func (s *Shared) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := s.withRetry(ctx, func() error {
		var embedErr error
		out, embedErr = s.engine.Embed(ctx, text)
		return embedErr
	})
	return out, err
}

// EmbedBatch generates embeddings for multiple texts.
func (s *Shared) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := s.withRetry(ctx, func() error {
		var embedErr error
		out, embedErr = s.engine.EmbedBatch(ctx, texts)
		return embedErr
	})
	return out, err
}

// Dimensions returns the embedding vector size.
func (s *Shared) Dimensions() int {
	return s.engine.Dimensions()
}

// ModelName returns the name of the embedding model being used.
func (s *Shared) ModelName() string {
	return s.engine.ModelName()
}

// Ready reports whether the underlying engine is ready.
func (s *Shared) Ready() bool {
	return s.engine.Ready()
}

// Initializing reports whether underlying setup is in flight.
func (s *Shared) Initializing() bool {
	return s.engine.Initializing()
}

// Close closes the underlying engine.
func (s *Shared) Close() error {
	return s.engine.Close()
}

// Process-wide engine handle. Constructed once, then handed to every
// consumer; replaced only on model switch.
var (
	sharedMu     sync.Mutex
	sharedEngine *Engine
)

// SharedEngine returns the process-wide engine for cfg, constructing it on
// first use. A subsequent call with a different model configuration replaces
// the shared instance and closes the old one.
func SharedEngine(cfg Config, source ArtifactSource) *Shared {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedEngine == nil || sharedEngine.cfg.Model != cfg.Model {
		if sharedEngine != nil {
			if err := sharedEngine.Close(); err != nil {
				logger.Warn("shared engine: close previous instance: %v", err)
			}
		}
		sharedEngine = NewEngine(cfg, source)
	}
	return NewShared(sharedEngine)
}
