package cli

import (
	"context"
	"fmt"

	"github.com/tabsense/tabsense/internal/adapters/driven/config/file"
	"github.com/tabsense/tabsense/internal/adapters/driven/embedding/local"
	"github.com/tabsense/tabsense/internal/adapters/driven/modelcache"
	"github.com/tabsense/tabsense/internal/adapters/driven/storage/sqlite"
	"github.com/tabsense/tabsense/internal/adapters/driven/vector"
	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
	"github.com/tabsense/tabsense/internal/core/ports/driving"
	"github.com/tabsense/tabsense/internal/core/services"
	"github.com/tabsense/tabsense/internal/logger"
	"github.com/tabsense/tabsense/internal/postprocessors/chunker"
)

// defaultModel is used until the user configures one via `model set`.
var defaultModel = domain.ModelConfig{
	Preset:    "minilm",
	Version:   "1",
	Dimension: 384,
	URL:       "https://models.tabsense.dev/minilm-1.bin",
}

// Wired once per process by initServices; commands read these directly.
var (
	indexerService driving.Indexer
	configStore    *file.ConfigStore
	sqliteStore    *sqlite.Store
	modelCache     *modelcache.Manager
	modelLoader    *modelcache.Loader
	activeModel    domain.ModelConfig
)

// initServices wires the full stack: sqlite store, model cache, shared
// embedding engine, vector index and the indexer service. Idempotent.
func initServices() error {
	if indexerService != nil {
		return nil
	}

	store, err := sqlite.NewStore("")
	if err != nil {
		return fmt.Errorf("open data store: %w", err)
	}

	cfgStore, err := file.NewConfigStore("")
	if err != nil {
		store.Close()
		return fmt.Errorf("open config store: %w", err)
	}

	model := cfgStore.ModelConfig()
	if model.Preset == "" {
		model = defaultModel
	}

	cache := modelcache.NewManager(store.ArtifactStore(), modelcache.Config{})
	loader := modelcache.NewLoader(cache, modelcache.NewFetcher())

	engines := func(cfg domain.ModelConfig) (driven.EmbeddingService, error) {
		return local.SharedEngine(local.Config{Model: cfg}, loader), nil
	}
	indexes := func(dimension int) (driven.VectorStore, error) {
		return vector.NewIndex(store.BlobStore(), vector.Config{Dimension: dimension})
	}

	svc, err := services.NewIndexerService(
		services.IndexerConfig{Model: model},
		chunker.New(),
		engines,
		indexes,
	)
	if err != nil {
		store.Close()
		return fmt.Errorf("construct indexer: %w", err)
	}

	indexerService = svc
	configStore = cfgStore
	sqliteStore = store
	modelCache = cache
	modelLoader = loader
	activeModel = model
	return nil
}

// initializeIfLocal initializes the indexer only when the active model's
// artifact is already cached, so read-only commands never trigger a model
// download. A missing artifact surfaces as domain.ErrNotReady; commands that
// are expected to download (index, model set) call Initialize directly.
func initializeIfLocal(ctx context.Context) error {
	if modelLoader != nil {
		if !modelCache.HasAnyValidCache(ctx) || !modelLoader.Cached(ctx, activeModel) {
			return fmt.Errorf("model %q is not downloaded yet, run 'tabsense index' first: %w",
				activeModel.Preset, domain.ErrNotReady)
		}
	}
	return indexerService.Initialize(ctx)
}

// teardownServices closes whatever initServices opened.
func teardownServices() {
	if indexerService != nil {
		if err := indexerService.Close(); err != nil {
			logger.Warn("close indexer: %v", err)
		}
		indexerService = nil
	}
	if sqliteStore != nil {
		if err := sqliteStore.Close(); err != nil {
			logger.Warn("close data store: %v", err)
		}
		sqliteStore = nil
	}
}
