// Package vector implements the VectorStore port: an HNSW graph paired with
// a document mapping, both persisted as blobs in the durable store. The graph
// holds vectors under integer labels; the mapping resolves labels back to
// documents and tracks which source owns which labels.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabsense/tabsense/internal/ann"
	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
	"github.com/tabsense/tabsense/internal/logger"
	"github.com/tabsense/tabsense/internal/vecmath"
)

// Ensure Index implements the interface.
var _ driven.VectorStore = (*Index)(nil)

// Defaults for index behaviour. Eviction thresholds are policy, not tuning:
// callers with a known corpus size should set their own.
const (
	DefaultName           = "semantic"
	DefaultMaxElements    = 10000
	DefaultEvictFraction  = 0.2
	DefaultRetention      = 30 * 24 * time.Hour
	DefaultGraphSyncEvery = 10
)

// Config holds the construction parameters for an Index.
type Config struct {
	// Name scopes the persisted blobs; two indexes with different names
	// coexist in one store.
	Name string

	// Dimension is the embedding vector length. The index is bound to it
	// for the lifetime of the instance.
	Dimension int

	// MaxElements is the live-document count that triggers capacity
	// eviction.
	MaxElements int

	// EvictFraction is the share of oldest documents removed when capacity
	// eviction fires.
	EvictFraction float64

	// Retention is how long a document may stay before time eviction
	// removes it.
	Retention time.Duration

	// GraphSyncEvery bounds graph persistence I/O: the graph blob is
	// rewritten every Nth insert. The mapping blob is written every insert.
	GraphSyncEvery int

	// M, EfConstruction and EfSearch tune the underlying graph; zero
	// values take the graph's defaults.
	M              int
	EfConstruction int
	EfSearch       int
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.MaxElements <= 0 {
		c.MaxElements = DefaultMaxElements
	}
	if c.EvictFraction <= 0 || c.EvictFraction >= 1 {
		c.EvictFraction = DefaultEvictFraction
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.GraphSyncEvery <= 0 {
		c.GraphSyncEvery = DefaultGraphSyncEvery
	}
}

// Index is the vector store. All state is private to one instance; callers
// needing strict insert ordering serialise their own calls.
type Index struct {
	mu    sync.Mutex
	cfg   Config
	blobs driven.BlobStore

	graph      *ann.Graph
	docs       map[uint64]domain.VectorDocument
	sourceDocs map[string]map[uint64]struct{}
	nextLabel  uint64

	sinceSync   int
	initialized bool
	closed      bool

	// now is replaceable for eviction tests.
	now func() time.Time
}

// NewIndex creates an index over the given blob store. Initialize must be
// called before use.
func NewIndex(blobs driven.BlobStore, cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector: dimension must be positive, got %d", cfg.Dimension)
	}
	cfg.applyDefaults()

	return &Index{
		cfg:        cfg,
		blobs:      blobs,
		docs:       make(map[uint64]domain.VectorDocument),
		sourceDocs: make(map[string]map[uint64]struct{}),
		now:        time.Now,
	}, nil
}

func (x *Index) graphBlob() string   { return "graph:" + x.cfg.Name }
func (x *Index) mappingBlob() string { return "mapping:" + x.cfg.Name }

// Initialize loads the persisted graph and mapping. Any unloadable state is
// replaced with a fresh empty equivalent rather than failing permanently, and
// the two desync directions (mapping lost, graph lost) are handled so that
// label allocation never collides with surviving graph entries.
func (x *Index) Initialize(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return domain.ErrIndexClosed
	}
	if x.initialized {
		return nil
	}

	x.graph = x.loadGraph(ctx)
	x.loadMapping(ctx)

	mappingEmpty := len(x.docs) == 0
	graphEmpty := x.graph.Len() == 0

	switch {
	case mappingEmpty && !graphEmpty:
		// Mapping loss. The surviving vectors are unreachable; make sure
		// new labels do not collide with them.
		if maxLabel, ok := x.graph.MaxLabel(); ok && x.nextLabel <= maxLabel {
			x.nextLabel = maxLabel + 1
		}
		logger.Warn("vector index %q: mapping empty but graph has %d entries, resuming labels at %d",
			x.cfg.Name, x.graph.Len(), x.nextLabel)
	case !mappingEmpty && graphEmpty:
		// Graph loss. The mapped documents have no vectors; drop them.
		logger.Warn("vector index %q: graph empty but mapping has %d documents, resetting mapping",
			x.cfg.Name, len(x.docs))
		x.docs = make(map[uint64]domain.VectorDocument)
		x.sourceDocs = make(map[string]map[uint64]struct{})
	}

	x.initialized = true
	logger.Debug("vector index %q: initialized with %d documents, %d graph slots",
		x.cfg.Name, len(x.docs), x.graph.Len())
	return nil
}

// loadGraph returns the persisted graph, or a fresh one when nothing loadable
// exists or the persisted dimension does not match.
func (x *Index) loadGraph(ctx context.Context) *ann.Graph {
	payload, err := x.blobs.GetBlob(ctx, x.graphBlob())
	if errors.Is(err, domain.ErrNotFound) {
		return x.freshGraph()
	}
	if err != nil {
		logger.Warn("vector index %q: load graph blob: %v", x.cfg.Name, err)
		return x.freshGraph()
	}

	g, err := ann.Load(payload)
	if err != nil {
		logger.Warn("vector index %q: corrupt graph blob, starting empty: %v", x.cfg.Name, err)
		return x.freshGraph()
	}
	if g.Config().Dimension != x.cfg.Dimension {
		logger.Warn("vector index %q: persisted graph has dimension %d, want %d, starting empty",
			x.cfg.Name, g.Config().Dimension, x.cfg.Dimension)
		return x.freshGraph()
	}
	return g
}

// loadMapping populates docs, sourceDocs and nextLabel from the mapping blob.
// Failures leave the mapping empty.
func (x *Index) loadMapping(ctx context.Context) {
	payload, err := x.blobs.GetBlob(ctx, x.mappingBlob())
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn("vector index %q: load mapping blob: %v", x.cfg.Name, err)
		return
	}

	state, err := decodeMapping(payload)
	if err != nil {
		logger.Warn("vector index %q: corrupt mapping blob, starting empty: %v", x.cfg.Name, err)
		return
	}
	x.docs = state.docs
	x.sourceDocs = state.sourceDocs
	x.nextLabel = state.nextLabel
}

// AddDocument validates the embedding, inserts it under a fresh label and
// persists. Returns the allocated label.
func (x *Index) AddDocument(ctx context.Context, sourceID, url, title string, chunk domain.TextChunk, embedding []float32) (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return 0, domain.ErrIndexClosed
	}
	if !x.initialized {
		return 0, fmt.Errorf("add document: %w", domain.ErrNotReady)
	}
	if err := x.validateVector(embedding); err != nil {
		return 0, err
	}

	label := x.nextLabel
	x.nextLabel++

	if err := x.graph.Add(label, embedding); err != nil {
		x.nextLabel = label
		return 0, fmt.Errorf("insert into graph: %w", err)
	}

	doc := domain.VectorDocument{
		ID:         uuid.NewString(),
		SourceID:   sourceID,
		URL:        url,
		Title:      title,
		Chunk:      chunk.Text,
		ChunkIndex: chunk.Index,
		Embedding:  embedding,
		InsertedAt: x.now(),
	}
	x.docs[label] = doc
	if x.sourceDocs[sourceID] == nil {
		x.sourceDocs[sourceID] = make(map[uint64]struct{})
	}
	x.sourceDocs[sourceID][label] = struct{}{}

	if err := x.saveMapping(ctx); err != nil {
		// Roll the insert back so the caller's failure matches what a later
		// process restart would load. The graph slot stays tombstoned; the
		// label is not reused.
		x.removeDocumentByLabel(label)
		return 0, fmt.Errorf("persist mapping: %w", err)
	}

	x.sinceSync++
	if x.sinceSync >= x.cfg.GraphSyncEvery {
		if err := x.saveGraph(ctx); err != nil {
			logger.Warn("vector index %q: persist graph: %v", x.cfg.Name, err)
		} else {
			x.sinceSync = 0
		}
	}

	x.autoCleanup(ctx)
	return label, nil
}

// Search runs a k-NN query and resolves the hits through the document
// mapping. Labels without a mapping entry (orphans from source removal or a
// past desync) are skipped and logged.
func (x *Index) Search(ctx context.Context, query []float32, topK int) ([]domain.SearchResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil, domain.ErrIndexClosed
	}
	if !x.initialized {
		return nil, fmt.Errorf("search: %w", domain.ErrNotReady)
	}
	if err := x.validateVector(query); err != nil {
		return nil, err
	}
	if topK <= 0 || x.graph.LiveCount() == 0 {
		return []domain.SearchResult{}, nil
	}

	hits, err := x.graph.Search(query, topK)
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		doc, ok := x.docs[hit.Label]
		if !ok {
			logger.Warn("vector index %q: label %d returned by graph has no document (mapping size %d), skipping",
				x.cfg.Name, hit.Label, len(x.docs))
			continue
		}
		dist := float64(hit.Distance)
		results = append(results, domain.SearchResult{
			Document:   doc,
			Similarity: 1 - dist,
			Distance:   dist,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results, nil
}

// RemoveSourceDocuments drops every document owned by sourceID. Graph slots
// become tombstones; removing an unknown source is a no-op.
func (x *Index) RemoveSourceDocuments(ctx context.Context, sourceID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return domain.ErrIndexClosed
	}
	if !x.initialized {
		return fmt.Errorf("remove source: %w", domain.ErrNotReady)
	}

	labels := x.sourceDocs[sourceID]
	if len(labels) == 0 {
		return nil
	}

	for label := range labels {
		x.removeDocumentByLabel(label)
	}
	logger.Debug("vector index %q: removed %d documents of source %s", x.cfg.Name, len(labels), sourceID)

	if err := x.saveMapping(ctx); err != nil {
		return fmt.Errorf("persist mapping: %w", err)
	}
	if err := x.saveGraph(ctx); err != nil {
		logger.Warn("vector index %q: persist graph: %v", x.cfg.Name, err)
	} else {
		x.sinceSync = 0
	}
	return nil
}

// Stats reports live documents, sources and graph slot usage.
func (x *Index) Stats() (documents, sources, graphSize int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph != nil {
		graphSize = x.graph.Len()
	}
	return len(x.docs), len(x.sourceDocs), graphSize
}

// Dimension returns the vector dimension the index is bound to.
func (x *Index) Dimension() int {
	return x.cfg.Dimension
}

// Clear tears down persisted and in-memory state. Each step is independently
// guarded so a partial failure still leaves an empty, usable index.
func (x *Index) Clear(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return domain.ErrIndexClosed
	}

	var errs []error
	if err := x.blobs.DeleteBlob(ctx, x.graphBlob()); err != nil {
		logger.Warn("vector index %q: delete graph blob: %v", x.cfg.Name, err)
		errs = append(errs, err)
	}
	if err := x.blobs.DeleteBlob(ctx, x.mappingBlob()); err != nil {
		logger.Warn("vector index %q: delete mapping blob: %v", x.cfg.Name, err)
		errs = append(errs, err)
	}

	x.graph = x.freshGraph()
	x.docs = make(map[uint64]domain.VectorDocument)
	x.sourceDocs = make(map[string]map[uint64]struct{})
	x.nextLabel = 0
	x.sinceSync = 0
	x.initialized = true

	if err := x.saveGraph(ctx); err != nil {
		logger.Warn("vector index %q: persist empty graph: %v", x.cfg.Name, err)
		errs = append(errs, err)
	}
	if err := x.saveMapping(ctx); err != nil {
		logger.Warn("vector index %q: persist empty mapping: %v", x.cfg.Name, err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close persists outstanding state and marks the index unusable.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true

	if !x.initialized {
		return nil
	}
	ctx := context.Background()
	if err := x.saveGraph(ctx); err != nil {
		return fmt.Errorf("persist graph on close: %w", err)
	}
	if err := x.saveMapping(ctx); err != nil {
		return fmt.Errorf("persist mapping on close: %w", err)
	}
	return nil
}

// validateVector enforces the dimension and finiteness invariants.
func (x *Index) validateVector(v []float32) error {
	if len(v) != x.cfg.Dimension {
		return fmt.Errorf("%w: got %d, index is bound to %d", domain.ErrDimensionMismatch, len(v), x.cfg.Dimension)
	}
	if !vecmath.IsFinite(v) {
		return fmt.Errorf("%w: non-finite component", domain.ErrInvalidVector)
	}
	return nil
}

func (x *Index) freshGraph() *ann.Graph {
	g, err := ann.New(ann.Config{
		Dimension:      x.cfg.Dimension,
		MaxElements:    x.cfg.MaxElements,
		M:              x.cfg.M,
		EfConstruction: x.cfg.EfConstruction,
		EfSearch:       x.cfg.EfSearch,
	})
	if err != nil {
		panic(fmt.Sprintf("vector: fresh graph: %v", err))
	}
	return g
}

// removeDocumentByLabel tombstones the graph slot and hard-deletes the
// mapping entries. Callers hold the lock and persist afterwards.
func (x *Index) removeDocumentByLabel(label uint64) {
	if err := x.graph.MarkDeleted(label); err != nil {
		logger.Warn("vector index %q: tombstone label %d: %v", x.cfg.Name, label, err)
	}

	doc, ok := x.docs[label]
	if !ok {
		return
	}
	delete(x.docs, label)

	if set := x.sourceDocs[doc.SourceID]; set != nil {
		delete(set, label)
		if len(set) == 0 {
			delete(x.sourceDocs, doc.SourceID)
		}
	}
}

// autoCleanup runs both eviction policies after an insert. Eviction failures
// must never fail the insert that triggered them, so everything here only
// warns.
func (x *Index) autoCleanup(ctx context.Context) {
	evicted := x.evictExpired() + x.evictOverCapacity()
	if evicted == 0 {
		return
	}

	logger.Debug("vector index %q: evicted %d documents, %d live remain", x.cfg.Name, evicted, len(x.docs))
	if err := x.saveMapping(ctx); err != nil {
		logger.Warn("vector index %q: persist mapping after eviction: %v", x.cfg.Name, err)
	}
	if err := x.saveGraph(ctx); err != nil {
		logger.Warn("vector index %q: persist graph after eviction: %v", x.cfg.Name, err)
	} else {
		x.sinceSync = 0
	}
}

// evictExpired removes documents older than the retention window.
func (x *Index) evictExpired() int {
	cutoff := x.now().Add(-x.cfg.Retention)
	var expired []uint64
	for label, doc := range x.docs {
		if doc.InsertedAt.Before(cutoff) {
			expired = append(expired, label)
		}
	}
	for _, label := range expired {
		x.removeDocumentByLabel(label)
	}
	return len(expired)
}

// evictOverCapacity removes the oldest fraction of documents once the live
// count reaches the configured maximum. Recency means insertion time, not
// access time.
func (x *Index) evictOverCapacity() int {
	if len(x.docs) < x.cfg.MaxElements {
		return 0
	}

	labels := make([]uint64, 0, len(x.docs))
	for label := range x.docs {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return x.docs[labels[i]].InsertedAt.Before(x.docs[labels[j]].InsertedAt)
	})

	count := int(float64(len(labels)) * x.cfg.EvictFraction)
	if count < 1 {
		count = 1
	}
	for _, label := range labels[:count] {
		x.removeDocumentByLabel(label)
	}
	return count
}

func (x *Index) saveGraph(ctx context.Context) error {
	payload, err := x.graph.MarshalBinary()
	if err != nil {
		return err
	}
	return x.blobs.PutBlob(ctx, x.graphBlob(), payload)
}

func (x *Index) saveMapping(ctx context.Context) error {
	payload, err := encodeMapping(x.docs, x.sourceDocs, x.nextLabel)
	if err != nil {
		return err
	}
	return x.blobs.PutBlob(ctx, x.mappingBlob(), payload)
}
