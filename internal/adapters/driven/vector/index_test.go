package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/vecmath"
)

const testDim = 4

// memBlobStore is an in-memory BlobStore that counts writes per name.
type memBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	puts    map[string]int
	failPut string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		blobs: make(map[string][]byte),
		puts:  make(map[string]int),
	}
}

func (s *memBlobStore) GetBlob(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.blobs[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return payload, nil
}

func (s *memBlobStore) PutBlob(_ context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut == name {
		return errors.New("store unavailable")
	}
	s.blobs[name] = payload
	s.puts[name]++
	return nil
}

func (s *memBlobStore) DeleteBlob(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, name)
	return nil
}

func (s *memBlobStore) putCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[name]
}

// failPuts makes PutBlob fail for name; an empty name restores writes.
func (s *memBlobStore) failPuts(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = name
}

func newTestIndex(t *testing.T, blobs *memBlobStore, cfg Config) *Index {
	t.Helper()
	if cfg.Dimension == 0 {
		cfg.Dimension = testDim
	}
	idx, err := NewIndex(blobs, cfg)
	require.NoError(t, err)
	require.NoError(t, idx.Initialize(context.Background()))
	return idx
}

// axisVec returns a unit vector along one axis, nudged so vectors stay
// distinct.
func axisVec(axis int, nudge float32) []float32 {
	v := make([]float32, testDim)
	v[axis%testDim] = 1
	v[(axis+1)%testDim] = nudge
	vecmath.Normalize(v)
	return v
}

func chunk(i int, text string) domain.TextChunk {
	return domain.TextChunk{Index: i, Text: text}
}

func TestAddDocumentAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, newMemBlobStore(), Config{})

	l0, err := idx.AddDocument(ctx, "tab-1", "https://a", "A", chunk(0, "cats"), axisVec(0, 0.01))
	require.NoError(t, err)
	l1, err := idx.AddDocument(ctx, "tab-1", "https://a", "A", chunk(1, "more cats"), axisVec(0, 0.2))
	require.NoError(t, err)
	_, err = idx.AddDocument(ctx, "tab-2", "https://b", "B", chunk(0, "dogs"), axisVec(2, 0.01))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), l0)
	assert.Equal(t, uint64(1), l1)

	results, err := idx.Search(ctx, axisVec(0, 0.05), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Both hits are the axis-0 chunks, ranked by similarity descending.
	assert.Equal(t, "cats", results[0].Document.Chunk)
	assert.Equal(t, "more cats", results[1].Document.Chunk)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
	for _, r := range results {
		assert.InDelta(t, 1-r.Distance, r.Similarity, 1e-9)
		assert.NotEmpty(t, r.Document.ID)
	}
}

func TestAddDocumentValidation(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, newMemBlobStore(), Config{})

	_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "x"), []float32{1, 0})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	bad := axisVec(0, 0)
	bad[1] = float32(math.NaN())
	_, err = idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "x"), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidVector)

	// Rejected inserts must not corrupt state.
	docs, sources, _ := idx.Stats()
	assert.Zero(t, docs)
	assert.Zero(t, sources)
}

func TestAddDocumentRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()
	idx := newTestIndex(t, blobs, Config{})

	_, err := idx.AddDocument(ctx, "tab-1", "https://a", "A", chunk(0, "kept"), axisVec(0, 0.01))
	require.NoError(t, err)

	blobs.failPuts("mapping:" + DefaultName)
	_, err = idx.AddDocument(ctx, "tab-1", "https://a", "A", chunk(1, "lost"), axisVec(1, 0.01))
	require.Error(t, err)

	// The failed insert left nothing behind: stats and search agree with
	// what a restart would load from the last persisted mapping.
	docs, sources, _ := idx.Stats()
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, sources)
	results, err := idx.Search(ctx, axisVec(1, 0.01), 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "lost", r.Document.Chunk)
	}

	// Once the store recovers, inserts resume; the rolled-back label is
	// burned, not reused.
	blobs.failPuts("")
	label, err := idx.AddDocument(ctx, "tab-1", "https://a", "A", chunk(2, "recovered"), axisVec(2, 0.01))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), label)

	docs, _, _ = idx.Stats()
	assert.Equal(t, 2, docs)
}

func TestInitializeRecoversFromMangledGraphBlob(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()
	idx := newTestIndex(t, blobs, Config{})

	_, err := idx.AddDocument(ctx, "tab-1", "https://a", "A", chunk(0, "cats"), axisVec(0, 0.01))
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Flip the first node's level to a negative value: structurally valid
	// header, poisoned body. The offset is the serialised header (magic,
	// version, five int32 parameters, entry, maxLevel, count) plus the
	// 8-byte node label.
	const firstNodeLevelOffset = 4 + 2 + 5*4 + 8 + 4 + 4 + 8
	payload := blobs.blobs["graph:"+DefaultName]
	require.Greater(t, len(payload), firstNodeLevelOffset+4)
	binary.LittleEndian.PutUint32(payload[firstNodeLevelOffset:], uint32(0xFFFFFFFD))

	reopened, err := NewIndex(blobs, Config{Dimension: testDim})
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))

	// Graph loss also drops the now-vectorless mapping entries.
	docs, sources, graphSize := reopened.Stats()
	assert.Zero(t, docs)
	assert.Zero(t, sources)
	assert.Zero(t, graphSize)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t, newMemBlobStore(), Config{})

	results, err := idx.Search(context.Background(), axisVec(0, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	idx, err := NewIndex(newMemBlobStore(), Config{Dimension: testDim})
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), axisVec(0, 0), 1)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = idx.AddDocument(context.Background(), "s", "u", "t", chunk(0, "x"), axisVec(0, 0))
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestRemoveSourceDocuments(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, newMemBlobStore(), Config{})

	_, err := idx.AddDocument(ctx, "tab-1", "u1", "t1", chunk(0, "keep"), axisVec(0, 0.01))
	require.NoError(t, err)
	_, err = idx.AddDocument(ctx, "tab-2", "u2", "t2", chunk(0, "drop"), axisVec(0, 0.02))
	require.NoError(t, err)

	require.NoError(t, idx.RemoveSourceDocuments(ctx, "tab-2"))

	docs, sources, graphSize := idx.Stats()
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, sources)
	// Graph slots are tombstoned, never reclaimed.
	assert.Equal(t, 2, graphSize)

	results, err := idx.Search(ctx, axisVec(0, 0.01), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].Document.Chunk)

	// Unknown source is a no-op.
	assert.NoError(t, idx.RemoveSourceDocuments(ctx, "tab-99"))
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()

	idx := newTestIndex(t, blobs, Config{})
	for i := 0; i < 6; i++ {
		_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(i, "c"), axisVec(i, 0.1))
		require.NoError(t, err)
	}
	query := axisVec(1, 0.05)
	before, err := idx.Search(ctx, query, 3)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reloaded := newTestIndex(t, blobs, Config{})
	after, err := reloaded.Search(ctx, query, 3)
	require.NoError(t, err)

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Document.ID, after[i].Document.ID)
		assert.InDelta(t, before[i].Similarity, after[i].Similarity, 1e-6)
	}

	// Label allocation continues where it left off.
	label, err := reloaded.AddDocument(ctx, "tab-1", "u", "t", chunk(6, "c"), axisVec(2, 0.3))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), label)
}

func TestInitializeMappingLost(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()

	idx := newTestIndex(t, blobs, Config{})
	for i := 0; i < 3; i++ {
		_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(i, "c"), axisVec(i, 0.1))
		require.NoError(t, err)
	}
	require.NoError(t, idx.Close())

	// Simulate losing the mapping while the graph survives.
	require.NoError(t, blobs.DeleteBlob(ctx, "mapping:"+DefaultName))

	reloaded := newTestIndex(t, blobs, Config{})
	docs, _, graphSize := reloaded.Stats()
	assert.Zero(t, docs)
	assert.Equal(t, 3, graphSize)

	// Old vectors are unreachable orphans, skipped during search.
	results, err := reloaded.Search(ctx, axisVec(0, 0.1), 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// New labels must not collide with surviving graph entries.
	label, err := reloaded.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "new"), axisVec(3, 0.1))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), label)
}

func TestInitializeGraphLost(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()

	idx := newTestIndex(t, blobs, Config{})
	_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "c"), axisVec(0, 0.1))
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Opposite desync: mapping survives, graph is gone.
	require.NoError(t, blobs.DeleteBlob(ctx, "graph:"+DefaultName))

	reloaded := newTestIndex(t, blobs, Config{})
	docs, sources, graphSize := reloaded.Stats()
	assert.Zero(t, docs)
	assert.Zero(t, sources)
	assert.Zero(t, graphSize)
}

func TestInitializeCorruptBlobsStartsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()
	require.NoError(t, blobs.PutBlob(ctx, "graph:"+DefaultName, []byte("junk")))
	require.NoError(t, blobs.PutBlob(ctx, "mapping:"+DefaultName, []byte("{broken")))

	idx := newTestIndex(t, blobs, Config{})
	docs, _, graphSize := idx.Stats()
	assert.Zero(t, docs)
	assert.Zero(t, graphSize)

	_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "c"), axisVec(0, 0.1))
	assert.NoError(t, err)
}

func TestDimensionMismatchedGraphDiscarded(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()

	idx := newTestIndex(t, blobs, Config{Dimension: testDim})
	_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "c"), axisVec(0, 0.1))
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// An index bound to a different dimension must not adopt the old graph.
	other, err := NewIndex(blobs, Config{Dimension: testDim * 2})
	require.NoError(t, err)
	require.NoError(t, other.Initialize(ctx))
	_, _, graphSize := other.Stats()
	assert.Zero(t, graphSize)
}

func TestCapacityEviction(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, newMemBlobStore(), Config{
		MaxElements:   10,
		EvictFraction: 0.2,
	})

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	idx.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for i := 0; i < 10; i++ {
		_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(i, "c"), axisVec(i, 0.1))
		require.NoError(t, err)
	}

	// The tenth insert reached capacity: the oldest 20% are gone.
	docs, _, graphSize := idx.Stats()
	assert.Equal(t, 8, docs)
	assert.Equal(t, 10, graphSize)

	results, err := idx.Search(ctx, axisVec(0, 0.1), 10)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, r := range results {
		seen[r.Document.ChunkIndex] = true
	}
	assert.False(t, seen[0])
	assert.False(t, seen[1])
	assert.True(t, seen[9])
}

func TestTimeEviction(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, newMemBlobStore(), Config{Retention: time.Hour})

	clock := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	idx.now = func() time.Time { return clock }

	_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "old"), axisVec(0, 0.1))
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	_, err = idx.AddDocument(ctx, "tab-1", "u", "t", chunk(1, "fresh"), axisVec(1, 0.1))
	require.NoError(t, err)

	results, err := idx.Search(ctx, axisVec(0, 0.1), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fresh", results[0].Document.Chunk)
}

func TestGraphSyncEveryNthInsert(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()
	idx := newTestIndex(t, blobs, Config{GraphSyncEvery: 3})

	for i := 0; i < 7; i++ {
		_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(i, "c"), axisVec(i, 0.1))
		require.NoError(t, err)
	}

	// 7 inserts with a sync period of 3 write the graph twice; the mapping
	// is written on every insert.
	assert.Equal(t, 2, blobs.putCount("graph:"+DefaultName))
	assert.Equal(t, 7, blobs.putCount("mapping:"+DefaultName))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobStore()
	idx := newTestIndex(t, blobs, Config{})

	_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "c"), axisVec(0, 0.1))
	require.NoError(t, err)

	require.NoError(t, idx.Clear(ctx))

	docs, sources, graphSize := idx.Stats()
	assert.Zero(t, docs)
	assert.Zero(t, sources)
	assert.Zero(t, graphSize)

	// A cleared index is immediately usable and labels restart.
	label, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "c"), axisVec(0, 0.1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), label)

	// The persisted state is the empty index, not the old one.
	require.NoError(t, idx.Close())
	reloaded := newTestIndex(t, blobs, Config{})
	docs, _, _ = reloaded.Stats()
	assert.Equal(t, 1, docs)
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, newMemBlobStore(), Config{})
	require.NoError(t, idx.Close())

	_, err := idx.AddDocument(ctx, "tab-1", "u", "t", chunk(0, "c"), axisVec(0, 0.1))
	assert.ErrorIs(t, err, domain.ErrIndexClosed)
	_, err = idx.Search(ctx, axisVec(0, 0.1), 1)
	assert.ErrorIs(t, err, domain.ErrIndexClosed)

	// Double close is fine.
	assert.NoError(t, idx.Close())
}

func TestMappingRoundTrip(t *testing.T) {
	docs := map[uint64]domain.VectorDocument{
		3: {ID: "a", SourceID: "s1", Chunk: "x", ChunkIndex: 0},
		7: {ID: "b", SourceID: "s2", Chunk: "y", ChunkIndex: 1},
	}
	sourceDocs := map[string]map[uint64]struct{}{
		"s1": {3: {}},
		"s2": {7: {}},
	}

	payload, err := encodeMapping(docs, sourceDocs, 8)
	require.NoError(t, err)

	state, err := decodeMapping(payload)
	require.NoError(t, err)
	assert.Equal(t, docs, state.docs)
	assert.Equal(t, sourceDocs, state.sourceDocs)
	assert.Equal(t, uint64(8), state.nextLabel)

	// A stale counter is bumped past the highest mapped label.
	payload, err = encodeMapping(docs, sourceDocs, 0)
	require.NoError(t, err)
	state, err = decodeMapping(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), state.nextLabel)
}
