package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newTestStore(t).BlobStore()

	payload := []byte{0x01, 0x02, 0x03, 0xff}
	require.NoError(t, blobs.PutBlob(ctx, "graph:default", payload))

	got, err := blobs.GetBlob(ctx, "graph:default")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBlobStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	blobs := newTestStore(t).BlobStore()

	require.NoError(t, blobs.PutBlob(ctx, "mapping:default", []byte("old")))
	require.NoError(t, blobs.PutBlob(ctx, "mapping:default", []byte("new")))

	got, err := blobs.GetBlob(ctx, "mapping:default")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestBlobStoreMissing(t *testing.T) {
	ctx := context.Background()
	blobs := newTestStore(t).BlobStore()

	_, err := blobs.GetBlob(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting a missing blob is not an error.
	assert.NoError(t, blobs.DeleteBlob(ctx, "absent"))
}

func TestBlobStoreDelete(t *testing.T) {
	ctx := context.Background()
	blobs := newTestStore(t).BlobStore()

	require.NoError(t, blobs.PutBlob(ctx, "graph:default", []byte("x")))
	require.NoError(t, blobs.DeleteBlob(ctx, "graph:default"))

	_, err := blobs.GetBlob(ctx, "graph:default")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArtifactStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	artifacts := newTestStore(t).ArtifactStore()

	rec := driven.ArtifactRecord{
		URL:       "https://models.example.com/minilm-v2.bin",
		Payload:   []byte("weights"),
		SizeBytes: 7,
		Version:   "2",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, artifacts.PutArtifact(ctx, rec))

	got, err := artifacts.GetArtifact(ctx, rec.URL)
	require.NoError(t, err)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, rec.SizeBytes, got.SizeBytes)
	assert.Equal(t, rec.Version, got.Version)
}

func TestArtifactStoreValidation(t *testing.T) {
	ctx := context.Background()
	artifacts := newTestStore(t).ArtifactStore()

	err := artifacts.PutArtifact(ctx, driven.ArtifactRecord{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestArtifactStoreListOmitsPayload(t *testing.T) {
	ctx := context.Background()
	artifacts := newTestStore(t).ArtifactStore()

	for _, url := range []string{"https://m/a.bin", "https://m/b.bin"} {
		require.NoError(t, artifacts.PutArtifact(ctx, driven.ArtifactRecord{
			URL:       url,
			Payload:   []byte("payload"),
			SizeBytes: 7,
			Version:   "1",
		}))
	}

	records, err := artifacts.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Nil(t, rec.Payload)
		assert.Equal(t, int64(7), rec.SizeBytes)
		assert.False(t, rec.CreatedAt.IsZero())
	}
}

func TestArtifactStoreDelete(t *testing.T) {
	ctx := context.Background()
	artifacts := newTestStore(t).ArtifactStore()

	require.NoError(t, artifacts.PutArtifact(ctx, driven.ArtifactRecord{
		URL: "https://m/a.bin", Payload: []byte("x"), SizeBytes: 1, Version: "1",
	}))
	require.NoError(t, artifacts.DeleteArtifact(ctx, "https://m/a.bin"))

	_, err := artifacts.GetArtifact(ctx, "https://m/a.bin")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreReopens(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.BlobStore().PutBlob(ctx, "graph:default", []byte("persisted")))
	require.NoError(t, s.Close())

	// Reopening runs migrations idempotently and sees the old data.
	s2, err := NewStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.BlobStore().GetBlob(ctx, "graph:default")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}
