package driven

import "context"

// BlobStore is a durable key-value store for opaque payloads: the ANN graph
// blob and the document-mapping blob live here, one of each per index name.
type BlobStore interface {
	// GetBlob returns the payload stored under name.
	// Returns domain.ErrNotFound when absent.
	GetBlob(ctx context.Context, name string) ([]byte, error)

	// PutBlob stores or replaces the payload under name.
	PutBlob(ctx context.Context, name string, payload []byte) error

	// DeleteBlob removes the payload under name. Deleting a missing blob
	// is not an error.
	DeleteBlob(ctx context.Context, name string) error
}
