package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotReady indicates the semantic index is not yet initialised.
	// Distinct from an empty result set: callers must not conflate the two.
	ErrNotReady = errors.New("semantic index not ready")

	// ErrEngineNotInitialized indicates the embedding engine has not been
	// initialised, or lost its model state. Recoverable by re-initialising.
	ErrEngineNotInitialized = errors.New("embedding engine not initialized")

	// ErrDimensionMismatch indicates an embedding whose length does not match
	// the dimension the index was configured with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidVector indicates an embedding containing NaN or Inf components.
	ErrInvalidVector = errors.New("embedding contains non-finite values")

	// ErrIndexClosed indicates the vector index has been closed.
	ErrIndexClosed = errors.New("vector index closed")

	// ErrCacheMiss indicates the model artifact cache has no valid entry.
	ErrCacheMiss = errors.New("artifact not cached")

	// ErrArtifactCorrupt indicates a model artifact failed to parse.
	ErrArtifactCorrupt = errors.New("model artifact corrupt")
)
