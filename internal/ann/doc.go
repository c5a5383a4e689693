// Package ann implements the approximate-nearest-neighbour graph backing the
// vector index: a Hierarchical Navigable Small World (HNSW) structure over
// cosine distance.
//
// Removal is soft-delete only. A tombstoned label is skipped by searches but
// its slot is never reclaimed; full physical eviction of graph memory
// requires rebuilding the index from the document mapping.
package ann
