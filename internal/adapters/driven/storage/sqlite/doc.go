// Package sqlite provides the durable store for the semantic index: the ANN
// graph and document-mapping blobs, and the model artifact cache entries.
// A single database file holds everything, opened in WAL mode.
package sqlite
