// Package local provides the embedding engine: it tokenizes text, obtains
// model weights from the artifact cache (or a remote fetch on miss), and
// computes fixed-length vector embeddings via a batched inference worker.
//
// The worker is an isolated goroutine reached only by message passing.
// Every call carries a correlation id and in-flight requests are bounded by
// a semaphore; callers beyond the limit queue FIFO.
package local
