// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports): embedding generation, vector storage,
// durable blob persistence, and the model artifact cache.
package driven
