// Package domain contains the core entities of the semantic content index:
// vector documents, text chunks, search results, and the domain error set.
// It has no dependencies on infrastructure.
package domain
