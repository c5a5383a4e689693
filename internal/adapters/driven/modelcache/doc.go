// Package modelcache caches large model binaries keyed by URL, with
// timestamped metadata, expiry and size-bounded eviction. Entries live in
// the SQLite artifact store; a rate-limited fetcher fills misses.
package modelcache
