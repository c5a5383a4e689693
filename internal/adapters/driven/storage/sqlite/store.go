package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tabsense/tabsense/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/core/ports/driven"
)

// Store is a unified SQLite-based durable store. It backs both the vector
// index persistence (graph + mapping blobs) and the model artifact cache.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.tabsense/data/index.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".tabsense", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// BlobStore returns a BlobStore interface backed by this store.
func (s *Store) BlobStore() driven.BlobStore {
	return &blobStore{store: s}
}

// ArtifactStore returns an ArtifactStore interface backed by this store.
func (s *Store) ArtifactStore() driven.ArtifactStore {
	return &artifactStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort and run migrations
	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		// Read and execute migration
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Blob Store ====================

// blobStore implements driven.BlobStore.
type blobStore struct {
	store *Store
}

var _ driven.BlobStore = (*blobStore)(nil)

// GetBlob returns the payload stored under name.
func (s *blobStore) GetBlob(ctx context.Context, name string) ([]byte, error) {
	var payload []byte
	err := s.store.db.QueryRowContext(ctx,
		"SELECT payload FROM blobs WHERE name = ?", name).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning blob: %w", err)
	}
	return payload, nil
}

// PutBlob stores or replaces the payload under name.
func (s *blobStore) PutBlob(ctx context.Context, name string, payload []byte) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO blobs (name, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, name, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving blob: %w", err)
	}
	return nil
}

// DeleteBlob removes the payload under name.
func (s *blobStore) DeleteBlob(ctx context.Context, name string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM blobs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// ==================== Artifact Store ====================

// artifactStore implements driven.ArtifactStore.
type artifactStore struct {
	store *Store
}

var _ driven.ArtifactStore = (*artifactStore)(nil)

// GetArtifact returns the full record for url, payload included.
func (s *artifactStore) GetArtifact(ctx context.Context, url string) (*driven.ArtifactRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT url, payload, size_bytes, version, created_at
		FROM model_artifacts WHERE url = ?
	`, url)

	var rec driven.ArtifactRecord
	var createdAt sql.NullTime
	if err := row.Scan(&rec.URL, &rec.Payload, &rec.SizeBytes, &rec.Version, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning artifact: %w", err)
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}
	return &rec, nil
}

// PutArtifact stores or replaces the record for rec.URL.
func (s *artifactStore) PutArtifact(ctx context.Context, rec driven.ArtifactRecord) error {
	if rec.URL == "" {
		return domain.ErrInvalidInput
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO model_artifacts (url, payload, size_bytes, version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			payload = excluded.payload,
			size_bytes = excluded.size_bytes,
			version = excluded.version,
			created_at = excluded.created_at
	`, rec.URL, rec.Payload, rec.SizeBytes, rec.Version, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving artifact: %w", err)
	}
	return nil
}

// DeleteArtifact removes the record for url.
func (s *artifactStore) DeleteArtifact(ctx context.Context, url string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM model_artifacts WHERE url = ?", url)
	if err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns metadata for every record, payloads omitted.
func (s *artifactStore) ListArtifacts(ctx context.Context) ([]driven.ArtifactRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT url, size_bytes, version, created_at
		FROM model_artifacts
	`)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var records []driven.ArtifactRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec driven.ArtifactRecord
		var createdAt sql.NullTime
		if err := rows.Scan(&rec.URL, &rec.SizeBytes, &rec.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		if createdAt.Valid {
			rec.CreatedAt = createdAt.Time
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifacts: %w", err)
	}

	return records, nil
}
