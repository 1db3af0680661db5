// Package index keeps the per-repository artifact index: one entry per
// artifact file with its size and checksums. It is rebuilt from physical
// storage, merged between repositories and packed into a compressed
// snapshot.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilupskalvis/artvault/internal/models"
)

// Backend names accepted by Open.
const (
	BackendBbolt  = "bbolt"
	BackendSQLite = "sqlite"
)

// Index is the storage contract for a repository index.
type Index interface {
	// PutAll inserts or replaces entries in one transaction.
	PutAll(ctx context.Context, entries []*models.IndexEntry) error

	// ReplacePrefix deletes every entry under prefix and inserts entries,
	// in one transaction. An empty prefix replaces the whole index.
	ReplacePrefix(ctx context.Context, prefix string, entries []*models.IndexEntry) error

	// Delete removes the entries for paths in one transaction. Missing
	// paths are ignored.
	Delete(ctx context.Context, paths []string) error

	// Get returns the entry for path, or models.ErrNotFound.
	Get(ctx context.Context, path string) (*models.IndexEntry, error)

	// ForEach calls fn for every entry in path order.
	ForEach(ctx context.Context, fn func(*models.IndexEntry) error) error

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)

	// Compact rewrites the backing file without free space.
	Compact(ctx context.Context) error

	// Path returns the backing file.
	Path() string

	// Close releases resources.
	Close() error
}

// Open opens or creates the index file at path with the given backend.
func Open(backend, path string) (Index, error) {
	switch backend {
	case "", BackendBbolt:
		return NewBboltIndex(path)
	case BackendSQLite:
		return NewSQLiteIndex(path)
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", models.ErrConfiguration, backend)
	}
}

// underPrefix reports whether path is prefix itself or below it.
func underPrefix(path, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	return prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/")
}
