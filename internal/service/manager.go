// Package service runs repository lifecycle operations: provisioning,
// re-indexing, index merges, packing and removal. It ties descriptors from
// the configuration service to storage providers and repository indexes.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/artvault/internal/config"
	"github.com/kilupskalvis/artvault/internal/index"
	"github.com/kilupskalvis/artvault/internal/metrics"
	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Manager performs lifecycle operations keyed by storage and repository id.
// Operations on the same repository are not serialized here.
type Manager struct {
	config   *config.Service
	registry *storage.Registry
	metrics  metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics sets the metrics sink. The default is metrics.Noop.
func WithMetrics(m metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(mgr *Manager) { mgr.logger = l }
}

// WithClock overrides time.Now for snapshot and index timestamps.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

func NewManager(cfg *config.Service, registry *storage.Registry, opts ...Option) *Manager {
	m := &Manager{
		config:   cfg,
		registry: registry,
		metrics:  metrics.Noop{},
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// lookup returns the repository descriptor and its provider.
func (m *Manager) lookup(storageID, repoID string) (*models.Repository, storage.Provider, error) {
	repo, err := m.config.GetRepository(storageID, repoID)
	if err != nil {
		return nil, nil, err
	}
	p, err := m.registry.ResolveFor(repo)
	if err != nil {
		return nil, nil, err
	}
	return repo, p, nil
}

// begin tags a logger with a fresh operation id.
func (m *Manager) begin(op string, repo string) (*slog.Logger, time.Time) {
	return m.logger.With("op", op, "op_id", uuid.NewString(), "repository", repo), time.Now()
}

func (m *Manager) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.ObserveOperation(op, status, time.Since(start).Seconds())
}

// CreateRepository provisions the physical root and an empty index. An
// existing root fails with models.ErrConflict and is left untouched. If the
// index cannot be created the new root is removed again.
func (m *Manager) CreateRepository(ctx context.Context, storageID, repoID string) (err error) {
	logger, start := m.begin("create", models.RepositoryKey(storageID, repoID))
	defer func() { m.observe("create", start, err) }()

	repo, p, err := m.lookup(storageID, repoID)
	if err != nil {
		return err
	}
	if err := p.CreateRoot(ctx, repo); err != nil {
		return err
	}

	if err := m.createIndex(repo); err != nil {
		if rmErr := p.RemoveRoot(ctx, repo); rmErr != nil {
			logger.Error("failed to remove root after index error", "error", rmErr)
		}
		return err
	}

	logger.Info("repository created", "provider", p.Alias(), "layout", repo.Layout)
	return nil
}

func (m *Manager) createIndex(repo *models.Repository) error {
	path := m.indexPath(repo)
	idx, err := index.Open(m.config.Config().Index.Backend, path)
	if err != nil {
		return fmt.Errorf("create index for %s: %w", repo.Key(), err)
	}
	if err := idx.Close(); err != nil {
		removeIndexFiles(path)
		return fmt.Errorf("close index for %s: %w", repo.Key(), err)
	}
	return nil
}

type walked struct {
	path *storage.RepositoryPath
	size int64
}

// ReIndex rebuilds the index entries under rel (empty for the whole
// repository) from physical storage and returns the number of artifacts
// indexed. An index file that cannot be opened is discarded and rebuilt.
func (m *Manager) ReIndex(ctx context.Context, storageID, repoID, rel string) (n int, err error) {
	logger, start := m.begin("reindex", models.RepositoryKey(storageID, repoID))
	defer func() { m.observe("reindex", start, err) }()

	repo, p, err := m.lookup(storageID, repoID)
	if err != nil {
		return 0, err
	}
	root, err := p.ResolveRepositoryRoot(repo)
	if err != nil {
		return 0, err
	}
	scope, err := root.Resolve(rel)
	if err != nil {
		return 0, err
	}

	var files []walked
	err = p.Walk(ctx, scope, func(path *storage.RepositoryPath, size int64) error {
		files = append(files, walked{path: path, size: size})
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return 0, fmt.Errorf("walk %s: %w", scope, err)
	}

	entries := make([]*models.IndexEntry, len(files))
	indexedAt := m.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Config().Index.Workers)
	for i, f := range files {
		g.Go(func() error {
			entry, err := m.digestFile(gctx, p, f, indexedAt)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	idx, err := m.openIndexRebuilding(repo, logger)
	if err != nil {
		return 0, err
	}
	defer idx.Close()

	if err := idx.ReplacePrefix(ctx, scope.Rel(), entries); err != nil {
		return 0, fmt.Errorf("update index for %s: %w", repo.Key(), err)
	}

	m.metrics.AddArtifactsIndexed(repo.Key(), len(entries))
	logger.Info("reindex complete", "scope", scope.Rel(), "artifacts", len(entries))
	return len(entries), nil
}

func (m *Manager) digestFile(ctx context.Context, p storage.Provider, f walked, indexedAt time.Time) (*models.IndexEntry, error) {
	in, err := p.OpenInputStream(ctx, f.path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	n, err := io.Copy(io.Discard, in)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	m.metrics.AddStreamBytes("in", n)

	sums, err := in.Digests()
	if err != nil {
		return nil, err
	}
	return &models.IndexEntry{Path: f.path.Rel(), Size: n, Checksums: sums, IndexedAt: indexedAt}, nil
}

// openIndexRebuilding opens the repository index, replacing a file that
// cannot be opened with an empty one.
func (m *Manager) openIndexRebuilding(repo *models.Repository, logger *slog.Logger) (index.Index, error) {
	backend, path := m.config.Config().Index.Backend, m.indexPath(repo)
	idx, err := index.Open(backend, path)
	if err == nil {
		return idx, nil
	}

	logger.Warn("index unreadable, rebuilding from storage", "path", path, "error", err)
	if err := removeIndexFiles(path); err != nil {
		return nil, err
	}
	idx, err = index.Open(backend, path)
	if err != nil {
		return nil, fmt.Errorf("recreate index for %s: %w", repo.Key(), err)
	}
	return idx, nil
}

// MergeIndexes copies the source repository's index entries into the
// target's. Index failures are returned as *index.ArtifactStorageError and
// leave the target unchanged. The source is only read.
func (m *Manager) MergeIndexes(ctx context.Context, srcStorage, srcRepo, dstStorage, dstRepo string) (n int, err error) {
	logger, start := m.begin("merge", models.RepositoryKey(dstStorage, dstRepo))
	defer func() { m.observe("merge", start, err) }()

	src, err := m.config.GetRepository(srcStorage, srcRepo)
	if err != nil {
		return 0, err
	}
	dst, err := m.config.GetRepository(dstStorage, dstRepo)
	if err != nil {
		return 0, err
	}
	backend := m.config.Config().Index.Backend

	srcPath := m.indexPath(src)
	if _, err := os.Stat(srcPath); errors.Is(err, fs.ErrNotExist) {
		logger.Info("source has no index, nothing to merge", "source", src.Key())
		return 0, nil
	}
	srcIdx, err := index.Open(backend, srcPath)
	if err != nil {
		return 0, &index.ArtifactStorageError{Op: "open", Source: src.Key(), Target: dst.Key(), Err: err}
	}
	defer srcIdx.Close()

	dstIdx, err := index.Open(backend, m.indexPath(dst))
	if err != nil {
		return 0, &index.ArtifactStorageError{Op: "open", Source: src.Key(), Target: dst.Key(), Err: err}
	}
	defer dstIdx.Close()

	n, err = index.Merge(ctx, dstIdx, srcIdx)
	if err != nil {
		return 0, err
	}

	logger.Info("merge complete", "source", src.Key(), "entries", n)
	return n, nil
}

// PackResult describes a written snapshot.
type PackResult struct {
	Path    string
	Entries int
	Bytes   int64
}

// Pack compacts the repository index and writes its snapshot next to it.
// The snapshot replaces the previous one atomically.
func (m *Manager) Pack(ctx context.Context, storageID, repoID string) (res *PackResult, err error) {
	logger, start := m.begin("pack", models.RepositoryKey(storageID, repoID))
	defer func() { m.observe("pack", start, err) }()

	repo, err := m.config.GetRepository(storageID, repoID)
	if err != nil {
		return nil, err
	}
	cfg := m.config.Config()
	idxPath := m.indexPath(repo)
	if _, err := os.Stat(idxPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("index of %s: %w", repo.Key(), models.ErrNotFound)
	}

	idx, err := index.Open(cfg.Index.Backend, idxPath)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	if err := idx.Compact(ctx); err != nil {
		return nil, err
	}

	packPath := cfg.PackPath(repo.StorageID, repo.ID)
	tmp, err := os.CreateTemp(filepath.Dir(packPath), ".pack-*")
	if err != nil {
		return nil, fmt.Errorf("create temp pack file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	count, err := index.WriteSnapshot(ctx, tmp, idx, repo.Key(), cfg.Index.PackCodec, m.now())
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync pack file: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close pack file: %w", err)
	}
	if err := os.Rename(tmpPath, packPath); err != nil {
		return nil, fmt.Errorf("rename pack file: %w", err)
	}

	res = &PackResult{Path: packPath, Entries: count, Bytes: info.Size()}
	logger.Info("pack complete", "path", res.Path, "entries", res.Entries, "bytes", res.Bytes, "codec", cfg.Index.PackCodec)
	return res, nil
}

// RemoveRepository deletes the physical root, the index and the snapshot.
// Parts that are already gone are skipped.
func (m *Manager) RemoveRepository(ctx context.Context, storageID, repoID string) (err error) {
	logger, start := m.begin("remove", models.RepositoryKey(storageID, repoID))
	defer func() { m.observe("remove", start, err) }()

	repo, p, err := m.lookup(storageID, repoID)
	if err != nil {
		return err
	}
	if err := p.RemoveRoot(ctx, repo); err != nil {
		return err
	}
	if err := removeIndexFiles(m.indexPath(repo)); err != nil {
		return err
	}
	if err := removeIfExists(m.config.Config().PackPath(repo.StorageID, repo.ID)); err != nil {
		return err
	}

	logger.Info("repository removed")
	return nil
}

func (m *Manager) indexPath(repo *models.Repository) string {
	return m.config.Config().IndexPath(repo.StorageID, repo.ID)
}

// removeIndexFiles deletes an index file and its sqlite sidecars.
func removeIndexFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + ".compact"} {
		if err := removeIfExists(p); err != nil {
			return err
		}
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
