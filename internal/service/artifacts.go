package service

import (
	"context"
	"fmt"
	"io"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/stream"
)

// PutArtifact stores r at rel in the repository and records it in the
// index. rel is parsed with the repository layout, so a maven2 repository
// only accepts artifact file paths.
func (m *Manager) PutArtifact(ctx context.Context, storageID, repoID, rel string, r io.Reader) (*models.IndexEntry, error) {
	repo, p, err := m.lookup(storageID, repoID)
	if err != nil {
		return nil, err
	}
	coords, err := models.ParseCoordinates(repo.Layout, rel)
	if err != nil {
		return nil, err
	}
	path, err := p.ResolveArtifactPath(ctx, repo, coords)
	if err != nil {
		return nil, err
	}

	out, err := p.OpenOutputStream(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Abort()
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	m.metrics.AddStreamBytes("out", out.Count())

	sums, err := out.Digests()
	if err != nil {
		return nil, err
	}
	entry := &models.IndexEntry{Path: path.Rel(), Size: out.Count(), Checksums: sums, IndexedAt: m.now().UTC()}

	idx, err := m.openIndexRebuilding(repo, m.logger.With("repository", repo.Key()))
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	if err := idx.PutAll(ctx, []*models.IndexEntry{entry}); err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	m.metrics.AddArtifactsIndexed(repo.Key(), 1)

	m.logger.Debug("artifact stored", "repository", repo.Key(), "path", entry.Path, "size", entry.Size, "coordinates", coords.String())
	return entry, nil
}

// OpenArtifact opens rel for reading, restricted to ranges when given.
// The caller closes the stream.
func (m *Manager) OpenArtifact(ctx context.Context, storageID, repoID, rel string, ranges ...models.ByteRange) (*stream.InputStream, error) {
	repo, p, err := m.lookup(storageID, repoID)
	if err != nil {
		return nil, err
	}
	coords, err := models.ParseCoordinates(repo.Layout, rel)
	if err != nil {
		return nil, err
	}
	path, err := p.ResolvePath(repo, coords.Path())
	if err != nil {
		return nil, err
	}
	in, err := p.OpenInputStream(ctx, path, ranges...)
	if err != nil {
		return nil, err
	}
	in.SetCoordinates(coords)
	return in, nil
}

// StatArtifact returns the index entry for rel.
func (m *Manager) StatArtifact(ctx context.Context, storageID, repoID, rel string) (*models.IndexEntry, error) {
	repo, err := m.config.GetRepository(storageID, repoID)
	if err != nil {
		return nil, err
	}
	coords, err := models.ParseCoordinates(repo.Layout, rel)
	if err != nil {
		return nil, err
	}
	idx, err := m.openIndexRebuilding(repo, m.logger.With("repository", repo.Key()))
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	return idx.Get(ctx, coords.Path())
}
