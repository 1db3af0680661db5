// Package storage resolves repository and artifact paths and opens
// digesting streams against them through pluggable storage providers.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/stream"
)

// WalkFunc is called for every artifact file found by Provider.Walk.
type WalkFunc func(p *RepositoryPath, size int64) error

// Provider is one physical storage backend.
type Provider interface {
	// Alias is the key repositories use to select this provider.
	Alias() string

	// ResolveRepositoryRoot returns the root path of repo.
	ResolveRepositoryRoot(repo *models.Repository) (*RepositoryPath, error)

	// ResolvePath returns rel below the root of repo.
	ResolvePath(repo *models.Repository, rel string) (*RepositoryPath, error)

	// ResolveArtifactPath maps coords under the root of repo and makes sure
	// the parent chain exists so an output stream can be opened right away.
	ResolveArtifactPath(ctx context.Context, repo *models.Repository, coords models.Coordinates) (*RepositoryPath, error)

	// EnsureParents creates every missing ancestor of p. It is idempotent
	// and safe to race with itself.
	EnsureParents(ctx context.Context, p *RepositoryPath) error

	// Exists reports whether p names an artifact file.
	Exists(ctx context.Context, p *RepositoryPath) (bool, error)

	// OpenInputStream opens p for reading. With ranges, only those bytes are
	// served. Returns models.ErrNotFound if p is missing or not a file.
	OpenInputStream(ctx context.Context, p *RepositoryPath, ranges ...models.ByteRange) (*stream.InputStream, error)

	// OpenOutputStream creates or truncates p.
	OpenOutputStream(ctx context.Context, p *RepositoryPath) (*stream.OutputStream, error)

	// Walk visits every artifact file under p in lexical order.
	Walk(ctx context.Context, p *RepositoryPath, fn WalkFunc) error

	// CreateRoot provisions the physical root of repo.
	// Returns models.ErrConflict if it already exists.
	CreateRoot(ctx context.Context, repo *models.Repository) error

	// RemoveRoot deletes the physical root of repo. A missing root is not an error.
	RemoveRoot(ctx context.Context, repo *models.Repository) error

	// Wrap promotes an already-open reader to a digesting input stream.
	Wrap(r io.Reader) (*stream.InputStream, error)
	WrapAlgorithms(r io.Reader, algorithms []string) (*stream.InputStream, error)
	WrapCoordinates(coords models.Coordinates, r io.Reader) (*stream.InputStream, error)
}

// TempSweeper is implemented by providers that leave temp files behind
// when a write is interrupted.
type TempSweeper interface {
	SweepTemp(ctx context.Context, repo *models.Repository, cutoff time.Time) (int, error)
}

// wrapper holds the stream settings shared by every provider and
// implements the Wrap family.
type wrapper struct {
	algorithms []string
}

func newWrapper(algorithms []string) wrapper {
	if len(algorithms) == 0 {
		algorithms = stream.DefaultAlgorithms
	}
	return wrapper{algorithms: append([]string(nil), algorithms...)}
}

func (w wrapper) streamOptions(ctx context.Context, p *RepositoryPath, extra ...stream.Option) []stream.Option {
	opts := []stream.Option{stream.WithAlgorithms(w.algorithms...), stream.WithContext(ctx)}
	if p != nil && p.coords != nil {
		opts = append(opts, stream.WithCoordinates(p.coords))
	}
	return append(opts, extra...)
}

func (w wrapper) Wrap(r io.Reader) (*stream.InputStream, error) {
	return stream.NewInputStream(r, stream.WithAlgorithms(w.algorithms...))
}

func (w wrapper) WrapAlgorithms(r io.Reader, algorithms []string) (*stream.InputStream, error) {
	return stream.NewInputStream(r, stream.WithAlgorithms(algorithms...))
}

func (w wrapper) WrapCoordinates(coords models.Coordinates, r io.Reader) (*stream.InputStream, error) {
	return stream.NewInputStream(r, stream.WithAlgorithms(w.algorithms...), stream.WithCoordinates(coords))
}

func validateRepository(repo *models.Repository) error {
	if repo == nil || repo.ID == "" || repo.StorageID == "" {
		return fmt.Errorf("%w: repository descriptor is incomplete", models.ErrConfiguration)
	}
	return nil
}

// resolveArtifact is the shared ResolveArtifactPath: a pure path
// computation followed by EnsureParents.
func resolveArtifact(ctx context.Context, p Provider, repo *models.Repository, coords models.Coordinates) (*RepositoryPath, error) {
	if coords == nil {
		return nil, fmt.Errorf("%w: nil coordinates", models.ErrConfiguration)
	}
	target, err := p.ResolvePath(repo, coords.Path())
	if err != nil {
		return nil, err
	}
	if target.IsRoot() {
		return nil, fmt.Errorf("%w: coordinates %s resolve to the repository root", models.ErrConfiguration, coords)
	}
	target = target.withCoordinates(coords)
	if err := p.EnsureParents(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}
