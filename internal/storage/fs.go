package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/stream"
)

// FileSystemAlias is the alias of FSProvider.
const FileSystemAlias = "file-system"

const tempPrefix = ".artvault-"

// FSProvider stores each repository as a directory tree rooted at the
// repository's base directory. Writes go to a temp file in the target
// directory and are renamed into place on close.
type FSProvider struct {
	wrapper
	logger *slog.Logger
}

// NewFSProvider creates a filesystem provider. algorithms selects the
// digests its streams compute; empty means stream.DefaultAlgorithms.
func NewFSProvider(algorithms []string, logger *slog.Logger) *FSProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FSProvider{wrapper: newWrapper(algorithms), logger: logger}
}

func (s *FSProvider) Alias() string { return FileSystemAlias }

// ResolveRepositoryRoot returns the absolute base directory of repo.
func (s *FSProvider) ResolveRepositoryRoot(repo *models.Repository) (*RepositoryPath, error) {
	if err := validateRepository(repo); err != nil {
		return nil, err
	}
	if repo.Basedir == "" {
		return nil, fmt.Errorf("%w: repository %s has no base directory", models.ErrConfiguration, repo.Key())
	}
	root, err := filepath.Abs(repo.Basedir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory of %s: %w", repo.Key(), err)
	}
	return newRootPath(repo, root), nil
}

func (s *FSProvider) ResolvePath(repo *models.Repository, rel string) (*RepositoryPath, error) {
	root, err := s.ResolveRepositoryRoot(repo)
	if err != nil {
		return nil, err
	}
	return root.Resolve(rel)
}

func (s *FSProvider) ResolveArtifactPath(ctx context.Context, repo *models.Repository, coords models.Coordinates) (*RepositoryPath, error) {
	return resolveArtifact(ctx, s, repo, coords)
}

// EnsureParents creates the directory chain above p. os.MkdirAll treats
// an existing directory as success, so concurrent callers do not collide.
func (s *FSProvider) EnsureParents(_ context.Context, p *RepositoryPath) error {
	dir := p.Parent().FilePath()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", p, err)
	}
	return nil
}

func (s *FSProvider) Exists(_ context.Context, p *RepositoryPath) (bool, error) {
	info, err := os.Stat(p.FilePath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return !info.IsDir(), nil
}

// OpenInputStream opens p and declares its length from the file size.
func (s *FSProvider) OpenInputStream(ctx context.Context, p *RepositoryPath, ranges ...models.ByteRange) (*stream.InputStream, error) {
	filePath := p.FilePath()
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("artifact %s: %w", p, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("artifact %s is a directory: %w", p, models.ErrNotFound)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}

	opts := s.streamOptions(ctx, p, stream.WithLength(info.Size()))
	var in *stream.InputStream
	if len(ranges) > 0 {
		in, err = stream.NewRangeInputStream(f, f, ranges, opts...)
	} else {
		in, err = stream.NewInputStream(f, opts...)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return in, nil
}

// OpenOutputStream creates or truncates p. The content becomes visible at
// p only when the returned stream is closed.
func (s *FSProvider) OpenOutputStream(ctx context.Context, p *RepositoryPath) (*stream.OutputStream, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("%w: cannot write to repository root %s", models.ErrConfiguration, p)
	}
	if err := s.EnsureParents(ctx, p); err != nil {
		return nil, err
	}

	target := p.FilePath()
	tmpFile, err := os.CreateTemp(filepath.Dir(target), tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", p, err)
	}

	out, err := stream.NewOutputStream(&atomicFile{File: tmpFile, target: target}, s.streamOptions(ctx, p)...)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	return out, nil
}

// Walk visits every regular file under p, dot files included. Temp files
// of unfinished writes are skipped.
func (s *FSProvider) Walk(ctx context.Context, p *RepositoryPath, fn WalkFunc) error {
	start := p.FilePath()
	if _, err := os.Stat(start); os.IsNotExist(err) {
		return fmt.Errorf("walk %s: %w", p, models.ErrNotFound)
	}

	root := newRootPath(p.repo, p.root)
	return filepath.WalkDir(start, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), tempPrefix) && filePath != start {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(p.root, filePath)
		if err != nil {
			return err
		}
		child, err := root.Resolve(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(child, info.Size())
	})
}

// CreateRoot creates the base directory of repo.
func (s *FSProvider) CreateRoot(_ context.Context, repo *models.Repository) error {
	root, err := s.ResolveRepositoryRoot(repo)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root.FilePath()); err == nil {
		return fmt.Errorf("repository %s at %s: %w", repo.Key(), root.FilePath(), models.ErrConflict)
	}
	if err := os.MkdirAll(root.FilePath(), 0755); err != nil {
		return fmt.Errorf("create repository directory %s: %w", root.FilePath(), err)
	}
	s.logger.Info("created repository directory", "repository", repo.Key(), "path", root.FilePath())
	return nil
}

// RemoveRoot deletes the base directory of repo and everything below it.
func (s *FSProvider) RemoveRoot(_ context.Context, repo *models.Repository) error {
	root, err := s.ResolveRepositoryRoot(repo)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(root.FilePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove repository directory %s: %w", root.FilePath(), err)
	}
	s.logger.Info("removed repository directory", "repository", repo.Key(), "path", root.FilePath())
	return nil
}

// SweepTemp deletes temp files of unfinished writes in repo that were
// last modified before cutoff and returns how many it removed.
func (s *FSProvider) SweepTemp(ctx context.Context, repo *models.Repository, cutoff time.Time) (int, error) {
	root, err := s.ResolveRepositoryRoot(repo)
	if err != nil {
		return 0, err
	}

	var removed int
	err = filepath.WalkDir(root.FilePath(), func(filePath string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("sweep: failed to remove temp file", "path", filePath, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep %s: %w", repo.Key(), err)
	}
	return removed, nil
}

// atomicFile renames its temp file onto target when closed.
type atomicFile struct {
	*os.File
	target string
}

func (f *atomicFile) Close() error {
	tmpPath := f.Name()
	if err := f.File.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", f.target, err)
	}
	return nil
}

func (f *atomicFile) Abort() error {
	f.File.Close()
	return os.Remove(f.Name())
}
