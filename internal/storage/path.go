package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/artvault/internal/models"
)

// RepositoryPath is a path scoped to one repository's root. It can never
// reference anything outside that root: Resolve rejects absolute paths and
// ".." segments that would climb above it. Segments starting with the temp
// file prefix are reserved for unfinished writes.
//
// A RepositoryPath returned by ResolveArtifactPath also carries the
// coordinates it was resolved from; that is what the rest of the code calls
// an artifact path.
type RepositoryPath struct {
	repo   *models.Repository
	root   string // provider-specific: a directory for file-system, a key prefix for redis
	rel    string // slash-separated, cleaned, "" for the root itself
	coords models.Coordinates
}

func newRootPath(repo *models.Repository, root string) *RepositoryPath {
	return &RepositoryPath{repo: repo, root: root}
}

// Resolve returns the path rel below p.
func (p *RepositoryPath) Resolve(rel string) (*RepositoryPath, error) {
	rel = strings.ReplaceAll(rel, `\`, "/")
	if path.IsAbs(rel) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return nil, fmt.Errorf("%w: absolute path %q in repository %s", models.ErrConfiguration, rel, p.repo.Key())
	}
	joined := path.Clean(path.Join(p.rel, rel))
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return nil, fmt.Errorf("%w: path %q escapes repository %s", models.ErrConfiguration, rel, p.repo.Key())
	}
	if joined == "." {
		joined = ""
	}
	for _, seg := range strings.Split(joined, "/") {
		if strings.HasPrefix(seg, tempPrefix) {
			return nil, fmt.Errorf("%w: path %q uses reserved prefix %q", models.ErrConfiguration, rel, tempPrefix)
		}
	}
	return &RepositoryPath{repo: p.repo, root: p.root, rel: joined}, nil
}

// withCoordinates returns a copy of p bound to c.
func (p *RepositoryPath) withCoordinates(c models.Coordinates) *RepositoryPath {
	cp := *p
	cp.coords = c
	return &cp
}

// Repository returns the repository this path belongs to.
func (p *RepositoryPath) Repository() *models.Repository { return p.repo }

// Root returns the provider-specific root of the repository.
func (p *RepositoryPath) Root() string { return p.root }

// Rel returns the slash-separated path relative to the root.
func (p *RepositoryPath) Rel() string { return p.rel }

// Coordinates returns the coordinates of an artifact path, or nil.
func (p *RepositoryPath) Coordinates() models.Coordinates { return p.coords }

// IsRoot reports whether p is the repository root.
func (p *RepositoryPath) IsRoot() bool { return p.rel == "" }

// Parent returns the parent of p; the root is its own parent.
func (p *RepositoryPath) Parent() *RepositoryPath {
	if p.rel == "" {
		return p
	}
	dir := path.Dir(p.rel)
	if dir == "." {
		dir = ""
	}
	return &RepositoryPath{repo: p.repo, root: p.root, rel: dir}
}

// FilePath joins root and rel using the OS separator.
func (p *RepositoryPath) FilePath() string {
	if p.rel == "" {
		return p.root
	}
	return filepath.Join(p.root, filepath.FromSlash(p.rel))
}

// Contains reports whether other is p or a descendant of p.
func (p *RepositoryPath) Contains(other *RepositoryPath) bool {
	if p.root != other.root {
		return false
	}
	return p.rel == "" || other.rel == p.rel || strings.HasPrefix(other.rel, p.rel+"/")
}

func (p *RepositoryPath) String() string {
	if p.rel == "" {
		return p.repo.Key() + ":/"
	}
	return p.repo.Key() + ":/" + p.rel
}
