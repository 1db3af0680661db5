package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kilupskalvis/artvault/internal/models"
)

// Service hands out copies of storage and repository descriptors and
// records repository changes. Callers serialize conflicting lifecycle
// operations on the same repository through it.
type Service struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewService wraps a loaded configuration.
func NewService(cfg *Config) *Service {
	return &Service{cfg: cfg}
}

// Config returns the underlying configuration. Callers must not modify
// storages or repositories through it; use PutRepository and
// DeleteRepository instead.
func (s *Service) Config() *Config {
	return s.cfg
}

// GetStorage returns the storage with the given id and all its repositories.
func (s *Service) GetStorage(id string) (*models.Storage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc := s.findStorage(id)
	if sc == nil {
		return nil, fmt.Errorf("storage %q: %w", id, models.ErrNotFound)
	}
	st := &models.Storage{ID: sc.ID, Basedir: sc.Basedir, Repositories: make(map[string]*models.Repository, len(sc.Repositories))}
	for _, r := range sc.Repositories {
		cp := *r
		st.Repositories[r.ID] = &cp
	}
	return st, nil
}

// GetRepository returns a copy of the repository descriptor.
func (s *Service) GetRepository(storageID, repoID string) (*models.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc := s.findStorage(storageID)
	if sc == nil {
		return nil, fmt.Errorf("storage %q: %w", storageID, models.ErrNotFound)
	}
	for _, r := range sc.Repositories {
		if r.ID == repoID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("repository %s: %w", models.RepositoryKey(storageID, repoID), models.ErrNotFound)
}

// Repositories returns every configured repository ordered by key.
func (s *Service) Repositories() []*models.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Repository
	for _, sc := range s.cfg.Storages {
		for _, r := range sc.Repositories {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// PutRepository adds repo to its storage or replaces the descriptor with
// the same id. The storage is created when missing. Unset fields get
// their defaults.
func (s *Service) PutRepository(repo *models.Repository) (*models.Repository, error) {
	if err := validateID("storage", repo.StorageID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.findStorage(repo.StorageID)
	created := sc == nil
	if created {
		sc = &StorageConfig{ID: repo.StorageID, Basedir: s.cfg.storageBasedir(repo.StorageID)}
	}

	cp := *repo
	s.cfg.fillRepository(sc, &cp)
	if err := validateRepository(&cp); err != nil {
		return nil, err
	}
	if created {
		s.cfg.Storages = append(s.cfg.Storages, sc)
	}

	for i, r := range sc.Repositories {
		if r.ID == cp.ID {
			sc.Repositories[i] = &cp
			out := cp
			return &out, nil
		}
	}
	sc.Repositories = append(sc.Repositories, &cp)
	out := cp
	return &out, nil
}

// DeleteRepository removes the descriptor. A missing repository is not an
// error.
func (s *Service) DeleteRepository(storageID, repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.findStorage(storageID)
	if sc == nil {
		return
	}
	kept := sc.Repositories[:0]
	for _, r := range sc.Repositories {
		if r.ID != repoID {
			kept = append(kept, r)
		}
	}
	sc.Repositories = kept
}

// Save persists the configuration.
func (s *Service) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Save()
}

func (s *Service) findStorage(id string) *StorageConfig {
	for _, sc := range s.cfg.Storages {
		if sc.ID == id {
			return sc
		}
	}
	return nil
}
