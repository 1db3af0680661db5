package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/artvault/internal/models"
)

// Provision registers repo with the configuration service and creates it.
// If creation fails the descriptor is removed again.
func (m *Manager) Provision(ctx context.Context, repo *models.Repository) (*models.Repository, error) {
	if _, err := m.config.GetRepository(repo.StorageID, repo.ID); err == nil {
		return nil, fmt.Errorf("repository %s: %w", repo.Key(), models.ErrConflict)
	}

	stored, err := m.config.PutRepository(repo)
	if err != nil {
		return nil, err
	}
	if err := m.CreateRepository(ctx, stored.StorageID, stored.ID); err != nil {
		m.config.DeleteRepository(stored.StorageID, stored.ID)
		return nil, err
	}
	return stored, nil
}

// Decommission removes the repository and then its descriptor. It is safe
// to call again after a partial failure.
func (m *Manager) Decommission(ctx context.Context, storageID, repoID string) error {
	if _, err := m.config.GetRepository(storageID, repoID); errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err := m.RemoveRepository(ctx, storageID, repoID); err != nil {
		return err
	}
	m.config.DeleteRepository(storageID, repoID)
	return nil
}
