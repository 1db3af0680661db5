package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/storage"
)

// GCResult contains the outcome of a garbage collection run.
type GCResult struct {
	EntriesScanned   int
	EntriesDeleted   int
	TempFilesDeleted int
}

// GarbageCollect drops index entries whose artifact is gone from storage
// and removes temp files of writes abandoned before tempCutoff.
func (m *Manager) GarbageCollect(ctx context.Context, storageID, repoID string, tempCutoff time.Time) (res *GCResult, err error) {
	logger, start := m.begin("gc", models.RepositoryKey(storageID, repoID))
	defer func() { m.observe("gc", start, err) }()

	repo, p, err := m.lookup(storageID, repoID)
	if err != nil {
		return nil, err
	}
	res = &GCResult{}

	idx, err := m.openIndexRebuilding(repo, logger)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	var stale []string
	err = idx.ForEach(ctx, func(e *models.IndexEntry) error {
		res.EntriesScanned++
		path, err := p.ResolvePath(repo, e.Path)
		if err != nil {
			// Entry can never be served.
			stale = append(stale, e.Path)
			return nil
		}
		ok, err := p.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !ok {
			stale = append(stale, e.Path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan index of %s: %w", repo.Key(), err)
	}
	if err := idx.Delete(ctx, stale); err != nil {
		return nil, fmt.Errorf("delete stale entries of %s: %w", repo.Key(), err)
	}
	res.EntriesDeleted = len(stale)

	if sweeper, ok := p.(storage.TempSweeper); ok {
		n, err := sweeper.SweepTemp(ctx, repo, tempCutoff)
		if err != nil {
			return nil, err
		}
		res.TempFilesDeleted = n
	}

	logger.Info("gc complete",
		"scanned", res.EntriesScanned,
		"deleted", res.EntriesDeleted,
		"temp_files", res.TempFilesDeleted,
	)
	return res, nil
}
