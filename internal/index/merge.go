package index

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/artvault/internal/models"
)

// ArtifactStorageError reports a failed index operation between two
// repositories. The target index is left as it was before the operation.
type ArtifactStorageError struct {
	Op     string
	Source string
	Target string
	Err    error
}

func (e *ArtifactStorageError) Error() string {
	return fmt.Sprintf("%s %s into %s: %v", e.Op, e.Source, e.Target, e.Err)
}

func (e *ArtifactStorageError) Unwrap() error { return e.Err }

// Merge copies every entry of src into dst. Entries present in both take
// the source version. All source entries are read before dst is touched
// and are written in a single transaction, so a failure leaves dst
// unchanged.
func Merge(ctx context.Context, dst, src Index) (int, error) {
	var entries []*models.IndexEntry
	err := src.ForEach(ctx, func(e *models.IndexEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return 0, &ArtifactStorageError{Op: "read", Source: src.Path(), Target: dst.Path(), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, &ArtifactStorageError{Op: "merge", Source: src.Path(), Target: dst.Path(), Err: err}
	}
	if err := dst.PutAll(ctx, entries); err != nil {
		return 0, &ArtifactStorageError{Op: "write", Source: src.Path(), Target: dst.Path(), Err: err}
	}
	return len(entries), nil
}
