package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backends = []string{BackendBbolt, BackendSQLite}

func newTestIndex(t *testing.T, backend string) Index {
	t.Helper()
	idx, err := Open(backend, filepath.Join(t.TempDir(), "index."+backend))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func entry(path string, size int64) *models.IndexEntry {
	return &models.IndexEntry{
		Path:      path,
		Size:      size,
		Checksums: map[string]string{"SHA-1": path + "-sha1"},
		IndexedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func paths(t *testing.T, idx Index) []string {
	t.Helper()
	var out []string
	require.NoError(t, idx.ForEach(context.Background(), func(e *models.IndexEntry) error {
		out = append(out, e.Path)
		return nil
	}))
	return out
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("leveldb", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestOpen_CorruptFile(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "index")
			require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not an index ", 1000)), 0644))
			_, err := Open(backend, path)
			assert.Error(t, err)
		})
	}
}

func TestIndex_PutGetCount(t *testing.T) {
	ctx := context.Background()
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			idx := newTestIndex(t, backend)

			require.NoError(t, idx.PutAll(ctx, []*models.IndexEntry{entry("b/2.jar", 2), entry("a/1.jar", 1)}))

			got, err := idx.Get(ctx, "a/1.jar")
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Size)
			assert.Equal(t, "a/1.jar-sha1", got.Checksums["SHA-1"])
			assert.True(t, got.IndexedAt.Equal(entry("", 0).IndexedAt))

			_, err = idx.Get(ctx, "missing.jar")
			assert.ErrorIs(t, err, models.ErrNotFound)

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, []string{"a/1.jar", "b/2.jar"}, paths(t, idx))

			// Put replaces.
			require.NoError(t, idx.PutAll(ctx, []*models.IndexEntry{entry("a/1.jar", 10)}))
			got, err = idx.Get(ctx, "a/1.jar")
			require.NoError(t, err)
			assert.Equal(t, int64(10), got.Size)
		})
	}
}

func TestIndex_ReplacePrefix(t *testing.T) {
	ctx := context.Background()
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			idx := newTestIndex(t, backend)
			require.NoError(t, idx.PutAll(ctx, []*models.IndexEntry{
				entry("org/a/1.jar", 1),
				entry("org/a/2.jar", 1),
				entry("org/ab/3.jar", 1),
				entry("other/4.jar", 1),
			}))

			require.NoError(t, idx.ReplacePrefix(ctx, "org/a", []*models.IndexEntry{entry("org/a/5.jar", 1)}))
			assert.Equal(t, []string{"org/a/5.jar", "org/ab/3.jar", "other/4.jar"}, paths(t, idx))

			require.NoError(t, idx.PutAll(ctx, []*models.IndexEntry{entry("pkgé/a.jar", 1), entry("pkgé/b.jar", 1), entry("pkgéx/d.jar", 1)}))
			require.NoError(t, idx.ReplacePrefix(ctx, "pkgé", []*models.IndexEntry{entry("pkgé/c.jar", 1)}))
			assert.Equal(t, []string{"org/a/5.jar", "org/ab/3.jar", "other/4.jar", "pkgé/c.jar", "pkgéx/d.jar"}, paths(t, idx))

			require.NoError(t, idx.ReplacePrefix(ctx, "", []*models.IndexEntry{entry("only.jar", 1)}))
			assert.Equal(t, []string{"only.jar"}, paths(t, idx))
		})
	}
}

func TestIndex_Delete(t *testing.T) {
	ctx := context.Background()
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			idx := newTestIndex(t, backend)
			require.NoError(t, idx.PutAll(ctx, []*models.IndexEntry{entry("a.jar", 1), entry("b.jar", 1), entry("c.jar", 1)}))

			require.NoError(t, idx.Delete(ctx, []string{"a.jar", "c.jar", "missing.jar"}))
			assert.Equal(t, []string{"b.jar"}, paths(t, idx))
		})
	}
}

func TestIndex_Compact(t *testing.T) {
	ctx := context.Background()
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			idx := newTestIndex(t, backend)

			var entries []*models.IndexEntry
			for i := 0; i < 200; i++ {
				entries = append(entries, entry(fmt.Sprintf("g/%c/%03d.jar", 'a'+i%26, i), int64(i)))
			}
			require.NoError(t, idx.PutAll(ctx, entries))
			require.NoError(t, idx.ReplacePrefix(ctx, "g", entries[:10]))

			require.NoError(t, idx.Compact(ctx))

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 10, n)

			// Still writable after compaction.
			require.NoError(t, idx.PutAll(ctx, []*models.IndexEntry{entry("after.jar", 1)}))
			_, err = idx.Get(ctx, "after.jar")
			assert.NoError(t, err)
		})
	}
}

// failingIndex yields some entries and then fails.
type failingIndex struct {
	Index
	entries []*models.IndexEntry
}

func (f *failingIndex) ForEach(_ context.Context, fn func(*models.IndexEntry) error) error {
	for _, e := range f.entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return errors.New("disk went away")
}

func (f *failingIndex) Path() string { return "failing" }

func TestMerge(t *testing.T) {
	ctx := context.Background()
	dst := newTestIndex(t, BackendBbolt)
	src := newTestIndex(t, BackendSQLite)

	require.NoError(t, dst.PutAll(ctx, []*models.IndexEntry{entry("shared.jar", 1), entry("dst.jar", 1)}))
	require.NoError(t, src.PutAll(ctx, []*models.IndexEntry{entry("shared.jar", 99), entry("src.jar", 1)}))

	n, err := Merge(ctx, dst, src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"dst.jar", "shared.jar", "src.jar"}, paths(t, dst))

	shared, err := dst.Get(ctx, "shared.jar")
	require.NoError(t, err)
	assert.Equal(t, int64(99), shared.Size)

	// Source untouched.
	assert.Equal(t, []string{"shared.jar", "src.jar"}, paths(t, src))
}

func TestMerge_SourceFailureLeavesTargetUnchanged(t *testing.T) {
	ctx := context.Background()
	dst := newTestIndex(t, BackendBbolt)
	require.NoError(t, dst.PutAll(ctx, []*models.IndexEntry{entry("keep.jar", 1)}))

	src := &failingIndex{entries: []*models.IndexEntry{entry("new1.jar", 1), entry("new2.jar", 1)}}
	_, err := Merge(ctx, dst, src)

	var storageErr *ArtifactStorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "read", storageErr.Op)
	assert.Equal(t, []string{"keep.jar"}, paths(t, dst))
}
