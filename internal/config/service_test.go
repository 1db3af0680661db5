package config

import (
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(Default(filepath.Join(t.TempDir(), DefaultConfigFile)))
}

func TestService_PutGetDelete(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetStorage("storage0")
	assert.ErrorIs(t, err, models.ErrNotFound)

	repo, err := svc.PutRepository(&models.Repository{StorageID: "storage0", ID: "releases"})
	require.NoError(t, err)
	assert.Equal(t, storage.FileSystemAlias, repo.Provider)
	assert.Equal(t, models.LayoutRaw, repo.Layout)
	assert.Equal(t, filepath.Join(svc.Config().DataDir, StoragesDir, "storage0", "releases"), repo.Basedir)

	got, err := svc.GetRepository("storage0", "releases")
	require.NoError(t, err)
	assert.Equal(t, repo, got)

	st, err := svc.GetStorage("storage0")
	require.NoError(t, err)
	assert.Contains(t, st.Repositories, "releases")

	// Returned descriptors are copies.
	got.Basedir = "/elsewhere"
	again, err := svc.GetRepository("storage0", "releases")
	require.NoError(t, err)
	assert.Equal(t, repo.Basedir, again.Basedir)

	// Put replaces.
	_, err = svc.PutRepository(&models.Repository{StorageID: "storage0", ID: "releases", Layout: models.LayoutMaven2})
	require.NoError(t, err)
	assert.Len(t, svc.Repositories(), 1)
	again, err = svc.GetRepository("storage0", "releases")
	require.NoError(t, err)
	assert.Equal(t, models.LayoutMaven2, again.Layout)

	svc.DeleteRepository("storage0", "releases")
	svc.DeleteRepository("storage0", "releases")
	svc.DeleteRepository("nostorage", "releases")
	_, err = svc.GetRepository("storage0", "releases")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestService_PutRepository_Invalid(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.PutRepository(&models.Repository{StorageID: "", ID: "r"})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = svc.PutRepository(&models.Repository{StorageID: "s", ID: ".."})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = svc.PutRepository(&models.Repository{StorageID: "s", ID: "r", Layout: "npm"})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestService_Repositories_Sorted(t *testing.T) {
	svc := newTestService(t)
	for _, key := range [][2]string{{"s2", "a"}, {"s1", "b"}, {"s1", "a"}} {
		_, err := svc.PutRepository(&models.Repository{StorageID: key[0], ID: key[1]})
		require.NoError(t, err)
	}

	var keys []string
	for _, r := range svc.Repositories() {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{"s1:a", "s1:b", "s2:a"}, keys)
}
