package models

// Layout kinds understood by ParseCoordinates.
const (
	LayoutRaw    = "raw"
	LayoutMaven2 = "maven2"
)

// Storage is a top-level grouping of repositories sharing a physical root.
type Storage struct {
	ID           string                 `toml:"id" yaml:"id"`
	Basedir      string                 `toml:"basedir" yaml:"basedir"`
	Repositories map[string]*Repository `toml:"-" yaml:"-"`
}

// Repository describes one repository as the configuration service knows it.
// The storage layer only reads it.
type Repository struct {
	StorageID string `toml:"-" yaml:"-"`
	ID        string `toml:"id" yaml:"id"`
	Basedir   string `toml:"basedir" yaml:"basedir"`
	Layout    string `toml:"layout" yaml:"layout"`
	Provider  string `toml:"provider" yaml:"provider"` // storage provider alias
}

// Key returns "storage:repository", used for logging and index file names.
func (r *Repository) Key() string {
	return RepositoryKey(r.StorageID, r.ID)
}

// RepositoryKey joins a storage and repository id.
func RepositoryKey(storageID, repositoryID string) string {
	return storageID + ":" + repositoryID
}
