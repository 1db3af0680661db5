// Package config loads and saves the artvault configuration file and
// serves storage and repository descriptors to the rest of the program.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/artvault/internal/index"
	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/storage"
	"github.com/kilupskalvis/artvault/internal/stream"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "artvault.toml"
	DefaultDataDir    = "data"
	IndexDir          = "index"
	StoragesDir       = "storages"
	DefaultWorkers    = 4
)

// Config represents the artvault configuration file.
type Config struct {
	DataDir  string           `toml:"data_dir" yaml:"data_dir"`
	Index    IndexConfig      `toml:"index" yaml:"index"`
	Checksum ChecksumConfig   `toml:"checksum" yaml:"checksum"`
	Registry RegistryConfig   `toml:"registry" yaml:"registry"`
	Redis    RedisConfig      `toml:"redis" yaml:"redis"`
	Storages []*StorageConfig `toml:"storages" yaml:"storages"`
	path     string           // file the config was loaded from
}

type IndexConfig struct {
	Dir       string `toml:"dir,omitempty" yaml:"dir,omitempty"`
	Backend   string `toml:"backend" yaml:"backend"`       // bbolt or sqlite
	PackCodec string `toml:"pack_codec" yaml:"pack_codec"` // zstd or lz4
	Workers   int    `toml:"workers" yaml:"workers"`
}

type ChecksumConfig struct {
	Algorithms []string `toml:"algorithms" yaml:"algorithms"`
}

type RegistryConfig struct {
	DuplicatePolicy string `toml:"duplicate_policy" yaml:"duplicate_policy"`
}

type RedisConfig struct {
	URL    string `toml:"url,omitempty" yaml:"url,omitempty"`
	Prefix string `toml:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// StorageConfig is one [[storages]] table.
type StorageConfig struct {
	ID           string               `toml:"id" yaml:"id"`
	Basedir      string               `toml:"basedir,omitempty" yaml:"basedir,omitempty"`
	Repositories []*models.Repository `toml:"repositories" yaml:"repositories"`
}

// Default returns a configuration with no storages, to be saved at path.
func Default(path string) *Config {
	cfg := &Config{path: path}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration at path. Files ending in .yaml or .yml are
// parsed as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.path = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration back to the file it came from, in the
// same format.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("%w: config has no file path", models.ErrConfiguration)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(c.path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = toml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Path returns the file the config is loaded from and saved to.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
		if c.path != "" {
			c.DataDir = filepath.Join(filepath.Dir(c.path), DefaultDataDir)
		}
	}
	if c.Index.Dir == "" {
		c.Index.Dir = filepath.Join(c.DataDir, IndexDir)
	}
	if c.Index.Backend == "" {
		c.Index.Backend = index.BackendBbolt
	}
	if c.Index.PackCodec == "" {
		c.Index.PackCodec = index.CodecZstd
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = DefaultWorkers
	}
	if len(c.Checksum.Algorithms) == 0 {
		c.Checksum.Algorithms = append([]string(nil), stream.DefaultAlgorithms...)
	}
	if c.Registry.DuplicatePolicy == "" {
		c.Registry.DuplicatePolicy = storage.Overwrite.String()
	}

	for _, s := range c.Storages {
		if s.Basedir == "" {
			s.Basedir = c.storageBasedir(s.ID)
		}
		for _, r := range s.Repositories {
			c.fillRepository(s, r)
		}
	}
}

func (c *Config) storageBasedir(id string) string {
	return filepath.Join(c.DataDir, StoragesDir, id)
}

func (c *Config) fillRepository(s *StorageConfig, r *models.Repository) {
	r.StorageID = s.ID
	if r.Basedir == "" {
		r.Basedir = filepath.Join(s.Basedir, r.ID)
	}
	if r.Layout == "" {
		r.Layout = models.LayoutRaw
	}
	if r.Provider == "" {
		r.Provider = storage.FileSystemAlias
	}
}

// Validate checks identifiers, enumerations and algorithm names.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case index.BackendBbolt, index.BackendSQLite:
	default:
		return fmt.Errorf("%w: index.backend %q", models.ErrConfiguration, c.Index.Backend)
	}
	switch c.Index.PackCodec {
	case index.CodecZstd, index.CodecLZ4:
	default:
		return fmt.Errorf("%w: index.pack_codec %q", models.ErrConfiguration, c.Index.PackCodec)
	}
	for i, name := range c.Checksum.Algorithms {
		alg, err := stream.NormalizeAlgorithm(name)
		if err != nil {
			return err
		}
		c.Checksum.Algorithms[i] = alg
	}
	if _, err := storage.ParseDuplicatePolicy(c.Registry.DuplicatePolicy); err != nil {
		return err
	}

	storages := make(map[string]bool)
	for _, s := range c.Storages {
		if err := validateID("storage", s.ID); err != nil {
			return err
		}
		if storages[s.ID] {
			return fmt.Errorf("%w: duplicate storage %q", models.ErrConfiguration, s.ID)
		}
		storages[s.ID] = true

		repos := make(map[string]bool)
		for _, r := range s.Repositories {
			if err := validateRepository(r); err != nil {
				return err
			}
			if repos[r.ID] {
				return fmt.Errorf("%w: duplicate repository %q in storage %q", models.ErrConfiguration, r.ID, s.ID)
			}
			repos[r.ID] = true
		}
	}
	return nil
}

func validateRepository(r *models.Repository) error {
	if err := validateID("repository", r.ID); err != nil {
		return err
	}
	switch r.Layout {
	case models.LayoutRaw, models.LayoutMaven2:
	default:
		return fmt.Errorf("%w: repository %q has unknown layout %q", models.ErrConfiguration, r.ID, r.Layout)
	}
	return nil
}

// validateID rejects names that could not be used as a single path element.
func validateID(kind, id string) error {
	if strings.ContainsAny(id, "/\\:") || id == ".." || id == "." || strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: invalid %s id %q", models.ErrConfiguration, kind, id)
	}
	return nil
}

// IndexPath returns the index file of a repository.
func (c *Config) IndexPath(storageID, repoID string) string {
	return filepath.Join(c.Index.Dir, storageID, repoID+"."+c.Index.Backend)
}

// PackPath returns the packed snapshot file of a repository.
func (c *Config) PackPath(storageID, repoID string) string {
	return filepath.Join(c.Index.Dir, storageID, repoID+".pack")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
