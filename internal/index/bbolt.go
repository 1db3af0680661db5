package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
	bolt "go.etcd.io/bbolt"
)

var bucketArtifacts = []byte("artifacts")

const compactTxMaxSize = 64 * 1024

// BboltIndex implements Index using bbolt, one key per artifact path.
type BboltIndex struct {
	path string
	db   *bolt.DB
}

// NewBboltIndex opens or creates a bbolt index at path.
func NewBboltIndex(path string) (*BboltIndex, error) {
	db, err := openBbolt(path)
	if err != nil {
		return nil, err
	}
	return &BboltIndex{path: path, db: db}, nil
}

func openBbolt(path string) (*bolt.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketArtifacts)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketArtifacts, err)
	}
	return db, nil
}

func (s *BboltIndex) Path() string { return s.path }

// Close releases the bbolt database.
func (s *BboltIndex) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BboltIndex) PutAll(_ context.Context, entries []*models.IndexEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEntries(tx.Bucket(bucketArtifacts), entries)
	})
}

func (s *BboltIndex) ReplacePrefix(_ context.Context, prefix string, entries []*models.IndexEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)

		// Collect first: deleting while iterating a cursor skips keys.
		var stale [][]byte
		c := b.Cursor()
		seek := strings.Trim(prefix, "/")
		for k, _ := c.Seek([]byte(seek)); k != nil && strings.HasPrefix(string(k), seek); k, _ = c.Next() {
			if underPrefix(string(k), prefix) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("delete entry %s: %w", k, err)
			}
		}
		return putEntries(b, entries)
	})
}

func (s *BboltIndex) Delete(_ context.Context, paths []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		for _, p := range paths {
			if err := b.Delete([]byte(p)); err != nil {
				return fmt.Errorf("delete entry %s: %w", p, err)
			}
		}
		return nil
	})
}

func putEntries(b *bolt.Bucket, entries []*models.IndexEntry) error {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.Path, err)
		}
		if err := b.Put([]byte(e.Path), data); err != nil {
			return fmt.Errorf("store entry %s: %w", e.Path, err)
		}
	}
	return nil
}

// Get retrieves an entry by path. Returns models.ErrNotFound if missing.
func (s *BboltIndex) Get(_ context.Context, path string) (*models.IndexEntry, error) {
	var entry *models.IndexEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketArtifacts).Get([]byte(path))
		if data == nil {
			return fmt.Errorf("index entry %s: %w", path, models.ErrNotFound)
		}
		entry = &models.IndexEntry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *BboltIndex) ForEach(ctx context.Context, fn func(*models.IndexEntry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArtifacts).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry models.IndexEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal entry %s: %w", k, err)
			}
			return fn(&entry)
		})
	})
}

func (s *BboltIndex) Count(_ context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketArtifacts).Stats().KeyN
		return nil
	})
	return count, err
}

// Compact copies the live pages into a fresh file and swaps it in.
func (s *BboltIndex) Compact(_ context.Context) error {
	tmpPath := s.path + ".compact"
	os.Remove(tmpPath)

	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("open compaction target: %w", err)
	}
	if err := bolt.Compact(dst, s.db, compactTxMaxSize); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("compact index: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close compacted index: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		// Reopen the original so the index stays usable.
		if db, openErr := openBbolt(s.path); openErr == nil {
			s.db = db
		}
		return fmt.Errorf("replace index: %w", err)
	}

	db, err := openBbolt(s.path)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}
