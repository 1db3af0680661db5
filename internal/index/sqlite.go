package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteIndex implements Index on a single sqlite table.
type SQLiteIndex struct {
	path string
	db   *sql.DB
}

// NewSQLiteIndex opens or creates a sqlite index at path and initializes
// the schema. A file that is not a database fails here rather than on
// first use.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteIndex{path: path, db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return s, nil
}

func (s *SQLiteIndex) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS artifacts (
		path TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		checksums JSON NOT NULL,
		indexed_at INTEGER NOT NULL
	);`)
	return err
}

func (s *SQLiteIndex) Path() string { return s.path }

func (s *SQLiteIndex) Close() error { return s.db.Close() }

func (s *SQLiteIndex) PutAll(ctx context.Context, entries []*models.IndexEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) ReplacePrefix(ctx context.Context, prefix string, entries []*models.IndexEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM artifacts`)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM artifacts WHERE path = ?1 OR substr(path, 1, length(?2)) = ?2`,
			prefix, prefix+"/")
	}
	if err != nil {
		return fmt.Errorf("delete entries under %q: %w", prefix, err)
	}

	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Delete(ctx context.Context, paths []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE path = ?`, p); err != nil {
			return fmt.Errorf("delete entry %s: %w", p, err)
		}
	}
	return tx.Commit()
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []*models.IndexEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO artifacts (path, size, checksums, indexed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET size = excluded.size, checksums = excluded.checksums, indexed_at = excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		sums, err := json.Marshal(e.Checksums)
		if err != nil {
			return fmt.Errorf("marshal checksums of %s: %w", e.Path, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Path, e.Size, string(sums), e.IndexedAt.UnixNano()); err != nil {
			return fmt.Errorf("store entry %s: %w", e.Path, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.IndexEntry, error) {
	var (
		e         models.IndexEntry
		sums      string
		indexedAt int64
	)
	if err := row.Scan(&e.Path, &e.Size, &sums, &indexedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sums), &e.Checksums); err != nil {
		return nil, fmt.Errorf("unmarshal checksums of %s: %w", e.Path, err)
	}
	e.IndexedAt = time.Unix(0, indexedAt).UTC()
	return &e, nil
}

// Get retrieves an entry by path. Returns models.ErrNotFound if missing.
func (s *SQLiteIndex) Get(ctx context.Context, path string) (*models.IndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT path, size, checksums, indexed_at FROM artifacts WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index entry %s: %w", path, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", path, err)
	}
	return e, nil
}

func (s *SQLiteIndex) ForEach(ctx context.Context, fn func(*models.IndexEntry) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, checksums, indexed_at FROM artifacts ORDER BY path`)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Compact runs VACUUM and folds the WAL back into the main file.
func (s *SQLiteIndex) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint index: %w", err)
	}
	return nil
}
