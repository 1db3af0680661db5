package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/kilupskalvis/artvault/internal/stream"
	"github.com/redis/go-redis/v9"
)

// RedisAlias is the alias of RedisProvider.
const RedisAlias = "redis"

const defaultRedisURL = "redis://localhost:6379"

// RedisProvider keeps artifacts as redis strings. Each repository owns a
// marker key, a set listing its artifact paths, and one key per artifact:
//
//	<prefix>:<storage>:<repo>                marker, holds the creation time
//	<prefix>:<storage>:<repo>:files          set of relative paths
//	<prefix>:<storage>:<repo>:blob:<path>    artifact bytes
//
// Output streams buffer the whole artifact and commit it in one MULTI on close.
type RedisProvider struct {
	wrapper
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisProvider connects to url and verifies the connection.
func NewRedisProvider(url, prefix string, algorithms []string, logger *slog.Logger) (*RedisProvider, error) {
	if url == "" {
		url = defaultRedisURL
	}
	if prefix == "" {
		prefix = "artvault"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", models.ErrConfiguration, err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisProvider{wrapper: newWrapper(algorithms), client: client, prefix: prefix, logger: logger}, nil
}

// Close closes the redis client.
func (s *RedisProvider) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisProvider) Alias() string { return RedisAlias }

func (s *RedisProvider) ResolveRepositoryRoot(repo *models.Repository) (*RepositoryPath, error) {
	if err := validateRepository(repo); err != nil {
		return nil, err
	}
	return newRootPath(repo, s.prefix+":"+repo.Key()), nil
}

func (s *RedisProvider) ResolvePath(repo *models.Repository, rel string) (*RepositoryPath, error) {
	root, err := s.ResolveRepositoryRoot(repo)
	if err != nil {
		return nil, err
	}
	return root.Resolve(rel)
}

func (s *RedisProvider) ResolveArtifactPath(ctx context.Context, repo *models.Repository, coords models.Coordinates) (*RepositoryPath, error) {
	return resolveArtifact(ctx, s, repo, coords)
}

// EnsureParents is a no-op: redis keys have no directory hierarchy.
func (s *RedisProvider) EnsureParents(context.Context, *RepositoryPath) error { return nil }

func (s *RedisProvider) Exists(ctx context.Context, p *RepositoryPath) (bool, error) {
	if p.IsRoot() {
		return false, nil
	}
	n, err := s.client.Exists(ctx, blobKey(p)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", p, err)
	}
	return n > 0, nil
}

func (s *RedisProvider) OpenInputStream(ctx context.Context, p *RepositoryPath, ranges ...models.ByteRange) (*stream.InputStream, error) {
	ok, err := s.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", p, models.ErrNotFound)
	}
	key := blobKey(p)
	size, err := s.client.StrLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("size of %s: %w", p, err)
	}

	ra := &redisReaderAt{ctx: ctx, client: s.client, key: key, size: size}
	opts := s.streamOptions(ctx, p, stream.WithLength(size))
	if len(ranges) > 0 {
		return stream.NewRangeInputStream(ra, nil, ranges, opts...)
	}
	return stream.NewInputStream(io.NewSectionReader(ra, 0, size), opts...)
}

func (s *RedisProvider) OpenOutputStream(ctx context.Context, p *RepositoryPath) (*stream.OutputStream, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("%w: cannot write to repository root %s", models.ErrConfiguration, p)
	}
	w := &redisWriter{commit: func(data []byte) error {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, blobKey(p), data, 0)
		pipe.SAdd(ctx, filesKey(p), p.rel)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store %s: %w", p, err)
		}
		return nil
	}}
	return stream.NewOutputStream(w, s.streamOptions(ctx, p)...)
}

// Walk visits every artifact under p in lexical order of path.
func (s *RedisProvider) Walk(ctx context.Context, p *RepositoryPath, fn WalkFunc) error {
	members, err := s.client.SMembers(ctx, filesKey(p)).Result()
	if err != nil {
		return fmt.Errorf("list %s: %w", p, err)
	}
	sort.Strings(members)

	root := newRootPath(p.repo, p.root)
	var found bool
	for _, rel := range members {
		child, err := root.Resolve(rel)
		if err != nil {
			return err
		}
		if !p.Contains(child) {
			continue
		}
		found = true
		size, err := s.client.StrLen(ctx, blobKey(child)).Result()
		if err != nil {
			return fmt.Errorf("size of %s: %w", child, err)
		}
		if err := fn(child, size); err != nil {
			return err
		}
	}
	if !found && !p.IsRoot() {
		return fmt.Errorf("walk %s: %w", p, models.ErrNotFound)
	}
	return nil
}

// CreateRoot sets the repository marker; an existing marker is a conflict.
func (s *RedisProvider) CreateRoot(ctx context.Context, repo *models.Repository) error {
	root, err := s.ResolveRepositoryRoot(repo)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, root.root, time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return fmt.Errorf("create repository %s: %w", repo.Key(), err)
	}
	if !ok {
		return fmt.Errorf("repository %s: %w", repo.Key(), models.ErrConflict)
	}
	s.logger.Info("created repository keyspace", "repository", repo.Key(), "key", root.root)
	return nil
}

// RemoveRoot deletes the marker, the file set and every artifact key.
func (s *RedisProvider) RemoveRoot(ctx context.Context, repo *models.Repository) error {
	root, err := s.ResolveRepositoryRoot(repo)
	if err != nil {
		return err
	}
	members, err := s.client.SMembers(ctx, filesKey(root)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("list %s: %w", root, err)
	}

	keys := []string{root.root, filesKey(root)}
	for _, rel := range members {
		keys = append(keys, root.root+":blob:"+rel)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("remove repository %s: %w", repo.Key(), err)
	}
	s.logger.Info("removed repository keyspace", "repository", repo.Key(), "artifacts", len(members))
	return nil
}

func blobKey(p *RepositoryPath) string  { return p.root + ":blob:" + p.rel }
func filesKey(p *RepositoryPath) string { return p.root + ":files" }

// redisReaderAt reads a string value with GETRANGE.
type redisReaderAt struct {
	ctx    context.Context
	client *redis.Client
	key    string
	size   int64
}

func (r *redisReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}
	data, err := r.client.GetRange(r.ctx, r.key, off, end).Bytes()
	if err != nil {
		return 0, fmt.Errorf("getrange %s: %w", r.key, err)
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// redisWriter buffers writes and hands them to commit on Close.
type redisWriter struct {
	buf    bytes.Buffer
	commit func([]byte) error
}

func (w *redisWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *redisWriter) Close() error                { return w.commit(w.buf.Bytes()) }
func (w *redisWriter) Abort() error                { w.buf.Reset(); return nil }
