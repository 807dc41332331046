package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pismenka-api/internal/config"
	"github.com/pismenka-api/internal/domain"
	"github.com/pismenka-api/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store is the Redis-backed storage gateway. Every register is a single JSON
// value under its key. When Redis fails, the operation is logged and served by
// an in-process mirror instead; writes then report false.
type Store struct {
	client *redis.Client
	mirror *storage.MemoryStore
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a Redis store. An unreachable server is logged, not fatal:
// the store degrades to its mirror until Redis answers again.
func NewStore(cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout + cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, falling back to memory until it is", "addr", opts.Addr, "error", err)
	}

	return NewStoreWithClient(client, logger), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		mirror: storage.NewMemoryStore(),
		logger: logger,
	}
}

func options(cfg *config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	return opts, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// Kind returns the backend name
func (s *Store) Kind() string {
	return domain.BackendRedis
}

// getJSON decodes the value under key into dest. A missing key is not an
// error and leaves dest untouched. A value that does not decode is reported
// like a failed read, so callers fall back instead of writing a lossy copy
// over it.
func (s *Store) getJSON(ctx context.Context, key string, dest any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// CurrentGame returns the current game or nil
func (s *Store) CurrentGame(ctx context.Context) *domain.DailyGame {
	var game *domain.DailyGame
	if err := s.getJSON(ctx, storage.KeyCurrentGame, &game); err != nil {
		s.logger.Error("redis get current game failed", "error", err)
		return s.mirror.CurrentGame(ctx)
	}
	return game
}

// SetCurrentGame replaces the current game
func (s *Store) SetCurrentGame(ctx context.Context, game domain.DailyGame) bool {
	if err := s.setJSON(ctx, storage.KeyCurrentGame, game); err != nil {
		s.logger.Error("redis set current game failed", "error", err)
		s.mirror.SetCurrentGame(ctx, game)
		return false
	}
	return true
}

func (s *Store) remoteResults(ctx context.Context) ([]domain.Result, error) {
	var results []domain.Result
	if err := s.getJSON(ctx, storage.KeyResults, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []domain.Result{}
	}
	return results, nil
}

// Results returns all stored results, oldest first
func (s *Store) Results(ctx context.Context) []domain.Result {
	results, err := s.remoteResults(ctx)
	if err != nil {
		s.logger.Error("redis get results failed", "error", err)
		return s.mirror.Results(ctx)
	}
	return results
}

// AppendResult reads the whole list, appends, trims and writes it back. Two
// concurrent appends can race and one of them is lost.
func (s *Store) AppendResult(ctx context.Context, result domain.Result, keep int) bool {
	results, err := s.remoteResults(ctx)
	if err == nil {
		results = storage.TrimOldest(append(results, result), keep)
		err = s.setJSON(ctx, storage.KeyResults, results)
	}
	if err != nil {
		s.logger.Error("redis add result failed", "error", err)
		s.mirror.AppendResult(ctx, result, keep)
		return false
	}
	return true
}

func (s *Store) remoteArchive(ctx context.Context) ([]domain.ArchiveEntry, error) {
	var archive []domain.ArchiveEntry
	if err := s.getJSON(ctx, storage.KeyArchive, &archive); err != nil {
		return nil, err
	}
	if archive == nil {
		archive = []domain.ArchiveEntry{}
	}
	return archive, nil
}

// Archive returns all archive entries, oldest first
func (s *Store) Archive(ctx context.Context) []domain.ArchiveEntry {
	archive, err := s.remoteArchive(ctx)
	if err != nil {
		s.logger.Error("redis get archive failed", "error", err)
		return s.mirror.Archive(ctx)
	}
	return archive
}

// AppendArchive reads the whole archive, appends, trims and writes it back
func (s *Store) AppendArchive(ctx context.Context, entry domain.ArchiveEntry, keep int) bool {
	archive, err := s.remoteArchive(ctx)
	if err == nil {
		archive = storage.TrimOldest(append(archive, entry), keep)
		err = s.setJSON(ctx, storage.KeyArchive, archive)
	}
	if err != nil {
		s.logger.Error("redis add to archive failed", "error", err)
		s.mirror.AppendArchive(ctx, entry, keep)
		return false
	}
	return true
}

// Health pings Redis and reports the outcome
func (s *Store) Health(ctx context.Context) domain.StoreHealth {
	health := domain.StoreHealth{
		Database:  domain.BackendRedis,
		Connected: true,
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		health.Connected = false
		health.RedisError = err.Error()
		return health
	}
	health.RedisPing = "OK"
	return health
}
