package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pismenka-api/internal/config"
	"github.com/pismenka-api/internal/domain"
)

// Repository keeps a durable history of words, results and archived days.
// The game itself never reads from it; the key-value store stays
// authoritative for the live registers.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations creates the history tables
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS daily_words (
			date DATE PRIMARY KEY,
			word VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS game_results (
			id BIGINT PRIMARY KEY,
			word VARCHAR(16) NOT NULL,
			moves INT NOT NULL,
			time_seconds INT NOT NULL,
			player_name VARCHAR(64) NOT NULL,
			date DATE NOT NULL,
			origin_address VARCHAR(128) NOT NULL,
			client_agent TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS archive_entries (
			date DATE PRIMARY KEY,
			word VARCHAR(16) NOT NULL,
			total_players INT NOT NULL,
			top10 JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_results_ranking ON game_results(date, moves, time_seconds)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordDailyGame stores the word of a date, replacing an earlier one
func (r *Repository) RecordDailyGame(ctx context.Context, game domain.DailyGame) error {
	query := `
		INSERT INTO daily_words (date, word, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (date) DO UPDATE SET word = $2, created_at = $3
	`
	if _, err := r.pool.Exec(ctx, query, game.Date, game.Word, game.CreatedAt); err != nil {
		return fmt.Errorf("recording daily game: %w", err)
	}
	return nil
}

// RecordArchiveEntry stores an archived day, replacing an earlier one
func (r *Repository) RecordArchiveEntry(ctx context.Context, entry domain.ArchiveEntry) error {
	top10, err := json.Marshal(entry.Top10)
	if err != nil {
		return fmt.Errorf("marshaling top10: %w", err)
	}

	query := `
		INSERT INTO archive_entries (date, word, total_players, top10, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE
		SET word = $2, total_players = $3, top10 = $4, created_at = $5
	`
	if _, err := r.pool.Exec(ctx, query, entry.Date, entry.Word, entry.TotalPlayers, top10, entry.CreatedAt); err != nil {
		return fmt.Errorf("recording archive entry: %w", err)
	}
	return nil
}

// BatchInsertResults stores results not seen before and returns how many
// rows were new
func (r *Repository) BatchInsertResults(ctx context.Context, results []domain.Result) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO game_results
			(id, word, moves, time_seconds, player_name, date, origin_address, client_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	for _, res := range results {
		batch.Queue(query,
			res.ID,
			res.Word,
			res.Moves,
			res.TimeSeconds,
			res.PlayerName,
			res.Date,
			res.OriginAddress,
			res.ClientAgent,
			res.CreatedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range results {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("batch inserting results: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListArchive returns up to limit archived days, newest first
func (r *Repository) ListArchive(ctx context.Context, limit int) ([]domain.ArchiveEntry, error) {
	query := `
		SELECT to_char(date, 'YYYY-MM-DD'), word, total_players, top10, created_at
		FROM archive_entries
		ORDER BY date DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}
	defer rows.Close()

	var entries []domain.ArchiveEntry
	for rows.Next() {
		var entry domain.ArchiveEntry
		var top10 []byte
		if err := rows.Scan(&entry.Date, &entry.Word, &entry.TotalPlayers, &top10, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning archive entry: %w", err)
		}
		if err := json.Unmarshal(top10, &entry.Top10); err != nil {
			return nil, fmt.Errorf("decoding top10 of %s: %w", entry.Date, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}
	return entries, nil
}
