package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pismenka-api/internal/config"
	"github.com/pismenka-api/internal/handler"
	"github.com/pismenka-api/internal/kafka"
	"github.com/pismenka-api/internal/postgres"
	"github.com/pismenka-api/internal/redis"
	"github.com/pismenka-api/internal/service"
	"github.com/pismenka-api/internal/storage"
	"github.com/pismenka-api/internal/websocket"
	"github.com/pismenka-api/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)
	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "path", *configPath, "error", cfgErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(cfg, logger)
	defer closeStore()

	wsHub := websocket.NewHub(logger)
	go wsHub.Run(ctx)

	gameService := service.NewGameService(store, &cfg.Game, logger)
	gameService.SetNotifier(wsHub)

	if cfg.Game.AdminPassword == "" {
		logger.Warn("ADMIN_PASSWORD not set, admin actions are disabled")
	}

	var syncWorker *worker.SyncWorker
	if cfg.Postgres.Enabled {
		history, err := openHistory(ctx, cfg, logger)
		if err != nil {
			logger.Warn("history store unavailable, continuing without it", "error", err)
		} else {
			defer history.Close()
			gameService.SetHistory(history)

			syncWorker = worker.NewSyncWorker(store, history, &cfg.Sync, cfg.Game.ArchiveLimit, logger)
			if restored, err := syncWorker.RestoreArchive(ctx); err != nil {
				logger.Warn("failed to restore archive from history", "error", err)
			} else if restored > 0 {
				logger.Info("archive restored from history", "days", restored)
			}
			if cfg.Sync.Enabled {
				if err := syncWorker.Start(ctx); err != nil {
					logger.Error("failed to start sync worker", "error", err)
					os.Exit(1)
				}
			}
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		consumer, err := kafka.NewConsumer(&cfg.Kafka, gameService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := consumer.Start(startCtx); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				consumer.Stop()
			} else {
				kafkaConsumer = consumer
			}
			startCancel()
		}
	}

	var limiter *handler.OriginLimiter
	if cfg.RateLimit.Enabled {
		limiter = handler.NewOriginLimiter(cfg.RateLimit, logger)
		go limiter.Run(ctx)
	}

	httpHandler := handler.NewHandler(gameService, wsHub, limiter, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", store.Kind())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	cancel()
	logger.Info("server stopped")
}

// openStore picks Redis when credentials are configured and process memory
// otherwise. A Redis URL that cannot be parsed also falls back to memory.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func()) {
	if !cfg.Redis.Enabled() {
		logger.Info("no Redis configured, results are kept in process memory")
		return storage.NewMemoryStore(), func() {}
	}

	redisStore, err := redis.NewStore(&cfg.Redis, logger)
	if err != nil {
		logger.Error("invalid Redis configuration, using process memory", "error", err)
		return storage.NewMemoryStore(), func() {}
	}
	return redisStore, func() {
		if err := redisStore.Close(); err != nil {
			logger.Warn("failed to close Redis client", "error", err)
		}
	}
}

func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgres.Repository, error) {
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repo.RunMigrations(migrateCtx); err != nil {
		repo.Close()
		return nil, err
	}
	logger.Info("connected to PostgreSQL")
	return repo, nil
}
