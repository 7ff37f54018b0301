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

	"github.com/racingrun/backend/internal/auth"
	"github.com/racingrun/backend/internal/blob"
	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/handler"
	"github.com/racingrun/backend/internal/kafka"
	"github.com/racingrun/backend/internal/memory"
	"github.com/racingrun/backend/internal/postgres"
	"github.com/racingrun/backend/internal/redis"
	"github.com/racingrun/backend/internal/service"
	"github.com/racingrun/backend/internal/websocket"
	"github.com/racingrun/backend/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			logger.Error("invalid default configuration", "error", err)
			os.Exit(1)
		}
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dependencies := make(map[string]handler.Pinger)

	// Initialize storage
	var store service.Store
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		store = memory.NewStore()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		logger.Info("connected to PostgreSQL")

		// Run database migrations
		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = repo
		dependencies["postgres"] = repo
	}

	// Initialize Redis leaderboard cache
	var cache service.LeaderboardCache
	var redisCache *redis.LeaderboardCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisCache, err = redis.NewLeaderboardCache(&cfg.Redis, cfg.Cache.TTL, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
		dependencies["redis"] = redisCache
		logger.Info("connected to Redis")
	}

	// Initialize image storage
	blobs, err := blob.NewFileStore(cfg.Blob.Dir, cfg.Blob.PublicBaseURL, logger)
	if err != nil {
		logger.Error("failed to initialize blob store", "error", err)
		os.Exit(1)
	}

	// Initialize auth
	tokens := auth.NewTokenProvider(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	identityService := service.NewIdentityService(store, hasher, tokens, logger)
	characterService := service.NewCharacterService(store, blobs, cache, logger)
	scoreService := service.NewScoreService(store, store, cache, wsHub, &cfg.Leaderboard, logger)
	leaderboardService := service.NewLeaderboardService(store, cache, &cfg.Leaderboard, logger)
	contentService := service.NewContentService(store, logger)

	// Relay scores through Kafka so every instance's subscribers see them
	var kafkaProducer *kafka.Producer
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaProducer, kafkaConsumer = startKafka(cfg, wsHub, logger)
		if kafkaProducer != nil {
			scoreService.SetPublisher(kafkaProducer)
		}
	}

	// Start cache warmer
	var warmer *worker.CacheWarmer
	if cache != nil && cfg.Cache.WarmEnabled {
		warmer = worker.NewCacheWarmer(leaderboardService, &cfg.Cache, cfg.Leaderboard.DefaultLimit, logger)
		if err := warmer.Start(ctx); err != nil {
			logger.Error("failed to start cache warmer", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(
		handler.Services{
			Identity:     identityService,
			Characters:   characterService,
			Scores:       scoreService,
			Leaderboards: leaderboardService,
			Content:      contentService,
		},
		tokens,
		wsHub,
		handler.Options{
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Blobs:          blobs.Handler(),
			Dependencies:   dependencies,
		},
		logger,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first so no submission publishes into a closed producer
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if warmer != nil {
		if err := warmer.Stop(); err != nil {
			logger.Error("failed to stop cache warmer", "error", err)
		}
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}

// startKafka wires the producer and the feed consumer. Kafka is optional:
// on any failure the hub stays the publisher and only local sockets see
// local submissions.
func startKafka(cfg *config.Config, hub *websocket.Hub, logger *slog.Logger) (*kafka.Producer, *kafka.Consumer) {
	consumer, err := kafka.NewConsumer(&cfg.Kafka, hub, logger)
	if err != nil {
		logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		return nil, nil
	}

	startErr := make(chan error, 1)
	go func() { startErr <- consumer.Start() }()

	select {
	case err := <-startErr:
		if err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			consumer.Stop()
			return nil, nil
		}
	case <-time.After(30 * time.Second):
		logger.Warn("Kafka consumer not ready in time, continuing without Kafka")
		consumer.Stop()
		return nil, nil
	}

	producer, err := kafka.NewProducer(&cfg.Kafka, logger)
	if err != nil {
		logger.Warn("failed to create Kafka producer, continuing without Kafka", "error", err)
		consumer.Stop()
		return nil, nil
	}

	logger.Info("Kafka relay started")
	return producer, consumer
}
