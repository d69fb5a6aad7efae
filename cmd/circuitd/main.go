package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/circuit-labs/circuit/internal/cache"
	"github.com/circuit-labs/circuit/internal/config"
	"github.com/circuit-labs/circuit/internal/server"
	"github.com/circuit-labs/circuit/internal/settings"
	"github.com/circuit-labs/circuit/internal/storage"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "./circuitd.config.json", "path to server config file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("config loaded successfully",
		zap.String("config_path", *configPath),
	)

	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Migrate(db); err != nil {
		logger.Error("failed to run migrations", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("database migrations complete")

	var settingsCache cache.Cache
	if cfg.Redis.Addr != "" {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, redisErr := cache.NewRedis(pingCtx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCancel()
		if redisErr != nil {
			logger.Error("failed to connect to redis", zap.Error(redisErr))
			os.Exit(1)
		}
		defer redisCache.Close()
		settingsCache = redisCache
		logger.Info("redis cache connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		memCache, memErr := cache.NewMemory(0)
		if memErr != nil {
			logger.Error("failed to create memory cache", zap.Error(memErr))
			os.Exit(1)
		}
		settingsCache = memCache
		logger.Info("using in-process memory cache")
	}

	store := settings.NewStore(settingsCache, storage.NewStore(db), logger)

	server.InitMetrics()
	logger.Info("metrics initialized")

	dispatcher := server.NewDispatcher(logger)
	dispatcher.MustRegister(server.UserRoutes(store, logger)...)

	srv := server.NewServer(cfg, dispatcher, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("received signal, initiating graceful shutdown",
		zap.String("signal", sig.String()),
	)

	if err := srv.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("circuitd exited cleanly")
	os.Exit(0)
}
