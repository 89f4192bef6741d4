// Standalone producer reconciliation worker. Runs the same reaper the server
// embeds, for deployments that want reconciliation isolated from the API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classmeet/backend/config"
	"github.com/classmeet/backend/internal/mediabridge"
	"github.com/classmeet/backend/internal/store"
	"github.com/classmeet/backend/internal/worker"
	"github.com/classmeet/backend/pkg/database"
	"github.com/classmeet/backend/pkg/queue"
	"github.com/classmeet/backend/pkg/redis"
)

func main() {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolMaxConns, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	bridge := mediabridge.NewClient(
		cfg.MediaBridge.URL,
		time.Duration(cfg.MediaBridge.RequestTimeout)*time.Second,
		logger,
	)

	logger.Info("reaper worker started")
	worker.NewReaper(queue.NewQueue(rdb.Client, logger), bridge, store.NewRepository(pool), logger).Run(ctx)
	logger.Info("reaper worker stopped")
}
