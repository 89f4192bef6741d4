package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classmeet/backend/config"
	"github.com/classmeet/backend/internal/lifecycle"
	"github.com/classmeet/backend/internal/mediabridge"
	"github.com/classmeet/backend/internal/middleware"
	"github.com/classmeet/backend/internal/realtime"
	"github.com/classmeet/backend/internal/recordings"
	"github.com/classmeet/backend/internal/sessions"
	"github.com/classmeet/backend/internal/store"
	"github.com/classmeet/backend/internal/worker"
	"github.com/classmeet/backend/pkg/database"
	"github.com/classmeet/backend/pkg/queue"
	"github.com/classmeet/backend/pkg/redis"
	"github.com/classmeet/backend/pkg/storage"
)

func main() {
	logger := newLogger()
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	repo := store.NewRepository(pool)

	// Redis is optional: without it the hub falls back to in-process
	// broadcasting and producer reconciliation runs sweep-only.
	var (
		pubsub *realtime.RedisPubSub
		jobs   *queue.Queue
	)
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, running single-node", zap.Error(err))
	} else {
		defer rdb.Close()
		pubsub = realtime.NewRedisPubSub(rdb.Client, logger)
		jobs = queue.NewQueue(rdb.Client, logger)
	}

	bridge := mediabridge.NewClient(
		cfg.MediaBridge.URL,
		time.Duration(cfg.MediaBridge.RequestTimeout)*time.Second,
		logger,
	)

	var hub *realtime.Hub
	if pubsub != nil {
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	var reaper lifecycle.Reaper
	if jobs != nil {
		reaper = jobs
	}
	ctrl := lifecycle.NewController(repo, bridge, hub, reaper, logger)
	hub.SetDisconnectHandler(ctrl.HandleDisconnect)

	if jobs != nil {
		go worker.NewReaper(jobs, bridge, repo, logger).Run(ctx)
	}

	var s3 *storage.S3
	if cfg.AWS.RecordingsBucket != "" {
		s3, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("S3 unavailable, recording playback disabled", zap.Error(err))
			s3 = nil
		}
	}

	router := setupRouter(cfg, logger, ctrl, repo, bridge, hub, s3)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func setupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	ctrl *lifecycle.Controller,
	repo *store.Repository,
	bridge *mediabridge.Client,
	hub *realtime.Hub,
	s3 *storage.S3,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))

	sessionHandler := sessions.NewHandler(ctrl, repo, bridge, logger)
	recordingHandler := recordings.NewHandler(repo, s3, logger)

	api := router.Group("/api")
	{
		api.POST("/create-session", sessionHandler.CreateSession)
		api.POST("/join-session", sessionHandler.JoinSession)
		api.POST("/leave-session", sessionHandler.LeaveSession)
		api.POST("/raise-hand", sessionHandler.RaiseHand)
		api.POST("/send-message", sessionHandler.SendMessage)
		api.POST("/mark-question-answered", sessionHandler.MarkQuestionAnswered)
		api.POST("/start-livestream", sessionHandler.StartLivestream)
		api.POST("/stop-livestream", sessionHandler.StopLivestream)
		api.GET("/get-active-sessions", sessionHandler.GetActiveSessions)
		api.GET("/get-recording-url", recordingHandler.GetRecordingURL)
		api.GET("/router-capabilities", sessionHandler.RouterCapabilities)
		api.GET("/health", sessionHandler.Health)
	}

	router.GET("/ws", realtime.ServeWs(hub, ctrl, bridge, logger))

	return router
}

func newLogger() *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
