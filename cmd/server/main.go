package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jengzang/trip-planner-go/internal/api"
	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/config"
	"github.com/jengzang/trip-planner-go/internal/database"
	"github.com/jengzang/trip-planner-go/internal/logging"
	"github.com/jengzang/trip-planner-go/internal/remote"
	"github.com/jengzang/trip-planner-go/internal/repository"
	"github.com/jengzang/trip-planner-go/internal/route"
	"github.com/jengzang/trip-planner-go/internal/service"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("falling back to the production logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 初始化数据库
	db, err := database.Open(database.Config{Path: cfg.DBPath}, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	backend, closeBackend := newBackend(cfg, logger)
	defer closeBackend()

	tz, _ := cfg.Location()
	session, err := service.NewTripSession(ctx, service.Dependencies{
		Locations:  repository.NewLocationRepository(db, logger),
		Trips:      repository.NewTripRepository(db),
		State:      repository.NewStateRepository(db),
		Backend:    backend,
		Directions: route.NewHTTPDirections(cfg.DirectionsURL, cfg.DirectionsAPIKey, &http.Client{Timeout: cfg.DirectionsTimeout}),
	}, service.SessionConfig{
		ProximityThreshold: cfg.ProximityThreshold,
		RouteDebounce:      cfg.RouteDebounce,
		DirectionsTimeout:  cfg.DirectionsTimeout,
		Timezone:           tz,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize session", zap.Error(err))
	}

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := session.Run(ctx); err != nil {
			logger.Error("session stopped", zap.Error(err))
		}
	}()

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("failed to initialize tokens", zap.Error(err))
	}

	// 初始化路由
	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: api.SetupRouter(ctx, cfg, session, tokens, logger),
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	stop()
	<-sessionDone
	logger.Info("server exited")
}

// newBackend returns the Redis backend when REDIS_URL is set and the
// in-process one otherwise
func newBackend(cfg *config.Config, logger *zap.Logger) (remote.Backend, func()) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using the in-process backend")
		return remote.NewMemory(), func() {}
	}
	rdb, err := remote.DialRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	return remote.NewRedis(rdb, cfg.RedisPrefix, logger), func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
