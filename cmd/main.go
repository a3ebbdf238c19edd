package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"vxsky/internal/bsky"
	"vxsky/internal/cache"
	"vxsky/internal/config"
	"vxsky/internal/handlers"
	"vxsky/internal/logging"
	"vxsky/internal/metrics"
	"vxsky/internal/middleware"
	"vxsky/internal/stats"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Absent .env files are fine; containers configure via the environment.
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("invalid configuration", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Get().SetBuildInfo(version, os.Getenv("GIT_COMMIT"))

	client := bsky.NewClient(cfg.ServiceURL)
	loginCtx, cancelLogin := context.WithTimeout(context.Background(), 30*time.Second)
	err = client.Login(loginCtx, cfg.Identifier, cfg.AppPassword)
	cancelLogin()
	if err != nil {
		logging.L().Fatal("could not authenticate with PDS",
			zap.String("service", cfg.ServiceURL),
			zap.Error(err),
		)
	}

	appCache := buildCache(cfg.RedisURL)
	defer appCache.Close()

	store, err := stats.Open(cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		logging.L().Fatal("could not open stats database", zap.Error(err))
	}
	defer store.Close()

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.SecurityHeaders(),
		middleware.RateLimit(300, 30),
	)
	if cfg.MetricsEnable {
		router.Use(metrics.PrometheusMiddleware())
		router.GET("/metrics", metrics.PrometheusHandler())
	}

	handlers.New(client, appCache, store, cfg.BaseURL).RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logging.L().Info("vxsky listening",
			zap.String("port", cfg.Port),
			zap.String("base_url", cfg.BaseURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logging.L().Fatal("server failed", zap.Error(err))
	case sig := <-quit:
		logging.L().Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.L().Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildCache connects to Redis when configured, falling back to the
// in-process cache so a missing Redis never keeps the service down.
func buildCache(redisURL string) *cache.Cache {
	if redisURL == "" {
		logging.L().Info("REDIS_URL not set, using in-memory cache")
		return cache.New(nil)
	}

	c, err := cache.NewFromURL(redisURL, nil)
	if err != nil {
		logging.L().Warn("could not connect to redis, using in-memory cache", zap.Error(err))
		return cache.New(nil)
	}

	logging.L().Info("connected to redis")
	return c
}
