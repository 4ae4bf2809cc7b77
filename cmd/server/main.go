package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/perpscan/fundingmon/internal/api"
	"github.com/perpscan/fundingmon/internal/config"
	"github.com/perpscan/fundingmon/internal/database"
	"github.com/perpscan/fundingmon/internal/exchange"
	"github.com/perpscan/fundingmon/internal/logging"
	"github.com/perpscan/fundingmon/internal/services"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(cfg)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Cache is best-effort: without Redis the read path hits Postgres on
	// every request.
	var cache services.Cache
	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logrus.WithError(err).Warn("Redis unavailable, serving without response cache")
	} else {
		cache = redisClient
		defer redisClient.Close()
	}

	opportunities := services.NewOpportunityService(db.Pool, cache, cfg.Aggregation)

	collector := services.NewCollectorService()
	if cfg.Collectors.Hyperliquid.Enabled {
		hl := cfg.Collectors.Hyperliquid
		collector.AddWorker(
			exchange.NewHyperliquidClient(hl),
			database.NewStore(cfg.Database),
			services.NewFetchDriver(hl.MaxRetries, hl.RetryDelay(), hl.Timeout()),
			hl.Interval(),
		)
	}
	if cfg.Collectors.Lighter.Enabled {
		lt := cfg.Collectors.Lighter
		collector.AddWorker(
			exchange.NewLighterClient(lt),
			database.NewStore(cfg.Database),
			services.NewFetchDriver(lt.MaxRetries, lt.RetryDelay(), lt.Timeout()),
			lt.Interval(),
		)
	}
	collector.Start()
	defer collector.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, db, redisClient, opportunities, "hyperliquid")

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}
