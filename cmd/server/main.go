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
	"github.com/openharbor/chunkstream/cmd/server/middleware"
	"github.com/openharbor/chunkstream/internal/common"
	"github.com/openharbor/chunkstream/internal/storage"
	"github.com/openharbor/chunkstream/internal/uploads"
	"github.com/openharbor/chunkstream/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting chunkstream server")

	// Initialize database
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// The redis guard and the snapshot cache share one connection;
	// a single-process deployment runs without redis entirely.
	var cache *common.Cache
	if cfg.Upload.Guard == "redis" {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
	}

	// Initialize storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	chunkStorage, err := storageFactory.CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Initialize the upload coordinator
	guard, err := uploads.NewGuard(&cfg.Upload, cache)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize concurrency guard")
	}
	var snapshots uploads.SnapshotCache
	if cache != nil {
		snapshots = cache
	}
	uploadService := uploads.NewService(db, chunkStorage, guard, snapshots, &cfg.Upload)

	// Setup HTTP server
	router := setupRouter(uploadService, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Give outstanding chunk requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

func setupRouter(uploadService *uploads.Service, cfg *config.Config) *gin.Engine {
	// Set Gin mode based on environment
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "chunkstream",
			"time":    time.Now().UTC(),
		})
	})

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.Auth.JWTSecret, cfg.Upload.RequireOwner))
	{
		api.POST("/uploads", handleAppendChunk(uploadService))
		api.GET("/uploads", handleListUploads(uploadService))
		api.GET("/uploads/:id", handleGetUpload(uploadService))
		api.POST("/uploads/:id/complete", handleComplete(uploadService))
		api.DELETE("/uploads/:id", handleDeleteUpload(uploadService))
	}

	return router
}
