package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slide-ingestion-platform/internal/ai"
	"slide-ingestion-platform/internal/blob"
	"slide-ingestion-platform/internal/config"
	"slide-ingestion-platform/internal/database"
	"slide-ingestion-platform/internal/logger"
	"slide-ingestion-platform/internal/pdf"
	"slide-ingestion-platform/internal/telemetry"
	"slide-ingestion-platform/middleware"
	"slide-ingestion-platform/routes"
	"slide-ingestion-platform/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Initialize tracing when an OTLP collector is configured
	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTracer("slide-ingestion-platform", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to initialize tracer:", err)
		}
		defer shutdown()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	ctx := context.Background()

	// GCP clients
	store, err := database.NewFirestoreStore(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatal("Failed to connect to Firestore:", err)
	}
	defer store.Close()

	blobs, err := blob.NewGCSStore(ctx, cfg.Bucket)
	if err != nil {
		log.Fatal("Failed to connect to Cloud Storage:", err)
	}
	defer blobs.Close()

	vision, err := ai.NewVisionClient(ctx, cfg.ProjectID, cfg.Location, cfg.GeminiModel)
	if err != nil {
		log.Fatal("Failed to create vision client:", err)
	}
	defer vision.Close()

	embedder, err := ai.NewEmbeddingClient(ctx, cfg.ProjectID, cfg.Location,
		cfg.EmbeddingModel, cfg.EmbeddingDim, cfg.MaxContextChars)
	if err != nil {
		log.Fatal("Failed to create embedding client:", err)
	}
	defer embedder.Close()

	renderer := pdf.NewRenderer(cfg.RenderDPI)
	worker := services.NewIngestionWorker(cfg, blobs, store, renderer, embedder, vision, vision, metrics)

	// Shard launch backend: Cloud Run jobs, task queue, or in-process
	var launcher services.ShardLauncher
	switch {
	case cfg.UseCloudRunJobs:
		crl, err := services.NewCloudRunLauncher(ctx, cfg)
		if err != nil {
			log.Fatal("Failed to create Cloud Run launcher:", err)
		}
		defer crl.Close()
		launcher = crl
	case cfg.UseTaskQueue:
		launcher = services.NewQueueLauncher(cfg)
	default:
		launcher = &services.InProcessLauncher{Runner: worker}
	}

	batches := services.NewBatchService(cfg, store, blobs, launcher, worker, embedder)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))

	// Rate limiting backed by Redis, fail-open
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	routes.SetupIngestionRoutes(router, batches)

	// Scheduled ingestion
	if cfg.IngestCron != "" {
		scheduler := services.NewIngestScheduler(cfg, batches)
		if err := scheduler.Start(); err != nil {
			log.Fatal("Failed to start ingestion scheduler:", err)
		}
		defer scheduler.Stop()
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
