package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"slide-ingestion-platform/internal/ai"
	"slide-ingestion-platform/internal/blob"
	"slide-ingestion-platform/internal/config"
	"slide-ingestion-platform/internal/database"
	"slide-ingestion-platform/internal/logger"
	"slide-ingestion-platform/internal/pdf"
	"slide-ingestion-platform/internal/queue"
	"slide-ingestion-platform/internal/telemetry"
	"slide-ingestion-platform/services"
)

// The worker binary runs in two modes. With BATCH_ID set (Cloud Run jobs) it
// processes exactly one shard, identified by CLOUD_RUN_TASK_INDEX, and exits.
// Without it, it serves the asynq ingest queue.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTracer("slide-ingestion-worker", cfg.OTLPEndpoint)
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

	// Job mode: one shard, then exit
	if cfg.BatchID != "" {
		logger.Info("Running single shard",
			"batch_id", cfg.BatchID,
			"task_index", cfg.TaskIndex,
			"task_count", cfg.TaskCount)
		if err := worker.Run(ctx, cfg.BatchID, cfg.TaskIndex, cfg.TaskCount); err != nil {
			log.Fatalf("Shard failed: %v", err)
		}
		return
	}

	// Queue mode: serve ingestion shards from asynq
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			// Shards saturate the render and AI backends; one at a time.
			Concurrency: 1,
			Queues:      map[string]int{queue.QueueIngest: 1},
		},
	)

	mux := asynq.NewServeMux()
	processor := &queue.ShardProcessor{Runner: worker}
	mux.HandleFunc(queue.TaskIngestShard, processor.ProcessShard)

	logger.Info("Worker starting", "queue", queue.QueueIngest)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
