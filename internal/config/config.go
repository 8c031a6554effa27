package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// GCP
	ProjectID string
	Location  string
	Bucket    string

	// Object-store layout
	RawPrefix string

	// Document-store
	SlideCollection string

	// Shard identity (Cloud Run Jobs sets these per task)
	TaskIndex int
	TaskCount int

	// Shard launch backend
	UseCloudRunJobs bool
	CloudRunJobName string
	UseTaskQueue    bool

	// Ingestion tuning
	PageWindow      int
	MaxPageCount    int
	EvalPageCount   int
	MaxContextChars int
	RenderDPI       int

	// AI models
	GeminiModel    string
	EmbeddingModel string
	EmbeddingDim   int

	// HTTP
	Port            string
	GinMode         string
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow int

	// Redis (rate limiting + asynq backend)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Telemetry
	OTLPEndpoint string

	// Scheduled ingestion (cron expression; empty disables)
	IngestCron string

	// Worker job mode: when set, the worker binary runs exactly one shard
	// of this batch and exits.
	BatchID string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		ProjectID: getEnv("PROJECT_ID", ""),
		Location:  getEnv("LOCATION", ""),
		Bucket:    getEnv("GCS_BUCKET_NAME_FOR_CONSUL_DOC", ""),

		RawPrefix: getEnv("RAW_PREFIX", "consulting_raw/"),

		SlideCollection: getEnv("FIRESTORE_COLLECTION_NAME", "consulting_slides"),

		TaskIndex: getEnvInt("CLOUD_RUN_TASK_INDEX", 0),
		TaskCount: getEnvInt("CLOUD_RUN_TASK_COUNT", 1),

		UseCloudRunJobs: getEnvBool("USE_CLOUD_RUN_JOBS", false),
		CloudRunJobName: getEnv("CLOUD_RUN_JOB_NAME", "slide-ingestion-worker"),
		UseTaskQueue:    getEnvBool("USE_TASK_QUEUE", false),

		PageWindow:      getEnvInt("PAGE_WINDOW", 10),
		MaxPageCount:    getEnvInt("MAX_PAGE_COUNT", 150),
		EvalPageCount:   getEnvInt("EVAL_PAGE_COUNT", 7),
		MaxContextChars: getEnvInt("MAX_CONTEXT_CHARS", 400),
		RenderDPI:       getEnvInt("RENDER_DPI", 120),

		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "multimodalembedding@001"),
		EmbeddingDim:   getEnvInt("EMBEDDING_DIM", 1408),

		Port:            getEnv("PORT", "8080"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		CORSOrigins:     strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		IngestCron: getEnv("INGEST_CRON", ""),

		BatchID: getEnv("BATCH_ID", ""),
	}

	// Validate required fields
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID is required - set it in .env file")
	}

	if cfg.Location == "" {
		return nil, fmt.Errorf("LOCATION is required - set it in .env file")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET_NAME_FOR_CONSUL_DOC is required - set it in .env file")
	}

	if cfg.TaskCount < 1 {
		cfg.TaskCount = 1
	}

	if !strings.HasSuffix(cfg.RawPrefix, "/") {
		cfg.RawPrefix += "/"
	}

	return cfg, nil
}

// CloudRunJobResource is the fully qualified job name used by the Cloud Run
// Jobs launcher.
func (c *Config) CloudRunJobResource() string {
	return fmt.Sprintf("projects/%s/locations/%s/jobs/%s", c.ProjectID, c.Location, c.CloudRunJobName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
