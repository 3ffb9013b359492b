package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration, loaded once at process start.
type Config struct {
	// Server
	Port string

	// Database
	DatabaseURL string

	// Broker (asynq, backed by Redis)
	RedisURL string

	// Progress pub/sub (same Redis instance, distinct key space)
	EnableProgressPubSub bool

	// Blob overflow storage
	S3Endpoint  string // empty selects AWS S3; non-empty targets a MinIO-compatible endpoint
	S3Region    string
	S3Bucket    string
	S3BasePath  string
	S3AccessKey string
	S3SecretKey string

	// RawPayloadInlineLimitBytes is the largest raw-extraction payload
	// stored inline; larger payloads overflow to blob storage.
	RawPayloadInlineLimitBytes int

	// Encryption
	EncryptionKey string // 32-byte hex-encoded key for AES-256-GCM credential blobs

	// Worker / scheduling
	DefaultScheduleIntervalMinutes int
	DefaultRetryIntervalMinutes    int
	DefaultMaxRetryAttempts        int
	StaleJobTimeoutMinutes         int

	// Rate limiting
	RateLimitSafetyMargin int // stop extracting when remaining budget drops to this or below

	// Vector gateway
	VectorGatewayTimeoutSeconds int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: databaseURL,

		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379"),
		EnableProgressPubSub: getEnv("ENABLE_PROGRESS_PUBSUB", "true") != "false",

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", "etlcore"),
		S3BasePath:  getEnv("S3_BASE_PATH", "raw"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),

		RawPayloadInlineLimitBytes: getEnvInt("RAW_PAYLOAD_INLINE_LIMIT_BYTES", 32*1024),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		DefaultScheduleIntervalMinutes: getEnvInt("DEFAULT_SCHEDULE_INTERVAL_MINUTES", 60),
		DefaultRetryIntervalMinutes:    getEnvInt("DEFAULT_RETRY_INTERVAL_MINUTES", 15),
		DefaultMaxRetryAttempts:        getEnvInt("DEFAULT_MAX_RETRY_ATTEMPTS", 3),
		StaleJobTimeoutMinutes:         getEnvInt("STALE_JOB_TIMEOUT_MINUTES", 30),

		RateLimitSafetyMargin: getEnvInt("RATE_LIMIT_SAFETY_MARGIN", 50),

		VectorGatewayTimeoutSeconds: getEnvInt("VECTOR_GATEWAY_TIMEOUT_SECONDS", 30),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
