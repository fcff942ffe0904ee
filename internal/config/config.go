// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration. It is an immutable snapshot
// taken at boot; there is no hot reload.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Secrets
	ServiceSecret string // high-entropy secret used to derive the encryption key
	EncryptionKey []byte // 32-byte key for AES-256-GCM secret-at-rest encryption

	// Dispatch
	DirectMode          bool
	MaxInFlight         int // direct-mode queue capacity and admission limit
	KafkaBrokers        []string
	KafkaGroupID        string
	EventsTopic         string
	RetriesTopic        string
	BalancingTopic      string
	ProducerSyncSend    bool
	ProducerSendTimeout time.Duration

	// Delivery
	ConnectionTimeout      time.Duration
	ReadTimeout            time.Duration
	DestinationURLOverride string // when set, overrides every target URL
	MaxPayloadLogLength    int
	MaxResponseLogLength   int
	NodeIdentifier         string
	SlowExecutionThreshold     time.Duration
	CriticalExecutionThreshold time.Duration
	WorkerConcurrency          int

	// Retry scheduler
	RetrySchedulerInterval time.Duration
	RetryBatchSize         int

	// Stuck detector
	StuckDetectorInterval time.Duration
	StuckThreshold        time.Duration
	StuckNextRetryOffset  time.Duration

	// Retention cleanup
	CleanupEnabled         bool
	CleanupInterval        time.Duration
	DeliveredRetentionDays int
	FailedRetentionDays    int
	CancelledRetentionDays int
	AttemptsRetentionDays  int
	CleanBatchSize         int

	// Health classification
	HealthMinSent        int64
	HealthMinSuccessRate float64
	HealthPendingBacklog int64

	// CORS
	CORSOrigins []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:hookline.db?_journal=WAL&_timeout=5000"),

		ServiceSecret: getEnv("SERVICE_SECRET", ""),

		DirectMode:          getEnvBool("DIRECT_MODE", false),
		MaxInFlight:         getEnvInt("MAX_IN_FLIGHT", 256),
		KafkaBrokers:        getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "hookline-delivery"),
		EventsTopic:         getEnv("WEBHOOK_EVENTS_TOPIC", "webhook-events"),
		RetriesTopic:        getEnv("WEBHOOK_RETRIES_TOPIC", "webhook-retries"),
		BalancingTopic:      getEnv("WEBHOOK_BALANCING_TOPIC", "webhook-balancing"),
		ProducerSyncSend:    getEnvBool("PRODUCER_SYNC_SEND", true),
		ProducerSendTimeout: getEnvMillis("PRODUCER_SEND_TIMEOUT_MS", 5*time.Second),

		ConnectionTimeout:      getEnvMillis("CONNECTION_TIMEOUT_MS", 5*time.Second),
		ReadTimeout:            getEnvMillis("READ_TIMEOUT_MS", 10*time.Second),
		DestinationURLOverride: getEnv("DESTINATION_URL_OVERRIDE", ""),
		MaxPayloadLogLength:    getEnvInt("MAX_PAYLOAD_LOG_LENGTH", 2048),
		MaxResponseLogLength:   getEnvInt("MAX_RESPONSE_LOG_LENGTH", 2048),
		NodeIdentifier:         getEnv("NODE_IDENTIFIER", defaultNodeIdentifier()),
		SlowExecutionThreshold:     getEnvMillis("SLOW_EXECUTION_THRESHOLD_MS", 3*time.Second),
		CriticalExecutionThreshold: getEnvMillis("CRITICAL_EXECUTION_THRESHOLD_MS", 10*time.Second),
		WorkerConcurrency:          getEnvInt("WORKER_CONCURRENCY", 8),

		RetrySchedulerInterval: getEnvMillis("RETRY_SCHEDULER_INTERVAL_MS", 60*time.Second),
		RetryBatchSize:         getEnvInt("RETRY_BATCH_SIZE", 50),

		StuckDetectorInterval: getEnvMinutes("STUCK_DETECTOR_INTERVAL_MIN", 15*time.Minute),
		StuckThreshold:        getEnvMinutes("STUCK_THRESHOLD_MIN", 30*time.Minute),
		StuckNextRetryOffset:  getEnvMinutes("STUCK_NEXT_RETRY_OFFSET_MIN", 5*time.Minute),

		CleanupEnabled:         getEnvBool("CLEANUP_ENABLED", true),
		CleanupInterval:        getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
		DeliveredRetentionDays: getEnvInt("DELIVERED_RETENTION_DAYS", 30),
		FailedRetentionDays:    getEnvInt("FAILED_RETENTION_DAYS", 90),
		CancelledRetentionDays: getEnvInt("CANCELLED_RETENTION_DAYS", 30),
		AttemptsRetentionDays:  getEnvInt("ATTEMPTS_RETENTION_DAYS", 30),
		CleanBatchSize:         getEnvInt("CLEAN_BATCH_SIZE", 500),

		HealthMinSent:        int64(getEnvInt("HEALTH_MIN_SENT", 5)),
		HealthMinSuccessRate: getEnvFloat("HEALTH_MIN_SUCCESS_RATE", 80.0),
		HealthPendingBacklog: int64(getEnvInt("HEALTH_PENDING_BACKLOG", 1000)),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Set up the encryption key (derive from the service secret if not
	// explicitly set). Without either, secrets are stored in the clear.
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	switch {
	case encKeyStr != "":
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	case cfg.ServiceSecret != "":
		cfg.EncryptionKey = deriveEncryptionKey(cfg.ServiceSecret)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("MAX_IN_FLIGHT must be at least 1")
	}
	if c.RetryBatchSize < 1 {
		return fmt.Errorf("RETRY_BATCH_SIZE must be at least 1")
	}
	if c.CleanBatchSize < 1 {
		return fmt.Errorf("CLEAN_BATCH_SIZE must be at least 1")
	}
	if !c.DirectMode && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required unless DIRECT_MODE is set")
	}
	if c.HealthMinSuccessRate < 0 || c.HealthMinSuccessRate > 100 {
		return fmt.Errorf("HEALTH_MIN_SUCCESS_RATE must be a percentage in [0,100]")
	}
	return nil
}

// defaultNodeIdentifier falls back to the hostname so attempt records stay
// attributable when NODE_IDENTIFIER is unset.
func defaultNodeIdentifier() string {
	host, err := os.Hostname()
	if err != nil {
		return "hookline"
	}
	return host
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvMillis reads an integer number of milliseconds.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// getEnvMinutes reads an integer number of minutes.
func getEnvMinutes(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if m, err := strconv.Atoi(value); err == nil && m > 0 {
			return time.Duration(m) * time.Minute
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string
// using HKDF with SHA-256. Appropriate for high-entropy secrets; not a
// password KDF.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("hookline-encryption-key-v1")
	info := []byte("aes-256-gcm-encryption")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
