package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Log configuration
	LogLevel string

	// Agent Configuration
	Agent AgentConfig

	// Server Configuration
	Server ServerConfig

	// Ingestion Configuration
	Ingest IngestConfig

	// Work Queue Configuration
	WorkQueue WorkQueueConfig
}

// DatabaseConfig contains database-related settings
type DatabaseConfig struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// AgentConfig contains the log-shipping agent settings
type AgentConfig struct {
	LogRoots        []string      // Root directories scanned for <deployment>/<pod>/*.log
	StateFilePath   string        // Persisted cursor state
	StateInterval   time.Duration // How often dirty cursors are saved
	ServerURL       string        // Ingestion server base URL
	AgentID         string        // Sent as X-Agent-Id (generated when empty)
	MaxBatchSize    int
	FlushInterval   time.Duration
	BreakerFailures int           // Consecutive failures before the circuit opens
	BreakerCooldown time.Duration // Open duration before a probe is allowed
	DefaultMinLevel string        // Minimum level shipped when a pod has no policy
	SequenceMaxAge  time.Duration // Stale sequence counters older than this are dropped
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host       string
	Port       int
	Production bool
}

// IngestConfig contains server-side validation and dedup settings
type IngestConfig struct {
	SettingsURL string        // External validation settings endpoint (empty = built-in defaults)
	DedupWindow time.Duration // Duplicate suppression window per pod/fingerprint
	DedupSweep  time.Duration // How often expired dedup entries are removed
	PodCacheTTL time.Duration // Pod existence cache lifetime
}

// WorkQueueConfig contains purge processor settings
type WorkQueueConfig struct {
	PollInterval    time.Duration
	PurgeBatchSize  int
	InterBatchDelay time.Duration
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Path:         getEnv("DB_PATH", "logship.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 3),
			ConnMaxLife:  getEnvAsDuration("DB_CONN_MAX_LIFE", time.Hour),
		},
		Agent: AgentConfig{
			LogRoots:        getEnvAsList("AGENT_LOG_ROOTS", []string{"/var/log/containers"}),
			StateFilePath:   getEnv("AGENT_STATE_FILE", "agent-state.json"),
			StateInterval:   getEnvAsDuration("AGENT_STATE_INTERVAL", 30*time.Second),
			ServerURL:       getEnv("AGENT_SERVER_URL", "http://localhost:8080"),
			AgentID:         getEnv("AGENT_ID", ""),
			MaxBatchSize:    getEnvAsInt("AGENT_BATCH_SIZE", 10),
			FlushInterval:   getEnvAsDuration("AGENT_FLUSH_INTERVAL", 10*time.Second),
			BreakerFailures: getEnvAsInt("AGENT_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvAsDuration("AGENT_BREAKER_COOLDOWN", 30*time.Second),
			DefaultMinLevel: getEnv("AGENT_DEFAULT_MIN_LEVEL", "Any"),
			SequenceMaxAge:  getEnvAsDuration("AGENT_SEQUENCE_MAX_AGE", 24*time.Hour),
		},
		Server: ServerConfig{
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			Port:       getEnvAsInt("SERVER_PORT", 8080),
			Production: getEnvAsBool("SERVER_PRODUCTION", false),
		},
		Ingest: IngestConfig{
			SettingsURL: getEnv("INGEST_SETTINGS_URL", ""),
			DedupWindow: getEnvAsDuration("INGEST_DEDUP_WINDOW", 30*time.Second),
			DedupSweep:  getEnvAsDuration("INGEST_DEDUP_SWEEP", 60*time.Second),
			PodCacheTTL: getEnvAsDuration("INGEST_POD_CACHE_TTL", 60*time.Minute),
		},
		WorkQueue: WorkQueueConfig{
			PollInterval:    getEnvAsDuration("QUEUE_POLL_INTERVAL", 30*time.Second),
			PurgeBatchSize:  getEnvAsInt("QUEUE_PURGE_BATCH_SIZE", 10000),
			InterBatchDelay: getEnvAsDuration("QUEUE_INTER_BATCH_DELAY", 100*time.Millisecond),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
