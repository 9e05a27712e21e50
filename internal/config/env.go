package config

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// HTTPConfig defines the API listener.
type HTTPConfig struct {
    Port            string
    ShutdownTimeout time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
    RedisURL     string
    Stream       string
    Group        string
    PollInterval time.Duration
    DepthEvery   time.Duration
}

// WorkerConfig defines dispatcher behavior and limits.
type WorkerConfig struct {
    Enabled            bool
    Concurrency        int
    DequeueBlock       time.Duration
    RangeTimeout       time.Duration
    JobMaxAttempts     int
    RetryBaseDelay     time.Duration
    RetryJitter        time.Duration
    RetryBackoffFactor float64
    BreakerBaseBackoff time.Duration
    BreakerMaxBackoff  time.Duration
}

// ProcessorConfig points at the external service that does the page work.
type ProcessorConfig struct {
    URL       string
    HealthURL string
    Timeout   time.Duration
}

// StorageConfig covers where documents are fetched from for page counting.
type StorageConfig struct {
    S3Bucket        string
    S3Region        string
    Endpoint        string
    AccessKeyID     string
    SecretAccessKey string
}

// SessionConfig controls editing session persistence.
type SessionConfig struct {
    TTL         time.Duration
    LockTTL     time.Duration
}

// Config is the top-level configuration.
type Config struct {
    Logging   LoggingConfig
    Axiom     AxiomConfig
    HTTP      HTTPConfig
    Queue     QueueConfig
    Worker    WorkerConfig
    Processor ProcessorConfig
    Storage   StorageConfig
    Session   SessionConfig
}

// LoadDotEnv loads variables from .env style files without overriding what is
// already set in the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) {
    if len(paths) == 0 {
        paths = []string{".env"}
    }
    for _, p := range paths {
        if _, err := os.Stat(p); err != nil {
            continue
        }
        _ = godotenv.Load(p)
    }
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/rangeplanner.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_rangeplanner",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    cfg.HTTP = HTTPConfig{
        Port:            getEnv("PORT", "8080"),
        ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
    }

    cfg.Queue = QueueConfig{
        RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
        Stream:       getEnv("QUEUE_STREAM", "jobs:ranges"),
        Group:        getEnv("QUEUE_GROUP", "workers:ranges"),
        PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "200ms"), 200*time.Millisecond),
        DepthEvery:   parseDuration(getEnv("QUEUE_DEPTH_INTERVAL", "15s"), 15*time.Second),
    }

    cfg.Worker = WorkerConfig{
        Enabled:            parseBool(getEnv("RUN_DISPATCHER", "true")),
        Concurrency:        parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
        DequeueBlock:       parseDuration(getEnv("DEQUEUE_BLOCK", "2s"), 2*time.Second),
        RangeTimeout:       parseDuration(getEnv("RANGE_TOTAL_TIMEOUT", "10m"), 10*time.Minute),
        JobMaxAttempts:     parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
        RetryBaseDelay:     parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
        RetryJitter:        parseDuration(getEnv("RETRY_JITTER", "200ms"), 200*time.Millisecond),
        RetryBackoffFactor: parseFloat(getEnv("RETRY_BACKOFF_FACTOR", "2.0"), 2.0),
        BreakerBaseBackoff: parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
        BreakerMaxBackoff:  parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
    }

    cfg.Processor = ProcessorConfig{
        URL:       getEnv("PROCESSOR_URL", ""),
        HealthURL: getEnv("PROCESSOR_HEALTH_URL", ""),
        Timeout:   parseDuration(getEnv("PROCESSOR_TIMEOUT", "60s"), 60*time.Second),
    }
    if cfg.Processor.HealthURL == "" { cfg.Processor.HealthURL = cfg.Processor.URL }

    cfg.Storage = StorageConfig{
        S3Bucket:        getEnv("AWS_S3_BUCKET", ""),
        S3Region:        getEnv("AWS_REGION", ""),
        Endpoint:        getEnv("S3_ENDPOINT", ""),
        AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
        SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
    }

    cfg.Session = SessionConfig{
        TTL:     parseDuration(getEnv("SESSION_TTL", "2h"), 2*time.Hour),
        LockTTL: parseDuration(getEnv("DOCUMENT_LOCK_TTL", "30s"), 30*time.Second),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
