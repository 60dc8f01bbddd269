// package config provides a minimal environment-backed configuration loader
// used by the emissary bootstrap (cmd/emissary/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime config values consumed by main.go. The core
// components treat these as plain constructor parameters.
type Config struct {
	TransportType      string        // TRANSPORT_TYPE (http|file, default http)
	EndpointURL        string        // EXTERNAL_ENDPOINT_URL
	EndpointTimeout    time.Duration // EXTERNAL_ENDPOINT_TIMEOUT (seconds)
	RetryMaxAttempts   int           // PUBLISH_RETRY_MAX_ATTEMPTS
	RetryBackoffFactor float64       // PUBLISH_RETRY_BACKOFF_FACTOR
	OutputDir          string        // FILE_TRANSPORT_OUTPUT_DIR
	InputDir           string        // FILE_TRANSPORT_INPUT_DIR
	ContractsDir       string        // CONTRACTS_DIR
	SchemaStrict       bool          // SCHEMA_STRICT
	DatabaseURL        string        // DATABASE_URL
	ArchiveDir         string        // ARCHIVE_DIR (file store fallback)
	KafkaBrokers       []string      // KAFKA_BROKERS (comma separated)
	KafkaTopic         string        // KAFKA_TOPIC
	S3Bucket           string        // S3_BUCKET
	S3Prefix           string        // S3_PREFIX
	ListenAddr         string        // LISTEN_ADDR (default :8080)
	AuthKeysFile       string        // AUTH_KEYS_FILE
	DevAllowLocal      bool          // DEV_ALLOW_LOCAL
	LogLevel           string        // LOG_LEVEL
}

// LoadFromEnv reads config values from environment variables and returns a
// Config pointer with sensible defaults applied.
func LoadFromEnv() *Config {
	cfg := &Config{
		TransportType: os.Getenv("TRANSPORT_TYPE"),
		EndpointURL:   os.Getenv("EXTERNAL_ENDPOINT_URL"),
		OutputDir:     os.Getenv("FILE_TRANSPORT_OUTPUT_DIR"),
		InputDir:      os.Getenv("FILE_TRANSPORT_INPUT_DIR"),
		ContractsDir:  os.Getenv("CONTRACTS_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ArchiveDir:    os.Getenv("ARCHIVE_DIR"),
		KafkaTopic:    os.Getenv("KAFKA_TOPIC"),
		S3Bucket:      os.Getenv("S3_BUCKET"),
		S3Prefix:      os.Getenv("S3_PREFIX"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		AuthKeysFile:  os.Getenv("AUTH_KEYS_FILE"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
	}

	// sensible defaults
	if cfg.TransportType == "" {
		cfg.TransportType = "http"
	}
	if cfg.EndpointURL == "" {
		cfg.EndpointURL = "http://localhost:8000/api"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./output"
	}
	if cfg.InputDir == "" {
		cfg.InputDir = "./input"
	}
	if cfg.ContractsDir == "" {
		cfg.ContractsDir = "./contracts"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "./archive"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.EndpointTimeout = 30 * time.Second
	if v := os.Getenv("EXTERNAL_ENDPOINT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EndpointTimeout = time.Duration(n) * time.Second
		}
	}

	cfg.RetryMaxAttempts = 3
	if v := os.Getenv("PUBLISH_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryMaxAttempts = n
		}
	}

	cfg.RetryBackoffFactor = 2
	if v := os.Getenv("PUBLISH_RETRY_BACKOFF_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RetryBackoffFactor = f
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	// booleans parsed permissively; default false
	if v := os.Getenv("SCHEMA_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SchemaStrict = b
		}
	}
	if v := os.Getenv("DEV_ALLOW_LOCAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DevAllowLocal = b
		}
	}

	return cfg
}
