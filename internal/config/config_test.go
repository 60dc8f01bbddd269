package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/irisforge/emissary/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.LoadFromEnv()
	assert.Equal(t, "http", cfg.TransportType)
	assert.Equal(t, "http://localhost:8000/api", cfg.EndpointURL)
	assert.Equal(t, 30*time.Second, cfg.EndpointTimeout)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 2.0, cfg.RetryBackoffFactor)
	assert.Equal(t, "./output", cfg.OutputDir)
	assert.Equal(t, "./input", cfg.InputDir)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.SchemaStrict)
}

func TestOverrides(t *testing.T) {
	t.Setenv("TRANSPORT_TYPE", "file")
	t.Setenv("EXTERNAL_ENDPOINT_TIMEOUT", "5")
	t.Setenv("PUBLISH_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("PUBLISH_RETRY_BACKOFF_FACTOR", "1.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SCHEMA_STRICT", "true")

	cfg := config.LoadFromEnv()
	assert.Equal(t, "file", cfg.TransportType)
	assert.Equal(t, 5*time.Second, cfg.EndpointTimeout)
	assert.Equal(t, 7, cfg.RetryMaxAttempts)
	assert.Equal(t, 1.5, cfg.RetryBackoffFactor)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.SchemaStrict)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("EXTERNAL_ENDPOINT_TIMEOUT", "not-a-number")
	t.Setenv("PUBLISH_RETRY_MAX_ATTEMPTS", "-2")

	cfg := config.LoadFromEnv()
	assert.Equal(t, 30*time.Second, cfg.EndpointTimeout)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
}
