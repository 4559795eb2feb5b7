package config_test

import (
	"testing"

	"github.com/ghostpay/brain/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GRPC_PORT", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SOUL_GRPC_URL", "")
	t.Setenv("CONTEXT_TTL_SECONDS", "")
	t.Setenv("STRICT_ATTESTATION", "")

	cfg := config.Load()

	assert.Equal(t, 50052, cfg.GRPCPort)
	assert.Equal(t, 8092, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Contains(t, cfg.SoulGRPCURL, "localhost")
	assert.Equal(t, 3600, cfg.ContextTTLSeconds)
	assert.True(t, cfg.StrictAttestation)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GRPC_PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SOUL_GRPC_URL", "soul.internal:7400")
	t.Setenv("CONTEXT_TTL_SECONDS", "600")
	t.Setenv("MAX_CONTEXT_TURNS", "10")
	t.Setenv("STRICT_ATTESTATION", "false")

	cfg := config.Load()

	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "soul.internal:7400", cfg.SoulGRPCURL)
	assert.Equal(t, 600, cfg.ContextTTLSeconds)
	assert.Equal(t, 10, cfg.MaxContextTurns)
	assert.False(t, cfg.StrictAttestation)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("GRPC_PORT", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, 50052, cfg.GRPCPort)
}
