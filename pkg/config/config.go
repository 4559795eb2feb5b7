package config

import (
	"os"
	"strconv"
)

// Config holds orchestrator process configuration, loaded from environment
// variables with safe local-dev defaults.
type Config struct {
	GRPCPort int
	HTTPPort int
	LogLevel string

	SoulGRPCURL        string
	SoulAttestationURL string

	ContextTTLSeconds int
	MaxContextTurns   int

	PhalaAIAPIKey  string
	PhalaAIBaseURL string
	PhalaAIModel   string

	RedisAddr string

	StrictAttestation bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		GRPCPort: envInt("GRPC_PORT", 50052),
		HTTPPort: envInt("HTTP_PORT", 8092),
		LogLevel: envString("LOG_LEVEL", "info"),

		SoulGRPCURL:        envString("SOUL_GRPC_URL", "localhost:50051"),
		SoulAttestationURL: envString("SOUL_ATTESTATION_URL", ""),

		ContextTTLSeconds: envInt("CONTEXT_TTL_SECONDS", 3600),
		MaxContextTurns:   envInt("MAX_CONTEXT_TURNS", 50),

		PhalaAIAPIKey:  envString("PHALA_AI_API_KEY", ""),
		PhalaAIBaseURL: envString("PHALA_AI_BASE_URL", "https://api.redpill.ai/v1"),
		PhalaAIModel:   envString("PHALA_AI_MODEL", "phala/llama-3.3-70b-instruct"),

		RedisAddr: envString("REDIS_ADDR", ""),

		StrictAttestation: envBool("STRICT_ATTESTATION", true),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
