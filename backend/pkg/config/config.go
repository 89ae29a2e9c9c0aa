package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	apperrors "matchmaker/backend/pkg/errors"
)

// Backend modes
const (
	BackendLive   = "live"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port    string
	Env      string
	Backend  string // live or memory
	LogLevel string // overrides the env's default level when set

	// Postgres (match ledger, personas, responses)
	DatabaseURL string

	// Neo4j (graph index)
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Redis (mirror reconciliation outbox); empty keeps the outbox in memory
	RedisAddr        string
	RedisMirrorQueue string

	// AI
	LiteLLMURL       string
	ModelID          string
	OpenRouterAPIKey string

	// Matching
	PersonaStaleness  time.Duration
	MinCompatibility  float64
	DefaultMatchLimit int
	MatchWorkers      int
	ReconcileInterval time.Duration

	// Observability
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", ""),
		Backend:           strings.ToLower(getEnv("BACKEND", BackendLive)),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		Neo4jURI:          getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:         getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:     getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:     getEnv("NEO4J_DATABASE", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisMirrorQueue:  getEnv("REDIS_MIRROR_QUEUE", "matchmaker:mirror:outbox"),
		LiteLLMURL:        getEnv("LITELLM_URL", ""),
		ModelID:           getEnv("MODEL_ID", "openrouter/anthropic/claude-3.5-sonnet"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		PersonaStaleness:  getEnvDuration("PERSONA_STALENESS", 7*24*time.Hour),
		MinCompatibility:  getEnvFloat("MIN_COMPATIBILITY", 0.6),
		DefaultMatchLimit: getEnvInt("DEFAULT_MATCH_LIMIT", 5),
		MatchWorkers:      getEnvInt("MATCH_WORKERS", 4),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		OTelEnabled:       getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRatio:   getEnvFloat("OTEL_SAMPLER_RATIO", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLive:
		if c.DatabaseURL == "" {
			return apperrors.NewConfigMissingRequired("DATABASE_URL")
		}
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	case BackendMemory:
	default:
		return apperrors.NewConfigValidationFailed("BACKEND",
			fmt.Sprintf("must be %q or %q, got %q", BackendLive, BackendMemory, c.Backend))
	}
	if c.MinCompatibility < 0 || c.MinCompatibility > 1 {
		return apperrors.NewConfigValidationFailed("MIN_COMPATIBILITY", "must be within [0,1]")
	}
	if c.DefaultMatchLimit < 1 {
		return apperrors.NewConfigValidationFailed("DEFAULT_MATCH_LIMIT", "must be positive")
	}
	if c.MatchWorkers < 1 {
		return apperrors.NewConfigValidationFailed("MATCH_WORKERS", "must be positive")
	}
	if c.PersonaStaleness <= 0 {
		return apperrors.NewConfigValidationFailed("PERSONA_STALENESS", "must be positive")
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return apperrors.NewConfigValidationFailed("LOG_LEVEL", err.Error())
		}
	}
	// LiteLLM is optional; without it personas come from the lexicon deriver
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesLLM reports whether persona derivation should go through the LLM
func (c *Config) UsesLLM() bool {
	return c.LiteLLMURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
