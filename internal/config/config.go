package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment
// variables (SPEC_FULL §6). It is immutable after Load() returns.
type Config struct {
	BindAddr    string
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	// Rate/Budget Gate (C4)
	MaxPerIPPerDay   int
	ExternalDailyCap int
	CostCapMicroUSD  uint64
	IPHashSecret     string

	// Local Model Pool (C2). LocalModelPath is the base URL of the
	// Ollama-compatible inference server each worker calls; LocalModelName
	// is the model tag requested on every generate call.
	LocalPoolSize      int
	LocalQueueCapacity int
	LocalModelPath     string
	LocalModelName     string

	// External Model Client (C3)
	ExternalAPIKey        string
	ExternalModelProvider string // vertex | anthropic | openai
	ExternalModel         string
	GCPProject            string
	VertexAILocation      string
	RedisURL              string

	// Query Pipeline (C5) timeouts, all overridable per Design Note §9
	// item 3/4 (cost table and recency coefficients are versioned
	// configuration, not constants).
	IntentParseTimeoutSeconds     int
	SearchTimeoutSeconds          int
	AnalyzeTimeoutSeconds         int
	FormatTimeoutSeconds          int
	InvocationDeadlineSeconds     int
	ExternalCallTimeoutSeconds    int
	LocalGenerationTimeoutSeconds int
	KeepaliveIntervalSeconds      int

	// Auto-Investigator (C6)
	AutoMaxQueriesDefault int
	AutoDedupeThreshold   float64
}

// Load reads configuration from environment variables. DATABASE_URL is
// always required; IP_HASH_SECRET is required outside "development" since
// rate-limit ip hashing with an empty key would be a deployment mistake.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		BindAddr:    envStr("BIND_ADDR", ":8080"),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		MaxPerIPPerDay:   envInt("MAX_PER_IP_PER_DAY", 30),
		ExternalDailyCap: envInt("EXTERNAL_DAILY_CAP", 200),
		CostCapMicroUSD:  envUint64("COST_CAP_MICRO_USD", 5_000_000),
		IPHashSecret:     os.Getenv("IP_HASH_SECRET"),

		LocalPoolSize:      envInt("LOCAL_POOL_SIZE", 2),
		LocalQueueCapacity: envInt("LOCAL_QUEUE_CAPACITY", 16),
		LocalModelPath:     envStr("LOCAL_MODEL_PATH", "http://localhost:11434"),
		LocalModelName:     envStr("LOCAL_MODEL_NAME", "llama3.1"),

		ExternalAPIKey:        os.Getenv("EXTERNAL_API_KEY"),
		ExternalModelProvider: envStr("EXTERNAL_MODEL_PROVIDER", "vertex"),
		ExternalModel:         envStr("EXTERNAL_MODEL", "gemini-2.5-flash"),
		GCPProject:            envStr("GOOGLE_CLOUD_PROJECT", ""),
		VertexAILocation:      envStr("VERTEX_AI_LOCATION", "us-east4"),
		RedisURL:              os.Getenv("REDIS_URL"),

		IntentParseTimeoutSeconds:     envInt("INTENT_PARSE_TIMEOUT_SECONDS", 8),
		SearchTimeoutSeconds:          envInt("SEARCH_TIMEOUT_SECONDS", 2),
		AnalyzeTimeoutSeconds:         envInt("ANALYZE_TIMEOUT_SECONDS", 60),
		FormatTimeoutSeconds:          envInt("FORMAT_TIMEOUT_SECONDS", 30),
		InvocationDeadlineSeconds:     envInt("INVOCATION_DEADLINE_SECONDS", 120),
		ExternalCallTimeoutSeconds:    envInt("EXTERNAL_CALL_TIMEOUT_SECONDS", 120),
		LocalGenerationTimeoutSeconds: envInt("LOCAL_GENERATION_TIMEOUT_SECONDS", 60),
		KeepaliveIntervalSeconds:      envInt("KEEPALIVE_INTERVAL_SECONDS", 15),

		AutoMaxQueriesDefault: envInt("AUTO_MAX_QUERIES_DEFAULT", 10),
		AutoDedupeThreshold:   envFloat("AUTO_DEDUPE_THRESHOLD", 0.25),
	}

	if cfg.Environment != "development" && cfg.IPHashSecret == "" {
		return nil, fmt.Errorf("config.Load: IP_HASH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envUint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
