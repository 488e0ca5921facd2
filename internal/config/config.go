package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and the enrichment worker.
// It is resolved once at startup and passed explicitly to constructors.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string

	DatabaseURL string

	// LLMProvider selects the enrichment backend: "" (disabled), "openai"
	// or "anthropic".
	LLMProvider      string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	LLMModel         string
	LLMTimeoutMS     int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisRetrySet string
	RedisGroup    string
	RedisConsumer string

	EnrichMaxRetries       int
	EnrichRetryBaseDelayMS int

	SlackWebhookURL string

	RateLimitRPS   float64
	RateLimitBurst int

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:          getEnv("API_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		LLMProvider:      strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ""))),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		LLMModel:         getEnv("LLM_MODEL", ""),
		LLMTimeoutMS:     getEnvInt("LLM_TIMEOUT_MS", 30000),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "issue_enrich"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "issue_enrich_dlq"),
		RedisRetrySet: getEnv("REDIS_RETRY_SET", "issue_enrich_retry"),
		RedisGroup:    getEnv("REDIS_GROUP", "issue_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "worker-1"),

		EnrichMaxRetries:       getEnvInt("ENRICH_MAX_RETRIES", 3),
		EnrichRetryBaseDelayMS: getEnvInt("ENRICH_RETRY_BASE_DELAY_MS", 60000),

		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
