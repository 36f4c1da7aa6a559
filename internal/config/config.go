// Package config loads service configuration from the environment. All
// settings have working defaults so the service boots with no environment at
// all (in-memory store, static LLM provider).
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable of the service.
type Config struct {
	HTTPAddr string

	MongoURI string
	MongoDB  string

	SchemaChannel     string
	InitSchemaPath    string
	InitSchemaOnStart bool

	SimilarityThreshold float64

	SSEPingInterval time.Duration
	SSEBufferMaxLen int
	SSEBufferTTL    time.Duration

	IdempotencyTTL      time.Duration
	IdempotencyCacheMax int

	LLMProvider    string
	LLMTimeout     time.Duration
	LLMRetries     int
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	AnthropicKey   string
	AnthropicModel string

	MessagesRatePerMinute int
	MessageTextMaxLen     int
	MaxJSONSize           int64

	AuthToken string
}

// Load reads configuration from environment variables, applying the
// documented defaults for anything unset.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB", "dslhub")
	v.SetDefault("SCHEMA_CHANNEL", "stable")
	v.SetDefault("INIT_SCHEMA_PATH", "")
	v.SetDefault("INIT_SCHEMA_ON_START", true)
	v.SetDefault("SIMILARITY_THRESHOLD", 0.75)
	v.SetDefault("SSE_PING_INTERVAL", 15)
	v.SetDefault("SSE_BUFFER_MAXLEN", 500)
	v.SetDefault("SSE_BUFFER_TTL_SEC", 300)
	v.SetDefault("IDEMPOTENCY_TTL_SEC", 300)
	v.SetDefault("IDEMPOTENCY_CACHE_MAX", 1000)
	v.SetDefault("LLM_PROVIDER", "static")
	v.SetDefault("LLM_TIMEOUT", 30)
	v.SetDefault("LLM_RETRIES", 3)
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	v.SetDefault("MESSAGES_RATE_PER_MINUTE", 30)
	v.SetDefault("MESSAGE_TEXT_MAX_LEN", 4000)
	v.SetDefault("MAX_JSON_SIZE", 1<<20)
	v.SetDefault("AUTH_TOKEN", "")

	cfg := Config{
		HTTPAddr:              v.GetString("HTTP_ADDR"),
		MongoURI:              v.GetString("MONGO_URI"),
		MongoDB:               v.GetString("MONGO_DB"),
		SchemaChannel:         v.GetString("SCHEMA_CHANNEL"),
		InitSchemaPath:        v.GetString("INIT_SCHEMA_PATH"),
		InitSchemaOnStart:     v.GetBool("INIT_SCHEMA_ON_START"),
		SimilarityThreshold:   v.GetFloat64("SIMILARITY_THRESHOLD"),
		SSEPingInterval:       time.Duration(v.GetInt("SSE_PING_INTERVAL")) * time.Second,
		SSEBufferMaxLen:       v.GetInt("SSE_BUFFER_MAXLEN"),
		SSEBufferTTL:          time.Duration(v.GetInt("SSE_BUFFER_TTL_SEC")) * time.Second,
		IdempotencyTTL:        time.Duration(v.GetInt("IDEMPOTENCY_TTL_SEC")) * time.Second,
		IdempotencyCacheMax:   v.GetInt("IDEMPOTENCY_CACHE_MAX"),
		LLMProvider:           v.GetString("LLM_PROVIDER"),
		LLMTimeout:            time.Duration(v.GetInt("LLM_TIMEOUT")) * time.Second,
		LLMRetries:            v.GetInt("LLM_RETRIES"),
		OpenAIAPIKey:          v.GetString("OPENAI_API_KEY"),
		OpenAIModel:           v.GetString("OPENAI_MODEL"),
		OpenAIBaseURL:         v.GetString("OPENAI_BASE_URL"),
		AnthropicKey:          v.GetString("ANTHROPIC_API_KEY"),
		AnthropicModel:        v.GetString("ANTHROPIC_MODEL"),
		MessagesRatePerMinute: v.GetInt("MESSAGES_RATE_PER_MINUTE"),
		MessageTextMaxLen:     v.GetInt("MESSAGE_TEXT_MAX_LEN"),
		MaxJSONSize:           v.GetInt64("MAX_JSON_SIZE"),
		AuthToken:             v.GetString("AUTH_TOKEN"),
	}
	return cfg, nil
}
