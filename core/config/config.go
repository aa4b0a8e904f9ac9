package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel         OTelConfig
	HTTP         HTTPConfig
	Discord      DiscordConfig
	LLM          LLMConfig
	Conversation ConversationConfig
	Context      ContextConfig
	Orchestrator OrchestratorConfig
	Search       SearchConfig
	Fetcher      FetcherConfig
	Source       SourceConfig
	Env          string
	NodeID       int64
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type HTTPConfig struct {
	Port string
}

type DiscordConfig struct {
	Token string
}

type LLMConfig struct {
	Provider  string // "anthropic" or "openai"
	APIKey    string
	BaseURL   string // Optional: for custom endpoints
	Model     string
	MaxTokens int
}

type ConversationConfig struct {
	FollowUpTimeout time.Duration
	MaxFollowUps    int
}

type ContextConfig struct {
	MessageLimit    int
	TokenBudget     int
	PreserveRecent  int
	TokenEstimator  string // "chars" or "tiktoken"
	URLFetchEnabled bool
	URLLookback     int
}

type OrchestratorConfig struct {
	MaxToolRounds        int
	StreamingEnabled     bool
	StreamUpdateInterval time.Duration
}

type SearchConfig struct {
	Enabled     bool
	BraveAPIKey string
}

type FetcherConfig struct {
	RedisURL string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type SourceConfig struct {
	Root string
}

// ServiceType selects which binary is loading configuration.
type ServiceType string

const (
	ServiceTypeBot ServiceType = "bot"
	ServiceTypeCLI ServiceType = "cli"
)

// Load loads configuration from environment variables.
// In development it first reads .env.<service> and falls back to .env.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("PARLEY_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:    getEnv("PARLEY_ENV", "development"),
		NodeID: int64(getEnvInt("NODE_ID", 1)),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "parley"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		HTTP: HTTPConfig{
			Port: getEnv("PORT", "8080"),
		},
		Discord: DiscordConfig{
			Token: getEnv("DISCORD_TOKEN", ""),
		},
		LLM: LLMConfig{
			Provider:  getEnv("LLM_PROVIDER", "anthropic"),
			APIKey:    getEnv("LLM_API_KEY", ""),
			BaseURL:   getEnv("LLM_BASE_URL", ""),
			Model:     getEnv("LLM_MODEL", "claude-sonnet-4-5"),
			MaxTokens: getEnvInt("LLM_MAX_TOKENS", 4096),
		},
		Conversation: ConversationConfig{
			FollowUpTimeout: getEnvDuration("FOLLOWUP_TIMEOUT", 5*time.Minute),
			MaxFollowUps:    getEnvInt("FOLLOWUP_MAX", 5),
		},
		Context: ContextConfig{
			MessageLimit:    getEnvInt("CONTEXT_MESSAGE_LIMIT", 50),
			TokenBudget:     getEnvInt("CONTEXT_TOKEN_BUDGET", 100000),
			PreserveRecent:  getEnvInt("CONTEXT_PRESERVE_RECENT", 5),
			TokenEstimator:  getEnv("TOKEN_ESTIMATOR", "chars"),
			URLFetchEnabled: getEnvBool("URL_FETCH_ENABLED", true),
			URLLookback:     getEnvInt("URL_LOOKBACK", 5),
		},
		Orchestrator: OrchestratorConfig{
			MaxToolRounds:        getEnvInt("MAX_TOOL_ROUNDS", 5),
			StreamingEnabled:     getEnvBool("STREAMING_ENABLED", false),
			StreamUpdateInterval: getEnvDuration("STREAM_UPDATE_INTERVAL", time.Second),
		},
		Search: SearchConfig{
			Enabled:     getEnvBool("WEB_SEARCH_ENABLED", true),
			BraveAPIKey: getEnv("BRAVE_SEARCH_API_KEY", ""),
		},
		Fetcher: FetcherConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			CacheTTL: getEnvDuration("FETCH_CACHE_TTL", 15*time.Minute),
			Timeout:  getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		},
		Source: SourceConfig{
			Root: getEnv("SOURCE_ROOT", ""),
		},
	}

	if serviceType == ServiceTypeBot && cfg.Discord.Token == "" {
		return Config{}, fmt.Errorf("DISCORD_TOKEN is required")
	}

	if !cfg.LLM.Enabled() {
		return Config{}, fmt.Errorf("LLM_API_KEY is required and LLM_PROVIDER must be anthropic or openai")
	}

	if cfg.Context.PreserveRecent < 0 || cfg.Context.MessageLimit <= 0 || cfg.Context.TokenBudget <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_MESSAGE_LIMIT and CONTEXT_TOKEN_BUDGET must be positive")
	}

	if cfg.Orchestrator.MaxToolRounds <= 0 {
		return Config{}, fmt.Errorf("MAX_TOOL_ROUNDS must be positive")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c FetcherConfig) RedisEnabled() bool {
	return c.RedisURL != ""
}

func (c SourceConfig) Enabled() bool {
	return c.Root != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
