// Package config loads and validates process configuration from the
// environment. A .env file is loaded by main before this package runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MarketDataProvider selects the provider ordering for the unified market
// data service.
type MarketDataProvider string

const (
	ProviderAuto   MarketDataProvider = "auto"
	ProviderSchwab MarketDataProvider = "schwab"
	ProviderAlpaca MarketDataProvider = "alpaca"
)

// Config is the umbrella configuration object returned by LoadFromEnv and
// passed to every component at startup.
type Config struct {
	HTTPPort       string
	AllowedOrigins []string

	DatabaseURL string
	CacheURL    string // empty → in-memory cache

	// LLM (OpenAI-compatible)
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	PlannerModel   string
	EmbeddingModel string

	// Provider credentials
	Schwab SchwabConfig
	Alpaca AlpacaConfig
	FRED   KeyConfig
	Reddit RedditConfig
	Tavily KeyConfig

	MarketData MarketDataConfig

	Trading TradingConfig

	Retention RetentionConfig

	// Optional YAML file with report prompt template overrides.
	ReportPromptsFile string
}

// SchwabConfig holds Schwab API credentials. Token files are separated per
// logical app (market vs. trader).
type SchwabConfig struct {
	ClientID     string
	ClientSecret string
	TokenDir     string
}

// AlpacaConfig holds Alpaca API credentials.
type AlpacaConfig struct {
	KeyID     string
	SecretKey string
	BaseURL   string
}

// RedditConfig holds Reddit API credentials.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

// KeyConfig is a single-API-key provider credential.
type KeyConfig struct {
	APIKey string
}

// MarketDataConfig controls the unified market data service.
type MarketDataConfig struct {
	Provider       MarketDataProvider
	MaxAgeDays     int // history staleness window
	AttemptTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
}

// TradingConfig gates the trade-controls stub.
type TradingConfig struct {
	EnableLiveTrading bool
	RequireHITL       bool
	SharedSecret      string
}

// RetentionConfig controls the background cleanup service.
type RetentionConfig struct {
	BrokerEventTTL  time.Duration
	ReportRunTTL    time.Duration
	CleanupInterval time.Duration
}

// LoadFromEnv reads configuration from environment variables, applying
// defaults where a value is optional.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		CacheURL:       os.Getenv("CACHE_URL"),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		ChatModel:      getEnv("CHAT_MODEL", "gpt-4o"),
		PlannerModel:   getEnv("PLANNER_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		Schwab: SchwabConfig{
			ClientID:     os.Getenv("SCHWAB_CLIENT_ID"),
			ClientSecret: os.Getenv("SCHWAB_CLIENT_SECRET"),
			TokenDir:     getEnv("SCHWAB_TOKEN_DIR", "./tokens"),
		},
		Alpaca: AlpacaConfig{
			KeyID:     os.Getenv("ALPACA_KEY_ID"),
			SecretKey: os.Getenv("ALPACA_SECRET_KEY"),
			BaseURL:   getEnv("ALPACA_BASE_URL", "https://data.alpaca.markets"),
		},
		FRED:   KeyConfig{APIKey: os.Getenv("FRED_API_KEY")},
		Tavily: KeyConfig{APIKey: os.Getenv("TAVILY_API_KEY")},
		Reddit: RedditConfig{
			ClientID:     os.Getenv("REDDIT_CLIENT_ID"),
			ClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
			UserAgent:    getEnv("REDDIT_USER_AGENT", "finsight/1.0"),
		},

		MarketData: MarketDataConfig{
			Provider:       MarketDataProvider(getEnv("MARKET_DATA_PROVIDER", "auto")),
			MaxAgeDays:     getEnvInt("HISTORY_MAX_AGE_DAYS", 7),
			AttemptTimeout: getEnvDuration("PROVIDER_ATTEMPT_TIMEOUT", 10*time.Second),
			MaxRetries:     getEnvInt("PROVIDER_MAX_RETRIES", 3),
			BackoffBase:    getEnvDuration("PROVIDER_BACKOFF_BASE", 500*time.Millisecond),
		},

		Trading: TradingConfig{
			EnableLiveTrading: getEnvBool("ENABLE_LIVE_TRADING", false),
			RequireHITL:       getEnvBool("REQUIRE_HITL", true),
			SharedSecret:      os.Getenv("TRADE_SHARED_SECRET"),
		},

		Retention: RetentionConfig{
			BrokerEventTTL:  getEnvDuration("BROKER_EVENT_TTL", 7*24*time.Hour),
			ReportRunTTL:    getEnvDuration("REPORT_RUN_TTL", 30*24*time.Hour),
			CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),
		},

		ReportPromptsFile: os.Getenv("REPORT_PROMPTS_FILE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configuration values that would otherwise fail later
// at an inconvenient moment.
func (c *Config) Validate() error {
	switch c.MarketData.Provider {
	case ProviderAuto, ProviderSchwab, ProviderAlpaca:
	default:
		return fmt.Errorf("invalid MARKET_DATA_PROVIDER %q: must be auto, schwab, or alpaca", c.MarketData.Provider)
	}
	if c.MarketData.MaxAgeDays < 1 {
		return fmt.Errorf("HISTORY_MAX_AGE_DAYS must be >= 1, got %d", c.MarketData.MaxAgeDays)
	}
	if c.MarketData.MaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must be >= 0, got %d", c.MarketData.MaxRetries)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
