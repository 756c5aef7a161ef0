package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderModeLive      = "live"
	ProviderModeSimulated = "simulated"

	EmbeddingProviderHTTP   = "http"
	EmbeddingProviderOpenAI = "openai"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"LW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"LW_DB_MAX_CONNS" default:"8"`

	RedisURL string `envconfig:"REDIS_URL" default:""`

	ProviderMode      string        `envconfig:"PROVIDER_MODE" default:"live"`
	FetchUserAgent    string        `envconfig:"FETCH_USER_AGENT" default:""`
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"12s"`
	FetchMaxRedirects int           `envconfig:"FETCH_MAX_REDIRECTS" default:"10"`

	CloudflareAccountID string        `envconfig:"CLOUDFLARE_ACCOUNT_ID" default:""`
	CloudflareAPIToken  string        `envconfig:"CLOUDFLARE_API_TOKEN" default:""`
	RenderTimeout       time.Duration `envconfig:"RENDER_TIMEOUT" default:"15s"`

	EmbeddingProvider string        `envconfig:"EMBEDDING_PROVIDER" default:"http"`
	EmbeddingEndpoint string        `envconfig:"EMBEDDING_ENDPOINT" default:""`
	EmbeddingModel    string        `envconfig:"EMBEDDING_MODEL" default:""`
	EmbeddingTimeout  time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"15s"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL" default:""`

	EnrichBatchSize    int           `envconfig:"ENRICH_BATCH_SIZE" default:"25"`
	EnrichWorkers      int           `envconfig:"ENRICH_WORKERS" default:"1"`
	EnrichItemDelay    time.Duration `envconfig:"ENRICH_ITEM_DELAY" default:"50ms"`
	EnrichStaleLease   time.Duration `envconfig:"ENRICH_STALE_LEASE" default:"10m"`
	EnrichRecheckLimit int           `envconfig:"ENRICH_RECHECK_SAMPLE" default:"50"`
	EmbedBatchLimit    int           `envconfig:"EMBED_BATCH_LIMIT" default:"100"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.ProviderMode = strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("LW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("LW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("LW_DB_MIN_CONNS (%d) cannot exceed LW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch c.ProviderMode {
	case ProviderModeLive, ProviderModeSimulated:
	default:
		return fmt.Errorf("PROVIDER_MODE must be %q or %q", ProviderModeLive, ProviderModeSimulated)
	}
	switch c.EmbeddingProvider {
	case EmbeddingProviderHTTP, EmbeddingProviderOpenAI:
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be %q or %q", EmbeddingProviderHTTP, EmbeddingProviderOpenAI)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be > 0")
	}
	if c.FetchMaxRedirects < 0 {
		return fmt.Errorf("FETCH_MAX_REDIRECTS must be >= 0")
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("RENDER_TIMEOUT must be > 0")
	}
	if c.EmbeddingTimeout <= 0 {
		return fmt.Errorf("EMBEDDING_TIMEOUT must be > 0")
	}
	if c.EnrichBatchSize < 1 {
		return fmt.Errorf("ENRICH_BATCH_SIZE must be >= 1")
	}
	if c.EnrichWorkers < 1 {
		return fmt.Errorf("ENRICH_WORKERS must be >= 1")
	}
	if c.EnrichItemDelay < 0 {
		return fmt.Errorf("ENRICH_ITEM_DELAY must be >= 0")
	}
	if c.EnrichStaleLease <= 0 {
		return fmt.Errorf("ENRICH_STALE_LEASE must be > 0")
	}
	if c.EnrichRecheckLimit < 0 {
		return fmt.Errorf("ENRICH_RECHECK_SAMPLE must be >= 0")
	}
	if c.EmbedBatchLimit < 1 {
		return fmt.Errorf("EMBED_BATCH_LIMIT must be >= 1")
	}
	return nil
}

// RenderingConfigured reports whether the JS-rendering fetch service has credentials.
func (c *Config) RenderingConfigured() bool {
	if c == nil {
		return false
	}
	return strings.TrimSpace(c.CloudflareAccountID) != "" && strings.TrimSpace(c.CloudflareAPIToken) != ""
}
