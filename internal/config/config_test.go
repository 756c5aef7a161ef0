package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/linkwire")
	t.Setenv("PROVIDER_MODE", " Simulated ")
	t.Setenv("EMBEDDING_PROVIDER", "OPENAI")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProviderMode != ProviderModeSimulated || cfg.EmbeddingProvider != EmbeddingProviderOpenAI {
		t.Fatalf("modes = %q/%q", cfg.ProviderMode, cfg.EmbeddingProvider)
	}
	if cfg.FetchTimeout != 12*time.Second || cfg.EnrichBatchSize != 25 || cfg.EmbedBatchLimit != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RenderingConfigured() {
		t.Fatalf("rendering should not be configured without credentials")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error without DATABASE_URL")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			DatabaseURL:       "postgres://localhost/linkwire",
			DBMinConns:        1,
			DBMaxConns:        8,
			ProviderMode:      ProviderModeLive,
			EmbeddingProvider: EmbeddingProviderHTTP,
			FetchTimeout:      time.Second,
			RenderTimeout:     time.Second,
			EmbeddingTimeout:  time.Second,
			EnrichBatchSize:   25,
			EnrichWorkers:     1,
			EnrichStaleLease:  time.Minute,
			EmbedBatchLimit:   100,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "min over max", mutate: func(c *Config) { c.DBMinConns = 9 }, want: "cannot exceed"},
		{name: "provider mode", mutate: func(c *Config) { c.ProviderMode = "mock" }, want: "PROVIDER_MODE"},
		{name: "embedding provider", mutate: func(c *Config) { c.EmbeddingProvider = "local" }, want: "EMBEDDING_PROVIDER"},
		{name: "workers", mutate: func(c *Config) { c.EnrichWorkers = 0 }, want: "ENRICH_WORKERS"},
		{name: "stale lease", mutate: func(c *Config) { c.EnrichStaleLease = 0 }, want: "ENRICH_STALE_LEASE"},
		{name: "negative delay", mutate: func(c *Config) { c.EnrichItemDelay = -time.Millisecond }, want: "ENRICH_ITEM_DELAY"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestRenderingConfigured(t *testing.T) {
	t.Parallel()

	cfg := &Config{CloudflareAccountID: "acct", CloudflareAPIToken: " "}
	if cfg.RenderingConfigured() {
		t.Fatalf("blank token should not count")
	}
	cfg.CloudflareAPIToken = "token"
	if !cfg.RenderingConfigured() {
		t.Fatalf("expected rendering configured")
	}
	var nilCfg *Config
	if nilCfg.RenderingConfigured() {
		t.Fatalf("nil config should not be configured")
	}
}
