package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/canonical"
	"horse.fit/linkwire/internal/cli"
	"horse.fit/linkwire/internal/cluster"
	"horse.fit/linkwire/internal/config"
	"horse.fit/linkwire/internal/db"
	"horse.fit/linkwire/internal/embedding"
	"horse.fit/linkwire/internal/enrich"
	"horse.fit/linkwire/internal/feeds"
	"horse.fit/linkwire/internal/ingest"
	"horse.fit/linkwire/internal/langdetect"
	"horse.fit/linkwire/internal/logging"
	"horse.fit/linkwire/internal/reader"
	"horse.fit/linkwire/internal/runlock"
	"horse.fit/linkwire/internal/velocity"
)

// providers holds the capabilities selected from configuration at startup.
// Stage services receive them explicitly and never look at the environment.
type providers struct {
	canonicalizer *canonical.Canonicalizer
	enrichChain   enrich.Provider
	embedder      embedding.Embedder
}

func buildProviders(cfg *config.Config, logger zerolog.Logger) (*providers, error) {
	simulated := cfg.ProviderMode == config.ProviderModeSimulated

	p := &providers{
		canonicalizer: canonical.New(canonical.Options{
			Offline:      simulated,
			Timeout:      cfg.FetchTimeout,
			MaxRedirects: cfg.FetchMaxRedirects,
			UserAgent:    cfg.FetchUserAgent,
		}, logging.Component(logger, "canonical")),
	}

	if simulated {
		p.enrichChain = enrich.NewChain(cfg.FetchTimeout, enrich.SimulatedProvider{})
		p.embedder = embedding.NewHashEmbedder(0)
		logger.Info().Msg("provider mode is simulated; no outbound fetches or embedding calls")
		return p, nil
	}

	chain := []enrich.Provider{
		enrich.NewDirectProvider(reader.FetchOptions{
			Timeout:      cfg.FetchTimeout,
			MaxRedirects: cfg.FetchMaxRedirects,
			UserAgent:    cfg.FetchUserAgent,
		}),
	}
	if cfg.RenderingConfigured() {
		chain = append(chain, enrich.NewRenderProvider(cfg.CloudflareAccountID, cfg.CloudflareAPIToken, cfg.RenderTimeout))
	}
	chain = append(chain, enrich.URLSlugProvider{})
	p.enrichChain = enrich.NewChain(cfg.FetchTimeout+cfg.RenderTimeout, chain...)

	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			logger.Warn().Msg("OPENAI_API_KEY is not set; embedding generation is disabled")
			break
		}
		embedder, err := embedding.NewOpenAIEmbedder(embedding.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.EmbeddingTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build openai embedder: %w", err)
		}
		p.embedder = embedder
	default:
		if strings.TrimSpace(cfg.EmbeddingEndpoint) == "" {
			logger.Warn().Msg("EMBEDDING_ENDPOINT is not set; embedding generation is disabled")
			break
		}
		p.embedder = embedding.NewHTTPEmbedder(embedding.HTTPOptions{
			Endpoint: cfg.EmbeddingEndpoint,
			Model:    cfg.EmbeddingModel,
			Timeout:  cfg.EmbeddingTimeout,
		})
	}
	return p, nil
}

// services are the stage services wired to one database pool.
type services struct {
	ingest     *ingest.Service
	enrichment *enrich.Engine
	embeddings *embedding.Generator
	clustering *cluster.Clusterer
	feeds      *feeds.Poller
	velocity   *velocity.Scorer
}

func newServices(cfg *config.Config, pool *db.Pool, prov *providers, logger zerolog.Logger) *services {
	ingestSvc := ingest.NewService(pool, prov.canonicalizer, logging.Component(logger, "ingest"))
	engine := enrich.NewEngine(pool, prov.enrichChain, enrich.Options{
		BatchSize:     cfg.EnrichBatchSize,
		Workers:       cfg.EnrichWorkers,
		ItemDelay:     cfg.EnrichItemDelay,
		StaleLease:    cfg.EnrichStaleLease,
		RecheckSample: cfg.EnrichRecheckLimit,
	}, logging.Component(logger, "enrich")).WithLanguageDetector(langdetect.Detect)

	return &services{
		ingest:     ingestSvc,
		enrichment: engine,
		embeddings: embedding.NewGenerator(pool, prov.embedder, logging.Component(logger, "embedding")),
		clustering: cluster.NewClusterer(pool, logging.Component(logger, "cluster")),
		feeds:      feeds.NewPoller(pool, ingestSvc, cfg.FetchTimeout, logging.Component(logger, "feeds")),
		velocity:   velocity.NewScorer(pool, logging.Component(logger, "velocity")),
	}
}

// runtime is everything a database-backed command needs.
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *db.Pool
	providers *providers
	services  *services
}

func (r *runtime) Close() {
	if r != nil && r.pool != nil {
		_ = r.pool.Close()
	}
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	envFile := ""
	if envLoader != nil {
		loaded, err := envLoader.Load()
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		envFile = loaded
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	if envFile != "" {
		logger.Debug().Str("path", envFile).Msg("loaded env file")
	}
	return cfg, logger, nil
}

// openRuntime loads configuration, connects to the database and wires the
// stage services.
func openRuntime(envLoader *cli.EnvLoader, connectTimeout time.Duration) (*runtime, error) {
	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		return nil, err
	}

	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logging.Component(logger, "db"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	prov, err := buildProviders(cfg, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		providers: prov,
		services:  newServices(cfg, pool, prov, logger),
	}, nil
}

// newLocker returns a Redis run lock when REDIS_URL is set and a no-op lock
// otherwise.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (runlock.Locker, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info().Msg("REDIS_URL is not set; run locks are process-local")
		return runlock.Noop{}, nil
	}
	locker, err := runlock.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis run lock: %w", err)
	}
	return locker, nil
}
