package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/aimeta"
	"horse.fit/linkwire/internal/blocklist"
	"horse.fit/linkwire/internal/canonical"
	"horse.fit/linkwire/internal/cluster"
	"horse.fit/linkwire/internal/db"
	"horse.fit/linkwire/internal/embedding"
	"horse.fit/linkwire/internal/enrich"
	"horse.fit/linkwire/internal/feeds"
	"horse.fit/linkwire/internal/globaltime"
	"horse.fit/linkwire/internal/ingest"
	"horse.fit/linkwire/internal/velocity"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Store is the read and admin surface the handlers need beyond the stage
// services.
type Store interface {
	Ping(ctx context.Context) error
	ListStories(ctx context.Context, opts db.StoryListOptions) ([]db.StorySummary, error)
	GetStoryDetail(ctx context.Context, storyID int64, now time.Time) (*db.StoryDetail, error)
	ListBlocklist(ctx context.Context) ([]blocklist.Entry, error)
	AddBlocklistEntry(ctx context.Context, entry blocklist.Entry) (blocklist.Entry, bool, error)
	DeleteBlocklistEntry(ctx context.Context, id int64) (bool, error)
	SaveAIMetadata(ctx context.Context, linkID int64, meta aimeta.Metadata, at time.Time) (bool, error)
}

type Ingester interface {
	Ingest(ctx context.Context, items []ingest.Item, sourceID string) (ingest.Result, error)
}

type Canonicalizer interface {
	Canonicalize(ctx context.Context, rawURL string) canonical.Result
}

type EnrichmentRunner interface {
	RunBatch(ctx context.Context) (enrich.BatchResult, error)
}

type EmbeddingRunner interface {
	Run(ctx context.Context, limit int) (embedding.Result, error)
}

type ClusterRunner interface {
	Run(ctx context.Context) (cluster.Result, error)
}

type FeedPoller interface {
	PollAll(ctx context.Context) (feeds.Result, error)
}

type VelocityReader interface {
	Links(ctx context.Context, q velocity.Query) ([]velocity.Entry, error)
}

// Services bundles the stage services behind the API. A nil stage answers 503.
type Services struct {
	Store         Store
	Ingest        Ingester
	Canonicalizer Canonicalizer
	Enrichment    EnrichmentRunner
	Embeddings    EmbeddingRunner
	Clustering    ClusterRunner
	Feeds         FeedPoller
	Velocity      VelocityReader
}

type Server struct {
	svc    Services
	logger zerolog.Logger
	opts   Options
	now    func() time.Time
}

// defaultOptions apply to every zero field. Batch runs are synchronous, so
// the write timeout has to cover a full enrichment batch.
var defaultOptions = Options{
	Host:            "0.0.0.0",
	Port:            8090,
	ReadTimeout:     10 * time.Second,
	WriteTimeout:    5 * time.Minute,
	ShutdownTimeout: 10 * time.Second,
}

func (o Options) withDefaults() Options {
	o.Host = strings.TrimSpace(o.Host)
	if o.Host == "" {
		o.Host = defaultOptions.Host
	}
	if o.Port <= 0 {
		o.Port = defaultOptions.Port
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultOptions.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultOptions.WriteTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultOptions.ShutdownTimeout
	}
	return o
}

func NewServer(svc Services, logger zerolog.Logger, opts Options) *Server {
	return &Server{
		svc:    svc,
		logger: logger,
		opts:   opts.withDefaults(),
		now:    globaltime.UTC,
	}
}

func (s *Server) WithClock(now func() time.Time) *Server {
	if now != nil {
		s.now = now
	}
	return s
}

// Handler builds the echo router with middleware and every route.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	for _, mw := range s.middleware() {
		e.Use(mw)
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)

	api.POST("/ingest", s.handleIngest)
	api.POST("/canonicalize", s.handleCanonicalize)
	api.POST("/inbound/newsletter", s.handleNewsletter)

	api.POST("/enrichment/run", s.handleEnrichmentRun)
	api.POST("/embeddings/run", s.handleEmbeddingsRun)
	api.POST("/clustering/run", s.handleClusteringRun)
	api.POST("/feeds/poll", s.handleFeedsPoll)

	api.GET("/links/velocity", s.handleVelocity)
	api.PUT("/links/:id/ai-metadata", s.handleAIMetadata)

	api.GET("/stories", s.handleStories)
	api.GET("/stories/:id", s.handleStoryDetail)

	api.GET("/blocklist", s.handleListBlocklist)
	api.POST("/blocklist", s.handleAddBlocklist)
	api.DELETE("/blocklist/:id", s.handleDeleteBlocklist)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.svc.Store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	srv := &http.Server{
		Addr:         net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)),
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(drainCtx); err != nil {
			s.logger.Error().Err(err).Msg("api shutdown did not drain in time")
		}
	}()

	s.logger.Info().Str("addr", srv.Addr).Msg("linkwire api started")
	err := e.StartServer(srv)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	<-stopped
	s.logger.Info().Msg("linkwire api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		s.logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled api error")
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := s.svc.Store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		return failUnavailable(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service": "linkwire",
		"time":    s.now(),
	})
}
