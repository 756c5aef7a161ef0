package httpapi

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/linkwire/internal/ingest"
	"horse.fit/linkwire/internal/newsletter"
)

const maxIngestItems = 1000

type ingestRequest struct {
	SourceID string        `json:"sourceId"`
	URLs     []ingest.Item `json:"urls"`
}

type canonicalizeRequest struct {
	URL string `json:"url"`
}

type newsletterRequest struct {
	SourceID string `json:"sourceId"`
	HTML     string `json:"html"`
	BaseURL  string `json:"baseUrl"`
}

func (s *Server) handleIngest(c echo.Context) error {
	if s.svc.Ingest == nil {
		return failUnavailable(c, "Ingest is not configured")
	}
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}

	fieldErrors := map[string]string{}
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceID == "" {
		fieldErrors["sourceId"] = "is required"
	}
	if len(req.URLs) == 0 {
		fieldErrors["urls"] = "must contain at least one url"
	} else if len(req.URLs) > maxIngestItems {
		fieldErrors["urls"] = "must contain at most 1000 urls"
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	return s.ingest(c, req.URLs, req.SourceID)
}

func (s *Server) handleNewsletter(c echo.Context) error {
	if s.svc.Ingest == nil {
		return failUnavailable(c, "Ingest is not configured")
	}
	var req newsletterRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceID == "" {
		return failValidation(c, map[string]string{"sourceId": "is required"})
	}
	if strings.TrimSpace(req.HTML) == "" {
		return failValidation(c, map[string]string{"html": "is required"})
	}

	items, err := newsletter.ExtractLinks(req.HTML, req.BaseURL)
	if err != nil {
		return failValidation(c, map[string]string{"html": err.Error()})
	}
	if len(items) == 0 {
		return success(c, ingest.Result{})
	}
	if len(items) > maxIngestItems {
		items = items[:maxIngestItems]
	}
	return s.ingest(c, items, req.SourceID)
}

func (s *Server) ingest(c echo.Context, items []ingest.Item, sourceID string) error {
	result, err := s.svc.Ingest.Ingest(c.Request().Context(), items, sourceID)
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownSource) {
			return failValidation(c, map[string]string{"sourceId": "is not a registered source"})
		}
		s.logger.Error().Err(err).Str("source_id", sourceID).Int("items", len(items)).Msg("ingest failed")
		return internalError(c, "Ingest failed")
	}
	return success(c, result)
}

func (s *Server) handleCanonicalize(c echo.Context) error {
	if s.svc.Canonicalizer == nil {
		return failUnavailable(c, "Canonicalizer is not configured")
	}
	var req canonicalizeRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	if strings.TrimSpace(req.URL) == "" {
		return failValidation(c, map[string]string{"url": "is required"})
	}
	return success(c, s.svc.Canonicalizer.Canonicalize(c.Request().Context(), req.URL))
}

func (s *Server) handleEnrichmentRun(c echo.Context) error {
	if s.svc.Enrichment == nil {
		return failUnavailable(c, "Enrichment is not configured")
	}
	result, err := s.svc.Enrichment.RunBatch(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("enrichment batch failed")
		return internalError(c, "Enrichment batch failed")
	}
	return success(c, result)
}

func (s *Server) handleEmbeddingsRun(c echo.Context) error {
	if s.svc.Embeddings == nil {
		return failUnavailable(c, "Embeddings are not configured")
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 100, 1, 1000)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	result, err := s.svc.Embeddings.Run(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Int("limit", limit).Msg("embedding run failed")
		return internalError(c, "Embedding run failed")
	}
	return success(c, result)
}

func (s *Server) handleClusteringRun(c echo.Context) error {
	if s.svc.Clustering == nil {
		return failUnavailable(c, "Clustering is not configured")
	}
	result, err := s.svc.Clustering.Run(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("clustering run failed")
		return internalError(c, "Clustering run failed")
	}
	return success(c, result)
}

func (s *Server) handleFeedsPoll(c echo.Context) error {
	if s.svc.Feeds == nil {
		return failUnavailable(c, "Feed polling is not configured")
	}
	result, err := s.svc.Feeds.PollAll(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("feed poll failed")
		return internalError(c, "Feed poll failed")
	}
	return success(c, result)
}
