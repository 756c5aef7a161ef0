package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/linkwire/internal/aimeta"
	"horse.fit/linkwire/internal/blocklist"
	"horse.fit/linkwire/internal/db"
	"horse.fit/linkwire/internal/velocity"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 200
	maxVelocityHours = 24 * 30
	maxMetadataBytes = 64 << 10
)

func (s *Server) handleVelocity(c echo.Context) error {
	if s.svc.Velocity == nil {
		return failUnavailable(c, "Velocity is not configured")
	}

	fieldErrors := map[string]string{}
	hours, err := parsePositiveInt(c.QueryParam("hours"), int(velocity.DefaultWindow/time.Hour), 1, maxVelocityHours)
	if err != nil {
		fieldErrors["hours"] = err.Error()
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		fieldErrors["limit"] = err.Error()
	}
	offset, err := parsePositiveInt(c.QueryParam("offset"), 0, 0, 100_000)
	if err != nil {
		fieldErrors["offset"] = err.Error()
	}
	since, err := parseTimeFilter(c.QueryParam("since"))
	if err != nil {
		fieldErrors["since"] = "must be RFC3339 or YYYY-MM-DD"
	}
	trending := false
	if raw := strings.TrimSpace(c.QueryParam("trending")); raw != "" {
		trending, err = strconv.ParseBool(raw)
		if err != nil {
			fieldErrors["trending"] = "must be a boolean"
		}
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	q := velocity.Query{
		Since:  s.now().Add(-time.Duration(hours) * time.Hour),
		Limit:  limit,
		Offset: offset,
		Filters: velocity.Filters{
			Domain:       strings.TrimSpace(c.QueryParam("domain")),
			SourceID:     strings.TrimSpace(c.QueryParam("source_id")),
			Category:     strings.ToLower(strings.TrimSpace(c.QueryParam("category"))),
			TrendingOnly: trending,
		},
	}
	if since != nil {
		q.Since = *since
	}

	entries, err := s.svc.Velocity.Links(c.Request().Context(), q)
	if err != nil {
		s.logger.Error().Err(err).Time("since", q.Since).Msg("velocity query failed")
		return internalError(c, "Failed to load links")
	}
	return success(c, map[string]any{
		"items":  entries,
		"since":  q.Since,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleAIMetadata(c echo.Context) error {
	linkID, err := parseID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxMetadataBytes+1))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not be read"})
	}
	if len(body) > maxMetadataBytes {
		return failValidation(c, map[string]string{"body": "is too large"})
	}
	meta, err := aimeta.Parse(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	found, err := s.svc.Store.SaveAIMetadata(c.Request().Context(), linkID, *meta, s.now())
	if err != nil {
		s.logger.Error().Err(err).Int64("link_id", linkID).Msg("save ai metadata failed")
		return internalError(c, "Failed to save AI metadata")
	}
	if !found {
		return failNotFound(c, "Link not found")
	}
	return success(c, map[string]any{"linkId": linkID, "aiMetadata": meta})
}

func (s *Server) handleStories(c echo.Context) error {
	fieldErrors := map[string]string{}
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		fieldErrors["limit"] = err.Error()
	}
	offset, err := parsePositiveInt(c.QueryParam("offset"), 0, 0, 100_000)
	if err != nil {
		fieldErrors["offset"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	opts := db.StoryListOptions{
		Status: strings.ToLower(strings.TrimSpace(c.QueryParam("status"))),
		Limit:  limit,
		Offset: offset,
	}
	items, err := s.svc.Store.ListStories(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stories failed")
		return internalError(c, "Failed to load stories")
	}
	return success(c, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"status": opts.Status,
	})
}

func (s *Server) handleStoryDetail(c echo.Context) error {
	storyID, err := parseID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	detail, err := s.svc.Store.GetStoryDetail(c.Request().Context(), storyID, s.now())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Story not found")
		}
		s.logger.Error().Err(err).Int64("story_id", storyID).Msg("query story detail failed")
		return internalError(c, "Failed to load story")
	}
	return success(c, detail)
}

func (s *Server) handleListBlocklist(c echo.Context) error {
	entries, err := s.svc.Store.ListBlocklist(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query blocklist failed")
		return internalError(c, "Failed to load blocklist")
	}
	return success(c, map[string]any{"items": entries})
}

func (s *Server) handleAddBlocklist(c echo.Context) error {
	var entry blocklist.Entry
	if err := c.Bind(&entry); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	normalized, err := entry.Normalize()
	if err != nil {
		return failValidation(c, map[string]string{"pattern": err.Error()})
	}

	stored, created, err := s.svc.Store.AddBlocklistEntry(c.Request().Context(), normalized)
	if err != nil {
		s.logger.Error().Err(err).Str("pattern", normalized.Pattern).Msg("add blocklist entry failed")
		return internalError(c, "Failed to add blocklist entry")
	}
	if created {
		s.logger.Info().Str("type", string(stored.Type)).Str("pattern", stored.Pattern).Msg("blocklist entry added")
		return respondSuccess(c, http.StatusCreated, stored)
	}
	return success(c, stored)
}

func (s *Server) handleDeleteBlocklist(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}
	deleted, err := s.svc.Store.DeleteBlocklistEntry(c.Request().Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("entry_id", id).Msg("delete blocklist entry failed")
		return internalError(c, "Failed to delete blocklist entry")
	}
	if !deleted {
		return failNotFound(c, "Blocklist entry not found")
	}
	return success(c, map[string]any{"id": id, "deleted": true})
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}
	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		return &utc, nil
	}
	return nil, fmt.Errorf("invalid time format")
}
