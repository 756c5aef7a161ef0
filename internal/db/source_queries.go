package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"horse.fit/linkwire/internal/feeds"
)

const (
	SourceKindRSS        = "rss"
	SourceKindNewsletter = "newsletter"
	SourceKindManual     = "manual"
)

var sourceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// SourceRecord is the registry view of a source.
type SourceRecord struct {
	ID              string     `json:"id" yaml:"id"`
	Name            string     `json:"name" yaml:"name"`
	Kind            string     `json:"kind" yaml:"kind"`
	FeedURL         string     `json:"feedUrl,omitempty" yaml:"feed_url"`
	BaseDomain      string     `json:"baseDomain,omitempty" yaml:"base_domain"`
	IncludeOwnLinks bool       `json:"includeOwnLinks" yaml:"include_own_links"`
	Enabled         *bool      `json:"enabled,omitempty" yaml:"enabled"`
	LastPolledAt    *time.Time `json:"lastPolledAt,omitempty" yaml:"-"`
}

// Normalize validates the record and fills defaults.
func (r SourceRecord) Normalize() (SourceRecord, error) {
	r.ID = strings.ToLower(strings.TrimSpace(r.ID))
	r.Name = strings.TrimSpace(r.Name)
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.FeedURL = strings.TrimSpace(r.FeedURL)
	r.BaseDomain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(r.BaseDomain)), "www.")

	if !sourceIDPattern.MatchString(r.ID) {
		return SourceRecord{}, fmt.Errorf("source id %q must match %s", r.ID, sourceIDPattern)
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Kind == "" {
		r.Kind = SourceKindManual
	}
	switch r.Kind {
	case SourceKindRSS:
		if r.FeedURL == "" {
			return SourceRecord{}, fmt.Errorf("source %q: rss sources need feed_url", r.ID)
		}
	case SourceKindNewsletter, SourceKindManual:
	default:
		return SourceRecord{}, fmt.Errorf("source %q: unknown kind %q", r.ID, r.Kind)
	}
	if r.Enabled == nil {
		enabled := true
		r.Enabled = &enabled
	}
	return r, nil
}

func (p *Pool) UpsertSource(ctx context.Context, record SourceRecord) (SourceRecord, error) {
	normalized, err := record.Normalize()
	if err != nil {
		return SourceRecord{}, err
	}
	const q = `
INSERT INTO linkwire.sources (
	source_id, name, kind, feed_url, base_domain, include_own_links, enabled, created_at, updated_at
)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, now(), now())
ON CONFLICT (source_id) DO UPDATE SET
	name = EXCLUDED.name,
	kind = EXCLUDED.kind,
	feed_url = EXCLUDED.feed_url,
	base_domain = EXCLUDED.base_domain,
	include_own_links = EXCLUDED.include_own_links,
	enabled = EXCLUDED.enabled,
	updated_at = now()
`
	if _, err := p.Exec(
		ctx,
		q,
		normalized.ID,
		normalized.Name,
		normalized.Kind,
		normalized.FeedURL,
		normalized.BaseDomain,
		normalized.IncludeOwnLinks,
		*normalized.Enabled,
	); err != nil {
		return SourceRecord{}, fmt.Errorf("upsert source %q: %w", normalized.ID, err)
	}
	return normalized, nil
}

func (p *Pool) ListSources(ctx context.Context) ([]SourceRecord, error) {
	const q = `
SELECT source_id, name, kind, COALESCE(feed_url, ''), COALESCE(base_domain, ''), include_own_links, enabled, last_polled_at
FROM linkwire.sources
ORDER BY source_id ASC
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	out := make([]SourceRecord, 0)
	for rows.Next() {
		var (
			r       SourceRecord
			enabled bool
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.FeedURL, &r.BaseDomain, &r.IncludeOwnLinks, &enabled, &r.LastPolledAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		r.Enabled = &enabled
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func (p *Pool) ListFeeds(ctx context.Context) ([]feeds.Feed, error) {
	const q = `
SELECT source_id, name, feed_url
FROM linkwire.sources
WHERE kind = 'rss'
  AND enabled = true
  AND COALESCE(feed_url, '') <> ''
ORDER BY last_polled_at ASC NULLS FIRST, source_id ASC
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	out := make([]feeds.Feed, 0)
	for rows.Next() {
		var f feeds.Feed
		if err := rows.Scan(&f.SourceID, &f.Name, &f.URL); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return out, nil
}

func (p *Pool) MarkPolled(ctx context.Context, sourceID string, at time.Time) error {
	const q = `UPDATE linkwire.sources SET last_polled_at = $2, updated_at = $2 WHERE source_id = $1`
	if _, err := p.Exec(ctx, q, sourceID, at.UTC()); err != nil {
		return fmt.Errorf("mark source %q polled: %w", sourceID, err)
	}
	return nil
}
