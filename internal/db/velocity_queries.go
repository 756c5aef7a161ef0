package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"horse.fit/linkwire/internal/velocity"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ListObservations returns the latest mention per (link, source) since the
// cutoff for links that are unblocked and titled. A source filter keeps links
// that source mentioned in the window but still counts every source.
func (p *Pool) ListObservations(ctx context.Context, since time.Time, filters velocity.Filters) ([]velocity.Observation, error) {
	since = since.UTC()
	builder := psql.
		Select("m.link_id", "m.source_id", "MAX(m.seen_at) AS seen_at", "l.first_seen_at").
		From("linkwire.mentions m").
		Join("linkwire.links l ON l.link_id = m.link_id").
		Where(sq.GtOrEq{"m.seen_at": since}).
		Where(sq.Eq{"l.is_blocked": false}).
		Where(sq.Or{sq.NotEq{"l.title": ""}, sq.NotEq{"l.fallback_title": ""}}).
		GroupBy("m.link_id", "m.source_id", "l.first_seen_at")

	if domain := normalizeDomainFilter(filters.Domain); domain != "" {
		builder = builder.Where(sq.Eq{"l.domain": domain})
	}
	if category := strings.ToLower(strings.TrimSpace(filters.Category)); category != "" {
		builder = builder.Where(sq.Expr("l.ai_metadata ->> 'category' = ?", category))
	}
	if sourceID := strings.TrimSpace(filters.SourceID); sourceID != "" {
		builder = builder.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM linkwire.mentions fm WHERE fm.link_id = m.link_id AND fm.source_id = ? AND fm.seen_at >= ?)",
			sourceID,
			since,
		))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build observation query: %w", err)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	out := make([]velocity.Observation, 0)
	for rows.Next() {
		var obs velocity.Observation
		if err := rows.Scan(&obs.LinkID, &obs.SourceID, &obs.SeenAt, &obs.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

func (p *Pool) GetLinks(ctx context.Context, ids []int64) (map[int64]velocity.Link, error) {
	out := make(map[int64]velocity.Link, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const q = `
SELECT
	l.link_id,
	l.canonical_url,
	l.domain,
	l.title,
	l.fallback_title,
	l.description,
	l.image_url,
	l.author,
	l.language,
	l.published_at,
	l.first_seen_at,
	l.last_seen_at,
	sl.story_id
FROM linkwire.links l
LEFT JOIN linkwire.story_links sl
	ON sl.link_id = l.link_id
WHERE l.link_id = ANY($1)
  AND l.is_blocked = false
`
	rows, err := p.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		link, err := scanLinkRow(rows)
		if err != nil {
			return nil, err
		}
		out[link.ID] = link
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

// scanLinkRow scans the column list shared by GetLinks and story detail.
func scanLinkRow(rows *Rows) (velocity.Link, error) {
	var (
		link          velocity.Link
		fallbackTitle string
	)
	if err := rows.Scan(
		&link.ID,
		&link.CanonicalURL,
		&link.Domain,
		&link.Title,
		&fallbackTitle,
		&link.Description,
		&link.ImageURL,
		&link.Author,
		&link.Language,
		&link.PublishedAt,
		&link.FirstSeenAt,
		&link.LastSeenAt,
		&link.StoryID,
	); err != nil {
		return velocity.Link{}, fmt.Errorf("scan link: %w", err)
	}
	if strings.TrimSpace(link.Title) == "" && strings.TrimSpace(fallbackTitle) != "" {
		link.Title = fallbackTitle
		link.TitleIsFallback = true
	}
	return link, nil
}

func normalizeDomainFilter(raw string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "www.")
}
