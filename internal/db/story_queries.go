package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/linkwire/internal/velocity"
)

const storyVelocityWindow = 30 * 24 * time.Hour

// StorySummary is the story list read model.
type StorySummary struct {
	StoryID     int64     `json:"id"`
	StoryUUID   string    `json:"uuid"`
	Title       string    `json:"title"`
	Narrative   *string   `json:"narrative,omitempty"`
	Status      string    `json:"status"`
	FirstLinkAt time.Time `json:"firstLinkAt"`
	LastLinkAt  time.Time `json:"lastLinkAt"`
	LinkCount   int       `json:"linkCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StoryDetail is one story with its member links.
type StoryDetail struct {
	Story StorySummary      `json:"story"`
	Links []StoryLinkMember `json:"links"`
}

type StoryLinkMember struct {
	velocity.Link
	Velocity int `json:"velocity"`
}

type StoryListOptions struct {
	Status string
	Limit  int
	Offset int
}

// ListStories returns stories by most recent member link.
func (p *Pool) ListStories(ctx context.Context, opts StoryListOptions) ([]StorySummary, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	const q = `
SELECT
	s.story_id,
	s.story_uuid::text,
	s.title,
	s.narrative,
	s.status,
	s.first_link_at,
	s.last_link_at,
	COUNT(sl.link_id)::int AS link_count,
	s.created_at,
	s.updated_at
FROM linkwire.stories s
LEFT JOIN linkwire.story_links sl
	ON sl.story_id = s.story_id
WHERE ($1 = '' OR s.status = $1)
GROUP BY s.story_id
ORDER BY s.last_link_at DESC, s.story_id DESC
LIMIT $2 OFFSET $3
`
	rows, err := p.Query(ctx, q, strings.ToLower(strings.TrimSpace(opts.Status)), opts.Limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	items := make([]StorySummary, 0, opts.Limit)
	for rows.Next() {
		item, err := scanStorySummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return items, nil
}

// GetStoryDetail returns ErrNoRows when the story does not exist.
func (p *Pool) GetStoryDetail(ctx context.Context, storyID int64, now time.Time) (*StoryDetail, error) {
	const storyQuery = `
SELECT
	s.story_id,
	s.story_uuid::text,
	s.title,
	s.narrative,
	s.status,
	s.first_link_at,
	s.last_link_at,
	(SELECT COUNT(*)::int FROM linkwire.story_links sl WHERE sl.story_id = s.story_id),
	s.created_at,
	s.updated_at
FROM linkwire.stories s
WHERE s.story_id = $1
`
	header, err := scanStorySummary(p.QueryRow(ctx, storyQuery, storyID).Scan)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, err
	}

	const membersQuery = `
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
	sl.story_id,
	COALESCE(v.velocity, 0)
FROM linkwire.story_links sl
JOIN linkwire.links l
	ON l.link_id = sl.link_id
LEFT JOIN (
	SELECT link_id, COUNT(DISTINCT source_id)::int AS velocity
	FROM linkwire.mentions
	WHERE seen_at >= $2
	GROUP BY link_id
) v ON v.link_id = l.link_id
WHERE sl.story_id = $1
ORDER BY COALESCE(v.velocity, 0) DESC, l.first_seen_at DESC, l.link_id ASC
`
	rows, err := p.Query(ctx, membersQuery, storyID, now.UTC().Add(-storyVelocityWindow))
	if err != nil {
		return nil, fmt.Errorf("query story members: %w", err)
	}
	defer rows.Close()

	members := make([]StoryLinkMember, 0, header.LinkCount)
	for rows.Next() {
		var (
			member        StoryLinkMember
			fallbackTitle string
		)
		if err := rows.Scan(
			&member.ID,
			&member.CanonicalURL,
			&member.Domain,
			&member.Title,
			&fallbackTitle,
			&member.Description,
			&member.ImageURL,
			&member.Author,
			&member.Language,
			&member.PublishedAt,
			&member.FirstSeenAt,
			&member.LastSeenAt,
			&member.StoryID,
			&member.Velocity,
		); err != nil {
			return nil, fmt.Errorf("scan story member: %w", err)
		}
		if strings.TrimSpace(member.Title) == "" {
			member.Title = fallbackTitle
			member.TitleIsFallback = fallbackTitle != ""
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story members: %w", err)
	}

	return &StoryDetail{Story: header, Links: members}, nil
}

func scanStorySummary(scan func(dest ...any) error) (StorySummary, error) {
	var item StorySummary
	if err := scan(
		&item.StoryID,
		&item.StoryUUID,
		&item.Title,
		&item.Narrative,
		&item.Status,
		&item.FirstLinkAt,
		&item.LastLinkAt,
		&item.LinkCount,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		if errors.Is(err, ErrNoRows) {
			return StorySummary{}, ErrNoRows
		}
		return StorySummary{}, fmt.Errorf("scan story: %w", err)
	}
	return item, nil
}
