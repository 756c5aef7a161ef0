package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horse.fit/linkwire/internal/cluster"
)

func (p *Pool) ListCandidates(ctx context.Context, since, velocitySince time.Time) ([]cluster.Candidate, error) {
	const q = `
SELECT
	l.link_id,
	CASE WHEN l.title <> '' THEN l.title ELSE l.fallback_title END,
	l.embedding::text,
	COALESCE(v.velocity, 0),
	l.first_seen_at,
	sl.story_id
FROM linkwire.links l
LEFT JOIN (
	SELECT link_id, COUNT(DISTINCT source_id)::int AS velocity
	FROM linkwire.mentions
	WHERE seen_at >= $2
	GROUP BY link_id
) v ON v.link_id = l.link_id
LEFT JOIN linkwire.story_links sl
	ON sl.link_id = l.link_id
WHERE l.first_seen_at >= $1
  AND l.embedding IS NOT NULL
  AND l.is_blocked = false
  AND (l.title <> '' OR l.fallback_title <> '')
`
	rows, err := p.Query(ctx, q, since.UTC(), velocitySince.UTC())
	if err != nil {
		return nil, fmt.Errorf("query cluster candidates: %w", err)
	}
	defer rows.Close()

	out := make([]cluster.Candidate, 0)
	for rows.Next() {
		var (
			c   cluster.Candidate
			raw string
		)
		if err := rows.Scan(&c.LinkID, &c.Title, &raw, &c.Velocity, &c.FirstSeenAt, &c.StoryID); err != nil {
			return nil, fmt.Errorf("scan cluster candidate: %w", err)
		}
		c.Embedding = []byte(raw)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster candidates: %w", err)
	}
	return out, nil
}

// CreateStory inserts a story and attaches the links that are still free. If
// another run claimed every link first, the story is rolled back.
func (p *Pool) CreateStory(ctx context.Context, title string, firstLinkAt, lastLinkAt time.Time, linkIDs []int64) (int64, int, error) {
	var (
		storyID  int64
		attached int
	)
	err := p.withTx(ctx, func(tx *Tx) error {
		const insertStory = `
INSERT INTO linkwire.stories (title, first_link_at, last_link_at, status, created_at, updated_at)
VALUES ($1, $2, $3, 'active', now(), now())
RETURNING story_id
`
		if err := tx.QueryRow(ctx, insertStory, title, firstLinkAt.UTC(), lastLinkAt.UTC()).Scan(&storyID); err != nil {
			return fmt.Errorf("insert story: %w", err)
		}

		n, err := attachStoryLinksTx(ctx, tx, storyID, linkIDs)
		if err != nil {
			return err
		}
		attached = n
		if attached == 0 {
			return errNothingAttached
		}
		return nil
	})
	if errors.Is(err, errNothingAttached) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return storyID, attached, nil
}

func (p *Pool) ExtendStory(ctx context.Context, storyID int64, firstLinkAt, lastLinkAt time.Time, linkIDs []int64) (int, error) {
	var attached int
	err := p.withTx(ctx, func(tx *Tx) error {
		const widen = `
UPDATE linkwire.stories
SET first_link_at = LEAST(first_link_at, $2),
	last_link_at = GREATEST(last_link_at, $3),
	updated_at = now()
WHERE story_id = $1
`
		if _, err := tx.Exec(ctx, widen, storyID, firstLinkAt.UTC(), lastLinkAt.UTC()); err != nil {
			return fmt.Errorf("widen story %d: %w", storyID, err)
		}
		n, err := attachStoryLinksTx(ctx, tx, storyID, linkIDs)
		if err != nil {
			return err
		}
		attached = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attached, nil
}

var errNothingAttached = errors.New("no links attached")

// attachStoryLinksTx attaches links one by one; a link that already belongs
// to a story is skipped by the link_id uniqueness constraint.
func attachStoryLinksTx(ctx context.Context, tx *Tx, storyID int64, linkIDs []int64) (int, error) {
	const q = `
INSERT INTO linkwire.story_links (story_id, link_id, attached_at)
VALUES ($1, $2, now())
ON CONFLICT DO NOTHING
`
	attached := 0
	for _, linkID := range linkIDs {
		affected, err := tx.Exec(ctx, q, storyID, linkID)
		if err != nil {
			return 0, fmt.Errorf("attach link_id=%d to story %d: %w", linkID, storyID, err)
		}
		attached += int(affected)
	}
	return attached, nil
}
