package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/linkwire/internal/enrich"
)

// ReleaseStaleLeases counts an expired lease as a failed attempt so a URL
// that hangs the worker still reaches the retry ceiling.
func (p *Pool) ReleaseStaleLeases(ctx context.Context, before time.Time) (int64, error) {
	const q = `
UPDATE linkwire.links
SET enrichment_status = 'pending',
	enrichment_retry_count = enrichment_retry_count + 1,
	enrichment_error = 'enrichment lease expired',
	updated_at = now()
WHERE enrichment_status = 'processing'
  AND (enrichment_last_attempt IS NULL OR enrichment_last_attempt < $1)
`
	affected, err := p.Exec(ctx, q, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("release stale leases: %w", err)
	}
	return affected, nil
}

func (p *Pool) SampleSettledTitles(ctx context.Context, limit int) ([]enrich.TitleSample, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
SELECT link_id, enrichment_status, title, fallback_title
FROM linkwire.links
WHERE enrichment_status IN ('success', 'fallback')
  AND is_blocked = false
  AND (title <> '' OR fallback_title <> '')
ORDER BY random()
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sample settled titles: %w", err)
	}
	defer rows.Close()

	samples := make([]enrich.TitleSample, 0, limit)
	for rows.Next() {
		var (
			sample enrich.TitleSample
			status string
		)
		if err := rows.Scan(&sample.LinkID, &status, &sample.Title, &sample.FallbackTitle); err != nil {
			return nil, fmt.Errorf("scan title sample: %w", err)
		}
		sample.Status = enrich.Status(status)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate title samples: %w", err)
	}
	return samples, nil
}

// ResetForReenrichment clears a stale bad title and puts the link back in the
// queue with a fresh retry budget.
func (p *Pool) ResetForReenrichment(ctx context.Context, linkID int64, at time.Time) (bool, error) {
	const q = `
UPDATE linkwire.links
SET enrichment_status = 'pending',
	enrichment_retry_count = 0,
	enrichment_error = NULL,
	title = '',
	fallback_title = '',
	fallback_title_source = '',
	updated_at = $2
WHERE link_id = $1
  AND enrichment_status IN ('success', 'fallback')
  AND is_blocked = false
`
	affected, err := p.Exec(ctx, q, linkID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("reset link_id=%d: %w", linkID, err)
	}
	return affected == 1, nil
}

// ClaimBatch moves claimable links into processing. SKIP LOCKED keeps
// concurrent batches from claiming the same rows.
func (p *Pool) ClaimBatch(ctx context.Context, limit, maxRetries int, at time.Time) ([]enrich.Claim, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
WITH candidates AS (
	SELECT link_id
	FROM linkwire.links
	WHERE enrichment_status IN ('pending', 'fallback')
	  AND enrichment_retry_count < $2
	  AND is_blocked = false
	ORDER BY enrichment_retry_count ASC, first_seen_at DESC, link_id DESC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE linkwire.links l
SET enrichment_status = 'processing',
	enrichment_last_attempt = $3,
	updated_at = $3
FROM candidates c
WHERE l.link_id = c.link_id
RETURNING
	l.link_id,
	l.canonical_url,
	l.title,
	l.fallback_title,
	l.enrichment_retry_count,
	l.first_seen_at
`
	rows, err := p.Query(ctx, q, limit, maxRetries, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("claim enrichment batch: %w", err)
	}
	defer rows.Close()

	claims := make([]enrich.Claim, 0, limit)
	for rows.Next() {
		var claim enrich.Claim
		if err := rows.Scan(
			&claim.LinkID,
			&claim.URL,
			&claim.Title,
			&claim.FallbackTitle,
			&claim.RetryCount,
			&claim.FirstSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

// SaveOutcome writes a processed claim. Empty metadata fields keep their
// stored values unless the outcome asks for the title to be cleared.
func (p *Pool) SaveOutcome(ctx context.Context, outcome enrich.Outcome) error {
	const q = `
UPDATE linkwire.links
SET enrichment_status = $2,
	enrichment_source = CASE WHEN $3 <> '' THEN $3 ELSE enrichment_source END,
	title = CASE WHEN $4 <> '' THEN $4 WHEN $5 THEN '' ELSE title END,
	description = CASE WHEN $6 <> '' THEN $6 ELSE description END,
	image_url = CASE WHEN $7 <> '' THEN $7 ELSE image_url END,
	author = CASE WHEN $8 <> '' THEN $8 ELSE author END,
	published_at = COALESCE($9, published_at),
	language = CASE WHEN $10 <> '' THEN $10 ELSE language END,
	fallback_title = CASE WHEN $11 <> '' THEN $11 ELSE fallback_title END,
	fallback_title_source = CASE WHEN $11 <> '' THEN $12 ELSE fallback_title_source END,
	is_blocked = $13,
	blocked_reason = NULLIF($14, ''),
	enrichment_retry_count = $15,
	enrichment_error = NULLIF($16, ''),
	enrichment_last_attempt = $17,
	updated_at = $17
WHERE link_id = $1
  AND enrichment_status = 'processing'
`
	affected, err := p.Exec(
		ctx,
		q,
		outcome.LinkID,
		string(outcome.To),
		outcome.Source,
		outcome.Metadata.Title,
		outcome.ClearTitle,
		outcome.Metadata.Description,
		outcome.Metadata.ImageURL,
		outcome.Metadata.Author,
		outcome.Metadata.PublishedAt,
		outcome.Language,
		outcome.FallbackTitle,
		outcome.FallbackSource,
		outcome.Blocked,
		string(outcome.BlockedReason),
		outcome.RetryCount,
		outcome.Error,
		outcome.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save enrichment outcome: %w", err)
	}
	if affected == 0 {
		return enrich.ErrLeaseLost
	}
	return nil
}
