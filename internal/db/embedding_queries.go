package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horse.fit/linkwire/internal/aimeta"
	"horse.fit/linkwire/internal/embedding"
)

// ListMissingEmbeddings returns never-attempted links first, then the ones
// whose last failed attempt is oldest, so a run of failing items cannot
// starve the rest of the window.
func (p *Pool) ListMissingEmbeddings(ctx context.Context, since time.Time, limit int) ([]embedding.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
SELECT
	link_id,
	CASE WHEN title <> '' THEN title ELSE fallback_title END,
	COALESCE(ai_metadata ->> 'summary', '')
FROM linkwire.links
WHERE embedding IS NULL
  AND is_blocked = false
  AND (title <> '' OR fallback_title <> '')
  AND first_seen_at >= $1
ORDER BY embedding_last_attempt ASC NULLS FIRST, first_seen_at DESC, link_id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query links missing embeddings: %w", err)
	}
	defer rows.Close()

	out := make([]embedding.Candidate, 0, limit)
	for rows.Next() {
		var c embedding.Candidate
		if err := rows.Scan(&c.LinkID, &c.Title, &c.Summary); err != nil {
			return nil, fmt.Errorf("scan embedding candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding candidates: %w", err)
	}
	return out, nil
}

func (p *Pool) SaveEmbedding(ctx context.Context, linkID int64, vector []float64, at time.Time) error {
	if err := embedding.ValidateVector(vector); err != nil {
		return err
	}
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	const q = `
UPDATE linkwire.links
SET embedding = $2::jsonb,
	embedding_generated_at = $3,
	embedding_last_attempt = $3,
	updated_at = $3
WHERE link_id = $1
`
	if _, err := p.Exec(ctx, q, linkID, string(payload), at.UTC()); err != nil {
		return fmt.Errorf("save embedding link_id=%d: %w", linkID, err)
	}
	return nil
}

func (p *Pool) MarkEmbeddingAttempt(ctx context.Context, linkID int64, at time.Time) error {
	const q = `
UPDATE linkwire.links
SET embedding_last_attempt = $2
WHERE link_id = $1
`
	if _, err := p.Exec(ctx, q, linkID, at.UTC()); err != nil {
		return fmt.Errorf("mark embedding attempt link_id=%d: %w", linkID, err)
	}
	return nil
}

// SaveAIMetadata stores validated AI metadata. A changed summary drops the
// embedding so it is regenerated from the new text.
func (p *Pool) SaveAIMetadata(ctx context.Context, linkID int64, meta aimeta.Metadata, at time.Time) (bool, error) {
	payload, err := meta.JSON()
	if err != nil {
		return false, fmt.Errorf("marshal ai metadata: %w", err)
	}
	const q = `
UPDATE linkwire.links
SET embedding = CASE
		WHEN COALESCE(ai_metadata ->> 'summary', '') IS DISTINCT FROM $3 THEN NULL
		ELSE embedding
	END,
	embedding_generated_at = CASE
		WHEN COALESCE(ai_metadata ->> 'summary', '') IS DISTINCT FROM $3 THEN NULL
		ELSE embedding_generated_at
	END,
	embedding_last_attempt = CASE
		WHEN COALESCE(ai_metadata ->> 'summary', '') IS DISTINCT FROM $3 THEN NULL
		ELSE embedding_last_attempt
	END,
	ai_metadata = $2::jsonb,
	updated_at = $4
WHERE link_id = $1
`
	affected, err := p.Exec(ctx, q, linkID, string(payload), meta.Summary, at.UTC())
	if err != nil {
		return false, fmt.Errorf("save ai metadata link_id=%d: %w", linkID, err)
	}
	return affected == 1, nil
}
