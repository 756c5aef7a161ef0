package db

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/linkwire/internal/blocklist"
	"horse.fit/linkwire/internal/ingest"
)

func (p *Pool) GetSource(ctx context.Context, id string) (ingest.Source, error) {
	const q = `
SELECT source_id, name, COALESCE(base_domain, ''), include_own_links, enabled
FROM linkwire.sources
WHERE source_id = $1
`
	var src ingest.Source
	err := p.QueryRow(ctx, q, strings.TrimSpace(id)).Scan(
		&src.ID,
		&src.Name,
		&src.BaseDomain,
		&src.IncludeOwnLinks,
		&src.Enabled,
	)
	if IsNoRows(err) {
		return ingest.Source{}, fmt.Errorf("%w: %s", ingest.ErrUnknownSource, id)
	}
	if err != nil {
		return ingest.Source{}, fmt.Errorf("query source %q: %w", id, err)
	}
	return src, nil
}

// UpsertLink inserts a link or refreshes last_seen_at on the existing row.
// Metadata only fills fields that are still empty. New links with a title are
// settled as success; the rest wait for enrichment.
func (p *Pool) UpsertLink(ctx context.Context, link ingest.LinkUpsert) (int64, bool, error) {
	const q = `
INSERT INTO linkwire.links (
	canonical_url,
	original_url,
	domain,
	title,
	description,
	image_url,
	author,
	published_at,
	enrichment_status,
	first_seen_at,
	last_seen_at,
	created_at,
	updated_at
)
VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	CASE WHEN $4 <> '' THEN 'success' ELSE 'pending' END,
	$9, $9, $9, $9
)
ON CONFLICT (canonical_url) DO UPDATE SET
	last_seen_at = GREATEST(linkwire.links.last_seen_at, EXCLUDED.last_seen_at),
	title = CASE WHEN linkwire.links.title = '' THEN EXCLUDED.title ELSE linkwire.links.title END,
	description = CASE WHEN linkwire.links.description = '' THEN EXCLUDED.description ELSE linkwire.links.description END,
	image_url = CASE WHEN linkwire.links.image_url = '' THEN EXCLUDED.image_url ELSE linkwire.links.image_url END,
	author = CASE WHEN linkwire.links.author = '' THEN EXCLUDED.author ELSE linkwire.links.author END,
	published_at = COALESCE(linkwire.links.published_at, EXCLUDED.published_at),
	domain = CASE WHEN linkwire.links.domain = '' THEN EXCLUDED.domain ELSE linkwire.links.domain END,
	updated_at = EXCLUDED.updated_at
RETURNING link_id, (xmax = 0) AS inserted
`
	var (
		linkID   int64
		inserted bool
	)
	err := p.QueryRow(
		ctx,
		q,
		link.CanonicalURL,
		link.OriginalURL,
		link.Domain,
		strings.TrimSpace(link.Title),
		strings.TrimSpace(link.Description),
		strings.TrimSpace(link.ImageURL),
		strings.TrimSpace(link.Author),
		link.PublishedAt,
		link.SeenAt.UTC(),
	).Scan(&linkID, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert link: %w", err)
	}
	return linkID, inserted, nil
}

// InsertMention reports false when the (link, source, batch) mention exists.
func (p *Pool) InsertMention(ctx context.Context, mention ingest.Mention) (bool, error) {
	const q = `
INSERT INTO linkwire.mentions (link_id, source_id, batch_id, seen_at, context, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $4)
ON CONFLICT (link_id, source_id, batch_id) DO NOTHING
`
	affected, err := p.Exec(
		ctx,
		q,
		mention.LinkID,
		mention.SourceID,
		mention.BatchID.String(),
		mention.SeenAt.UTC(),
		mention.Context,
	)
	if err != nil {
		return false, fmt.Errorf("insert mention: %w", err)
	}
	return affected == 1, nil
}

func (p *Pool) ListBlocklist(ctx context.Context) ([]blocklist.Entry, error) {
	const q = `
SELECT entry_id, entry_type, pattern
FROM linkwire.blocklist_entries
ORDER BY entry_id ASC
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query blocklist: %w", err)
	}
	defer rows.Close()

	entries := make([]blocklist.Entry, 0)
	for rows.Next() {
		var (
			entry     blocklist.Entry
			entryType string
		)
		if err := rows.Scan(&entry.ID, &entryType, &entry.Pattern); err != nil {
			return nil, fmt.Errorf("scan blocklist entry: %w", err)
		}
		entry.Type = blocklist.EntryType(entryType)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocklist: %w", err)
	}
	return entries, nil
}

// AddBlocklistEntry stores a normalized entry. Re-adding an existing pattern
// returns the existing row.
func (p *Pool) AddBlocklistEntry(ctx context.Context, entry blocklist.Entry) (blocklist.Entry, bool, error) {
	normalized, err := entry.Normalize()
	if err != nil {
		return blocklist.Entry{}, false, err
	}

	const q = `
WITH inserted AS (
	INSERT INTO linkwire.blocklist_entries (entry_type, pattern)
	VALUES ($1, $2)
	ON CONFLICT (entry_type, pattern) DO NOTHING
	RETURNING entry_id, true AS created
)
SELECT entry_id, created FROM inserted
UNION ALL
SELECT entry_id, false FROM linkwire.blocklist_entries
WHERE entry_type = $1 AND pattern = $2
LIMIT 1
`
	var created bool
	if err := p.QueryRow(ctx, q, string(normalized.Type), normalized.Pattern).Scan(&normalized.ID, &created); err != nil {
		return blocklist.Entry{}, false, fmt.Errorf("insert blocklist entry: %w", err)
	}
	return normalized, created, nil
}

func (p *Pool) DeleteBlocklistEntry(ctx context.Context, id int64) (bool, error) {
	affected, err := p.Exec(ctx, `DELETE FROM linkwire.blocklist_entries WHERE entry_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete blocklist entry %d: %w", id, err)
	}
	return affected > 0, nil
}
