package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/blocklist"
	"horse.fit/linkwire/internal/canonical"
	"horse.fit/linkwire/internal/enrich"
	"horse.fit/linkwire/internal/globaltime"
)

const maxContextLength = 1000

// ErrUnknownSource is returned when the source id is not registered.
var ErrUnknownSource = errors.New("unknown source")

type Item struct {
	URL     string `json:"url"`
	Context string `json:"context,omitempty"`
}

type Result struct {
	Total       int `json:"total"`
	New         int `json:"new"`
	Blacklisted int `json:"blacklisted"`
	// Invalid counts URLs that could not be parsed at all.
	Invalid int `json:"invalid"`
	// SelfLinks counts mentions skipped because they point at the source's own domain.
	SelfLinks int `json:"selfLinks"`
	// AlreadyMentioned counts mentions that were repeats within this batch.
	AlreadyMentioned int `json:"alreadyMentioned"`
}

type Source struct {
	ID              string
	Name            string
	BaseDomain      string
	IncludeOwnLinks bool
	Enabled         bool
}

// LinkUpsert carries what canonicalization learned about a URL.
type LinkUpsert struct {
	CanonicalURL string
	OriginalURL  string
	Domain       string
	Title        string
	Description  string
	ImageURL     string
	Author       string
	PublishedAt  *time.Time
	SeenAt       time.Time
}

type Mention struct {
	LinkID   int64
	SourceID string
	BatchID  uuid.UUID
	SeenAt   time.Time
	Context  string
}

type Store interface {
	GetSource(ctx context.Context, id string) (Source, error)
	ListBlocklist(ctx context.Context) ([]blocklist.Entry, error)
	// UpsertLink inserts or refreshes the link keyed by canonical URL and reports
	// whether a new row was created.
	UpsertLink(ctx context.Context, link LinkUpsert) (linkID int64, created bool, err error)
	// InsertMention reports false when the mention already existed for the batch.
	InsertMention(ctx context.Context, mention Mention) (bool, error)
}

type Canonicalizer interface {
	Canonicalize(ctx context.Context, rawURL string) canonical.Result
}

type Service struct {
	store         Store
	canonicalizer Canonicalizer
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(store Store, canonicalizer Canonicalizer, logger zerolog.Logger) *Service {
	return &Service{
		store:         store,
		canonicalizer: canonicalizer,
		logger:        logger,
		now:           globaltime.UTC,
	}
}

// WithClock overrides the clock used for mention timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Ingest records a batch of URLs observed by one source. Per-URL problems are
// counted in the result; only store failures are returned as errors.
func (s *Service) Ingest(ctx context.Context, items []Item, sourceID string) (Result, error) {
	if s == nil || s.store == nil || s.canonicalizer == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return Result{}, fmt.Errorf("source id is required")
	}
	source, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("load source %q: %w", sourceID, err)
	}

	entries, err := s.store.ListBlocklist(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load blocklist: %w", err)
	}
	matcher := blocklist.NewMatcher(entries)
	ownDomain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(source.BaseDomain)), "www.")

	batchID := uuid.New()
	result := Result{Total: len(items)}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		raw := strings.TrimSpace(item.URL)
		if entry, blocked := matcher.Match(raw); blocked {
			result.Blacklisted++
			s.logger.Debug().Str("url", raw).Str("pattern", entry.Pattern).Msg("url blocklisted")
			continue
		}

		canon := s.canonicalizer.Canonicalize(ctx, raw)
		if canon.CanonicalURL == "" {
			result.Invalid++
			s.logger.Warn().Str("url", raw).Str("error", canon.Error).Msg("skipping malformed url")
			continue
		}
		if canon.Status == canonical.StatusFailed {
			s.logger.Debug().Str("url", raw).Str("error", canon.Error).Msg("canonicalization degraded to local normalization")
		}

		if entry, blocked := matcher.Match(canon.CanonicalURL); blocked {
			result.Blacklisted++
			s.logger.Debug().Str("url", canon.CanonicalURL).Str("pattern", entry.Pattern).Msg("canonical url blocklisted")
			continue
		}

		if !source.IncludeOwnLinks && ownDomain != "" && isOwnDomain(canon.Domain, ownDomain) {
			result.SelfLinks++
			continue
		}

		// A challenge or error page title must not settle the link as enriched.
		title := canon.Title
		if enrich.IsGarbageTitle(title) {
			title = ""
		}

		seenAt := s.now()
		linkID, created, err := s.store.UpsertLink(ctx, LinkUpsert{
			CanonicalURL: canon.CanonicalURL,
			OriginalURL:  raw,
			Domain:       canon.Domain,
			Title:        title,
			Description:  canon.Description,
			ImageURL:     canon.ImageURL,
			Author:       canon.Author,
			PublishedAt:  canon.PublishedAt,
			SeenAt:       seenAt,
		})
		if err != nil {
			return result, fmt.Errorf("upsert link %q: %w", canon.CanonicalURL, err)
		}
		if created {
			result.New++
		}

		inserted, err := s.store.InsertMention(ctx, Mention{
			LinkID:   linkID,
			SourceID: source.ID,
			BatchID:  batchID,
			SeenAt:   seenAt,
			Context:  clip(item.Context, maxContextLength),
		})
		if err != nil {
			return result, fmt.Errorf("insert mention link_id=%d: %w", linkID, err)
		}
		if !inserted {
			result.AlreadyMentioned++
		}
	}

	s.logger.Info().
		Str("source_id", source.ID).
		Str("batch_id", batchID.String()).
		Int("total", result.Total).
		Int("new", result.New).
		Int("blacklisted", result.Blacklisted).
		Int("invalid", result.Invalid).
		Int("self_links", result.SelfLinks).
		Int("already_mentioned", result.AlreadyMentioned).
		Msg("ingest batch completed")

	return result, nil
}

func isOwnDomain(domain, own string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	return domain == own || strings.HasSuffix(domain, "."+own)
}

func clip(value string, maxRunes int) string {
	trimmed := strings.TrimSpace(value)
	runes := []rune(trimmed)
	if len(runes) <= maxRunes {
		return trimmed
	}
	return string(runes[:maxRunes])
}
