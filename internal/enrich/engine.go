package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/linkwire/internal/globaltime"
)

const maxErrorLength = 2000

// ErrLeaseLost is returned by stores when a link is no longer in processing,
// typically because its lease expired and another batch reclaimed it.
var ErrLeaseLost = errors.New("enrichment lease lost")

// Claim is a link leased to the current batch (now in processing).
type Claim struct {
	LinkID        int64
	URL           string
	Title         string
	FallbackTitle string
	RetryCount    int
	FirstSeenAt   time.Time
}

// TitleSample is a settled link re-checked by housekeeping.
type TitleSample struct {
	LinkID        int64
	Status        Status
	Title         string
	FallbackTitle string
}

// Outcome is the state a processed claim moves to.
type Outcome struct {
	LinkID         int64
	To             Status
	Source         string
	Metadata       Metadata
	Language       string
	ClearTitle     bool
	FallbackTitle  string
	FallbackSource string
	Blocked        bool
	BlockedReason  BlockedReason
	RetryCount     int
	Error          string
	At             time.Time
}

type Store interface {
	// ReleaseStaleLeases returns processing links attempted before the cutoff to
	// pending, spending one retry on each.
	ReleaseStaleLeases(ctx context.Context, before time.Time) (int64, error)
	// SampleSettledTitles returns a random sample of non-blocked success/fallback links.
	SampleSettledTitles(ctx context.Context, limit int) ([]TitleSample, error)
	// ResetForReenrichment moves a settled link back to pending with zero retries.
	ResetForReenrichment(ctx context.Context, linkID int64, at time.Time) (bool, error)
	// ClaimBatch atomically moves up to limit claimable links below the retry
	// ceiling into processing.
	ClaimBatch(ctx context.Context, limit, maxRetries int, at time.Time) ([]Claim, error)
	// SaveOutcome persists a processed claim; it returns ErrLeaseLost when the
	// link is no longer processing.
	SaveOutcome(ctx context.Context, outcome Outcome) error
}

type Options struct {
	BatchSize     int
	Workers       int
	ItemDelay     time.Duration
	StaleLease    time.Duration
	RecheckSample int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.ItemDelay < 0 {
		o.ItemDelay = 0
	}
	if o.StaleLease <= 0 {
		o.StaleLease = 10 * time.Minute
	}
	if o.RecheckSample < 0 {
		o.RecheckSample = 0
	}
	return o
}

type BatchResult struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Fallback  int `json:"fallback"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	// Housekeeping counters.
	LeasesReleased int `json:"leasesReleased"`
	TitlesReset    int `json:"titlesReset"`
}

type Engine struct {
	store          Store
	provider       Provider
	detectLanguage func(string) string
	opts           Options
	logger         zerolog.Logger
	now            func() time.Time
}

// NewEngine builds an engine. A nil provider turns every batch into a no-op.
func NewEngine(store Store, provider Provider, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		provider: provider,
		opts:     opts.withDefaults(),
		logger:   logger,
		now:      globaltime.UTC,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// WithLanguageDetector sets the function used to tag clean links with a language.
func (e *Engine) WithLanguageDetector(detect func(string) string) *Engine {
	e.detectLanguage = detect
	return e
}

// RunBatch runs housekeeping, claims a batch and processes it. The error is
// non-nil only when the store fails.
func (e *Engine) RunBatch(ctx context.Context) (BatchResult, error) {
	if e == nil || e.store == nil {
		return BatchResult{}, fmt.Errorf("enrichment engine is not initialized")
	}
	if e.provider == nil {
		e.logger.Info().Msg("enrichment skipped: no metadata provider configured")
		return BatchResult{}, nil
	}

	var result BatchResult
	if err := e.housekeeping(ctx, &result); err != nil {
		return result, err
	}

	claims, err := e.store.ClaimBatch(ctx, e.opts.BatchSize, MaxRetries, e.now())
	if err != nil {
		return result, fmt.Errorf("claim enrichment batch: %w", err)
	}
	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].RetryCount != claims[j].RetryCount {
			return claims[i].RetryCount < claims[j].RetryCount
		}
		return claims[i].FirstSeenAt.After(claims[j].FirstSeenAt)
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for _, claim := range claims {
		g.Go(func() error {
			kind, err := e.process(gctx, claim)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Processed++
			switch kind {
			case outcomeSuccess:
				result.Success++
			case outcomeFallback:
				result.Fallback++
			case outcomeBlocked:
				result.Blocked++
			case outcomeFailed:
				result.Failed++
			case outcomeSkipped, outcomeLost:
				result.Skipped++
			}
			mu.Unlock()
			return sleepCtx(gctx, e.opts.ItemDelay)
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	e.logger.Info().
		Int("processed", result.Processed).
		Int("success", result.Success).
		Int("fallback", result.Fallback).
		Int("blocked", result.Blocked).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("leases_released", result.LeasesReleased).
		Int("titles_reset", result.TitlesReset).
		Msg("enrichment batch completed")

	return result, nil
}

func (e *Engine) housekeeping(ctx context.Context, result *BatchResult) error {
	released, err := e.store.ReleaseStaleLeases(ctx, e.now().Add(-e.opts.StaleLease))
	if err != nil {
		return fmt.Errorf("release stale enrichment leases: %w", err)
	}
	result.LeasesReleased = int(released)

	if e.opts.RecheckSample == 0 {
		return nil
	}
	samples, err := e.store.SampleSettledTitles(ctx, e.opts.RecheckSample)
	if err != nil {
		return fmt.Errorf("sample settled titles: %w", err)
	}
	for _, sample := range samples {
		title := usableTitle(sample.Title, sample.FallbackTitle)
		reason, blocked := Classify(title)
		if !blocked {
			continue
		}
		if err := Transition(sample.Status, StatusPending); err != nil {
			continue
		}
		reset, err := e.store.ResetForReenrichment(ctx, sample.LinkID, e.now())
		if err != nil {
			return fmt.Errorf("reset link_id=%d for re-enrichment: %w", sample.LinkID, err)
		}
		if reset {
			result.TitlesReset++
			e.logger.Debug().Int64("link_id", sample.LinkID).Str("reason", string(reason)).Msg("stale garbage title reset to pending")
		}
	}
	return nil
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeFallback
	outcomeBlocked
	outcomeFailed
	outcomeSkipped
	outcomeLost
)

func (e *Engine) process(ctx context.Context, claim Claim) (outcomeKind, error) {
	clearTitle := false
	if title := strings.TrimSpace(claim.Title); title != "" {
		if reason, garbage := Classify(title); garbage {
			clearTitle = true
			e.logger.Debug().Int64("link_id", claim.LinkID).Str("reason", string(reason)).Msg("clearing garbage title before re-enrichment")
		} else {
			return e.save(ctx, outcomeSkipped, Outcome{LinkID: claim.LinkID, To: StatusSuccess, RetryCount: claim.RetryCount})
		}
	}

	res, err := e.provider.FetchMetadata(ctx, claim.URL)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		e.logger.Warn().Err(err).Int64("link_id", claim.LinkID).Str("url", claim.URL).Int("retry_count", claim.RetryCount+1).Msg("enrichment provider failed")
		return e.save(ctx, outcomeFailed, Outcome{
			LinkID:     claim.LinkID,
			To:         StatusPending,
			ClearTitle: clearTitle,
			RetryCount: claim.RetryCount + 1,
			Error:      truncateError(err.Error()),
		})
	}

	switch res.Status {
	case StatusSuccess:
		if reason, blocked := Classify(res.Title); blocked {
			return e.save(ctx, outcomeBlocked, Outcome{
				LinkID:        claim.LinkID,
				To:            StatusSuccess,
				Source:        res.Source,
				Metadata:      Metadata{Title: res.Title},
				Blocked:       true,
				BlockedReason: reason,
				RetryCount:    claim.RetryCount,
			})
		}
		outcome := Outcome{
			LinkID:     claim.LinkID,
			To:         StatusSuccess,
			Source:     res.Source,
			Metadata:   res.Metadata,
			RetryCount: claim.RetryCount,
		}
		outcome.Language = res.Language
		if outcome.Language == "" && e.detectLanguage != nil {
			outcome.Language = e.detectLanguage(strings.TrimSpace(res.Title + "\n" + res.Description))
		}
		return e.save(ctx, outcomeSuccess, outcome)
	case StatusFallback:
		if res.Err != nil {
			e.logger.Warn().Err(res.Err).Int64("link_id", claim.LinkID).Str("url", claim.URL).Int("retry_count", claim.RetryCount+1).Msg("enrichment fetch failed; keeping url fallback title")
			return e.save(ctx, outcomeFailed, Outcome{
				LinkID:         claim.LinkID,
				To:             StatusPending,
				ClearTitle:     clearTitle,
				FallbackTitle:  res.Title,
				FallbackSource: res.Source,
				RetryCount:     claim.RetryCount + 1,
				Error:          truncateError(res.Err.Error()),
			})
		}
		return e.save(ctx, outcomeFallback, Outcome{
			LinkID:         claim.LinkID,
			To:             StatusFallback,
			ClearTitle:     clearTitle,
			FallbackTitle:  res.Title,
			FallbackSource: res.Source,
			RetryCount:     claim.RetryCount + 1,
		})
	default:
		return e.save(ctx, outcomeFailed, Outcome{
			LinkID:     claim.LinkID,
			To:         StatusPending,
			ClearTitle: clearTitle,
			RetryCount: claim.RetryCount + 1,
			Error:      fmt.Sprintf("provider %s returned status %q", res.Source, res.Status),
		})
	}
}

func (e *Engine) save(ctx context.Context, kind outcomeKind, outcome Outcome) (outcomeKind, error) {
	if err := Transition(StatusProcessing, outcome.To); err != nil {
		return 0, err
	}
	outcome.At = e.now()
	if err := e.store.SaveOutcome(ctx, outcome); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			e.logger.Warn().Int64("link_id", outcome.LinkID).Msg("enrichment lease lost before save; result dropped")
			return outcomeLost, nil
		}
		return 0, fmt.Errorf("save enrichment outcome link_id=%d: %w", outcome.LinkID, err)
	}
	return kind, nil
}

func usableTitle(title, fallbackTitle string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return strings.TrimSpace(fallbackTitle)
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
