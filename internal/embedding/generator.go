package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
)

const (
	DefaultWindow     = 7 * 24 * time.Hour
	DefaultBatchLimit = 100
	requestChunkSize  = 32
)

// Candidate is a recent, unblocked, titled link without an embedding.
type Candidate struct {
	LinkID  int64
	Title   string
	Summary string
}

type Store interface {
	ListMissingEmbeddings(ctx context.Context, since time.Time, limit int) ([]Candidate, error)
	SaveEmbedding(ctx context.Context, linkID int64, vector []float64, at time.Time) error
	// MarkEmbeddingAttempt records a failed or skipped attempt so the link
	// moves behind untried candidates.
	MarkEmbeddingAttempt(ctx context.Context, linkID int64, at time.Time) error
}

type Result struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Generator struct {
	store    Store
	embedder Embedder
	window   time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewGenerator builds a generator. A nil embedder makes Run a no-op.
func NewGenerator(store Store, embedder Embedder, logger zerolog.Logger) *Generator {
	return &Generator{
		store:    store,
		embedder: embedder,
		window:   DefaultWindow,
		logger:   logger,
		now:      globaltime.UTC,
	}
}

func (g *Generator) WithClock(now func() time.Time) *Generator {
	if now != nil {
		g.now = now
	}
	return g
}

func (g *Generator) Run(ctx context.Context, limit int) (Result, error) {
	var res Result
	if g.embedder == nil {
		g.logger.Debug().Msg("embedding provider not configured, skipping")
		return res, nil
	}
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	since := g.now().Add(-g.window)
	candidates, err := g.store.ListMissingEmbeddings(ctx, since, limit)
	if err != nil {
		return res, fmt.Errorf("list links missing embeddings: %w", err)
	}

	pending := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		res.Processed++
		if Input(c.Title, c.Summary) == "" {
			res.Skipped++
			if err := g.markAttempt(ctx, c); err != nil {
				return res, err
			}
			continue
		}
		pending = append(pending, c)
	}

	for start := 0; start < len(pending); start += requestChunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+requestChunkSize, len(pending))
		if err := g.embedChunk(ctx, pending[start:end], &res); err != nil {
			return res, err
		}
	}

	g.logger.Info().
		Str("embedder", g.embedder.Name()).
		Int("processed", res.Processed).
		Int("success", res.Success).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("embedding batch complete")
	return res, nil
}

// embedChunk embeds a chunk in one call. When the call fails the chunk is
// retried item by item so one bad input only fails itself.
func (g *Generator) embedChunk(ctx context.Context, chunk []Candidate, res *Result) error {
	texts := make([]string, len(chunk))
	for i, c := range chunk {
		texts[i] = Input(c.Title, c.Summary)
	}

	vectors, err := g.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(chunk) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(chunk))
	}
	if err == nil {
		for i, c := range chunk {
			if err := g.save(ctx, c, vectors[i], res); err != nil {
				return err
			}
		}
		return nil
	}

	if len(chunk) > 1 {
		g.logger.Warn().Err(err).Int("size", len(chunk)).Msg("embedding batch call failed, retrying per item")
	}
	for i, c := range chunk {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		single, err := g.embedder.Embed(ctx, texts[i:i+1])
		if err != nil || len(single) != 1 {
			res.Failed++
			g.logger.Warn().Err(err).Int64("link_id", c.LinkID).Msg("embedding failed")
			if err := g.markAttempt(ctx, c); err != nil {
				return err
			}
			continue
		}
		if err := g.save(ctx, c, single[0], res); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) save(ctx context.Context, c Candidate, vector []float64, res *Result) error {
	if err := ValidateVector(vector); err != nil {
		res.Failed++
		g.logger.Warn().Err(err).Int64("link_id", c.LinkID).Msg("invalid embedding vector")
		return g.markAttempt(ctx, c)
	}
	if err := g.store.SaveEmbedding(ctx, c.LinkID, vector, g.now()); err != nil {
		return fmt.Errorf("save embedding for link %d: %w", c.LinkID, err)
	}
	res.Success++
	return nil
}

func (g *Generator) markAttempt(ctx context.Context, c Candidate) error {
	if err := g.store.MarkEmbeddingAttempt(ctx, c.LinkID, g.now()); err != nil {
		return fmt.Errorf("mark embedding attempt for link %d: %w", c.LinkID, err)
	}
	return nil
}
