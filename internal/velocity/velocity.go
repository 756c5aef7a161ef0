package velocity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
)

const (
	TrendingMinVelocity = 2
	TrendingMinWeighted = 1.5

	DefaultWindow = 72 * time.Hour
	DefaultLimit  = 50
	MaxLimit      = 500
)

// Weight is the recency weight of a mention of the given age.
func Weight(age time.Duration) float64 {
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 48*time.Hour:
		return 0.7
	case age <= 72*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

func IsTrending(velocity int, weighted float64) bool {
	return velocity >= TrendingMinVelocity && weighted >= TrendingMinWeighted
}

// Observation is the most recent mention of a link by one source within the
// window. Stores return at most one observation per (link, source).
type Observation struct {
	LinkID      int64
	SourceID    string
	SeenAt      time.Time
	FirstSeenAt time.Time
}

type Score struct {
	LinkID           int64
	Velocity         int
	WeightedVelocity float64
	IsTrending       bool
	FirstSeenAt      time.Time
}

// Compute aggregates observations into per-link scores in ranking order:
// weighted velocity desc, velocity desc, first seen desc, link id desc.
func Compute(observations []Observation, now time.Time) []Score {
	type acc struct {
		sources  map[string]time.Time
		firstSee time.Time
	}
	byLink := make(map[int64]*acc)
	for _, obs := range observations {
		sourceID := strings.TrimSpace(obs.SourceID)
		if sourceID == "" {
			continue
		}
		a, ok := byLink[obs.LinkID]
		if !ok {
			a = &acc{sources: make(map[string]time.Time), firstSee: obs.FirstSeenAt}
			byLink[obs.LinkID] = a
		}
		if prev, seen := a.sources[sourceID]; !seen || obs.SeenAt.After(prev) {
			a.sources[sourceID] = obs.SeenAt
		}
	}

	scores := make([]Score, 0, len(byLink))
	for linkID, a := range byLink {
		weighted := 0.0
		for _, seenAt := range a.sources {
			age := now.Sub(seenAt)
			if age < 0 {
				age = 0
			}
			weighted += Weight(age)
		}
		weighted = math.Round(weighted*1e6) / 1e6
		count := len(a.sources)
		scores = append(scores, Score{
			LinkID:           linkID,
			Velocity:         count,
			WeightedVelocity: weighted,
			IsTrending:       IsTrending(count, weighted),
			FirstSeenAt:      a.firstSee,
		})
	}

	Sort(scores)
	return scores
}

// Sort orders scores deterministically for pagination.
func Sort(scores []Score) {
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.WeightedVelocity != b.WeightedVelocity {
			return a.WeightedVelocity > b.WeightedVelocity
		}
		if a.Velocity != b.Velocity {
			return a.Velocity > b.Velocity
		}
		if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
			return a.FirstSeenAt.After(b.FirstSeenAt)
		}
		return a.LinkID > b.LinkID
	})
}

type Filters struct {
	Domain       string
	SourceID     string
	Category     string
	TrendingOnly bool
}

type Query struct {
	Since   time.Time
	Limit   int
	Offset  int
	Filters Filters
}

// Link is the display projection of a ranked link.
type Link struct {
	ID              int64      `json:"id"`
	CanonicalURL    string     `json:"canonicalUrl"`
	Domain          string     `json:"domain"`
	Title           string     `json:"title"`
	TitleIsFallback bool       `json:"titleIsFallback"`
	Description     string     `json:"description,omitempty"`
	ImageURL        string     `json:"imageUrl,omitempty"`
	Author          string     `json:"author,omitempty"`
	Language        string     `json:"language,omitempty"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	FirstSeenAt     time.Time  `json:"firstSeenAt"`
	LastSeenAt      time.Time  `json:"lastSeenAt"`
	StoryID         *int64     `json:"storyId,omitempty"`
}

type Entry struct {
	Link
	Velocity         int     `json:"velocity"`
	WeightedVelocity float64 `json:"weightedVelocity"`
	IsTrending       bool    `json:"isTrending"`
}

type Store interface {
	// ListObservations returns the latest mention per (link, source) since the
	// given time, restricted to links that are not blocked and have a usable
	// title, and to the filters.
	ListObservations(ctx context.Context, since time.Time, filters Filters) ([]Observation, error)
	GetLinks(ctx context.Context, ids []int64) (map[int64]Link, error)
}

type Scorer struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewScorer(store Store, logger zerolog.Logger) *Scorer {
	return &Scorer{store: store, logger: logger, now: globaltime.UTC}
}

func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	if now != nil {
		s.now = now
	}
	return s
}

// Links returns the ranked page of links mentioned since q.Since.
func (s *Scorer) Links(ctx context.Context, q Query) ([]Entry, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("velocity scorer is not initialized")
	}
	now := s.now()
	if q.Since.IsZero() {
		q.Since = now.Add(-DefaultWindow)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := max(q.Offset, 0)

	observations, err := s.store.ListObservations(ctx, q.Since, q.Filters)
	if err != nil {
		return nil, fmt.Errorf("list mention observations: %w", err)
	}

	scores := Compute(observations, now)
	if q.Filters.TrendingOnly {
		trending := scores[:0]
		for _, score := range scores {
			if score.IsTrending {
				trending = append(trending, score)
			}
		}
		scores = trending
	}

	if offset >= len(scores) {
		return []Entry{}, nil
	}
	page := scores[offset:min(offset+limit, len(scores))]

	ids := make([]int64, 0, len(page))
	for _, score := range page {
		ids = append(ids, score.LinkID)
	}
	links, err := s.store.GetLinks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ranked links: %w", err)
	}

	out := make([]Entry, 0, len(page))
	for _, score := range page {
		link, ok := links[score.LinkID]
		if !ok {
			// Blocked or removed between the two reads.
			continue
		}
		out = append(out, Entry{
			Link:             link,
			Velocity:         score.Velocity,
			WeightedVelocity: score.WeightedVelocity,
			IsTrending:       score.IsTrending,
		})
	}

	s.logger.Debug().
		Time("since", q.Since).
		Int("observations", len(observations)).
		Int("ranked", len(scores)).
		Int("returned", len(out)).
		Msg("velocity ranking computed")

	return out, nil
}
