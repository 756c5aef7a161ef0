package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
)

const (
	DefaultThreshold      = 0.8
	DefaultWindow         = 7 * 24 * time.Hour
	DefaultVelocityWindow = 30 * 24 * time.Hour
)

// Candidate is a recent, titled, unblocked link with a stored embedding.
type Candidate struct {
	LinkID      int64
	Title       string
	Embedding   []byte
	Velocity    int
	FirstSeenAt time.Time
	StoryID     *int64
}

type Store interface {
	// ListCandidates returns links first seen after since, with velocity
	// counted over mentions after velocitySince.
	ListCandidates(ctx context.Context, since, velocitySince time.Time) ([]Candidate, error)
	// CreateStory inserts a story and attaches the links not yet in any story.
	// When none could be attached the story is not kept and attached is 0.
	CreateStory(ctx context.Context, title string, firstLinkAt, lastLinkAt time.Time, linkIDs []int64) (storyID int64, attached int, err error)
	// ExtendStory widens the story span and attaches the given links.
	ExtendStory(ctx context.Context, storyID int64, firstLinkAt, lastLinkAt time.Time, linkIDs []int64) (attached int, err error)
}

type Result struct {
	Processed       int `json:"processed"`
	ClustersCreated int `json:"clustersCreated"`
	LinksGrouped    int `json:"linksGrouped"`
	StoriesExtended int `json:"storiesExtended"`
	Skipped         int `json:"skipped"`
}

type member struct {
	Candidate
	vector []float64
}

type Clusterer struct {
	store     Store
	threshold float64
	logger    zerolog.Logger
	now       func() time.Time
}

func NewClusterer(store Store, logger zerolog.Logger) *Clusterer {
	return &Clusterer{
		store:     store,
		threshold: DefaultThreshold,
		logger:    logger,
		now:       globaltime.UTC,
	}
}

func (c *Clusterer) WithClock(now func() time.Time) *Clusterer {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Clusterer) Run(ctx context.Context) (Result, error) {
	var res Result
	now := c.now()

	candidates, err := c.store.ListCandidates(ctx, now.Add(-DefaultWindow), now.Add(-DefaultVelocityWindow))
	if err != nil {
		return res, fmt.Errorf("list cluster candidates: %w", err)
	}

	members := make([]member, 0, len(candidates))
	for _, cand := range candidates {
		var vector []float64
		if err := json.Unmarshal(cand.Embedding, &vector); err != nil || len(vector) == 0 {
			res.Skipped++
			c.logger.Warn().Err(err).Int64("link_id", cand.LinkID).Msg("skipping link with unreadable embedding")
			continue
		}
		members = append(members, member{Candidate: cand, vector: vector})
	}
	members = c.dropOffDimension(members, &res)
	res.Processed = len(members)

	for _, group := range c.group(members) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.persist(ctx, group, &res); err != nil {
			return res, err
		}
	}

	c.logger.Info().
		Int("processed", res.Processed).
		Int("clusters_created", res.ClustersCreated).
		Int("stories_extended", res.StoriesExtended).
		Int("links_grouped", res.LinksGrouped).
		Int("skipped", res.Skipped).
		Msg("clustering complete")
	return res, nil
}

// dropOffDimension keeps the members whose vector length is the most common
// one in the batch and skips the rest with a warning each. Ties go to the
// larger dimension.
func (c *Clusterer) dropOffDimension(members []member, res *Result) []member {
	counts := make(map[int]int)
	for _, m := range members {
		counts[len(m.vector)]++
	}
	if len(counts) <= 1 {
		return members
	}
	dims := 0
	for d, n := range counts {
		if n > counts[dims] || (n == counts[dims] && d > dims) {
			dims = d
		}
	}

	kept := members[:0]
	for _, m := range members {
		if len(m.vector) != dims {
			res.Skipped++
			c.logger.Warn().
				Int64("link_id", m.LinkID).
				Int("dims", len(m.vector)).
				Int("expected_dims", dims).
				Msg("skipping link with mismatched embedding dimension")
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// group runs single-linkage clustering: a link joins a cluster when it is
// similar enough to any member already in it. Seeds are taken in velocity
// order so each cluster's first member is its most mentioned link.
func (c *Clusterer) group(members []member) [][]member {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.Velocity != b.Velocity {
			return a.Velocity > b.Velocity
		}
		if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
			return a.FirstSeenAt.After(b.FirstSeenAt)
		}
		return a.LinkID < b.LinkID
	})

	assigned := make([]bool, len(members))
	var groups [][]member

	for seed := range members {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		queue := []int{seed}
		group := []member{members[seed]}

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for other := range members {
				if assigned[other] {
					continue
				}
				sim, err := Cosine(members[current].vector, members[other].vector)
				if err != nil {
					continue
				}
				if sim > c.threshold {
					assigned[other] = true
					queue = append(queue, other)
					group = append(group, members[other])
				}
			}
		}

		if len(group) >= 2 {
			groups = append(groups, group)
		}
	}
	return groups
}

func (c *Clusterer) persist(ctx context.Context, group []member, res *Result) error {
	first, last := group[0].FirstSeenAt, group[0].FirstSeenAt
	var existing *int64
	fresh := make([]int64, 0, len(group))
	for _, m := range group {
		if m.FirstSeenAt.Before(first) {
			first = m.FirstSeenAt
		}
		if m.FirstSeenAt.After(last) {
			last = m.FirstSeenAt
		}
		if m.StoryID != nil {
			if existing == nil {
				existing = m.StoryID
			}
			continue
		}
		fresh = append(fresh, m.LinkID)
	}

	if existing != nil {
		if len(fresh) == 0 {
			res.Skipped++
			return nil
		}
		attached, err := c.store.ExtendStory(ctx, *existing, first, last, fresh)
		if err != nil {
			return fmt.Errorf("extend story %d: %w", *existing, err)
		}
		if attached > 0 {
			res.StoriesExtended++
			res.LinksGrouped += attached
		}
		return nil
	}

	title := CleanStoryTitle(group[0].Title)
	storyID, attached, err := c.store.CreateStory(ctx, title, first, last, fresh)
	if err != nil {
		return fmt.Errorf("create story %q: %w", title, err)
	}
	if attached == 0 {
		res.Skipped++
		return nil
	}
	res.ClustersCreated++
	res.LinksGrouped += attached
	c.logger.Debug().Int64("story_id", storyID).Str("title", title).Int("links", attached).Msg("story created")
	return nil
}
