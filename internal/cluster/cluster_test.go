package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	if got, _ := Cosine([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected identical vectors to score 1, got %f", got)
	}
	if got, _ := Cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to score 0, got %f", got)
	}
	got, err := Cosine([]float64{0, 0}, []float64{1, 1})
	if err != nil || got != 0 || math.IsNaN(got) {
		t.Fatalf("expected zero vector to score 0, got %f err=%v", got, err)
	}
	if _, err := Cosine([]float64{1}, []float64{1, 0}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestCleanStoryTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Fed raises rates - CNN", "Fed raises rates"},
		{"Apple &amp; Google settle | The Verge", "Apple & Google settle"},
		{"Rust 2.0 released", "Rust 2.0 released"},
		{"Markets rally - and why it might not last long at all", "Markets rally - and why it might not last long at all"},
		{"- CNN", "- CNN"},
	}
	for _, tc := range cases {
		if got := CleanStoryTitle(tc.in); got != tc.want {
			t.Fatalf("CleanStoryTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type memLink struct {
	id        int64
	title     string
	vector    []float64
	raw       []byte
	velocity  int
	firstSeen time.Time
	blocked   bool
}

type memStory struct {
	id          int64
	title       string
	firstLinkAt time.Time
	lastLinkAt  time.Time
}

type memStore struct {
	links      []memLink
	stories    map[int64]*memStory
	storyLinks map[int64]int64
	nextStory  int64
}

func newMemStore(links ...memLink) *memStore {
	return &memStore{links: links, stories: map[int64]*memStory{}, storyLinks: map[int64]int64{}}
}

func (s *memStore) ListCandidates(_ context.Context, since, _ time.Time) ([]Candidate, error) {
	var out []Candidate
	for _, l := range s.links {
		if l.blocked || l.firstSeen.Before(since) {
			continue
		}
		raw := l.raw
		if raw == nil {
			raw, _ = json.Marshal(l.vector)
		}
		c := Candidate{LinkID: l.id, Title: l.title, Embedding: raw, Velocity: l.velocity, FirstSeenAt: l.firstSeen}
		if storyID, ok := s.storyLinks[l.id]; ok {
			id := storyID
			c.StoryID = &id
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) attach(storyID int64, linkIDs []int64) int {
	attached := 0
	for _, id := range linkIDs {
		if _, taken := s.storyLinks[id]; taken {
			continue
		}
		s.storyLinks[id] = storyID
		attached++
	}
	return attached
}

func (s *memStore) CreateStory(_ context.Context, title string, first, last time.Time, linkIDs []int64) (int64, int, error) {
	s.nextStory++
	id := s.nextStory
	attached := s.attach(id, linkIDs)
	if attached == 0 {
		s.nextStory--
		return 0, 0, nil
	}
	s.stories[id] = &memStory{id: id, title: title, firstLinkAt: first, lastLinkAt: last}
	return id, attached, nil
}

func (s *memStore) ExtendStory(_ context.Context, storyID int64, first, last time.Time, linkIDs []int64) (int, error) {
	story := s.stories[storyID]
	if first.Before(story.firstLinkAt) {
		story.firstLinkAt = first
	}
	if last.After(story.lastLinkAt) {
		story.lastLinkAt = last
	}
	return s.attach(storyID, linkIDs), nil
}

var clusterNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestClusterer(store Store) *Clusterer {
	return NewClusterer(store, zerolog.Nop()).WithClock(globaltime.Fixed(clusterNow))
}

func TestSingleLinkageChainsThroughIntermediateMember(t *testing.T) {
	t.Parallel()

	// A~B and B~C exceed the threshold, A~C does not.
	a := []float64{1, 0, 0}
	b := []float64{0.9, 0.436, 0}
	c := []float64{0.62, 0.785, 0}
	if sim, _ := Cosine(a, c); sim > DefaultThreshold {
		t.Fatalf("fixture broken: A~C=%f", sim)
	}

	store := newMemStore(
		memLink{id: 1, title: "Quake hits coast - Reuters", vector: a, velocity: 5, firstSeen: clusterNow.Add(-3 * time.Hour)},
		memLink{id: 2, title: "Coastal quake damage", vector: b, velocity: 2, firstSeen: clusterNow.Add(-2 * time.Hour)},
		memLink{id: 3, title: "Quake aftermath", vector: c, velocity: 1, firstSeen: clusterNow.Add(-1 * time.Hour)},
		memLink{id: 4, title: "Unrelated", vector: []float64{0, 0, 1}, velocity: 9, firstSeen: clusterNow.Add(-time.Hour)},
	)

	res, err := newTestClusterer(store).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ClustersCreated != 1 || res.LinksGrouped != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	story := store.stories[1]
	if story == nil || story.title != "Quake hits coast" {
		t.Fatalf("expected story titled from highest velocity member, got %+v", story)
	}
	if !story.firstLinkAt.Equal(clusterNow.Add(-3*time.Hour)) || !story.lastLinkAt.Equal(clusterNow.Add(-time.Hour)) {
		t.Fatalf("unexpected story span: %+v", story)
	}
	if _, ok := store.storyLinks[4]; ok {
		t.Fatalf("singleton must not form a story")
	}
}

func TestClusteringIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		memLink{id: 1, title: "One", vector: []float64{1, 0}, velocity: 2, firstSeen: clusterNow.Add(-time.Hour)},
		memLink{id: 2, title: "Two", vector: []float64{1, 0.1}, velocity: 1, firstSeen: clusterNow.Add(-time.Hour)},
	)
	clusterer := newTestClusterer(store)

	if _, err := clusterer.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := clusterer.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.ClustersCreated != 0 || res.StoriesExtended != 0 || res.LinksGrouped != 0 {
		t.Fatalf("expected no changes on rerun, got %+v", res)
	}
	if len(store.stories) != 1 || len(store.storyLinks) != 2 {
		t.Fatalf("expected one story with two links, got stories=%d links=%d", len(store.stories), len(store.storyLinks))
	}
}

func TestNewLinkExtendsExistingStory(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		memLink{id: 1, title: "One", vector: []float64{1, 0}, velocity: 3, firstSeen: clusterNow.Add(-5 * time.Hour)},
		memLink{id: 2, title: "Two", vector: []float64{1, 0.1}, velocity: 2, firstSeen: clusterNow.Add(-4 * time.Hour)},
	)
	clusterer := newTestClusterer(store)
	if _, err := clusterer.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	store.links = append(store.links, memLink{id: 3, title: "Three", vector: []float64{1, 0.05}, velocity: 1, firstSeen: clusterNow})
	res, err := clusterer.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.StoriesExtended != 1 || res.LinksGrouped != 1 || res.ClustersCreated != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if store.storyLinks[3] != 1 {
		t.Fatalf("expected link 3 attached to story 1")
	}
	if !store.stories[1].lastLinkAt.Equal(clusterNow) {
		t.Fatalf("expected story span widened, got %s", store.stories[1].lastLinkAt)
	}
}

func TestBlockedAndUnreadableLinksAreNotClustered(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		memLink{id: 1, title: "One", vector: []float64{1, 0}, velocity: 2, firstSeen: clusterNow},
		memLink{id: 2, title: "Blocked twin", vector: []float64{1, 0}, velocity: 2, firstSeen: clusterNow, blocked: true},
		memLink{id: 3, title: "Broken", raw: []byte("{not json"), velocity: 1, firstSeen: clusterNow},
		memLink{id: 4, title: "Short vector", vector: []float64{1}, velocity: 1, firstSeen: clusterNow},
	)

	res, err := newTestClusterer(store).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ClustersCreated != 0 || len(store.storyLinks) != 0 {
		t.Fatalf("expected no clusters, got %+v", res)
	}
	if res.Skipped != 2 || res.Processed != 1 {
		t.Fatalf("expected malformed and short embeddings skipped, got %+v", res)
	}
}

func TestOffDimensionLinksAreSkippedWithWarningEach(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		memLink{id: 1, title: "One", vector: []float64{1, 0, 0}, velocity: 3, firstSeen: clusterNow},
		memLink{id: 2, title: "Two", vector: []float64{1, 0.1, 0}, velocity: 2, firstSeen: clusterNow},
		memLink{id: 3, title: "Three", vector: []float64{1, 0.05, 0}, velocity: 1, firstSeen: clusterNow},
		memLink{id: 4, title: "Old model A", vector: []float64{1, 0}, velocity: 9, firstSeen: clusterNow},
		memLink{id: 5, title: "Old model B", vector: []float64{1, 0}, velocity: 8, firstSeen: clusterNow},
	)

	var logs bytes.Buffer
	clusterer := NewClusterer(store, zerolog.New(&logs)).WithClock(globaltime.Fixed(clusterNow))
	res, err := clusterer.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != 2 || res.Processed != 3 || res.ClustersCreated != 1 || res.LinksGrouped != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := store.storyLinks[4]; ok {
		t.Fatalf("off-dimension link must not be clustered")
	}
	if got := strings.Count(logs.String(), "mismatched embedding dimension"); got != 2 {
		t.Fatalf("expected one warning per skipped link, got %d:\n%s", got, logs.String())
	}
}
