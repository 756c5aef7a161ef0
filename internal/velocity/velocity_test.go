package velocity

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func TestWeightBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1.0},
		{24 * time.Hour, 1.0},
		{24*time.Hour + time.Second, 0.7},
		{48 * time.Hour, 0.7},
		{60 * time.Hour, 0.4},
		{72 * time.Hour, 0.4},
		{100 * time.Hour, 0.2},
		{30 * 24 * time.Hour, 0.2},
	}
	for _, tc := range cases {
		if got := Weight(tc.age); got != tc.want {
			t.Fatalf("Weight(%s) = %v, want %v", tc.age, got, tc.want)
		}
	}
}

func TestComputeDecayAcrossFourSources(t *testing.T) {
	t.Parallel()

	first := testNow.Add(-100 * time.Hour)
	obs := []Observation{
		{LinkID: 1, SourceID: "a", SeenAt: testNow.Add(-1 * time.Hour), FirstSeenAt: first},
		{LinkID: 1, SourceID: "b", SeenAt: testNow.Add(-30 * time.Hour), FirstSeenAt: first},
		{LinkID: 1, SourceID: "c", SeenAt: testNow.Add(-60 * time.Hour), FirstSeenAt: first},
		{LinkID: 1, SourceID: "d", SeenAt: testNow.Add(-100 * time.Hour), FirstSeenAt: first},
	}

	scores := Compute(obs, testNow)
	if len(scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(scores))
	}
	got := scores[0]
	if got.Velocity != 4 {
		t.Fatalf("velocity = %d, want 4", got.Velocity)
	}
	if math.Abs(got.WeightedVelocity-2.3) > 1e-9 {
		t.Fatalf("weighted = %v, want 2.3", got.WeightedVelocity)
	}
	if !got.IsTrending {
		t.Fatalf("expected trending")
	}
}

func TestComputeCountsEachSourceOnceUsingLatestMention(t *testing.T) {
	t.Parallel()

	obs := []Observation{
		{LinkID: 7, SourceID: "a", SeenAt: testNow.Add(-50 * time.Hour)},
		{LinkID: 7, SourceID: "a", SeenAt: testNow.Add(-2 * time.Hour)},
	}
	scores := Compute(obs, testNow)
	if scores[0].Velocity != 1 || scores[0].WeightedVelocity != 1.0 {
		t.Fatalf("unexpected score %+v", scores[0])
	}
	if scores[0].IsTrending {
		t.Fatalf("single source must not trend")
	}
}

func TestTrendingThreshold(t *testing.T) {
	t.Parallel()

	if IsTrending(2, 1.4) {
		t.Fatalf("weighted below 1.5 must not trend")
	}
	if !IsTrending(2, 1.5) {
		t.Fatalf("velocity 2 weighted 1.5 must trend")
	}
	if IsTrending(1, 3) {
		t.Fatalf("velocity below 2 must not trend")
	}
}

func TestSortIsDeterministic(t *testing.T) {
	t.Parallel()

	older := testNow.Add(-10 * time.Hour)
	newer := testNow.Add(-1 * time.Hour)
	scores := []Score{
		{LinkID: 1, Velocity: 2, WeightedVelocity: 1.4, FirstSeenAt: older},
		{LinkID: 2, Velocity: 3, WeightedVelocity: 1.4, FirstSeenAt: older},
		{LinkID: 3, Velocity: 2, WeightedVelocity: 2.0, FirstSeenAt: older},
		{LinkID: 4, Velocity: 2, WeightedVelocity: 1.4, FirstSeenAt: newer},
		{LinkID: 5, Velocity: 2, WeightedVelocity: 1.4, FirstSeenAt: older},
	}
	Sort(scores)

	want := []int64{3, 2, 4, 5, 1}
	for i, id := range want {
		if scores[i].LinkID != id {
			t.Fatalf("position %d: got link %d, want %d (order %+v)", i, scores[i].LinkID, id, scores)
		}
	}
}

type fakeStore struct {
	observations []Observation
	links        map[int64]Link
}

func (f *fakeStore) ListObservations(_ context.Context, since time.Time, _ Filters) ([]Observation, error) {
	out := make([]Observation, 0, len(f.observations))
	for _, obs := range f.observations {
		if !obs.SeenAt.Before(since) {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (f *fakeStore) GetLinks(_ context.Context, ids []int64) (map[int64]Link, error) {
	out := make(map[int64]Link, len(ids))
	for _, id := range ids {
		if link, ok := f.links[id]; ok {
			out[id] = link
		}
	}
	return out, nil
}

func TestScorerLinksPaginatesAndFiltersTrending(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		observations: []Observation{
			{LinkID: 1, SourceID: "a", SeenAt: testNow.Add(-time.Hour)},
			{LinkID: 1, SourceID: "b", SeenAt: testNow.Add(-time.Hour)},
			{LinkID: 2, SourceID: "a", SeenAt: testNow.Add(-time.Hour)},
			{LinkID: 3, SourceID: "a", SeenAt: testNow.Add(-200 * time.Hour)},
		},
		links: map[int64]Link{
			1: {ID: 1, Title: "one"},
			2: {ID: 2, Title: "two"},
			3: {ID: 3, Title: "three"},
		},
	}
	scorer := NewScorer(store, zerolog.Nop()).WithClock(globaltime.Fixed(testNow))

	all, err := scorer.Links(context.Background(), Query{Limit: 10})
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != 1 || all[1].ID != 2 {
		t.Fatalf("unexpected ranking %+v", all)
	}
	if !all[0].IsTrending || all[1].IsTrending {
		t.Fatalf("unexpected trending flags %+v", all)
	}

	page, err := scorer.Links(context.Background(), Query{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if len(page) != 1 || page[0].ID != 2 {
		t.Fatalf("unexpected page %+v", page)
	}

	trending, err := scorer.Links(context.Background(), Query{Filters: Filters{TrendingOnly: true}})
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if len(trending) != 1 || trending[0].ID != 1 {
		t.Fatalf("unexpected trending %+v", trending)
	}
}

func TestScorerSkipsLinksMissingFromStore(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		observations: []Observation{{LinkID: 9, SourceID: "a", SeenAt: testNow}},
		links:        map[int64]Link{},
	}
	scorer := NewScorer(store, zerolog.Nop()).WithClock(globaltime.Fixed(testNow))
	out, err := scorer.Links(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no entries, got %+v", out)
	}
}
