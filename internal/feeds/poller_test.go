package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
	"horse.fit/linkwire/internal/ingest"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Sample</title>
  <link>https://blog.example.com</link>
  <item><title>First post</title><link>https://news.example.org/a?utm_source=rss</link></item>
  <item><title>Second post</title><link>https://news.example.org/b</link></item>
  <item><title>Repeat</title><link>https://news.example.org/b</link></item>
  <item><title>No link</title></item>
</channel>
</rss>`

type memStore struct {
	feeds  []Feed
	polled map[string]time.Time
}

func (s *memStore) ListFeeds(context.Context) ([]Feed, error) { return s.feeds, nil }

func (s *memStore) MarkPolled(_ context.Context, sourceID string, at time.Time) error {
	if s.polled == nil {
		s.polled = map[string]time.Time{}
	}
	s.polled[sourceID] = at
	return nil
}

type recordingIngester struct {
	calls map[string][]ingest.Item
}

func (r *recordingIngester) Ingest(_ context.Context, items []ingest.Item, sourceID string) (ingest.Result, error) {
	if sourceID == "broken-ingest" {
		return ingest.Result{}, errors.New("store down")
	}
	if r.calls == nil {
		r.calls = map[string][]ingest.Item{}
	}
	r.calls[sourceID] = items
	return ingest.Result{Total: len(items), New: len(items)}, nil
}

func TestPollAllIngestsFeedItemsAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	store := &memStore{feeds: []Feed{
		{SourceID: "blog", URL: server.URL + "/feed.xml"},
		{SourceID: "gone", URL: server.URL + "/missing.xml"},
		{SourceID: "broken-ingest", URL: server.URL + "/feed.xml"},
	}}
	ingester := &recordingIngester{}
	poller := NewPoller(store, ingester, time.Second, zerolog.Nop()).WithClock(globaltime.Fixed(now))

	res, err := poller.PollAll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Feeds != 3 || res.Failed != 2 || res.Total != 2 || res.New != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	items := ingester.calls["blog"]
	if len(items) != 2 {
		t.Fatalf("expected two de-duplicated items, got %+v", items)
	}
	if items[0].URL != "https://news.example.org/a?utm_source=rss" || items[0].Context != "First post" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if !store.polled["blog"].Equal(now) {
		t.Fatalf("expected blog marked polled")
	}
	if _, ok := store.polled["gone"]; ok {
		t.Fatalf("failed feed must not be marked polled")
	}
}
