package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/aimeta"
	"horse.fit/linkwire/internal/blocklist"
	"horse.fit/linkwire/internal/canonical"
	"horse.fit/linkwire/internal/cluster"
	"horse.fit/linkwire/internal/db"
	"horse.fit/linkwire/internal/enrich"
	"horse.fit/linkwire/internal/globaltime"
	"horse.fit/linkwire/internal/ingest"
	"horse.fit/linkwire/internal/velocity"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	pingErr   error
	stories   []db.StorySummary
	details   map[int64]*db.StoryDetail
	entries   []blocklist.Entry
	links     map[int64]aimeta.Metadata
	listOpts  db.StoryListOptions
	deletedID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		details: map[int64]*db.StoryDetail{},
		links:   map[int64]aimeta.Metadata{},
	}
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) ListStories(_ context.Context, opts db.StoryListOptions) ([]db.StorySummary, error) {
	s.listOpts = opts
	return s.stories, nil
}

func (s *fakeStore) GetStoryDetail(_ context.Context, storyID int64, _ time.Time) (*db.StoryDetail, error) {
	detail, ok := s.details[storyID]
	if !ok {
		return nil, db.ErrNoRows
	}
	return detail, nil
}

func (s *fakeStore) ListBlocklist(context.Context) ([]blocklist.Entry, error) {
	return s.entries, nil
}

func (s *fakeStore) AddBlocklistEntry(_ context.Context, entry blocklist.Entry) (blocklist.Entry, bool, error) {
	for _, existing := range s.entries {
		if existing.Type == entry.Type && existing.Pattern == entry.Pattern {
			return existing, false, nil
		}
	}
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, entry)
	return entry, true, nil
}

func (s *fakeStore) DeleteBlocklistEntry(_ context.Context, id int64) (bool, error) {
	for i, entry := range s.entries {
		if entry.ID == id {
			s.deletedID = id
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SaveAIMetadata(_ context.Context, linkID int64, meta aimeta.Metadata, _ time.Time) (bool, error) {
	if _, ok := s.links[linkID]; !ok {
		return false, nil
	}
	s.links[linkID] = meta
	return true, nil
}

type fakeIngester struct {
	sourceID string
	items    []ingest.Item
	err      error
}

func (f *fakeIngester) Ingest(_ context.Context, items []ingest.Item, sourceID string) (ingest.Result, error) {
	f.sourceID = sourceID
	f.items = items
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	return ingest.Result{Total: len(items), New: len(items)}, nil
}

type fakeCanonicalizer struct{}

func (fakeCanonicalizer) Canonicalize(_ context.Context, rawURL string) canonical.Result {
	return canonical.Result{CanonicalURL: strings.Split(rawURL, "?")[0], Domain: "example.com", Status: canonical.StatusSuccess}
}

type fakeEnrichment struct {
	result enrich.BatchResult
	err    error
}

func (f fakeEnrichment) RunBatch(context.Context) (enrich.BatchResult, error) {
	return f.result, f.err
}

type fakeClustering struct{}

func (fakeClustering) Run(context.Context) (cluster.Result, error) {
	return cluster.Result{Processed: 3, ClustersCreated: 1, LinksGrouped: 3}, nil
}

type fakeVelocity struct {
	query velocity.Query
}

func (f *fakeVelocity) Links(_ context.Context, q velocity.Query) ([]velocity.Entry, error) {
	f.query = q
	return []velocity.Entry{{Link: velocity.Link{ID: 1, Title: "Hello"}, Velocity: 2, WeightedVelocity: 1.7, IsTrending: true}}, nil
}

type testEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer(svc Services) *Server {
	if svc.Store == nil {
		svc.Store = newFakeStore()
	}
	return NewServer(svc, zerolog.Nop(), Options{}).WithClock(globaltime.Fixed(testNow))
}

func doRequest(t *testing.T, s *Server, method, path, body string) (int, testEnvelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestHealthReportsDatabaseState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	code, env := doRequest(t, newTestServer(Services{Store: store}), http.MethodGet, "/api/v1/health", "")
	if code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected health response: %d %+v", code, env)
	}

	store.pingErr = errors.New("connection refused")
	code, env = doRequest(t, newTestServer(Services{Store: store}), http.MethodGet, "/api/v1/health", "")
	if code != http.StatusServiceUnavailable || env.Status != "fail" {
		t.Fatalf("expected 503 fail, got %d %+v", code, env)
	}
}

func TestIngestValidatesAndForwards(t *testing.T) {
	t.Parallel()

	ingester := &fakeIngester{}
	s := newTestServer(Services{Ingest: ingester})

	code, env := doRequest(t, s, http.MethodPost, "/api/v1/ingest", `{"urls":[]}`)
	if code != http.StatusBadRequest || env.Status != "fail" {
		t.Fatalf("expected validation failure, got %d %+v", code, env)
	}

	code, env = doRequest(t, s, http.MethodPost, "/api/v1/ingest",
		`{"sourceId":"hn","urls":[{"url":"https://example.com/a?utm_source=x","context":"A"},{"url":"https://example.com/b"}]}`)
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d %+v", code, env)
	}
	if ingester.sourceID != "hn" || len(ingester.items) != 2 || ingester.items[0].Context != "A" {
		t.Fatalf("unexpected forwarded batch: %q %+v", ingester.sourceID, ingester.items)
	}
	var result ingest.Result
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Total != 2 || result.New != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestIngestUnknownSourceIsValidationFailure(t *testing.T) {
	t.Parallel()

	ingester := &fakeIngester{err: ingest.ErrUnknownSource}
	code, env := doRequest(t, newTestServer(Services{Ingest: ingester}), http.MethodPost, "/api/v1/ingest",
		`{"sourceId":"nope","urls":[{"url":"https://example.com/a"}]}`)
	if code != http.StatusBadRequest || env.Status != "fail" {
		t.Fatalf("expected 400 fail, got %d %+v", code, env)
	}
}

func TestNewsletterExtractsLinksIntoIngest(t *testing.T) {
	t.Parallel()

	ingester := &fakeIngester{}
	body, err := json.Marshal(newsletterRequest{
		SourceID: "weekly",
		HTML:     `<p><a href="https://example.com/story">Big story</a> <a href="https://example.com/unsubscribe">Unsubscribe</a></p>`,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	code, env := doRequest(t, newTestServer(Services{Ingest: ingester}), http.MethodPost, "/api/v1/inbound/newsletter", string(body))
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d %+v", code, env)
	}
	if ingester.sourceID != "weekly" || len(ingester.items) != 1 || ingester.items[0].URL != "https://example.com/story" {
		t.Fatalf("unexpected forwarded items: %+v", ingester.items)
	}
}

func TestCanonicalizeEndpoint(t *testing.T) {
	t.Parallel()

	code, env := doRequest(t, newTestServer(Services{Canonicalizer: fakeCanonicalizer{}}), http.MethodPost, "/api/v1/canonicalize",
		`{"url":"https://example.com/a?utm_source=x"}`)
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d %+v", code, env)
	}
	var result canonical.Result
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.CanonicalURL != "https://example.com/a" || result.Status != canonical.StatusSuccess {
		t.Fatalf("unexpected canonical result: %+v", result)
	}
}

func TestBatchEndpointsReturnSummaries(t *testing.T) {
	t.Parallel()

	s := newTestServer(Services{
		Enrichment: fakeEnrichment{result: enrich.BatchResult{Processed: 4, Success: 2, Failed: 2}},
		Clustering: fakeClustering{},
	})

	code, env := doRequest(t, s, http.MethodPost, "/api/v1/enrichment/run", "")
	if code != http.StatusOK || !strings.Contains(string(env.Data), `"failed":2`) {
		t.Fatalf("unexpected enrichment response: %d %s", code, env.Data)
	}
	code, env = doRequest(t, s, http.MethodPost, "/api/v1/clustering/run", "")
	if code != http.StatusOK || !strings.Contains(string(env.Data), `"clustersCreated":1`) {
		t.Fatalf("unexpected clustering response: %d %s", code, env.Data)
	}

	// Unconfigured stages answer 503 instead of panicking.
	code, _ = doRequest(t, s, http.MethodPost, "/api/v1/embeddings/run?limit=5", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for missing embeddings stage, got %d", code)
	}
}

func TestBatchStoreFailureIsError(t *testing.T) {
	t.Parallel()

	s := newTestServer(Services{Enrichment: fakeEnrichment{err: errors.New("db down")}})
	code, env := doRequest(t, s, http.MethodPost, "/api/v1/enrichment/run", "")
	if code != http.StatusInternalServerError || env.Status != "error" {
		t.Fatalf("expected 500 error, got %d %+v", code, env)
	}
}

func TestVelocityParsesFilters(t *testing.T) {
	t.Parallel()

	vel := &fakeVelocity{}
	s := newTestServer(Services{Velocity: vel})

	code, env := doRequest(t, s, http.MethodGet, "/api/v1/links/velocity?hours=24&limit=10&offset=5&domain=www.example.com&source_id=hn&category=AI&trending=true", "")
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d %+v", code, env)
	}
	q := vel.query
	if !q.Since.Equal(testNow.Add(-24*time.Hour)) || q.Limit != 10 || q.Offset != 5 {
		t.Fatalf("unexpected query window: %+v", q)
	}
	if q.Filters.Domain != "www.example.com" || q.Filters.SourceID != "hn" || q.Filters.Category != "ai" || !q.Filters.TrendingOnly {
		t.Fatalf("unexpected filters: %+v", q.Filters)
	}

	code, _ = doRequest(t, s, http.MethodGet, "/api/v1/links/velocity?since=2026-03-01", "")
	if code != http.StatusOK || !vel.query.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected since to override hours, got %d %v", code, vel.query.Since)
	}

	code, env = doRequest(t, s, http.MethodGet, "/api/v1/links/velocity?limit=0&trending=maybe", "")
	if code != http.StatusBadRequest || !strings.Contains(string(env.Data), "trending") {
		t.Fatalf("expected validation failure, got %d %s", code, env.Data)
	}
}

func TestAIMetadataEndpoint(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.links[7] = aimeta.Metadata{}
	s := newTestServer(Services{Store: store})

	code, env := doRequest(t, s, http.MethodPut, "/api/v1/links/7/ai-metadata", `{"summary":" A summary ","category":"ai","entities":["OpenAI","openai"]}`)
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d %+v", code, env)
	}
	saved := store.links[7]
	if saved.Summary != "A summary" || saved.Category != "ai" || len(saved.Entities) != 1 {
		t.Fatalf("unexpected saved metadata: %+v", saved)
	}

	code, _ = doRequest(t, s, http.MethodPut, "/api/v1/links/8/ai-metadata", `{"summary":"x"}`)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown link, got %d", code)
	}
	code, _ = doRequest(t, s, http.MethodPut, "/api/v1/links/7/ai-metadata", `{"mood":"happy"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for schema violation, got %d", code)
	}
}

func TestStoriesEndpoints(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.stories = []db.StorySummary{{StoryID: 3, Title: "Launch", LinkCount: 2}}
	store.details[3] = &db.StoryDetail{Story: store.stories[0]}
	s := newTestServer(Services{Store: store})

	code, env := doRequest(t, s, http.MethodGet, "/api/v1/stories?limit=5&status=Active", "")
	if code != http.StatusOK || store.listOpts.Limit != 5 || store.listOpts.Status != "active" {
		t.Fatalf("unexpected list call: %d %+v", code, store.listOpts)
	}
	if !strings.Contains(string(env.Data), `"Launch"`) {
		t.Fatalf("expected story in response: %s", env.Data)
	}

	code, _ = doRequest(t, s, http.MethodGet, "/api/v1/stories/3", "")
	if code != http.StatusOK {
		t.Fatalf("unexpected detail status: %d", code)
	}
	code, _ = doRequest(t, s, http.MethodGet, "/api/v1/stories/99", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	code, _ = doRequest(t, s, http.MethodGet, "/api/v1/stories/abc", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestBlocklistCRUD(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	s := newTestServer(Services{Store: store})

	code, _ := doRequest(t, s, http.MethodPost, "/api/v1/blocklist", `{"type":"domain","pattern":"*.Spam.example"}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	code, _ = doRequest(t, s, http.MethodPost, "/api/v1/blocklist", `{"type":"domain","pattern":"spam.example"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200 for existing entry, got %d", code)
	}
	if len(store.entries) != 1 || store.entries[0].Pattern != "spam.example" {
		t.Fatalf("unexpected stored entries: %+v", store.entries)
	}

	code, _ = doRequest(t, s, http.MethodPost, "/api/v1/blocklist", `{"type":"regex","pattern":"x"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", code)
	}

	code, env := doRequest(t, s, http.MethodGet, "/api/v1/blocklist", "")
	if code != http.StatusOK || !strings.Contains(string(env.Data), "spam.example") {
		t.Fatalf("unexpected list: %d %s", code, env.Data)
	}

	code, _ = doRequest(t, s, http.MethodDelete, "/api/v1/blocklist/1", "")
	if code != http.StatusOK || store.deletedID != 1 {
		t.Fatalf("unexpected delete: %d %d", code, store.deletedID)
	}
	code, _ = doRequest(t, s, http.MethodDelete, "/api/v1/blocklist/1", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", code)
	}
}

func TestUnknownRouteUsesJSendFail(t *testing.T) {
	t.Parallel()

	code, env := doRequest(t, newTestServer(Services{}), http.MethodGet, "/api/v1/nope", "")
	if code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("expected jsend 404, got %d %+v", code, env)
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	got := Options{Host: "  ", Port: 9001}.withDefaults()
	if got.Host != "0.0.0.0" || got.Port != 9001 {
		t.Fatalf("withDefaults() host/port = %q/%d", got.Host, got.Port)
	}
	if got.WriteTimeout != 5*time.Minute || got.ReadTimeout != 10*time.Second || got.ShutdownTimeout != 10*time.Second {
		t.Fatalf("withDefaults() timeouts = %+v", got)
	}
}
