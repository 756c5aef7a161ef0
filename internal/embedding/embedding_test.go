package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
)

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	if got := NormalizeEndpoint("http://127.0.0.1:8844"); got != "http://127.0.0.1:8844/embed" {
		t.Fatalf("unexpected endpoint normalization: %q", got)
	}
	if got := NormalizeEndpoint("http://127.0.0.1:8844/v1/embeddings"); got != "http://127.0.0.1:8844/v1/embeddings" {
		t.Fatalf("unexpected endpoint normalization for explicit path: %q", got)
	}
	if got := NormalizeEndpoint("  "); got != DefaultEndpoint {
		t.Fatalf("expected default endpoint, got %q", got)
	}
}

func TestInput(t *testing.T) {
	t.Parallel()

	if got := Input("Title", "Summary"); got != "Title\n\nSummary" {
		t.Fatalf("unexpected input with summary: %q", got)
	}
	if got := Input(" Title ", "  "); got != "Title" {
		t.Fatalf("unexpected input without summary: %q", got)
	}
	if got := Input("", "orphan summary"); got != "" {
		t.Fatalf("expected empty input without title, got %q", got)
	}
}

func TestValidateVector(t *testing.T) {
	t.Parallel()

	if err := ValidateVector([]float64{0.1, -0.2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateVector(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
	if err := ValidateVector([]float64{0.1, math.NaN()}); err == nil {
		t.Fatalf("expected error for NaN")
	}
	if err := ValidateVector([]float64{math.Inf(1)}); err == nil {
		t.Fatalf("expected error for Inf")
	}
}

func TestHTTPEmbedderTextsContract(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Texts) != 2 || len(req.Input) != 0 || req.MaxLength != DefaultMaxLength {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float64{{1, 0}, {0, 1}},
		})
	}))
	defer server.Close()

	e := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL})
	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 || vectors[1][1] != 1 {
		t.Fatalf("unexpected vectors: %v", vectors)
	}
}

func TestHTTPEmbedderOpenAIStyleContractSortsByIndex(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 || req.Model != "mini" {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,2]},{"index":0,"embedding":[3,0]}]}`))
	}))
	defer server.Close()

	e := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL + "/v1/embeddings", Model: "mini"})
	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vectors[0][0] != 3 || vectors[1][1] != 2 {
		t.Fatalf("expected vectors ordered by index, got %v", vectors)
	}
}

func TestHTTPEmbedderErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "short") {
			_, _ = w.Write([]byte(`{"embeddings":[[1]]}`))
			return
		}
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL + "/embed"}).Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatalf("expected status error")
	}
	_, err := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL + "/embed?short=1"}).Embed(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "count mismatch") {
		t.Fatalf("expected count mismatch, got %v", err)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[` +
			`{"object":"embedding","index":1,"embedding":[0.5,0.5]},` +
			`{"object":"embedding","index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][0] != 0.5 {
		t.Fatalf("unexpected vectors: %v", vectors)
	}

	if _, err := NewOpenAIEmbedder(OpenAIOptions{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestHashEmbedderIsDeterministicAndSimilarForSharedWords(t *testing.T) {
	t.Parallel()

	e := NewHashEmbedder(0)
	vectors, err := e.Embed(context.Background(), []string{
		"Federal Reserve raises interest rates again",
		"Federal Reserve raises interest rates again - CNN",
		"Volcanic eruption grounds flights across Iceland",
	})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	again, _ := e.Embed(context.Background(), []string{"Federal Reserve raises interest rates again"})
	if dot(vectors[0], again[0]) < 0.999 {
		t.Fatalf("expected deterministic vectors")
	}
	if sim := dot(vectors[0], vectors[1]); sim <= 0.8 {
		t.Fatalf("expected near-duplicate titles to be similar, got %f", sim)
	}
	if sim := dot(vectors[0], vectors[2]); sim >= 0.5 {
		t.Fatalf("expected unrelated titles to differ, got %f", sim)
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

type memStore struct {
	mu         sync.Mutex
	candidates []Candidate
	since      time.Time
	saved      map[int64][]float64
	attempted  map[int64]time.Time
}

// ListMissingEmbeddings keeps the given recency order but puts untried
// candidates ahead of previously attempted ones.
func (s *memStore) ListMissingEmbeddings(_ context.Context, since time.Time, limit int) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = since
	out := make([]Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if _, done := s.saved[c.LinkID]; !done {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, triedI := s.attempted[out[i].LinkID]
		aj, triedJ := s.attempted[out[j].LinkID]
		if triedI != triedJ {
			return !triedI
		}
		return ai.Before(aj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SaveEmbedding(_ context.Context, linkID int64, vector []float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[int64][]float64{}
	}
	s.saved[linkID] = vector
	return nil
}

func (s *memStore) MarkEmbeddingAttempt(_ context.Context, linkID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempted == nil {
		s.attempted = map[int64]time.Time{}
	}
	s.attempted[linkID] = at
	return nil
}

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	s.calls++
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		switch {
		case strings.Contains(text, "explode"):
			return nil, errors.New("upstream rejected input")
		case strings.Contains(text, "nan"):
			out = append(out, []float64{math.NaN()})
		default:
			out = append(out, []float64{float64(len(text)), 1})
		}
	}
	return out, nil
}

func TestGeneratorIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &memStore{candidates: []Candidate{
		{LinkID: 1, Title: "Good title", Summary: "with summary"},
		{LinkID: 2, Title: "This one will explode"},
		{LinkID: 3, Title: ""},
		{LinkID: 4, Title: "Returns nan"},
		{LinkID: 5, Title: "Another good title"},
	}}
	embedder := &stubEmbedder{}
	gen := NewGenerator(store, embedder, zerolog.Nop()).WithClock(globaltime.Fixed(now))

	res, err := gen.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 5 || res.Success != 2 || res.Failed != 2 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := store.saved[1]; !ok {
		t.Fatalf("expected link 1 embedded")
	}
	if _, ok := store.saved[5]; !ok {
		t.Fatalf("expected link 5 embedded")
	}
	if got := store.saved[1][0]; got != float64(len("Good title\n\nwith summary")) {
		t.Fatalf("expected summary in embedded text, got length %v", got)
	}
	if !store.since.Equal(now.Add(-DefaultWindow)) {
		t.Fatalf("expected 7 day window, got since=%s", store.since)
	}
	if embedder.calls != 1+4 {
		t.Fatalf("expected one batch call plus per-item retries, got %d", embedder.calls)
	}
}

func TestGeneratorFailingItemsDoNotStarveOlderLinks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &memStore{candidates: []Candidate{
		{LinkID: 1, Title: "Newest will explode"},
		{LinkID: 2, Title: "Second will explode too"},
		{LinkID: 3, Title: "Older but fine"},
	}}
	gen := NewGenerator(store, &stubEmbedder{}, zerolog.Nop()).WithClock(globaltime.Fixed(now))

	res, err := gen.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failed != 2 || len(store.attempted) != 2 {
		t.Fatalf("expected two recorded failures, got res=%+v attempted=%v", res, store.attempted)
	}

	res, err = gen.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := store.saved[3]; !ok || res.Success != 1 {
		t.Fatalf("older link should be embedded on the next run, got res=%+v", res)
	}
}

func TestGeneratorWithoutEmbedderIsNoop(t *testing.T) {
	t.Parallel()

	store := &memStore{candidates: []Candidate{{LinkID: 1, Title: "x"}}}
	res, err := NewGenerator(store, nil, zerolog.Nop()).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res != (Result{}) || len(store.saved) != 0 {
		t.Fatalf("expected no-op, got %+v", res)
	}
}
