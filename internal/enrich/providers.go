package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
	"unicode"

	"horse.fit/linkwire/internal/reader"
)

const (
	SourceDirect    = "direct"
	SourceRender    = "render"
	SourceURLSlug   = "url_slug"
	SourceSimulated = "simulated"
)

// DirectProvider fetches the page itself and reads its HTML metadata.
type DirectProvider struct {
	opts reader.FetchOptions
}

func NewDirectProvider(opts reader.FetchOptions) *DirectProvider {
	return &DirectProvider{opts: opts}
}

func (p *DirectProvider) Name() string { return SourceDirect }

// terminalStatuses are error responses that describe the content rather than a
// transient problem.
var terminalStatuses = map[int]struct{}{
	http.StatusUnauthorized:               {},
	http.StatusForbidden:                  {},
	http.StatusNotFound:                   {},
	http.StatusGone:                       {},
	http.StatusUnavailableForLegalReasons: {},
}

func (p *DirectProvider) FetchMetadata(ctx context.Context, rawURL string) (Result, error) {
	page, err := reader.Fetch(ctx, rawURL, p.opts)
	if err != nil {
		var statusErr *reader.StatusError
		if !errors.As(err, &statusErr) || page == nil {
			return Result{}, err
		}
		return errorPageResult(page, statusErr)
	}
	if !page.IsHTML() {
		return Result{}, fmt.Errorf("unsupported content type %q", page.ContentType)
	}

	meta, err := reader.ExtractMetadata(page.Body, page.FinalURL)
	if err != nil {
		return Result{}, err
	}
	if meta.Title == "" {
		return Result{}, fmt.Errorf("page has no title")
	}
	return Result{
		Status: StatusSuccess,
		Source: SourceDirect,
		Metadata: Metadata{
			Title:       meta.Title,
			Description: meta.Description,
			ImageURL:    meta.ImageURL,
			Author:      meta.Author,
			PublishedAt: meta.PublishedAt,
			Language:    meta.Language,
		},
	}, nil
}

// errorPageResult turns a challenge page or a terminal status into a titled
// success so the classifier can record why the content is unavailable.
func errorPageResult(page *reader.Page, statusErr *reader.StatusError) (Result, error) {
	if len(page.Body) > 0 {
		if meta, err := reader.ExtractMetadata(page.Body, page.FinalURL); err == nil && meta.Title != "" {
			if _, blocked := Classify(meta.Title); blocked {
				return Result{Status: StatusSuccess, Source: SourceDirect, Metadata: Metadata{Title: meta.Title}}, nil
			}
		}
	}
	if _, terminal := terminalStatuses[statusErr.StatusCode]; terminal {
		title := fmt.Sprintf("%d %s", statusErr.StatusCode, http.StatusText(statusErr.StatusCode))
		return Result{Status: StatusSuccess, Source: SourceDirect, Metadata: Metadata{Title: title}}, nil
	}
	return Result{}, statusErr
}

// RenderProvider asks the Cloudflare Browser Rendering API for the page as
// markdown and takes its top-level heading as the title.
type RenderProvider struct {
	endpoint string
	token    string
	client   *http.Client
}

type renderRequest struct {
	URL                  string   `json:"url"`
	RejectRequestPattern []string `json:"rejectRequestPattern,omitempty"`
}

type renderResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Errors  any    `json:"errors"`
}

func NewRenderProvider(accountID, token string, timeout time.Duration) *RenderProvider {
	endpoint := fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/browser-rendering/markdown", strings.TrimSpace(accountID))
	return NewRenderProviderWithEndpoint(endpoint, token, timeout)
}

func NewRenderProviderWithEndpoint(endpoint, token string, timeout time.Duration) *RenderProvider {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &RenderProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *RenderProvider) Name() string { return SourceRender }

func (p *RenderProvider) FetchMetadata(ctx context.Context, rawURL string) (Result, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return Result{}, fmt.Errorf("invalid url: %w", err)
	}
	body, err := json.Marshal(renderRequest{
		URL:                  rawURL,
		RejectRequestPattern: []string{"/^.*\\.(css|woff2?)/"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call render service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("render service status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var envelope renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Result{}, fmt.Errorf("decode render response: %w", err)
	}
	if !envelope.Success {
		return Result{}, fmt.Errorf("render service reported failure: %v", envelope.Errors)
	}

	title := markdownTitle(envelope.Result)
	if title == "" {
		return Result{}, fmt.Errorf("rendered page has no heading")
	}
	return Result{
		Status:   StatusSuccess,
		Source:   SourceRender,
		Metadata: Metadata{Title: title, Description: markdownLead(envelope.Result)},
	}, nil
}

// markdownTitle picks the heading with the fewest leading '#'.
func markdownTitle(markdown string) string {
	headings := make([]string, 0)
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			headings = append(headings, line)
		}
	}
	if len(headings) == 0 {
		return ""
	}
	sort.SliceStable(headings, func(i, j int) bool {
		return headingLevel(headings[i]) < headingLevel(headings[j])
	})
	return strings.TrimSpace(strings.TrimLeft(headings[0], "#"))
}

func headingLevel(line string) int {
	return len(line) - len(strings.TrimLeft(line, "#"))
}

// markdownLead returns the first plain paragraph, clipped for display.
func markdownLead(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "![") || strings.HasPrefix(line, "[") {
			continue
		}
		lead, _ := reader.TruncateText(line, 300)
		return lead
	}
	return ""
}

// URLSlugProvider derives a low-confidence title from the URL path. It never
// touches the network and always answers with a fallback.
type URLSlugProvider struct{}

func (URLSlugProvider) Name() string { return SourceURLSlug }

func (URLSlugProvider) FetchMetadata(_ context.Context, rawURL string) (Result, error) {
	title := SlugTitle(rawURL)
	if title == "" {
		return Result{}, fmt.Errorf("url has no usable slug")
	}
	return Result{Status: StatusFallback, Source: SourceURLSlug, Metadata: Metadata{Title: title}}, nil
}

// SlugTitle turns the last meaningful path segment into words:
// "/2026/05/rates-hold-steady.html" becomes "Rates hold steady".
func SlugTitle(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		segment, err := url.PathUnescape(segments[i])
		if err != nil {
			segment = segments[i]
		}
		segment = strings.TrimSuffix(segment, path.Ext(segment))
		words := strings.FieldsFunc(segment, func(r rune) bool {
			return r == '-' || r == '_' || r == '+' || r == '.' || unicode.IsSpace(r)
		})
		words = dropNoiseWords(words)
		if len(words) < 2 {
			continue
		}
		title := strings.Join(words, " ")
		runes := []rune(strings.ToLower(title))
		runes[0] = unicode.ToUpper(runes[0])
		return string(runes)
	}
	return ""
}

func dropNoiseWords(words []string) []string {
	out := words[:0]
	for _, word := range words {
		if isNumericOrID(word) {
			continue
		}
		out = append(out, word)
	}
	return out
}

func isNumericOrID(word string) bool {
	digits := 0
	for _, r := range word {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	// Pure numbers and hash-like ids carry no title information.
	return digits == len(word) || (len(word) >= 8 && digits*2 >= len(word))
}

// SimulatedProvider answers without any network access. It is selected when
// the process runs with simulated providers.
type SimulatedProvider struct{}

func (SimulatedProvider) Name() string { return SourceSimulated }

func (SimulatedProvider) FetchMetadata(_ context.Context, rawURL string) (Result, error) {
	title := SlugTitle(rawURL)
	if title == "" {
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Hostname() == "" {
			return Result{}, fmt.Errorf("simulated provider cannot title %q", rawURL)
		}
		title = "Simulated page on " + strings.TrimPrefix(parsed.Hostname(), "www.")
	}
	return Result{
		Status:   StatusSuccess,
		Source:   SourceSimulated,
		Metadata: Metadata{Title: title, Description: "Simulated metadata for " + rawURL},
	}, nil
}
