package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultBodyByteLimit = 2 * 1024 * 1024
	DefaultMaxRedirects  = 10

	DefaultUserAgent = "linkwire/1.0 (+https://horse.fit/linkwire)"
)

// ErrTooManyRedirects is returned when a page redirects past the configured depth.
var ErrTooManyRedirects = errors.New("too many redirects")

// FetchOptions controls HTTP behavior for page fetches.
type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	MaxRedirects  int
	UserAgent     string
	HTTPClient    *http.Client
}

// Page is a fetched HTML document after redirects were followed.
type Page struct {
	RequestedURL string
	FinalURL     *url.URL
	StatusCode   int
	ContentType  string
	Body         []byte
}

// IsHTML reports whether the response declared an HTML content type. An empty
// content type is treated as HTML since many servers omit it.
func (p *Page) IsHTML() bool {
	if p == nil {
		return false
	}
	ct := strings.ToLower(strings.TrimSpace(p.ContentType))
	return ct == "" || strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}

// StatusError reports a terminal non-2xx response.
type StatusError struct {
	StatusCode int
	FinalURL   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch status %d for %s", e.StatusCode, e.FinalURL)
}

// NewHTTPClient builds a client that stops after maxRedirects hops.
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxRedirects < 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

// Fetch retrieves a page, following redirects. A non-2xx terminal status
// returns the page together with a *StatusError so callers still see the
// resolved URL.
func Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*Page, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return nil, fmt.Errorf("url is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	client := opts.HTTPClient
	if client == nil {
		maxRedirects := opts.MaxRedirects
		if maxRedirects == 0 {
			maxRedirects = DefaultMaxRedirects
		}
		client = NewHTTPClient(timeout, maxRedirects)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	page := &Page{
		RequestedURL: target,
		FinalURL:     resp.Request.URL,
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
	}

	// Error pages keep their body so challenge and not-found titles can be classified.
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	page.Body = body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return page, &StatusError{StatusCode: resp.StatusCode, FinalURL: page.FinalURL.String()}
	}
	if readErr != nil {
		return page, fmt.Errorf("read body: %w", readErr)
	}

	return page, nil
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// TruncateText clips text to maxChars runes and appends a single ellipsis rune when truncated.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxChars-1]))
	if clipped == "" {
		return "…", true
	}

	return clipped + "…", true
}
