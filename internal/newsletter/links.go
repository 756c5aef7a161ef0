package newsletter

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"horse.fit/linkwire/internal/ingest"
)

const maxAnchorText = 300

// Anchor texts and URL fragments that mark newsletter plumbing rather than content.
var (
	skipAnchorText = []string{
		"unsubscribe",
		"view in browser",
		"view in your browser",
		"view online",
		"manage preferences",
		"update your preferences",
		"email preferences",
		"forward to a friend",
	}
	skipURLParts = []string{
		"unsubscribe",
		"/preferences",
		"list-manage.com/profile",
		"/view-in-browser",
		"/webversion",
	}
)

// ExtractLinks returns the content links of an inbound newsletter body as
// ingest items, absolute and de-duplicated in document order.
func ExtractLinks(body string, baseURL string) ([]ingest.Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse newsletter html: %w", err)
	}

	var base *url.URL
	if strings.TrimSpace(baseURL) != "" {
		base, _ = url.Parse(strings.TrimSpace(baseURL))
	}

	seen := map[string]struct{}{}
	items := make([]ingest.Item, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		text := strings.Join(strings.Fields(sel.Text()), " ")

		resolved, ok := resolve(href, base)
		if !ok || skipLink(resolved, text) {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}

		if runes := []rune(text); len(runes) > maxAnchorText {
			text = string(runes[:maxAnchorText])
		}
		items = append(items, ingest.Item{URL: resolved, Context: text})
	})
	return items, nil
}

func resolve(href string, base *url.URL) (string, bool) {
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if !parsed.IsAbs() {
		if base == nil {
			return "", false
		}
		parsed = base.ResolveReference(parsed)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return "", false
	}
	return parsed.String(), true
}

func skipLink(rawURL, text string) bool {
	lowerText := strings.ToLower(text)
	for _, marker := range skipAnchorText {
		if strings.Contains(lowerText, marker) {
			return true
		}
	}
	lowerURL := strings.ToLower(rawURL)
	for _, part := range skipURLParts {
		if strings.Contains(lowerURL, part) {
			return true
		}
	}
	return false
}
