package reader

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"horse.fit/linkwire/internal/langdetect"
)

const descriptionMaxChars = 500

// Metadata is the lightweight page metadata a link carries for display.
type Metadata struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Author      string     `json:"author,omitempty"`
	Language    string     `json:"language,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

var (
	titleMetaKeys       = []string{"og:title", "twitter:title"}
	descriptionMetaKeys = []string{"description", "og:description", "twitter:description"}
	imageMetaKeys       = []string{"og:image", "og:image:url", "twitter:image", "twitter:image:src"}
	authorMetaKeys      = []string{"author", "article:author", "parsely-author", "sailthru.author", "dc.creator"}
	publishedMetaKeys   = []string{
		"article:published_time",
		"og:published_time",
		"datepublished",
		"publish-date",
		"pubdate",
		"date",
		"dc.date",
		"sailthru.date",
		"parsely-pub-date",
	}
)

// ExtractMetadata reads title, description, image, author and publish date
// from an HTML document. Description falls back to a readability excerpt.
func ExtractMetadata(body []byte, pageURL *url.URL) (Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Metadata{}, fmt.Errorf("parse html: %w", err)
	}

	meta := collectMetaTags(doc)

	var out Metadata
	out.Title = firstNonEmpty(lookup(meta, titleMetaKeys), doc.Find("title").First().Text())
	out.Title = CleanText(out.Title)

	out.Description = CleanText(lookup(meta, descriptionMetaKeys))
	if out.Description == "" && pageURL != nil {
		if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
			out.Description = CleanText(article.Excerpt())
		}
	}
	out.Description, _ = TruncateText(out.Description, descriptionMaxChars)

	if image := lookup(meta, imageMetaKeys); image != "" {
		out.ImageURL = resolveURL(pageURL, image)
	}

	out.Author = CleanText(lookup(meta, authorMetaKeys))
	if out.Author == "" {
		out.Author = CleanText(doc.Find(`[rel="author"], [itemprop="author"]`).First().Text())
	}
	if strings.HasPrefix(out.Author, "http://") || strings.HasPrefix(out.Author, "https://") {
		out.Author = ""
	}

	declared, _ := doc.Find("html").First().Attr("lang")
	out.Language = langdetect.FromTag(firstNonEmpty(declared, meta["og:locale"]))

	published := lookup(meta, publishedMetaKeys)
	if published == "" {
		published, _ = doc.Find(`[itemprop="datePublished"]`).First().Attr("content")
	}
	if published == "" {
		published, _ = doc.Find("time[datetime]").First().Attr("datetime")
	}
	if ts, ok := ParsePublishedAt(published); ok {
		out.PublishedAt = &ts
	}

	return out, nil
}

// ParsePublishedAt accepts the loose date formats found in page metadata.
func ParsePublishedAt(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	ts, err := dateparse.ParseAny(trimmed)
	if err != nil || ts.IsZero() {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func collectMetaTags(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			return
		}
		for _, attr := range []string{"property", "name", "itemprop"} {
			key, ok := s.Attr(attr)
			if !ok {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			if _, exists := meta[key]; !exists {
				meta[key] = strings.TrimSpace(content)
			}
		}
	})
	return meta
}

func lookup(meta map[string]string, keys []string) string {
	for _, key := range keys {
		if value := meta[key]; value != "" {
			return value
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}
