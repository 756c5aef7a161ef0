package canonical

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/reader"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is the outcome of canonicalizing one raw URL. On failure CanonicalURL
// still carries the locally normalized form when the input was well-formed, so
// callers can keep the link without a resolved redirect chain.
type Result struct {
	CanonicalURL string     `json:"canonicalUrl"`
	Domain       string     `json:"domain"`
	Status       Status     `json:"status"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	Author       string     `json:"author,omitempty"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	Error        string     `json:"error,omitempty"`

	// Malformed is set when the input could not be parsed as an http(s) URL.
	Malformed bool `json:"-"`
}

type Options struct {
	// Offline disables redirect resolution and metadata fetches.
	Offline      bool
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	HTTPClient   *http.Client
}

type Canonicalizer struct {
	offline   bool
	timeout   time.Duration
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Canonicalizer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = reader.DefaultFetchTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = reader.NewHTTPClient(timeout, opts.MaxRedirects)
	}
	return &Canonicalizer{
		offline:   opts.Offline,
		timeout:   timeout,
		userAgent: opts.UserAgent,
		client:    client,
		logger:    logger,
	}
}

// Canonicalize resolves rawURL to its canonical identity. It never returns an
// error; failures are reported through Result.Status and Result.Error.
func (c *Canonicalizer) Canonicalize(ctx context.Context, rawURL string) Result {
	parsed, err := Parse(rawURL)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error(), Malformed: true}
	}

	local := normalizeParsed(parsed)
	res := Result{
		CanonicalURL: local,
		Domain:       Domain(local),
		Status:       StatusSuccess,
	}
	if c.offline {
		return res
	}

	page, err := reader.Fetch(ctx, local, reader.FetchOptions{
		Timeout:    c.timeout,
		UserAgent:  c.userAgent,
		HTTPClient: c.client,
	})
	if page != nil && page.FinalURL != nil {
		// The redirect chain resolved even if the terminal response failed.
		res.CanonicalURL = normalizeParsed(page.FinalURL)
		res.Domain = Domain(res.CanonicalURL)
	}
	if err != nil && page != nil && page.StatusCode >= 200 && page.StatusCode < 300 {
		// Resolved fine; only the body read failed, so metadata is skipped.
		return res
	}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		var statusErr *reader.StatusError
		if !errors.As(err, &statusErr) {
			res.CanonicalURL = local
			res.Domain = Domain(local)
		}
		return res
	}

	if !page.IsHTML() || len(page.Body) == 0 {
		return res
	}

	meta, err := reader.ExtractMetadata(page.Body, page.FinalURL)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", res.CanonicalURL).Msg("metadata extraction failed")
		return res
	}
	res.Title = meta.Title
	res.Description = meta.Description
	res.ImageURL = meta.ImageURL
	res.Author = meta.Author
	res.PublishedAt = meta.PublishedAt
	return res
}
