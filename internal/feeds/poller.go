package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/globaltime"
	"horse.fit/linkwire/internal/ingest"
)

const (
	DefaultTimeout   = 20 * time.Second
	defaultUserAgent = "linkwire-feeds/1.0"
)

// Feed is an enabled rss source.
type Feed struct {
	SourceID string
	Name     string
	URL      string
}

type Store interface {
	ListFeeds(ctx context.Context) ([]Feed, error)
	MarkPolled(ctx context.Context, sourceID string, at time.Time) error
}

type Ingester interface {
	Ingest(ctx context.Context, items []ingest.Item, sourceID string) (ingest.Result, error)
}

type Result struct {
	Feeds       int `json:"feeds"`
	Failed      int `json:"failed"`
	Total       int `json:"total"`
	New         int `json:"new"`
	Blacklisted int `json:"blacklisted"`
}

type Poller struct {
	store    Store
	ingester Ingester
	parser   *gofeed.Parser
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPoller(store Store, ingester Ingester, timeout time.Duration, logger zerolog.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	parser := gofeed.NewParser()
	parser.UserAgent = defaultUserAgent
	parser.Client = &http.Client{Timeout: timeout}
	return &Poller{
		store:    store,
		ingester: ingester,
		parser:   parser,
		timeout:  timeout,
		logger:   logger,
		now:      globaltime.UTC,
	}
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	if now != nil {
		p.now = now
	}
	return p
}

// PollAll fetches every enabled feed and ingests its item links under the
// feed's source id. A failing feed is counted and logged; the rest still run.
func (p *Poller) PollAll(ctx context.Context) (Result, error) {
	var res Result
	feeds, err := p.store.ListFeeds(ctx)
	if err != nil {
		return res, fmt.Errorf("list feeds: %w", err)
	}

	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Feeds++

		items, err := p.fetch(ctx, feed.URL)
		if err != nil {
			res.Failed++
			p.logger.Warn().Err(err).Str("source_id", feed.SourceID).Str("feed_url", feed.URL).Msg("feed fetch failed")
			continue
		}

		ingested, err := p.ingester.Ingest(ctx, items, feed.SourceID)
		if err != nil {
			res.Failed++
			p.logger.Warn().Err(err).Str("source_id", feed.SourceID).Msg("feed ingest failed")
			continue
		}
		res.Total += ingested.Total
		res.New += ingested.New
		res.Blacklisted += ingested.Blacklisted

		if err := p.store.MarkPolled(ctx, feed.SourceID, p.now()); err != nil {
			return res, fmt.Errorf("mark feed %q polled: %w", feed.SourceID, err)
		}
	}

	p.logger.Info().
		Int("feeds", res.Feeds).
		Int("failed", res.Failed).
		Int("total", res.Total).
		Int("new", res.New).
		Int("blacklisted", res.Blacklisted).
		Msg("feed poll complete")
	return res, nil
}

func (p *Poller) fetch(ctx context.Context, feedURL string) ([]ingest.Item, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parsed, err := p.parser.ParseURLWithContext(feedURL, fetchCtx)
	if err != nil {
		return nil, err
	}
	return Items(parsed), nil
}

// Items turns feed entries into ingest items, using the entry title as context.
func Items(feed *gofeed.Feed) []ingest.Item {
	if feed == nil {
		return nil
	}
	out := make([]ingest.Item, 0, len(feed.Items))
	seen := make(map[string]struct{}, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, ingest.Item{URL: link, Context: strings.TrimSpace(item.Title)})
	}
	return out
}
