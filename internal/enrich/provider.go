package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultProviderTimeout = 15 * time.Second

var ErrNoProviders = errors.New("no enrichment providers configured")

type Metadata struct {
	Title       string
	Description string
	ImageURL    string
	Author      string
	PublishedAt *time.Time
	// Language is the page's declared language, when it has one.
	Language string
}

// Result is what a provider learned about a URL. Status is either
// StatusSuccess or StatusFallback.
type Result struct {
	Status Status
	Source string
	Metadata
	// Err is set by Chain when a fallback only answered because every
	// fetching provider failed.
	Err error
}

// Provider fetches display metadata for a URL.
type Provider interface {
	Name() string
	FetchMetadata(ctx context.Context, url string) (Result, error)
}

// Chain asks providers in order. A clean success wins immediately; a success
// whose title is blocked content is kept while later providers get a chance to
// do better; a fallback is used only when no provider succeeded.
type Chain struct {
	providers []Provider
	timeout   time.Duration
}

func NewChain(timeout time.Duration, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	filtered := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	return &Chain{providers: filtered, timeout: timeout}
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ">")
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.providers)
}

func (c *Chain) FetchMetadata(ctx context.Context, url string) (Result, error) {
	if c.Len() == 0 {
		return Result{}, ErrNoProviders
	}

	var (
		blocked  *Result
		fallback *Result
		errs     []error
	)
	for _, p := range c.providers {
		res, err := c.call(ctx, p, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if res.Source == "" {
			res.Source = p.Name()
		}
		res.Title = strings.TrimSpace(res.Title)
		if res.Title == "" {
			errs = append(errs, fmt.Errorf("%s: empty title", p.Name()))
			continue
		}

		switch res.Status {
		case StatusSuccess:
			if _, isBlocked := Classify(res.Title); isBlocked {
				if blocked == nil {
					r := res
					blocked = &r
				}
				continue
			}
			return res, nil
		case StatusFallback:
			if fallback == nil {
				r := res
				fallback = &r
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unexpected result status %q", p.Name(), res.Status))
		}
	}

	if blocked != nil {
		return *blocked, nil
	}
	if fallback != nil {
		if len(errs) > 0 {
			fallback.Err = errors.Join(errs...)
		}
		return *fallback, nil
	}
	return Result{}, errors.Join(errs...)
}

func (c *Chain) call(ctx context.Context, p Provider, url string) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return p.FetchMetadata(callCtx, url)
}
