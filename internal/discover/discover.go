// Package discover extracts candidate article links from source pages.
// Candidates come from three channels: visible anchors, HTMX-triggered
// elements, and feeds the page declares through autodiscovery tags. An
// optional model pass then filters the merged list down to links that
// actually point at articles.
package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

const (
	// DefaultMaxLinks bounds a discovery run when Options.MaxLinks is unset.
	DefaultMaxLinks = 50

	minLinkTextLen   = 15
	minLinkTextWords = 2
	maxContextLen    = 200
	maxFeedsPerPage  = 3
	feedTimeout      = 15 * time.Second
)

// Link is one discovered article candidate. URL is always absolute.
type Link struct {
	Title   string
	URL     string
	Context string
}

// Options control candidate selection and the model filter.
type Options struct {
	// IncludePatterns keeps only URLs containing at least one substring.
	// Empty means keep everything.
	IncludePatterns []string

	// ExcludePatterns drops URLs containing any substring. Exclusion wins
	// over inclusion.
	ExcludePatterns []string

	// AIContext enables the model filter and describes the articles the
	// caller wants, e.g. "cybersecurity incidents".
	AIContext string

	// MaxLinks caps the result. Zero means DefaultMaxLinks.
	MaxLinks int
}

// Discoverer finds article links on source pages.
type Discoverer struct {
	llm        llm.Client
	feedClient *http.Client
}

// New creates a Discoverer. The client may be nil, which disables the
// model filter.
func New(client llm.Client) *Discoverer {
	return &Discoverer{
		llm:        client,
		feedClient: &http.Client{Timeout: feedTimeout},
	}
}

// Discover returns the article-link candidates found on a source page, in
// discovery order: anchors first, HTMX-triggered links second, declared
// feed items last, deduplicated by URL. When Options.AIContext is set the
// candidates are filtered through the model before the cap is applied.
func (d *Discoverer) Discover(ctx context.Context, html, baseURL string, opts Options) ([]Link, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, models.Tag(models.ErrorParsing, fmt.Errorf("parse base url %q: %w", baseURL, err))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.Tag(models.ErrorParsing, fmt.Errorf("parse page: %w", err))
	}

	c := &collector{base: base, opts: opts, seen: make(map[string]bool)}
	c.collectAnchors(doc)
	c.collectHTMX(doc)
	d.collectFeeds(ctx, doc, c)

	links := c.links
	logger.Debug("collected link candidates", "url", baseURL, "count", len(links))

	if opts.AIContext != "" && d.llm != nil && len(links) > 0 {
		links = d.filterWithModel(ctx, baseURL, opts.AIContext, links)
	}

	return capLinks(links, opts.MaxLinks), nil
}

func capLinks(links []Link, limit int) []Link {
	if limit <= 0 {
		limit = DefaultMaxLinks
	}
	if len(links) > limit {
		return links[:limit]
	}
	return links
}
