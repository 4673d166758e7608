package discover

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/gleanerhq/gleaner/internal/logger"
)

const feedUserAgent = "Mozilla/5.0 (compatible; Gleaner/1.0)"

// feedLinks returns the feed URLs a page declares through
// link[rel=alternate] autodiscovery tags.
func feedLinks(doc *goquery.Document, base *url.URL) []string {
	var feeds []string
	doc.Find("link[rel=alternate]").Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		typ = strings.ToLower(typ)
		if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") {
			return
		}
		href, _ := s.Attr("href")
		abs, ok := normalizeHref(base, href)
		if !ok {
			return
		}
		feeds = append(feeds, abs)
	})
	return feeds
}

// collectFeeds merges declared feed items into the candidate list. Feed
// items skip the visible-text requirement since their titles come from the
// publisher, but they share the pattern filters and the dedup map. Feeds
// are best-effort: a dead or malformed feed never fails discovery.
func (d *Discoverer) collectFeeds(ctx context.Context, doc *goquery.Document, c *collector) {
	urls := feedLinks(doc, c.base)
	if len(urls) > maxFeedsPerPage {
		urls = urls[:maxFeedsPerPage]
	}

	for _, feedURL := range urls {
		fp := gofeed.NewParser()
		fp.UserAgent = feedUserAgent
		fp.Client = d.feedClient

		feed, err := fp.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			logger.Debug("feed fetch failed", "feed", feedURL, "error", err)
			continue
		}

		for _, item := range feed.Items {
			if item == nil || item.Link == "" {
				continue
			}
			c.add(collapseSpace(item.Title), item.Link, "")
		}
		logger.Debug("merged feed items", "feed", feedURL, "items", len(feed.Items))
	}
}
