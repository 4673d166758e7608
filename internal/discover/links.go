package discover

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// htmxLinkAttrs are the attributes that make an element load content from
// a URL, in the order they are consulted when one element carries several.
var htmxLinkAttrs = []string{"hx-get", "hx-post", "data-hx-get", "data-hx-post"}

// collector accumulates candidates in discovery order, deduplicated by
// their final absolute URL.
type collector struct {
	base  *url.URL
	opts  Options
	seen  map[string]bool
	links []Link
}

// add normalises one href and appends it when it survives the pattern
// filters and has not been seen before.
func (c *collector) add(title, href, context string) {
	abs, ok := normalizeHref(c.base, href)
	if !ok {
		return
	}
	if !matchesPatterns(abs, c.opts) {
		return
	}
	if c.seen[abs] {
		return
	}
	c.seen[abs] = true
	c.links = append(c.links, Link{Title: title, URL: abs, Context: context})
}

// collectAnchors walks every anchor with an href in document order.
// Anchors need enough visible text to plausibly be a headline; one-word
// chrome links ("Home", "More") never are.
func (c *collector) collectAnchors(doc *goquery.Document) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := collapseSpace(s.Text())
		if !linkTextOK(text) {
			return
		}
		c.add(text, href, surroundingText(s))
	})
}

// collectHTMX picks up links loaded through HTMX attributes rather than
// anchors. The same visible-text requirement applies.
func (c *collector) collectHTMX(doc *goquery.Document) {
	doc.Find("[hx-get], [hx-post], [data-hx-get], [data-hx-post]").Each(func(_ int, s *goquery.Selection) {
		var href string
		for _, attr := range htmxLinkAttrs {
			if v, ok := s.Attr(attr); ok && v != "" {
				href = v
				break
			}
		}
		if href == "" {
			return
		}
		text := collapseSpace(s.Text())
		if !linkTextOK(text) {
			return
		}
		c.add(text, href, surroundingText(s))
	})
}

// normalizeHref converts an href to an absolute URL. Already-absolute
// URLs pass through byte-exact except for decoding a literal &amp;, which
// double-encoded pages and feeds still carry.
func normalizeHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	href = strings.ReplaceAll(href, "&amp;", "&")

	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href, true
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

func matchesPatterns(abs string, opts Options) bool {
	for _, p := range opts.ExcludePatterns {
		if p != "" && strings.Contains(abs, p) {
			return false
		}
	}
	if len(opts.IncludePatterns) == 0 {
		return true
	}
	for _, p := range opts.IncludePatterns {
		if p != "" && strings.Contains(abs, p) {
			return true
		}
	}
	return false
}

func linkTextOK(text string) bool {
	return utf8.RuneCountInString(text) >= minLinkTextLen &&
		len(strings.Fields(text)) >= minLinkTextWords
}

// surroundingText captures the parent element's text for downstream
// ranking, capped so list pages with huge wrappers stay cheap to prompt.
func surroundingText(s *goquery.Selection) string {
	parent := s.Parent()
	if parent.Length() == 0 {
		return ""
	}
	text := collapseSpace(parent.Text())
	if utf8.RuneCountInString(text) > maxContextLen {
		text = string([]rune(text)[:maxContextLen])
	}
	return text
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
