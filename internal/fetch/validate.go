package fetch

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/protection"
)

const (
	// minSourceLinks is the smallest countable-link total that makes a
	// source page worth discovering from.
	minSourceLinks = 10

	// minArticleTextLen is the visible-text threshold below which an
	// article page is treated as empty or blocked. Exclusive: exactly
	// this many characters still fails.
	minArticleTextLen = 500

	// minUsableBody is the body size under which an HTTP response is not
	// accepted as a candidate. Exclusive.
	minUsableBody = 1024
)

// articleTextSelector covers the containers where article prose lives.
const articleTextSelector = "p, article, div.content, main, section"

var excludedLinkRe = regexp.MustCompile(`(?i)search|filter|login|signup`)

// validation is the per-page validity verdict with the measured quantity
// that produced it.
type validation struct {
	Valid   bool
	Reason  string
	Links   int
	TextLen int
}

// validatePage decides whether fetched HTML is usable for the given intent.
// Pages carrying a protection signal above the suspicion threshold are
// rejected regardless of content.
func validatePage(html string, intent Intent, signal models.ProtectionSignal) validation {
	if signal.Confidence > protection.SuspicionThreshold {
		return validation{Valid: false, Reason: "protection suspected"}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return validation{Valid: false, Reason: "unparseable HTML"}
	}

	switch intent {
	case IntentSource:
		links := countCountableLinks(doc)
		if links < minSourceLinks {
			return validation{Valid: false, Reason: "too few links", Links: links}
		}
		return validation{Valid: true, Links: links}
	default:
		textLen := articleTextLength(doc)
		if textLen <= minArticleTextLen {
			return validation{Valid: false, Reason: "too little text", TextLen: textLen}
		}
		return validation{Valid: true, TextLen: textLen}
	}
}

// countCountableLinks counts distinct navigation targets: anchors with
// real hrefs plus HTMX-triggered elements, with search/filter/login/signup
// URLs excluded. An href appearing as both an anchor and an HTMX target
// counts once.
func countCountableLinks(doc *goquery.Document) int {
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || excludedLinkRe.MatchString(href) {
			return
		}
		seen[href] = struct{}{}
	})

	doc.Find("[hx-get], [hx-post], [data-hx-get], [data-hx-post]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"hx-get", "hx-post", "data-hx-get", "data-hx-post"} {
			target := strings.TrimSpace(s.AttrOr(attr, ""))
			if target == "" || excludedLinkRe.MatchString(target) {
				continue
			}
			seen[target] = struct{}{}
		}
	})

	return len(seen)
}

// articleTextLength measures visible text inside the containers where
// article prose lives, scripts and styles removed.
func articleTextLength(doc *goquery.Document) int {
	clone := doc.Selection.Clone()
	clone.Find("script, style, noscript").Remove()

	var sb strings.Builder
	clone.Find(articleTextSelector).Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(strings.TrimSpace(s.Text()))
	})
	return len(sb.String())
}
