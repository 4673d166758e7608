package structure

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxPreparedHTML caps the HTML handed to the model for structure
// detection.
const maxPreparedHTML = 45000

const truncationMarker = "\n<!-- content truncated -->"

var commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)

// prepareHTML reduces a page to the markup worth showing the model: scripts,
// styles and comments are stripped, the body is preferred over the full
// document, and the result is capped at a tag boundary.
func prepareHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return capHTML(commentRe.ReplaceAllString(html, ""))
	}

	doc.Find("script, style, noscript").Remove()

	var content string
	if body := doc.Find("body"); body.Length() > 0 {
		if inner, err := body.Html(); err == nil && strings.TrimSpace(inner) != "" {
			content = inner
		}
	}
	if content == "" {
		if full, err := doc.Html(); err == nil {
			content = full
		} else {
			content = html
		}
	}

	return capHTML(commentRe.ReplaceAllString(content, ""))
}

// capHTML truncates at a tag boundary when one is reasonably close so the
// model never sees a split tag.
func capHTML(html string) string {
	if len(html) <= maxPreparedHTML {
		return html
	}

	cut := html[:maxPreparedHTML]
	if idx := strings.LastIndex(cut, ">"); idx > maxPreparedHTML/2 {
		cut = cut[:idx+1]
	}
	return cut + truncationMarker
}
