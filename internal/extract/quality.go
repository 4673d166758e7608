package extract

import (
	"strings"
	"unicode"
)

const (
	// minContentLen is the quality-gate floor for extracted body text.
	minContentLen = 100

	// minTitleLen below which a title alone triggers recovery.
	minTitleLen = 10

	// minParagraphLen filters stub paragraphs during aggregation.
	minParagraphLen = 20
)

// Words that dominate menus, footers, and consent banners. Three or more
// distinct hits near the start of a text mark it as page chrome.
var navKeywords = []string{
	"home", "menu", "navigation", "skip to", "search", "subscribe",
	"sign in", "log in", "cookie", "accept all", "share this", "follow us",
	"related articles", "advertisement", "privacy policy", "terms of",
}

// contentQualityOK gates body text: long enough, not navigation chrome, not
// one phrase repeated, mostly alphanumeric.
func contentQualityOK(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < minContentLen {
		return false
	}
	return !looksLikeNavigation(t) && !isRepeatedPhrase(t) && !mostlyNonAlphanumeric(t)
}

func looksLikeNavigation(t string) bool {
	head := strings.ToLower(t)
	if len(head) > 240 {
		head = head[:240]
	}
	hits := 0
	for _, kw := range navKeywords {
		if strings.Contains(head, kw) {
			hits++
		}
	}
	return hits >= 3
}

// isRepeatedPhrase catches list templates that render one short fragment
// over and over.
func isRepeatedPhrase(t string) bool {
	words := strings.Fields(t)
	if len(words) < 10 {
		return false
	}
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[strings.ToLower(w)] = struct{}{}
	}
	return float64(len(distinct))/float64(len(words)) < 0.2
}

func mostlyNonAlphanumeric(t string) bool {
	var alnum, total int
	for _, r := range t {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if total == 0 {
		return true
	}
	return float64(alnum)/float64(total) < 0.5
}
