package extract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/gleanerhq/gleaner/internal/models"
)

// extractDate resolves the publish date. The configured selector and its
// alternatives win; after that a prioritised list of conventional locations
// is tried, ending with JSON-LD. Nil when nothing parses.
func extractDate(doc *goquery.Document, cfg *models.SelectorConfig) *time.Time {
	var candidates []string

	if cfg.DateSelector != "" {
		candidates = append(candidates, dateFromSelection(doc, cfg.DateSelector))
	}
	for _, alt := range cfg.DateAlternatives {
		candidates = append(candidates, dateFromSelection(doc, alt))
	}

	candidates = append(candidates,
		dateFromAttr(doc, "time[datetime]", "datetime"),
		dateFromSelection(doc, ".date"),
		dateFromSelection(doc, ".published"),
		dateFromAttr(doc, `meta[property="article:published_time"]`, "content"),
		dateFromAttr(doc, `meta[name="date"]`, "content"),
		dateFromJSONLD(doc),
	)

	for _, c := range candidates {
		if t := parseDate(c); t != nil {
			return t
		}
	}
	return nil
}

// dateFromSelection prefers the element's datetime attribute over its text.
func dateFromSelection(doc *goquery.Document, sel string) string {
	s := doc.Find(sel).First()
	if dt, ok := s.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
		return dt
	}
	return strings.TrimSpace(s.Text())
}

func dateFromAttr(doc *goquery.Document, sel, attr string) string {
	v, _ := doc.Find(sel).First().Attr(attr)
	return v
}

// dateFromJSONLD scans ld+json blocks for a datePublished field, including
// inside @graph containers.
func dateFromJSONLD(doc *goquery.Document) string {
	var found string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if v := findDatePublished(data); v != "" {
			found = v
			return false
		}
		return true
	})
	return found
}

func findDatePublished(data any) string {
	switch v := data.(type) {
	case map[string]any:
		if s, ok := v["datePublished"].(string); ok && s != "" {
			return s
		}
		if graph, ok := v["@graph"]; ok {
			return findDatePublished(graph)
		}
	case []any:
		for _, item := range v {
			if s := findDatePublished(item); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseDate tries strict RFC3339 first, then lenient parsing.
func parseDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		return &t
	}
	return nil
}
