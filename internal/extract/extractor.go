// Package extract turns fetched article pages into structured content. The
// core path is pure selector extraction; the Service adds model-backed
// re-analysis and last-ditch recovery for pages the selectors cannot crack.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/models"
)

// Content is the result of one article extraction.
type Content struct {
	Title       string
	Body        string
	Author      string
	PublishDate *time.Time
	Method      string
	Confidence  float64
}

// Extraction method names, recorded on every Content.
const (
	MethodSelectors   = "selectors"
	MethodVariation   = "selectors+variation"
	MethodAI          = "ai-reanalysis"
	MethodHeadlessPre = "headless-pre-extracted"
)

func multiAttemptMethod(n int) string {
	return fmt.Sprintf("multi-attempt-%d", n)
}

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	bylineRe = regexp.MustCompile(`(?i)^by[\s:]+`)
)

// Extract runs selector extraction over the page. Pure; no I/O and no model
// calls. A selector that misses degrades through spelling variations and
// then the shared fallback list for its field.
func Extract(html string, cfg *models.SelectorConfig) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.Tag(models.ErrorParsing, fmt.Errorf("parse article page: %w", err))
	}
	if cfg == nil {
		cfg = &models.SelectorConfig{}
	}

	var usedVariation bool

	title := selectFirst(doc, cfg.TitleSelector, models.TitleFallbacks, &usedVariation)
	body := selectAll(doc, cfg.ContentSelector, models.ContentFallbacks, &usedVariation)

	// Thin content: aggregate the container's paragraphs instead.
	if len(body) < minContentLen && cfg.ContainerSelector != "" {
		if agg := paragraphText(doc, cfg.ContainerSelector); len(agg) > len(body) {
			body = agg
		}
	}

	author := selectFirst(doc, cfg.AuthorSelector, models.AuthorFallbacks, &usedVariation)

	method := MethodSelectors
	if usedVariation {
		method = MethodVariation
	}

	return &Content{
		Title:       title,
		Body:        body,
		Author:      cleanAuthor(author),
		PublishDate: extractDate(doc, cfg),
		Method:      method,
		Confidence:  cfg.Confidence,
	}, nil
}

// selectFirst resolves a single-valued field through the selector ladder:
// the configured selector, its variations, then the fallback list.
func selectFirst(doc *goquery.Document, sel string, fallbacks []string, usedVariation *bool) string {
	if sel != "" {
		if txt := firstText(doc, sel); txt != "" {
			return txt
		}
		for _, v := range selectorVariations(sel) {
			if txt := firstText(doc, v); txt != "" {
				*usedVariation = true
				return txt
			}
		}
	}
	for _, fb := range fallbacks {
		if txt := firstText(doc, fb); txt != "" {
			return txt
		}
	}
	return ""
}

// selectAll is selectFirst for multi-element fields, joining every match.
func selectAll(doc *goquery.Document, sel string, fallbacks []string, usedVariation *bool) string {
	if sel != "" {
		if txt := allText(doc, sel); txt != "" {
			return txt
		}
		for _, v := range selectorVariations(sel) {
			if txt := allText(doc, v); txt != "" {
				*usedVariation = true
				return txt
			}
		}
	}
	for _, fb := range fallbacks {
		if txt := allText(doc, fb); txt != "" {
			return txt
		}
	}
	return ""
}

func firstText(doc *goquery.Document, sel string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(doc.Find(sel).First().Text(), " "))
}

func allText(doc *goquery.Document, sel string) string {
	var parts []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// paragraphText aggregates paragraph text under the article container.
func paragraphText(doc *goquery.Document, containerSel string) string {
	var parts []string
	doc.Find(containerSel + " p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}

func cleanAuthor(author string) string {
	return strings.TrimSpace(bylineRe.ReplaceAllString(strings.TrimSpace(author), ""))
}
