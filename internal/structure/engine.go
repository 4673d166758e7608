// Package structure learns and caches per-domain CSS selector configs. A
// model proposes selectors for a sample page, the engine sanitises and
// verifies them against the page, and only configs that pass validation are
// cached for the domain.
package structure

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

const (
	// fallbackConfidence floors the confidence of configs that needed
	// fallback selectors.
	fallbackConfidence = 0.3

	// warningDerate is subtracted from model confidence per validation
	// warning.
	warningDerate = 0.1

	minConfidence = 0.1
)

// Engine resolves selector configs for domains, learning them on demand.
type Engine struct {
	llm   llm.Client
	cache *cache
}

// New creates an Engine backed by the given model client.
func New(client llm.Client) *Engine {
	return &Engine{
		llm:   client,
		cache: newCache(),
	}
}

// Selectors returns the selector config for the page's domain. A valid
// cached config is returned as-is; otherwise the engine learns one from the
// page: model proposal, sanitisation, page validation with one re-debug
// round, and fallback selectors when the proposal cannot be made to work.
// Configs are cached per domain only after passing validation.
func (e *Engine) Selectors(ctx context.Context, pageURL, html string) (*models.SelectorConfig, error) {
	domain := domainKey(pageURL)

	if cfg, ok := e.cache.get(domain); ok {
		logger.Debug("selector cache hit", "domain", domain)
		return cfg, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.Tag(models.ErrorParsing, fmt.Errorf("parse page for %s: %w", domain, err))
	}

	prepared := prepareHTML(html)

	cfg, err := e.detectOnce(ctx, pageURL, prepared)
	if err != nil {
		// Left uncached so the next cycle retries learning.
		logger.Warn("structure detection failed, using fallback selectors",
			"domain", domain,
			"error", err)
		return fallbackConfig(doc), nil
	}

	report := checkAgainstPage(doc, cfg)
	if !report.titleOK || !report.contentOK {
		logger.Debug("detected selectors failed page validation, re-debugging",
			"domain", domain,
			"warnings", report.warnings)
		if second, err := e.detectOnce(ctx, pageURL, prepared); err == nil {
			if r2 := checkAgainstPage(doc, second); r2.titleOK && r2.contentOK {
				cfg, report = second, r2
			}
		}
	}

	assemble(doc, cfg, report)

	if err := e.cache.put(domain, cfg); err != nil {
		return nil, models.Tag(models.ErrorParsing, fmt.Errorf("selectors for %s: %w", domain, err))
	}

	logger.Info("learned selectors",
		"domain", domain,
		"title", cfg.TitleSelector,
		"content", cfg.ContentSelector,
		"confidence", cfg.Confidence)
	return cfg, nil
}

// Evict drops the cached config for a domain, forcing re-learning on the
// next request. Accepts a bare domain or a full URL.
func (e *Engine) Evict(domain string) {
	e.cache.evict(domainKey(domain))
}

// detectOnce runs one model round and sanitises the proposal into a config.
func (e *Engine) detectOnce(ctx context.Context, pageURL, prepared string) (*models.SelectorConfig, error) {
	res, err := e.llm.DetectStructure(ctx, pageURL, prepared)
	if err != nil {
		return nil, err
	}

	cfg := &models.SelectorConfig{
		TitleSelector:     sanitizeSelector(res.TitleSelector),
		ContentSelector:   sanitizeSelector(res.ContentSelector),
		AuthorSelector:    sanitizeSelector(res.AuthorSelector),
		DateSelector:      sanitizeSelector(res.DateSelector),
		ContainerSelector: sanitizeSelector(res.ArticleSelector),
		Confidence:        res.Confidence,
	}
	for _, alt := range res.DateAlternatives {
		if s := sanitizeSelector(alt); s != "" {
			cfg.DateAlternatives = append(cfg.DateAlternatives, s)
		}
	}
	return cfg, nil
}

// assemble finalises a config after validation: confidence is derated per
// warning, failed mandatory selectors are replaced from the fallback lists,
// and fallback-patched configs are floored at fallbackConfidence.
func assemble(doc *goquery.Document, cfg *models.SelectorConfig, report pageReport) {
	conf := cfg.Confidence - warningDerate*float64(len(report.warnings))

	usedFallback := false
	if !report.titleOK {
		cfg.TitleSelector = firstMatching(doc, models.TitleFallbacks)
		usedFallback = true
	}
	if !report.contentOK {
		cfg.ContentSelector = firstMatching(doc, models.ContentFallbacks)
		usedFallback = true
	}

	if usedFallback && conf < fallbackConfidence {
		conf = fallbackConfidence
	}
	cfg.Confidence = max(minConfidence, min(1, conf))
}

// fallbackConfig builds a config purely from the fallback lists, used when
// no model proposal is available.
func fallbackConfig(doc *goquery.Document) *models.SelectorConfig {
	return &models.SelectorConfig{
		TitleSelector:   firstMatching(doc, models.TitleFallbacks),
		ContentSelector: firstMatching(doc, models.ContentFallbacks),
		Confidence:      fallbackConfidence,
	}
}

// firstMatching returns the first selector in the ordered list that matches
// the page, or the list head when none do.
func firstMatching(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	return selectors[0]
}
