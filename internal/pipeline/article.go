package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gleanerhq/gleaner/internal/browser"
	"github.com/gleanerhq/gleaner/internal/discover"
	"github.com/gleanerhq/gleaner/internal/fetch"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

type articleStatus int

const (
	articleFailed articleStatus = iota
	articleSaved
	articleSkipped
)

type articleResult struct {
	status articleStatus
	cfg    *models.SelectorConfig
}

// processArticle takes one discovered link through fetch, structure,
// extraction and persistence. Every failure is absorbed into the error
// log and the caller sees the resulting status; the error return is
// reserved for the one fatal condition, the browser manager shutting
// down, which must reach the scheduler instead of the log.
func (p *Pipeline) processArticle(ctx context.Context, runID string, src *models.Source, link discover.Link) (articleResult, error) {
	exists, err := p.deps.Stores.Articles.ExistsByURL(ctx, link.URL)
	if err != nil {
		p.recordArticle(ctx, runID, src, link.URL, "dedup-check", "", err)
		return articleResult{status: articleFailed}, nil
	}
	if exists {
		logger.Debug("article already stored", "url", link.URL)
		return articleResult{status: articleSkipped}, nil
	}

	outcome, err := p.deps.Fetcher.Fetch(ctx, link.URL, fetch.Options{
		Intent:      fetch.IntentArticle,
		ForceMethod: p.cfg.ForceMethod,
		Timeout:     p.cfg.RequestTimeout,
	})
	if err != nil {
		if errors.Is(err, browser.ErrShuttingDown) {
			return articleResult{status: articleFailed}, err
		}
		p.recordArticle(ctx, runID, src, link.URL, "fetch-article", methodOf(outcome), err)
		return articleResult{status: articleFailed}, nil
	}
	if !outcome.Success {
		err = fmt.Errorf("article page unusable (protection %s, confidence %d)",
			outcome.Protection.Kind, outcome.Protection.Confidence)
		p.recordArticle(ctx, runID, src, link.URL, "fetch-article", methodOf(outcome),
			models.Tag(models.ErrorNetwork, err))
		return articleResult{status: articleFailed}, nil
	}

	cfg, err := p.structure.Selectors(ctx, link.URL, outcome.HTML)
	if err != nil {
		p.recordArticle(ctx, runID, src, link.URL, "detect-structure", methodOf(outcome), err)
		return articleResult{status: articleFailed}, nil
	}

	content, err := p.extract.ExtractArticle(ctx, link.URL, outcome.HTML, cfg, outcome.PreExtracted)
	if err != nil {
		p.recordArticle(ctx, runID, src, link.URL, "extract", methodOf(outcome), err)
		return articleResult{status: articleFailed}, nil
	}

	if len(content.Body) < minArticleBody || content.Title == "" {
		if len(content.Body) < evictBodyLen {
			// Selectors produced nothing usable even after recovery; the
			// cached config is likely stale for this site.
			p.structure.Evict(link.URL)
		}
		err := fmt.Errorf("extracted content below threshold (title %d chars, body %d chars, method %s)",
			len(content.Title), len(content.Body), content.Method)
		p.recordArticle(ctx, runID, src, link.URL, "extract", methodOf(outcome),
			models.Tag(models.ErrorParsing, err))
		return articleResult{status: articleFailed}, nil
	}

	article := &models.Article{
		SourceID:    src.ID,
		URL:         link.URL,
		Title:       content.Title,
		Body:        content.Body,
		Author:      content.Author,
		PublishDate: content.PublishDate,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.deps.Stores.Articles.Insert(ctx, article); err != nil {
		p.recordArticle(ctx, runID, src, link.URL, "persist", methodOf(outcome), err)
		return articleResult{status: articleFailed}, nil
	}

	logger.Info("article saved",
		"run_id", runID,
		"source", src.Name,
		"url", link.URL,
		"method", content.Method,
		"confidence", content.Confidence)
	return articleResult{status: articleSaved, cfg: cfg}, nil
}

// record appends to the error log, never failing the caller.
func (p *Pipeline) record(ctx context.Context, rec models.ErrorRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := p.deps.Stores.Errors.Append(ctx, rec); err != nil {
		logger.Warn("error log append failed", "error", err)
	}
}

func (p *Pipeline) recordSource(ctx context.Context, runID string, src *models.Source, step, method string, err error) {
	logger.Warn("source step failed",
		"run_id", runID, "source", src.Name, "step", step, "error", err)
	p.record(ctx, models.ErrorRecord{
		RunID:     runID,
		SourceID:  &src.ID,
		SourceURL: src.URL,
		Kind:      models.Classify(err),
		Message:   err.Error(),
		Method:    method,
		Step:      step,
	})
}

func (p *Pipeline) recordArticle(ctx context.Context, runID string, src *models.Source, articleURL, step, method string, err error) {
	logger.Warn("article step failed",
		"run_id", runID, "source", src.Name, "url", articleURL, "step", step, "error", err)
	p.record(ctx, models.ErrorRecord{
		RunID:      runID,
		SourceID:   &src.ID,
		SourceURL:  src.URL,
		ArticleURL: articleURL,
		Kind:       models.Classify(err),
		Message:    err.Error(),
		Method:     method,
		Step:       step,
	})
}
