// Package pipeline orchestrates a scrape run: sources in lexicographic
// order, one at a time; articles within a source fanned out across a
// bounded worker group. Failures are absorbed, logged, and appended to the
// error log; the run itself only fails when it cannot start, is cancelled,
// or the browser manager is shutting down.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gleanerhq/gleaner/internal/browser"
	"github.com/gleanerhq/gleaner/internal/discover"
	"github.com/gleanerhq/gleaner/internal/extract"
	"github.com/gleanerhq/gleaner/internal/fetch"
	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/store"
	"github.com/gleanerhq/gleaner/internal/structure"
)

const (
	// defaultConcurrency is the per-source article worker count.
	defaultConcurrency = 3

	// minArticleBody is the smallest body that gets persisted. Shorter
	// extractions are recorded as parsing failures and skipped.
	minArticleBody = 500

	// evictBodyLen is the body length under which the learned selector
	// config is considered stale and evicted, forcing a relearn next time.
	// Between this and minArticleBody the config survives: the page was
	// probably just thin.
	evictBodyLen = 100
)

// Deps carries the engines and stores a run needs.
type Deps struct {
	// AppType labels the deployment flavour in logs ("news", "blog").
	AppType string
	LLM     llm.Client
	Stores  store.Stores
	Fetcher *fetch.Fetcher
}

// Config holds run-level tuning.
type Config struct {
	// Concurrency caps article workers per source. Zero means 3.
	Concurrency int

	// RequestTimeout bounds each page fetch.
	RequestTimeout time.Duration

	// HandleDynamic enables HTMX enrichment on source pages.
	HandleDynamic bool

	// ForceMethod pins every fetch to one tier. Empty means auto.
	ForceMethod models.FetchMethod

	// Discovery options applied to every source.
	IncludePatterns []string
	ExcludePatterns []string
	MaxLinks        int
	AIContext       string
}

// SourceResult counts what happened to one source during a run.
type SourceResult struct {
	Source    string `json:"source"`
	Processed int    `json:"processed"`
	Saved     int    `json:"saved"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// Pipeline runs the fetch → discover → extract → persist chain.
type Pipeline struct {
	deps Deps
	cfg  Config

	structure *structure.Engine
	extract   *extract.Service
	discover  *discover.Discoverer

	// active tracks sources with a scrape in flight; flipping an entry to
	// false stops that source before its next article.
	mu     sync.Mutex
	active map[int64]bool
}

// New wires the pipeline over shared dependencies.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Pipeline{
		deps:      deps,
		cfg:       cfg,
		structure: structure.New(deps.LLM),
		extract:   extract.NewService(deps.LLM),
		discover:  discover.New(deps.LLM),
		active:    make(map[int64]bool),
	}
}

// ScrapeAll processes every active source once, sequentially in name
// order. Per-source failures are absorbed; the error return is reserved
// for not being able to run at all, cancellation, and the browser manager
// shutting down mid-run.
func (p *Pipeline) ScrapeAll(ctx context.Context) error {
	runID := models.NewRunID()
	start := time.Now()

	sources, err := p.deps.Stores.Sources.List(ctx)
	if err != nil {
		p.record(ctx, models.ErrorRecord{
			RunID:   runID,
			Kind:    models.Classify(err),
			Message: err.Error(),
			Step:    "list-sources",
		})
		return fmt.Errorf("list sources: %w", err)
	}

	run := make([]*models.Source, 0, len(sources))
	for _, src := range sources {
		if src.Active {
			run = append(run, src)
		}
	}
	sort.Slice(run, func(i, j int) bool {
		if run[i].Name == run[j].Name {
			return run[i].ID < run[j].ID
		}
		return run[i].Name < run[j].Name
	})

	logger.Info("scrape run starting",
		"run_id", runID, "app", p.deps.AppType, "sources", len(run))

	var processed, saved, failed int
	for _, src := range run {
		if ctx.Err() != nil {
			logger.Warn("scrape run cancelled", "run_id", runID)
			return ctx.Err()
		}

		res, err := p.scrapeSource(ctx, runID, src)
		processed += res.Processed
		saved += res.Saved
		failed += res.Failed
		if err != nil {
			logger.Warn("scrape run aborted",
				"run_id", runID, "source", src.Name, "error", err)
			return fmt.Errorf("scrape %s: %w", src.Name, err)
		}
		logger.Info("source finished",
			"run_id", runID,
			"source", src.Name,
			"processed", res.Processed,
			"saved", res.Saved,
			"skipped", res.Skipped,
			"failed", res.Failed)
	}

	logger.Info("scrape run finished",
		"run_id", runID,
		"sources", len(run),
		"processed", processed,
		"saved", saved,
		"failed", failed,
		"duration", time.Since(start).String())
	return nil
}

// ScrapeSource runs the pipeline for a single source by name, active or
// not. Used by the CLI.
func (p *Pipeline) ScrapeSource(ctx context.Context, name string) (*SourceResult, error) {
	sources, err := p.deps.Stores.Sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	for _, src := range sources {
		if src.Name == name {
			res, err := p.scrapeSource(ctx, models.NewRunID(), src)
			if err != nil {
				return nil, err
			}
			return &res, nil
		}
	}
	return nil, fmt.Errorf("source %q not found", name)
}

// StopSource asks an in-flight source scrape to stop before its next
// article. No-op when the source is not being scraped.
func (p *Pipeline) StopSource(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[id]; ok {
		p.active[id] = false
	}
}

// scrapeSource runs one source to completion. The error return carries only
// fatal conditions (browser manager shutdown); everything else lands in the
// error log and the counters.
func (p *Pipeline) scrapeSource(ctx context.Context, runID string, src *models.Source) (SourceResult, error) {
	res := SourceResult{Source: src.Name}

	p.beginSource(src.ID)
	defer p.endSource(src.ID)

	outcome, err := p.deps.Fetcher.Fetch(ctx, src.URL, fetch.Options{
		Intent:        fetch.IntentSource,
		ForceMethod:   p.cfg.ForceMethod,
		Timeout:       p.cfg.RequestTimeout,
		HandleDynamic: p.cfg.HandleDynamic,
	})
	if err != nil || !outcome.Success {
		if errors.Is(err, browser.ErrShuttingDown) {
			return res, err
		}
		if err == nil {
			err = fmt.Errorf("source page unusable (protection %s, confidence %d)",
				outcome.Protection.Kind, outcome.Protection.Confidence)
			err = models.Tag(models.ErrorNetwork, err)
		}
		p.recordSource(ctx, runID, src, "fetch-source", methodOf(outcome), err)
		return res, nil
	}

	links, err := p.discover.Discover(ctx, outcome.HTML, outcome.FinalURL, discover.Options{
		IncludePatterns: p.cfg.IncludePatterns,
		ExcludePatterns: p.cfg.ExcludePatterns,
		AIContext:       p.cfg.AIContext,
		MaxLinks:        p.cfg.MaxLinks,
	})
	if err != nil {
		p.recordSource(ctx, runID, src, "discover", methodOf(outcome), err)
		return res, nil
	}

	logger.Info("source links discovered",
		"run_id", runID, "source", src.Name, "links", len(links), "method", methodOf(outcome))

	var (
		resMu   sync.Mutex
		learned *models.SelectorConfig
	)
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil || !p.sourceActive(src.ID) {
				return nil
			}
			r, fatal := p.processArticle(ctx, runID, src, link)
			if fatal != nil {
				// Stop the remaining workers before their next article.
				p.StopSource(src.ID)
				return fatal
			}

			resMu.Lock()
			defer resMu.Unlock()
			res.Processed++
			switch r.status {
			case articleSaved:
				res.Saved++
				if learned == nil {
					learned = r.cfg
				}
			case articleSkipped:
				res.Skipped++
			default:
				res.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	if learned != nil && !sameConfig(src.SelectorConfig, learned) {
		if err := p.deps.Stores.Sources.UpdateConfig(ctx, src.ID, learned); err != nil {
			logger.Warn("selector config not persisted",
				"source", src.Name, "error", err)
		}
	}
	if err := p.deps.Stores.Sources.UpdateScraped(ctx, src.ID, time.Now().UTC()); err != nil {
		logger.Warn("last-scraped stamp failed", "source", src.Name, "error", err)
	}
	return res, nil
}

func (p *Pipeline) beginSource(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[id] = true
}

func (p *Pipeline) endSource(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

func (p *Pipeline) sourceActive(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[id]
}

// sameConfig compares the selector fields that matter for persistence.
func sameConfig(a, b *models.SelectorConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.TitleSelector == b.TitleSelector &&
		a.ContentSelector == b.ContentSelector &&
		a.AuthorSelector == b.AuthorSelector &&
		a.DateSelector == b.DateSelector &&
		a.ContainerSelector == b.ContainerSelector
}

func methodOf(outcome *models.FetchOutcome) string {
	if outcome == nil {
		return ""
	}
	return string(outcome.Method)
}
