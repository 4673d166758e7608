// Package fetch implements tiered page retrieval: a plain HTTP tier with
// rotated browser header profiles, escalating to a shared headless browser
// when the response is missing, tiny, or blocked by bot protection. Every
// outcome carries the protection signal and the tier that produced it.
package fetch

import (
	"context"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/browser"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/protection"
)

const defaultTimeout = 30 * time.Second

// Intent is the page class being fetched; it selects which content
// validation applies.
type Intent string

const (
	IntentSource  Intent = "source"
	IntentArticle Intent = "article"
)

// Options controls one fetch.
type Options struct {
	Intent        Intent
	ForceMethod   models.FetchMethod // empty for auto tiering
	Timeout       time.Duration
	HandleDynamic bool
}

// Config holds fetch engine settings.
type Config struct {
	// Timeout bounds the HTTP tier request and the whole fetch when no
	// per-call timeout is given. Defaults to 30s.
	Timeout time.Duration
}

// Fetcher is the tiered fetch engine. Safe for concurrent use.
type Fetcher struct {
	cfg      Config
	http     *httpTier
	headless *headlessTier
}

// New builds the engine over the shared browser manager. The manager's
// lifecycle belongs to the caller.
func New(cfg Config, mgr *browser.Manager) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid())))
	return &Fetcher{
		cfg:      cfg,
		http:     newHTTPTier(cfg.Timeout, rng),
		headless: newHeadlessTier(mgr),
	}
}

// Fetch retrieves a page, escalating HTTP → headless when the first tier
// yields a transport error, a tiny body, or a blocked response. A fetched
// page with protection indicators but a usable body stays on the HTTP tier.
// No retries happen within a call.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string, opts Options) (*models.FetchOutcome, error) {
	if opts.Intent == "" {
		opts.Intent = IntentArticle
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.ForceMethod != models.FetchMethodHeadless {
		resp, err := f.http.fetch(targetURL)
		if err != nil {
			if opts.ForceMethod == models.FetchMethodHTTP {
				return &models.FetchOutcome{Success: false, Method: models.FetchMethodHTTP}, err
			}
			logger.Debug("http transport error, escalating", "url", targetURL, "error", err)
		} else {
			signal := protection.Detect(resp.statusCode, resp.header, resp.html)
			if usableBody(resp.statusCode, len(resp.html)) {
				outcome := f.finishHTTP(resp, opts, signal)
				if outcome.Success || opts.ForceMethod == models.FetchMethodHTTP {
					return outcome, nil
				}
				logger.Debug("http content failed validation, escalating",
					"url", targetURL, "intent", string(opts.Intent))
			} else {
				logger.Debug("http tier unusable, escalating",
					"url", targetURL,
					"status", resp.statusCode,
					"bytes", len(resp.html),
					"protection", string(signal.Kind),
					"confidence", signal.Confidence)
				if opts.ForceMethod == models.FetchMethodHTTP {
					return outcomeFrom(resp, models.FetchMethodHTTP, signal, false), nil
				}
			}
		}
	}

	return f.fetchHeadless(ctx, targetURL, opts)
}

// finishHTTP runs HTMX enrichment where applicable, validates, and builds
// the outcome for an HTTP-tier candidate.
func (f *Fetcher) finishHTTP(resp *response, opts Options, signal models.ProtectionSignal) *models.FetchOutcome {
	html := resp.html
	if opts.Intent == IntentSource && opts.HandleDynamic {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil && detectHTMX(doc) {
			for attempt := 1; attempt <= 2; attempt++ {
				f.http.enrichWithHTMX(doc, resp.finalURL)
				if countCountableLinks(doc) >= htmxMinCandidates {
					break
				}
			}
			if enriched, err := doc.Html(); err == nil {
				html = enriched
			}
		}
	}

	v := validatePage(html, opts.Intent, signal)
	if !v.Valid {
		logger.Debug("http page failed validation",
			"url", resp.finalURL,
			"reason", v.Reason,
			"links", v.Links,
			"text_len", v.TextLen)
	}
	resp.html = html
	return outcomeFrom(resp, models.FetchMethodHTTP, signal, v.Valid)
}

func (f *Fetcher) fetchHeadless(ctx context.Context, targetURL string, opts Options) (*models.FetchOutcome, error) {
	resp, err := f.headless.fetch(ctx, targetURL, opts.Intent, opts.HandleDynamic)
	if err != nil {
		return &models.FetchOutcome{Success: false, Method: models.FetchMethodHeadless}, err
	}

	signal := protection.Detect(resp.statusCode, resp.header, resp.html)
	v := validatePage(resp.html, opts.Intent, signal)
	if !v.Valid {
		logger.Warn("headless fetch produced unusable page",
			"url", targetURL,
			"reason", v.Reason,
			"protection", string(signal.Kind),
			"confidence", signal.Confidence)
	}
	return outcomeFrom(resp, models.FetchMethodHeadless, signal, v.Valid), nil
}

func outcomeFrom(resp *response, method models.FetchMethod, signal models.ProtectionSignal, success bool) *models.FetchOutcome {
	return &models.FetchOutcome{
		Success:      success,
		HTML:         resp.html,
		FinalURL:     resp.finalURL,
		StatusCode:   resp.statusCode,
		Protection:   signal,
		Method:       method,
		PreExtracted: resp.preExtracted,
	}
}

// usableBody reports whether an HTTP response qualifies as a candidate:
// any 2xx whose body exceeds 1 KB.
func usableBody(statusCode, bodyLen int) bool {
	return statusCode >= 200 && statusCode < 300 && bodyLen > minUsableBody
}
