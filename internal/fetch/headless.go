package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/gleanerhq/gleaner/internal/browser"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

// settleDelay gives client-side rendering a moment after the load event
// before the DOM is read.
const settleDelay = 2 * time.Second

// headlessTier renders pages through the shared browser with stealth hooks
// already registered by the manager.
type headlessTier struct {
	browser *browser.Manager
}

func newHeadlessTier(mgr *browser.Manager) *headlessTier {
	return &headlessTier{browser: mgr}
}

// fetch navigates a fresh page and returns the rendered DOM along with the
// main document's status and headers captured off the wire.
func (t *headlessTier) fetch(ctx context.Context, targetURL string, intent Intent, handleDynamic bool) (*response, error) {
	if t.browser == nil {
		return nil, models.Tag(models.ErrorHeadless, errors.New("headless tier disabled: no browser manager"))
	}
	page, err := t.browser.NewPage(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrShuttingDown) {
			return nil, err
		}
		return nil, tagHeadless(fmt.Errorf("headless fetch %s: %w", targetURL, err))
	}
	defer page.Close()

	statusCode := 0
	header := make(http.Header)
	var mainFrame cdp.FrameID
	chromedp.ListenTarget(page.Context(), func(ev any) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Type != network.ResourceTypeDocument {
			return
		}
		// The first document response belongs to the main frame; later
		// ones on the same frame are redirect hops overwriting it.
		if mainFrame == "" {
			mainFrame = e.FrameID
		}
		if e.FrameID != mainFrame {
			return
		}
		statusCode = int(e.Response.Status)
		for k, v := range e.Response.Headers {
			header.Set(k, fmt.Sprint(v))
		}
	})

	if err := page.Run(ctx,
		network.Enable(),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return nil, tagHeadless(fmt.Errorf("headless fetch %s: %w", targetURL, err))
	}

	if intent == IntentSource && handleDynamic {
		t.enrichHTMX(ctx, page)
	}

	var html, finalURL string
	if err := page.Run(ctx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return nil, tagHeadless(fmt.Errorf("headless capture %s: %w", targetURL, err))
	}

	var pre *models.PreExtracted
	if intent == IntentArticle {
		pre = t.preExtract(ctx, page)
	}

	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	logger.Debug("headless tier fetched",
		"url", targetURL,
		"status", statusCode,
		"bytes", len(html))
	return &response{
		html:         html,
		statusCode:   statusCode,
		finalURL:     finalURL,
		header:       header,
		preExtracted: pre,
	}, nil
}

// preExtract lifts title and main text from the rendered DOM while the page
// is still open. Best effort; extraction proper runs on the captured HTML.
func (t *headlessTier) preExtract(ctx context.Context, page *browser.Page) *models.PreExtracted {
	var pre models.PreExtracted
	if err := page.Run(ctx, chromedp.Evaluate(preExtractScript, &pre)); err != nil {
		logger.Debug("headless pre-extraction failed", "error", err)
		return nil
	}
	if strings.TrimSpace(pre.Text) == "" {
		return nil
	}
	return &pre
}

// enrichHTMX runs the in-page HTMX pass, repeating once when the enriched
// DOM still offers few link candidates. Enrichment failures degrade to the
// un-enriched DOM rather than failing the fetch.
func (t *headlessTier) enrichHTMX(ctx context.Context, page *browser.Page) {
	var present bool
	if err := page.Run(ctx, chromedp.Evaluate(htmxDetectScript, &present)); err != nil || !present {
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		var stats struct {
			Injected int `json:"injected"`
			Clicked  int `json:"clicked"`
		}
		err := page.Run(ctx, chromedp.Evaluate(htmxEnrichScript, &stats,
			func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}))
		if err != nil {
			logger.Debug("htmx page enrichment failed", "attempt", attempt, "error", err)
			return
		}
		logger.Debug("htmx page enrichment",
			"attempt", attempt,
			"injected", stats.Injected,
			"clicked", stats.Clicked)

		var html string
		if err := page.Run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
			return
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil || countCountableLinks(doc) >= htmxMinCandidates {
			return
		}
	}
}

// tagHeadless marks browser failures with the headless kind, leaving
// cancellation and deadline errors to classify as timeouts.
func tagHeadless(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return models.Tag(models.ErrorHeadless, err)
}

// preExtractScript pulls the headline and main text out of the live DOM
// using conventional containers, as a recovery candidate for extraction.
const preExtractScript = `(() => {
	const pick = (sels) => {
		for (const s of sels) {
			const el = document.querySelector(s);
			if (el && el.innerText && el.innerText.trim().length > 0) {
				return el.innerText.trim();
			}
		}
		return '';
	};
	const title = pick(['h1', '.article-title', '.headline', '.post-title']) || document.title || '';
	const text = pick(['article', 'main', '.article-content', '.article-body', '.post-content', '.entry-content']);
	return { title: title, text: text };
})()`
