package discover

import (
	"context"

	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/logger"
)

// filterWithModel keeps only the candidates the model recognises as
// article links. Candidate order is preserved regardless of the order the
// model answers in, and URLs the model invents are dropped. A failed call
// leaves the list unfiltered rather than sinking the whole discovery run.
func (d *Discoverer) filterWithModel(ctx context.Context, pageURL, focus string, links []Link) []Link {
	candidates := make([]llm.LinkCandidate, len(links))
	known := make(map[string]bool, len(links))
	for i, l := range links {
		candidates[i] = llm.LinkCandidate{Title: l.Title, HREF: l.URL, Context: l.Context}
		known[l.URL] = true
	}

	urls, err := d.llm.IdentifyArticleLinks(ctx, pageURL, focus, candidates)
	if err != nil {
		logger.Warn("link filter failed, keeping unfiltered candidates", "url", pageURL, "error", err)
		return links
	}

	keep := make(map[string]bool, len(urls))
	hallucinated := 0
	for _, u := range urls {
		if !known[u] {
			hallucinated++
			continue
		}
		keep[u] = true
	}
	if hallucinated > 0 {
		logger.Warn("model answered with urls it was never shown", "url", pageURL, "count", hallucinated)
	}

	filtered := make([]Link, 0, len(keep))
	for _, l := range links {
		if keep[l.URL] {
			filtered = append(filtered, l)
		}
	}
	logger.Debug("model link filter", "url", pageURL, "in", len(links), "kept", len(filtered))
	return filtered
}
