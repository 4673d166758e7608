package extract

import (
	"context"
	"strings"

	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

const (
	// lowConfidence is the selector-config confidence below which recovery
	// always runs.
	lowConfidence = 0.5

	// reanalysisAcceptConfidence: a re-analysis result at or below this is
	// treated as weak and discarded.
	reanalysisAcceptConfidence = 0.5

	preExtractedConfidence = 0.6
)

// Service runs the full extraction ladder: selectors, headless
// pre-extracted content, model re-analysis, multi-attempt recovery. A nil
// client disables re-analysis; everything else still works.
type Service struct {
	llm llm.Client
}

func NewService(client llm.Client) *Service {
	return &Service{llm: client}
}

// ExtractArticle extracts the article, escalating through recovery rungs
// while the result stays under the quality gate. The weakest selector
// result is returned when every rung fails, so the caller can still judge
// it against its own thresholds.
func (s *Service) ExtractArticle(ctx context.Context, pageURL, html string, cfg *models.SelectorConfig, pre *models.PreExtracted) (*Content, error) {
	content, err := Extract(html, cfg)
	if err != nil {
		return nil, err
	}
	if !needsRecovery(content) {
		return content, nil
	}

	logger.Debug("extraction needs recovery",
		"url", pageURL,
		"method", content.Method,
		"body_len", len(content.Body),
		"confidence", content.Confidence)

	if c := fromPreExtracted(pre); c != nil && !needsRecovery(c) {
		logger.Debug("using headless pre-extracted content", "url", pageURL)
		return c, nil
	}

	if s.llm != nil {
		c, err := s.reanalyze(ctx, pageURL, html)
		if err != nil {
			logger.Warn("ai re-analysis failed", "url", pageURL, "error", err)
		} else if c != nil {
			return c, nil
		}
	}

	if c := multiAttempt(html); c != nil {
		if strings.TrimSpace(c.Title) == "" {
			c.Title = content.Title
		}
		return c, nil
	}

	return content, nil
}

// needsRecovery reports whether a result is weak enough for the next rung:
// thin content, low confidence, stub title, or a failed quality gate.
func needsRecovery(c *Content) bool {
	title := strings.TrimSpace(c.Title)
	body := strings.TrimSpace(c.Body)
	return len(body) < minContentLen ||
		c.Confidence < lowConfidence ||
		len(title) < minTitleLen ||
		!contentQualityOK(body)
}

// reanalyze asks the model to extract the article directly from HTML. A nil
// result with nil error means the model answered but too weakly to use.
func (s *Service) reanalyze(ctx context.Context, pageURL, html string) (*Content, error) {
	res, err := s.llm.ExtractContent(ctx, pageURL, html)
	if err != nil {
		return nil, err
	}
	if res.Confidence <= reanalysisAcceptConfidence {
		logger.Debug("ai re-analysis too weak",
			"url", pageURL,
			"confidence", res.Confidence)
		return nil, nil
	}

	c := &Content{
		Title:      strings.TrimSpace(res.Title),
		Body:       strings.TrimSpace(res.Content),
		Author:     cleanAuthor(res.Author),
		Method:     MethodAI,
		Confidence: res.Confidence,
	}
	if res.Date != "" {
		c.PublishDate = parseDate(res.Date)
	}
	return c, nil
}

func fromPreExtracted(pre *models.PreExtracted) *Content {
	if pre == nil {
		return nil
	}
	return &Content{
		Title:      strings.TrimSpace(pre.Title),
		Body:       strings.TrimSpace(pre.Text),
		Method:     MethodHeadlessPre,
		Confidence: preExtractedConfidence,
	}
}
