package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

// Client is the seam the engine depends on for all three LLM operations.
type Client interface {
	// DetectStructure asks for the CSS selectors describing an article
	// page's layout.
	DetectStructure(ctx context.Context, pageURL, html string) (*StructureResult, error)

	// ExtractContent asks for the article fields directly, bypassing
	// selectors. Used by the extractor's AI re-analysis path.
	ExtractContent(ctx context.Context, pageURL, html string) (*ContentResult, error)

	// IdentifyArticleLinks filters link candidates down to the hrefs
	// that point at full articles. Hrefs are returned exactly as given.
	// An optional focus string narrows what counts as an article.
	IdentifyArticleLinks(ctx context.Context, pageURL, focus string, candidates []LinkCandidate) ([]string, error)
}

// StructureResult is the validated shape of a structure-detection response.
type StructureResult struct {
	TitleSelector    string   `json:"title_selector" validate:"required"`
	ContentSelector  string   `json:"content_selector" validate:"required"`
	AuthorSelector   string   `json:"author_selector"`
	DateSelector     string   `json:"date_selector"`
	ArticleSelector  string   `json:"article_selector"`
	DateAlternatives []string `json:"date_alternatives"`
	Confidence       float64  `json:"confidence" validate:"gte=0,lte=1"`
}

// ContentResult is the validated shape of a direct-extraction response.
type ContentResult struct {
	Title      string  `json:"title" validate:"required"`
	Content    string  `json:"content" validate:"required"`
	Author     string  `json:"author"`
	Date       string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// LinkCandidate is one discovered link offered to the article filter. HREF
// is already absolute; Context is nearby page text.
type LinkCandidate struct {
	Title   string
	HREF    string
	Context string
}

type linksResult struct {
	URLs *[]string `json:"article_urls" validate:"required"`
}

// Config holds settings for the LLM service.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	MaxHTML     int
	MaxTokens   int
	Temperature float64
	MaxRetries  int
}

// DefaultConfig returns the service defaults: anthropic, 45 KB of HTML per
// prompt, low temperature for deterministic selectors.
func DefaultConfig() Config {
	return Config{
		Provider:    "anthropic",
		MaxHTML:     45000,
		MaxTokens:   4096,
		Temperature: 0.1,
		MaxRetries:  1,
	}
}

// Service implements Client on top of a Provider.
type Service struct {
	provider Provider
	cfg      Config
	validate *validator.Validate
}

var _ Client = (*Service)(nil)

// New constructs the service and its provider from config.
func New(cfg Config) (*Service, error) {
	provider, err := NewProvider(cfg.Provider, ProviderConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	return NewWithProvider(provider, cfg), nil
}

// NewWithProvider wraps an existing provider. Used by tests.
func NewWithProvider(p Provider, cfg Config) *Service {
	if cfg.MaxHTML == 0 {
		cfg.MaxHTML = DefaultConfig().MaxHTML
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Service{
		provider: p,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// DetectStructure implements Client.
func (s *Service) DetectStructure(ctx context.Context, pageURL, html string) (*StructureResult, error) {
	messages := []Message{
		{Role: RoleSystem, Content: structureSystemPrompt},
		{Role: RoleUser, Content: buildStructurePrompt(pageURL, truncateHTML(html, s.cfg.MaxHTML))},
	}

	content, err := s.execute(ctx, "detect-structure", messages, structureSchema(), "report_selectors")
	if err != nil {
		return nil, models.Tag(models.ErrorAI, fmt.Errorf("detect structure: %w", err))
	}

	var result StructureResult
	if err := s.parse(content, &result); err != nil {
		return nil, models.Tag(models.ErrorAI, fmt.Errorf("detect structure: %w", err))
	}
	return &result, nil
}

// ExtractContent implements Client.
func (s *Service) ExtractContent(ctx context.Context, pageURL, html string) (*ContentResult, error) {
	messages := []Message{
		{Role: RoleSystem, Content: extractSystemPrompt},
		{Role: RoleUser, Content: buildExtractPrompt(pageURL, truncateHTML(html, s.cfg.MaxHTML))},
	}

	content, err := s.execute(ctx, "extract-content", messages, extractSchema(), "report_article")
	if err != nil {
		return nil, models.Tag(models.ErrorAI, fmt.Errorf("extract content: %w", err))
	}

	var result ContentResult
	if err := s.parse(content, &result); err != nil {
		return nil, models.Tag(models.ErrorAI, fmt.Errorf("extract content: %w", err))
	}
	return &result, nil
}

// IdentifyArticleLinks implements Client.
func (s *Service) IdentifyArticleLinks(ctx context.Context, pageURL, focus string, candidates []LinkCandidate) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	messages := []Message{
		{Role: RoleSystem, Content: linksSystemPrompt},
		{Role: RoleUser, Content: buildLinksPrompt(pageURL, focus, candidates)},
	}

	content, err := s.execute(ctx, "identify-links", messages, linksSchema(), "report_article_links")
	if err != nil {
		return nil, models.Tag(models.ErrorAI, fmt.Errorf("identify article links: %w", err))
	}

	var result linksResult
	if err := s.parse(content, &result); err != nil {
		return nil, models.Tag(models.ErrorAI, fmt.Errorf("identify article links: %w", err))
	}
	return *result.URLs, nil
}

// execute runs one provider call, retrying a single time on rate limiting.
// Malformed responses are never retried here; the callers' fallback paths
// handle those.
func (s *Service) execute(ctx context.Context, op string, messages []Message, schema map[string]any, schemaName string) (string, error) {
	req := Request{
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		JSONSchema:  schema,
		SchemaName:  schemaName,
	}

	resp, err := s.provider.Execute(ctx, req)
	if err != nil && isRetryable(err) {
		logger.Debug("llm call rate limited, retrying once", "op", op, "provider", s.provider.Name())
		resp, err = s.provider.Execute(ctx, req)
	}
	if err != nil {
		return "", err
	}

	logger.Debug("llm call completed",
		"op", op,
		"provider", s.provider.Name(),
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", resp.Duration)

	return resp.Content, nil
}

// parse strips code fences, unmarshals, and validates the record shape.
func (s *Service) parse(content string, out any) error {
	content = StripMarkdownCodeBlock(content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	if err := s.validate.Struct(out); err != nil {
		return fmt.Errorf("response shape invalid: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}
