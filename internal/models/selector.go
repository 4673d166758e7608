package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SelectorConfig holds the learned CSS selectors for one domain. Title and
// content selectors are mandatory; the rest are best-effort.
type SelectorConfig struct {
	TitleSelector     string   `json:"title_selector" yaml:"title_selector" validate:"required"`
	ContentSelector   string   `json:"content_selector" yaml:"content_selector" validate:"required"`
	AuthorSelector    string   `json:"author_selector,omitempty" yaml:"author_selector,omitempty"`
	DateSelector      string   `json:"date_selector,omitempty" yaml:"date_selector,omitempty"`
	ContainerSelector string   `json:"container_selector,omitempty" yaml:"container_selector,omitempty"`
	DateAlternatives  []string `json:"date_alternatives,omitempty" yaml:"date_alternatives,omitempty"`
	Confidence        float64  `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
}

// Ordered fallback selectors tried when a learned selector is missing or
// fails against the page. Shared by structure learning and extraction.
var (
	TitleFallbacks = []string{
		"h1", ".article-title", ".post-title", ".headline", ".title",
		"h1.title", "h1.headline", ".entry-title",
	}
	ContentFallbacks = []string{
		"article", ".article-content", ".article-body", "main .content",
		".post-content", "#article-content", ".story-content",
		".entry-content", "main", ".main-content", "#main-content",
	}
	AuthorFallbacks = []string{
		".author", ".byline", ".article-author", ".post-author", ".writer",
		".by-author", "[rel=author]",
	}
	DateFallbacks = []string{
		"time", "[datetime]", ".article-date", ".post-date",
		".published-date", ".timestamp", ".date", ".publish-date",
		".created-date",
	}
)

// Textual patterns that mark a "selector" as page text the model copied out
// instead of a CSS query: month names, bylines, publish labels, date and time
// formats, parenthesised timezones.
var textualPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`),
	regexp.MustCompile(`(?i)^by\s+\p{L}`),
	regexp.MustCompile(`(?i)published:`),
	regexp.MustCompile(`\d{1,2}[/.]\d{1,2}[/.]\d{2,4}`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`\d{1,2}:\d{2}`),
	regexp.MustCompile(`\([A-Z]{2,5}\)`),
}

// IsTextualSelector reports whether s looks like visible page text rather
// than a CSS selector. Such strings must never be used as selectors or enter
// the selector cache.
func IsTextualSelector(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, p := range textualPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Validate checks the config invariants: struct tags, no "undefined"
// placeholders, no textual content in the mandatory selectors. A config that
// fails here must never enter the selector cache.
func (c *SelectorConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("selector config is nil")
	}
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("selector config: field %s %s", e.Field(), formatValidationError(e))
		}
		return fmt.Errorf("selector config: %w", err)
	}

	if err := checkSelector("title", c.TitleSelector); err != nil {
		return err
	}
	return checkSelector("content", c.ContentSelector)
}

func checkSelector(field, sel string) error {
	trimmed := strings.TrimSpace(sel)
	if trimmed == "" || strings.EqualFold(trimmed, "undefined") || strings.EqualFold(trimmed, "null") {
		return fmt.Errorf("selector config: %s selector is empty", field)
	}
	if IsTextualSelector(trimmed) {
		return fmt.Errorf("selector config: %s selector %q looks like page text", field, trimmed)
	}
	return nil
}

// formatValidationError creates a human-readable message for a field error.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", e.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
