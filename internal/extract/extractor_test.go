package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/gleanerhq/gleaner/internal/models"
)

const articlePage = `<html><head><title>site</title></head><body>
<div class="article">
<h1 class="headline">Regulators approve new offshore wind farm</h1>
<div class="byline">By Jane Smith</div>
<time class="published" datetime="2024-01-15T10:30:00Z">January 15, 2024</time>
<div class="article-body">
<p>The coastal energy commission cleared the project after a two-year review process.</p>
<p>Construction is expected to begin next spring and finish within three years.</p>
</div>
</div>
</body></html>`

func articleConfig() *models.SelectorConfig {
	return &models.SelectorConfig{
		TitleSelector:   "h1.headline",
		ContentSelector: ".article-body",
		AuthorSelector:  ".byline",
		DateSelector:    "time.published",
		Confidence:      0.9,
	}
}

func TestExtractWithConfiguredSelectors(t *testing.T) {
	got, err := Extract(articlePage, articleConfig())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if got.Title != "Regulators approve new offshore wind farm" {
		t.Errorf("Title = %q", got.Title)
	}
	if !strings.Contains(got.Body, "coastal energy commission") ||
		!strings.Contains(got.Body, "Construction is expected") {
		t.Errorf("Body missing paragraphs: %q", got.Body)
	}
	if got.Author != "Jane Smith" {
		t.Errorf("Author = %q, want byline prefix stripped", got.Author)
	}
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if got.PublishDate == nil || !got.PublishDate.Equal(want) {
		t.Errorf("PublishDate = %v, want %v", got.PublishDate, want)
	}
	if got.Method != MethodSelectors {
		t.Errorf("Method = %q, want %q", got.Method, MethodSelectors)
	}
	if got.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", got.Confidence)
	}
}

func TestExtractUsesVariations(t *testing.T) {
	cfg := articleConfig()
	// Underscore spelling of a hyphenated class on the page.
	cfg.ContentSelector = ".article_body"

	got, err := Extract(articlePage, cfg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got.Body, "coastal energy commission") {
		t.Fatalf("variation did not recover content: %q", got.Body)
	}
	if got.Method != MethodVariation {
		t.Errorf("Method = %q, want %q", got.Method, MethodVariation)
	}
}

func TestExtractFieldFallbacks(t *testing.T) {
	cfg := &models.SelectorConfig{
		TitleSelector:   ".missing-title",
		ContentSelector: ".missing-content",
		Confidence:      0.5,
	}

	got, err := Extract(articlePage, cfg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "Regulators approve new offshore wind farm" {
		t.Errorf("fallback title = %q", got.Title)
	}
	if !strings.Contains(got.Body, "coastal energy commission") {
		t.Errorf("fallback content missing: %q", got.Body)
	}
	if got.Author != "Jane Smith" {
		t.Errorf("fallback author = %q", got.Author)
	}
	if got.Method != MethodSelectors {
		t.Errorf("Method = %q, want %q for fallback-list hits", got.Method, MethodSelectors)
	}
}

func TestExtractContainerAggregation(t *testing.T) {
	page := `<html><body>
<div class="story">
<h1>Short headline for the story</h1>
<div class="summary">Too thin.</div>
<p>First full paragraph with a reasonable amount of text inside it for testing.</p>
<p>Second full paragraph that also carries enough words to matter here.</p>
</div>
</body></html>`

	cfg := &models.SelectorConfig{
		TitleSelector:     "h1",
		ContentSelector:   ".summary",
		ContainerSelector: ".story",
		Confidence:        0.9,
	}

	got, err := Extract(page, cfg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got.Body, "First full paragraph") ||
		!strings.Contains(got.Body, "Second full paragraph") {
		t.Errorf("container aggregation missing paragraphs: %q", got.Body)
	}
	if strings.TrimSpace(got.Body) == "Too thin." {
		t.Error("thin selector result not replaced by container paragraphs")
	}
}

func TestExtractEmptyPage(t *testing.T) {
	got, err := Extract("<html><body></body></html>", articleConfig())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "" || got.Body != "" || got.Author != "" {
		t.Errorf("empty page produced content: %+v", got)
	}
	if got.PublishDate != nil {
		t.Errorf("PublishDate = %v, want nil", got.PublishDate)
	}
}

func TestCleanAuthor(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"By Jane Smith", "Jane Smith"},
		{"by jane smith", "jane smith"},
		{"BY: Jane Smith", "Jane Smith"},
		{"  Jane Smith  ", "Jane Smith"},
		{"Byron Woods", "Byron Woods"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanAuthor(tt.in); got != tt.want {
			t.Errorf("cleanAuthor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
