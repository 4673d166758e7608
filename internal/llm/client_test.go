package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gleanerhq/gleaner/internal/models"
)

type fakeProvider struct {
	calls int
	fn    func(call int, req Request) (*Response, error)
}

func (f *fakeProvider) Execute(_ context.Context, req Request) (*Response, error) {
	f.calls++
	return f.fn(f.calls, req)
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func newFakeService(fn func(call int, req Request) (*Response, error)) (*Service, *fakeProvider) {
	fake := &fakeProvider{fn: fn}
	return NewWithProvider(fake, DefaultConfig()), fake
}

func respondWith(content string) func(int, Request) (*Response, error) {
	return func(int, Request) (*Response, error) {
		return &Response{Content: content, Model: "fake-model"}, nil
	}
}

func TestDetectStructureParsesValidResponse(t *testing.T) {
	svc, fake := newFakeService(respondWith(`{
		"title_selector": "h1.headline",
		"content_selector": "div.article-body",
		"author_selector": ".byline a",
		"date_selector": "time.published",
		"article_selector": "",
		"date_alternatives": ["meta[property='article:published_time']"],
		"confidence": 0.92
	}`))

	result, err := svc.DetectStructure(context.Background(), "https://example.com/post", "<html></html>")
	if err != nil {
		t.Fatalf("DetectStructure: %v", err)
	}
	if result.TitleSelector != "h1.headline" {
		t.Errorf("TitleSelector = %q, want %q", result.TitleSelector, "h1.headline")
	}
	if result.ContentSelector != "div.article-body" {
		t.Errorf("ContentSelector = %q, want %q", result.ContentSelector, "div.article-body")
	}
	if result.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", result.Confidence)
	}
	if len(result.DateAlternatives) != 1 {
		t.Errorf("DateAlternatives = %v, want one entry", result.DateAlternatives)
	}
	if fake.calls != 1 {
		t.Errorf("provider called %d times, want 1", fake.calls)
	}
}

func TestDetectStructureRequestsToolSchema(t *testing.T) {
	var captured Request
	svc, _ := newFakeService(func(_ int, req Request) (*Response, error) {
		captured = req
		return &Response{Content: `{"title_selector":"h1","content_selector":"main","confidence":0.8}`}, nil
	})

	if _, err := svc.DetectStructure(context.Background(), "https://example.com", "<html></html>"); err != nil {
		t.Fatalf("DetectStructure: %v", err)
	}
	if captured.SchemaName != "report_selectors" {
		t.Errorf("SchemaName = %q, want report_selectors", captured.SchemaName)
	}
	if captured.JSONSchema == nil {
		t.Error("JSONSchema not set on request")
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("got %d messages, want system + user", len(captured.Messages))
	}
	if captured.Messages[0].Role != RoleSystem {
		t.Errorf("first message role = %q, want system", captured.Messages[0].Role)
	}
}

func TestDetectStructureRejectsMissingRequiredField(t *testing.T) {
	// content_selector absent: the record must be rejected whole, not
	// partially accepted.
	svc, _ := newFakeService(respondWith(`{"title_selector": "h1", "confidence": 0.9}`))

	_, err := svc.DetectStructure(context.Background(), "https://example.com", "<html></html>")
	if err == nil {
		t.Fatal("expected error for missing content_selector")
	}
	if models.Classify(err) != models.ErrorAI {
		t.Errorf("Classify = %q, want %q", models.Classify(err), models.ErrorAI)
	}
}

func TestDetectStructureRejectsConfidenceOutOfRange(t *testing.T) {
	svc, _ := newFakeService(respondWith(`{"title_selector": "h1", "content_selector": "main", "confidence": 1.7}`))

	if _, err := svc.DetectStructure(context.Background(), "https://example.com", "<html></html>"); err == nil {
		t.Fatal("expected error for confidence > 1")
	}
}

func TestDetectStructureRejectsMalformedJSON(t *testing.T) {
	svc, _ := newFakeService(respondWith(`the selectors are h1 and div.content`))

	_, err := svc.DetectStructure(context.Background(), "https://example.com", "<html></html>")
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("error = %v, want invalid JSON mention", err)
	}
}

func TestDetectStructureStripsMarkdownFences(t *testing.T) {
	svc, _ := newFakeService(respondWith("```json\n{\"title_selector\":\"h1\",\"content_selector\":\"main\",\"confidence\":0.8}\n```"))

	result, err := svc.DetectStructure(context.Background(), "https://example.com", "<html></html>")
	if err != nil {
		t.Fatalf("DetectStructure: %v", err)
	}
	if result.TitleSelector != "h1" {
		t.Errorf("TitleSelector = %q, want h1", result.TitleSelector)
	}
}

func TestExecuteRetriesRateLimitOnce(t *testing.T) {
	svc, fake := newFakeService(func(call int, _ Request) (*Response, error) {
		if call == 1 {
			return nil, errors.New("429: rate limit exceeded")
		}
		return &Response{Content: `{"title_selector":"h1","content_selector":"main","confidence":0.8}`}, nil
	})

	if _, err := svc.DetectStructure(context.Background(), "https://example.com", "<html></html>"); err != nil {
		t.Fatalf("DetectStructure after retry: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("provider called %d times, want 2", fake.calls)
	}
}

func TestExecuteDoesNotRetryOtherErrors(t *testing.T) {
	svc, fake := newFakeService(func(int, Request) (*Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := svc.DetectStructure(context.Background(), "https://example.com", "<html></html>")
	if err == nil {
		t.Fatal("expected provider error")
	}
	if fake.calls != 1 {
		t.Errorf("provider called %d times, want 1", fake.calls)
	}
	if models.Classify(err) != models.ErrorAI {
		t.Errorf("Classify = %q, want %q", models.Classify(err), models.ErrorAI)
	}
}

func TestExtractContentParsesValidResponse(t *testing.T) {
	svc, _ := newFakeService(respondWith(`{
		"title": "Critical Flaw Patched",
		"content": "A long body of article text.",
		"author": "Jane Smith",
		"date": "2024-01-15",
		"confidence": 0.85
	}`))

	result, err := svc.ExtractContent(context.Background(), "https://example.com/post", "<html></html>")
	if err != nil {
		t.Fatalf("ExtractContent: %v", err)
	}
	if result.Title != "Critical Flaw Patched" {
		t.Errorf("Title = %q", result.Title)
	}
	if result.Date != "2024-01-15" {
		t.Errorf("Date = %q, want 2024-01-15", result.Date)
	}
}

func TestExtractContentRejectsBadDateFormat(t *testing.T) {
	svc, _ := newFakeService(respondWith(`{
		"title": "Post",
		"content": "Body text.",
		"date": "January 15, 2024",
		"confidence": 0.85
	}`))

	if _, err := svc.ExtractContent(context.Background(), "https://example.com", "<html></html>"); err == nil {
		t.Fatal("expected error for non YYYY-MM-DD date")
	}
}

func TestExtractContentAllowsEmptyDate(t *testing.T) {
	svc, _ := newFakeService(respondWith(`{"title": "Post", "content": "Body text.", "confidence": 0.5}`))

	result, err := svc.ExtractContent(context.Background(), "https://example.com", "<html></html>")
	if err != nil {
		t.Fatalf("ExtractContent: %v", err)
	}
	if result.Date != "" {
		t.Errorf("Date = %q, want empty", result.Date)
	}
}

func TestIdentifyArticleLinksParsesResponse(t *testing.T) {
	svc, _ := newFakeService(respondWith(`{"article_urls": ["https://example.com/a", "https://example.com/b"]}`))

	candidates := []LinkCandidate{
		{Title: "First article headline", HREF: "https://example.com/a"},
		{Title: "Second article headline", HREF: "https://example.com/b"},
		{Title: "About us", HREF: "https://example.com/about"},
	}
	urls, err := svc.IdentifyArticleLinks(context.Background(), "https://example.com", "", candidates)
	if err != nil {
		t.Fatalf("IdentifyArticleLinks: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("got %d urls, want 2", len(urls))
	}
	if urls[0] != "https://example.com/a" || urls[1] != "https://example.com/b" {
		t.Errorf("urls = %v, order or content wrong", urls)
	}
}

func TestIdentifyArticleLinksIncludesFocus(t *testing.T) {
	var captured Request
	svc, _ := newFakeService(func(_ int, req Request) (*Response, error) {
		captured = req
		return &Response{Content: `{"article_urls": []}`}, nil
	})

	_, err := svc.IdentifyArticleLinks(context.Background(), "https://example.com", "cybersecurity incidents", []LinkCandidate{
		{Title: "A breach writeup worth reading", HREF: "https://example.com/breach"},
	})
	if err != nil {
		t.Fatalf("IdentifyArticleLinks: %v", err)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("got %d messages, want system + user", len(captured.Messages))
	}
	if !strings.Contains(captured.Messages[1].Content, "cybersecurity incidents") {
		t.Error("focus string not present in user prompt")
	}
}

func TestIdentifyArticleLinksEmptyCandidatesSkipsCall(t *testing.T) {
	svc, fake := newFakeService(respondWith(`{"article_urls": []}`))

	urls, err := svc.IdentifyArticleLinks(context.Background(), "https://example.com", "", nil)
	if err != nil {
		t.Fatalf("IdentifyArticleLinks: %v", err)
	}
	if urls != nil {
		t.Errorf("urls = %v, want nil", urls)
	}
	if fake.calls != 0 {
		t.Errorf("provider called %d times, want 0", fake.calls)
	}
}

func TestIdentifyArticleLinksAcceptsEmptyList(t *testing.T) {
	svc, _ := newFakeService(respondWith(`{"article_urls": []}`))

	urls, err := svc.IdentifyArticleLinks(context.Background(), "https://example.com", "", []LinkCandidate{
		{Title: "About the team", HREF: "https://example.com/about"},
	})
	if err != nil {
		t.Fatalf("IdentifyArticleLinks: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("urls = %v, want empty", urls)
	}
}

func TestIdentifyArticleLinksRejectsMissingKey(t *testing.T) {
	svc, _ := newFakeService(respondWith(`{"urls": ["https://example.com/a"]}`))

	if _, err := svc.IdentifyArticleLinks(context.Background(), "https://example.com", "", []LinkCandidate{
		{Title: "An article", HREF: "https://example.com/a"},
	}); err == nil {
		t.Fatal("expected error for missing article_urls key")
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	if _, err := NewProvider("mystery", ProviderConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}\n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownCodeBlock(tt.input); got != tt.want {
				t.Errorf("StripMarkdownCodeBlock(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateHTMLCutsAtTagBoundary(t *testing.T) {
	html := strings.Repeat("<p>some text</p>", 100)
	got := truncateHTML(html, 200)
	if len(got) > 200+len("\n<!-- content truncated -->") {
		t.Errorf("truncated length = %d, want <= %d", len(got), 200+len("\n<!-- content truncated -->"))
	}
	if !strings.Contains(got, "<!-- content truncated -->") {
		t.Error("missing truncation marker")
	}
	body := strings.TrimSuffix(got, "\n<!-- content truncated -->")
	if !strings.HasSuffix(body, ">") {
		t.Errorf("cut mid-tag: %q", body[len(body)-20:])
	}
}

func TestTruncateHTMLKeepsShortInput(t *testing.T) {
	html := "<p>short</p>"
	if got := truncateHTML(html, 45000); got != html {
		t.Errorf("truncateHTML modified short input: %q", got)
	}
}
