package llm

import (
	"fmt"
	"strings"
)

const structureSystemPrompt = `You are an expert at analysing news and blog article pages. Given the HTML of an article page, you identify the CSS selectors that locate the article's title, body content, author and publish date.

Respond with ONLY valid JSON matching the schema. No explanations.

Rules:
1. Selectors MUST exist in the provided HTML. Never invent class names.
2. Selectors are CSS queries, never visible page text. "By Jane Smith" or "March 5, 2024" are content, not selectors.
3. Do not use :contains() or :has() pseudo-classes.
4. Prefer the most specific selector that matches exactly the target element.
5. Use null for selectors you cannot determine.`

// buildStructurePrompt creates the structure-detection user prompt.
func buildStructurePrompt(pageURL, html string) string {
	var prompt strings.Builder

	prompt.WriteString("Analyse this article page and report the CSS selectors for its fields.\n\n")
	fmt.Fprintf(&prompt, "Page URL: %s\n\n", pageURL)
	prompt.WriteString("## Page HTML\n```html\n")
	prompt.WriteString(html)
	prompt.WriteString("\n```\n")
	prompt.WriteString(`
## Your Task

Report selectors for: title, content, author, date. Also report a container selector for the article element when one exists, and any alternative date selectors you notice.

### Output Format (JSON only, no markdown)
{
  "title_selector": "h1.article-title",
  "content_selector": ".article-body",
  "author_selector": ".byline",
  "date_selector": "time[datetime]",
  "article_selector": "article.post",
  "date_alternatives": [".published-date", "meta[property='article:published_time']"],
  "confidence": 0.85
}

### Selector Guidance
GOOD: "h1.headline" (exists in the HTML above)
GOOD: "time[datetime]" (attribute selector on a real element)
BAD: ".blog-post-title" (invented class not present in the HTML)
BAD: "h1:contains('Breaking')" (unsupported pseudo-class)
BAD: "By Jane Smith" (page text, not a selector)

Set confidence between 0 and 1 reflecting how certain you are the selectors generalise to other articles on this site.`)

	return prompt.String()
}

const extractSystemPrompt = `You are a data extraction assistant. Extract structured article data from webpage content.

Content may be provided as HTML or plain text.

Respond with ONLY valid JSON matching the schema. No explanations.

Rules:
1. Extract the complete article body text, not a summary.
2. Strip navigation, advertising and boilerplate from the content.
3. Date must be formatted YYYY-MM-DD; use null when no publish date exists.
4. Use null for author when no byline exists.`

// buildExtractPrompt creates the direct content-extraction user prompt.
func buildExtractPrompt(pageURL, html string) string {
	var prompt strings.Builder

	prompt.WriteString("Extract the article from the following page.\n\n")
	fmt.Fprintf(&prompt, "Page URL: %s\n\n", pageURL)
	prompt.WriteString("## Page HTML\n```html\n")
	prompt.WriteString(html)
	prompt.WriteString("\n```\n")
	prompt.WriteString(`
### Output Format (JSON only, no markdown)
{
  "title": "the article headline",
  "content": "the full article body text",
  "author": "the byline, or null",
  "date": "2025-03-05",
  "confidence": 0.9
}

Set confidence between 0 and 1 reflecting how complete and clean the extraction is.`)

	return prompt.String()
}

const linksSystemPrompt = `You identify which links on a news or blog section page point to full articles.

Respond with ONLY valid JSON matching the schema. No explanations.

Rules:
1. Include links to individual article pages only.
2. Exclude navigation, category pages, tag pages, author pages, pagination, search, login and signup links.
3. Return href values EXACTLY as given. Never modify, shorten or invent URLs.
4. Preserve the order in which the links were given.`

// buildLinksPrompt creates the article-link identification prompt. Each
// candidate is rendered as an anchor line with its surrounding context.
func buildLinksPrompt(pageURL, focus string, candidates []LinkCandidate) string {
	var prompt strings.Builder

	fmt.Fprintf(&prompt, "These links were found on %s. Identify which point to full articles.\n\n", pageURL)
	if focus != "" {
		fmt.Fprintf(&prompt, "Only include articles about: %s\n\n", focus)
	}
	prompt.WriteString("## Links\n")
	for i, c := range candidates {
		fmt.Fprintf(&prompt, "%d. <a href=\"%s\">%s</a>", i+1, c.HREF, c.Title)
		if c.Context != "" {
			fmt.Fprintf(&prompt, " | context: %s", c.Context)
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString(`
### Output Format (JSON only, no markdown)
{
  "article_urls": ["https://example.com/post/first-article", "https://example.com/post/second"]
}`)

	return prompt.String()
}

func structureSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title_selector":   map[string]any{"type": "string", "description": "CSS selector for the article title"},
			"content_selector": map[string]any{"type": "string", "description": "CSS selector for the article body"},
			"author_selector":  map[string]any{"type": []any{"string", "null"}, "description": "CSS selector for the byline"},
			"date_selector":    map[string]any{"type": []any{"string", "null"}, "description": "CSS selector for the publish date"},
			"article_selector": map[string]any{"type": []any{"string", "null"}, "description": "CSS selector for the article container"},
			"date_alternatives": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"confidence": map[string]any{"type": "number", "description": "0 to 1"},
		},
		"required": []any{"title_selector", "content_selector", "confidence"},
	}
}

func extractSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":      map[string]any{"type": "string"},
			"content":    map[string]any{"type": "string"},
			"author":     map[string]any{"type": []any{"string", "null"}},
			"date":       map[string]any{"type": []any{"string", "null"}, "description": "YYYY-MM-DD"},
			"confidence": map[string]any{"type": "number"},
		},
		"required": []any{"title", "content", "confidence"},
	}
}

func linksSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"article_urls": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"article_urls"},
	}
}

// StripMarkdownCodeBlock removes markdown code fences some models wrap
// around JSON responses.
func StripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	} else {
		return s
	}

	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncateHTML limits HTML fed into a prompt, cutting at a tag boundary when
// one is reasonably close so the model never sees a split tag.
func truncateHTML(html string, maxLen int) string {
	if maxLen <= 0 || len(html) <= maxLen {
		return html
	}

	cut := html[:maxLen]
	if idx := strings.LastIndex(cut, ">"); idx > maxLen/2 {
		cut = cut[:idx+1]
	}
	return cut + "\n<!-- content truncated -->"
}
