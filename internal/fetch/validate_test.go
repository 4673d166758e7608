package fetch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/models"
)

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func sourcePage(links int) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < links; i++ {
		fmt.Fprintf(&sb, `<a href="/article-%d">Article number %d headline</a>`, i, i)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func TestValidateSourceLinkBoundary(t *testing.T) {
	none := models.ProtectionSignal{Kind: models.ProtectionNone}

	if v := validatePage(sourcePage(10), IntentSource, none); !v.Valid {
		t.Errorf("10 links rejected: %+v", v)
	}
	if v := validatePage(sourcePage(9), IntentSource, none); v.Valid {
		t.Errorf("9 links accepted: %+v", v)
	}
}

func TestValidateArticleTextBoundary(t *testing.T) {
	none := models.ProtectionSignal{Kind: models.ProtectionNone}
	page := func(n int) string {
		return "<html><body><p>" + strings.Repeat("a", n) + "</p></body></html>"
	}

	if v := validatePage(page(501), IntentArticle, none); !v.Valid {
		t.Errorf("501 chars rejected: %+v", v)
	}
	if v := validatePage(page(500), IntentArticle, none); v.Valid {
		t.Errorf("exactly 500 chars accepted: %+v", v)
	}
}

func TestValidateRejectsSuspectedProtection(t *testing.T) {
	page := sourcePage(30)

	suspicious := models.ProtectionSignal{Kind: models.ProtectionCloudflare, Confidence: 31}
	if v := validatePage(page, IntentSource, suspicious); v.Valid {
		t.Error("confidence 31 accepted")
	}

	borderline := models.ProtectionSignal{Kind: models.ProtectionNone, Confidence: 30}
	if v := validatePage(page, IntentSource, borderline); !v.Valid {
		t.Errorf("confidence 30 rejected: %+v", v)
	}
}

func TestCountCountableLinks(t *testing.T) {
	tests := []struct {
		name string
		html string
		want int
	}{
		{
			name: "anchors and htmx unified",
			html: `<body>
				<a href="/news/one">One</a>
				<a href="/news/two">Two</a>
				<div hx-get="/news/two"></div>
				<div hx-get="/news/three"></div>
				<span data-hx-post="/news/four"></span>
			</body>`,
			want: 4,
		},
		{
			name: "excluded urls skipped",
			html: `<body>
				<a href="/search?q=x">Search</a>
				<a href="/login">Login</a>
				<a href="/signup">Sign up</a>
				<div hx-get="/filter?tag=a"></div>
				<a href="/news/kept">Kept</a>
			</body>`,
			want: 1,
		},
		{
			name: "fragments and empty hrefs skipped",
			html: `<body>
				<a href="#top">Top</a>
				<a href="">Blank</a>
				<a href="/real">Real</a>
			</body>`,
			want: 1,
		},
		{
			name: "duplicate hrefs counted once",
			html: `<body>
				<a href="/a">First</a>
				<a href="/a">Again</a>
				<a href="/b">Second</a>
			</body>`,
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countCountableLinks(docFrom(t, tt.html)); got != tt.want {
				t.Errorf("countCountableLinks = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestArticleTextLengthIgnoresScripts(t *testing.T) {
	html := `<body>
		<p>visible text</p>
		<script>var hidden = "` + strings.Repeat("x", 600) + `";</script>
		<style>.a{}</style>
	</body>`
	got := articleTextLength(docFrom(t, html))
	if got != len("visible text") {
		t.Errorf("articleTextLength = %d, want %d", got, len("visible text"))
	}
}

func TestUsableBody(t *testing.T) {
	tests := []struct {
		status  int
		bodyLen int
		want    bool
	}{
		{200, 1025, true},
		{201, 2000, true},
		{200, 1024, false},
		{200, 10, false},
		{403, 50000, false},
		{301, 2000, false},
		{503, 2000, false},
	}
	for _, tt := range tests {
		if got := usableBody(tt.status, tt.bodyLen); got != tt.want {
			t.Errorf("usableBody(%d, %d) = %v, want %v", tt.status, tt.bodyLen, got, tt.want)
		}
	}
}
