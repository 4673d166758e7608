package extract

import (
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Attempt confidences decrease as the methods get blunter.
const (
	attempt1Confidence = 0.4
	attempt2Confidence = 0.3
	attempt3Confidence = 0.2
)

var (
	scriptBlockRe   = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleBlockRe    = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	noscriptBlockRe = regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript>`)
	htmlCommentRe   = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// multiAttempt is the last-ditch ladder: lenient XML text aggregation,
// aggressive strip plus semantic landmarks, then bare paragraph collection.
// Each attempt must pass the quality gate to win.
func multiAttempt(html string) *Content {
	if c := attemptXML(html); c != nil {
		return c
	}
	if c := attemptSemantic(html); c != nil {
		return c
	}
	return attemptParagraphs(html)
}

// attemptXML reparses the page as lenient XML and aggregates character data
// outside script and style elements, catching markup too broken for the
// HTML parser to salvage.
func attemptXML(html string) *Content {
	dec := xml.NewDecoder(strings.NewReader(html))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var body strings.Builder
	var titleBuf strings.Builder
	var title string
	skipDepth := 0
	inTitle := false

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch strings.ToLower(t.Name.Local) {
			case "script", "style", "noscript":
				skipDepth++
			case "h1":
				if title == "" {
					inTitle = true
				}
			}
		case xml.EndElement:
			switch strings.ToLower(t.Name.Local) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			case "h1":
				if inTitle {
					inTitle = false
					title = strings.TrimSpace(titleBuf.String())
				}
			}
		case xml.CharData:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			if inTitle {
				titleBuf.WriteString(text)
				titleBuf.WriteString(" ")
			}
			body.WriteString(text)
			body.WriteString(" ")
		}
	}

	aggregated := strings.TrimSpace(body.String())
	if !contentQualityOK(aggregated) {
		return nil
	}
	return &Content{
		Title:      title,
		Body:       aggregated,
		Method:     multiAttemptMethod(1),
		Confidence: attempt1Confidence,
	}
}

// attemptSemantic strips scripted noise textually, reparses, and reads the
// semantic landmarks.
func attemptSemantic(html string) *Content {
	cleaned := scriptBlockRe.ReplaceAllString(html, "")
	cleaned = styleBlockRe.ReplaceAllString(cleaned, "")
	cleaned = noscriptBlockRe.ReplaceAllString(cleaned, "")
	cleaned = htmlCommentRe.ReplaceAllString(cleaned, "")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleaned))
	if err != nil {
		return nil
	}

	body := allText(doc, "article, main, [role=main]")
	if body == "" {
		body = allText(doc, "section")
	}
	if !contentQualityOK(body) {
		return nil
	}
	return &Content{
		Title:      firstText(doc, "h1"),
		Body:       body,
		Method:     multiAttemptMethod(2),
		Confidence: attempt2Confidence,
	}
}

// attemptParagraphs aggregates every paragraph longer than minParagraphLen,
// dropping ones that read like navigation.
func attemptParagraphs(html string) *Content {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if len(t) > minParagraphLen && !looksLikeNavigation(t) {
			parts = append(parts, t)
		}
	})

	body := strings.Join(parts, "\n\n")
	if !contentQualityOK(body) {
		return nil
	}
	return &Content{
		Title:      firstText(doc, "h1"),
		Body:       body,
		Method:     multiAttemptMethod(3),
		Confidence: attempt3Confidence,
	}
}
