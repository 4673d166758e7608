package structure

import (
	"regexp"
	"strings"

	"github.com/gleanerhq/gleaner/internal/models"
)

// Pseudo-classes cascadia cannot evaluate. The argument form is stripped
// repeatedly to unwind nesting like :has(a:contains(x)); the bare form
// catches models that emit the pseudo-class without parentheses.
var (
	pseudoClassArgRe  = regexp.MustCompile(`:(?:contains|has)\([^()]*\)`)
	pseudoClassBareRe = regexp.MustCompile(`:(?:contains|has)\b`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
)

// sanitizeSelector normalises a model-returned selector. Unsupported
// pseudo-classes are stripped and whitespace collapsed; anything that ends up
// empty, a placeholder, or looking like page text is rejected and reported as
// absent.
func sanitizeSelector(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "undefined") || strings.EqualFold(s, "null") {
		return ""
	}

	for {
		next := pseudoClassArgRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = pseudoClassBareRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))

	if s == "" || models.IsTextualSelector(s) {
		return ""
	}
	return s
}
