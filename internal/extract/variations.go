package extract

import (
	"regexp"
	"strings"
)

var (
	classTokenRe    = regexp.MustCompile(`\.([A-Za-z0-9_-]+)`)
	pseudoSuffixRe  = regexp.MustCompile(`::?[a-zA-Z][a-zA-Z0-9-]*(\([^)]*\))?`)
	childCombinator = regexp.MustCompile(`\s*>\s*`)
)

// selectorVariations generates alternative spellings to try when a selector
// matches nothing: separator swaps, substring class-attribute forms,
// pseudo-class removal, and combinator flips. The original selector is never
// included.
func selectorVariations(sel string) []string {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil
	}

	var out []string
	seen := map[string]bool{sel: true}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	if strings.Contains(sel, "_") {
		add(strings.ReplaceAll(sel, "_", "-"))
	}
	if strings.Contains(sel, "-") {
		add(strings.ReplaceAll(sel, "-", "_"))
	}

	if classTokenRe.MatchString(sel) {
		add(classTokenRe.ReplaceAllString(sel, `[class*="$1"]`))
	}

	add(pseudoSuffixRe.ReplaceAllString(sel, ""))

	if strings.Contains(sel, ">") {
		add(childCombinator.ReplaceAllString(sel, " "))
	} else if strings.Contains(sel, " ") {
		add(strings.ReplaceAll(sel, " ", " > "))
	}

	return out
}
