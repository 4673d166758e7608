package structure

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/gleanerhq/gleaner/internal/models"
)

// Selectors that would sweep up most of a page. A learned selector this
// broad extracts navigation and boilerplate along with the article.
var tooBroadSelectors = map[string]bool{
	"*":    true,
	"html": true,
	"body": true,
	"div":  true,
	"span": true,
	"p":    true,
}

func isTooBroad(sel string) bool {
	return tooBroadSelectors[strings.ToLower(strings.TrimSpace(sel))]
}

func selectorSyntaxOK(sel string) bool {
	_, err := cascadia.Compile(sel)
	return err == nil
}

// validateStored gates what may live in the selector cache: structural
// validity plus parseable, sufficiently narrow mandatory selectors.
func validateStored(cfg *models.SelectorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, f := range []struct{ name, sel string }{
		{"title", cfg.TitleSelector},
		{"content", cfg.ContentSelector},
	} {
		if !selectorSyntaxOK(f.sel) {
			return fmt.Errorf("%s selector %q does not parse", f.name, f.sel)
		}
		if isTooBroad(f.sel) {
			return fmt.Errorf("%s selector %q is too broad", f.name, f.sel)
		}
	}
	return nil
}

// pageReport is the outcome of checking a config against the live page.
// Mandatory selector failures force fallback replacement; warnings derate
// confidence.
type pageReport struct {
	titleOK   bool
	contentOK bool
	warnings  []string
}

// checkAgainstPage verifies each selector actually works on the page the
// model saw. Optional selectors with unparseable syntax are cleared; optional
// selectors that merely match nothing stay, since other pages on the same
// domain may satisfy them.
func checkAgainstPage(doc *goquery.Document, cfg *models.SelectorConfig) pageReport {
	report := pageReport{}

	report.titleOK = checkMandatory(doc, "title", cfg.TitleSelector, &report.warnings)
	report.contentOK = checkMandatory(doc, "content", cfg.ContentSelector, &report.warnings)

	checkOptional(doc, "author", &cfg.AuthorSelector, &report.warnings)
	checkOptional(doc, "date", &cfg.DateSelector, &report.warnings)
	checkOptional(doc, "container", &cfg.ContainerSelector, &report.warnings)

	kept := cfg.DateAlternatives[:0]
	for _, alt := range cfg.DateAlternatives {
		if selectorSyntaxOK(alt) {
			kept = append(kept, alt)
		}
	}
	cfg.DateAlternatives = kept

	return report
}

func checkMandatory(doc *goquery.Document, field, sel string, warnings *[]string) bool {
	switch {
	case sel == "":
		*warnings = append(*warnings, field+" selector missing")
	case !selectorSyntaxOK(sel):
		*warnings = append(*warnings, fmt.Sprintf("%s selector %q does not parse", field, sel))
	case isTooBroad(sel):
		*warnings = append(*warnings, fmt.Sprintf("%s selector %q is too broad", field, sel))
	case doc.Find(sel).Length() == 0:
		*warnings = append(*warnings, fmt.Sprintf("%s selector %q matches nothing", field, sel))
	default:
		return true
	}
	return false
}

func checkOptional(doc *goquery.Document, field string, sel *string, warnings *[]string) {
	if *sel == "" {
		return
	}
	if !selectorSyntaxOK(*sel) {
		*warnings = append(*warnings, fmt.Sprintf("%s selector %q does not parse", field, *sel))
		*sel = ""
		return
	}
	if doc.Find(*sel).Length() == 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s selector %q matches nothing", field, *sel))
	}
}
