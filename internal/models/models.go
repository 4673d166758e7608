// Package models defines the shared domain records for gleaner: sources,
// articles, selector configs, protection signals, fetch outcomes, and the
// error-log taxonomy.
package models

import (
	"time"
)

// Source is a page the engine periodically scans for article links.
// Only the pipeline mutates a Source: SelectorConfig when structure is
// learned, LastScrapedAt when a run over it completes.
type Source struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	URL            string          `json:"url"`
	Active         bool            `json:"active"`
	LastScrapedAt  *time.Time      `json:"last_scraped_at,omitempty"`
	SelectorConfig *SelectorConfig `json:"selector_config,omitempty"`
}

// Article is one extracted article. Created once per unique URL, never
// updated afterwards.
type Article struct {
	ID            int64      `json:"id"`
	SourceID      int64      `json:"source_id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Author        string     `json:"author,omitempty"`
	PublishDate   *time.Time `json:"publish_date,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Cybersecurity bool       `json:"cybersecurity,omitempty"`
	SecurityScore *float64   `json:"security_score,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ProtectionKind classifies the anti-bot behaviour observed on a response.
type ProtectionKind string

const (
	ProtectionNone        ProtectionKind = "none"
	ProtectionCloudflare  ProtectionKind = "cloudflare"
	ProtectionDataDome    ProtectionKind = "datadome"
	ProtectionRecaptcha   ProtectionKind = "recaptcha"
	ProtectionChallenge   ProtectionKind = "generic-challenge"
	ProtectionRateLimited ProtectionKind = "rate-limited"
)

// ProtectionSignal is the derived bot-protection classification for a single
// response. Transient; never persisted.
type ProtectionSignal struct {
	Kind       ProtectionKind `json:"kind"`
	Confidence int            `json:"confidence"`
	Indicators []string       `json:"indicators,omitempty"`
}

// Detected reports whether any protection indicator was observed.
func (s ProtectionSignal) Detected() bool {
	return s.Kind != ProtectionNone && s.Confidence > 0
}

// FetchMethod identifies which tier produced a fetch outcome.
type FetchMethod string

const (
	FetchMethodHTTP     FetchMethod = "http"
	FetchMethodHeadless FetchMethod = "headless"
)

// PreExtracted is article content the headless tier lifted from the
// rendered DOM during the session. Kept as a recovery candidate for
// extraction, never trusted over selector results.
type PreExtracted struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// FetchOutcome is the result of one tiered fetch. Transient.
type FetchOutcome struct {
	Success      bool             `json:"success"`
	HTML         string           `json:"-"`
	FinalURL     string           `json:"final_url"`
	StatusCode   int              `json:"status_code"`
	Protection   ProtectionSignal `json:"protection"`
	Method       FetchMethod      `json:"method"`
	PreExtracted *PreExtracted    `json:"-"`
}
