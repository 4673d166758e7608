// Package protection classifies anti-bot behaviour from a fetch response.
// Detection is a pure function over (status, headers, body); the fetch engine
// decides what to do with the resulting signal.
package protection

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/models"
)

const (
	// BlockThreshold is the confidence at which a body without usable
	// content is treated as blocked and the fetch escalates a tier.
	BlockThreshold = 50

	// SuspicionThreshold is the confidence above which a page fails
	// content validation even when a body was returned.
	SuspicionThreshold = 30
)

// Indicator weights.
const (
	weightStatus       = 30
	weightVendorHeader = 40
	weightBody         = 15
	weightTitle        = 20
	weightScriptSrc    = 20
	weightErrorLink    = 25
)

var bodySignatures = []string{
	"challenge-form",
	"cf-chl-bypass",
	"cf-browser-verification",
	"_cf_chl_jschl_tk",
	"datadome",
	"recaptcha",
}

var titleWords = []string{
	"just a moment",
	"checking your browser",
	"access denied",
	"403",
	"503",
}

var challengeScriptHosts = []string{
	"challenges.cloudflare.com",
	"captcha-delivery.com",
	"google.com/recaptcha",
	"gstatic.com/recaptcha",
	"hcaptcha.com",
}

var errorLandingLinks = []string{
	"cloudflare.com/5xx-error-landing",
	"support.cloudflare.com",
	"errors.edgesuite.net",
}

var rateLimitPhrases = []string{
	"rate limit",
	"too many requests",
	"please slow down",
}

// Detect classifies the anti-bot posture of one response. Confidence is
// capped to [0,100]; indicators record what matched.
func Detect(statusCode int, header http.Header, body string) models.ProtectionSignal {
	var (
		confidence int
		indicators []string
		kind       = models.ProtectionNone
	)

	add := func(weight int, indicator string) {
		confidence += weight
		indicators = append(indicators, indicator)
	}

	// Kind precedence: vendor headers, then vendor body markers, then
	// rate limiting, then a generic challenge.
	setKind := func(k models.ProtectionKind) {
		if kind == models.ProtectionNone {
			kind = k
		}
	}

	switch statusCode {
	case http.StatusForbidden, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		add(weightStatus, "status:"+http.StatusText(statusCode))
	}

	if headerContains(header, "cloudflare") || headerHasKey(header, "cf-ray") {
		setKind(models.ProtectionCloudflare)
		add(weightVendorHeader, "header:cloudflare")
	}
	if headerContains(header, "datadome") {
		setKind(models.ProtectionDataDome)
		add(weightVendorHeader, "header:datadome")
	}

	lowerBody := strings.ToLower(body)
	for _, sig := range bodySignatures {
		if strings.Contains(lowerBody, sig) {
			add(weightBody, "body:"+sig)
			switch {
			case strings.HasPrefix(sig, "cf-") || strings.HasPrefix(sig, "_cf_"):
				setKind(models.ProtectionCloudflare)
			case sig == "datadome":
				setKind(models.ProtectionDataDome)
			case sig == "recaptcha":
				setKind(models.ProtectionRecaptcha)
			}
		}
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
		for _, word := range titleWords {
			if strings.Contains(title, word) {
				add(weightTitle, "title:"+word)
			}
		}

		doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			src = strings.ToLower(src)
			for _, host := range challengeScriptHosts {
				if strings.Contains(src, host) {
					add(weightScriptSrc, "script:"+host)
					if strings.Contains(host, "cloudflare") {
						setKind(models.ProtectionCloudflare)
					}
					if strings.Contains(host, "recaptcha") || strings.Contains(host, "hcaptcha") {
						setKind(models.ProtectionRecaptcha)
					}
					return
				}
			}
		})

		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			href = strings.ToLower(href)
			for _, link := range errorLandingLinks {
				if strings.Contains(href, link) {
					add(weightErrorLink, "link:"+link)
					return
				}
			}
		})
	}

	rateLimited := header.Get("Retry-After") != "" ||
		statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lowerBody, phrase) {
			add(weightBody, "body:"+phrase)
			rateLimited = true
		}
	}
	if header.Get("Retry-After") != "" {
		indicators = append(indicators, "header:retry-after")
	}
	if rateLimited {
		setKind(models.ProtectionRateLimited)
	}

	if confidence > 100 {
		confidence = 100
	}
	if confidence > 0 {
		setKind(models.ProtectionChallenge)
	} else if kind != models.ProtectionRateLimited {
		kind = models.ProtectionNone
	}

	return models.ProtectionSignal{
		Kind:       kind,
		Confidence: confidence,
		Indicators: indicators,
	}
}

func headerContains(header http.Header, needle string) bool {
	for key, values := range header {
		if strings.Contains(strings.ToLower(key), needle) {
			return true
		}
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
	}
	return false
}

func headerHasKey(header http.Header, key string) bool {
	return header.Get(key) != ""
}
