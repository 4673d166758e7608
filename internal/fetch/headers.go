package fetch

import (
	"math/rand/v2"
	"net/http"
)

// headerProfile is one realistic browser identity: user agent plus the
// client-hint and fetch-metadata headers that agent would actually send.
// Safari profiles carry no Sec-CH-UA headers, matching real Safari.
type headerProfile struct {
	UserAgent       string
	AcceptLanguage  string
	SecCHUA         string
	SecCHUAMobile   string
	SecCHUAPlatform string
}

var headerProfiles = []headerProfile{
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecCHUA:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecCHUAMobile:   "?0",
		SecCHUAPlatform: `"Windows"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecCHUA:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecCHUAMobile:   "?0",
		SecCHUAPlatform: `"macOS"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-US,en;q=0.8",
		SecCHUA:         `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`,
		SecCHUAMobile:   "?0",
		SecCHUAPlatform: `"Linux"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
		AcceptLanguage: "en-GB,en;q=0.9",
	},
}

func pickProfile(r *rand.Rand) headerProfile {
	return headerProfiles[r.IntN(len(headerProfiles))]
}

// apply sets the profile's headers on a request. Only Chromium identities
// send client hints.
func (p headerProfile) apply(h *http.Header) {
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", p.AcceptLanguage)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	if p.SecCHUA != "" {
		h.Set("Sec-CH-UA", p.SecCHUA)
		h.Set("Sec-CH-UA-Mobile", p.SecCHUAMobile)
		h.Set("Sec-CH-UA-Platform", p.SecCHUAPlatform)
	}
}
