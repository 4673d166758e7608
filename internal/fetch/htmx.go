package fetch

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gleanerhq/gleaner/internal/logger"
)

// htmxMinCandidates is the link-candidate count under which the enrichment
// pass runs a second time.
const htmxMinCandidates = 20

// detectHTMX reports whether the document uses HTMX: hx-* attributes on
// elements, or a script URL containing "htmx". The window.htmx global can
// only be seen on the headless tier, where the page script checks it too.
func detectHTMX(doc *goquery.Document) bool {
	if doc.Find("[hx-get], [hx-post], [data-hx-get], [data-hx-post]").Length() > 0 {
		return true
	}
	found := false
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(s.AttrOr("src", "")), "htmx") {
			found = true
			return false
		}
		return true
	})
	return found
}

// htmxEndpoint is one server interaction declared on the page.
type htmxEndpoint struct {
	Method string
	URL    string
}

// htmxEndpoints enumerates the same-origin endpoints the page's HTMX
// elements would call, resolved absolute and deduplicated in document
// order.
func htmxEndpoints(doc *goquery.Document, pageURL string) []htmxEndpoint {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var endpoints []htmxEndpoint
	add := func(method, raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != base.Scheme || abs.Host != base.Host {
			return
		}
		key := method + " " + abs.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		endpoints = append(endpoints, htmxEndpoint{Method: method, URL: abs.String()})
	}

	doc.Find("[hx-get], [hx-post], [data-hx-get], [data-hx-post]").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("hx-get"); ok {
			add("GET", v)
		}
		if v, ok := s.Attr("data-hx-get"); ok {
			add("GET", v)
		}
		if v, ok := s.Attr("hx-post"); ok {
			add("POST", v)
		}
		if v, ok := s.Attr("data-hx-post"); ok {
			add("POST", v)
		}
	})
	return endpoints
}

// csrfToken pulls the page's CSRF token from the conventional meta tag or
// hidden form input. Empty when absent.
func csrfToken(doc *goquery.Document) string {
	if v := strings.TrimSpace(doc.Find(`meta[name="csrf-token"]`).AttrOr("content", "")); v != "" {
		return v
	}
	return strings.TrimSpace(doc.Find(`input[name="_token"]`).AttrOr("value", ""))
}

// enrichWithHTMX runs the HTTP-tier enrichment: each declared endpoint is
// sub-fetched with HTMX request headers and the returned fragment appended
// to <body> inside a marker div. The page URL is forwarded as
// HX-Current-URL so server-side section filtering still applies. Returns
// the number of fragments injected.
func (t *httpTier) enrichWithHTMX(doc *goquery.Document, pageURL string) int {
	endpoints := htmxEndpoints(doc, pageURL)
	if len(endpoints) == 0 {
		return 0
	}

	headers := map[string]string{
		"HX-Request":     "true",
		"HX-Current-URL": pageURL,
	}
	if token := csrfToken(doc); token != "" {
		headers["X-CSRF-Token"] = token
	}

	injected := 0
	body := doc.Find("body")
	for _, ep := range endpoints {
		resp, err := t.request(ep.Method, ep.URL, headers)
		if err != nil || resp.statusCode < 200 || resp.statusCode >= 300 {
			logger.Debug("htmx sub-fetch failed", "endpoint", ep.URL, "error", err)
			continue
		}
		fragment := strings.TrimSpace(resp.html)
		if fragment == "" {
			continue
		}
		body.AppendHtml(`<div class="htmx-injected">` + fragment + `</div>`)
		injected++
	}

	logger.Debug("htmx enrichment complete",
		"page", pageURL,
		"endpoints", len(endpoints),
		"injected", injected)
	return injected
}

// htmxDetectScript reports HTMX presence from inside the page, where the
// runtime global is visible.
const htmxDetectScript = `(function() {
    if (window.htmx) return true;
    if (document.querySelector('[hx-get], [hx-post], [data-hx-get], [data-hx-post]')) return true;
    return Array.from(document.querySelectorAll('script[src]'))
        .some(s => (s.src || '').toLowerCase().includes('htmx'));
})()`

// htmxEnrichScript runs the full enrichment inside the page: sub-fetch
// declared endpoints with HTMX headers, append fragments to <body>, click
// visible non-load-trigger elements (capped at 10), wait for loading
// indicators to clear (10 s cap), then scroll in thirds to trigger lazy
// loading.
const htmxEnrichScript = `(async function() {
    const pageURL = window.location.href;
    const meta = document.querySelector('meta[name="csrf-token"]');
    const tokenInput = document.querySelector('input[name="_token"]');
    const csrf = (meta && meta.content) || (tokenInput && tokenInput.value) || '';

    const els = Array.from(document.querySelectorAll('[hx-get], [hx-post], [data-hx-get], [data-hx-post]'));
    const seen = new Set();
    const endpoints = [];
    for (const el of els) {
        const get = el.getAttribute('hx-get') || el.getAttribute('data-hx-get');
        const post = el.getAttribute('hx-post') || el.getAttribute('data-hx-post');
        if (get && !seen.has('GET ' + get)) { seen.add('GET ' + get); endpoints.push({ method: 'GET', url: get }); }
        if (post && !seen.has('POST ' + post)) { seen.add('POST ' + post); endpoints.push({ method: 'POST', url: post }); }
    }

    let injected = 0;
    for (const ep of endpoints) {
        try {
            const abs = new URL(ep.url, pageURL);
            if (abs.origin !== window.location.origin) continue;
            const headers = { 'HX-Request': 'true', 'HX-Current-URL': pageURL };
            if (csrf) headers['X-CSRF-Token'] = csrf;
            const resp = await fetch(abs.href, { method: ep.method, headers: headers, credentials: 'same-origin' });
            if (!resp.ok) continue;
            const text = await resp.text();
            if (!text) continue;
            const div = document.createElement('div');
            div.className = 'htmx-injected';
            div.innerHTML = text;
            document.body.appendChild(div);
            injected++;
        } catch (e) {}
    }

    let clicked = 0;
    for (const el of els) {
        if (clicked >= 10) break;
        const trigger = el.getAttribute('hx-trigger') || el.getAttribute('data-hx-trigger') || '';
        if (trigger.includes('load')) continue;
        const target = el.getAttribute('hx-get') || el.getAttribute('data-hx-get')
            || el.getAttribute('hx-post') || el.getAttribute('data-hx-post') || '';
        if (/search|filter/i.test(target)) continue;
        const rect = el.getBoundingClientRect();
        const style = window.getComputedStyle(el);
        if (rect.width === 0 || rect.height === 0 || style.display === 'none' || style.visibility === 'hidden') continue;
        try { el.click(); clicked++; } catch (e) {}
    }

    const start = Date.now();
    while (Date.now() - start < 10000) {
        if (!document.querySelector('.loading, .spinner, [data-loading="true"], .skeleton')) break;
        await new Promise(r => setTimeout(r, 250));
    }

    const height = Math.max(document.body.scrollHeight, document.documentElement.scrollHeight);
    for (const frac of [1 / 3, 2 / 3, 1]) {
        window.scrollTo(0, height * frac);
        await new Promise(r => setTimeout(r, 1000));
    }

    return { injected: injected, clicked: clicked };
})()`
