package fetch

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

// response is what a tier hands back before protection detection and
// content validation run.
type response struct {
	html         string
	statusCode   int
	finalURL     string
	header       http.Header
	preExtracted *models.PreExtracted
}

// httpTier performs plain requests through colly with a fresh collector per
// request, so no cookie or state bleed exists between fetches.
type httpTier struct {
	timeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newHTTPTier(timeout time.Duration, rng *rand.Rand) *httpTier {
	return &httpTier{timeout: timeout, rng: rng}
}

func (t *httpTier) profile() headerProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return pickProfile(t.rng)
}

// fetch issues one GET with a rotated header profile.
func (t *httpTier) fetch(targetURL string) (*response, error) {
	return t.request("GET", targetURL, nil)
}

// request issues a single request with optional extra headers layered over
// the rotated profile. Error-status responses are returned with their body
// and headers intact so protection detection can read them; only transport
// failures surface as errors.
func (t *httpTier) request(method, targetURL string, extraHeaders map[string]string) (*response, error) {
	profile := t.profile()
	result := &response{finalURL: targetURL}

	c := colly.NewCollector(colly.UserAgent(profile.UserAgent))
	c.SetRequestTimeout(t.timeout)

	c.OnRequest(func(r *colly.Request) {
		profile.apply(r.Headers)
		for k, v := range extraHeaders {
			r.Headers.Set(k, v)
		}
	})

	capture := func(r *colly.Response) {
		result.statusCode = r.StatusCode
		result.html = string(r.Body)
		if r.Request != nil && r.Request.URL != nil {
			result.finalURL = r.Request.URL.String()
		}
		if r.Headers != nil {
			result.header = r.Headers.Clone()
		}
	}
	c.OnResponse(capture)
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			capture(r)
		}
	})

	var err error
	switch method {
	case "POST":
		err = c.Post(targetURL, map[string]string{})
	default:
		err = c.Visit(targetURL)
	}
	if err != nil && result.statusCode == 0 {
		return nil, models.Tag(models.ErrorNetwork, fmt.Errorf("http fetch %s: %w", targetURL, err))
	}

	logger.Debug("http tier fetched",
		"url", targetURL,
		"status", result.statusCode,
		"bytes", len(result.html))
	return result, nil
}
