package structure

import (
	"net/url"
	"strings"
	"sync"

	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
)

// domainKey normalises a URL or bare host into the cache key: lowercased
// host with any leading www. stripped, so www.example.com and example.com
// share one learned config.
func domainKey(raw string) string {
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	return strings.TrimPrefix(host, "www.")
}

// cache holds learned selector configs keyed by domain. Entries are
// validated on the way in and again on the way out, so a config that was
// corrupted or that predates a validation rule tightening never reaches the
// extractor.
type cache struct {
	mu      sync.RWMutex
	configs map[string]*models.SelectorConfig
}

func newCache() *cache {
	return &cache{configs: make(map[string]*models.SelectorConfig)}
}

func (c *cache) get(domain string) (*models.SelectorConfig, bool) {
	c.mu.RLock()
	cfg, ok := c.configs[domain]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if err := validateStored(cfg); err != nil {
		logger.Warn("evicting invalid cached selectors", "domain", domain, "error", err)
		c.evict(domain)
		return nil, false
	}

	copied := *cfg
	return &copied, true
}

func (c *cache) put(domain string, cfg *models.SelectorConfig) error {
	if err := validateStored(cfg); err != nil {
		return err
	}

	stored := *cfg
	c.mu.Lock()
	c.configs[domain] = &stored
	c.mu.Unlock()
	return nil
}

func (c *cache) evict(domain string) {
	c.mu.Lock()
	delete(c.configs, domain)
	c.mu.Unlock()
}
