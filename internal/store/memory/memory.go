// Package memory provides mutex-guarded in-memory store adapters. Used by
// tests and by ephemeral runs that do not want a database on disk.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/store"
)

// Store implements all three store interfaces in memory.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	sources  map[int64]*models.Source
	articles map[string]*models.Article
	errors   []models.ErrorRecord
}

var (
	_ store.SourceStore  = (*Store)(nil)
	_ store.ArticleStore = (*Store)(nil)
	_ store.ErrorLog     = (*Store)(nil)
)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:   1,
		sources:  make(map[int64]*models.Source),
		articles: make(map[string]*models.Article),
	}
}

// Stores returns the store wired into the bundle shape the engine consumes.
func (s *Store) Stores() store.Stores {
	return store.Stores{Sources: s, Articles: s, Errors: s}
}

// List returns copies of all sources.
func (s *Store) List(ctx context.Context) ([]*models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Source, 0, len(s.sources))
	for _, src := range s.sources {
		cp := *src
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateScraped stamps the last-scraped time.
func (s *Store) UpdateScraped(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("UpdateScraped: source %d not found", id)
	}
	src.LastScrapedAt = &at
	return nil
}

// UpdateConfig stores the learned selector config.
func (s *Store) UpdateConfig(ctx context.Context, id int64, cfg *models.SelectorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("UpdateConfig: source %d not found", id)
	}
	src.SelectorConfig = cfg
	return nil
}

// Create adds a source and assigns its ID.
func (s *Store) Create(ctx context.Context, src *models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sources {
		if existing.URL == src.URL {
			return fmt.Errorf("Create: source url %q already exists", src.URL)
		}
	}

	src.ID = s.nextID
	s.nextID++
	cp := *src
	s.sources[src.ID] = &cp
	return nil
}

// SetActive toggles a source's active flag.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("SetActive: source %d not found", id)
	}
	src.Active = active
	return nil
}

// ExistsByURL reports whether an article with this URL is stored.
func (s *Store) ExistsByURL(ctx context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.articles[url]
	return ok, nil
}

// Insert stores a new article. Duplicate URLs are a silent no-op.
func (s *Store) Insert(ctx context.Context, a *models.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.articles[a.URL]; ok {
		return nil
	}

	a.ID = s.nextID
	s.nextID++
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.articles[a.URL] = &cp
	return nil
}

// Append adds an error record to the log.
func (s *Store) Append(ctx context.Context, rec models.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.errors = append(s.errors, rec)
	return nil
}

// Articles returns a snapshot of stored articles. Test helper.
func (s *Store) Articles() []*models.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Article, 0, len(s.articles))
	for _, a := range s.articles {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// ErrorRecords returns a snapshot of the error log. Test helper.
func (s *Store) ErrorRecords() []models.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ErrorRecord, len(s.errors))
	copy(out, s.errors)
	return out
}
