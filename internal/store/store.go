// Package store defines the narrow persistence interfaces the engine depends
// on. The engine only ever lists sources, stamps scrape results, and appends
// error records; everything else about storage is an adapter concern.
package store

import (
	"context"
	"time"

	"github.com/gleanerhq/gleaner/internal/models"
)

// SourceStore provides access to the configured sources.
type SourceStore interface {
	// List returns all sources, including inactive ones. Order is
	// unspecified; callers that need an order sort themselves.
	List(ctx context.Context) ([]*models.Source, error)

	// UpdateScraped stamps the time a scrape of the source completed.
	UpdateScraped(ctx context.Context, id int64, at time.Time) error

	// UpdateConfig stores the learned selector config for the source.
	UpdateConfig(ctx context.Context, id int64, cfg *models.SelectorConfig) error

	// Create adds a source. Used by the sources CLI command and tests.
	Create(ctx context.Context, src *models.Source) error

	// SetActive toggles whether the source participates in scheduled runs.
	SetActive(ctx context.Context, id int64, active bool) error
}

// ArticleStore persists extracted articles. Articles are write-once per URL.
type ArticleStore interface {
	// ExistsByURL reports whether an article with this URL is stored.
	ExistsByURL(ctx context.Context, url string) (bool, error)

	// Insert stores a new article. Inserting a URL that already exists is
	// a silent no-op.
	Insert(ctx context.Context, a *models.Article) error
}

// ErrorLog is the append-only failure log.
type ErrorLog interface {
	Append(ctx context.Context, rec models.ErrorRecord) error
}

// Stores bundles the three interfaces for components that need all of them.
type Stores struct {
	Sources  SourceStore
	Articles ArticleStore
	Errors   ErrorLog
}
