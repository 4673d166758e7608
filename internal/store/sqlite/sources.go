package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/store"
)

// SourceRepo implements store.SourceStore on SQLite.
type SourceRepo struct {
	db *sql.DB
}

var _ store.SourceStore = (*SourceRepo)(nil)

const listSourcesQuery = `
SELECT id, name, url, active, last_scraped_at, selector_config
FROM sources
ORDER BY name`

// List returns all sources.
func (r *SourceRepo) List(ctx context.Context) ([]*models.Source, error) {
	rows, err := r.db.QueryContext(ctx, listSourcesQuery)
	if err != nil {
		return nil, fmt.Errorf("List: QueryContext: %w", err)
	}
	defer rows.Close()

	sources := make([]*models.Source, 0, 50)
	for rows.Next() {
		var (
			src        models.Source
			active     int
			scrapedAt  sql.NullString
			configJSON sql.NullString
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &active, &scrapedAt, &configJSON); err != nil {
			return nil, fmt.Errorf("List: Scan: %w", err)
		}
		src.Active = active != 0

		if scrapedAt.Valid && scrapedAt.String != "" {
			t, err := time.Parse(time.RFC3339Nano, scrapedAt.String)
			if err != nil {
				return nil, fmt.Errorf("List: parse last_scraped_at: %w", err)
			}
			src.LastScrapedAt = &t
		}
		if configJSON.Valid && configJSON.String != "" {
			var cfg models.SelectorConfig
			if err := json.Unmarshal([]byte(configJSON.String), &cfg); err != nil {
				return nil, fmt.Errorf("List: unmarshal selector_config: %w", err)
			}
			src.SelectorConfig = &cfg
		}

		sources = append(sources, &src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return sources, nil
}

const updateScrapedQuery = `UPDATE sources SET last_scraped_at = ? WHERE id = ?`

// UpdateScraped stamps the last-scraped time.
func (r *SourceRepo) UpdateScraped(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, updateScrapedQuery, at.UTC().Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("UpdateScraped: ExecContext: %w", err)
	}
	return nil
}

const updateConfigQuery = `UPDATE sources SET selector_config = ? WHERE id = ?`

// UpdateConfig stores the selector config as a JSON blob.
func (r *SourceRepo) UpdateConfig(ctx context.Context, id int64, cfg *models.SelectorConfig) error {
	var configJSON any
	if cfg != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("UpdateConfig: marshal: %w", err)
		}
		configJSON = string(data)
	}
	if _, err := r.db.ExecContext(ctx, updateConfigQuery, configJSON, id); err != nil {
		return fmt.Errorf("UpdateConfig: ExecContext: %w", err)
	}
	return nil
}

const createSourceQuery = `
INSERT INTO sources (name, url, active, selector_config)
VALUES (?, ?, ?, ?)`

// Create adds a source and fills in its assigned ID.
func (r *SourceRepo) Create(ctx context.Context, src *models.Source) error {
	var configJSON any
	if src.SelectorConfig != nil {
		data, err := json.Marshal(src.SelectorConfig)
		if err != nil {
			return fmt.Errorf("Create: marshal: %w", err)
		}
		configJSON = string(data)
	}

	active := 0
	if src.Active {
		active = 1
	}

	res, err := r.db.ExecContext(ctx, createSourceQuery, src.Name, src.URL, active, configJSON)
	if err != nil {
		return fmt.Errorf("Create: ExecContext: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("Create: LastInsertId: %w", err)
	}
	src.ID = id
	return nil
}

const setActiveQuery = `UPDATE sources SET active = ? WHERE id = ?`

// SetActive toggles a source's active flag.
func (r *SourceRepo) SetActive(ctx context.Context, id int64, active bool) error {
	v := 0
	if active {
		v = 1
	}
	if _, err := r.db.ExecContext(ctx, setActiveQuery, v, id); err != nil {
		return fmt.Errorf("SetActive: ExecContext: %w", err)
	}
	return nil
}
