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

// ArticleRepo implements store.ArticleStore on SQLite.
type ArticleRepo struct {
	db *sql.DB
}

var _ store.ArticleStore = (*ArticleRepo)(nil)

const existsByURLQuery = `SELECT 1 FROM articles WHERE url = ? LIMIT 1`

// ExistsByURL reports whether an article with this URL is stored.
func (r *ArticleRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, existsByURLQuery, url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ExistsByURL: QueryRowContext: %w", err)
	}
	return true, nil
}

const insertArticleQuery = `
INSERT INTO articles (source_id, url, title, body, author, publish_date, summary, tags, cybersecurity, security_score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO NOTHING`

// Insert stores a new article. Inserting an existing URL is a silent no-op.
func (r *ArticleRepo) Insert(ctx context.Context, a *models.Article) error {
	var publishDate any
	if a.PublishDate != nil {
		publishDate = a.PublishDate.UTC().Format(time.RFC3339Nano)
	}

	var tagsJSON any
	if len(a.Tags) > 0 {
		data, err := json.Marshal(a.Tags)
		if err != nil {
			return fmt.Errorf("Insert: marshal tags: %w", err)
		}
		tagsJSON = string(data)
	}

	cyber := 0
	if a.Cybersecurity {
		cyber = 1
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, insertArticleQuery,
		a.SourceID, a.URL, a.Title, a.Body, a.Author, publishDate,
		a.Summary, tagsJSON, cyber, a.SecurityScore,
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("Insert: ExecContext: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil && id > 0 {
		a.ID = id
	}
	return nil
}
