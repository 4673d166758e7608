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

// ErrorLogRepo implements store.ErrorLog on SQLite.
type ErrorLogRepo struct {
	db *sql.DB
}

var _ store.ErrorLog = (*ErrorLogRepo)(nil)

const appendErrorQuery = `
INSERT INTO error_log (run_id, user_id, source_id, source_url, article_url, kind, message, method, step, retry_count, details, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Append adds one record to the error log.
func (r *ErrorLogRepo) Append(ctx context.Context, rec models.ErrorRecord) error {
	var detailsJSON any
	if len(rec.Details) > 0 {
		data, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("Append: marshal details: %w", err)
		}
		detailsJSON = string(data)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, appendErrorQuery,
		rec.RunID, rec.UserID, rec.SourceID, rec.SourceURL, rec.ArticleURL,
		string(rec.Kind), rec.Message, rec.Method, rec.Step, rec.RetryCount,
		detailsJSON, ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("Append: ExecContext: %w", err)
	}
	return nil
}

// Count returns the number of records for a run. Test helper.
func (r *ErrorLogRepo) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_log WHERE run_id = ?`, runID).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("Count: QueryRowContext: %w", err)
	}
	return n, nil
}
