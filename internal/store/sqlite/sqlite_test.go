package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gleanerhq/gleaner/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "gleaner-test.db"))
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSourceRoundTrip(t *testing.T) {
	db := openTestDB(t)
	stores := db.Stores()
	ctx := context.Background()

	src := &models.Source{
		Name:   "example",
		URL:    "https://news.example.com",
		Active: true,
	}
	if err := stores.Sources.Create(ctx, src); err != nil {
		t.Fatalf("Create = %v", err)
	}
	if src.ID == 0 {
		t.Fatal("Create should assign an ID")
	}

	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if err := stores.Sources.UpdateScraped(ctx, src.ID, at); err != nil {
		t.Fatalf("UpdateScraped = %v", err)
	}

	cfg := &models.SelectorConfig{
		TitleSelector:   "h1.headline",
		ContentSelector: ".article-body",
		DateSelector:    "time[datetime]",
		Confidence:      0.8,
	}
	if err := stores.Sources.UpdateConfig(ctx, src.ID, cfg); err != nil {
		t.Fatalf("UpdateConfig = %v", err)
	}

	list, err := stores.Sources.List(ctx)
	if err != nil {
		t.Fatalf("List = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List returned %d sources, want 1", len(list))
	}

	got := list[0]
	if got.Name != "example" || got.URL != "https://news.example.com" || !got.Active {
		t.Errorf("List returned %+v", got)
	}
	if got.LastScrapedAt == nil || !got.LastScrapedAt.Equal(at) {
		t.Errorf("LastScrapedAt = %v, want %v", got.LastScrapedAt, at)
	}
	if got.SelectorConfig == nil {
		t.Fatal("SelectorConfig should round-trip")
	}
	if got.SelectorConfig.TitleSelector != "h1.headline" || got.SelectorConfig.Confidence != 0.8 {
		t.Errorf("SelectorConfig = %+v", got.SelectorConfig)
	}
}

func TestSetActive(t *testing.T) {
	db := openTestDB(t)
	stores := db.Stores()
	ctx := context.Background()

	src := &models.Source{Name: "s", URL: "https://s.example.com", Active: true}
	if err := stores.Sources.Create(ctx, src); err != nil {
		t.Fatalf("Create = %v", err)
	}

	if err := stores.Sources.SetActive(ctx, src.ID, false); err != nil {
		t.Fatalf("SetActive = %v", err)
	}

	list, err := stores.Sources.List(ctx)
	if err != nil {
		t.Fatalf("List = %v", err)
	}
	if list[0].Active {
		t.Error("expected source to be inactive after SetActive(false)")
	}
}

func TestArticleInsert_And_Exists(t *testing.T) {
	db := openTestDB(t)
	stores := db.Stores()
	ctx := context.Background()

	url := "https://news.example.com/post/1"

	exists, err := stores.Articles.ExistsByURL(ctx, url)
	if err != nil {
		t.Fatalf("ExistsByURL = %v", err)
	}
	if exists {
		t.Error("ExistsByURL should be false before insert")
	}

	pub := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	score := 0.7
	a := &models.Article{
		SourceID:      1,
		URL:           url,
		Title:         "Example headline",
		Body:          "body text",
		Author:        "Jane Smith",
		PublishDate:   &pub,
		Tags:          []string{"security", "research"},
		Cybersecurity: true,
		SecurityScore: &score,
	}
	if err := stores.Articles.Insert(ctx, a); err != nil {
		t.Fatalf("Insert = %v", err)
	}

	exists, err = stores.Articles.ExistsByURL(ctx, url)
	if err != nil {
		t.Fatalf("ExistsByURL = %v", err)
	}
	if !exists {
		t.Error("ExistsByURL should be true after insert")
	}
}

func TestArticleInsert_DuplicateURLIsNoOp(t *testing.T) {
	db := openTestDB(t)
	stores := db.Stores()
	ctx := context.Background()

	url := "https://news.example.com/post/dup"
	if err := stores.Articles.Insert(ctx, &models.Article{SourceID: 1, URL: url, Title: "first", Body: "b"}); err != nil {
		t.Fatalf("Insert = %v", err)
	}
	if err := stores.Articles.Insert(ctx, &models.Article{SourceID: 1, URL: url, Title: "second", Body: "b"}); err != nil {
		t.Errorf("duplicate Insert should be a silent no-op, got %v", err)
	}
}

func TestErrorLogAppend(t *testing.T) {
	db := openTestDB(t)
	stores := db.Stores()
	ctx := context.Background()

	runID := models.NewRunID()
	sourceID := int64(3)
	rec := models.ErrorRecord{
		RunID:      runID,
		SourceID:   &sourceID,
		SourceURL:  "https://news.example.com",
		ArticleURL: "https://news.example.com/post/1",
		Kind:       models.ErrorTimeout,
		Message:    "fetch exceeded deadline",
		Method:     "http",
		Step:       "fetch-article",
		Details:    map[string]string{"status": "0"},
	}
	if err := stores.Errors.Append(ctx, rec); err != nil {
		t.Fatalf("Append = %v", err)
	}
	if err := stores.Errors.Append(ctx, models.ErrorRecord{RunID: runID, SourceURL: "https://x", Kind: models.ErrorUnknown, Message: "m"}); err != nil {
		t.Fatalf("Append = %v", err)
	}

	repo, ok := stores.Errors.(*ErrorLogRepo)
	if !ok {
		t.Fatal("expected *ErrorLogRepo")
	}
	n, err := repo.Count(ctx, runID)
	if err != nil {
		t.Fatalf("Count = %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}
