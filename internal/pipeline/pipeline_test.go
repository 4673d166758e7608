package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gleanerhq/gleaner/internal/browser"
	"github.com/gleanerhq/gleaner/internal/fetch"
	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/store/memory"
)

type stubLLM struct {
	mu          sync.Mutex
	detectCalls int
}

func (s *stubLLM) DetectStructure(context.Context, string, string) (*llm.StructureResult, error) {
	s.mu.Lock()
	s.detectCalls++
	s.mu.Unlock()
	return &llm.StructureResult{
		TitleSelector:   "h1.headline",
		ContentSelector: "div.article-body",
		AuthorSelector:  ".byline",
		DateSelector:    "time[datetime]",
		Confidence:      0.9,
	}, nil
}

func (s *stubLLM) ExtractContent(context.Context, string, string) (*llm.ContentResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) IdentifyArticleLinks(context.Context, string, string, []llm.LinkCandidate) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) DetectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectCalls
}

func sourcePage(articles int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Example Security</title></head><body><main>`)
	for i := 0; i < articles; i++ {
		fmt.Fprintf(&b, `<div class="story"><a href="/articles/story-%02d">Full incident analysis for case number %02d</a></div>`, i, i)
	}
	b.WriteString(`<p>` + strings.Repeat("Daily coverage of infrastructure incidents and vendor security advisories. ", 8) + `</p>`)
	b.WriteString(`</main></body></html>`)
	return b.String()
}

func articlePage(id string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body>
<article>
<h1 class="headline">Incident report %s and what the audit uncovered</h1>
<div class="byline">By Casey Reporter</div>
<time datetime="2024-03-05T08:00:00Z">March 5, 2024</time>
<div class="article-body">
<p>The review board confirmed on Tuesday that the breach began with a single compromised service account, which attackers used to move laterally through the vendor's build infrastructure over a period of at least nine days before detection systems raised the first alert.</p>
<p>Investigators added that customer data was copied from two regional replicas, and that the company has since rotated all credentials, revoked the affected tokens, and engaged an external firm to audit every deployment pipeline touched during the intrusion window.</p>
</div>
</article>
<footer><p>The incident response hotline remains open for affected customers, and weekly status updates will be published until the remediation work and the independent audit are both complete. Subscribers receive each update by mail on the morning it is released.</p></footer>
</body></html>`, id, id)
}

// newSiteServer serves a section page at / and article pages underneath
// /articles/. Paths listed in notFound return 404.
func newSiteServer(articles int, notFound map[string]bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, sourcePage(articles))
	})
	mux.HandleFunc("/articles/", func(w http.ResponseWriter, r *http.Request) {
		id := path.Base(r.URL.Path)
		if notFound[id] {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, articlePage(id))
	})
	return httptest.NewServer(mux)
}

func newPipeline(mem *memory.Store, client llm.Client, concurrency int) *Pipeline {
	f := fetch.New(fetch.Config{Timeout: 10 * time.Second}, nil)
	return New(Deps{
		AppType: "news",
		LLM:     client,
		Stores:  mem.Stores(),
		Fetcher: f,
	}, Config{
		Concurrency:    concurrency,
		RequestTimeout: 10 * time.Second,
	})
}

func createSource(t *testing.T, mem *memory.Store, srv *httptest.Server, active bool) *models.Source {
	t.Helper()
	src := &models.Source{Name: "Example Security", URL: srv.URL + "/", Active: active}
	if err := mem.Create(context.Background(), src); err != nil {
		t.Fatalf("Create source: %v", err)
	}
	return src
}

func TestScrapeAllEndToEnd(t *testing.T) {
	srv := newSiteServer(12, nil)
	defer srv.Close()

	mem := memory.New()
	src := createSource(t, mem, srv, true)
	stub := &stubLLM{}
	p := newPipeline(mem, stub, 1)

	if err := p.ScrapeAll(context.Background()); err != nil {
		t.Fatalf("ScrapeAll: %v", err)
	}

	articles := mem.Articles()
	if len(articles) != 12 {
		t.Fatalf("stored %d articles, want 12", len(articles))
	}
	wantDate := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	for _, a := range articles {
		if a.SourceID != src.ID {
			t.Errorf("article %q SourceID = %d, want %d", a.URL, a.SourceID, src.ID)
		}
		if !strings.Contains(a.Title, "Incident report") {
			t.Errorf("article %q Title = %q", a.URL, a.Title)
		}
		if len(a.Body) < minArticleBody {
			t.Errorf("article %q Body = %d chars, want >= %d", a.URL, len(a.Body), minArticleBody)
		}
		if a.Author != "Casey Reporter" {
			t.Errorf("article %q Author = %q", a.URL, a.Author)
		}
		if a.PublishDate == nil || !a.PublishDate.Equal(wantDate) {
			t.Errorf("article %q PublishDate = %v, want %v", a.URL, a.PublishDate, wantDate)
		}
	}

	// All article pages share the domain, so structure is learned once.
	if got := stub.DetectCalls(); got != 1 {
		t.Errorf("structure detected %d times, want 1", got)
	}

	srcs, err := mem.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if srcs[0].LastScrapedAt == nil {
		t.Error("LastScrapedAt not stamped")
	}
	if srcs[0].SelectorConfig == nil || srcs[0].SelectorConfig.TitleSelector != "h1.headline" {
		t.Errorf("selector config not persisted: %+v", srcs[0].SelectorConfig)
	}
	if recs := mem.ErrorRecords(); len(recs) != 0 {
		t.Errorf("error log has %d records, want 0: %+v", len(recs), recs)
	}
}

func TestScrapeAllSkipsStoredArticles(t *testing.T) {
	srv := newSiteServer(12, nil)
	defer srv.Close()

	mem := memory.New()
	createSource(t, mem, srv, true)
	stub := &stubLLM{}
	p := newPipeline(mem, stub, 1)

	if err := p.ScrapeAll(context.Background()); err != nil {
		t.Fatalf("first ScrapeAll: %v", err)
	}
	if err := p.ScrapeAll(context.Background()); err != nil {
		t.Fatalf("second ScrapeAll: %v", err)
	}

	if got := len(mem.Articles()); got != 12 {
		t.Errorf("stored %d articles after two runs, want 12", got)
	}
	// Second run skips every article before fetch, so no new detection.
	if got := stub.DetectCalls(); got != 1 {
		t.Errorf("structure detected %d times, want 1", got)
	}
	if recs := mem.ErrorRecords(); len(recs) != 0 {
		t.Errorf("error log has %d records, want 0", len(recs))
	}
}

func TestScrapeAllConcurrentWorkers(t *testing.T) {
	srv := newSiteServer(12, nil)
	defer srv.Close()

	mem := memory.New()
	createSource(t, mem, srv, true)
	p := newPipeline(mem, &stubLLM{}, 3)

	if err := p.ScrapeAll(context.Background()); err != nil {
		t.Fatalf("ScrapeAll: %v", err)
	}
	if got := len(mem.Articles()); got != 12 {
		t.Errorf("stored %d articles, want 12", got)
	}
	if recs := mem.ErrorRecords(); len(recs) != 0 {
		t.Errorf("error log has %d records, want 0: %+v", len(recs), recs)
	}
}

func TestInactiveSourceOnlyScrapedExplicitly(t *testing.T) {
	srv := newSiteServer(12, nil)
	defer srv.Close()

	mem := memory.New()
	createSource(t, mem, srv, false)
	p := newPipeline(mem, &stubLLM{}, 1)

	if err := p.ScrapeAll(context.Background()); err != nil {
		t.Fatalf("ScrapeAll: %v", err)
	}
	if got := len(mem.Articles()); got != 0 {
		t.Fatalf("ScrapeAll stored %d articles from an inactive source", got)
	}

	res, err := p.ScrapeSource(context.Background(), "Example Security")
	if err != nil {
		t.Fatalf("ScrapeSource: %v", err)
	}
	if res.Saved != 12 || res.Processed != 12 || res.Failed != 0 {
		t.Errorf("result = %+v, want 12 processed and saved", res)
	}
	if got := len(mem.Articles()); got != 12 {
		t.Errorf("stored %d articles, want 12", got)
	}
}

func TestScrapeSourceUnknownName(t *testing.T) {
	mem := memory.New()
	p := newPipeline(mem, &stubLLM{}, 1)

	if _, err := p.ScrapeSource(context.Background(), "no such source"); err == nil {
		t.Fatal("expected error for unknown source name")
	}
}

func TestScrapeAllRecordsArticleFailure(t *testing.T) {
	srv := newSiteServer(12, map[string]bool{"story-11": true})
	defer srv.Close()

	mem := memory.New()
	src := createSource(t, mem, srv, true)
	p := newPipeline(mem, &stubLLM{}, 1)

	if err := p.ScrapeAll(context.Background()); err != nil {
		t.Fatalf("ScrapeAll: %v", err)
	}

	if got := len(mem.Articles()); got != 11 {
		t.Errorf("stored %d articles, want 11", got)
	}

	recs := mem.ErrorRecords()
	if len(recs) != 1 {
		t.Fatalf("error log has %d records, want 1: %+v", len(recs), recs)
	}
	rec := recs[0]
	if rec.Step != "fetch-article" {
		t.Errorf("Step = %q, want fetch-article", rec.Step)
	}
	if !strings.Contains(rec.ArticleURL, "story-11") {
		t.Errorf("ArticleURL = %q, want the failing article", rec.ArticleURL)
	}
	if rec.SourceID == nil || *rec.SourceID != src.ID {
		t.Errorf("SourceID = %v, want %d", rec.SourceID, src.ID)
	}
	if rec.RunID == "" {
		t.Error("RunID not set on error record")
	}
	if rec.Message == "" {
		t.Error("Message not set on error record")
	}
}

func TestScrapeAllCancelledContext(t *testing.T) {
	srv := newSiteServer(12, nil)
	defer srv.Close()

	mem := memory.New()
	createSource(t, mem, srv, true)
	p := newPipeline(mem, &stubLLM{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.ScrapeAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("ScrapeAll = %v, want context.Canceled", err)
	}
	if got := len(mem.Articles()); got != 0 {
		t.Errorf("stored %d articles under a cancelled context", got)
	}
}

// shutdownPipeline builds a pipeline whose headless tier always reports
// the manager as shutting down.
func shutdownPipeline(t *testing.T, mem *memory.Store, force models.FetchMethod) *Pipeline {
	t.Helper()
	mgr := browser.New(browser.Config{})
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	return New(Deps{
		AppType: "news",
		LLM:     &stubLLM{},
		Stores:  mem.Stores(),
		Fetcher: fetch.New(fetch.Config{Timeout: 10 * time.Second}, mgr),
	}, Config{
		Concurrency:    2,
		RequestTimeout: 10 * time.Second,
		ForceMethod:    force,
	})
}

func TestScrapeAllPropagatesBrowserShutdown(t *testing.T) {
	srv := newSiteServer(12, nil)
	defer srv.Close()

	mem := memory.New()
	createSource(t, mem, srv, true)
	p := shutdownPipeline(t, mem, models.FetchMethodHeadless)

	if err := p.ScrapeAll(context.Background()); !errors.Is(err, browser.ErrShuttingDown) {
		t.Fatalf("ScrapeAll = %v, want browser.ErrShuttingDown", err)
	}
	if got := len(mem.Articles()); got != 0 {
		t.Errorf("stored %d articles while shutting down", got)
	}
	// The fatal condition travels up to the caller, not into the log.
	if recs := mem.ErrorRecords(); len(recs) != 0 {
		t.Errorf("error log has %d records, want 0: %+v", len(recs), recs)
	}
}

func TestArticleShutdownAbortsRun(t *testing.T) {
	// Source page works over HTTP; article pages are tiny, forcing the
	// escalation that hits the closed browser manager.
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, sourcePage(12))
	})
	mux.HandleFunc("/articles/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>loading</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mem := memory.New()
	createSource(t, mem, srv, true)
	p := shutdownPipeline(t, mem, "")

	err := p.ScrapeAll(context.Background())
	if !errors.Is(err, browser.ErrShuttingDown) {
		t.Fatalf("ScrapeAll = %v, want browser.ErrShuttingDown", err)
	}

	// Worker saw the fatal error and flipped the source inactive, so the
	// remaining links were not churned through.
	if got := len(mem.ErrorRecords()); got != 0 {
		t.Errorf("error log has %d records, want 0: %+v", got, mem.ErrorRecords())
	}
}

func TestScrapeSourcePropagatesBrowserShutdown(t *testing.T) {
	srv := newSiteServer(3, nil)
	defer srv.Close()

	mem := memory.New()
	createSource(t, mem, srv, true)
	p := shutdownPipeline(t, mem, models.FetchMethodHeadless)

	if _, err := p.ScrapeSource(context.Background(), "Example Security"); !errors.Is(err, browser.ErrShuttingDown) {
		t.Fatalf("ScrapeSource = %v, want browser.ErrShuttingDown", err)
	}
}

func TestStopSourceFlag(t *testing.T) {
	p := newPipeline(memory.New(), &stubLLM{}, 1)

	p.beginSource(5)
	if !p.sourceActive(5) {
		t.Fatal("source not active after beginSource")
	}
	p.StopSource(5)
	if p.sourceActive(5) {
		t.Fatal("source still active after StopSource")
	}
	p.endSource(5)
	if p.sourceActive(5) {
		t.Fatal("source active after endSource")
	}

	// Stopping a source that is not being scraped leaves no trace.
	p.StopSource(99)
	if p.sourceActive(99) {
		t.Fatal("unknown source reported active")
	}
}
