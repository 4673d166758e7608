package discover

import (
	"context"
	"errors"
	"testing"

	"github.com/gleanerhq/gleaner/internal/llm"
)

type stubLLM struct {
	calls      int
	focus      string
	candidates []llm.LinkCandidate
	fn         func(candidates []llm.LinkCandidate) ([]string, error)
}

func (s *stubLLM) DetectStructure(context.Context, string, string) (*llm.StructureResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) ExtractContent(context.Context, string, string) (*llm.ContentResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) IdentifyArticleLinks(_ context.Context, _ string, focus string, candidates []llm.LinkCandidate) ([]string, error) {
	s.calls++
	s.focus = focus
	s.candidates = candidates
	return s.fn(candidates)
}

func TestDiscoverFiltersThroughModel(t *testing.T) {
	stub := &stubLLM{fn: func([]llm.LinkCandidate) ([]string, error) {
		// Answered out of order: candidate order must still win.
		return []string{
			"https://example.com/news/htmx-loaded-analysis",
			"https://example.com/news/breach-at-vendor-x",
		}, nil
	}}

	links, err := New(stub).Discover(context.Background(), sectionPage, sectionBase, Options{AIContext: "cybersecurity incidents"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{
		"https://example.com/news/breach-at-vendor-x",
		"https://example.com/news/htmx-loaded-analysis",
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links, want %d: %+v", len(links), len(want), links)
	}
	for i, w := range want {
		if links[i].URL != w {
			t.Errorf("links[%d].URL = %q, want %q", i, links[i].URL, w)
		}
	}
	if stub.calls != 1 {
		t.Errorf("model called %d times, want 1", stub.calls)
	}
	if stub.focus != "cybersecurity incidents" {
		t.Errorf("focus = %q, want the option passed through", stub.focus)
	}
	if len(stub.candidates) != 4 {
		t.Fatalf("model saw %d candidates, want 4", len(stub.candidates))
	}
	if stub.candidates[0].HREF != "https://example.com/news/breach-at-vendor-x" {
		t.Errorf("candidates[0].HREF = %q, want an absolute url", stub.candidates[0].HREF)
	}
}

func TestDiscoverDropsInventedURLs(t *testing.T) {
	stub := &stubLLM{fn: func([]llm.LinkCandidate) ([]string, error) {
		return []string{
			"https://example.com/news/breach-at-vendor-x",
			"https://example.com/news/invented-story",
		}, nil
	}}

	links, err := New(stub).Discover(context.Background(), sectionPage, sectionBase, Options{AIContext: "security"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1: %+v", len(links), links)
	}
	if links[0].URL != "https://example.com/news/breach-at-vendor-x" {
		t.Errorf("links[0].URL = %q", links[0].URL)
	}
}

func TestDiscoverKeepsCandidatesWhenFilterFails(t *testing.T) {
	stub := &stubLLM{fn: func([]llm.LinkCandidate) ([]string, error) {
		return nil, errors.New("rate limit")
	}}

	links, err := New(stub).Discover(context.Background(), sectionPage, sectionBase, Options{AIContext: "security"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(links) != 4 {
		t.Errorf("got %d links, want the unfiltered 4", len(links))
	}
}

func TestDiscoverAcceptsEmptyFilterResult(t *testing.T) {
	stub := &stubLLM{fn: func([]llm.LinkCandidate) ([]string, error) {
		return []string{}, nil
	}}

	links, err := New(stub).Discover(context.Background(), sectionPage, sectionBase, Options{AIContext: "security"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("got %d links, want 0 when the model keeps none", len(links))
	}
}

func TestDiscoverSkipsFilterWithoutContext(t *testing.T) {
	stub := &stubLLM{fn: func([]llm.LinkCandidate) ([]string, error) {
		return nil, nil
	}}

	links, err := New(stub).Discover(context.Background(), sectionPage, sectionBase, Options{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if stub.calls != 0 {
		t.Errorf("model called %d times, want 0", stub.calls)
	}
	if len(links) != 4 {
		t.Errorf("got %d links, want 4", len(links))
	}
}

func TestDiscoverCapsAfterFilter(t *testing.T) {
	stub := &stubLLM{fn: func(candidates []llm.LinkCandidate) ([]string, error) {
		urls := make([]string, len(candidates))
		for i, c := range candidates {
			urls[i] = c.HREF
		}
		return urls, nil
	}}

	links, err := New(stub).Discover(context.Background(), sectionPage, sectionBase, Options{AIContext: "security", MaxLinks: 2})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
	if links[0].URL != "https://example.com/news/breach-at-vendor-x" {
		t.Errorf("links[0].URL = %q", links[0].URL)
	}
}
