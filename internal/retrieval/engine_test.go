// File path: internal/retrieval/engine_test.go
package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/crawlchat/crawlchat/internal/embedding"
	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/store"
)

// fixedEmbedder returns the same unit vector for every input.
type fixedEmbedder struct {
	vec  []float32
	fail bool
}

func (f *fixedEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if f.fail {
		return nil, fault.New(fault.KindTransient, "embedding provider unavailable")
	}
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) Name() string { return "fixed" }

func newEngine(t *testing.T, embedder *fixedEmbedder) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "retrieval.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	gateway := embedding.NewGateway(embedder, embedding.WithAttempts(1), embedding.WithBackoff(time.Millisecond))
	return New(st, gateway), st
}

func seedPages(t *testing.T, st *store.Store) int64 {
	t.Helper()
	ctx := context.Background()
	siteID, err := st.UpsertSite(ctx, "Example Site", "https://example.com", "")
	if err != nil {
		t.Fatalf("site: %v", err)
	}
	pages := []store.Page{
		{SiteID: siteID, URL: "https://example.com/a", Title: "Close match", Content: "example content", Embedding: store.Vector{1, 0}},
		{SiteID: siteID, URL: "https://example.com/b", Title: "Partial match", Content: "other text", Embedding: store.Vector{0.7, 0.714}},
		{SiteID: siteID, URL: "https://example.com/c", Title: "Far away", Content: "unrelated", Embedding: store.Vector{0, 1}},
		{SiteID: siteID, URL: "https://example.com/d", Title: "No vector", Content: "example text page"},
	}
	for i := range pages {
		if _, err := st.UpsertPage(ctx, &pages[i]); err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
	}
	return siteID
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	engine, st := newEngine(t, &fixedEmbedder{vec: []float32{1, 0}})
	seedPages(t, st)
	hits, err := engine.Search(context.Background(), Request{Query: "example", Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %d", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Fatalf("results not non-increasing: %v then %v", hits[i-1].Similarity, hits[i].Similarity)
		}
	}
	for _, hit := range hits {
		if hit.Similarity < 0.5 {
			t.Fatalf("hit below threshold: %+v", hit)
		}
	}
	if hits[0].URL != "https://example.com/a" {
		t.Fatalf("best hit wrong: %s", hits[0].URL)
	}
}

func TestSearchTiesPreferRecentlyUpdated(t *testing.T) {
	engine, st := newEngine(t, &fixedEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	siteID, err := st.UpsertSite(ctx, "Example Site", "https://example.com", "")
	if err != nil {
		t.Fatalf("site: %v", err)
	}
	older := &store.Page{SiteID: siteID, URL: "https://example.com/old", Title: "Old", Content: "example", Embedding: store.Vector{1, 0}}
	if _, err := st.UpsertPage(ctx, older); err != nil {
		t.Fatal(err)
	}
	newer := &store.Page{SiteID: siteID, URL: "https://example.com/new", Title: "New", Content: "example", Embedding: store.Vector{1, 0}}
	if _, err := st.UpsertPage(ctx, newer); err != nil {
		t.Fatal(err)
	}

	// Refresh the first page so the lower id carries the newer timestamp.
	time.Sleep(10 * time.Millisecond)
	if _, err := st.UpsertPage(ctx, older); err != nil {
		t.Fatal(err)
	}

	hits, err := engine.Search(ctx, Request{Query: "example", Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Similarity != hits[1].Similarity {
		t.Fatalf("fixture should produce a similarity tie: %v vs %v", hits[0].Similarity, hits[1].Similarity)
	}
	if hits[0].URL != "https://example.com/old" {
		t.Fatalf("tie not broken by most recent update: %s first", hits[0].URL)
	}
}

func TestSearchLimitTruncates(t *testing.T) {
	engine, st := newEngine(t, &fixedEmbedder{vec: []float32{1, 0}})
	seedPages(t, st)
	hits, err := engine.Search(context.Background(), Request{Query: "example", Threshold: 0, Limit: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected limit 1, got %d", len(hits))
	}
}

func TestSearchEmptyResultIsNotError(t *testing.T) {
	engine, st := newEngine(t, &fixedEmbedder{vec: []float32{0, 1}})
	ctx := context.Background()
	if _, err := st.UpsertSite(ctx, "Empty", "https://empty.dev", ""); err != nil {
		t.Fatal(err)
	}
	hits, err := engine.Search(ctx, Request{Query: "anything", Threshold: 0.9, Limit: 5})
	if err != nil {
		t.Fatalf("expected empty result, got error %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestTextOnlySearchSurvivesProviderOutage(t *testing.T) {
	engine, st := newEngine(t, &fixedEmbedder{fail: true})
	seedPages(t, st)
	hits, err := engine.Search(context.Background(), Request{Query: "example", Threshold: 0.1, Limit: 5, TextOnly: true})
	if err != nil {
		t.Fatalf("text-only search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected lexical hits despite embedding outage")
	}
	// The vector path must genuinely fail, confirming text mode is an
	// independent code path.
	if _, err := engine.Search(context.Background(), Request{Query: "example", Threshold: 0.1, Limit: 5}); err == nil {
		t.Fatal("vector path should fail while provider is down")
	}
}

func TestSearchSiteFilter(t *testing.T) {
	engine, st := newEngine(t, &fixedEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	seedPages(t, st)
	otherID, _ := st.UpsertSite(ctx, "Other Site", "https://other.dev", "")
	st.UpsertPage(ctx, &store.Page{SiteID: otherID, URL: "https://other.dev/x", Title: "Other", Content: "example", Embedding: store.Vector{1, 0}})
	hits, err := engine.Search(ctx, Request{Query: "example", Threshold: 0, Limit: 10, Sites: []string{"other"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, hit := range hits {
		if hit.SiteName != "Other Site" {
			t.Fatalf("site filter leaked: %+v", hit)
		}
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 filtered hit, got %d", len(hits))
	}
}

func TestSearchValidation(t *testing.T) {
	engine, _ := newEngine(t, &fixedEmbedder{vec: []float32{1, 0}})
	if _, err := engine.Search(context.Background(), Request{Query: " "}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for empty query, got %v", err)
	}
	if _, err := engine.Search(context.Background(), Request{Query: "x", Threshold: 1.2}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for threshold, got %v", err)
	}
}

func TestChunkHitsExposeParentRelationship(t *testing.T) {
	engine, st := newEngine(t, &fixedEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	siteID, _ := st.UpsertSite(ctx, "Example Site", "https://example.com", "")
	parent := &store.Page{SiteID: siteID, URL: "https://example.com/doc", Title: "Guide", Content: "full"}
	parentID, err := st.UpsertPage(ctx, parent)
	if err != nil {
		t.Fatal(err)
	}
	idx := 0
	chunk := &store.Page{
		SiteID: siteID, URL: "https://example.com/doc#chunk-0", Content: "part one",
		IsChunk: true, ChunkIndex: &idx, ParentID: &parentID, Embedding: store.Vector{1, 0},
	}
	if _, err := st.UpsertPage(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	hits, err := engine.Search(ctx, Request{Query: "guide", Threshold: 0.1, Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected chunk hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.ParentID == nil || *hit.ParentID != parentID || hit.ChunkIndex == nil || *hit.ChunkIndex != 0 {
		t.Fatalf("parent relationship missing: %+v", hit)
	}
	if hit.Context != "From: Guide (Part 1)" {
		t.Fatalf("unexpected context: %q", hit.Context)
	}
}
