// File path: internal/store/store_test.go
package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "crawlchat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSiteIsIdempotentByURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first, err := s.UpsertSite(ctx, "Example", "https://example.com", "")
	if err != nil {
		t.Fatalf("upsert site: %v", err)
	}
	second, err := s.UpsertSite(ctx, "Example Renamed", "https://example.com", "docs site")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first != second {
		t.Fatalf("expected same site id, got %d and %d", first, second)
	}
	site, err := s.SiteByID(ctx, first)
	if err != nil {
		t.Fatalf("site by id: %v", err)
	}
	if site.Name != "Example Renamed" || site.Description != "docs site" {
		t.Fatalf("site not refreshed: %+v", site)
	}
}

func TestUpsertSitePreservesStoredValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.UpsertSite(ctx, "My Docs", "https://example.com", "hand-written summary")
	if err != nil {
		t.Fatalf("upsert site: %v", err)
	}
	if _, err := s.UpsertSite(ctx, "", "https://example.com", ""); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	site, err := s.SiteByID(ctx, id)
	if err != nil {
		t.Fatalf("site by id: %v", err)
	}
	if site.Name != "My Docs" || site.Description != "hand-written summary" {
		t.Fatalf("empty upsert blanked stored values: %+v", site)
	}
}

func TestUpsertSiteDefaultsNameToHost(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.UpsertSite(ctx, "", "https://www.example.com/docs", "")
	if err != nil {
		t.Fatalf("upsert site: %v", err)
	}
	site, err := s.SiteByID(ctx, id)
	if err != nil {
		t.Fatalf("site by id: %v", err)
	}
	if site.Name != "example.com" {
		t.Fatalf("expected host-derived name, got %q", site.Name)
	}
}

func TestUpsertPageUpdatesInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	siteID, err := s.UpsertSite(ctx, "Example", "https://example.com", "")
	if err != nil {
		t.Fatalf("upsert site: %v", err)
	}
	page := &Page{SiteID: siteID, URL: "https://example.com/a", Title: "A", Content: "first"}
	id1, err := s.UpsertPage(ctx, page)
	if err != nil {
		t.Fatalf("upsert page: %v", err)
	}
	page2 := &Page{SiteID: siteID, URL: "https://example.com/a", Title: "A2", Content: "second", Embedding: Vector{1, 0}}
	id2, err := s.UpsertPage(ctx, page2)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected in-place update, got ids %d and %d", id1, id2)
	}
	count, err := s.ParentPageCount(ctx, siteID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 page, got %d", count)
	}
	stored, err := s.PageByID(ctx, id1)
	if err != nil {
		t.Fatalf("page by id: %v", err)
	}
	if stored.Content != "second" || len(stored.Embedding) != 2 {
		t.Fatalf("page not refreshed: %+v", stored.Page)
	}
	if stored.CreatedAt.After(stored.UpdatedAt) {
		t.Fatalf("updated_at not advanced: created %v updated %v", stored.CreatedAt, stored.UpdatedAt)
	}
}

func TestChunkRowsAndPruning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	siteID, _ := s.UpsertSite(ctx, "Example", "https://example.com", "")
	parent := &Page{SiteID: siteID, URL: "https://example.com/long", Title: "Long", Content: "full text"}
	parentID, err := s.UpsertPage(ctx, parent)
	if err != nil {
		t.Fatalf("upsert parent: %v", err)
	}
	for i := 0; i < 3; i++ {
		idx := i
		chunk := &Page{
			SiteID:     siteID,
			URL:        parent.URL + "#chunk-" + string(rune('0'+i)),
			Content:    "part",
			IsChunk:    true,
			ChunkIndex: &idx,
			ParentID:   &parentID,
			Embedding:  Vector{1, 0, 0},
		}
		if _, err := s.UpsertPage(ctx, chunk); err != nil {
			t.Fatalf("upsert chunk %d: %v", i, err)
		}
	}
	if err := s.PruneChunks(ctx, parentID, 2); err != nil {
		t.Fatalf("prune: %v", err)
	}
	pages, err := s.PagesBySite(ctx, siteID, true, 0)
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(pages) != 3 { // parent + 2 surviving chunks
		t.Fatalf("expected 3 rows after pruning, got %d", len(pages))
	}
}

func TestVectorCandidatesExcludeMissingEmbeddings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	siteID, _ := s.UpsertSite(ctx, "Example", "https://example.com", "")
	s.UpsertPage(ctx, &Page{SiteID: siteID, URL: "https://example.com/v", Content: "with vector", Embedding: Vector{1, 0}})
	s.UpsertPage(ctx, &Page{SiteID: siteID, URL: "https://example.com/t", Content: "text only"})
	vec, err := s.VectorCandidates(ctx, nil)
	if err != nil {
		t.Fatalf("vector candidates: %v", err)
	}
	if len(vec) != 1 {
		t.Fatalf("expected 1 vector candidate, got %d", len(vec))
	}
	text, err := s.TextCandidates(ctx, nil, []string{"text"})
	if err != nil {
		t.Fatalf("text candidates: %v", err)
	}
	if len(text) != 1 || text[0].Content != "text only" {
		t.Fatalf("unexpected text candidates: %+v", text)
	}
}

func TestSitesMatchingSubstrings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, _ := s.UpsertSite(ctx, "Go Documentation", "https://go.dev", "")
	s.UpsertSite(ctx, "Rust Book", "https://rust-lang.org", "")
	ids, err := s.SitesMatching(ctx, []string{"go doc"})
	if err != nil {
		t.Fatalf("sites matching: %v", err)
	}
	if len(ids) != 1 || ids[0] != a {
		t.Fatalf("unexpected match: %v", ids)
	}
	all, err := s.SitesMatching(ctx, nil)
	if err != nil {
		t.Fatalf("sites matching all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected all sites, got %v", all)
	}
}

func TestSessionHistoryLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateSession(ctx, "sess-1", "user-1", "default"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, turn := range []struct{ role, content string }{
		{"user", "hello"},
		{"assistant", "hi there"},
		{"user", "tell me more"},
	} {
		if _, err := s.AppendMessage(ctx, "sess-1", turn.role, turn.content); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	history, err := s.History(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[0].Content != "hello" || history[2].Content != "tell me more" {
		t.Fatalf("unexpected history: %+v", history)
	}
	recent, err := s.History(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("recent history: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "hi there" {
		t.Fatalf("windowed history wrong: %+v", recent)
	}
	if err := s.ClearHistory(ctx, "sess-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	history, _ = s.History(ctx, "sess-1", 0)
	if len(history) != 0 {
		t.Fatalf("history not cleared: %+v", history)
	}
	if _, err := s.GetSession(ctx, "sess-1"); err != nil {
		t.Fatalf("session row should survive clear: %v", err)
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pref := &Preference{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		Type:       "like",
		Value:      "concise answers",
		Confidence: 0.6,
	}
	if err := s.InsertPreference(ctx, pref); err != nil {
		t.Fatalf("insert: %v", err)
	}
	found, err := s.ActivePreference(ctx, "user-1", "like", "concise answers")
	if err != nil {
		t.Fatalf("active preference: %v", err)
	}
	if err := s.ReinforcePreference(ctx, found.ID, 0.9, "ctx", "sess-9"); err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	prefs, err := s.ListPreferences(ctx, "user-1", true, 0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(prefs) != 1 || prefs[0].Confidence != 0.9 || prefs[0].SourceSession != "sess-9" {
		t.Fatalf("unexpected preferences: %+v", prefs)
	}
	cleared, err := s.ClearPreferences(ctx, "user-1")
	if err != nil || cleared != 1 {
		t.Fatalf("clear preferences: %d, %v", cleared, err)
	}
	prefs, _ = s.ListPreferences(ctx, "user-1", true, 0, "")
	if len(prefs) != 0 {
		t.Fatalf("expected no active preferences, got %+v", prefs)
	}
}
