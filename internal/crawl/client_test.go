// File path: internal/crawl/client_test.go
package crawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crawlchat/crawlchat/internal/fault"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{
		BaseURL:      server.URL,
		APIToken:     "test-token",
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestStartCrawlAndWait(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/crawl", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		var payload struct {
			URLs             []string       `json:"urls"`
			Priority         int            `json:"priority"`
			ExtractionConfig map[string]any `json:"extraction_config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if len(payload.URLs) != 1 || payload.URLs[0] != "https://example.com" {
			t.Errorf("unexpected urls: %v", payload.URLs)
		}
		if payload.ExtractionConfig["type"] != "basic" {
			t.Errorf("unexpected extraction config: %v", payload.ExtractionConfig)
		}
		json.NewEncoder(w).Encode(Task{TaskID: "task-1"})
	})
	mux.HandleFunc("/task/task-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			json.NewEncoder(w).Encode(Task{TaskID: "task-1", Status: "running"})
			return
		}
		json.NewEncoder(w).Encode(Task{
			TaskID:  "task-1",
			Status:  "completed",
			Results: []PageResult{{URL: "https://example.com", HTML: "<p>hi</p>"}},
		})
	})

	client := testClient(t, mux)
	task, err := client.CrawlAndWait(context.Background(), []string{"https://example.com"})
	if err != nil {
		t.Fatalf("crawl and wait: %v", err)
	}
	if len(task.Results) != 1 || task.Results[0].URL != "https://example.com" {
		t.Fatalf("unexpected results: %+v", task.Results)
	}
	if atomic.LoadInt32(&polls) < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
}

func TestStartCrawlRetriesSimplifiedPayload(t *testing.T) {
	var attempts int32
	mux := http.NewServeMux()
	mux.HandleFunc("/crawl", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if atomic.AddInt32(&attempts, 1) == 1 {
			if _, ok := payload["priority"]; !ok {
				t.Error("first attempt should carry priority")
			}
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if _, ok := payload["priority"]; ok {
			t.Error("simplified retry should drop priority")
		}
		json.NewEncoder(w).Encode(Task{TaskID: "task-2"})
	})

	client := testClient(t, mux)
	taskID, err := client.StartCrawl(context.Background(), []string{"https://example.com"}, 0)
	if err != nil {
		t.Fatalf("start crawl: %v", err)
	}
	if taskID != "task-2" {
		t.Fatalf("unexpected task id: %s", taskID)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWaitForCompletionFailedTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/task/task-3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Task{TaskID: "task-3", Status: "failed", Error: "render crashed"})
	})

	client := testClient(t, mux)
	_, err := client.WaitForCompletion(context.Background(), "task-3")
	if fault.KindOf(err) != fault.KindFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestTaskStatusServerErrorIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/task/task-4", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	client := testClient(t, mux)
	_, err := client.TaskStatus(context.Background(), "task-4")
	if !fault.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCrawlSitemap(t *testing.T) {
	const sitemapXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc></url>
  <url><loc>https://example.com/b</loc></url>
  <url><loc>https://example.com/c</loc></url>
</urlset>`

	var crawls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/crawl", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&crawls, 1)
		json.NewEncoder(w).Encode(Task{TaskID: "task-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/task/task-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Task{
			TaskID:  "task-1",
			Status:  "completed",
			Results: []PageResult{{URL: "https://example.com/sitemap.xml", HTML: sitemapXML}},
		})
	})
	mux.HandleFunc("/task/task-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Task{
			TaskID: "task-2",
			Status: "completed",
			Results: []PageResult{
				{URL: "https://example.com/a", HTML: "a"},
				{URL: "https://example.com/b", HTML: "b"},
			},
		})
	})

	client := testClient(t, mux)
	task, urls, err := client.CrawlSitemap(context.Background(), "https://example.com/sitemap.xml", 2)
	if err != nil {
		t.Fatalf("crawl sitemap: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://example.com/a" || urls[1] != "https://example.com/b" {
		t.Fatalf("unexpected urls: %v", urls)
	}
	if len(task.Results) != 2 {
		t.Fatalf("unexpected results: %+v", task.Results)
	}
}

func TestExtractSitemapURLsLinkFallback(t *testing.T) {
	page := PageResult{HTML: "<html><body>not xml</body></html>"}
	page.Links.Internal = []Link{{Href: "https://example.com/x"}, {Href: "https://example.com/x"}}
	page.Links.External = []Link{{Href: "https://other.com/y"}}

	urls := extractSitemapURLs(page)
	if len(urls) != 2 {
		t.Fatalf("expected 2 deduplicated urls, got %v", urls)
	}
}

func TestMarkdownUnionDecode(t *testing.T) {
	var fromString PageResult
	if err := json.Unmarshal([]byte(`{"url":"u","markdown":"# hi"}`), &fromString); err != nil {
		t.Fatalf("string markdown: %v", err)
	}
	if fromString.Content() != "# hi" {
		t.Fatalf("unexpected content: %q", fromString.Content())
	}

	var fromObject PageResult
	if err := json.Unmarshal([]byte(`{"url":"u","markdown":{"raw_markdown":"","fit_markdown":"fit"}}`), &fromObject); err != nil {
		t.Fatalf("object markdown: %v", err)
	}
	if fromObject.Content() != "fit" {
		t.Fatalf("unexpected content: %q", fromObject.Content())
	}
}

func TestContentPrecedence(t *testing.T) {
	page := PageResult{HTML: "<html>", CleanedHTML: "clean", ExtractedContent: "extracted"}
	if page.Content() != "extracted" {
		t.Fatalf("expected extracted content, got %q", page.Content())
	}
	page.ExtractedContent = ""
	if page.Content() != "clean" {
		t.Fatalf("expected cleaned html, got %q", page.Content())
	}
	page.CleanedHTML = ""
	if page.Content() != "<html>" {
		t.Fatalf("expected raw html, got %q", page.Content())
	}
}
