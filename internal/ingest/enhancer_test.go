// File path: internal/ingest/enhancer_test.go
package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/llm/providers"
)

type cannedChat struct {
	reply string
	err   error
}

func (c *cannedChat) Chat(ctx context.Context, messages []providers.Message) (string, error) {
	return c.reply, c.err
}

func (c *cannedChat) Name() string { return "canned" }

func TestEnhanceParsesGeneratedTitleAndSummary(t *testing.T) {
	e := &enhancer{
		chat:    &cannedChat{reply: "```json\n{\"title\": \"Go Basics\", \"summary\": \"An intro to Go.\"}\n```"},
		timeout: time.Second,
	}
	title, summary := e.Enhance(context.Background(), "https://example.com/go", "", "Go is a language.")
	if title != "Go Basics" || summary != "An intro to Go." {
		t.Fatalf("unexpected enhancement: %q / %q", title, summary)
	}
}

func TestEnhanceKeepsProvidedTitle(t *testing.T) {
	e := &enhancer{
		chat:    &cannedChat{reply: `{"title": "Generated", "summary": "Generated summary."}`},
		timeout: time.Second,
	}
	title, summary := e.Enhance(context.Background(), "https://example.com", "Original Title", "content")
	if title != "Original Title" {
		t.Fatalf("provided title should win, got %q", title)
	}
	if summary != "Generated summary." {
		t.Fatalf("unexpected summary: %q", summary)
	}
}

func TestEnhanceFallsBackOnProviderFailure(t *testing.T) {
	e := &enhancer{
		chat:    &cannedChat{err: fault.New(fault.KindTransient, "down")},
		timeout: time.Second,
	}
	content := strings.Repeat("word ", 100)
	title, summary := e.Enhance(context.Background(), "https://www.example.com/page", "", content)
	if title != "Content from example.com" {
		t.Fatalf("unexpected fallback title: %q", title)
	}
	if !strings.HasSuffix(summary, "...") || len(summary) > 210 {
		t.Fatalf("unexpected fallback summary: %q", summary)
	}
}

func TestEnhanceWithoutProvider(t *testing.T) {
	var e *enhancer
	title, summary := e.Enhance(context.Background(), "https://example.com/x", "", "short body")
	if title != "Content from example.com" || summary != "short body" {
		t.Fatalf("unexpected defaults: %q / %q", title, summary)
	}
}
