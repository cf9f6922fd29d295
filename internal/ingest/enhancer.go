// File path: internal/ingest/enhancer.go
package ingest

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/llm/providers"
)

const enhancerMaxContent = 16000

const enhancerSystemPrompt = `You are an AI that extracts titles and summaries from web content.
Return a JSON object with 'title' and 'summary' keys.
For the title: Extract or derive a descriptive title for this content.
For the summary: Create a concise summary of the main points in this content.
Keep both title and summary concise but informative.`

// enhancer fills in missing page titles and summaries through the chat
// provider. Every failure degrades to a deterministic fallback; it never
// propagates an error.
type enhancer struct {
	chat    providers.ChatProvider
	timeout time.Duration
}

// Enhance returns a title and summary for the page. The provided title is
// kept when non-empty; generation only fills gaps.
func (e *enhancer) Enhance(ctx context.Context, pageURL, title, content string) (string, string) {
	fallbackTitle := title
	if fallbackTitle == "" {
		fallbackTitle = "Content from " + hostOf(pageURL)
	}
	fallbackSummary := truncate(content, 200)

	if e == nil || e.chat == nil {
		return fallbackTitle, fallbackSummary
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.chat.Chat(callCtx, []providers.Message{
		{Role: "system", Content: enhancerSystemPrompt},
		{Role: "user", Content: "URL: " + pageURL + "\n\nContent:\n" + truncate(content, enhancerMaxContent)},
	})
	if err != nil {
		common.Logger().Warn("ingest: title/summary generation failed", "url", pageURL, "error", err)
		return fallbackTitle, fallbackSummary
	}

	var parsed struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripFences(reply)), &parsed); err != nil {
		common.Logger().Warn("ingest: unparseable title/summary response", "url", pageURL, "error", err)
		return fallbackTitle, fallbackSummary
	}

	outTitle := title
	if outTitle == "" {
		outTitle = strings.TrimSpace(parsed.Title)
	}
	if outTitle == "" {
		outTitle = fallbackTitle
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		summary = fallbackSummary
	}
	return outTitle, summary
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func hostOf(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		return strings.TrimPrefix(parsed.Host, "www.")
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimPrefix(trimmed, "www.")
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
