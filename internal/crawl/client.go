// File path: internal/crawl/client.go

// Package crawl talks to the external crawl service that fetches and renders
// pages. The service runs crawls as asynchronous tasks: submit URLs, poll the
// task until it settles, then collect per-page results.
package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/fault"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 5 * time.Second
	defaultWaitTimeout  = 10 * time.Minute
	defaultPriority     = 10
)

// Config holds the crawl service connection settings.
type Config struct {
	BaseURL      string
	APIToken     string
	Timeout      time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// LoadConfig reads the crawl service settings from the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		BaseURL:      strings.TrimRight(os.Getenv("CRAWL_BASE_URL"), "/"),
		APIToken:     os.Getenv("CRAWL_API_TOKEN"),
		Timeout:      durationEnv("CRAWL_HTTP_TIMEOUT", defaultTimeout),
		PollInterval: durationEnv("CRAWL_POLL_INTERVAL", defaultPollInterval),
		WaitTimeout:  durationEnv("CRAWL_WAIT_TIMEOUT", defaultWaitTimeout),
	}
	if cfg.BaseURL == "" {
		return cfg, fault.New(fault.KindValidation, "CRAWL_BASE_URL not set")
	}
	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Client is a thin HTTP client for the crawl service.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiToken     string
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// New constructs a client from the given configuration.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fault.New(fault.KindValidation, "crawl service base URL required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:     cfg.APIToken,
		pollInterval: cfg.PollInterval,
		waitTimeout:  cfg.WaitTimeout,
	}, nil
}

// NewFromEnv constructs a client from environment configuration.
func NewFromEnv() (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Markdown is either a plain string or an object with raw and fit variants,
// depending on the crawl service version.
type Markdown struct {
	Raw string
	Fit string
}

func (m *Markdown) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		m.Raw = asString
		return nil
	}
	var asObject struct {
		RawMarkdown string `json:"raw_markdown"`
		FitMarkdown string `json:"fit_markdown"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return err
	}
	m.Raw = asObject.RawMarkdown
	m.Fit = asObject.FitMarkdown
	return nil
}

// Link is one hyperlink discovered on a crawled page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// PageResult is the crawl service's rendering of one fetched page.
type PageResult struct {
	URL              string         `json:"url"`
	Title            string         `json:"title"`
	HTML             string         `json:"html"`
	CleanedHTML      string         `json:"cleaned_html"`
	ExtractedContent string         `json:"extracted_content"`
	Markdown         Markdown       `json:"markdown"`
	Metadata         map[string]any `json:"metadata"`
	Links            struct {
		Internal []Link `json:"internal"`
		External []Link `json:"external"`
	} `json:"links"`
}

// Content picks the best available text for a page: markdown first, then
// extracted content, then cleaned HTML, then raw HTML.
func (p PageResult) Content() string {
	if p.Markdown.Raw != "" {
		return p.Markdown.Raw
	}
	if p.Markdown.Fit != "" {
		return p.Markdown.Fit
	}
	if p.ExtractedContent != "" {
		return p.ExtractedContent
	}
	if p.CleanedHTML != "" {
		return p.CleanedHTML
	}
	return p.HTML
}

// PageTitle prefers the metadata title over the top-level one.
func (p PageResult) PageTitle() string {
	if p.Metadata != nil {
		if title, ok := p.Metadata["title"].(string); ok && title != "" {
			return title
		}
	}
	return p.Title
}

// Task is the crawl service's view of one submitted crawl.
type Task struct {
	TaskID  string       `json:"task_id"`
	Status  string       `json:"status"`
	Error   string       `json:"error"`
	Results []PageResult `json:"results"`
}

// StartCrawl submits a crawl task for the given URLs and returns its id. A
// rejected payload is retried once in simplified form before giving up.
func (c *Client) StartCrawl(ctx context.Context, urls []string, priority int) (string, error) {
	if len(urls) == 0 {
		return "", fault.New(fault.KindValidation, "at least one URL required")
	}
	if priority <= 0 {
		priority = defaultPriority
	}

	payload := map[string]any{
		"urls":              urls,
		"priority":          priority,
		"extraction_config": map[string]any{"type": "basic"},
	}
	var task Task
	err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/crawl", payload, &task)
	if err != nil && fault.KindOf(err) == fault.KindFatal {
		common.Logger().Warn("crawl: start rejected, retrying simplified payload", "error", err)
		simplified := map[string]any{
			"urls":              urls,
			"extraction_config": map[string]any{"type": "basic"},
		}
		err = c.doRequest(ctx, http.MethodPost, c.baseURL+"/crawl", simplified, &task)
	}
	if err != nil {
		return "", err
	}
	if task.TaskID == "" {
		return "", fault.New(fault.KindFatal, "crawl service returned no task id")
	}
	return task.TaskID, nil
}

// TaskStatus fetches the current state of a crawl task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fault.New(fault.KindValidation, "task id required")
	}
	var task Task
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/task/"+taskID, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitForCompletion polls a task until it completes, fails, or the wait
// timeout elapses.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string) (*Task, error) {
	deadline := time.Now().Add(c.waitTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		task, err := c.TaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch task.Status {
		case "completed":
			return task, nil
		case "failed":
			msg := task.Error
			if msg == "" {
				msg = "unknown error"
			}
			return nil, fault.New(fault.KindFatal, "crawl task %s failed: %s", taskID, msg)
		}

		if time.Now().After(deadline) {
			return nil, fault.New(fault.KindTransient, "crawl task %s did not complete within %s", taskID, c.waitTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CrawlAndWait submits a crawl and blocks until its results are ready.
func (c *Client) CrawlAndWait(ctx context.Context, urls []string) (*Task, error) {
	taskID, err := c.StartCrawl(ctx, urls, defaultPriority)
	if err != nil {
		return nil, err
	}
	common.Logger().Info("crawl: task started", "task", taskID, "urls", len(urls))
	return c.WaitForCompletion(ctx, taskID)
}

type sitemapIndex struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// CrawlSitemap fetches a sitemap, extracts its page URLs, and crawls up to
// maxURLs of them. When the sitemap yields no URLs the sitemap crawl itself
// is returned so the caller still gets one page.
func (c *Client) CrawlSitemap(ctx context.Context, sitemapURL string, maxURLs int) (*Task, []string, error) {
	sitemapTask, err := c.CrawlAndWait(ctx, []string{sitemapURL})
	if err != nil {
		return nil, nil, err
	}
	if len(sitemapTask.Results) == 0 {
		return sitemapTask, nil, nil
	}

	urls := extractSitemapURLs(sitemapTask.Results[0])
	if len(urls) == 0 {
		common.Logger().Warn("crawl: no URLs found in sitemap", "sitemap", sitemapURL)
		return sitemapTask, nil, nil
	}
	if maxURLs > 0 && len(urls) > maxURLs {
		urls = urls[:maxURLs]
	}
	common.Logger().Info("crawl: crawling sitemap URLs", "sitemap", sitemapURL, "urls", len(urls))

	task, err := c.CrawlAndWait(ctx, urls)
	if err != nil {
		return nil, urls, err
	}
	return task, urls, nil
}

// extractSitemapURLs parses the page as sitemap XML; when that fails it falls
// back to the links the crawler discovered.
func extractSitemapURLs(page PageResult) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	var index sitemapIndex
	if err := xml.Unmarshal([]byte(page.HTML), &index); err == nil && len(index.URLs) > 0 {
		for _, entry := range index.URLs {
			add(entry.Loc)
		}
		return urls
	}

	for _, link := range page.Links.Internal {
		add(link.Href)
	}
	for _, link := range page.Links.External {
		add(link.Href)
	}
	return urls
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindTransient, err, "crawl service unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fault.New(fault.KindNotFound, "crawl service: %s not found", endpoint)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		data, _ := io.ReadAll(resp.Body)
		return fault.New(fault.KindTransient, "crawl service %s %s: status %d: %s",
			method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(resp.Body)
		return fault.New(fault.KindFatal, "crawl service %s %s: status %d: %s",
			method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
