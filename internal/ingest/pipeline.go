// File path: internal/ingest/pipeline.go

// Package ingest turns crawl results into persisted, embedded pages. Each
// site ingestion runs as a cancellable background job with at most one job
// in flight per site URL.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crawlchat/crawlchat/internal/chunker"
	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/crawl"
	"github.com/crawlchat/crawlchat/internal/embedding"
	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/llm/providers"
	"github.com/crawlchat/crawlchat/internal/store"
)

// ErrSiteBusy rejects a crawl for a site that already has one in flight.
var ErrSiteBusy = errors.New("ingestion already in flight for this site")

// ErrJobNotFound reports an unknown job id.
var ErrJobNotFound = errors.New("ingestion job not found")

const (
	defaultEmbedWorkers = 4
	defaultEnhanceWait  = 30 * time.Second
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusCrawling  = "crawling"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// SiteRequest describes the site being ingested.
type SiteRequest struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PageRecord is one page of raw crawled content.
type PageRecord struct {
	URL     string
	Title   string
	Content string
}

// Report summarizes one ingestion run.
type Report struct {
	SiteID  int64                 `json:"site_id"`
	Stored  int                   `json:"stored"`
	Skipped int                   `json:"skipped"`
	Partial *fault.PartialFailure `json:"partial,omitempty"`
}

// CrawlRequest starts a crawl-then-ingest job.
type CrawlRequest struct {
	SiteRequest
	Sitemap bool `json:"sitemap"`
	MaxURLs int  `json:"max_urls"`
}

// Job is a point-in-time snapshot of one ingestion job.
type Job struct {
	ID          string     `json:"id"`
	SiteURL     string     `json:"site_url"`
	Status      string     `json:"status"`
	Stored      int        `json:"stored"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Fetcher is the slice of the crawl client the pipeline needs.
type Fetcher interface {
	CrawlAndWait(ctx context.Context, urls []string) (*crawl.Task, error)
	CrawlSitemap(ctx context.Context, sitemapURL string, maxURLs int) (*crawl.Task, []string, error)
}

// Pipeline converts crawl results into Site and Page rows with embeddings.
type Pipeline struct {
	store   *store.Store
	gateway *embedding.Gateway
	enhance *enhancer
	fetcher Fetcher

	chunkOpts    chunker.Options
	embedWorkers int

	mu       sync.Mutex
	inFlight map[string]bool
	jobs     map[string]*jobState
	running  sync.WaitGroup
}

type jobState struct {
	mu         sync.Mutex
	job        Job
	cancel     context.CancelFunc
}

// Option adjusts pipeline behavior.
type Option func(*Pipeline)

// WithChunkOptions overrides the chunker settings.
func WithChunkOptions(opts chunker.Options) Option {
	return func(p *Pipeline) { p.chunkOpts = opts }
}

// WithEmbedWorkers bounds concurrent embedding calls per job.
func WithEmbedWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.embedWorkers = n
		}
	}
}

// WithFetcher wires the crawl service client used by Start.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

func NewPipeline(st *store.Store, gateway *embedding.Gateway, chat providers.ChatProvider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        st,
		gateway:      gateway,
		enhance:      &enhancer{chat: chat, timeout: defaultEnhanceWait},
		embedWorkers: defaultEmbedWorkers,
		inFlight:     make(map[string]bool),
		jobs:         make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches a crawl-then-ingest job in the background and returns its
// id. A second request for a site already ingesting fails with ErrSiteBusy.
func (p *Pipeline) Start(req CrawlRequest) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", fault.New(fault.KindValidation, "site url required")
	}
	if p.fetcher == nil {
		return "", fault.New(fault.KindFatal, "no crawl service configured")
	}

	p.mu.Lock()
	if p.inFlight[req.URL] {
		p.mu.Unlock()
		return "", ErrSiteBusy
	}
	p.inFlight[req.URL] = true

	ctx, cancel := context.WithCancel(context.Background())
	state := &jobState{
		job: Job{
			ID:        uuid.NewString(),
			SiteURL:   req.URL,
			Status:    StatusQueued,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}
	p.jobs[state.job.ID] = state
	p.mu.Unlock()

	p.running.Add(1)
	go func() {
		defer p.running.Done()
		defer cancel()
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, req.URL)
			p.mu.Unlock()
		}()
		p.runJob(ctx, state, req)
	}()
	return state.job.ID, nil
}

func (p *Pipeline) runJob(ctx context.Context, state *jobState, req CrawlRequest) {
	logger := common.Logger()
	state.set(func(j *Job) { j.Status = StatusCrawling })

	var task *crawl.Task
	var err error
	if req.Sitemap {
		task, _, err = p.fetcher.CrawlSitemap(ctx, req.URL, req.MaxURLs)
	} else {
		task, err = p.fetcher.CrawlAndWait(ctx, []string{req.URL})
	}
	if err != nil {
		state.finish(jobStatusFor(ctx, err), err)
		logger.Error("ingest: crawl failed", "site", req.URL, "error", err)
		return
	}

	pages := make([]PageRecord, 0, len(task.Results))
	for _, result := range task.Results {
		pages = append(pages, PageRecord{
			URL:     result.URL,
			Title:   result.PageTitle(),
			Content: result.Content(),
		})
	}

	state.set(func(j *Job) { j.Status = StatusRunning })
	report, err := p.IngestPages(ctx, req.SiteRequest, pages)
	if report != nil {
		state.set(func(j *Job) {
			j.Stored = report.Stored
			if report.Partial != nil {
				j.Failed = report.Partial.Failed
			}
		})
	}
	if err != nil {
		state.finish(jobStatusFor(ctx, err), err)
		logger.Error("ingest: site ingestion failed", "site", req.URL, "error", err)
		return
	}
	state.finish(StatusCompleted, nil)
	logger.Info("ingest: site ingestion completed", "site", req.URL, "stored", report.Stored)
}

func jobStatusFor(ctx context.Context, err error) string {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return StatusCancelled
	}
	return StatusFailed
}

// IngestPages runs one site ingestion synchronously. Already committed pages
// survive cancellation: a partially ingested site is a resumable state.
func (p *Pipeline) IngestPages(ctx context.Context, site SiteRequest, pages []PageRecord) (*Report, error) {
	if strings.TrimSpace(site.URL) == "" {
		return nil, fault.New(fault.KindValidation, "site url required")
	}
	siteID, err := p.store.UpsertSite(ctx, site.Name, site.URL, site.Description)
	if err != nil {
		return nil, fmt.Errorf("upsert site: %w", err)
	}

	report := &Report{SiteID: siteID, Partial: &fault.PartialFailure{}}
	var firstSummary string

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.embedWorkers)

	var mu sync.Mutex
	for _, page := range pages {
		// Stop submitting work on cancellation but still wait for in-flight
		// embeddings below before the report is read.
		if ctx.Err() != nil {
			break
		}
		content := chunker.Normalize(page.Content)
		if content == "" {
			report.Skipped++
			continue
		}

		title, summary := p.enhance.Enhance(ctx, page.URL, page.Title, content)

		stored, err := p.storePage(ctx, siteID, page.URL, title, summary, content)
		if err != nil {
			common.Logger().Warn("ingest: page store failed", "url", page.URL, "error", err)
			mu.Lock()
			report.Partial.Add(fmt.Sprintf("%s: %v", page.URL, err))
			mu.Unlock()
			continue
		}
		report.Stored++
		if firstSummary == "" {
			firstSummary = summary
		}

		for _, target := range stored {
			target := target
			group.Go(func() error {
				vec, err := p.gateway.Embed(groupCtx, target.content)
				if err != nil {
					common.Logger().Warn("ingest: embedding failed", "url", target.url, "error", err)
					mu.Lock()
					report.Partial.Add(fmt.Sprintf("embed %s: %v", target.url, err))
					mu.Unlock()
					return nil
				}
				if err := p.store.SetPageEmbedding(groupCtx, target.pageID, vec); err != nil {
					mu.Lock()
					report.Partial.Add(fmt.Sprintf("embed %s: %v", target.url, err))
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if report.Stored == 0 {
		return report, fault.New(fault.KindFatal, "no pages stored for site %s", site.URL)
	}

	description := site.Description
	if description == "" {
		description = firstSummary
	}
	pageCount, err := p.store.ParentPageCount(ctx, siteID)
	if err != nil {
		pageCount = report.Stored
	}
	if err := p.store.FinalizeSite(ctx, siteID, description, pageCount); err != nil {
		common.Logger().Warn("ingest: site finalize failed", "site", site.URL, "error", err)
	}
	if report.Partial.Empty() {
		report.Partial = nil
	}
	return report, nil
}

// embedTarget is one stored row waiting for its vector.
type embedTarget struct {
	pageID  int64
	url     string
	content string
}

// storePage persists one page and returns the rows that need embeddings.
// Multi-chunk pages get a parent row without an embedding plus one row per
// chunk, addressed by a #chunk-i URL fragment.
func (p *Pipeline) storePage(ctx context.Context, siteID int64, pageURL, title, summary, content string) ([]embedTarget, error) {
	chunks := chunker.Split(content, p.chunkOpts)
	if len(chunks) <= 1 {
		pageID, err := p.store.UpsertPage(ctx, &store.Page{
			SiteID:  siteID,
			URL:     pageURL,
			Title:   title,
			Content: content,
			Summary: summary,
		})
		if err != nil {
			return nil, err
		}
		// Content may have shrunk from a chunked page; drop any old chunk rows.
		if err := p.store.PruneChunks(ctx, pageID, 0); err != nil {
			return nil, err
		}
		return []embedTarget{{pageID: pageID, url: pageURL, content: content}}, nil
	}

	parentID, err := p.store.UpsertPage(ctx, &store.Page{
		SiteID:  siteID,
		URL:     pageURL,
		Title:   title,
		Content: content,
		Summary: summary,
	})
	if err != nil {
		return nil, err
	}

	targets := make([]embedTarget, 0, len(chunks))
	for i, chunk := range chunks {
		idx := i
		chunkURL := fmt.Sprintf("%s#chunk-%d", pageURL, idx)
		chunkID, err := p.store.UpsertPage(ctx, &store.Page{
			SiteID:     siteID,
			URL:        chunkURL,
			Title:      title,
			Content:    chunk,
			Summary:    summary,
			IsChunk:    true,
			ChunkIndex: &idx,
			ParentID:   &parentID,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, embedTarget{pageID: chunkID, url: chunkURL, content: chunk})
	}
	// Re-ingestion with fewer chunks leaves stale tails behind; drop them.
	if err := p.store.PruneChunks(ctx, parentID, len(chunks)); err != nil {
		return nil, err
	}
	return targets, nil
}

// Status returns a snapshot of one job.
func (p *Pipeline) Status(jobID string) (Job, error) {
	p.mu.Lock()
	state, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return state.snapshot(), nil
}

// SiteStatus returns the newest job for a site URL.
func (p *Pipeline) SiteStatus(siteURL string) (Job, error) {
	var latest Job
	found := false
	for _, job := range p.Jobs() {
		if job.SiteURL != siteURL {
			continue
		}
		if !found || job.StartedAt.After(latest.StartedAt) {
			latest = job
			found = true
		}
	}
	if !found {
		return Job{}, ErrJobNotFound
	}
	return latest, nil
}

// Jobs lists snapshots of all known jobs, newest first.
func (p *Pipeline) Jobs() []Job {
	p.mu.Lock()
	states := make([]*jobState, 0, len(p.jobs))
	for _, state := range p.jobs {
		states = append(states, state)
	}
	p.mu.Unlock()

	jobs := make([]Job, 0, len(states))
	for _, state := range states {
		jobs = append(jobs, state.snapshot())
	}
	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].StartedAt.After(jobs[i].StartedAt) {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}
	return jobs
}

// Cancel stops an in-flight job. Pages already committed stay in place.
func (p *Pipeline) Cancel(jobID string) error {
	p.mu.Lock()
	state, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	state.cancel()
	return nil
}

// Wait blocks until all background jobs have finished. Used on shutdown and
// in tests.
func (p *Pipeline) Wait() {
	p.running.Wait()
}

func (s *jobState) set(fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.job)
}

func (s *jobState) finish(status string, err error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = status
	s.job.FinishedAt = &now
	if err != nil {
		s.job.Error = err.Error()
	}
}

func (s *jobState) snapshot() Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}
