// File path: internal/retrieval/engine.go
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/embedding"
	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/store"
)

// Request describes one search against the stored pages.
type Request struct {
	Query     string
	Threshold float64
	Limit     int
	// Sites holds case-insensitive site-name substrings; empty searches all.
	Sites []string
	// TextOnly bypasses embeddings and ranks lexically. It is an independent
	// path, not a fallback around the vector search.
	TextOnly bool
}

// Hit is one ranked search result. ParentID and ChunkIndex are exposed so a
// caller can reconstruct surrounding context; this engine never deduplicates
// a chunk against its parent.
type Hit struct {
	ID         int64   `json:"id"`
	SiteID     int64   `json:"site_id"`
	SiteName   string  `json:"site_name"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Summary    string  `json:"summary"`
	IsChunk    bool    `json:"is_chunk"`
	ChunkIndex *int    `json:"chunk_index,omitempty"`
	ParentID   *int64  `json:"parent_id,omitempty"`
	Context    string  `json:"context,omitempty"`
	Similarity float64 `json:"similarity"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Engine ranks stored pages against a query in vector or lexical mode.
type Engine struct {
	store   *store.Store
	gateway *embedding.Gateway
}

func New(st *store.Store, gateway *embedding.Gateway) *Engine {
	return &Engine{store: st, gateway: gateway}
}

// Search returns ranked hits above the threshold, at most Limit of them.
// No candidates clearing the threshold yields an empty list, not an error.
func (e *Engine) Search(ctx context.Context, req Request) ([]Hit, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fault.New(fault.KindValidation, "search query required")
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return nil, fault.New(fault.KindValidation, "threshold %v out of range [0,1]", req.Threshold)
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}
	logger := common.Logger()
	siteIDs, err := e.resolveSites(ctx, req.Sites)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	if req.TextOnly {
		hits, err = e.searchText(ctx, req, siteIDs)
	} else {
		hits, err = e.searchVector(ctx, req, siteIDs)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].UpdatedAt.Equal(hits[j].UpdatedAt) {
			return hits[i].UpdatedAt.After(hits[j].UpdatedAt)
		}
		return hits[i].ID > hits[j].ID
	})
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	logger.Debug("retrieval: search complete", "query", req.Query, "text_only", req.TextOnly, "hits", len(hits))
	return hits, nil
}

// resolveSites maps name substrings onto site ids. When a filter matches no
// site the search widens to all sites rather than silently returning nothing.
func (e *Engine) resolveSites(ctx context.Context, filters []string) ([]int64, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	ids, err := e.store.SitesMatching(ctx, filters)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		common.Logger().Warn("retrieval: no sites match filter, searching all", "filters", filters)
		return nil, nil
	}
	return ids, nil
}

func (e *Engine) searchVector(ctx context.Context, req Request, siteIDs []int64) ([]Hit, error) {
	queryVec, err := e.gateway.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	candidates, err := e.store.VectorCandidates(ctx, siteIDs)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(candidates))
	for _, cand := range candidates {
		sim := cosine(queryVec, cand.Embedding)
		if sim < req.Threshold {
			continue
		}
		hits = append(hits, toHit(cand, sim))
	}
	return hits, nil
}

func (e *Engine) searchText(ctx context.Context, req Request, siteIDs []int64) ([]Hit, error) {
	tokens := tokenize(req.Query)
	if len(tokens) == 0 {
		return nil, fault.New(fault.KindValidation, "search query has no usable terms")
	}
	candidates, err := e.store.TextCandidates(ctx, siteIDs, tokens)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(candidates))
	for _, cand := range candidates {
		score := lexicalScore(cand, tokens)
		if score <= 0 || score < req.Threshold {
			continue
		}
		hits = append(hits, toHit(cand, score))
	}
	return hits, nil
}

func toHit(cand store.Candidate, similarity float64) Hit {
	hit := Hit{
		ID:         cand.ID,
		SiteID:     cand.SiteID,
		SiteName:   cand.SiteName,
		URL:        cand.URL,
		Title:      cand.Title,
		Content:    cand.Content,
		Summary:    cand.Summary,
		IsChunk:    cand.IsChunk,
		ChunkIndex: cand.ChunkIndex,
		ParentID:   cand.ParentID,
		Similarity: similarity,
		UpdatedAt:  cand.UpdatedAt,
	}
	if cand.IsChunk {
		parentTitle := cand.ParentTitle
		if parentTitle == "" {
			parentTitle = "Parent Document"
		}
		part := 1
		if cand.ChunkIndex != nil {
			part = *cand.ChunkIndex + 1
		}
		hit.Context = fmt.Sprintf("From: %s (Part %d)", parentTitle, part)
	}
	return hit
}

// lexicalScore is the fraction of query tokens present in the candidate,
// with matches in the title counting fully and content matches counting
// fully as well; a candidate matching every token scores 1.
func lexicalScore(cand store.Candidate, tokens []string) float64 {
	title := strings.ToLower(cand.Title)
	content := strings.ToLower(cand.Content)
	url := strings.ToLower(cand.URL)
	matched := 0
	for _, token := range tokens {
		if strings.Contains(title, token) || strings.Contains(content, token) || strings.Contains(url, token) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '.' && r != '-'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func cosine(a []float32, b store.Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
