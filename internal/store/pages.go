// File path: internal/store/pages.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Candidate is a page joined with its site name, as consumed by the
// retrieval engine.
type Candidate struct {
	Page
	SiteName    string `db:"site_name" json:"site_name"`
	ParentTitle string `db:"parent_title" json:"parent_title,omitempty"`
}

// UpsertPage inserts a page or refreshes the existing row identified by
// (site_id, url, chunk_index). Re-ingesting a URL therefore updates in place
// instead of duplicating.
func (s *Store) UpsertPage(ctx context.Context, page *Page) (int64, error) {
	if page == nil {
		return 0, errors.New("page required")
	}
	if strings.TrimSpace(page.URL) == "" {
		return 0, errors.New("page url required")
	}
	now := time.Now().UTC()
	var existingID int64
	err := s.db.GetContext(ctx, &existingID,
		`SELECT id FROM crawl_pages WHERE site_id = ? AND url = ? AND COALESCE(chunk_index, -1) = ?`,
		page.SiteID, page.URL, chunkKey(page.ChunkIndex))
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx,
			`UPDATE crawl_pages
                        SET title = ?, content = ?, summary = ?, embedding = ?,
                            is_chunk = ?, chunk_index = ?, parent_id = ?, updated_at = ?
                        WHERE id = ?`,
			page.Title, page.Content, page.Summary, page.Embedding,
			page.IsChunk, page.ChunkIndex, page.ParentID, now, existingID); err != nil {
			return 0, fmt.Errorf("update page: %w", err)
		}
		page.ID = existingID
		return existingID, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO crawl_pages
                        (site_id, url, title, content, summary, embedding, is_chunk, chunk_index, parent_id, created_at, updated_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			page.SiteID, page.URL, page.Title, page.Content, page.Summary, page.Embedding,
			page.IsChunk, page.ChunkIndex, page.ParentID, now, now)
		if err != nil {
			return 0, fmt.Errorf("insert page: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("page id: %w", err)
		}
		page.ID = id
		return id, nil
	default:
		return 0, fmt.Errorf("select page: %w", err)
	}
}

func chunkKey(idx *int) int {
	if idx == nil {
		return -1
	}
	return *idx
}

// SetPageEmbedding stores the computed vector for a page.
func (s *Store) SetPageEmbedding(ctx context.Context, pageID int64, embedding Vector) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE crawl_pages SET embedding = ?, updated_at = ? WHERE id = ?`,
		embedding, time.Now().UTC(), pageID); err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

// PruneChunks removes chunk rows of a parent whose index is beyond the new
// chunk count, so a re-ingested page ends up with a dense 0..N-1 set.
func (s *Store) PruneChunks(ctx context.Context, parentID int64, keep int) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM crawl_pages WHERE parent_id = ? AND chunk_index >= ?`, parentID, keep); err != nil {
		return fmt.Errorf("prune chunks: %w", err)
	}
	return nil
}

// PageByID returns one page joined with its site name.
func (s *Store) PageByID(ctx context.Context, id int64) (*Candidate, error) {
	var page Candidate
	err := s.db.GetContext(ctx, &page,
		`SELECT p.*, s.name AS site_name, COALESCE(parent.title, '') AS parent_title
                FROM crawl_pages p
                JOIN crawl_sites s ON s.id = p.site_id
                LEFT JOIN crawl_pages parent ON parent.id = p.parent_id
                WHERE p.id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// VectorCandidates returns all pages carrying an embedding, optionally
// restricted to the given sites. Pages without embeddings are excluded; they
// remain reachable through TextCandidates.
func (s *Store) VectorCandidates(ctx context.Context, siteIDs []int64) ([]Candidate, error) {
	query := `SELECT p.*, s.name AS site_name, COALESCE(parent.title, '') AS parent_title
                FROM crawl_pages p
                JOIN crawl_sites s ON s.id = p.site_id
                LEFT JOIN crawl_pages parent ON parent.id = p.parent_id
                WHERE p.embedding IS NOT NULL`
	return s.selectCandidates(ctx, query, siteIDs, nil)
}

// TextCandidates returns pages whose title or content contains any of the
// given tokens, optionally restricted to the given sites.
func (s *Store) TextCandidates(ctx context.Context, siteIDs []int64, tokens []string) ([]Candidate, error) {
	query := `SELECT p.*, s.name AS site_name, COALESCE(parent.title, '') AS parent_title
                FROM crawl_pages p
                JOIN crawl_sites s ON s.id = p.site_id
                LEFT JOIN crawl_pages parent ON parent.id = p.parent_id
                WHERE 1 = 1`
	var likeClauses []string
	var likeArgs []interface{}
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		pattern := "%" + token + "%"
		likeClauses = append(likeClauses, `(p.content LIKE ? OR p.title LIKE ? OR p.url LIKE ?)`)
		likeArgs = append(likeArgs, pattern, pattern, pattern)
	}
	if len(likeClauses) > 0 {
		query += ` AND (` + strings.Join(likeClauses, " OR ") + `)`
	}
	return s.selectCandidates(ctx, query, siteIDs, likeArgs)
}

func (s *Store) selectCandidates(ctx context.Context, query string, siteIDs []int64, args []interface{}) ([]Candidate, error) {
	if len(siteIDs) > 0 {
		inQuery, inArgs, err := sqlx.In(` AND p.site_id IN (?)`, siteIDs)
		if err != nil {
			return nil, fmt.Errorf("build site filter: %w", err)
		}
		query += inQuery
		args = append(args, inArgs...)
	}
	query = s.db.Rebind(query)
	candidates := []Candidate{}
	if err := s.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	return candidates, nil
}

// PagesBySite lists a site's pages. With includeChunks false only parent
// pages are returned.
func (s *Store) PagesBySite(ctx context.Context, siteID int64, includeChunks bool, limit int) ([]Page, error) {
	if limit <= 0 {
		limit = 100
	}
	pages := []Page{}
	query := `SELECT * FROM crawl_pages WHERE site_id = ? AND is_chunk = 0 ORDER BY url LIMIT ?`
	if includeChunks {
		query = `SELECT * FROM crawl_pages WHERE site_id = ? ORDER BY url, is_chunk, chunk_index LIMIT ?`
	}
	if err := s.db.SelectContext(ctx, &pages, query, siteID, limit); err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	return pages, nil
}

// ParentPageCount counts the non-chunk pages stored for a site.
func (s *Store) ParentPageCount(ctx context.Context, siteID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM crawl_pages WHERE site_id = ? AND is_chunk = 0`, siteID); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return count, nil
}
