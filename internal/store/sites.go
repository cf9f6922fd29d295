// File path: internal/store/sites.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	neturl "net/url"
	"strings"
	"time"
)

// UpsertSite inserts a site or refreshes the name/description of an existing
// one keyed by URL, returning the site id either way. Empty name/description
// never overwrite stored values; a new site with no name gets one derived
// from the URL host.
func (s *Store) UpsertSite(ctx context.Context, name, url, description string) (int64, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return 0, errors.New("site url required")
	}
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	var existing Site
	err := s.db.GetContext(ctx, &existing, `SELECT * FROM crawl_sites WHERE url = ?`, url)
	switch {
	case err == nil:
		if name == "" {
			name = existing.Name
		}
		if description == "" {
			description = existing.Description
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE crawl_sites SET name = ?, description = ? WHERE id = ?`,
			name, description, existing.ID); err != nil {
			return 0, fmt.Errorf("update site: %w", err)
		}
		return existing.ID, nil
	case errors.Is(err, sql.ErrNoRows):
		if name == "" {
			name = hostName(url)
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO crawl_sites (name, url, description, created_at) VALUES (?, ?, ?, ?)`,
			name, url, description, time.Now().UTC())
		if err != nil {
			return 0, fmt.Errorf("insert site: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("site id: %w", err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("select site: %w", err)
	}
}

func hostName(rawURL string) string {
	parsed, err := neturl.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

// SiteByID returns one site, or sql.ErrNoRows when absent.
func (s *Store) SiteByID(ctx context.Context, id int64) (*Site, error) {
	var site Site
	if err := s.db.GetContext(ctx, &site, `SELECT * FROM crawl_sites WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &site, nil
}

// ListSites returns all sites ordered by name.
func (s *Store) ListSites(ctx context.Context) ([]Site, error) {
	sites := []Site{}
	if err := s.db.SelectContext(ctx, &sites, `SELECT * FROM crawl_sites ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("select sites: %w", err)
	}
	return sites, nil
}

// SitesMatching returns the ids of sites whose name contains any of the
// given substrings, case-insensitive. An empty filter matches every site.
func (s *Store) SitesMatching(ctx context.Context, nameFilters []string) ([]int64, error) {
	sites, err := s.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	if len(nameFilters) == 0 {
		ids := make([]int64, 0, len(sites))
		for _, site := range sites {
			ids = append(ids, site.ID)
		}
		return ids, nil
	}
	var ids []int64
	for _, site := range sites {
		name := strings.ToLower(site.Name)
		for _, filter := range nameFilters {
			if filter = strings.ToLower(strings.TrimSpace(filter)); filter == "" {
				continue
			}
			if strings.Contains(name, filter) {
				ids = append(ids, site.ID)
				break
			}
		}
	}
	return ids, nil
}

// FinalizeSite back-fills description and page count after an ingestion run.
// An empty description leaves the stored one untouched.
func (s *Store) FinalizeSite(ctx context.Context, id int64, description string, pageCount int) error {
	if strings.TrimSpace(description) != "" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE crawl_sites SET description = ?, page_count = ? WHERE id = ?`,
			description, pageCount, id); err != nil {
			return fmt.Errorf("finalize site: %w", err)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE crawl_sites SET page_count = ? WHERE id = ?`, pageCount, id); err != nil {
		return fmt.Errorf("finalize site: %w", err)
	}
	return nil
}
