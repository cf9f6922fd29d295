// File path: internal/api/crawl_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/ingest"
)

func (s *Server) handleCrawlStart(w http.ResponseWriter, r *http.Request) {
	var req ingest.CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("url required"))
		return
	}
	common.Logger().Info("api: crawl requested", "url", req.URL, "sitemap", req.Sitemap)

	jobID, err := s.pipeline.Start(req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": ingest.StatusQueued,
	})
}

func (s *Server) handleCrawlJobs(w http.ResponseWriter, r *http.Request) {
	if site := r.URL.Query().Get("site"); site != "" {
		job, err := s.pipeline.SiteStatus(site)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.pipeline.Jobs()})
}

func (s *Server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.pipeline.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCrawlCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.pipeline.Cancel(jobID); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "job_id": jobID})
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sites": sites})
}
