// File path: internal/api/server.go

// Package api exposes the crawl, search, chat, and preference operations over
// HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/crawlchat/crawlchat/internal/chat"
	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/ingest"
	"github.com/crawlchat/crawlchat/internal/prefs"
	"github.com/crawlchat/crawlchat/internal/retrieval"
	"github.com/crawlchat/crawlchat/internal/store"
)

type Server struct {
	router    chi.Router
	store     *store.Store
	manager   *chat.Manager
	engine    *retrieval.Engine
	pipeline  *ingest.Pipeline
	extractor *prefs.Extractor
}

func NewServer(st *store.Store, manager *chat.Manager, engine *retrieval.Engine, pipeline *ingest.Pipeline, extractor *prefs.Extractor) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		store:     st,
		manager:   manager,
		engine:    engine,
		pipeline:  pipeline,
		extractor: extractor,
	}
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/v1/chat", s.handleChat)
	s.router.Get("/v1/profiles", s.handleProfiles)
	s.router.Post("/v1/sessions/{sessionID}/profile", s.handleSetProfile)
	s.router.Get("/v1/sessions/{sessionID}/history", s.handleHistory)
	s.router.Delete("/v1/sessions/{sessionID}/history", s.handleClearHistory)

	s.router.Post("/v1/crawl", s.handleCrawlStart)
	s.router.Get("/v1/crawl", s.handleCrawlJobs)
	s.router.Get("/v1/crawl/{jobID}", s.handleCrawlStatus)
	s.router.Post("/v1/crawl/{jobID}/cancel", s.handleCrawlCancel)
	s.router.Get("/v1/sites", s.handleSites)

	s.router.Get("/v1/search", s.handleSearch)

	s.router.Get("/v1/preferences", s.handlePreferencesList)
	s.router.Post("/v1/preferences", s.handlePreferenceAdd)
	s.router.Delete("/v1/preferences", s.handlePreferencesClear)
	s.router.Post("/v1/preferences/{prefID}/deactivate", s.handlePreferenceDeactivate)
	s.router.Delete("/v1/preferences/{prefID}", s.handlePreferenceDelete)

	s.router.Get("/v1/logs", s.handleLogs)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": common.LogEntries()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeFault maps typed domain errors onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrSiteBusy):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, ingest.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	}
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		writeError(w, http.StatusNotFound, err)
	case fault.KindValidation:
		writeError(w, http.StatusBadRequest, err)
	case fault.KindTransient:
		writeError(w, http.StatusServiceUnavailable, err)
	case fault.KindFatal:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
