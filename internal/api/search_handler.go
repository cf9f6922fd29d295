// File path: internal/api/search_handler.go
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/crawlchat/crawlchat/internal/retrieval"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter q required"))
		return
	}

	req := retrieval.Request{Query: query, Threshold: 0.5, Limit: 5}
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid threshold %q", raw))
			return
		}
		req.Threshold = value
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		req.Limit = value
	}
	for _, key := range []string{"site", "sites"} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		for _, site := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(site); trimmed != "" {
				req.Sites = append(req.Sites, trimmed)
			}
		}
	}
	req.TextOnly = r.URL.Query().Get("text_only") == "true"

	hits, err := s.engine.Search(r.Context(), req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"count":   len(hits),
		"results": hits,
	})
}
