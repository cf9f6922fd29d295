// File path: internal/api/prefs_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
)

func (s *Server) handlePreferencesList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user_id required"))
		return
	}
	activeOnly := r.URL.Query().Get("include_inactive") != "true"
	minConfidence := 0.0
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid min_confidence %q", raw))
			return
		}
		minConfidence = value
	}

	prefs, err := s.extractor.List(r.Context(), userID, activeOnly, minConfidence, r.URL.Query().Get("type"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"count":       len(prefs),
		"preferences": prefs,
	})
}

func (s *Server) handlePreferenceAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string  `json:"user_id"`
		Type       string  `json:"preference_type"`
		Value      string  `json:"preference_value"`
		Context    string  `json:"context"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Confidence == 0 {
		req.Confidence = 1
	}

	pref, err := s.extractor.Add(r.Context(), req.UserID, req.Type, req.Value, req.Context, req.Confidence)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pref)
}

func (s *Server) handlePreferenceDeactivate(w http.ResponseWriter, r *http.Request) {
	prefID := chi.URLParam(r, "prefID")
	if err := s.extractor.Deactivate(r.Context(), prefID); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "id": prefID})
}

func (s *Server) handlePreferenceDelete(w http.ResponseWriter, r *http.Request) {
	prefID := chi.URLParam(r, "prefID")
	if err := s.extractor.Delete(r.Context(), prefID); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": prefID})
}

func (s *Server) handlePreferencesClear(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user_id required"))
		return
	}
	removed, err := s.extractor.Clear(r.Context(), userID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "cleared",
		"user_id": userID,
		"removed": removed,
	})
}
