package api

import (
	"net/http"
	"strconv"
)

// handleCacheStatus handles GET /v1/cache/status
func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.repo.CacheStatus(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, status)
}

// handleCacheRefresh handles POST /v1/cache/refresh?force=true
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.respond(w, http.StatusBadRequest, map[string]string{"error": "force must be a boolean"})
			return
		}
		force = parsed
	}

	loaded, err := s.repo.RefreshCache(r.Context(), force)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordCacheRefresh(loaded)
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"loaded": loaded, "forced": force})
}

// handleCacheClear handles POST /v1/cache/clear
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.repo.ClearCache(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"removed": removed})
}
