package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coralbay/tripwire/internal/rules"
)

// handleCreateRule handles POST /v1/rules
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		rules.Spec
		CreatedBy string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rule, err := s.repo.Create(r.Context(), &body.Spec, body.CreatedBy)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, rule)
}

// handleListRules handles GET /v1/rules with enabled/type/limit/offset
// query filters.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := rules.ListFilter{Limit: 50}

	q := r.URL.Query()
	if raw := q.Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			s.respond(w, http.StatusBadRequest, map[string]string{"error": "enabled must be a boolean"})
			return
		}
		filter.Enabled = &enabled
	}
	if raw := q.Get("type"); raw != "" {
		t := rules.RuleType(raw)
		if !rules.ValidType(t) {
			s.respond(w, http.StatusBadRequest, map[string]string{"error": "unknown rule type"})
			return
		}
		filter.Type = &t
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}

	listed, total, err := s.repo.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"rules": listed,
		"total": total,
	})
}

// handleGetRule handles GET /v1/rules/{id}
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, rule)
}

// handleUpdateRule handles PUT /v1/rules/{id}
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	var patch rules.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rule, err := s.repo.Update(r.Context(), id, &patch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, rule)
}

// handleDeleteRule handles DELETE /v1/rules/{id}
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	existed, err := s.repo.Delete(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !existed {
		s.respond(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleActivateRule handles POST /v1/rules/{id}/activate
func (s *Server) handleActivateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.repo.Activate(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, rule)
}

// handleDeactivateRule handles POST /v1/rules/{id}/deactivate
func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.repo.Deactivate(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, rule)
}

// handleListExecutions handles GET /v1/rules/{id}/executions
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	// 404 for unknown rules rather than an empty list.
	if _, err := s.repo.Get(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}

	execs, err := s.repo.ListExecutions(r.Context(), id, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"executions": execs})
}

func (s *Server) ruleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid rule id"})
		return uuid.Nil, false
	}
	return id, true
}
