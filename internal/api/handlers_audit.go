package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"taskdeck/internal/store"
)

func (s *Server) handleTaskAudit(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	entries, err := s.store.ListAuditForEntity(r.Context(), "task", taskID)
	if err != nil {
		HandleError(w, err)
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	JSONResponse(w, entries)
}

func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.store.ListRecentAudit(r.Context(), limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	JSONResponse(w, entries)
}
