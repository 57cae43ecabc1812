package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fpang/page-restyle/internal/auth"
)

// handleGetJob handles GET /restyle-jobs/{id}. Jobs owned by someone else
// are reported as missing.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.store.GetRestyleJob(r.Context(), jobID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	if job == nil || job.OwnerID != auth.UserID(r.Context()) {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}
