package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skillforge/skillforge-training/internal/training"
)

// GET /trainings/{trainingID}/progress
// Enrolls the caller lazily on first access.
func GetProgressHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.GetProgress(r.Context(), principalFrom(r), chi.URLParam(r, "trainingID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /modules/{moduleID}/view
func ViewModuleHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.MarkContentViewed(r.Context(), principalFrom(r), chi.URLParam(r, "moduleID")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /modules/{moduleID}/complete
func CompleteModuleHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CompleteModule(r.Context(), principalFrom(r), chi.URLParam(r, "moduleID")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
