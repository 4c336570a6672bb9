package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	authmw "github.com/skillforge/skillforge-training/internal/auth/middleware"
	"github.com/skillforge/skillforge-training/internal/rbac"
	"github.com/skillforge/skillforge-training/internal/training"
)

var validate = validator.New()

func principalFrom(r *http.Request) training.Principal {
	return training.Principal{
		UserID: authmw.SubjectFromContext(r.Context()),
		Role:   rbac.RoleFromContext(r.Context()),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps engine errors onto the HTTP boundary. Everything in the
// taxonomy is caller-facing; anything else is an infrastructure failure.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, training.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, training.ErrModuleLocked),
		errors.Is(err, training.ErrQuizRequired),
		errors.Is(err, training.ErrNotCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, training.ErrQuizLocked),
		errors.Is(err, training.ErrAttemptsExhausted),
		errors.Is(err, training.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, training.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
