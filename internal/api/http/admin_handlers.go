package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skillforge/skillforge-training/internal/training"
)

// POST /trainings
// Upserts a training with its modules and quizzes (privileged).
func CreateTrainingHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t training.Training
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		out, err := svc.CreateTraining(r.Context(), principalFrom(r), t)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// POST /trainings/{trainingID}/publish | /archive
func SetTrainingStatusHandler(svc *training.Service, status training.TrainingStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.SetTrainingStatus(r.Context(), principalFrom(r), chi.URLParam(r, "trainingID"), status); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /enrollments/{enrollmentID}/reset
// Privileged rewind of an enrollment to pending.
func ResetEnrollmentHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Reset(r.Context(), principalFrom(r), chi.URLParam(r, "enrollmentID")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
