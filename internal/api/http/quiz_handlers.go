package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skillforge/skillforge-training/internal/training"
)

type submitQuizReq struct {
	Answers map[string]string `json:"answers" validate:"required,min=1"`
}

func decodeSubmission(w http.ResponseWriter, r *http.Request) (submitQuizReq, bool) {
	var req submitQuizReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "answers required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// GET /modules/{moduleID}/quiz
// Serves the quiz definition without correct answers.
func GetModuleQuizHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := svc.ModuleQuiz(r.Context(), principalFrom(r), chi.URLParam(r, "moduleID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// POST /modules/{moduleID}/quiz/attempts
func SubmitModuleQuizHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSubmission(w, r)
		if !ok {
			return
		}
		res, err := svc.SubmitModuleQuiz(r.Context(), principalFrom(r), chi.URLParam(r, "moduleID"), req.Answers)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /trainings/{trainingID}/quiz
// Serves the final quiz, answer-stripped.
func GetFinalQuizHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := svc.FinalQuiz(r.Context(), principalFrom(r), chi.URLParam(r, "trainingID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// POST /trainings/{trainingID}/quiz/attempts
func SubmitFinalQuizHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSubmission(w, r)
		if !ok {
			return
		}
		res, err := svc.SubmitFinalQuiz(r.Context(), principalFrom(r), chi.URLParam(r, "trainingID"), req.Answers)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /enrollments/{enrollmentID}/attempts
func ListAttemptsHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attempts, err := svc.ListAttempts(r.Context(), principalFrom(r), chi.URLParam(r, "enrollmentID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if attempts == nil {
			attempts = []training.Attempt{}
		}
		writeJSON(w, http.StatusOK, attempts)
	}
}
