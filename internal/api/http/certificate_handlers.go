package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/skillforge/skillforge-training/internal/training"
)

// GET /certificates?enrollment_id=
// Returns the certificate or null; never creates.
func GetCertificateHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollmentID := strings.TrimSpace(r.URL.Query().Get("enrollment_id"))
		if enrollmentID == "" {
			http.Error(w, "enrollment_id required", http.StatusBadRequest)
			return
		}
		cert, err := svc.CertificateFor(r.Context(), principalFrom(r), enrollmentID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cert) // nil encodes as null
	}
}

type issueCertificateReq struct {
	EnrollmentID string `json:"enrollment_id" validate:"required"`
}

// POST /certificates/issue
// Idempotent: repeated calls return the same
// certificate id.
func IssueCertificateHandler(svc *training.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req issueCertificateReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "enrollment_id required", http.StatusBadRequest)
			return
		}
		cert, err := svc.IssueCertificate(r.Context(), principalFrom(r), req.EnrollmentID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cert)
	}
}
