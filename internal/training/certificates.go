package training

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skillforge/skillforge-training/internal/audit"
)

// Certificate Issuer. An enrollment exclusively owns at most one certificate;
// issuance never overwrites an existing one.

// IssueCertificate issues the certificate for a completed enrollment,
// idempotently: repeated calls converge on the same certificate id.
func (s *Service) IssueCertificate(ctx context.Context, p Principal, enrollmentID string) (Certificate, error) {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return Certificate{}, err
	}
	if e.UserID != p.UserID && !p.privileged() {
		return Certificate{}, ErrForbidden
	}
	if e.Status != EnrollmentCompleted {
		return Certificate{}, fmt.Errorf("%w: enrollment %s", ErrNotCompleted, enrollmentID)
	}
	cert := Certificate{
		ID:           uuid.NewString(),
		EnrollmentID: e.ID,
		IssuedAt:     s.now().Unix(),
	}
	issued, created, err := s.store.IssueCertificate(ctx, cert)
	if err != nil {
		return Certificate{}, err
	}
	if created {
		s.record(ctx, audit.TypeCertificateIssued, e.ID, p.UserID, map[string]any{
			"certificate_id": issued.ID,
		})
	}
	return issued, nil
}

// CertificateFor is a pure lookup; it never creates.
func (s *Service) CertificateFor(ctx context.Context, p Principal, enrollmentID string) (*Certificate, error) {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.UserID != p.UserID && !p.privileged() {
		return nil, ErrForbidden
	}
	return s.store.CertificateFor(ctx, enrollmentID)
}
