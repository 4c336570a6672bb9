package training

import "context"

// AttemptWrite is one atomic quiz-submission write: the appended attempt plus
// whichever projections it moves. Stores must apply it in a single
// transaction so concurrent submissions can never over-count attempts.
type AttemptWrite struct {
	Attempt    Attempt
	FinalState *FinalQuizState // final-quiz submissions
	Progress   *ModuleProgress // module-quiz submissions
	Enrollment *Enrollment     // optional status transition
	XPUserID   string          // non-empty to credit XP
	XPDelta    int
}

// CompletionWrite is one atomic module-completion write: the completed
// progress row, the enrollment transition, and any module XP. Stores apply it
// in a single transaction so a failed write leaves the module incomplete and
// the XP unawarded, and a retry can award it.
type CompletionWrite struct {
	Progress   ModuleProgress
	Enrollment Enrollment
	XPUserID   string // non-empty to credit XP
	XPDelta    int
}

// Store is the Progress Store: the only shared mutable resource. All mutation
// of enrollments, progress, attempts, and certificates goes through it.
type Store interface {
	// Catalog.
	PutTraining(ctx context.Context, t Training) error
	GetTraining(ctx context.Context, id string) (Training, error)
	// GetTrainingByModule resolves a module id to its training and module.
	GetTrainingByModule(ctx context.Context, moduleID string) (Training, Module, error)
	SetTrainingStatus(ctx context.Context, id string, status TrainingStatus) error

	// Enrollments. CreateEnrollment has insert-or-fetch semantics on the
	// (user, training) uniqueness constraint.
	CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
	GetEnrollment(ctx context.Context, id string) (Enrollment, error)
	FindEnrollment(ctx context.Context, trainingID, userID string) (Enrollment, error)
	UpdateEnrollment(ctx context.Context, e Enrollment) error

	// Per-module progress, keyed by module id. Rows are created lazily.
	ModuleProgressFor(ctx context.Context, enrollmentID string) (map[string]ModuleProgress, error)
	UpsertModuleProgress(ctx context.Context, mp ModuleProgress) error
	ApplyModuleCompletion(ctx context.Context, w CompletionWrite) error

	// Final-quiz projection and the append-only attempt log.
	FinalQuizStateFor(ctx context.Context, enrollmentID string) (FinalQuizState, error)
	RecordAttempt(ctx context.Context, w AttemptWrite) error
	ListAttempts(ctx context.Context, enrollmentID string) ([]Attempt, error)

	// Certificates. IssueCertificate returns the existing certificate when one
	// is already present for the enrollment (created=false), never a duplicate.
	IssueCertificate(ctx context.Context, c Certificate) (Certificate, bool, error)
	CertificateFor(ctx context.Context, enrollmentID string) (*Certificate, error)

	// ResetEnrollment clears module progress, the final-quiz projection, and
	// any certificate in one transaction, rewinding the enrollment to pending.
	// The attempt log is append-only and survives.
	ResetEnrollment(ctx context.Context, enrollmentID string) error
}
