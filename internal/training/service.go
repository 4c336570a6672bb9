package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skillforge/skillforge-training/internal/audit"
)

// SnapshotCache caches assembled progress snapshots by enrollment id. All
// cache traffic is best effort; a miss or failure falls through to the store.
type SnapshotCache interface {
	Get(ctx context.Context, enrollmentID string) (*TrainingProgress, error)
	Set(ctx context.Context, enrollmentID string, p *TrainingProgress) error
	Invalidate(ctx context.Context, enrollmentID string) error
}

const (
	RoleLearner = "learner"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

func (p Principal) privileged() bool {
	return p.Role == RoleManager || p.Role == RoleAdmin
}

// Service orchestrates the module gate, quiz evaluation, enrollment status,
// and certificate issuance over the progress store. Each request is handled
// statelessly; per-enrollment mutation is serialized through a keyed lock.
type Service struct {
	store  Store
	grader *Grader
	locks  *enrollmentLocks
	audit  audit.Recorder
	cache  SnapshotCache
	now    func() time.Time
}

type ServiceOption func(*Service)

func WithAudit(r audit.Recorder) ServiceOption     { return func(s *Service) { s.audit = r } }
func WithCache(c SnapshotCache) ServiceOption      { return func(s *Service) { s.cache = c } }
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		grader: NewGrader(),
		locks:  newEnrollmentLocks(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetProgress returns the learner-facing snapshot for one training, creating
// the enrollment lazily on first access. Archived trainings reject new
// enrollments but keep serving existing ones.
func (s *Service) GetProgress(ctx context.Context, p Principal, trainingID string) (TrainingProgress, error) {
	t, err := s.store.GetTraining(ctx, trainingID)
	if err != nil {
		return TrainingProgress{}, err
	}
	e, err := s.store.FindEnrollment(ctx, trainingID, p.UserID)
	if errors.Is(err, ErrNotFound) {
		e, err = s.enroll(ctx, t, p.UserID)
	}
	if err != nil {
		return TrainingProgress{}, err
	}

	if s.cache != nil {
		if hit, cErr := s.cache.Get(ctx, e.ID); cErr == nil && hit != nil {
			return *hit, nil
		}
	}
	out, err := s.buildProgress(ctx, t, e)
	if err != nil {
		return TrainingProgress{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, e.ID, &out)
	}
	return out, nil
}

func (s *Service) enroll(ctx context.Context, t Training, userID string) (Enrollment, error) {
	switch t.Status {
	case TrainingPublished:
	case TrainingArchived:
		return Enrollment{}, fmt.Errorf("%w: training %s is archived", ErrValidation, t.ID)
	default:
		return Enrollment{}, fmt.Errorf("%w: training %s", ErrNotFound, t.ID)
	}
	first := 0
	if len(t.Modules) > 0 {
		first = t.Modules[0].Order
	}
	e := Enrollment{
		ID:                 uuid.NewString(),
		TrainingID:         t.ID,
		UserID:             userID,
		Status:             EnrollmentPending,
		CurrentModuleOrder: first,
		EnrolledAt:         s.now().Unix(),
	}
	return s.store.CreateEnrollment(ctx, e)
}

func (s *Service) buildProgress(ctx context.Context, t Training, e Enrollment) (TrainingProgress, error) {
	progress, err := s.store.ModuleProgressFor(ctx, e.ID)
	if err != nil {
		return TrainingProgress{}, err
	}
	st, err := s.store.FinalQuizStateFor(ctx, e.ID)
	if err != nil {
		return TrainingProgress{}, err
	}

	views := ResolveModules(t, progress)
	done := completedCount(t, progress)
	total := len(t.Modules)
	pct := 100
	if total > 0 {
		pct = int(math.Round(float64(done) / float64(total) * 100))
	}

	// Status is recomputed on every read; the stored column is only a cache
	// kept in sync below. A completed enrollment stays completed even when the
	// catalog later grows new modules: only an explicit reset rewinds it.
	status := deriveStatus(t, progress, st)
	if e.Status == EnrollmentCompleted {
		status = EnrollmentCompleted
	}
	if status != e.Status {
		e.Status = status
		if status == EnrollmentCompleted && e.CompletedAt == 0 {
			e.CompletedAt = s.now().Unix()
		}
		if err := s.store.UpdateEnrollment(ctx, e); err != nil {
			return TrainingProgress{}, err
		}
	}

	fq := FinalQuizProgress{}
	if t.FinalQuiz != nil {
		fq = FinalQuizProgress{
			HasQuiz:        true,
			Unlocked:       AllModulesCompleted(t, progress),
			Blocked:        st.Blocked,
			Passed:         st.Passed,
			QuestionsCount: len(t.FinalQuiz.Questions),
			PassingScore:   t.FinalQuiz.PassingScore,
			MaxAttempts:    t.FinalQuiz.MaxAttempts,
			AttemptsUsed:   st.AttemptsUsed,
			BestScore:      st.BestScore,
		}
	}
	return TrainingProgress{
		EnrollmentID:     e.ID,
		TrainingID:       t.ID,
		TrainingTitle:    t.Title,
		Status:           e.Status,
		CompletedModules: done,
		TotalModules:     total,
		PercentComplete:  pct,
		XPReward:         t.XPReward,
		Modules:          views,
		FinalQuiz:        fq,
	}, nil
}

func deriveStatus(t Training, progress map[string]ModuleProgress, st FinalQuizState) EnrollmentStatus {
	if AllModulesCompleted(t, progress) && (t.FinalQuiz == nil || st.Passed) {
		return EnrollmentCompleted
	}
	for _, mp := range progress {
		if mp.ContentViewed || mp.Completed || mp.Score != nil {
			return EnrollmentInProgress
		}
	}
	if st.AttemptsUsed > 0 {
		return EnrollmentInProgress
	}
	return EnrollmentPending
}

// MarkContentViewed records that the learner viewed a module's content.
// Idempotent; fails with ErrModuleLocked (and writes nothing) on a locked
// module.
func (s *Service) MarkContentViewed(ctx context.Context, p Principal, moduleID string) error {
	t, m, e, err := s.loadModule(ctx, p, moduleID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(e.ID)
	defer unlock()

	progress, err := s.store.ModuleProgressFor(ctx, e.ID)
	if err != nil {
		return err
	}
	if v, ok := viewByID(ResolveModules(t, progress), m.ID); !ok || v.Locked {
		return fmt.Errorf("%w: module %s", ErrModuleLocked, m.ID)
	}
	mp := progress[m.ID]
	if mp.ContentViewed {
		return nil
	}
	mp.EnrollmentID = e.ID
	mp.ModuleID = m.ID
	mp.ContentViewed = true
	if err := s.store.UpsertModuleProgress(ctx, mp); err != nil {
		return err
	}
	if e.Status == EnrollmentPending {
		e.Status = EnrollmentInProgress
		if err := s.store.UpdateEnrollment(ctx, e); err != nil {
			return err
		}
	}
	s.invalidate(ctx, e.ID)
	return nil
}

// CompleteModule marks an unlocked module completed and advances the
// enrollment. Quiz-gated modules require a passed module quiz; others require
// the content to have been viewed. Completing the last module unlocks the
// final quiz (visible on the next progress read).
func (s *Service) CompleteModule(ctx context.Context, p Principal, moduleID string) error {
	t, m, e, err := s.loadModule(ctx, p, moduleID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(e.ID)
	defer unlock()

	progress, err := s.store.ModuleProgressFor(ctx, e.ID)
	if err != nil {
		return err
	}
	if v, ok := viewByID(ResolveModules(t, progress), m.ID); !ok || v.Locked {
		return fmt.Errorf("%w: module %s", ErrModuleLocked, m.ID)
	}
	mp := progress[m.ID]
	if mp.Completed {
		return nil
	}
	if m.QuizRequired && m.Quiz != nil {
		if !mp.Passed {
			return fmt.Errorf("%w: module %s", ErrQuizRequired, m.ID)
		}
	} else if !mp.ContentViewed {
		return fmt.Errorf("%w: content of module %s not viewed", ErrValidation, m.ID)
	}

	mp.EnrollmentID = e.ID
	mp.ModuleID = m.ID
	mp.Completed = true
	progress[m.ID] = mp

	next := m.Order + 1
	if last := lastOrder(t); next > last {
		next = last
	}
	if e.CurrentModuleOrder < next {
		e.CurrentModuleOrder = next
	}
	if AllModulesCompleted(t, progress) && t.FinalQuiz == nil {
		e.Status = EnrollmentCompleted
		e.CompletedAt = s.now().Unix()
	} else {
		e.Status = EnrollmentInProgress
	}

	// One transactional write: a failure leaves the module incomplete, so a
	// retry can still award the module XP.
	w := CompletionWrite{Progress: mp, Enrollment: e}
	if m.XPReward > 0 {
		w.XPUserID = p.UserID
		w.XPDelta = m.XPReward
	}
	if err := s.store.ApplyModuleCompletion(ctx, w); err != nil {
		return err
	}
	s.invalidate(ctx, e.ID)
	return nil
}

// ModuleQuiz serves a module's quiz definition with correct options and
// explanations stripped.
func (s *Service) ModuleQuiz(ctx context.Context, p Principal, moduleID string) (*Quiz, error) {
	_, m, _, err := s.loadModule(ctx, p, moduleID)
	if err != nil {
		return nil, err
	}
	if m.Quiz == nil {
		return nil, fmt.Errorf("%w: module %s has no quiz", ErrNotFound, moduleID)
	}
	return Sanitize(m.Quiz), nil
}

// SubmitModuleQuiz grades a module-quiz submission. Module quizzes have no
// attempt limit; best score and a sticky pass are kept on the module's
// progress row.
func (s *Service) SubmitModuleQuiz(ctx context.Context, p Principal, moduleID string, answers map[string]string) (AttemptResult, error) {
	t, m, e, err := s.loadModule(ctx, p, moduleID)
	if err != nil {
		return AttemptResult{}, err
	}
	if m.Quiz == nil {
		return AttemptResult{}, fmt.Errorf("%w: module %s has no quiz", ErrNotFound, moduleID)
	}
	unlock := s.locks.lock(e.ID)
	defer unlock()

	progress, err := s.store.ModuleProgressFor(ctx, e.ID)
	if err != nil {
		return AttemptResult{}, err
	}
	if v, ok := viewByID(ResolveModules(t, progress), m.ID); !ok || v.Locked {
		return AttemptResult{}, fmt.Errorf("%w: module %s", ErrQuizLocked, m.ID)
	}

	score, results, err := s.grader.GradeQuiz(m.Quiz, answers)
	if err != nil {
		return AttemptResult{}, err
	}
	passed := score >= m.Quiz.PassingScore

	mp := progress[m.ID]
	mp.EnrollmentID = e.ID
	mp.ModuleID = m.ID
	if mp.Score == nil || score > *mp.Score {
		sc := score
		mp.Score = &sc
	}
	mp.Passed = mp.Passed || passed

	attempt := Attempt{
		ID:           uuid.NewString(),
		EnrollmentID: e.ID,
		ModuleID:     m.ID,
		Score:        score,
		Passed:       passed,
		Answers:      results,
		CreatedAt:    s.now().Unix(),
	}
	w := AttemptWrite{Attempt: attempt, Progress: &mp}
	if e.Status == EnrollmentPending {
		e.Status = EnrollmentInProgress
		w.Enrollment = &e
	}
	if err := s.store.RecordAttempt(ctx, w); err != nil {
		return AttemptResult{}, err
	}
	s.invalidate(ctx, e.ID)
	return AttemptResult{AttemptID: attempt.ID, Score: score, Passed: passed, Answers: results}, nil
}

// FinalQuiz serves the training's final quiz definition, answer-stripped.
func (s *Service) FinalQuiz(ctx context.Context, p Principal, trainingID string) (*Quiz, error) {
	t, err := s.store.GetTraining(ctx, trainingID)
	if err != nil {
		return nil, err
	}
	if t.FinalQuiz == nil {
		return nil, fmt.Errorf("%w: training %s has no final quiz", ErrNotFound, trainingID)
	}
	// Like GetProgress, reading a training's quiz is a first access and
	// enrolls the caller lazily.
	if _, err := s.store.FindEnrollment(ctx, trainingID, p.UserID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if _, err := s.enroll(ctx, t, p.UserID); err != nil {
			return nil, err
		}
	}
	return Sanitize(t.FinalQuiz), nil
}

// SubmitFinalQuiz grades a final-quiz submission for the caller's enrollment.
//
// Preconditions (no writes on violation): every module completed, the state
// not blocked, and attempts remaining. One passing attempt is sticky and
// awards round(xp_reward x score) XP exactly once.
func (s *Service) SubmitFinalQuiz(ctx context.Context, p Principal, trainingID string, answers map[string]string) (AttemptResult, error) {
	t, err := s.store.GetTraining(ctx, trainingID)
	if err != nil {
		return AttemptResult{}, err
	}
	quiz := t.FinalQuiz
	if quiz == nil {
		return AttemptResult{}, fmt.Errorf("%w: training %s has no final quiz", ErrNotFound, trainingID)
	}
	e, err := s.store.FindEnrollment(ctx, trainingID, p.UserID)
	if err != nil {
		return AttemptResult{}, err
	}
	unlock := s.locks.lock(e.ID)
	defer unlock()

	progress, err := s.store.ModuleProgressFor(ctx, e.ID)
	if err != nil {
		return AttemptResult{}, err
	}
	if !AllModulesCompleted(t, progress) {
		return AttemptResult{}, fmt.Errorf("%w: final quiz", ErrQuizLocked)
	}
	st, err := s.store.FinalQuizStateFor(ctx, e.ID)
	if err != nil {
		return AttemptResult{}, err
	}
	st.MaxAttempts = quiz.MaxAttempts
	if st.Blocked {
		return AttemptResult{}, ErrAttemptsExhausted
	}
	if quiz.MaxAttempts > 0 && st.AttemptsUsed >= quiz.MaxAttempts {
		return AttemptResult{}, ErrAttemptsExhausted
	}

	score, results, err := s.grader.GradeQuiz(quiz, answers)
	if err != nil {
		return AttemptResult{}, err
	}
	passed := score >= quiz.PassingScore
	firstPass := passed && !st.Passed

	next := st
	next.EnrollmentID = e.ID
	next.AttemptsUsed++
	if next.BestScore == nil || score > *next.BestScore {
		sc := score
		next.BestScore = &sc
	}
	next.Passed = st.Passed || passed
	if quiz.MaxAttempts > 0 && next.AttemptsUsed == quiz.MaxAttempts && !next.Passed {
		next.Blocked = true
	}
	xp := 0
	if firstPass && !st.XPAwarded {
		// Round half away from zero; the award rule is round(xp_reward x score).
		xp = int(math.Round(float64(t.XPReward) * score))
		next.XPAwarded = true
	}

	attempt := Attempt{
		ID:           uuid.NewString(),
		EnrollmentID: e.ID,
		Score:        score,
		Passed:       passed,
		Answers:      results,
		CreatedAt:    s.now().Unix(),
	}
	w := AttemptWrite{Attempt: attempt, FinalState: &next}
	if next.Passed && e.Status != EnrollmentCompleted {
		e.Status = EnrollmentCompleted
		e.CompletedAt = s.now().Unix()
		w.Enrollment = &e
	}
	if xp > 0 {
		w.XPUserID = p.UserID
		w.XPDelta = xp
	}
	if err := s.store.RecordAttempt(ctx, w); err != nil {
		return AttemptResult{}, err
	}
	s.record(ctx, audit.TypeFinalQuizAttempt, e.ID, p.UserID, map[string]any{
		"attempt": next.AttemptsUsed, "score": score, "passed": passed,
	})
	s.invalidate(ctx, e.ID)
	return AttemptResult{AttemptID: attempt.ID, Score: score, Passed: passed, Answers: results, XPAwarded: xp}, nil
}

// ListAttempts returns the append-only attempt log for an enrollment. Learners
// may list their own; managers and admins any.
func (s *Service) ListAttempts(ctx context.Context, p Principal, enrollmentID string) ([]Attempt, error) {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.UserID != p.UserID && !p.privileged() {
		return nil, ErrForbidden
	}
	return s.store.ListAttempts(ctx, enrollmentID)
}

// Reset rewinds an enrollment to pending: module progress, final-quiz state,
// and any certificate are cleared in one transaction. The enrollment row (and
// its enrolled_at identity) is preserved, and the reset is audited.
func (s *Service) Reset(ctx context.Context, p Principal, enrollmentID string) error {
	if !p.privileged() {
		return ErrForbidden
	}
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(e.ID)
	defer unlock()

	if err := s.store.ResetEnrollment(ctx, e.ID); err != nil {
		return err
	}
	s.record(ctx, audit.TypeEnrollmentReset, e.ID, p.UserID, map[string]any{
		"training_id": e.TrainingID, "user_id": e.UserID,
	})
	s.invalidate(ctx, e.ID)
	return nil
}

// CreateTraining upserts a training with its modules and quizzes (privileged).
// Module orders must be dense and unique; missing ids are generated.
func (s *Service) CreateTraining(ctx context.Context, p Principal, t Training) (Training, error) {
	if !p.privileged() {
		return Training{}, ErrForbidden
	}
	if t.Title == "" {
		return Training{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TrainingDraft
	}
	sort.Slice(t.Modules, func(i, j int) bool { return t.Modules[i].Order < t.Modules[j].Order })
	for i := range t.Modules {
		m := &t.Modules[i]
		if i > 0 && m.Order != t.Modules[i-1].Order+1 {
			return Training{}, fmt.Errorf("%w: module orders must be dense and unique", ErrValidation)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.TrainingID = t.ID
		if m.Quiz != nil && m.Quiz.ID == "" {
			m.Quiz.ID = uuid.NewString()
		}
	}
	if t.FinalQuiz != nil && t.FinalQuiz.ID == "" {
		t.FinalQuiz.ID = uuid.NewString()
	}
	t.CreatedAt = s.now().Unix()
	if err := s.store.PutTraining(ctx, t); err != nil {
		return Training{}, err
	}
	return t, nil
}

// SetTrainingStatus advances the draft -> published -> archived lifecycle.
func (s *Service) SetTrainingStatus(ctx context.Context, p Principal, trainingID string, status TrainingStatus) error {
	if !p.privileged() {
		return ErrForbidden
	}
	t, err := s.store.GetTraining(ctx, trainingID)
	if err != nil {
		return err
	}
	if t.Status == status {
		return nil
	}
	ok := (t.Status == TrainingDraft && status == TrainingPublished) ||
		(t.Status == TrainingPublished && status == TrainingArchived)
	if !ok {
		return fmt.Errorf("%w: cannot move training from %s to %s", ErrValidation, t.Status, status)
	}
	return s.store.SetTrainingStatus(ctx, trainingID, status)
}

func (s *Service) loadModule(ctx context.Context, p Principal, moduleID string) (Training, Module, Enrollment, error) {
	t, m, err := s.store.GetTrainingByModule(ctx, moduleID)
	if err != nil {
		return Training{}, Module{}, Enrollment{}, err
	}
	e, err := s.store.FindEnrollment(ctx, t.ID, p.UserID)
	if err != nil {
		return Training{}, Module{}, Enrollment{}, err
	}
	return t, m, e, nil
}

func (s *Service) record(ctx context.Context, typ, key, actor string, data map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, typ, key, actor, data)
}

func (s *Service) invalidate(ctx context.Context, enrollmentID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, enrollmentID)
}
