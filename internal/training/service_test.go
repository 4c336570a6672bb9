package training

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudit struct{ types []string }

func (f *fakeAudit) Record(_ context.Context, typ, _, _ string, _ any) error {
	f.types = append(f.types, typ)
	return nil
}

var (
	learner = Principal{UserID: "u1", Role: RoleLearner}
	manager = Principal{UserID: "boss", Role: RoleManager}
)

func newTestService(t *testing.T) (*Service, *fakeAudit) {
	t.Helper()
	aud := &fakeAudit{}
	svc := NewService(NewInMemoryStore(),
		WithAudit(aud),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	return svc, aud
}

func finalQuiz(maxAttempts int) *Quiz {
	return &Quiz{
		ID:           "fq",
		PassingScore: 0.7,
		MaxAttempts:  maxAttempts,
		Questions: []Question{
			{ID: "q1", Kind: KindMultipleChoice, CorrectOption: "a", Weight: 1,
				Options: []Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}},
			{ID: "q2", Kind: KindTrueFalse, CorrectOption: "true", Weight: 1},
			{ID: "q3", Kind: KindMultipleChoice, CorrectOption: "c", Weight: 1,
				Options: []Option{{ID: "c", Text: "C"}, {ID: "d", Text: "D"}}},
		},
	}
}

func demoTraining(maxAttempts int) Training {
	return Training{
		ID:       "t1",
		Title:    "Workplace Safety",
		Status:   TrainingPublished,
		XPReward: 100,
		Modules: []Module{
			{ID: "m1", Title: "Intro", Order: 1, XPReward: 10},
			{ID: "m2", Title: "Deep dive", Order: 2},
		},
		FinalQuiz: finalQuiz(maxAttempts),
	}
}

func seedTraining(t *testing.T, svc *Service, tr Training) {
	t.Helper()
	_, err := svc.CreateTraining(context.Background(), manager, tr)
	require.NoError(t, err)
}

func completeModules(t *testing.T, svc *Service, p Principal, moduleIDs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range moduleIDs {
		require.NoError(t, svc.MarkContentViewed(ctx, p, id))
		require.NoError(t, svc.CompleteModule(ctx, p, id))
	}
}

var (
	allCorrect = map[string]string{"q1": "a", "q2": "true", "q3": "c"}
	twoOfThree = map[string]string{"q1": "a", "q2": "true", "q3": "d"}
	allWrong   = map[string]string{"q1": "b", "q2": "false", "q3": "d"}
)

// Full walk through the reference scenario: two modules, a three-question
// final quiz (passing 0.7, two attempts, 100 XP), certificate issuance.
func TestProgressionLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(2))
	ctx := context.Background()

	// First access enrolls lazily.
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPending, p.Status)
	assert.Equal(t, 2, p.TotalModules)
	assert.Equal(t, 0, p.CompletedModules)
	assert.False(t, p.Modules[0].Locked)
	assert.True(t, p.Modules[1].Locked)
	assert.True(t, p.FinalQuiz.HasQuiz)
	assert.False(t, p.FinalQuiz.Unlocked)

	// Completing module 1 unlocks module 2.
	completeModules(t, svc, learner, "m1")
	p, err = svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentInProgress, p.Status)
	assert.False(t, p.Modules[1].Locked)
	assert.Equal(t, 50, p.PercentComplete)

	// Completing module 2 unlocks the final quiz.
	completeModules(t, svc, learner, "m2")
	p, err = svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.True(t, p.FinalQuiz.Unlocked)
	assert.Equal(t, EnrollmentInProgress, p.Status)

	// Attempt 1: 2/3 correct, below the 0.7 bar.
	res, err := svc.SubmitFinalQuiz(ctx, learner, "t1", twoOfThree)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, res.Score, 1e-9)
	assert.False(t, res.Passed)
	assert.Zero(t, res.XPAwarded)

	// Attempt 2: full marks.
	res, err = svc.SubmitFinalQuiz(ctx, learner, "t1", allCorrect)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 100, res.XPAwarded)

	p, err = svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentCompleted, p.Status)
	assert.Equal(t, 2, p.FinalQuiz.AttemptsUsed)
	assert.True(t, p.FinalQuiz.Passed)
	require.NotNil(t, p.FinalQuiz.BestScore)
	assert.InDelta(t, 1.0, *p.FinalQuiz.BestScore, 1e-9)

	// Issue twice: same certificate id both times.
	cert, err := svc.IssueCertificate(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)
	again, err := svc.IssueCertificate(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, again.ID)
}

func TestLockedModuleRejectsViewAndComplete(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)

	err = svc.MarkContentViewed(ctx, learner, "m2")
	assert.ErrorIs(t, err, ErrModuleLocked)
	err = svc.CompleteModule(ctx, learner, "m2")
	assert.ErrorIs(t, err, ErrModuleLocked)

	// The rejected calls wrote nothing.
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPending, p.Status)
	assert.False(t, p.Modules[1].ContentViewed)
}

func TestCompleteRequiresContentViewed(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)

	err = svc.CompleteModule(ctx, learner, "m1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestQuizGatedModule(t *testing.T) {
	svc, _ := newTestService(t)
	tr := demoTraining(0)
	tr.Modules[0].Quiz = &Quiz{
		ID:           "mq1",
		PassingScore: 0.5,
		Questions: []Question{
			{ID: "a1", Kind: KindTrueFalse, CorrectOption: "true", Weight: 1},
			{ID: "a2", Kind: KindTrueFalse, CorrectOption: "false", Weight: 1},
		},
	}
	tr.Modules[0].QuizRequired = true
	seedTraining(t, svc, tr)
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)

	require.NoError(t, svc.MarkContentViewed(ctx, learner, "m1"))
	err = svc.CompleteModule(ctx, learner, "m1")
	assert.ErrorIs(t, err, ErrQuizRequired)

	// Failing the module quiz keeps the gate shut.
	res, err := svc.SubmitModuleQuiz(ctx, learner, "m1", map[string]string{"a1": "false", "a2": "true"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.ErrorIs(t, svc.CompleteModule(ctx, learner, "m1"), ErrQuizRequired)

	// Passing it opens the gate; the best score sticks on the module.
	res, err = svc.SubmitModuleQuiz(ctx, learner, "m1", map[string]string{"a1": "true", "a2": "false"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	require.NoError(t, svc.CompleteModule(ctx, learner, "m1"))

	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.True(t, p.Modules[0].Completed)
	assert.True(t, p.Modules[0].QuizPassed)
	require.NotNil(t, p.Modules[0].QuizScore)
	assert.InDelta(t, 1.0, *p.Modules[0].QuizScore, 1e-9)
}

func TestFinalQuizLockedUntilModulesDone(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)

	_, err = svc.SubmitFinalQuiz(ctx, learner, "t1", allCorrect)
	assert.ErrorIs(t, err, ErrQuizLocked)

	// The rejected submission did not append an attempt.
	attempts, err := svc.ListAttempts(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestAttemptLimitBlocksFourthSubmission(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(3))
	ctx := context.Background()
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	completeModules(t, svc, learner, "m1", "m2")

	for i := 0; i < 3; i++ {
		res, err := svc.SubmitFinalQuiz(ctx, learner, "t1", allWrong)
		require.NoError(t, err)
		assert.False(t, res.Passed)
	}
	prog, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.True(t, prog.FinalQuiz.Blocked)
	assert.Equal(t, 3, prog.FinalQuiz.AttemptsUsed)

	_, err = svc.SubmitFinalQuiz(ctx, learner, "t1", allWrong)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	// No fourth attempt in the log.
	attempts, err := svc.ListAttempts(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
}

func TestPassIsSticky(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	completeModules(t, svc, learner, "m1", "m2")

	res, err := svc.SubmitFinalQuiz(ctx, learner, "t1", allCorrect)
	require.NoError(t, err)
	require.True(t, res.Passed)

	// A later failing retry never un-passes and never lowers best score.
	res, err = svc.SubmitFinalQuiz(ctx, learner, "t1", allWrong)
	require.NoError(t, err)
	assert.False(t, res.Passed) // this attempt failed...

	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.True(t, p.FinalQuiz.Passed) // ...but the state stays passed
	require.NotNil(t, p.FinalQuiz.BestScore)
	assert.InDelta(t, 1.0, *p.FinalQuiz.BestScore, 1e-9)
	assert.Equal(t, EnrollmentCompleted, p.Status)
}

func TestXPAwardedExactlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	completeModules(t, svc, learner, "m1", "m2")

	res, err := svc.SubmitFinalQuiz(ctx, learner, "t1", allCorrect)
	require.NoError(t, err)
	assert.Equal(t, 100, res.XPAwarded)

	res, err = svc.SubmitFinalQuiz(ctx, learner, "t1", allCorrect)
	require.NoError(t, err)
	assert.Zero(t, res.XPAwarded)
}

func TestXPRoundedFromScore(t *testing.T) {
	svc, _ := newTestService(t)
	tr := demoTraining(0)
	tr.FinalQuiz.PassingScore = 0.5
	seedTraining(t, svc, tr)
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	completeModules(t, svc, learner, "m1", "m2")

	res, err := svc.SubmitFinalQuiz(ctx, learner, "t1", twoOfThree)
	require.NoError(t, err)
	require.True(t, res.Passed)
	assert.Equal(t, 67, res.XPAwarded) // round(100 * 2/3)
}

func TestIncompleteSubmissionLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(2))
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	completeModules(t, svc, learner, "m1", "m2")

	_, err = svc.SubmitFinalQuiz(ctx, learner, "t1", map[string]string{"q1": "a"})
	assert.ErrorIs(t, err, ErrValidation)

	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Zero(t, p.FinalQuiz.AttemptsUsed)
}

func TestCertificateRequiresCompletion(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)

	_, err = svc.IssueCertificate(ctx, learner, p.EnrollmentID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	cert, err := svc.CertificateFor(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestCertificateOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)

	other := Principal{UserID: "u2", Role: RoleLearner}
	_, err = svc.CertificateFor(ctx, other, p.EnrollmentID)
	assert.ErrorIs(t, err, ErrForbidden)

	// A manager may look at anyone's.
	_, err = svc.CertificateFor(ctx, manager, p.EnrollmentID)
	assert.NoError(t, err)
}

func TestResetRewindsEnrollment(t *testing.T) {
	svc, aud := newTestService(t)
	seedTraining(t, svc, demoTraining(2))
	ctx := context.Background()
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	completeModules(t, svc, learner, "m1", "m2")
	_, err = svc.SubmitFinalQuiz(ctx, learner, "t1", allCorrect)
	require.NoError(t, err)
	_, err = svc.IssueCertificate(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)

	// Learners cannot reset.
	assert.ErrorIs(t, svc.Reset(ctx, learner, p.EnrollmentID), ErrForbidden)

	require.NoError(t, svc.Reset(ctx, manager, p.EnrollmentID))
	assert.Contains(t, aud.types, "EnrollmentReset")

	after, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Equal(t, p.EnrollmentID, after.EnrollmentID) // same enrollment, rewound
	assert.Equal(t, EnrollmentPending, after.Status)
	assert.False(t, after.Modules[0].Completed)
	assert.False(t, after.Modules[1].Completed)
	assert.Zero(t, after.FinalQuiz.AttemptsUsed)
	assert.False(t, after.FinalQuiz.Passed)

	cert, err := svc.CertificateFor(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)
	assert.Nil(t, cert)

	// The attempt log is append-only and survives the reset.
	attempts, err := svc.ListAttempts(ctx, learner, p.EnrollmentID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestArchivedTrainingRejectsNewEnrollments(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()

	// u1 enrolls while published.
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)

	require.NoError(t, svc.SetTrainingStatus(ctx, manager, "t1", TrainingArchived))

	// Existing enrollment keeps working.
	_, err = svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	require.NoError(t, svc.MarkContentViewed(ctx, learner, "m1"))

	// A new learner is rejected.
	_, err = svc.GetProgress(ctx, Principal{UserID: "u2", Role: RoleLearner}, "t1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTrainingLifecycleTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	tr := demoTraining(0)
	tr.Status = TrainingDraft
	seedTraining(t, svc, tr)
	ctx := context.Background()

	// Draft trainings cannot be enrolled into.
	_, err := svc.GetProgress(ctx, learner, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	// draft -> archived skips a state and is rejected.
	err = svc.SetTrainingStatus(ctx, manager, "t1", TrainingArchived)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, svc.SetTrainingStatus(ctx, manager, "t1", TrainingPublished))
	_, err = svc.GetProgress(ctx, learner, "t1")
	assert.NoError(t, err)
}

// failOnceStore drops the first completion write on the floor, like a
// connection loss mid-request.
type failOnceStore struct {
	Store
	failed bool
}

func (f *failOnceStore) ApplyModuleCompletion(ctx context.Context, w CompletionWrite) error {
	if !f.failed {
		f.failed = true
		return errors.New("transient write failure")
	}
	return f.Store.ApplyModuleCompletion(ctx, w)
}

func TestModuleXPSurvivesFailedCompletionWrite(t *testing.T) {
	mem := NewInMemoryStore().(*memoryStore)
	svc := NewService(&failOnceStore{Store: mem})
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	require.NoError(t, svc.MarkContentViewed(ctx, learner, "m1"))

	// The failed write applies nothing: no completion, no XP.
	require.Error(t, svc.CompleteModule(ctx, learner, "m1"))
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.False(t, p.Modules[0].Completed)
	assert.Zero(t, mem.xp["u1"])

	// The retry completes the module and the XP is not lost.
	require.NoError(t, svc.CompleteModule(ctx, learner, "m1"))
	assert.Equal(t, 10, mem.xp["u1"])

	// Completion is idempotent; repeating never double-awards.
	require.NoError(t, svc.CompleteModule(ctx, learner, "m1"))
	assert.Equal(t, 10, mem.xp["u1"])
}

func TestCompletedStatusSurvivesCatalogGrowth(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(0))
	ctx := context.Background()
	_, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	completeModules(t, svc, learner, "m1", "m2")
	_, err = svc.SubmitFinalQuiz(ctx, learner, "t1", allCorrect)
	require.NoError(t, err)

	// The catalog grows a third module after the learner finished.
	grown := demoTraining(0)
	grown.Modules = append(grown.Modules, Module{ID: "m3", Title: "Refresher", Order: 3})
	seedTraining(t, svc, grown)

	// Only an explicit reset rewinds a completed enrollment.
	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalModules)
	assert.Equal(t, EnrollmentCompleted, p.Status)
}

func TestFinalQuizReadEnrollsLazily(t *testing.T) {
	svc, _ := newTestService(t)
	seedTraining(t, svc, demoTraining(2))
	ctx := context.Background()

	// Reading the final quiz is a first access: no prior progress call needed.
	q, err := svc.FinalQuiz(ctx, learner, "t1")
	require.NoError(t, err)
	require.Len(t, q.Questions, 3)
	assert.Empty(t, q.Questions[0].CorrectOption)

	p, err := svc.GetProgress(ctx, learner, "t1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPending, p.Status)

	// Archived trainings reject brand-new callers on this surface too.
	require.NoError(t, svc.SetTrainingStatus(ctx, manager, "t1", TrainingArchived))
	_, err = svc.FinalQuiz(ctx, Principal{UserID: "u2", Role: RoleLearner}, "t1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateTrainingValidatesOrders(t *testing.T) {
	svc, _ := newTestService(t)
	tr := demoTraining(0)
	tr.Modules[1].Order = 5 // gap
	_, err := svc.CreateTraining(context.Background(), manager, tr)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateTraining(context.Background(), learner, demoTraining(0))
	assert.ErrorIs(t, err, ErrForbidden)
}
