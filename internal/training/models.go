package training

// TrainingStatus is the catalog lifecycle of a training.
type TrainingStatus string

const (
	TrainingDraft     TrainingStatus = "draft"
	TrainingPublished TrainingStatus = "published"
	TrainingArchived  TrainingStatus = "archived"
)

// EnrollmentStatus is the learner-facing progression state.
type EnrollmentStatus string

const (
	EnrollmentPending    EnrollmentStatus = "pending"
	EnrollmentInProgress EnrollmentStatus = "in_progress"
	EnrollmentCompleted  EnrollmentStatus = "completed"
)

// QuestionKind is a closed set of question variants. Only choice kinds are
// auto-gradable; essays are flagged for manual review.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindTrueFalse      QuestionKind = "true_false"
	KindEssay          QuestionKind = "essay"
)

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID      string       `json:"id"`
	Kind    QuestionKind `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []Option     `json:"options,omitempty"` // choice kinds only

	// CorrectOption is the correct option id for multiple_choice, or
	// "true"/"false" for true_false. Empty for essay.
	CorrectOption string  `json:"correct_option,omitempty"`
	Weight        float64 `json:"weight"` // relative contribution; <=0 means 1
	Explanation   string  `json:"explanation,omitempty"`
}

// Gradable reports whether the question participates in automatic scoring.
func (q Question) Gradable() bool {
	return q.Kind == KindMultipleChoice || q.Kind == KindTrueFalse
}

type Quiz struct {
	ID           string     `json:"id"`
	Questions    []Question `json:"questions"`
	PassingScore float64    `json:"passing_score"` // fraction in [0,1]
	MaxAttempts  int        `json:"max_attempts"`  // final quiz only; 0 = unlimited
}

type Module struct {
	ID         string `json:"id"`
	TrainingID string `json:"training_id"`
	Title      string `json:"title"`
	Order      int    `json:"order"` // dense, unique within a training
	Quiz       *Quiz  `json:"quiz,omitempty"`

	// QuizRequired gates completion on a passed module quiz.
	QuizRequired     bool   `json:"quiz_required_to_advance"`
	XPReward         int    `json:"xp_reward"`
	OriginalFilename string `json:"original_filename,omitempty"`
}

type Training struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Status    TrainingStatus `json:"status"`
	XPReward  int            `json:"xp_reward"` // awarded on final-quiz pass
	Modules   []Module       `json:"modules"`   // ascending by Order
	FinalQuiz *Quiz          `json:"final_quiz,omitempty"`
	CreatedAt int64          `json:"created_at,omitempty"`
}

// Enrollment is a user's single association with one training. At most one row
// exists per (user, training); a reset rewinds it rather than replacing it.
type Enrollment struct {
	ID         string           `json:"id"`
	TrainingID string           `json:"training_id"`
	UserID     string           `json:"user_id"`
	Status     EnrollmentStatus `json:"status"`

	// CurrentModuleOrder is the highest order the learner may act on. It never
	// decreases except via a privileged reset.
	CurrentModuleOrder int   `json:"current_module_order"`
	EnrolledAt         int64 `json:"enrolled_at"`
	CompletedAt        int64 `json:"completed_at,omitempty"`
}

type ModuleProgress struct {
	EnrollmentID  string   `json:"enrollment_id"`
	ModuleID      string   `json:"module_id"`
	ContentViewed bool     `json:"content_viewed"`
	Completed     bool     `json:"completed"`
	Score         *float64 `json:"score,omitempty"` // module-quiz best score
	Passed        bool     `json:"passed"`
}

// FinalQuizState is a cached projection over the append-only attempt log.
type FinalQuizState struct {
	EnrollmentID string   `json:"enrollment_id"`
	AttemptsUsed int      `json:"attempts_used"`
	MaxAttempts  int      `json:"max_attempts"`
	BestScore    *float64 `json:"best_score,omitempty"`
	Passed       bool     `json:"passed"`
	Blocked      bool     `json:"blocked"`
	XPAwarded    bool     `json:"xp_awarded"`
}

// AnswerResult is the graded outcome of one answered question.
type AnswerResult struct {
	IsCorrect   bool   `json:"is_correct"`
	UserAnswer  string `json:"user_answer"`
	Explanation string `json:"explanation,omitempty"`

	// NeedsReview marks answers the engine does not auto-grade (essays).
	NeedsReview bool `json:"needs_review,omitempty"`
}

// Attempt is one immutable quiz submission. ModuleID is empty for final-quiz
// attempts. Rows are append-only; resets clear projections, never attempts.
type Attempt struct {
	ID           string                  `json:"id"`
	EnrollmentID string                  `json:"enrollment_id"`
	ModuleID     string                  `json:"module_id,omitempty"`
	Score        float64                 `json:"score"`
	Passed       bool                    `json:"passed"`
	Answers      map[string]AnswerResult `json:"answers"`
	CreatedAt    int64                   `json:"created_at"`
}

type Certificate struct {
	ID           string `json:"id"`
	EnrollmentID string `json:"enrollment_id"`
	IssuedAt     int64  `json:"issued_at"`
}

// ModuleView is the gate's per-module resolution for one enrollment.
type ModuleView struct {
	ModuleID         string   `json:"module_id"`
	Title            string   `json:"title"`
	Order            int      `json:"order"`
	Locked           bool     `json:"locked"`
	Completed        bool     `json:"completed"`
	ContentViewed    bool     `json:"content_viewed"`
	HasQuiz          bool     `json:"has_quiz"`
	QuizRequired     bool     `json:"quiz_required_to_advance"`
	QuizScore        *float64 `json:"quiz_score,omitempty"`
	QuizPassed       bool     `json:"quiz_passed"`
	OriginalFilename string   `json:"original_filename,omitempty"`
}

type FinalQuizProgress struct {
	HasQuiz        bool     `json:"has_quiz"`
	Unlocked       bool     `json:"unlocked"`
	Blocked        bool     `json:"blocked"`
	Passed         bool     `json:"passed"`
	QuestionsCount int      `json:"questions_count"`
	PassingScore   float64  `json:"passing_score"`
	MaxAttempts    int      `json:"max_attempts"`
	AttemptsUsed   int      `json:"attempts_used"`
	BestScore      *float64 `json:"best_score,omitempty"`
}

// TrainingProgress is the caller-facing snapshot returned by GetProgress.
type TrainingProgress struct {
	EnrollmentID     string            `json:"enrollment_id"`
	TrainingID       string            `json:"training_id"`
	TrainingTitle    string            `json:"training_title"`
	Status           EnrollmentStatus  `json:"status"`
	CompletedModules int               `json:"completed_modules"`
	TotalModules     int               `json:"total_modules"`
	PercentComplete  int               `json:"percent_complete"`
	XPReward         int               `json:"xp_reward"`
	Modules          []ModuleView      `json:"modules"`
	FinalQuiz        FinalQuizProgress `json:"final_quiz"`
}

// AttemptResult is the response to a quiz submission.
type AttemptResult struct {
	AttemptID string                  `json:"attempt_id"`
	Score     float64                 `json:"score"`
	Passed    bool                    `json:"passed"`
	Answers   map[string]AnswerResult `json:"answers"`
	XPAwarded int                     `json:"xp_awarded,omitempty"`
}

// Principal is the authenticated caller identity. Engine operations check it
// explicitly instead of reading ambient session state.
type Principal struct {
	UserID string
	Role   string
}
