package training

import (
	"fmt"
	"sort"
)

// Quiz grading. A strategy map routes by question kind, so ungradable kinds
// are an explicit routing decision rather than a silent zero.

type gradeOutcome struct {
	Correct     bool
	NeedsReview bool
}

type strategy interface {
	grade(q Question, answer string) gradeOutcome
}

type choiceStrategy struct{}

func (choiceStrategy) grade(q Question, answer string) gradeOutcome {
	return gradeOutcome{Correct: answer == q.CorrectOption}
}

type essayStrategy struct{}

func (essayStrategy) grade(Question, string) gradeOutcome {
	// No autograde for essays; flagged for manual review.
	return gradeOutcome{NeedsReview: true}
}

type Grader struct {
	strategies map[QuestionKind]strategy
}

func NewGrader() *Grader {
	return &Grader{
		strategies: map[QuestionKind]strategy{
			KindMultipleChoice: choiceStrategy{},
			KindTrueFalse:      choiceStrategy{},
			KindEssay:          essayStrategy{},
		},
	}
}

// GradeQuiz grades a full answer set against a quiz definition.
//
// Every question must be answered or the submission is rejected wholesale
// with ErrValidation and nothing is graded. The score is the weight-normalized
// fraction of correct answers over gradable questions only, in [0,1]; essays
// are excluded from the denominator and carried as needs-review answers.
func (g *Grader) GradeQuiz(quiz *Quiz, answers map[string]string) (float64, map[string]AnswerResult, error) {
	missing := make([]string, 0)
	for _, q := range quiz.Questions {
		if _, ok := answers[q.ID]; !ok {
			missing = append(missing, q.ID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return 0, nil, fmt.Errorf("%w: unanswered questions %v", ErrValidation, missing)
	}

	results := make(map[string]AnswerResult, len(quiz.Questions))
	var earned, total float64
	for _, q := range quiz.Questions {
		s, ok := g.strategies[q.Kind]
		if !ok {
			s = essayStrategy{}
		}
		answer := answers[q.ID]
		out := s.grade(q, answer)
		results[q.ID] = AnswerResult{
			IsCorrect:   out.Correct,
			UserAnswer:  answer,
			Explanation: q.Explanation,
			NeedsReview: out.NeedsReview,
		}
		if !q.Gradable() {
			continue
		}
		w := q.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		if out.Correct {
			earned += w
		}
	}
	if total == 0 {
		return 0, results, nil
	}
	return earned / total, results, nil
}

// Sanitize returns a copy of the quiz safe to serve before grading: correct
// options and explanations stripped. The stored definition is untouched.
func Sanitize(quiz *Quiz) *Quiz {
	if quiz == nil {
		return nil
	}
	out := *quiz
	out.Questions = make([]Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		q.CorrectOption = ""
		q.Explanation = ""
		out.Questions[i] = q
	}
	return &out
}
