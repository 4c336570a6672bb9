package training

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLStore is the durable Progress Store over sqlite or postgres. Quiz
// definitions are stored as JSON columns next to their catalog rows; the
// progression entities (enrollments, module_progress, quiz_attempts,
// final_quiz_state, certificates) are plain relational rows.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) PutTraining(ctx context.Context, t Training) error {
	var finalQuiz sql.NullString
	if t.FinalQuiz != nil {
		buf, err := json.Marshal(t.FinalQuiz)
		if err != nil {
			return err
		}
		finalQuiz = sql.NullString{String: string(buf), Valid: true}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO trainings (id,title,status,xp_reward,final_quiz_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, status=EXCLUDED.status,
		  xp_reward=EXCLUDED.xp_reward, final_quiz_json=EXCLUDED.final_quiz_json`,
		t.ID, t.Title, string(t.Status), t.XPReward, finalQuiz, t.CreatedAt)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM modules WHERE training_id=$1`, t.ID); err != nil {
		return err
	}
	for _, m := range t.Modules {
		var quiz sql.NullString
		if m.Quiz != nil {
			buf, err := json.Marshal(m.Quiz)
			if err != nil {
				return err
			}
			quiz = sql.NullString{String: string(buf), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO modules (id,training_id,title,ord,quiz_json,quiz_required,xp_reward,original_filename)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			m.ID, t.ID, m.Title, m.Order, quiz, m.QuizRequired, m.XPReward, m.OriginalFilename)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetTraining(ctx context.Context, id string) (Training, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,title,status,xp_reward,final_quiz_json,created_at FROM trainings WHERE id=$1`, id)
	var t Training
	var status string
	var finalQuiz sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &status, &t.XPReward, &finalQuiz, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Training{}, fmt.Errorf("%w: training %s", ErrNotFound, id)
		}
		return Training{}, err
	}
	t.Status = TrainingStatus(status)
	if finalQuiz.Valid {
		var q Quiz
		if err := json.Unmarshal([]byte(finalQuiz.String), &q); err != nil {
			return Training{}, err
		}
		t.FinalQuiz = &q
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id,title,ord,quiz_json,quiz_required,xp_reward,original_filename
		 FROM modules WHERE training_id=$1 ORDER BY ord`, id)
	if err != nil {
		return Training{}, err
	}
	defer rows.Close()
	for rows.Next() {
		m := Module{TrainingID: t.ID}
		var quiz sql.NullString
		if err := rows.Scan(&m.ID, &m.Title, &m.Order, &quiz, &m.QuizRequired, &m.XPReward, &m.OriginalFilename); err != nil {
			return Training{}, err
		}
		if quiz.Valid {
			var q Quiz
			if err := json.Unmarshal([]byte(quiz.String), &q); err != nil {
				return Training{}, err
			}
			m.Quiz = &q
		}
		t.Modules = append(t.Modules, m)
	}
	if err := rows.Err(); err != nil {
		return Training{}, err
	}
	return t, nil
}

func (s *SQLStore) GetTrainingByModule(ctx context.Context, moduleID string) (Training, Module, error) {
	var trainingID string
	err := s.db.QueryRowContext(ctx, `SELECT training_id FROM modules WHERE id=$1`, moduleID).Scan(&trainingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Training{}, Module{}, fmt.Errorf("%w: module %s", ErrNotFound, moduleID)
		}
		return Training{}, Module{}, err
	}
	t, err := s.GetTraining(ctx, trainingID)
	if err != nil {
		return Training{}, Module{}, err
	}
	m, ok := moduleByID(t, moduleID)
	if !ok {
		return Training{}, Module{}, fmt.Errorf("%w: module %s", ErrNotFound, moduleID)
	}
	return t, m, nil
}

func (s *SQLStore) SetTrainingStatus(ctx context.Context, id string, status TrainingStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trainings SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: training %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error) {
	// Insert-or-fetch on the (user, training) uniqueness constraint so two
	// concurrent first accesses converge on one enrollment.
	_, err := s.db.ExecContext(ctx, `INSERT INTO enrollments
		(id,training_id,user_id,status,current_module_order,enrolled_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id, training_id) DO NOTHING`,
		e.ID, e.TrainingID, e.UserID, string(e.Status), e.CurrentModuleOrder, e.EnrolledAt)
	if err != nil {
		return Enrollment{}, err
	}
	return s.FindEnrollment(ctx, e.TrainingID, e.UserID)
}

func (s *SQLStore) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	return s.scanEnrollment(s.db.QueryRowContext(ctx,
		`SELECT id,training_id,user_id,status,current_module_order,enrolled_at,completed_at
		 FROM enrollments WHERE id=$1`, id), "enrollment "+id)
}

func (s *SQLStore) FindEnrollment(ctx context.Context, trainingID, userID string) (Enrollment, error) {
	return s.scanEnrollment(s.db.QueryRowContext(ctx,
		`SELECT id,training_id,user_id,status,current_module_order,enrolled_at,completed_at
		 FROM enrollments WHERE training_id=$1 AND user_id=$2`, trainingID, userID),
		"enrollment for training "+trainingID)
}

func (s *SQLStore) scanEnrollment(row *sql.Row, what string) (Enrollment, error) {
	var e Enrollment
	var status string
	var completedAt sql.NullInt64
	if err := row.Scan(&e.ID, &e.TrainingID, &e.UserID, &status, &e.CurrentModuleOrder, &e.EnrolledAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Enrollment{}, fmt.Errorf("%w: %s", ErrNotFound, what)
		}
		return Enrollment{}, err
	}
	e.Status = EnrollmentStatus(status)
	e.CompletedAt = completedAt.Int64
	return e, nil
}

func (s *SQLStore) UpdateEnrollment(ctx context.Context, e Enrollment) error {
	return updateEnrollment(ctx, s.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateEnrollment(ctx context.Context, db execer, e Enrollment) error {
	var completedAt sql.NullInt64
	if e.CompletedAt != 0 {
		completedAt = sql.NullInt64{Int64: e.CompletedAt, Valid: true}
	}
	res, err := db.ExecContext(ctx, `UPDATE enrollments
		SET status=$1, current_module_order=$2, completed_at=$3 WHERE id=$4`,
		string(e.Status), e.CurrentModuleOrder, completedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: enrollment %s", ErrNotFound, e.ID)
	}
	return nil
}

func (s *SQLStore) ModuleProgressFor(ctx context.Context, enrollmentID string) (map[string]ModuleProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_id,content_viewed,completed,score,passed
		 FROM module_progress WHERE enrollment_id=$1`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]ModuleProgress{}
	for rows.Next() {
		mp := ModuleProgress{EnrollmentID: enrollmentID}
		var score sql.NullFloat64
		if err := rows.Scan(&mp.ModuleID, &mp.ContentViewed, &mp.Completed, &score, &mp.Passed); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			mp.Score = &v
		}
		out[mp.ModuleID] = mp
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertModuleProgress(ctx context.Context, mp ModuleProgress) error {
	return upsertModuleProgress(ctx, s.db, mp)
}

func upsertModuleProgress(ctx context.Context, db execer, mp ModuleProgress) error {
	var score sql.NullFloat64
	if mp.Score != nil {
		score = sql.NullFloat64{Float64: *mp.Score, Valid: true}
	}
	_, err := db.ExecContext(ctx, `INSERT INTO module_progress
		(enrollment_id,module_id,content_viewed,completed,score,passed)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (enrollment_id, module_id) DO UPDATE SET
		  content_viewed=EXCLUDED.content_viewed, completed=EXCLUDED.completed,
		  score=EXCLUDED.score, passed=EXCLUDED.passed`,
		mp.EnrollmentID, mp.ModuleID, mp.ContentViewed, mp.Completed, score, mp.Passed)
	return err
}

func (s *SQLStore) FinalQuizStateFor(ctx context.Context, enrollmentID string) (FinalQuizState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT attempts_used,max_attempts,best_score,passed,blocked,xp_awarded
		 FROM final_quiz_state WHERE enrollment_id=$1`, enrollmentID)
	st := FinalQuizState{EnrollmentID: enrollmentID}
	var best sql.NullFloat64
	err := row.Scan(&st.AttemptsUsed, &st.MaxAttempts, &best, &st.Passed, &st.Blocked, &st.XPAwarded)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil // projection rows are created lazily by the first attempt
	}
	if err != nil {
		return FinalQuizState{}, err
	}
	if best.Valid {
		v := best.Float64
		st.BestScore = &v
	}
	return st, nil
}

// RecordAttempt appends the attempt and applies all projection moves in one
// transaction, so two concurrent submissions can never both pass the attempt
// limit or double-award XP.
func (s *SQLStore) RecordAttempt(ctx context.Context, w AttemptWrite) error {
	answers, err := json.Marshal(w.Attempt.Answers)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var moduleID sql.NullString
	if w.Attempt.ModuleID != "" {
		moduleID = sql.NullString{String: w.Attempt.ModuleID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO quiz_attempts
		(id,enrollment_id,module_id,score,passed,answers_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		w.Attempt.ID, w.Attempt.EnrollmentID, moduleID, w.Attempt.Score, w.Attempt.Passed,
		string(answers), w.Attempt.CreatedAt)
	if err != nil {
		return err
	}
	if st := w.FinalState; st != nil {
		var best sql.NullFloat64
		if st.BestScore != nil {
			best = sql.NullFloat64{Float64: *st.BestScore, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO final_quiz_state
			(enrollment_id,attempts_used,max_attempts,best_score,passed,blocked,xp_awarded)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (enrollment_id) DO UPDATE SET
			  attempts_used=EXCLUDED.attempts_used, max_attempts=EXCLUDED.max_attempts,
			  best_score=EXCLUDED.best_score, passed=EXCLUDED.passed,
			  blocked=EXCLUDED.blocked, xp_awarded=EXCLUDED.xp_awarded`,
			st.EnrollmentID, st.AttemptsUsed, st.MaxAttempts, best, st.Passed, st.Blocked, st.XPAwarded)
		if err != nil {
			return err
		}
	}
	if w.Progress != nil {
		if err := upsertModuleProgress(ctx, tx, *w.Progress); err != nil {
			return err
		}
	}
	if w.Enrollment != nil {
		if err := updateEnrollment(ctx, tx, *w.Enrollment); err != nil {
			return err
		}
	}
	if w.XPUserID != "" && w.XPDelta != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET xp = xp + $1 WHERE id=$2`, w.XPDelta, w.XPUserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ListAttempts(ctx context.Context, enrollmentID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,module_id,score,passed,answers_json,created_at
		 FROM quiz_attempts WHERE enrollment_id=$1 ORDER BY created_at, id`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a := Attempt{EnrollmentID: enrollmentID}
		var moduleID sql.NullString
		var answers string
		if err := rows.Scan(&a.ID, &moduleID, &a.Score, &a.Passed, &answers, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ModuleID = moduleID.String
		if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
			a.Answers = map[string]AnswerResult{}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) IssueCertificate(ctx context.Context, c Certificate) (Certificate, bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO certificates (id,enrollment_id,issued_at)
		VALUES ($1,$2,$3) ON CONFLICT (enrollment_id) DO NOTHING`,
		c.ID, c.EnrollmentID, c.IssuedAt)
	if err != nil {
		return Certificate{}, false, err
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}
	existing, err := s.CertificateFor(ctx, c.EnrollmentID)
	if err != nil {
		return Certificate{}, false, err
	}
	if existing == nil {
		return Certificate{}, false, fmt.Errorf("certificate for enrollment %s vanished after insert", c.EnrollmentID)
	}
	return *existing, created, nil
}

func (s *SQLStore) CertificateFor(ctx context.Context, enrollmentID string) (*Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,enrollment_id,issued_at FROM certificates WHERE enrollment_id=$1`, enrollmentID)
	var c Certificate
	if err := row.Scan(&c.ID, &c.EnrollmentID, &c.IssuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ResetEnrollment clears derived state and the certificate in one transaction
// so no certificate outlives its enrollment's completion. The attempt log is
// kept: it is an append-only audit record.
func (s *SQLStore) ResetEnrollment(ctx context.Context, enrollmentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE enrollments
		SET status=$1, current_module_order=0, completed_at=NULL WHERE id=$2`,
		string(EnrollmentPending), enrollmentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: enrollment %s", ErrNotFound, enrollmentID)
	}
	for _, q := range []string{
		`DELETE FROM module_progress WHERE enrollment_id=$1`,
		`DELETE FROM final_quiz_state WHERE enrollment_id=$1`,
		`DELETE FROM certificates WHERE enrollment_id=$1`,
	} {
		if _, err := tx.ExecContext(ctx, q, enrollmentID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ApplyModuleCompletion commits the progress row, the enrollment transition,
// and any module XP together, so a failure leaves nothing half-applied and a
// retry still awards the XP.
func (s *SQLStore) ApplyModuleCompletion(ctx context.Context, w CompletionWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertModuleProgress(ctx, tx, w.Progress); err != nil {
		return err
	}
	if err := updateEnrollment(ctx, tx, w.Enrollment); err != nil {
		return err
	}
	if w.XPUserID != "" && w.XPDelta != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET xp = xp + $1 WHERE id=$2`, w.XPDelta, w.XPUserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
