package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const attemptColumns = `id, quiz_id, student_id, status, score, started_at, completed_at`

func scanAttempt(row interface{ Scan(...any) error }) (*model.QuizAttempt, error) {
	var a model.QuizAttempt
	var score sql.NullInt64
	var completed sql.NullTime
	if err := row.Scan(&a.ID, &a.QuizID, &a.StudentID, &a.Status, &score, &a.StartedAt, &completed); err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		a.Score = &v
	}
	if completed.Valid {
		t := completed.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

// StartAttempt opens an attempt on a published quiz for an enrolled student.
// An attempt still in progress is returned unchanged; a completed one blocks a new start.
func (s *Store) StartAttempt(ctx context.Context, quizID, studentID string) (*model.QuizAttempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var classroomID string
	var published bool
	err = tx.QueryRowContext(ctx, `SELECT classroom_id, published FROM quizzes WHERE id = ?`, quizID).
		Scan(&classroomID, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Quiz not found")
	}
	if err != nil {
		return nil, err
	}
	if !published {
		return nil, apierr.Validation("Quiz is not published")
	}
	enrolled, err := rowExists(ctx, tx,
		`SELECT 1 FROM enrollments WHERE classroom_id = ? AND student_id = ?`, classroomID, studentID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, apierr.Forbidden("You are not enrolled in this class")
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE quiz_id = ? AND student_id = ? ORDER BY started_at`,
		quizID, studentID)
	if err != nil {
		return nil, err
	}
	var open *model.QuizAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if a.Status == model.AttemptCompleted {
			rows.Close()
			return nil, apierr.Validation("Quiz already completed")
		}
		open = a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if open != nil {
		return open, nil
	}

	a := &model.QuizAttempt{
		ID:        newID(),
		QuizID:    quizID,
		StudentID: studentID,
		Status:    model.AttemptInProgress,
		StartedAt: s.now(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quiz_attempts (id, quiz_id, student_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.QuizID, a.StudentID, a.Status, a.StartedAt,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

// SubmitAttempt scores an open attempt: the score is the number of answers whose
// selected option equals the stored answer index. Answers and the final score
// are written in one transaction.
func (s *Store) SubmitAttempt(ctx context.Context, attemptID, studentID string, answers []model.AttemptAnswer) (*model.QuizAttempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := scanAttempt(tx.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = ?`, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Attempt not found")
	}
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, apierr.Forbidden("This attempt belongs to another student")
	}
	if a.Status == model.AttemptCompleted {
		return nil, apierr.Validation("Attempt already submitted")
	}

	questions, err := s.listQuestions(ctx, tx, a.QuizID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	score := 0
	seen := make(map[string]bool, len(answers))
	scored := make([]model.AttemptAnswer, 0, len(answers))
	for _, ans := range answers {
		q, ok := byID[ans.QuestionID]
		if !ok {
			return nil, apierr.Validation("question %s is not part of this quiz", ans.QuestionID)
		}
		if seen[ans.QuestionID] {
			return nil, apierr.Validation("question %s answered more than once", ans.QuestionID)
		}
		seen[ans.QuestionID] = true
		ans.Correct = ans.SelectedOption == q.Answer
		if ans.Correct {
			score++
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_option, correct) VALUES (?, ?, ?, ?)`,
			a.ID, ans.QuestionID, ans.SelectedOption, ans.Correct,
		); err != nil {
			return nil, fmt.Errorf("insert answer: %w", err)
		}
		scored = append(scored, ans)
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE quiz_attempts SET status = ?, score = ?, completed_at = ? WHERE id = ?`,
		model.AttemptCompleted, score, now, a.ID,
	); err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	a.Status = model.AttemptCompleted
	a.Score = &score
	a.CompletedAt = &now
	a.Answers = scored
	slog.Info("quiz attempt submitted", "attempt_id", a.ID, "quiz_id", a.QuizID, "score", score, "questions", len(questions))
	return a, nil
}

// GetAttempt returns an attempt with its answers.
func (s *Store) GetAttempt(ctx context.Context, id string) (*model.QuizAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Attempt not found")
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, selected_option, correct FROM attempt_answers WHERE attempt_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ans model.AttemptAnswer
		if err := rows.Scan(&ans.QuestionID, &ans.SelectedOption, &ans.Correct); err != nil {
			return nil, err
		}
		a.Answers = append(a.Answers, ans)
	}
	return a, rows.Err()
}
