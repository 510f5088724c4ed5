package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const assignmentColumns = `id, classroom_id, teacher_id, title, description, question, reference_answer, type, due_date, created_at`

// CreateAssignment inserts an assignment into an existing classroom.
func (s *Store) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	a.ID = newID()
	a.CreatedAt = s.now()
	var due any
	if a.DueDate != nil {
		due = a.DueDate.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (id, classroom_id, teacher_id, title, description, question, reference_answer, type, due_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClassroomID, a.TeacherID, a.Title, a.Description, a.Question, a.ReferenceAnswer, a.Type, due, a.CreatedAt,
	)
	return err
}

func scanAssignment(row interface{ Scan(...any) error }) (*model.Assignment, error) {
	var a model.Assignment
	var due sql.NullTime
	if err := row.Scan(&a.ID, &a.ClassroomID, &a.TeacherID, &a.Title, &a.Description, &a.Question,
		&a.ReferenceAnswer, &a.Type, &due, &a.CreatedAt); err != nil {
		return nil, err
	}
	if due.Valid {
		t := due.Time
		a.DueDate = &t
	}
	return &a, nil
}

// GetAssignment returns an assignment or a not-found error.
func (s *Store) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Assignment not found")
	}
	return a, err
}

// ListAssignments returns a classroom's assignments, newest first.
func (s *Store) ListAssignments(ctx context.Context, classroomID string) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE classroom_id = ? ORDER BY created_at DESC`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteAssignment removes an assignment and its submissions.
func (s *Store) DeleteAssignment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Assignment not found")
}

// CreateEvaluatedSubmission stores a submission together with its evaluation.
// The assignment must exist and accept the submission's type; a student may
// submit once per assignment.
func (s *Store) CreateEvaluatedSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.Evaluation == nil {
		return apierr.Validation("submission has no evaluation")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Persistence(err)
	}
	defer tx.Rollback()

	var typ model.AssignmentType
	err = tx.QueryRowContext(ctx, `SELECT type FROM assignments WHERE id = ?`, sub.AssignmentID).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return apierr.NotFound("Assignment not found")
	}
	if err != nil {
		return apierr.Persistence(err)
	}
	if typ != sub.Type {
		return apierr.Validation("This assignment expects a %s submission", typ)
	}

	sub.ID = newID()
	sub.SubmittedAt = s.now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, assignment_id, student_id, type, content, audio_url, transcript, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.AssignmentID, sub.StudentID, sub.Type, sub.Content, sub.AudioURL, sub.Transcript, sub.SubmittedAt,
	)
	if isUniqueViolation(err) {
		return apierr.Validation("Assignment already submitted")
	}
	if err != nil {
		return apierr.Persistence(fmt.Errorf("insert submission: %w", err))
	}

	if err := s.setEvaluation(ctx, tx, sub.ID, sub.Evaluation); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierr.Persistence(fmt.Errorf("commit: %w", err))
	}
	slog.Info("stored evaluated submission", "submission_id", sub.ID, "assignment_id", sub.AssignmentID,
		"type", sub.Type, "score", sub.Evaluation.Score)
	return nil
}

// SetEvaluation attaches an evaluation to a stored submission. It fails if the
// submission is missing or already evaluated.
func (s *Store) SetEvaluation(ctx context.Context, submissionID string, ev *model.Evaluation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Persistence(err)
	}
	defer tx.Rollback()
	if err := s.setEvaluation(ctx, tx, submissionID, ev); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierr.Persistence(err)
	}
	return nil
}

func (s *Store) setEvaluation(ctx context.Context, tx *sql.Tx, submissionID string, ev *model.Evaluation) error {
	strengths, err := json.Marshal(ev.Strengths)
	if err != nil {
		return fmt.Errorf("marshal strengths: %w", err)
	}
	improvements, err := json.Marshal(ev.Improvements)
	if err != nil {
		return fmt.Errorf("marshal improvements: %w", err)
	}
	if ev.EvaluatedAt.IsZero() {
		ev.EvaluatedAt = s.now()
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET score = ?, feedback = ?, strengths = ?, improvements = ?, evaluated_at = ?
		 WHERE id = ? AND evaluated_at IS NULL`,
		ev.Score, ev.Feedback, string(strengths), string(improvements), ev.EvaluatedAt, submissionID,
	)
	if err != nil {
		return apierr.Persistence(fmt.Errorf("set evaluation: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Persistence(err)
	}
	if n == 1 {
		return nil
	}
	ok, err := rowExists(ctx, tx, `SELECT 1 FROM submissions WHERE id = ?`, submissionID)
	if err != nil {
		return apierr.Persistence(err)
	}
	if !ok {
		return apierr.NotFound("Submission not found")
	}
	return apierr.Validation("Submission already evaluated")
}

const submissionColumns = `id, assignment_id, student_id, type, content, audio_url, transcript,
	score, feedback, strengths, improvements, evaluated_at, submitted_at`

func scanSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	var sub model.Submission
	var score sql.NullInt64
	var feedback, strengths, improvements sql.NullString
	var evaluatedAt sql.NullTime
	if err := row.Scan(&sub.ID, &sub.AssignmentID, &sub.StudentID, &sub.Type, &sub.Content, &sub.AudioURL,
		&sub.Transcript, &score, &feedback, &strengths, &improvements, &evaluatedAt, &sub.SubmittedAt); err != nil {
		return nil, err
	}
	if evaluatedAt.Valid {
		ev := &model.Evaluation{
			Score:       int(score.Int64),
			Feedback:    feedback.String,
			EvaluatedAt: evaluatedAt.Time,
		}
		if err := json.Unmarshal([]byte(strengths.String), &ev.Strengths); err != nil {
			return nil, fmt.Errorf("decode strengths: %w", err)
		}
		if err := json.Unmarshal([]byte(improvements.String), &ev.Improvements); err != nil {
			return nil, fmt.Errorf("decode improvements: %w", err)
		}
		sub.Evaluation = ev
	}
	return &sub, nil
}

// GetSubmission returns a submission or a not-found error.
func (s *Store) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Submission not found")
	}
	return sub, err
}

// ListSubmissions returns an assignment's submissions in submission order.
func (s *Store) ListSubmissions(ctx context.Context, assignmentID string) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE assignment_id = ? ORDER BY submitted_at`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// HasSubmitted reports whether a student already submitted an assignment.
func (s *Store) HasSubmitted(ctx context.Context, assignmentID, studentID string) (bool, error) {
	return rowExists(ctx, s.db,
		`SELECT 1 FROM submissions WHERE assignment_id = ? AND student_id = ?`, assignmentID, studentID)
}
