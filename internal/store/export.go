package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pavelanni/lyceum/internal/model"
)

// ExportClassroom builds export-ready quiz and assignment results for one classroom.
func (s *Store) ExportClassroom(ctx context.Context, classroomID string) (*model.ClassroomExport, error) {
	c, err := s.GetClassroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	out := &model.ClassroomExport{
		ClassroomID: c.ID,
		Name:        c.Name,
		Code:        c.Code,
		ExportedAt:  s.now(),
		Quizzes:     []model.QuizResult{},
		Assignments: []model.AssignmentResult{},
	}

	quizzes, err := s.ListQuizzes(ctx, classroomID, false)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	for _, q := range quizzes {
		qr, err := s.exportQuiz(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("export quiz %s: %w", q.ID, err)
		}
		out.Quizzes = append(out.Quizzes, *qr)
	}

	assignments, err := s.ListAssignments(ctx, classroomID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	for _, a := range assignments {
		ar, err := s.exportAssignment(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("export assignment %s: %w", a.ID, err)
		}
		out.Assignments = append(out.Assignments, *ar)
	}
	return out, nil
}

func (s *Store) exportQuiz(ctx context.Context, q model.Quiz) (*model.QuizResult, error) {
	qr := &model.QuizResult{
		QuizID:     q.ID,
		Title:      q.Title,
		Difficulty: q.Difficulty,
		Published:  q.Published,
		Attempts:   []model.AttemptResult{},
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE quiz_id = ?`, q.ID).
		Scan(&qr.NumQuestions); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.name, u.email, a.score, a.completed_at
		 FROM quiz_attempts a JOIN users u ON u.id = a.student_id
		 WHERE a.quiz_id = ? AND a.status = ?
		 ORDER BY u.name`, q.ID, model.AttemptCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ar model.AttemptResult
		var completed sql.NullTime
		if err := rows.Scan(&ar.StudentName, &ar.Email, &ar.Score, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			t := completed.Time
			ar.CompletedAt = &t
		}
		qr.Attempts = append(qr.Attempts, ar)
	}
	return qr, rows.Err()
}

func (s *Store) exportAssignment(ctx context.Context, a model.Assignment) (*model.AssignmentResult, error) {
	ar := &model.AssignmentResult{
		AssignmentID: a.ID,
		Title:        a.Title,
		Type:         a.Type,
		Submissions:  []model.SubmissionResult{},
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.name, u.email, s.score, s.feedback, s.submitted_at
		 FROM submissions s JOIN users u ON u.id = s.student_id
		 WHERE s.assignment_id = ?
		 ORDER BY u.name`, a.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sr model.SubmissionResult
		var score sql.NullInt64
		var feedback sql.NullString
		if err := rows.Scan(&sr.StudentName, &sr.Email, &score, &feedback, &sr.SubmittedAt); err != nil {
			return nil, err
		}
		if score.Valid {
			v := int(score.Int64)
			sr.Score = &v
		}
		sr.Feedback = feedback.String
		ar.Submissions = append(ar.Submissions, sr)
	}
	return ar, rows.Err()
}
