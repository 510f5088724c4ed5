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

const quizColumns = `id, classroom_id, creator_id, title, topic, description, difficulty, published, created_at, updated_at`

// CreateQuiz inserts a quiz and all its questions in one transaction.
// The classroom must exist. Question IDs and positions are assigned here.
func (s *Store) CreateQuiz(ctx context.Context, q *model.Quiz) (string, error) {
	if len(q.Questions) == 0 {
		return "", apierr.Validation("quiz has no questions")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apierr.Persistence(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	ok, err := rowExists(ctx, tx, `SELECT 1 FROM classrooms WHERE id = ?`, q.ClassroomID)
	if err != nil {
		return "", apierr.Persistence(err)
	}
	if !ok {
		return "", apierr.NotFound("Classroom not found")
	}

	q.ID = newID()
	q.CreatedAt = s.now()
	q.UpdatedAt = q.CreatedAt
	q.Published = false
	_, err = tx.ExecContext(ctx,
		`INSERT INTO quizzes (id, classroom_id, creator_id, title, topic, description, difficulty, published, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		q.ID, q.ClassroomID, q.CreatorID, q.Title, q.Topic, q.Description, q.Difficulty, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return "", apierr.Persistence(fmt.Errorf("insert quiz: %w", err))
	}

	for i := range q.Questions {
		qq := &q.Questions[i]
		qq.ID = newID()
		qq.QuizID = q.ID
		qq.Position = i
		opts, err := json.Marshal(qq.Options)
		if err != nil {
			return "", fmt.Errorf("marshal options: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, quiz_id, position, text, options, answer) VALUES (?, ?, ?, ?, ?, ?)`,
			qq.ID, qq.QuizID, qq.Position, qq.Text, string(opts), qq.Answer,
		); err != nil {
			return "", apierr.Persistence(fmt.Errorf("insert question %d: %w", i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return "", apierr.Persistence(fmt.Errorf("commit: %w", err))
	}
	slog.Info("created quiz", "id", q.ID, "classroom_id", q.ClassroomID, "questions", len(q.Questions))
	return q.ID, nil
}

func scanQuiz(row interface{ Scan(...any) error }) (*model.Quiz, error) {
	var q model.Quiz
	if err := row.Scan(&q.ID, &q.ClassroomID, &q.CreatorID, &q.Title, &q.Topic, &q.Description,
		&q.Difficulty, &q.Published, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuiz returns a quiz with its questions in order.
func (s *Store) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	q, err := scanQuiz(s.db.QueryRowContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Quiz not found")
	}
	if err != nil {
		return nil, err
	}
	q.Questions, err = s.listQuestions(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Store) listQuestions(ctx context.Context, qr queryer, quizID string) ([]model.Question, error) {
	rows, err := qr.QueryContext(ctx,
		`SELECT id, quiz_id, position, text, options, answer FROM questions WHERE quiz_id = ? ORDER BY position`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Question
	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *qq)
	}
	return out, rows.Err()
}

func scanQuestion(row interface{ Scan(...any) error }) (*model.Question, error) {
	var q model.Question
	var opts string
	if err := row.Scan(&q.ID, &q.QuizID, &q.Position, &q.Text, &opts, &q.Answer); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return nil, fmt.Errorf("decode options of question %s: %w", q.ID, err)
	}
	return &q, nil
}

// ListQuizzes returns a classroom's quizzes newest first, without questions.
func (s *Store) ListQuizzes(ctx context.Context, classroomID string, publishedOnly bool) ([]model.Quiz, error) {
	query := `SELECT ` + quizColumns + ` FROM quizzes WHERE classroom_id = ?`
	if publishedOnly {
		query += ` AND published = 1`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Quiz{}
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// PublishQuiz sets the published flag. It reports true only when this call
// changed the flag; publishing an already-published quiz is a no-op.
func (s *Store) PublishQuiz(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quizzes SET published = 1, updated_at = ? WHERE id = ? AND published = 0`, s.now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	ok, err := rowExists(ctx, s.db, `SELECT 1 FROM quizzes WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, apierr.NotFound("Quiz not found")
	}
	return false, nil
}

// GetQuestion returns a single question or a not-found error.
func (s *Store) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT id, quiz_id, position, text, options, answer FROM questions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Question not found")
	}
	return q, err
}

// UpdateQuestion replaces a question's text, options and answer.
func (s *Store) UpdateQuestion(ctx context.Context, q *model.Question) error {
	if len(q.Options) < 2 {
		return apierr.Validation("a question needs at least two options")
	}
	if q.Answer < 0 || q.Answer >= len(q.Options) {
		return apierr.Validation("answer must index one of the options")
	}
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE questions SET text = ?, options = ?, answer = ? WHERE id = ?`, q.Text, string(opts), q.Answer, q.ID)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, "Question not found"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE quizzes SET updated_at = ? WHERE id = (SELECT quiz_id FROM questions WHERE id = ?)`, s.now(), q.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteQuiz removes a quiz with its questions and attempts.
func (s *Store) DeleteQuiz(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quizzes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Quiz not found")
}
